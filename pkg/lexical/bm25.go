// Package lexical provides tokenization and an in-memory BM25 index for
// keyword retrieval over memory records.
//
// The memory repositories keep one [Index] per collection (episode texts,
// atomic facts, foresight contents) as the lexical half of hybrid
// retrieval; the dense half lives in [vecstore]. Documents are tokenized
// with mixed CJK/English logic, so Chinese chat text and English text
// rank equally well.
package lexical

import (
	"math"
	"sort"
	"sync"
)

// BM25 parameters. k1 controls term-frequency saturation, b controls
// document-length normalization.
const (
	defaultK1 = 1.2
	defaultB  = 0.75
)

// Hit is a single result from a lexical search.
type Hit struct {
	// ID is the identifier of the matched document.
	ID string

	// Score is the BM25 relevance score. Higher is more relevant.
	Score float64
}

// Index is an in-memory inverted index scored with BM25. Unlike a
// fit-once encoder, documents can be added and removed at any time;
// document frequencies and the average length are maintained
// incrementally and IDF is computed at query time.
//
// It is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	k1, b    float64
	postings map[string]map[string]int // term -> doc ID -> term frequency
	docLen   map[string]int            // doc ID -> token count
	totalLen int
}

// NewIndex creates an empty BM25 index with the default parameters.
func NewIndex() *Index {
	return &Index{
		k1:       defaultK1,
		b:        defaultB,
		postings: make(map[string]map[string]int),
		docLen:   make(map[string]int),
	}
}

// Add indexes a document, replacing any previous document with the same ID.
func (x *Index) Add(id, text string) {
	tokens := Tokenize(text)

	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(id)

	x.docLen[id] = len(tokens)
	x.totalLen += len(tokens)
	for _, tok := range tokens {
		m := x.postings[tok]
		if m == nil {
			m = make(map[string]int)
			x.postings[tok] = m
		}
		m[id]++
	}
}

// Delete removes a document by ID. No-op if the ID is not indexed.
func (x *Index) Delete(id string) {
	x.mu.Lock()
	x.removeLocked(id)
	x.mu.Unlock()
}

func (x *Index) removeLocked(id string) {
	n, ok := x.docLen[id]
	if !ok {
		return
	}
	x.totalLen -= n
	delete(x.docLen, id)
	for term, m := range x.postings {
		if _, ok := m[id]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(x.postings, term)
			}
		}
	}
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docLen)
}

// Search tokenizes the query and returns up to size documents ranked by
// BM25 score descending. Ties break by ID ascending for determinism.
func (x *Index) Search(query string, size int) []Hit {
	return x.SearchTokens(Tokenize(query), size)
}

// SearchTokens ranks documents against pre-tokenized query terms. Callers
// that already hold tokens, such as repositories serving keyword queries,
// use this to skip a second tokenization pass.
func (x *Index) SearchTokens(tokens []string, size int) []Hit {
	if len(tokens) == 0 || size <= 0 {
		return nil
	}
	unique := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		unique[tok] = true
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.docLen)
	if n == 0 {
		return nil
	}
	avgLen := float64(x.totalLen) / float64(n)
	if avgLen == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for term := range unique {
		m := x.postings[term]
		if len(m) == 0 {
			continue
		}
		df := float64(len(m))
		idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1)
		for id, tf := range m {
			num := float64(tf) * (x.k1 + 1)
			den := float64(tf) + x.k1*(1-x.b+x.b*float64(x.docLen[id])/avgLen)
			scores[id] += idf * num / den
		}
	}
	if len(scores) == 0 {
		return nil
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > size {
		hits = hits[:size]
	}
	return hits
}
