package retrieval

import (
	"sort"
	"time"

	"github.com/evermem/evermem/pkg/memory"
)

// rrfK is the standard reciprocal rank fusion constant. Larger values
// flatten the weight difference between adjacent ranks.
const rrfK = 60

// scoredDoc is one ranked hit, stripped of which branch produced it.
type scoredDoc struct {
	doc   memory.Doc
	score float64
}

func docsFromDense(hits []memory.DenseHit) []scoredDoc {
	docs := make([]scoredDoc, len(hits))
	for i, h := range hits {
		docs[i] = scoredDoc{doc: h.Doc, score: h.Score}
	}
	return docs
}

func docsFromLexical(hits []memory.LexicalHit) []scoredDoc {
	docs := make([]scoredDoc, len(hits))
	for i, h := range hits {
		docs[i] = scoredDoc{doc: h.Doc, score: h.Score}
	}
	return docs
}

// dedupByEvent collapses fan-out index entries ("eventID#i") to the best
// ranked one per event. Input order is rank order and is preserved, so the
// fused rank of an event is the rank of its best entry.
func dedupByEvent(ranked []scoredDoc) []scoredDoc {
	if len(ranked) == 0 {
		return ranked
	}
	seen := make(map[string]bool, len(ranked))
	out := ranked[:0:0]
	for _, sd := range ranked {
		if seen[sd.doc.EventID] {
			continue
		}
		seen[sd.doc.EventID] = true
		out = append(out, sd)
	}
	return out
}

// rrfFuse merges ranked lists with reciprocal rank fusion: every event
// scores the sum of 1/(rrfK+rank+1) over the lists it appears in. Ties
// break on event id so fusion is deterministic.
func rrfFuse(lists [][]scoredDoc, topK int) []scoredDoc {
	type entry struct {
		doc   memory.Doc
		score float64
	}
	byEvent := make(map[string]*entry)
	for _, ranked := range lists {
		for rank, sd := range ranked {
			contribution := 1.0 / float64(rrfK+rank+1)
			if e, ok := byEvent[sd.doc.EventID]; ok {
				e.score += contribution
				continue
			}
			byEvent[sd.doc.EventID] = &entry{doc: sd.doc, score: contribution}
		}
	}

	fused := make([]scoredDoc, 0, len(byEvent))
	for _, e := range byEvent {
		fused = append(fused, scoredDoc{doc: e.doc, score: e.score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].doc.EventID < fused[j].doc.EventID
	})
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// topDocs re-sorts a single-branch list by its native score and truncates.
// The branch score is kept so callers see similarities or BM25 weights.
func topDocs(ranked []scoredDoc, topK int) []scoredDoc {
	out := make([]scoredDoc, len(ranked))
	copy(out, ranked)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// toCandidates converts index docs to the uniform result record. Whatever
// text was indexed lands in Episode; event-log hits also expose it as an
// atomic fact.
func toCandidates(docs []scoredDoc) []memory.Candidate {
	memories := make([]memory.Candidate, 0, len(docs))
	for _, sd := range docs {
		c := memory.Candidate{
			Score:     sd.score,
			EventID:   sd.doc.EventID,
			UserID:    sd.doc.UserID,
			GroupID:   sd.doc.GroupID,
			Timestamp: sd.doc.Timestamp,
			Subject:   sd.doc.Subject,
			Episode:   sd.doc.Text,
			Summary:   sd.doc.Summary,
			StartTime: sd.doc.StartTime,
			EndTime:   sd.doc.EndTime,
		}
		if sd.doc.Kind == memory.KindEventLog && sd.doc.Text != "" {
			c.AtomicFact = []string{sd.doc.Text}
		}
		memories = append(memories, c)
	}
	return memories
}

// filterValidAt drops candidates whose validity window exists and does not
// cover now. Candidates without a full window always pass.
func filterValidAt(memories []memory.Candidate, now time.Time) []memory.Candidate {
	out := make([]memory.Candidate, 0, len(memories))
	for _, c := range memories {
		if c.StartTime != nil && c.EndTime != nil {
			if now.Before(*c.StartTime) || now.After(*c.EndTime) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
