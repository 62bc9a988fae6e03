package memory

import (
	"context"
	"sync"
	"time"

	"github.com/evermem/evermem/pkg/vecstore"
)

// LocalDense implements [DenseStore] over a [vecstore.Index], keeping the
// document sidecar in memory and applying query filters after the vector
// search.
type LocalDense struct {
	mu    sync.RWMutex
	index vecstore.Index
	docs  map[string]Doc
}

// NewLocalDense wraps an existing vector index.
func NewLocalDense(index vecstore.Index) *LocalDense {
	return &LocalDense{index: index, docs: make(map[string]Doc)}
}

var _ DenseStore = (*LocalDense)(nil)

func (s *LocalDense) Index(ctx context.Context, doc Doc, vector []float32) error {
	if err := s.index.Insert(doc.ID, vector); err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[doc.ID] = doc
	s.mu.Unlock()
	return nil
}

func (s *LocalDense) Search(ctx context.Context, q DenseQuery) ([]DenseHit, error) {
	// Attribute filters are not pushed into the vector index locally, so
	// search everything and filter afterwards. Matches arrive best-first,
	// which keeps the early break at Limit correct.
	matches, err := s.index.Search(q.Vector, s.index.Len())
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []DenseHit
	for _, m := range matches {
		doc, ok := s.docs[m.ID]
		if !ok {
			continue
		}
		score := float64(m.Similarity())
		if q.Radius > 0 && score < q.Radius {
			continue
		}
		if !matchDoc(doc, q.UserID, q.GroupID, q.StartTime, q.EndTime, q.CurrentTime) {
			continue
		}
		hits = append(hits, DenseHit{Doc: doc, Score: score})
		if q.Limit > 0 && len(hits) >= q.Limit {
			break
		}
	}
	return hits, nil
}

func (s *LocalDense) Delete(ctx context.Context, id string) error {
	if err := s.index.Delete(id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	return nil
}

// matchDoc applies the attribute filters shared by dense and lexical
// search. Time bounds apply to the document timestamp; the validity window
// check runs only when the query carries a current time and the document
// has both bounds.
func matchDoc(doc Doc, userID, groupID string, start, end, current *time.Time) bool {
	if userID != "" && doc.UserID != userID {
		return false
	}
	if groupID != "" && doc.GroupID != groupID {
		return false
	}
	if start != nil && doc.Timestamp.Before(*start) {
		return false
	}
	if end != nil && doc.Timestamp.After(*end) {
		return false
	}
	if current != nil && doc.StartTime != nil && doc.EndTime != nil {
		if current.Before(*doc.StartTime) || current.After(*doc.EndTime) {
			return false
		}
	}
	return true
}
