package memory

import (
	"context"
	"sync"

	"github.com/evermem/evermem/pkg/lexical"
)

// LocalLexical implements [LexicalStore] over an in-process BM25 index,
// keeping the document sidecar in memory and applying query filters after
// the keyword search.
type LocalLexical struct {
	mu    sync.RWMutex
	index *lexical.Index
	docs  map[string]Doc
}

// NewLocalLexical builds an empty lexical store.
func NewLocalLexical() *LocalLexical {
	return &LocalLexical{index: lexical.NewIndex(), docs: make(map[string]Doc)}
}

var _ LexicalStore = (*LocalLexical)(nil)

func (s *LocalLexical) Index(ctx context.Context, doc Doc) error {
	s.mu.Lock()
	s.docs[doc.ID] = doc
	s.mu.Unlock()
	s.index.Add(doc.ID, doc.Text)
	return nil
}

func (s *LocalLexical) Search(ctx context.Context, q LexicalQuery) ([]LexicalHit, error) {
	// Rank everything, then filter; From/Size paginate the filtered list.
	raw := s.index.SearchTokens(q.Tokens, s.index.Len())

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []LexicalHit
	for _, h := range raw {
		doc, ok := s.docs[h.ID]
		if !ok {
			continue
		}
		if !matchDoc(doc, q.UserID, q.GroupID, q.StartTime, q.EndTime, q.CurrentTime) {
			continue
		}
		hits = append(hits, LexicalHit{Doc: doc, Score: h.Score})
	}
	if q.From > 0 {
		if q.From >= len(hits) {
			return nil, nil
		}
		hits = hits[q.From:]
	}
	if q.Size > 0 && len(hits) > q.Size {
		hits = hits[:q.Size]
	}
	return hits, nil
}

func (s *LocalLexical) Delete(ctx context.Context, id string) error {
	s.index.Delete(id)
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	return nil
}
