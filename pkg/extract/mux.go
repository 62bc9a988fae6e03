package extract

import (
	"context"
	"fmt"

	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/trie"
)

// DefaultMux is the default extractor multiplexer.
var DefaultMux = NewMux()

// Handle registers an extractor for its kind to the default mux.
func Handle(x Extractor) error {
	return DefaultMux.Handle(x)
}

// Get returns the extractor registered for the given kind from the default mux.
func Get(kind memory.Kind) (Extractor, error) {
	return DefaultMux.Get(kind)
}

// Extract runs the extractor registered for the given kind in the default mux.
func Extract(ctx context.Context, kind memory.Kind, batch Batch) ([]memory.Memory, error) {
	return DefaultMux.Extract(ctx, kind, batch)
}

// Mux routes extraction requests to registered [Extractor] implementations
// by memory kind:
//
//	m := extract.NewMux()
//	m.Handle(extract.NewEpisodeExtractor(cfg))
//	mems, err := m.Extract(ctx, memory.KindEpisode, batch)
type Mux struct {
	mux *trie.Trie[Extractor]
}

// NewMux creates a new extractor multiplexer.
func NewMux() *Mux {
	return &Mux{
		mux: trie.New[Extractor](),
	}
}

// Handle registers an extractor under its kind.
// Returns an error if an extractor is already registered for the kind.
func (m *Mux) Handle(x Extractor) error {
	kind := x.Kind()
	return m.mux.Set(string(kind), func(ptr *Extractor, existed bool) error {
		if existed {
			return fmt.Errorf("extract: extractor already registered for %s", kind)
		}
		*ptr = x
		return nil
	})
}

// Get returns the extractor registered for the given kind.
func (m *Mux) Get(kind memory.Kind) (Extractor, error) {
	ptr, ok := m.mux.Get(string(kind))
	if !ok {
		return nil, fmt.Errorf("extract: extractor not found for %s", kind)
	}
	x := *ptr
	if x == nil {
		return nil, fmt.Errorf("extract: extractor not found for %s", kind)
	}
	return x, nil
}

// Extract runs the extractor registered for the given kind.
func (m *Mux) Extract(ctx context.Context, kind memory.Kind, batch Batch) ([]memory.Memory, error) {
	x, err := m.Get(kind)
	if err != nil {
		return nil, err
	}
	return x.Extract(ctx, batch)
}

// Register builds the standard derived-kind extractors from cfg and
// registers them on m: episodes, event logs, user profiles and group
// profiles.
func Register(m *Mux, cfg Config) error {
	for _, x := range []Extractor{
		NewEpisodeExtractor(cfg),
		NewEventLogExtractor(cfg),
		NewUserProfileExtractor(cfg),
		NewGroupProfileExtractor(cfg),
	} {
		if err := m.Handle(x); err != nil {
			return err
		}
	}
	return nil
}
