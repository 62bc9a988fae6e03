package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/evermem/evermem/pkg/kv"
	"github.com/evermem/evermem/pkg/lexical"
	"github.com/evermem/evermem/pkg/memory"
)

func TestEpisodeDocIDs(t *testing.T) {
	group := &memory.Episode{GroupID: "g1", Subject: "planning", Episode: "The team planned.", MemCellEventIDs: []string{"e1"}}
	personal := &memory.Episode{UserID: "alice", GroupID: "g1", Subject: "alice plans", Episode: "Alice planned.", MemCellEventIDs: []string{"e1"}}

	if got := memory.EpisodeDoc(group); got.ID != "e1" || got.Kind != memory.KindEpisode {
		t.Fatalf("group doc = %+v, want bare event id", got)
	}
	got := memory.EpisodeDoc(personal)
	if got.ID != "e1#alice" || got.UserID != "alice" {
		t.Fatalf("personal doc = %+v, want user-suffixed id", got)
	}
	if got.Text != "Alice planned." || got.Subject != "alice plans" {
		t.Fatalf("personal doc text/subject = %q/%q", got.Text, got.Subject)
	}
}

func TestFactDocs(t *testing.T) {
	cell := &memory.MemCell{
		EventID:    "e1",
		GroupID:    "g1",
		UserIDList: []string{"alice"},
		Timestamp:  time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
		EventLog: &memory.EventLog{
			AtomicFacts: []string{"Alice shipped v2.", "Bob reviewed it."},
		},
	}
	docs := memory.FactDocs(cell)
	if len(docs) != 2 {
		t.Fatalf("FactDocs = %d docs, want 2", len(docs))
	}
	if docs[0].ID != "e1#0" || docs[1].ID != "e1#1" {
		t.Fatalf("fact ids = %s, %s", docs[0].ID, docs[1].ID)
	}
	if docs[0].UserID != "alice" || docs[0].Kind != memory.KindEventLog {
		t.Fatalf("fact doc = %+v", docs[0])
	}

	// Multi-user narratives keep facts group-scoped.
	cell.UserIDList = []string{"alice", "bob"}
	if docs := memory.FactDocs(cell); docs[0].UserID != "" {
		t.Fatalf("multi-user fact user = %q, want empty", docs[0].UserID)
	}

	if docs := memory.FactDocs(&memory.MemCell{EventID: "e2"}); docs != nil {
		t.Fatalf("FactDocs without event log = %+v, want nil", docs)
	}
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(nil)
	repos := memory.NewLocalRepos(store)

	ts := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	cell := &memory.MemCell{
		EventID:    "e1",
		GroupID:    "g1",
		UserIDList: []string{"alice"},
		Timestamp:  ts,
		EventLog: &memory.EventLog{
			AtomicFacts:    []string{"Alice shipped the payment gateway."},
			FactEmbeddings: [][]float32{{1, 0}},
		},
	}
	if err := repos.MemCells.Put(ctx, cell); err != nil {
		t.Fatalf("Put cell: %v", err)
	}
	ep := &memory.Episode{
		UserID: "alice", GroupID: "g1",
		Subject: "gateway launch", Episode: "Alice shipped the payment gateway today.",
		Timestamp: ts, MemCellEventIDs: []string{"e1"},
		Extend: memory.Extend{Embedding: []float32{0, 1}},
	}
	if err := repos.Episodes.Put(ctx, ep); err != nil {
		t.Fatalf("Put episode: %v", err)
	}
	f := &memory.Foresight{EventID: "f1", UserID: "alice", Content: "gateway demo on Friday", Timestamp: ts}
	if err := repos.Foresights.Put(ctx, f); err != nil {
		t.Fatalf("Put foresight: %v", err)
	}

	// A fresh bundle over the same store starts with empty indexes.
	reopened := memory.NewLocalRepos(store)
	n, err := memory.Reindex(ctx, store, reopened)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n != 3 {
		t.Fatalf("Reindex wrote %d entries, want 3", n)
	}

	hits, err := reopened.EpisodeIndex.Lexical.Search(ctx, memory.LexicalQuery{
		Tokens: lexical.Tokenize("payment gateway"),
	})
	if err != nil {
		t.Fatalf("episode search: %v", err)
	}
	if len(hits) != 1 || hits[0].Doc.ID != "e1#alice" {
		t.Fatalf("episode hits = %+v, want e1#alice", hits)
	}

	dense, err := reopened.EventLogIndex.Dense.Search(ctx, memory.DenseQuery{Vector: []float32{1, 0}})
	if err != nil {
		t.Fatalf("fact dense search: %v", err)
	}
	if len(dense) != 1 || dense[0].Doc.ID != "e1#0" {
		t.Fatalf("fact dense hits = %+v, want e1#0", dense)
	}

	fhits, err := reopened.ForesightIndex.Lexical.Search(ctx, memory.LexicalQuery{
		Tokens: lexical.Tokenize("demo Friday"),
	})
	if err != nil {
		t.Fatalf("foresight search: %v", err)
	}
	if len(fhits) != 1 || fhits[0].Doc.ID != "f1" {
		t.Fatalf("foresight hits = %+v, want f1", fhits)
	}

	// The foresight carried no embedding, so its dense index stays empty.
	if hits, _ := reopened.ForesightIndex.Dense.Search(ctx, memory.DenseQuery{Vector: []float32{1, 0}}); len(hits) != 0 {
		t.Fatalf("foresight dense hits = %+v, want none", hits)
	}
}
