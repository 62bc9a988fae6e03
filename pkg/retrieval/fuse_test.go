package retrieval

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/evermem/evermem/pkg/memory"
)

func sd(eventID string, score float64) scoredDoc {
	return scoredDoc{doc: memory.Doc{ID: eventID, EventID: eventID}, score: score}
}

func fusedIDs(list []scoredDoc) []string {
	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.doc.EventID
	}
	return ids
}

func TestRRFFuseConsensusWins(t *testing.T) {
	listA := []scoredDoc{sd("e1", 0.95), sd("e2", 0.40)}
	listB := []scoredDoc{sd("e2", 11.0), sd("e3", 7.5)}

	fused := rrfFuse([][]scoredDoc{listA, listB}, 0)

	if got, want := fusedIDs(fused), []string{"e2", "e1", "e3"}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	want := 1.0/62 + 1.0/61
	if got := fused[0].score; math.Abs(got-want) > 1e-12 {
		t.Fatalf("consensus score = %v, want %v", got, want)
	}
}

func TestRRFFuseDisjointListsInterleave(t *testing.T) {
	listA := []scoredDoc{sd("a1", 3), sd("a2", 2), sd("a3", 1)}
	listB := []scoredDoc{sd("b1", 9), sd("b2", 8), sd("b3", 7)}

	fused := rrfFuse([][]scoredDoc{listA, listB}, 0)

	// Equal ranks tie exactly, and the event id settles each tie.
	want := []string{"a1", "b1", "a2", "b2", "a3", "b3"}
	if got := fusedIDs(fused); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestRRFFuseIdenticalListsPreserveOrder(t *testing.T) {
	list := []scoredDoc{sd("x", 5), sd("y", 4), sd("z", 3)}

	fused := rrfFuse([][]scoredDoc{list, list}, 0)
	if got, want := fusedIDs(fused), []string{"x", "y", "z"}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if got, want := fused[0].score, 2.0/61; math.Abs(got-want) > 1e-12 {
		t.Fatalf("top score = %v, want %v", got, want)
	}

	fused = rrfFuse([][]scoredDoc{list, list}, 2)
	if got, want := fusedIDs(fused), []string{"x", "y"}; !slices.Equal(got, want) {
		t.Fatalf("truncated order = %v, want %v", got, want)
	}
}

func TestDedupByEventKeepsBestRank(t *testing.T) {
	entry := func(id, eventID string) scoredDoc {
		return scoredDoc{doc: memory.Doc{ID: id, EventID: eventID}}
	}
	ranked := []scoredDoc{
		entry("ev#0", "ev"),
		entry("other", "other"),
		entry("ev#1", "ev"),
	}

	out := dedupByEvent(ranked)
	if got, want := fusedIDs(out), []string{"ev", "other"}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if out[0].doc.ID != "ev#0" {
		t.Fatalf("kept entry = %q, want the best-ranked ev#0", out[0].doc.ID)
	}
}

func TestTopDocsSortsByScoreAndTruncates(t *testing.T) {
	ranked := []scoredDoc{sd("low", 0.2), sd("high", 0.9), sd("mid", 0.5)}

	out := topDocs(ranked, 2)
	if got, want := fusedIDs(out), []string{"high", "mid"}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	// The input keeps its own order.
	if got, want := fusedIDs(ranked), []string{"low", "high", "mid"}; !slices.Equal(got, want) {
		t.Fatalf("input mutated: %v", got)
	}
}

func TestFilterValidAt(t *testing.T) {
	now := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	at := func(t time.Time) *time.Time { return &t }

	memories := []memory.Candidate{
		{EventID: "covered", StartTime: at(now.AddDate(0, 0, -1)), EndTime: at(now.AddDate(0, 0, 1))},
		{EventID: "expired", StartTime: at(now.AddDate(0, -2, 0)), EndTime: at(now.AddDate(0, -1, 0))},
		{EventID: "half-open", StartTime: at(now.AddDate(0, -2, 0))},
		{EventID: "unbounded"},
	}

	out := filterValidAt(memories, now)
	want := []string{"covered", "half-open", "unbounded"}
	got := make([]string, len(out))
	for i, c := range out {
		got[i] = c.EventID
	}
	if !slices.Equal(got, want) {
		t.Fatalf("kept = %v, want %v", got, want)
	}
}
