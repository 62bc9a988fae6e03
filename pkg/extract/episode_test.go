package extract_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/extract"
	"github.com/evermem/evermem/pkg/memory"
)

func planningCell() *memory.MemCell {
	base := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	return &memory.MemCell{
		EventID:      "cell-a",
		GroupID:      "g1",
		UserIDList:   []string{"u1", "u2"},
		Participants: []string{"u1", "u2"},
		OriginalData: []memory.RawMessage{
			textMsg("u1", "Alice", "let's book the flights", base),
			textMsg("u2", "Bob", "I'll compare hotels tonight", base.Add(time.Minute)),
		},
		Timestamp: base.Add(time.Minute),
		Type:      memory.RawDataConversation,
	}
}

const episodeOK = `{"title": "Alice and Bob plan their trip bookings", "summary": "Flights and hotels were split up.", "content": "Alice offered to book the flights while Bob agreed to compare hotels in the evening."}`

func TestEpisodePersonal(t *testing.T) {
	gen := &fakeGen{reply: repliesInOrder(episodeOK)}
	x := extract.NewEpisodeExtractor(testConfig(gen))

	ep, err := x.ExtractOne(context.Background(), planningCell(), "u1", "Alice", "")
	if err != nil {
		t.Fatalf("ExtractOne: %v", err)
	}
	if ep.UserID != "u1" || ep.IsGroup() {
		t.Fatalf("expected personal episode, got user %q", ep.UserID)
	}
	if ep.Subject != "Alice and Bob plan their trip bookings" {
		t.Errorf("subject = %q", ep.Subject)
	}
	if ep.Summary != "Flights and hotels were split up." {
		t.Errorf("summary = %q", ep.Summary)
	}
	if ep.EventID() != "cell-a" {
		t.Errorf("event id = %q, want cell-a", ep.EventID())
	}
	if !ep.Timestamp.Equal(time.Date(2024, 3, 10, 14, 1, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", ep.Timestamp)
	}
	if len(ep.Extend.Embedding) == 0 {
		t.Error("episode content should be embedded")
	}

	prompt := gen.prompts()[0]
	for _, want := range []string{"Alice", "book the flights", "March 10, 2024(Sunday) at 02:00 PM"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEpisodeGroupPointOfView(t *testing.T) {
	gen := &fakeGen{reply: repliesInOrder(episodeOK)}
	x := extract.NewEpisodeExtractor(testConfig(gen))

	ep, err := x.ExtractOne(context.Background(), planningCell(), "", "", "")
	if err != nil {
		t.Fatalf("ExtractOne: %v", err)
	}
	if !ep.IsGroup() {
		t.Fatalf("expected group episode, got user %q", ep.UserID)
	}
}

func TestEpisodeSummaryFallsBackToContent(t *testing.T) {
	content := strings.Repeat("a detailed narrative ", 20)
	gen := &fakeGen{reply: repliesInOrder(
		`{"title": "A long story", "content": "` + content + `"}`,
	)}
	x := extract.NewEpisodeExtractor(testConfig(gen))

	ep, err := x.ExtractOne(context.Background(), planningCell(), "", "", "")
	if err != nil {
		t.Fatalf("ExtractOne: %v", err)
	}
	runes := []rune(ep.Summary)
	if len(runes) != 200 {
		t.Fatalf("summary length = %d runes, want 200", len(runes))
	}
	if !strings.HasPrefix(content, ep.Summary) {
		t.Error("summary should be a prefix of the content")
	}
}

func TestEpisodeRequiresTitleAndContent(t *testing.T) {
	gen := &fakeGen{reply: func(int, string) (string, error) {
		return `{"summary": "no title or content here"}`, nil
	}}
	x := extract.NewEpisodeExtractor(testConfig(gen))

	_, err := x.ExtractOne(context.Background(), planningCell(), "", "", "")
	if err == nil {
		t.Fatal("expected failure without title and content")
	}
	if !errcode.IsCode(err, errcode.LLMRetryExhausted) {
		t.Fatalf("want LLMRetryExhausted, got %v", err)
	}
	if gen.callCount() != 5 {
		t.Fatalf("expected 5 attempts, got %d", gen.callCount())
	}
}

func TestEpisodeCustomInstructions(t *testing.T) {
	gen := &fakeGen{reply: repliesInOrder(episodeOK)}
	x := extract.NewEpisodeExtractor(testConfig(gen))

	if _, err := x.ExtractOne(context.Background(), planningCell(), "", "", "Write in French."); err != nil {
		t.Fatalf("ExtractOne: %v", err)
	}
	if !strings.Contains(gen.prompts()[0], "Write in French.") {
		t.Error("custom instructions missing from prompt")
	}
}

func TestEpisodeBatchExtract(t *testing.T) {
	gen := &fakeGen{reply: func(int, string) (string, error) {
		return episodeOK, nil
	}}
	x := extract.NewEpisodeExtractor(testConfig(gen))

	second := planningCell()
	second.EventID = "cell-b"
	batch := extract.Batch{
		GroupID:  "g1",
		Cells:    []*memory.MemCell{planningCell(), second},
		Speakers: map[string]string{"u1": "Alice", "u2": "Bob"},
	}
	mems, err := x.Extract(context.Background(), batch)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(mems) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(mems))
	}
	for _, m := range mems {
		if m.Kind != memory.KindEpisode || m.Episode == nil {
			t.Fatalf("bad memory: %+v", m)
		}
	}
	if mems[1].Episode.EventID() != "cell-b" {
		t.Errorf("second episode event id = %q", mems[1].Episode.EventID())
	}
}
