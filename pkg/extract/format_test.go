package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/evermem/evermem/pkg/memory"
)

func TestHumanGap(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30 seconds"},
		{9 * time.Minute, "9 minutes"},
		{90 * time.Minute, "1 hours"},
		{5 * time.Hour, "5 hours"},
		{26 * time.Hour, "1 days"},
		{72 * time.Hour, "3 days"},
		{-45 * time.Second, "45 seconds"},
	}
	for _, c := range cases {
		if got := humanGap(c.d); got != c.want {
			t.Errorf("humanGap(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestDialogueLines(t *testing.T) {
	ts := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	msgs := []memory.RawMessage{
		{SpeakerID: "u1", SpeakerName: "alice", Content: "hello", Timestamp: ts, Type: memory.MsgText},
		{SpeakerID: "u2", Content: "hi", Timestamp: ts.Add(time.Minute), Type: memory.MsgText},
	}
	got := dialogueLines(msgs, time.UTC)
	want := "[2024-03-10T12:00:00Z] alice: hello\n[2024-03-10T12:01:00Z] u2: hi"
	if got != want {
		t.Fatalf("dialogueLines = %q, want %q", got, want)
	}
}

func TestAnnotatedConversation(t *testing.T) {
	ts := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cells := []*memory.MemCell{
		{EventID: "cell-a", OriginalData: []memory.RawMessage{
			{SpeakerID: "u1", Content: "first", Timestamp: ts, Type: memory.MsgText},
		}},
		nil,
		{EventID: "cell-b", OriginalData: []memory.RawMessage{
			{SpeakerID: "u2", Content: "second", Timestamp: ts.Add(time.Hour), Type: memory.MsgText},
		}},
	}
	got := annotatedConversation(cells, time.UTC)
	for _, want := range []string{"[MEMCELL_ID: cell-a]", "[MEMCELL_ID: cell-b]", "first", "second"} {
		if !strings.Contains(got, want) {
			t.Errorf("annotatedConversation missing %q in:\n%s", want, got)
		}
	}
	if strings.Index(got, "cell-a") > strings.Index(got, "cell-b") {
		t.Error("cells out of order")
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2024, 3, 14, 23, 55, 0, 0, time.UTC)
	b := time.Date(2024, 3, 15, 0, 4, 0, 0, time.UTC)
	if sameDay(a, b, time.UTC) {
		t.Error("23:55 and next-day 00:04 should differ in UTC")
	}
	// In a zone eight hours ahead both instants fall on the 15th.
	cst := time.FixedZone("UTC+8", 8*3600)
	if !sameDay(a, b, cst) {
		t.Error("both instants are 2024-03-15 in UTC+8")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("hello", 10); got != "hello" {
		t.Errorf("short string changed: %q", got)
	}
	if got := truncateRunes("hello", 3); got != "hel" {
		t.Errorf("truncate = %q, want %q", got, "hel")
	}
	if got := truncateRunes("日本語のテキスト", 3); got != "日本語" {
		t.Errorf("multibyte truncate = %q, want %q", got, "日本語")
	}
	if got := truncateRunes("x", 0); got != "" {
		t.Errorf("zero limit = %q, want empty", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	tz := time.FixedZone("UTC+8", 8*3600)
	ref := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   any
		want time.Time
	}{
		{"time value", ref, ref},
		{"rfc3339", "2024-03-10T06:00:00Z", ref},
		{"rfc3339 offset", "2024-03-10T14:00:00+08:00", ref},
		{"naive datetime", "2024-03-10 14:00:00", ref},
		{"naive t separator", "2024-03-10T14:00:00", ref},
		{"unix seconds", int64(ref.Unix()), ref},
		{"unix millis", ref.UnixMilli(), ref},
		{"unix float", float64(ref.Unix()), ref},
		{"numeric string", "1710050400", time.Unix(1710050400, 0)},
	}
	for _, c := range cases {
		got, err := ParseTimestamp(c.in, tz)
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}

	for _, bad := range []any{"not a time", "", nil, struct{}{}} {
		if _, err := ParseTimestamp(bad, tz); err == nil {
			t.Errorf("ParseTimestamp(%v) should fail", bad)
		}
	}
}

func TestSpeakerLines(t *testing.T) {
	got := speakerLines(map[string]string{"u2": "Bob", "u1": "Alice", "u3": ""})
	want := "u1: Alice\nu2: Bob\nu3: u3"
	if got != want {
		t.Fatalf("speakerLines = %q, want %q", got, want)
	}
}
