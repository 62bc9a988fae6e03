package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/evermem/evermem/pkg/memory"
)

// HumanTimeLayout renders timestamps the way prompts and event logs expect
// them, e.g. "March 10, 2024(Sunday) at 02:00 PM".
const HumanTimeLayout = "January 2, 2006(Monday) at 03:04 PM"

// dialogueLines renders messages one per line as
//
//	[2024-03-10T12:00:00+08:00] alice: hello
//
// which is the dialogue form boundary detection reasons over.
func dialogueLines(msgs []memory.RawMessage, tz *time.Location) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte('[')
		b.WriteString(m.Timestamp.In(tz).Format(time.RFC3339))
		b.WriteString("] ")
		b.WriteString(speakerOf(m))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// conversationJSON renders messages as one JSON object per line, the form
// the episode prompts consume.
func conversationJSON(msgs []memory.RawMessage, tz *time.Location) string {
	type line struct {
		Speaker   string `json:"speaker"`
		Content   string `json:"content"`
		Timestamp string `json:"timestamp"`
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		raw, err := json.Marshal(line{
			Speaker:   speakerOf(m),
			Content:   m.Content,
			Timestamp: m.Timestamp.In(tz).Format(time.RFC3339),
		})
		if err != nil {
			continue
		}
		b.Write(raw)
	}
	return b.String()
}

// annotatedConversation renders a batch of cells as one combined dialogue
// where each cell's messages sit under a MEMCELL_ID header. Profile prompts
// cite these ids as evidence.
func annotatedConversation(cells []*memory.MemCell, tz *time.Location) string {
	var b strings.Builder
	for _, c := range cells {
		if c == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[MEMCELL_ID: ")
		b.WriteString(c.EventID)
		b.WriteString("]\n")
		b.WriteString(dialogueLines(c.OriginalData, tz))
	}
	return b.String()
}

// speakerLines renders an id-to-name map one "id: name" per line, sorted by
// id so prompts are deterministic.
func speakerLines(speakers map[string]string) string {
	ids := make([]string, 0, len(speakers))
	for id := range speakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(id)
		b.WriteString(": ")
		name := speakers[id]
		if name == "" {
			name = id
		}
		b.WriteString(name)
	}
	return b.String()
}

func speakerOf(m memory.RawMessage) string {
	if m.SpeakerName != "" {
		return m.SpeakerName
	}
	return m.SpeakerID
}

// humanGap buckets a duration into the coarse unit boundary detection
// reasons about: seconds under a minute, minutes under an hour, hours under
// a day, days beyond.
func humanGap(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return fmt.Sprintf("%d days", int(d.Hours()/24))
}

// sameDay reports whether a and b fall on the same calendar day in tz.
func sameDay(a, b time.Time, tz *time.Location) bool {
	ay, am, ad := a.In(tz).Date()
	by, bm, bd := b.In(tz).Date()
	return ay == by && am == bm && ad == bd
}

// truncateRunes cuts s to at most n runes. Truncation is rune-aware so
// multi-byte text is never split mid-character.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ParseTimestamp converts the loosely typed timestamps found in ingest
// payloads into a time.Time: time values pass through, numbers are unix
// epochs (milliseconds when the magnitude says so), and strings are tried
// against the common ISO layouts before falling back to a numeric epoch.
// Layouts without a zone are interpreted in tz.
func ParseTimestamp(v any, tz *time.Location) (time.Time, error) {
	if tz == nil {
		tz = time.UTC
	}
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("extract: nil timestamp")
		}
		return *t, nil
	case int:
		return fromEpoch(float64(t), tz), nil
	case int64:
		return fromEpoch(float64(t), tz), nil
	case float64:
		return fromEpoch(t, tz), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("extract: bad numeric timestamp %q", t.String())
		}
		return fromEpoch(f, tz), nil
	case string:
		return parseTimeString(t, tz)
	}
	return time.Time{}, fmt.Errorf("extract: unsupported timestamp type %T", v)
}

func parseTimeString(s string, tz *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("extract: empty timestamp")
	}
	if out, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return out, nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if out, err := time.ParseInLocation(layout, s, tz); err == nil {
			return out, nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f, tz), nil
	}
	return time.Time{}, fmt.Errorf("extract: unparseable timestamp %q", s)
}

// fromEpoch converts a unix epoch to a time in tz. Magnitudes of 1e12 and
// above are millisecond epochs; everything below is seconds.
func fromEpoch(f float64, tz *time.Location) time.Time {
	if math.Abs(f) >= 1e12 {
		f /= 1000
	}
	sec := int64(f)
	ns := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, ns).In(tz)
}
