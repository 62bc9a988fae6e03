package memory

import (
	"sort"
	"strings"
	"time"
)

// evidenceDateLayout is the date prefix of an evidence string.
const evidenceDateLayout = "2006-01-02"

// FormatEvidence renders an evidence reference as
// "YYYY-MM-DD|conversation_id".
func FormatEvidence(date time.Time, conversationID string) string {
	return date.Format(evidenceDateLayout) + "|" + conversationID
}

// ParseEvidence splits an evidence string into its date and conversation
// id. ok is false when the separator is missing or the date prefix does
// not parse; the conversation id is still extracted on a bad date, and is
// the whole string when there is no separator.
func ParseEvidence(s string) (date time.Time, conversationID string, ok bool) {
	i := strings.IndexByte(s, '|')
	if i < 0 {
		return time.Time{}, s, false
	}
	d, err := time.Parse(evidenceDateLayout, s[:i])
	if err != nil {
		return time.Time{}, s[i+1:], false
	}
	return d, s[i+1:], true
}

// LevelRank orders proficiency levels for keep-highest merging. Unknown
// and empty levels rank 0.
func LevelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "expert", "high", "strong", "advanced":
		return 3
	case "medium", "intermediate":
		return 2
	case "low", "basic", "beginner", "familiar", "weak":
		return 1
	}
	return 0
}

// MergeEvidences unions incoming evidence strings into an existing list,
// preserving the existing order and appending unseen entries in the order
// given.
func MergeEvidences(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, e := range existing {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	for _, e := range incoming {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// TruncateEvidences enforces an evidence window cap. When the list is over
// the limit it drops entries without a parseable date first, then the
// oldest dated entries, keeping survivors in their original order.
func TruncateEvidences(evidences []string, limit int) []string {
	if limit <= 0 || len(evidences) <= limit {
		return evidences
	}
	over := len(evidences) - limit
	drop := make(map[int]bool, over)

	dates := make([]time.Time, len(evidences))
	for i, e := range evidences {
		d, _, ok := ParseEvidence(e)
		if !ok && over > 0 {
			drop[i] = true
			over--
			continue
		}
		dates[i] = d
	}
	if over > 0 {
		kept := make([]int, 0, len(evidences))
		for i := range evidences {
			if !drop[i] {
				kept = append(kept, i)
			}
		}
		sort.SliceStable(kept, func(a, b int) bool {
			return dates[kept[a]].Before(dates[kept[b]])
		})
		for _, i := range kept[:over] {
			drop[i] = true
		}
	}

	out := make([]string, 0, limit)
	for i, e := range evidences {
		if !drop[i] {
			out = append(out, e)
		}
	}
	return out
}
