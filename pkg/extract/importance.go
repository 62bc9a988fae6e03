package extract

import (
	"log/slog"
	"slices"

	"github.com/evermem/evermem/pkg/memory"
)

// ImportanceCollector aggregates per-user activity statistics over a
// batch. It is purely computational; no model is involved. The resulting
// stats slide into each user's importance window, which decides whether a
// group matters enough to contribute to cross-group profile merges.
type ImportanceCollector struct {
	logger *slog.Logger
}

// NewImportanceCollector builds a collector.
func NewImportanceCollector(logger *slog.Logger) *ImportanceCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportanceCollector{logger: logger}
}

// Collect computes one stat per active user over the batch and appends it
// to that user's window. The windows carried on the batch are copied, not
// mutated. Users appear in the result when they spoke or were mentioned.
func (c *ImportanceCollector) Collect(batch Batch) []*memory.GroupImportanceEvidence {
	total := 0
	speak := make(map[string]int)
	refer := make(map[string]int)
	for _, cell := range batch.Cells {
		if cell == nil {
			continue
		}
		for _, m := range cell.OriginalData {
			total++
			if m.SpeakerID != "" {
				speak[m.SpeakerID]++
			}
			for _, r := range m.ReferList {
				if r.ID != "" {
					refer[r.ID]++
				}
			}
		}
	}
	if total == 0 {
		return nil
	}

	users := make(map[string]bool, len(speak)+len(refer))
	for id := range speak {
		users[id] = true
	}
	for id := range refer {
		users[id] = true
	}

	out := make([]*memory.GroupImportanceEvidence, 0, len(users))
	for _, uid := range sortedKeys(users) {
		window := &memory.GroupImportanceEvidence{UserID: uid, GroupID: batch.GroupID}
		if prev := batch.Importance[uid]; prev != nil {
			window.EvidenceList = slices.Clone(prev.EvidenceList)
		}
		window.Append(memory.ImportanceStat{
			UserID:            uid,
			GroupID:           batch.GroupID,
			SpeakCount:        speak[uid],
			ReferCount:        refer[uid],
			ConversationCount: total,
		})
		out = append(out, window)
	}
	return out
}
