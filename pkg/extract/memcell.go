package extract

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/evermem/evermem/pkg/memory"
)

// MemCellExtractor cuts the raw message stream into closed [memory.MemCell]
// slices. It owns message sanitization and delegates the end-of-topic
// judgement to a [BoundaryDetector].
type MemCellExtractor struct {
	boundary *BoundaryDetector
	logger   *slog.Logger
}

// NewMemCellExtractor builds a memcell extractor from cfg.
func NewMemCellExtractor(cfg Config) *MemCellExtractor {
	cfg = cfg.withDefaults()
	return &MemCellExtractor{
		boundary: NewBoundaryDetector(cfg),
		logger:   cfg.Logger,
	}
}

// Extract judges whether fresh ends the buffered history and, when it does,
// closes history into a cell. The returned cell is nil while the topic is
// still open; the boundary result tells the caller whether to keep
// buffering (ShouldWait) or to append fresh to the history.
//
// Fresh messages never enter the returned cell. They belong to the next
// slice and stay in the caller's buffer.
func (x *MemCellExtractor) Extract(ctx context.Context, groupID string, history, fresh []memory.RawMessage) (*memory.MemCell, *BoundaryResult, error) {
	history = sanitizeMessages(history, x.logger, false)
	fresh = sanitizeMessages(fresh, x.logger, true)
	if len(history) == 0 || len(fresh) == 0 {
		return nil, &BoundaryResult{ShouldWait: true}, nil
	}

	res, err := x.boundary.Detect(ctx, history, fresh)
	if err != nil {
		return nil, nil, err
	}
	if !res.ShouldEnd {
		return nil, res, nil
	}

	last := history[len(history)-1]
	summary := res.TopicSummary
	if summary == "" {
		summary = truncateRunes(last.Content, 200)
	}
	cell := &memory.MemCell{
		EventID:      uuid.NewString(),
		UserIDList:   speakersOf(history),
		GroupID:      groupID,
		Participants: memory.ParticipantsOf(history),
		OriginalData: slices.Clone(history),
		Timestamp:    last.Timestamp,
		Type:         memory.RawDataConversation,
		Summary:      summary,
	}
	return cell, res, nil
}

// sanitizeMessages drops messages whose type cannot enter extraction and
// rewrites supported media payloads to their placeholders. The input is
// never mutated.
func sanitizeMessages(msgs []memory.RawMessage, logger *slog.Logger, warn bool) []memory.RawMessage {
	out := make([]memory.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if !m.Type.Supported() {
			if warn {
				logger.Warn("dropping message with unsupported type",
					"msg_type", int(m.Type),
					"speaker_id", m.SpeakerID)
			}
			continue
		}
		if ph := m.Type.Placeholder(); ph != "" {
			m.Content = ph
		}
		out = append(out, m)
	}
	return out
}

// speakersOf collects unique speaker ids in first-appearance order.
func speakersOf(msgs []memory.RawMessage) []string {
	seen := make(map[string]bool, len(msgs))
	var out []string
	for _, m := range msgs {
		if m.SpeakerID == "" || seen[m.SpeakerID] {
			continue
		}
		seen[m.SpeakerID] = true
		out = append(out, m.SpeakerID)
	}
	return out
}
