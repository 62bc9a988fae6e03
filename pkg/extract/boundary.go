package extract

import (
	"context"
	"log/slog"
	"time"

	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/prompts"
)

// BoundaryResult is the boundary decision for one history/new message pair.
// ShouldEnd closes the history into a memory cell; ShouldWait defers the
// decision until more messages arrive. The two are mutually exclusive and
// ending wins when the model claims both.
type BoundaryResult struct {
	ShouldEnd    bool    `json:"should_end"`
	ShouldWait   bool    `json:"should_wait"`
	Reasoning    string  `json:"reasoning,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	TopicSummary string  `json:"topic_summary,omitempty"`
}

// BoundaryDetector decides whether new messages continue the buffered
// conversation or start a new topic.
//
// The model's judgement is post-processed by fixed rules: a calendar-day
// change between the last buffered message and the first new one always
// ends the topic, a new batch made entirely of media placeholders always
// waits, and should_end beats should_wait.
type BoundaryDetector struct {
	gen     llm.Generator
	prompts *prompts.Registry
	locale  string
	tz      *time.Location
	logger  *slog.Logger
}

// NewBoundaryDetector builds a detector from cfg.
func NewBoundaryDetector(cfg Config) *BoundaryDetector {
	cfg = cfg.withDefaults()
	return &BoundaryDetector{
		gen:     cfg.Generator,
		prompts: cfg.Prompts,
		locale:  cfg.Locale,
		tz:      cfg.TZ,
		logger:  cfg.Logger,
	}
}

// Detect judges whether fresh continues history. An empty history cannot
// end anything and returns the zero result without calling the model; an
// empty fresh batch waits.
func (d *BoundaryDetector) Detect(ctx context.Context, history, fresh []memory.RawMessage) (*BoundaryResult, error) {
	if len(history) == 0 {
		return &BoundaryResult{}, nil
	}
	if len(fresh) == 0 {
		return &BoundaryResult{ShouldWait: true}, nil
	}

	gap := fresh[0].Timestamp.Sub(history[len(history)-1].Timestamp)
	prompt, err := d.prompts.Render(d.locale, prompts.BoundaryDetection, map[string]string{
		"history_dialogue": dialogueLines(history, d.tz),
		"new_dialogue":     dialogueLines(fresh, d.tz),
		"time_gap":         humanGap(gap),
	})
	if err != nil {
		return nil, err
	}

	var res BoundaryResult
	if _, err := generateParsed(ctx, d.gen, prompt, parseAttempts, func(out string) error {
		res = BoundaryResult{}
		return decodeFirstObject(out, &res)
	}); err != nil {
		return nil, err
	}

	// Deterministic overrides, applied in order so a day change beats the
	// placeholder rule and ending beats waiting.
	if allPlaceholders(fresh) {
		res.ShouldEnd = false
		res.ShouldWait = true
	}
	if !sameDay(history[len(history)-1].Timestamp, fresh[0].Timestamp, d.tz) {
		res.ShouldEnd = true
		res.ShouldWait = false
	}
	if res.ShouldEnd {
		res.ShouldWait = false
	}
	return &res, nil
}

// allPlaceholders reports whether every message is a supported non-text
// payload, i.e. the batch carries no words to judge a topic by.
func allPlaceholders(msgs []memory.RawMessage) bool {
	for _, m := range msgs {
		if m.Type == memory.MsgText || !m.Type.Supported() {
			return false
		}
	}
	return true
}
