package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/evermem/evermem/pkg/embed"
	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/prompts"
)

// EventLogExtractor distills an episode narrative into dated atomic facts,
// each embedded separately so retrieval can match on a single fact.
type EventLogExtractor struct {
	gen        llm.Generator
	embedder   embed.Embedder
	prompts    *prompts.Registry
	locale     string
	tz         *time.Location
	logger     *slog.Logger
}

// NewEventLogExtractor builds an event log extractor from cfg.
func NewEventLogExtractor(cfg Config) *EventLogExtractor {
	cfg = cfg.withDefaults()
	return &EventLogExtractor{
		gen:      cfg.Generator,
		embedder: cfg.Embedder,
		prompts:  cfg.Prompts,
		locale:   cfg.Locale,
		tz:       cfg.TZ,
		logger:   cfg.Logger,
	}
}

func (x *EventLogExtractor) Kind() memory.Kind { return memory.KindEventLog }

// Extract distills every cell that already carries an episode narrative.
// Cells without one are skipped; the narrative stage runs first.
func (x *EventLogExtractor) Extract(ctx context.Context, batch Batch) ([]memory.Memory, error) {
	var out []memory.Memory
	for _, cell := range batch.Cells {
		if cell == nil {
			continue
		}
		if cell.Episode == "" {
			x.logger.Warn("cell has no episode narrative, skipping event log",
				"event_id", cell.EventID)
			continue
		}
		el, err := x.ExtractOne(ctx, cell.Episode, cell.Timestamp)
		if err != nil {
			return nil, err
		}
		out = append(out, memory.Memory{Kind: memory.KindEventLog, EventLog: el})
	}
	return out, nil
}

type eventLogReply struct {
	EventLog struct {
		Time        string   `json:"time"`
		AtomicFacts []string `json:"atomic_fact"`
	} `json:"event_log"`
}

// ExtractOne distills one episode text anchored at ts. Replies are accepted
// fenced, as a bare JSON object, or raw; a reply without a time or without
// at least one fact is retried.
func (x *EventLogExtractor) ExtractOne(ctx context.Context, episode string, ts time.Time) (*memory.EventLog, error) {
	if ts.IsZero() {
		ts = time.Now().In(x.tz)
		x.logger.Error("episode has no timestamp, falling back to now")
	}
	prompt, err := x.prompts.Render(x.locale, prompts.EventLog, map[string]string{
		"timestamp": ts.In(x.tz).Format(HumanTimeLayout),
		"episode":   episode,
	})
	if err != nil {
		return nil, err
	}

	var facts []string
	var when string
	if _, err := generateParsed(ctx, x.gen, prompt, parseAttempts, func(out string) error {
		var reply eventLogReply
		if err := decodeFenced(out, &reply); err != nil {
			return err
		}
		facts = facts[:0]
		for _, f := range reply.EventLog.AtomicFacts {
			if f = strings.TrimSpace(f); f != "" {
				facts = append(facts, f)
			}
		}
		when = strings.TrimSpace(reply.EventLog.Time)
		if when == "" {
			return errors.New("event log reply missing time")
		}
		if len(facts) == 0 {
			return errors.New("event log reply has no atomic facts")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	el := &memory.EventLog{Time: when, AtomicFacts: facts}
	if x.embedder == nil {
		x.logger.Warn("no embedder configured, event log left unembedded")
		return el, nil
	}
	vecs, err := x.embedder.EmbedBatch(ctx, facts)
	if err != nil {
		return nil, err
	}
	el.FactEmbeddings = vecs
	if err := el.Validate(); err != nil {
		return nil, err
	}
	return el, nil
}
