package extract

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/evermem/evermem/pkg/embed"
	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/prompts"
)

// EpisodeExtractor narrates one prose episode per memory cell. With a user
// id on the batch it writes from that user's point of view; without one it
// writes the group narrative.
type EpisodeExtractor struct {
	gen        llm.Generator
	embedder   embed.Embedder
	prompts    *prompts.Registry
	embedModel string
	locale     string
	tz         *time.Location
	logger     *slog.Logger
}

// NewEpisodeExtractor builds an episode extractor from cfg.
func NewEpisodeExtractor(cfg Config) *EpisodeExtractor {
	cfg = cfg.withDefaults()
	return &EpisodeExtractor{
		gen:        cfg.Generator,
		embedder:   cfg.Embedder,
		prompts:    cfg.Prompts,
		embedModel: cfg.EmbeddingModel,
		locale:     cfg.Locale,
		tz:         cfg.TZ,
		logger:     cfg.Logger,
	}
}

func (x *EpisodeExtractor) Kind() memory.Kind { return memory.KindEpisode }

// Extract narrates every cell in the batch.
func (x *EpisodeExtractor) Extract(ctx context.Context, batch Batch) ([]memory.Memory, error) {
	userName := batch.Speakers[batch.UserID]
	var out []memory.Memory
	for _, cell := range batch.Cells {
		if cell == nil || len(cell.OriginalData) == 0 {
			continue
		}
		ep, err := x.ExtractOne(ctx, cell, batch.UserID, userName, batch.CustomInstructions)
		if err != nil {
			return nil, err
		}
		out = append(out, memory.Memory{Kind: memory.KindEpisode, Episode: ep})
	}
	return out, nil
}

type episodeReply struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// ExtractOne narrates a single cell. userID selects the personal point of
// view; empty narrates the group. A reply without both a title and a
// narrative is treated as a parse failure and retried.
func (x *EpisodeExtractor) ExtractOne(ctx context.Context, cell *memory.MemCell, userID, userName, custom string) (*memory.Episode, error) {
	ts := cell.Timestamp
	if ts.IsZero() {
		ts = time.Now().In(x.tz)
		x.logger.Error("memory cell has no timestamp, falling back to now",
			"event_id", cell.EventID)
	}
	start := ts
	if len(cell.OriginalData) > 0 && !cell.OriginalData[0].Timestamp.IsZero() {
		start = cell.OriginalData[0].Timestamp
	}

	name := prompts.EpisodeGroup
	vars := map[string]string{
		"start_time":          start.In(x.tz).Format(HumanTimeLayout),
		"conversation":        conversationJSON(cell.OriginalData, x.tz),
		"custom_instructions": custom,
	}
	if userID != "" {
		name = prompts.EpisodePersonal
		if userName == "" {
			userName = userID
		}
		vars["user_name"] = userName
	}
	prompt, err := x.prompts.Render(x.locale, name, vars)
	if err != nil {
		return nil, err
	}

	var reply episodeReply
	if _, err := generateParsed(ctx, x.gen, prompt, parseAttempts, func(out string) error {
		reply = episodeReply{}
		if err := decodeFirstObject(out, &reply); err != nil {
			return err
		}
		if reply.Title == "" || reply.Content == "" {
			return errors.New("episode reply missing title or content")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	summary := reply.Summary
	if summary == "" {
		summary = reply.Content
	}
	ep := &memory.Episode{
		UserID:          userID,
		GroupID:         cell.GroupID,
		Subject:         reply.Title,
		Summary:         truncateRunes(summary, 200),
		Episode:         reply.Content,
		Participants:    slices.Clone(cell.Participants),
		Timestamp:       ts,
		MemCellEventIDs: []string{cell.EventID},
	}

	if x.embedder == nil {
		x.logger.Warn("no embedder configured, episode left unembedded",
			"event_id", cell.EventID)
		return ep, nil
	}
	vec, err := x.embedder.Embed(ctx, reply.Content)
	if err != nil {
		return nil, err
	}
	ep.Extend = memory.Extend{Embedding: vec, EmbeddingModel: x.embedModel}
	return ep, nil
}
