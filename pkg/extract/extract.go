// Package extract turns raw conversation slices into the derived memory
// records the rest of the system stores and retrieves: memory cells,
// episodes, event logs, user profiles, group profiles and importance
// statistics.
//
// # Pipeline
//
// Extraction runs in two stages. The first stage cuts the incoming message
// stream into closed [memory.MemCell] slices: [BoundaryDetector] decides
// where a topic ends and [MemCellExtractor] materializes the closed slice.
// The second stage derives higher-level records from finished cells; each
// derived kind has its own [Extractor] registered on a [Mux]:
//
//	m := extract.NewMux()
//	extract.Register(m, cfg)
//	mems, err := m.Extract(ctx, memory.KindEpisode, batch)
//
// All extractors call a text generation model, parse its reply as JSON and
// re-generate on malformed output. Parse retries are bounded; exhaustion
// surfaces as [errcode.LLMRetryExhausted] with the last underlying cause
// attached.
//
// # Incremental state
//
// Profile extractors fold a batch into previously accumulated state rather
// than rebuilding it: a [Batch] carries the existing user profiles, group
// profile and importance windows, and the extractors merge new observations
// into copies of them. Inputs are never mutated.
package extract

import (
	"context"
	"log/slog"
	"time"

	"github.com/evermem/evermem/pkg/embed"
	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/prompts"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config carries the capabilities shared by all extractors. Generator and
// Prompts are required; the zero values of the remaining fields fall back
// to sensible defaults.
type Config struct {
	Generator llm.Generator
	Embedder  embed.Embedder
	Prompts   *prompts.Registry

	// EmbeddingModel labels embeddings written into [memory.Extend] so a
	// later reindex can tell vectors from different models apart.
	EmbeddingModel string

	// Locale selects the prompt language. Defaults to [prompts.DefaultLocale].
	Locale string

	// TZ anchors date arithmetic and human-readable timestamps. Defaults
	// to UTC.
	TZ *time.Location

	// MaxTopics caps the topic set on a group profile. Defaults to 10.
	MaxTopics int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Locale == "" {
		c.Locale = prompts.DefaultLocale
	}
	if c.TZ == nil {
		c.TZ = time.UTC
	}
	if c.MaxTopics <= 0 {
		c.MaxTopics = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ---------------------------------------------------------------------------
// Batch
// ---------------------------------------------------------------------------

// Batch is the unit of derived extraction: the finished memory cells of one
// group plus the accumulated state the incremental extractors fold into.
type Batch struct {
	GroupID string
	Cells   []*memory.MemCell

	// Speakers maps user ids to display names, collected from the batch
	// messages and any known profiles. Extractors extend it with names
	// found in the cells themselves.
	Speakers map[string]string

	// UserID selects the personal point of view for episode extraction;
	// empty selects the group point of view.
	UserID string

	// Scenario labels the extraction context and is carried onto new
	// profile versions.
	Scenario string

	// ClusterIDs are the cluster memberships whose update triggered this
	// batch, recorded on new user profile versions.
	ClusterIDs []string

	// CustomInstructions is extra guidance appended to episode prompts.
	CustomInstructions string

	// Accumulated state. Extractors treat these as read-only and return
	// merged copies.
	UserProfiles map[string]*memory.UserProfile
	GroupProfile *memory.GroupProfile
	Importance   map[string]*memory.GroupImportanceEvidence
}

// latestTimestamp returns the newest cell timestamp in the batch, the
// reference point for staleness decisions.
func (b Batch) latestTimestamp() time.Time {
	var latest time.Time
	for _, c := range b.Cells {
		if c != nil && c.Timestamp.After(latest) {
			latest = c.Timestamp
		}
	}
	return latest
}

// Extractor derives memories of one kind from a batch of finished cells.
type Extractor interface {
	// Kind names the memory kind this extractor produces.
	Kind() memory.Kind

	// Extract derives memories from the batch. A nil slice with a nil
	// error means the batch contained nothing to extract.
	Extract(ctx context.Context, batch Batch) ([]memory.Memory, error)
}

// ---------------------------------------------------------------------------
// Generate-and-parse retry loop
// ---------------------------------------------------------------------------

// parseAttempts bounds how many generate+parse rounds an extractor runs
// before giving up on structured output.
const parseAttempts = 5

// generateParsed calls gen with prompt until parse accepts the reply,
// re-generating on failure up to attempts times. The last raw reply is
// returned alongside the error so callers can run a repair pass over it.
func generateParsed(ctx context.Context, gen llm.Generator, prompt string, attempts int, parse func(string) error, opts ...llm.CallOption) (string, error) {
	var raw string
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		out, err := gen.Generate(ctx, prompt, opts...)
		if err != nil {
			lastErr = err
			continue
		}
		raw = out
		if err := parse(out); err != nil {
			lastErr = errcode.Wrap(errcode.LLMOutputParsingError, err)
			continue
		}
		return out, nil
	}
	return raw, errcode.Wrap(errcode.LLMRetryExhausted, lastErr)
}

// decodeFirstObject decodes the first balanced JSON object in s into v.
func decodeFirstObject(s string, v any) error {
	payload, err := llm.ExtractJSONObject(s)
	if err != nil {
		return err
	}
	return llm.DecodeJSON([]byte(payload), v)
}

// decodeFenced decodes a fenced JSON payload into v, falling back to the
// raw string when no fence or object is found.
func decodeFenced(s string, v any) error {
	payload, err := llm.ExtractFencedJSON(s)
	if err != nil {
		payload = s
	}
	return llm.DecodeJSON([]byte(payload), v)
}
