package memory

import "time"

// RetrievalMode selects how the hybrid engine combines its branches.
type RetrievalMode string

const (
	ModeEmbedding RetrievalMode = "embedding"
	ModeBM25      RetrievalMode = "bm25"
	ModeRRF       RetrievalMode = "rrf"

	// ModeAgenticFallback marks results produced by the agentic loop's
	// failure path.
	ModeAgenticFallback RetrievalMode = "agentic_fallback"
)

// DataSource selects which memory collection retrieval reads.
type DataSource string

const (
	SourceEpisode   DataSource = "episode"
	SourceEventLog  DataSource = "event_log"
	SourceForesight DataSource = "foresight"
	SourceProfile   DataSource = "profile"
)

// Candidate is the uniform record retrieval returns regardless of source.
// Episode text, foresight content and atomic facts all land in Episode so
// callers read one field; AtomicFact additionally carries the fact list
// for event-log results.
type Candidate struct {
	Score      float64        `json:"score"`
	EventID    string         `json:"event_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	GroupID    string         `json:"group_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Subject    string         `json:"subject,omitempty"`
	Episode    string         `json:"episode,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Evidence   []string       `json:"evidence,omitempty"`
	AtomicFact []string       `json:"atomic_fact,omitempty"`
	StartTime  *time.Time     `json:"start_time,omitempty"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RetrievalMetadata describes how a retrieval answer was produced.
//
// The agentic extras are only set by the agentic loop. IsSufficient is a
// pointer so "not evaluated" is distinguishable from an explicit false.
type RetrievalMetadata struct {
	RetrievalMode       RetrievalMode `json:"retrieval_mode"`
	DataSource          DataSource    `json:"data_source,omitempty"`
	EmbeddingCandidates int           `json:"embedding_candidates"`
	BM25Candidates      int           `json:"bm25_candidates"`
	FinalCount          int           `json:"final_count"`
	TotalLatencyMS      int64         `json:"total_latency_ms"`
	Error               string        `json:"error,omitempty"`

	IsSufficient   *bool    `json:"is_sufficient,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	MissingInfo    []string `json:"missing_info,omitempty"`
	RefinedQueries []string `json:"refined_queries,omitempty"`
	Round1Count    int      `json:"round1_count,omitempty"`
	Round2Count    int      `json:"round2_count,omitempty"`
	IsMultiRound   bool     `json:"is_multi_round,omitempty"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
}
