// Package retrieval answers memory queries over the hybrid indexes built by
// the extraction pipeline.
//
// # Lightweight retrieval
//
// [Engine.Retrieve] runs one query against one collection (episodes, event
// logs or foresights) in one of three modes: dense vector search, BM25
// keyword search, or both fused with reciprocal rank fusion. The profile
// source bypasses search entirely and returns the caller's latest stored
// profile. Results come back as uniform [memory.Candidate] records plus a
// [memory.RetrievalMetadata] describing how the answer was produced.
//
// Retrieval degrades rather than fails: when one branch of a fused query
// errors the other still answers, and when every branch errors the response
// is empty with the cause recorded in the metadata. Hard errors are reserved
// for unusable requests and store failures on the profile path.
//
// # Grouped retrieval
//
// [Engine.RetrieveGrouped] fans one query across every group the user is
// known in and returns per-group result lists ranked by how much the user
// matters in each group, using the stored importance windows.
//
// # Agentic retrieval
//
// [Agent.Retrieve] wraps the engine in a two-round loop: retrieve, judge
// sufficiency with a text generation model, and when the first round is not
// enough, rewrite the query from several angles, retrieve again in parallel
// and rerank the merged pool. See [LoopConfig] for the knobs.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evermem/evermem/pkg/embed"
	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/lexical"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/rerank"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config carries the stores and models the engine searches with. Repos is
// required. Embedder is required for dense and fused modes; an engine
// without one still serves bm25 queries. Reranker is optional and only used
// by the agentic loop.
type Config struct {
	Repos    memory.Repos
	Embedder embed.Embedder
	Reranker rerank.Reranker
	Logger   *slog.Logger
}

// Engine executes lightweight retrieval against the hybrid indexes.
type Engine struct {
	repos    memory.Repos
	embedder embed.Embedder
	reranker rerank.Reranker
	logger   *slog.Logger
}

// NewEngine builds an engine from cfg.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repos:    cfg.Repos,
		embedder: cfg.Embedder,
		reranker: cfg.Reranker,
		logger:   logger,
	}
}

// ---------------------------------------------------------------------------
// Request and response
// ---------------------------------------------------------------------------

// Dense search over-fetches so that post-search filters still leave enough
// hits to fuse; lexical search fetches a smaller multiple because its
// filters run inside the store.
const (
	denseLimitFactor = 200
	denseLimitFloor  = 1000
	denseLimitCeil   = 16384

	lexicalSizeFactor = 10
	lexicalSizeFloor  = 100
)

// Request describes one retrieval call. Zero values select the defaults:
// ten results, fused mode, episode source.
type Request struct {
	// Query is the natural-language question. Required except for the
	// profile source, which ignores it.
	Query string

	// UserID and GroupID scope the search. Empty values match anything.
	UserID  string
	GroupID string

	// TimeRangeDays, when positive, restricts hits to records newer than
	// that many days before CurrentTime (or now).
	TimeRangeDays int

	// TopK caps the result list. Defaults to 10.
	TopK int

	// Mode selects the search branches. Defaults to [memory.ModeRRF].
	Mode memory.RetrievalMode

	// Source selects the collection. Defaults to [memory.SourceEpisode].
	Source memory.DataSource

	// CurrentTime anchors TimeRangeDays and the foresight validity filter.
	// Nil means the wall clock.
	CurrentTime *time.Time

	// Radius, when positive, drops dense hits with cosine similarity
	// below it.
	Radius float64
}

func (r Request) withDefaults() Request {
	if r.TopK <= 0 {
		r.TopK = 10
	}
	if r.Mode == "" {
		r.Mode = memory.ModeRRF
	}
	if r.Source == "" {
		r.Source = memory.SourceEpisode
	}
	return r
}

// reference returns the time anchor for range and validity filters.
func (r Request) reference() time.Time {
	if r.CurrentTime != nil {
		return *r.CurrentTime
	}
	return time.Now()
}

// startTime translates TimeRangeDays into an absolute lower bound, nil when
// unrestricted.
func (r Request) startTime() *time.Time {
	if r.TimeRangeDays <= 0 {
		return nil
	}
	t := r.reference().AddDate(0, 0, -r.TimeRangeDays)
	return &t
}

// Response is the answer to one retrieval call.
type Response struct {
	Memories []memory.Candidate       `json:"memories"`
	Count    int                      `json:"count"`
	Metadata memory.RetrievalMetadata `json:"metadata"`
}

// ---------------------------------------------------------------------------
// Lightweight retrieval
// ---------------------------------------------------------------------------

// Retrieve runs one lightweight retrieval call.
//
// Branch failures inside a fused query degrade to the surviving branch;
// when no branch survives the response is empty and Metadata.Error records
// the cause. A non-nil error is returned only for invalid requests and for
// profile store failures.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	req = req.withDefaults()

	if req.Source == memory.SourceProfile {
		return e.retrieveProfile(ctx, req, start)
	}
	if req.Query == "" {
		return nil, errcode.New(errcode.InvalidParameter, "retrieval: empty query")
	}

	pair, err := e.searchPair(req.Source)
	if err != nil {
		return nil, err
	}
	switch req.Mode {
	case memory.ModeEmbedding, memory.ModeBM25, memory.ModeRRF:
	default:
		return nil, errcode.Newf(errcode.InvalidParameter, "retrieval: unknown mode %q", req.Mode)
	}

	var (
		denseHits []memory.DenseHit
		lexHits   []memory.LexicalHit
		denseErr  error
		lexErr    error
	)
	if req.Mode == memory.ModeEmbedding || req.Mode == memory.ModeRRF {
		denseHits, denseErr = e.denseSearch(ctx, pair.Dense, req)
		if denseErr != nil {
			e.logger.Warn("dense search failed",
				"source", req.Source, "mode", req.Mode, "error", denseErr)
		}
	}
	if req.Mode == memory.ModeBM25 || req.Mode == memory.ModeRRF {
		lexHits, lexErr = e.lexicalSearch(ctx, pair.Lexical, req)
		if lexErr != nil {
			e.logger.Warn("lexical search failed",
				"source", req.Source, "mode", req.Mode, "error", lexErr)
		}
	}

	md := memory.RetrievalMetadata{
		RetrievalMode:       req.Mode,
		DataSource:          req.Source,
		EmbeddingCandidates: len(denseHits),
		BM25Candidates:      len(lexHits),
	}
	if err := branchError(req.Mode, denseErr, lexErr); err != nil {
		md.Error = err.Error()
		md.TotalLatencyMS = time.Since(start).Milliseconds()
		return &Response{Memories: []memory.Candidate{}, Metadata: md}, nil
	}

	denseRanked := dedupByEvent(docsFromDense(denseHits))
	lexRanked := dedupByEvent(docsFromLexical(lexHits))

	var fused []scoredDoc
	switch req.Mode {
	case memory.ModeEmbedding:
		fused = topDocs(denseRanked, req.TopK)
	case memory.ModeBM25:
		fused = topDocs(lexRanked, req.TopK)
	default:
		fused = rrfFuse([][]scoredDoc{denseRanked, lexRanked}, req.TopK)
	}

	memories := toCandidates(fused)
	if req.Source == memory.SourceForesight && req.CurrentTime != nil {
		memories = filterValidAt(memories, *req.CurrentTime)
	}

	md.FinalCount = len(memories)
	md.TotalLatencyMS = time.Since(start).Milliseconds()
	return &Response{Memories: memories, Count: len(memories), Metadata: md}, nil
}

// searchPair maps a data source to its index pair.
func (e *Engine) searchPair(source memory.DataSource) (memory.SearchPair, error) {
	switch source {
	case memory.SourceEpisode:
		return e.repos.EpisodeIndex, nil
	case memory.SourceEventLog:
		return e.repos.EventLogIndex, nil
	case memory.SourceForesight:
		return e.repos.ForesightIndex, nil
	default:
		return memory.SearchPair{}, errcode.Newf(errcode.InvalidParameter, "retrieval: unknown source %q", source)
	}
}

// branchError decides whether anything answered. For fused mode one
// surviving branch is enough.
func branchError(mode memory.RetrievalMode, denseErr, lexErr error) error {
	switch mode {
	case memory.ModeEmbedding:
		return denseErr
	case memory.ModeBM25:
		return lexErr
	default:
		if denseErr != nil && lexErr != nil {
			return errors.Join(denseErr, lexErr)
		}
		return nil
	}
}

func (e *Engine) denseSearch(ctx context.Context, store memory.DenseStore, req Request) ([]memory.DenseHit, error) {
	if store == nil {
		return nil, errcode.Newf(errcode.InvalidParameter, "retrieval: no dense index for source %q", req.Source)
	}
	if e.embedder == nil {
		return nil, errcode.New(errcode.InvalidParameter, "retrieval: no embedder configured")
	}
	vector, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, errcode.Wrap(errcode.ExternalServiceError, err)
	}
	q := memory.DenseQuery{
		Vector:    vector,
		UserID:    req.UserID,
		GroupID:   req.GroupID,
		StartTime: req.startTime(),
		Limit:     denseLimit(req.TopK),
		Radius:    req.Radius,
	}
	if req.Source == memory.SourceForesight {
		q.CurrentTime = req.CurrentTime
	}
	return store.Search(ctx, q)
}

func (e *Engine) lexicalSearch(ctx context.Context, store memory.LexicalStore, req Request) ([]memory.LexicalHit, error) {
	if store == nil {
		return nil, errcode.Newf(errcode.InvalidParameter, "retrieval: no lexical index for source %q", req.Source)
	}
	tokens := lexical.Tokenize(req.Query)
	if len(tokens) == 0 {
		return nil, nil
	}
	q := memory.LexicalQuery{
		Tokens:    tokens,
		UserID:    req.UserID,
		GroupID:   req.GroupID,
		StartTime: req.startTime(),
		Size:      lexicalSize(req.TopK),
	}
	if req.Source == memory.SourceForesight {
		q.CurrentTime = req.CurrentTime
	}
	return store.Search(ctx, q)
}

func denseLimit(topK int) int {
	limit := topK * denseLimitFactor
	if limit < denseLimitFloor {
		limit = denseLimitFloor
	}
	if limit > denseLimitCeil {
		limit = denseLimitCeil
	}
	return limit
}

func lexicalSize(topK int) int {
	size := topK * lexicalSizeFactor
	if size < lexicalSizeFloor {
		size = lexicalSizeFloor
	}
	return size
}

// ---------------------------------------------------------------------------
// Profile source
// ---------------------------------------------------------------------------

// retrieveProfile returns the latest stored profile for the request scope.
// The query text plays no part; a missing profile is an empty answer.
func (e *Engine) retrieveProfile(ctx context.Context, req Request, start time.Time) (*Response, error) {
	if req.UserID == "" {
		return nil, errcode.New(errcode.InvalidParameter, "retrieval: profile source requires a user id")
	}

	md := memory.RetrievalMetadata{
		RetrievalMode: req.Mode,
		DataSource:    memory.SourceProfile,
	}
	memories := []memory.Candidate{}

	profile, err := e.repos.UserProfiles.LatestByUserGroup(ctx, req.UserID, req.GroupID)
	switch {
	case errors.Is(err, memory.ErrNotFound):
	case err != nil:
		return nil, errcode.Wrap(errcode.DatabaseQueryError, err)
	default:
		memories = append(memories, profileCandidate(profile))
	}

	md.FinalCount = len(memories)
	md.TotalLatencyMS = time.Since(start).Milliseconds()
	return &Response{Memories: memories, Count: len(memories), Metadata: md}, nil
}

// profileCandidate wraps a stored profile in the uniform result record. The
// full profile rides in Metadata under "user_profile".
func profileCandidate(p *memory.UserProfile) memory.Candidate {
	return memory.Candidate{
		Score:     1,
		UserID:    p.UserID,
		GroupID:   p.GroupID,
		Timestamp: p.UpdatedAt,
		Metadata:  map[string]any{"user_profile": p},
	}
}
