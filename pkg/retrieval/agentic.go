package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/prompts"
	"github.com/evermem/evermem/pkg/rerank"
)

// ---------------------------------------------------------------------------
// Loop tuning
// ---------------------------------------------------------------------------

// LoopConfig tunes the agentic retrieval loop. Counts and the timeout fall
// back to defaults when zero; booleans and temperatures are taken as given,
// so start from [DefaultLoopConfig] when overriding individual knobs.
type LoopConfig struct {
	// Round1TopN is the fetch size of the first fused round.
	Round1TopN int

	// Round1RerankTopN is how many round-one candidates the sufficiency
	// judge sees, reranked when a reranker is available.
	Round1RerankTopN int

	// NumQueries caps how many refined queries the second round runs.
	NumQueries int

	// Round2PerQueryTopN is the fetch size of each refined query.
	Round2PerQueryTopN int

	// CombinedTotal caps the merged pool of both rounds.
	CombinedTotal int

	// FinalTopN caps the returned list.
	FinalTopN int

	// UseReranker enables reranking when the engine carries a reranker.
	UseReranker bool

	// SufficiencyTemperature and MultiQueryTemperature are the sampling
	// temperatures of the judge call and the query rewrite call.
	SufficiencyTemperature float64
	MultiQueryTemperature  float64

	// Timeout bounds the whole loop. The fallback path is exempt so a loop
	// timeout cannot also doom the plain retrieval that answers for it.
	Timeout time.Duration

	// FallbackOnError answers with one lightweight retrieval instead of an
	// error when the first round cannot be completed.
	FallbackOnError bool
}

// DefaultLoopConfig returns the tuning the loop was designed around.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Round1TopN:             20,
		Round1RerankTopN:       5,
		NumQueries:             3,
		Round2PerQueryTopN:     50,
		CombinedTotal:          40,
		FinalTopN:              20,
		UseReranker:            true,
		SufficiencyTemperature: 0,
		MultiQueryTemperature:  0.4,
		Timeout:                60 * time.Second,
		FallbackOnError:        true,
	}
}

func (c LoopConfig) withDefaults() LoopConfig {
	d := DefaultLoopConfig()
	if c.Round1TopN <= 0 {
		c.Round1TopN = d.Round1TopN
	}
	if c.Round1RerankTopN <= 0 {
		c.Round1RerankTopN = d.Round1RerankTopN
	}
	if c.NumQueries <= 0 {
		c.NumQueries = d.NumQueries
	}
	if c.Round2PerQueryTopN <= 0 {
		c.Round2PerQueryTopN = d.Round2PerQueryTopN
	}
	if c.CombinedTotal <= 0 {
		c.CombinedTotal = d.CombinedTotal
	}
	if c.FinalTopN <= 0 {
		c.FinalTopN = d.FinalTopN
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// ---------------------------------------------------------------------------
// Agent
// ---------------------------------------------------------------------------

// AgentConfig wires an agent. Engine, Generator and Prompts are required.
type AgentConfig struct {
	Engine    *Engine
	Generator llm.Generator
	Prompts   *prompts.Registry

	// Locale selects the prompt language. Defaults to [prompts.DefaultLocale].
	Locale string

	// Loop tunes the retrieval loop. The zero value means
	// [DefaultLoopConfig]; a partially filled value keeps its booleans and
	// temperatures and defaults the rest.
	Loop LoopConfig

	Logger *slog.Logger
}

// Agent runs the two-round agentic retrieval loop on top of an [Engine].
type Agent struct {
	engine  *Engine
	gen     llm.Generator
	prompts *prompts.Registry
	locale  string
	cfg     LoopConfig
	logger  *slog.Logger
}

// NewAgent builds an agent from cfg.
func NewAgent(cfg AgentConfig) *Agent {
	loop := cfg.Loop
	if loop == (LoopConfig{}) {
		loop = DefaultLoopConfig()
	}
	locale := cfg.Locale
	if locale == "" {
		locale = prompts.DefaultLocale
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		engine:  cfg.Engine,
		gen:     cfg.Generator,
		prompts: cfg.Prompts,
		locale:  locale,
		cfg:     loop.withDefaults(),
		logger:  logger,
	}
}

// Retrieve runs the agentic loop for req. The request's Mode, Source and
// TopK are controlled by the loop, which always runs fused retrieval over
// episodes; scope and time filters apply as in [Engine.Retrieve].
//
// The loop retrieves wide, asks the model whether the results suffice, and
// returns them if so. Otherwise it rewrites the query from several angles,
// retrieves each rewrite in parallel, merges the rounds and reranks the
// pool down to the final list. Model failures inside the loop degrade step
// by step; only a first round that cannot be completed at all triggers the
// lightweight fallback.
func (a *Agent) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	req = req.withDefaults()

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	r1req := req
	r1req.Mode = memory.ModeRRF
	r1req.Source = memory.SourceEpisode
	r1req.TopK = a.cfg.Round1TopN
	r1resp, err := a.engine.Retrieve(ctx, r1req)
	if err != nil {
		return a.fallback(parent, req, start, err)
	}
	round1 := r1resp.Memories
	if len(round1) == 0 {
		if r1resp.Metadata.Error != "" {
			return a.fallback(parent, req, start,
				errcode.New(errcode.ExternalServiceError, r1resp.Metadata.Error))
		}
		// Nothing indexed in scope. Rewriting the query cannot conjure
		// records, so answer empty without burning model calls.
		md := r1resp.Metadata
		md.TotalLatencyMS = time.Since(start).Milliseconds()
		return &Response{Memories: []memory.Candidate{}, Metadata: md}, nil
	}

	judged := a.rerankTop(ctx, req.Query, round1, a.cfg.Round1RerankTopN)
	verdict, verr := a.checkSufficiency(ctx, req.Query, judged)
	if verr != nil {
		// The judge could not answer. Keep round one rather than spend
		// more calls on a model that is already failing, and label the
		// response so callers can tell it from a real verdict.
		a.logger.Warn("sufficiency check failed, keeping round one", "error", verr)
		md := r1resp.Metadata
		md.RetrievalMode = memory.ModeAgenticFallback
		md.FallbackReason = verr.Error()
		md.IsSufficient = boolPtr(true)
		md.Round1Count = len(round1)
		md.FinalCount = len(round1)
		md.TotalLatencyMS = time.Since(start).Milliseconds()
		return &Response{Memories: round1, Count: len(round1), Metadata: md}, nil
	}
	if verdict.sufficient {
		md := r1resp.Metadata
		md.IsSufficient = boolPtr(true)
		md.Reasoning = verdict.reasoning
		md.Round1Count = len(round1)
		md.FinalCount = len(round1)
		md.TotalLatencyMS = time.Since(start).Milliseconds()
		return &Response{Memories: round1, Count: len(round1), Metadata: md}, nil
	}

	queries := a.refineQueries(ctx, req.Query, verdict.missing)

	// Second round: every refined query runs the same fused retrieval,
	// concurrently. Failures cost that query's contribution, nothing more.
	lists := make([][]memory.Candidate, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			r2req := req
			r2req.Query = q
			r2req.Mode = memory.ModeRRF
			r2req.Source = memory.SourceEpisode
			r2req.TopK = a.cfg.Round2PerQueryTopN
			resp, err := a.engine.Retrieve(ctx, r2req)
			if err != nil {
				a.logger.Warn("refined query failed", "query", q, "error", err)
				return
			}
			lists[i] = resp.Memories
		}(i, q)
	}
	wg.Wait()

	combined, added := mergeRounds(round1, lists, a.cfg.CombinedTotal)
	final := a.rerankTop(ctx, req.Query, combined, a.cfg.FinalTopN)

	md := memory.RetrievalMetadata{
		RetrievalMode:       memory.ModeRRF,
		DataSource:          memory.SourceEpisode,
		EmbeddingCandidates: r1resp.Metadata.EmbeddingCandidates,
		BM25Candidates:      r1resp.Metadata.BM25Candidates,
		FinalCount:          len(final),
		TotalLatencyMS:      time.Since(start).Milliseconds(),
		IsSufficient:        boolPtr(false),
		Reasoning:           verdict.reasoning,
		RefinedQueries:      queries,
		Round1Count:         len(round1),
		Round2Count:         added,
		IsMultiRound:        true,
	}
	if verdict.missing != "" {
		md.MissingInfo = []string{verdict.missing}
	}
	return &Response{Memories: final, Count: len(final), Metadata: md}, nil
}

// fallback answers with one lightweight fused retrieval. It runs on the
// caller's context, not the loop's.
func (a *Agent) fallback(ctx context.Context, req Request, start time.Time, cause error) (*Response, error) {
	if !a.cfg.FallbackOnError {
		return nil, cause
	}
	reason := cause.Error()
	a.logger.Warn("agentic retrieval falling back", "reason", reason)

	fbReq := req
	fbReq.Mode = memory.ModeRRF
	fbReq.Source = memory.SourceEpisode
	fbReq.TopK = a.cfg.FinalTopN
	resp, err := a.engine.Retrieve(ctx, fbReq)
	if err != nil {
		md := memory.RetrievalMetadata{
			RetrievalMode:  memory.ModeAgenticFallback,
			DataSource:     memory.SourceEpisode,
			Error:          err.Error(),
			FallbackReason: reason,
			TotalLatencyMS: time.Since(start).Milliseconds(),
		}
		return &Response{Memories: []memory.Candidate{}, Metadata: md}, nil
	}
	resp.Metadata.RetrievalMode = memory.ModeAgenticFallback
	resp.Metadata.FallbackReason = reason
	resp.Metadata.TotalLatencyMS = time.Since(start).Milliseconds()
	return resp, nil
}

// ---------------------------------------------------------------------------
// Loop steps
// ---------------------------------------------------------------------------

// rerankTop reorders pool by relevance to query and keeps the top n. When
// reranking is off or fails, the pool keeps its fused order and is cut at n.
func (a *Agent) rerankTop(ctx context.Context, query string, pool []memory.Candidate, n int) []memory.Candidate {
	if !a.cfg.UseReranker || a.engine.reranker == nil || len(pool) == 0 {
		return headOf(pool, n)
	}
	results, err := a.engine.reranker.Rerank(ctx, query, candidateTexts(pool), n)
	if err != nil {
		a.logger.Warn("rerank failed, keeping fused order", "error", err)
		return headOf(pool, n)
	}
	return pickReranked(pool, results)
}

// pickReranked maps rerank results back onto the pool, stamping relevance
// scores. Out-of-range indexes are skipped.
func pickReranked(pool []memory.Candidate, results []rerank.Result) []memory.Candidate {
	out := make([]memory.Candidate, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(pool) {
			continue
		}
		c := pool[r.Index]
		c.Score = r.RelevanceScore
		out = append(out, c)
	}
	return out
}

// verdict is the parsed outcome of the sufficiency check.
type verdict struct {
	sufficient bool
	reasoning  string
	missing    string
}

// checkSufficiency asks the model whether the judged candidates answer the
// query. The caller treats any error as "stop after round one": wrongly
// stopping still returns a usable answer, wrongly continuing burns two more
// model calls and can still time out.
func (a *Agent) checkSufficiency(ctx context.Context, query string, judged []memory.Candidate) (verdict, error) {
	prompt, err := a.prompts.Render(a.locale, prompts.SufficiencyCheck, map[string]string{
		"query":     query,
		"documents": formatDocuments(judged),
	})
	if err != nil {
		return verdict{}, err
	}
	raw, err := a.gen.Generate(ctx, prompt, llm.WithTemperature(a.cfg.SufficiencyTemperature))
	if err != nil {
		return verdict{}, err
	}
	var rep sufficiencyReply
	if err := decodeReply(raw, &rep); err != nil {
		return verdict{}, err
	}
	return verdict{
		sufficient: rep.IsSufficient,
		reasoning:  rep.Reasoning,
		missing:    strings.TrimSpace(rep.MissingInformation),
	}, nil
}

// refineQueries rewrites the query around the missing information. When
// rewriting fails or yields nothing usable, the original query runs again
// as the whole second round.
func (a *Agent) refineQueries(ctx context.Context, query, missing string) []string {
	queries, err := a.generateQueries(ctx, query, missing)
	if err != nil {
		a.logger.Warn("query refinement failed, retrying the original query", "error", err)
		return []string{query}
	}
	if len(queries) == 0 {
		a.logger.Warn("query refinement produced no usable queries, retrying the original query")
		return []string{query}
	}
	return queries
}

func (a *Agent) generateQueries(ctx context.Context, query, missing string) ([]string, error) {
	prompt, err := a.prompts.Render(a.locale, prompts.MultiQuery, map[string]string{
		"query":               query,
		"missing_information": missing,
		"num_queries":         strconv.Itoa(a.cfg.NumQueries),
	})
	if err != nil {
		return nil, err
	}
	raw, err := a.gen.Generate(ctx, prompt, llm.WithTemperature(a.cfg.MultiQueryTemperature))
	if err != nil {
		return nil, err
	}
	var rep multiQueryReply
	if err := decodeReply(raw, &rep); err != nil {
		return nil, err
	}
	return validQueries(rep.Queries, query, a.cfg.NumQueries), nil
}

// validQueries keeps rewrites that are self-contained and genuinely new:
// 5 to 300 characters, not the original, no duplicates, at most limit.
func validQueries(raw []string, original string, limit int) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if n := utf8.RuneCountInString(q); n < 5 || n > 300 {
			continue
		}
		if q == original || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// mergeRounds appends second-round hits the first round did not already
// find, keeping round-one order and capping the pool at total. The second
// return value is how many new events the second round contributed.
func mergeRounds(round1 []memory.Candidate, lists [][]memory.Candidate, total int) ([]memory.Candidate, int) {
	budget := total - len(round1)
	if budget < 0 {
		budget = 0
	}
	seen := make(map[string]bool, len(round1))
	for _, c := range round1 {
		seen[c.EventID] = true
	}
	combined := make([]memory.Candidate, len(round1), len(round1)+budget)
	copy(combined, round1)

	added := 0
	for _, list := range lists {
		for _, c := range list {
			if added >= budget {
				return combined, added
			}
			if seen[c.EventID] {
				continue
			}
			seen[c.EventID] = true
			combined = append(combined, c)
			added++
		}
	}
	return combined, added
}

// ---------------------------------------------------------------------------
// Model reply handling
// ---------------------------------------------------------------------------

type sufficiencyReply struct {
	IsSufficient       bool   `json:"is_sufficient"`
	Reasoning          string `json:"reasoning"`
	MissingInformation string `json:"missing_information"`
}

type multiQueryReply struct {
	Queries   []string `json:"queries"`
	Reasoning string   `json:"reasoning"`
}

// decodeReply decodes the first JSON object in a model reply into v.
func decodeReply(raw string, v any) error {
	payload, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return err
	}
	return llm.DecodeJSON([]byte(payload), v)
}

// formatDocuments renders candidates for the sufficiency judge, one block
// per memory.
func formatDocuments(memories []memory.Candidate) string {
	var b strings.Builder
	for i, c := range memories {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[memory %d]\ntime: %s\ncontent: %s\nrelevance: %.4f",
			i+1, c.Timestamp.Format(time.RFC3339), c.Episode, c.Score)
	}
	return b.String()
}

func candidateTexts(memories []memory.Candidate) []string {
	texts := make([]string, len(memories))
	for i, c := range memories {
		texts[i] = c.Episode
	}
	return texts
}

func headOf(memories []memory.Candidate, n int) []memory.Candidate {
	if n > 0 && len(memories) > n {
		return memories[:n]
	}
	return memories
}

func boolPtr(b bool) *bool { return &b }
