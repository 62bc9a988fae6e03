// Package cortex assembles the memory system into one service.
//
// A [Service] owns the full pipeline: buffering raw messages, cutting them
// into memory cells, deriving episodes, event logs and profiles, indexing
// what retrieval needs, and answering queries. Callers construct it once
// from a [Config] and speak to the service surface only; the packages
// underneath (extract, retrieval, queue, cache, cluster) stay wiring
// details.
//
// # Ingestion
//
// [Service.DeliverMemorize] is the synchronous entry point: it appends the
// request's messages to the group's rolling buffer and, when the boundary
// detector closes the buffered topic, runs the whole derivation cascade
// before returning the records it produced. [Service.EnqueueMemorize] defers
// the same work through the partitioned Redis queue, and [Service.Worker]
// drains that queue calling DeliverMemorize per message.
//
// # Retrieval
//
// [Service.RetrieveLightweight] answers one query over the hybrid indexes;
// [Service.RetrieveAgentic] wraps it in the two-round sufficiency loop;
// [Service.FetchMem] reads stored records directly, no search involved.
//
// # Degradation
//
// Required capabilities are the repositories and the text generation model;
// New panics without them. Everything else narrows behavior when absent:
// no Embedder means lexical-only indexing and no clustering, no Queue means
// no deferred ingestion, no History cache means DeliverMemorize rejects, no
// Store means no snapshots or topic tombstones.
package cortex

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evermem/evermem/pkg/cache"
	"github.com/evermem/evermem/pkg/cluster"
	"github.com/evermem/evermem/pkg/embed"
	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/extract"
	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/prompts"
	"github.com/evermem/evermem/pkg/queue"
	"github.com/evermem/evermem/pkg/rerank"
	"github.com/evermem/evermem/pkg/retrieval"
	"github.com/evermem/evermem/pkg/storage"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config wires a [Service]. Repos and Generator are required; the other
// capabilities are optional and their absence narrows behavior as described
// in the package comment.
type Config struct {
	// Repos is the repository bundle everything persists through. Required.
	Repos *memory.Repos

	// Generator is the text generation model behind extraction and the
	// agentic loop. Required.
	Generator llm.Generator

	// Embedder embeds episode narratives, atomic facts and foresight
	// content. Nil leaves records unembedded: lexical search still works,
	// dense search and clustering do not.
	Embedder embed.Embedder

	// Reranker reorders the agentic loop's merged candidate pool. Nil keeps
	// fusion order.
	Reranker rerank.Reranker

	// Queue carries deferred memorize requests. Nil disables
	// [Service.EnqueueMemorize] and [Service.Worker].
	Queue *queue.Queue

	// History buffers each group's open conversation slice. Nil makes
	// DeliverMemorize reject, since the boundary detector has nothing to
	// judge against.
	History *cache.Window

	// Recents tracks each group's latest closed cell event ids. Nil skips
	// the bookkeeping and disables memcell fetches.
	Recents *cache.Length

	// Store archives profile snapshots and evicted topics. Nil disables
	// both.
	Store storage.FileStore

	// Clusters groups cell embeddings into topics. Nil builds an in-process
	// manager when an Embedder is configured.
	Clusters *cluster.Manager

	// Prompts is the template registry. Nil builds the built-in registry.
	Prompts *prompts.Registry

	// Locale selects the prompt language. Defaults to [prompts.DefaultLocale].
	Locale string

	// TZ anchors timestamps rendered into prompts and stamped on derived
	// records. Defaults to UTC.
	TZ *time.Location

	// EmbeddingModel names the model recorded next to embeddings.
	EmbeddingModel string

	// MaxTopics caps the group profile's tracked topic set. Zero selects
	// the extractor default.
	MaxTopics int

	// Scenario labels profile versions written outside an explicit request
	// scenario.
	Scenario string

	// ReclusterEvery re-runs the offline clustering pass after that many
	// recorded cell embeddings. Zero selects 5; negative disables the
	// automatic pass, leaving [Service.Recluster] to the caller.
	ReclusterEvery int

	// Loop tunes the agentic retrieval loop. The zero value selects
	// [retrieval.DefaultLoopConfig].
	Loop retrieval.LoopConfig

	// Poll is the worker's idle wait between queue fetches. Defaults to 1s.
	Poll time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Prompts == nil {
		c.Prompts = prompts.New(c.Logger)
	}
	if c.Locale == "" {
		c.Locale = prompts.DefaultLocale
	}
	if c.TZ == nil {
		c.TZ = time.UTC
	}
	if c.ReclusterEvery == 0 {
		c.ReclusterEvery = 5
	}
	if c.Poll <= 0 {
		c.Poll = time.Second
	}
	return c
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service is the assembled memory system.
type Service struct {
	repos      *memory.Repos
	gen        llm.Generator
	embedder   embed.Embedder
	embedModel string
	queue      *queue.Queue
	history    *cache.Window
	recents    *cache.Length
	store      storage.FileStore
	clusters   *cluster.Manager
	tz         *time.Location
	scenario   string
	reEvery    int
	poll       time.Duration
	logger     *slog.Logger

	memcells   *extract.MemCellExtractor
	episodes   *extract.EpisodeExtractor
	eventlogs  *extract.EventLogExtractor
	importance *extract.ImportanceCollector
	mux        *extract.Mux

	engine *retrieval.Engine
	agent  *retrieval.Agent

	// pending holds cluster snapshots observed since the last drain. The
	// cluster manager's callbacks carry no context, so profile extraction
	// runs later, on the request that drains them.
	pendMu  sync.Mutex
	pending map[string]memory.Cluster
}

// New builds a Service. Missing required capabilities are programmer errors
// and panic; a registry whose dictionaries do not validate is a deployment
// error and returns it.
func New(cfg Config) (*Service, error) {
	if cfg.Repos == nil {
		panic("cortex: Config.Repos is required")
	}
	if cfg.Generator == nil {
		panic("cortex: Config.Generator is required")
	}
	cfg = cfg.withDefaults()

	if err := errcode.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Prompts.Validate(); err != nil {
		return nil, err
	}

	manager := cfg.Clusters
	if manager == nil && cfg.Embedder != nil {
		manager = cluster.New(cluster.Config{
			Dim:    cfg.Embedder.Dimension(),
			Prefix: "topic",
		})
	}

	s := &Service{
		repos:      cfg.Repos,
		gen:        cfg.Generator,
		embedder:   cfg.Embedder,
		embedModel: cfg.EmbeddingModel,
		queue:      cfg.Queue,
		history:    cfg.History,
		recents:    cfg.Recents,
		store:      cfg.Store,
		clusters:   manager,
		tz:         cfg.TZ,
		scenario:   cfg.Scenario,
		reEvery:    cfg.ReclusterEvery,
		poll:       cfg.Poll,
		logger:     cfg.Logger,
		pending:    make(map[string]memory.Cluster),
	}

	xcfg := extract.Config{
		Generator:      cfg.Generator,
		Embedder:       cfg.Embedder,
		Prompts:        cfg.Prompts,
		EmbeddingModel: cfg.EmbeddingModel,
		Locale:         cfg.Locale,
		TZ:             cfg.TZ,
		MaxTopics:      cfg.MaxTopics,
		Logger:         cfg.Logger,
	}
	s.memcells = extract.NewMemCellExtractor(xcfg)
	s.episodes = extract.NewEpisodeExtractor(xcfg)
	s.eventlogs = extract.NewEventLogExtractor(xcfg)
	s.importance = extract.NewImportanceCollector(cfg.Logger)

	groupX := extract.NewGroupProfileExtractor(xcfg)
	groupX.OnEvictTopic = s.archiveTopic

	s.mux = extract.NewMux()
	for _, x := range []extract.Extractor{
		s.episodes,
		s.eventlogs,
		extract.NewUserProfileExtractor(xcfg),
		groupX,
	} {
		if err := s.mux.Handle(x); err != nil {
			return nil, err
		}
	}

	s.engine = retrieval.NewEngine(retrieval.Config{
		Repos:    *cfg.Repos,
		Embedder: cfg.Embedder,
		Reranker: cfg.Reranker,
		Logger:   cfg.Logger,
	})
	s.agent = retrieval.NewAgent(retrieval.AgentConfig{
		Engine:    s.engine,
		Generator: cfg.Generator,
		Prompts:   cfg.Prompts,
		Locale:    cfg.Locale,
		Loop:      cfg.Loop,
		Logger:    cfg.Logger,
	})

	if s.clusters != nil {
		s.clusters.OnUpdate(s.noteCluster)
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Extraction surface
// ---------------------------------------------------------------------------

// ExtractMemCell judges whether fresh closes the buffered history into a
// cell, without touching the service's own buffers. The cell is nil while
// the topic stays open; the boundary result says whether to keep waiting.
func (s *Service) ExtractMemCell(ctx context.Context, groupID string, history, fresh []memory.RawMessage) (*memory.MemCell, *extract.BoundaryResult, error) {
	return s.memcells.Extract(ctx, groupID, history, fresh)
}

// ExtractMemory runs the extractor registered for kind over cells, loading
// the accumulated state (profiles, importance windows) the extractor folds
// into. The results are returned, not persisted; the ingestion cascade is
// the writing path.
func (s *Service) ExtractMemory(ctx context.Context, kind memory.Kind, cells []*memory.MemCell, userID string) ([]memory.Memory, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	groupID := ""
	for _, c := range cells {
		if c != nil {
			groupID = c.GroupID
			break
		}
	}
	batch := s.buildBatch(ctx, groupID, cells, nil)
	batch.UserID = userID
	return s.mux.Extract(ctx, kind, batch)
}

// ---------------------------------------------------------------------------
// Retrieval surface
// ---------------------------------------------------------------------------

// RetrieveLightweight answers one query over the hybrid indexes.
func (s *Service) RetrieveLightweight(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	return s.engine.Retrieve(ctx, req)
}

// RetrieveAgentic answers one query through the two-round sufficiency loop.
func (s *Service) RetrieveAgentic(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	return s.agent.Retrieve(ctx, req)
}

// RetrieveGrouped fans one query across every group the user appears in.
func (s *Service) RetrieveGrouped(ctx context.Context, req retrieval.Request) (*retrieval.GroupedResponse, error) {
	return s.engine.RetrieveGrouped(ctx, req)
}
