package cortex

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/extract"
	"github.com/evermem/evermem/pkg/memory"
)

// FetchRequest reads stored records directly, no search involved.
type FetchRequest struct {
	// Kind selects the record type. Required.
	Kind memory.Kind `json:"memory_type"`

	// UserID scopes the read. Required except for group profiles and
	// group-scoped memcell reads.
	UserID string `json:"user_id,omitempty"`

	// GroupID narrows the read to one group. Required for group profiles,
	// memcells and event logs.
	GroupID string `json:"group_id,omitempty"`

	// MinVersion and MaxVersion bound profile versions, inclusive. Zero
	// means unbounded. A user profile fetch with neither bound nor a group
	// returns the merged cross-group view instead of a version list.
	MinVersion int64 `json:"min_version,omitempty"`
	MaxVersion int64 `json:"max_version,omitempty"`

	// Limit caps the returned list. Defaults to 10.
	Limit int `json:"limit,omitempty"`
}

// FetchMetadata describes how a fetch was answered.
type FetchMetadata struct {
	Kind    memory.Kind `json:"memory_type"`
	UserID  string      `json:"user_id,omitempty"`
	GroupID string      `json:"group_id,omitempty"`

	// Merged marks the cross-group user profile view.
	Merged bool `json:"merged,omitempty"`

	LatencyMS int64 `json:"total_latency_ms"`
}

// FetchResponse is the answer to one fetch. TotalCount counts the records
// matching the request before the limit cut; HasMore says the cut dropped
// some.
type FetchResponse struct {
	Memories   []memory.Memory `json:"memories"`
	TotalCount int             `json:"total_count"`
	HasMore    bool            `json:"has_more"`
	Metadata   FetchMetadata   `json:"metadata"`
}

// FetchMem reads stored memories by kind: episodes and foresights by user,
// profiles by version, recent memcells and their event logs by group. User
// profile fetches without a group or version bound return the merged
// cross-group profile, where groups the user barely participates in
// contribute only their project history.
func (s *Service) FetchMem(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	start := time.Now()
	if req.Limit <= 0 {
		req.Limit = 10
	}

	var (
		mems   []memory.Memory
		total  int
		merged bool
		err    error
	)
	switch req.Kind {
	case memory.KindEpisode:
		mems, total, err = s.fetchEpisodes(ctx, req)
	case memory.KindForesight:
		mems, total, err = s.fetchForesights(ctx, req)
	case memory.KindUserProfile:
		mems, total, merged, err = s.fetchUserProfiles(ctx, req)
	case memory.KindGroupProfile:
		mems, total, err = s.fetchGroupProfiles(ctx, req)
	case memory.KindMemCell, memory.KindEventLog:
		mems, total, err = s.fetchRecentCells(ctx, req)
	default:
		err = errcode.Newf(errcode.InvalidParameter, "unknown memory type %q", string(req.Kind))
	}
	if err != nil {
		return nil, err
	}

	return &FetchResponse{
		Memories:   mems,
		TotalCount: total,
		HasMore:    total > len(mems),
		Metadata: FetchMetadata{
			Kind:      req.Kind,
			UserID:    req.UserID,
			GroupID:   req.GroupID,
			Merged:    merged,
			LatencyMS: time.Since(start).Milliseconds(),
		},
	}, nil
}

func (s *Service) fetchEpisodes(ctx context.Context, req FetchRequest) ([]memory.Memory, int, error) {
	if req.UserID == "" {
		return nil, 0, errcode.New(errcode.InvalidParameter, "episode fetch requires user_id")
	}
	var eps []*memory.Episode
	var err error
	if req.GroupID != "" {
		eps, err = s.repos.Episodes.ListByUserGroup(ctx, req.UserID, req.GroupID, 0)
	} else {
		eps, err = s.repos.Episodes.ListByUser(ctx, req.UserID, 0)
	}
	if err != nil {
		return nil, 0, err
	}
	total := len(eps)
	mems := make([]memory.Memory, 0, min(total, req.Limit))
	for _, ep := range cut(eps, req.Limit) {
		mems = append(mems, memory.Memory{Kind: memory.KindEpisode, Episode: ep})
	}
	return mems, total, nil
}

func (s *Service) fetchForesights(ctx context.Context, req FetchRequest) ([]memory.Memory, int, error) {
	if req.UserID == "" {
		return nil, 0, errcode.New(errcode.InvalidParameter, "foresight fetch requires user_id")
	}
	all, err := s.repos.Foresights.ListByUser(ctx, req.UserID, 0)
	if err != nil {
		return nil, 0, err
	}
	kept := all[:0]
	for _, f := range all {
		if req.GroupID == "" || f.GroupID == req.GroupID {
			kept = append(kept, f)
		}
	}
	total := len(kept)
	mems := make([]memory.Memory, 0, min(total, req.Limit))
	for _, f := range cut(kept, req.Limit) {
		mems = append(mems, memory.Memory{Kind: memory.KindForesight, Foresight: f})
	}
	return mems, total, nil
}

func (s *Service) fetchUserProfiles(ctx context.Context, req FetchRequest) ([]memory.Memory, int, bool, error) {
	if req.UserID == "" {
		return nil, 0, false, errcode.New(errcode.InvalidParameter, "user profile fetch requires user_id")
	}

	if req.GroupID != "" || req.MinVersion > 0 || req.MaxVersion > 0 {
		versions, err := s.repos.UserProfiles.ListVersions(ctx, req.UserID, req.GroupID, 0)
		if err != nil {
			return nil, 0, false, err
		}
		versions = filterVersions(versions, req.MinVersion, req.MaxVersion,
			func(p *memory.UserProfile) int64 { return p.Version })
		total := len(versions)
		mems := make([]memory.Memory, 0, min(total, req.Limit))
		for _, p := range cut(versions, req.Limit) {
			mems = append(mems, memory.Memory{Kind: memory.KindUserProfile, UserProfile: p})
		}
		return mems, total, false, nil
	}

	// No scope at all: merge the user's latest profile from every group.
	groups, err := s.repos.UserProfiles.GroupsOf(ctx, req.UserID)
	if err != nil {
		return nil, 0, false, err
	}
	if len(groups) == 0 {
		return nil, 0, true, nil
	}
	pairs := make([]memory.UserGroup, 0, len(groups))
	for _, g := range groups {
		pairs = append(pairs, memory.UserGroup{UserID: req.UserID, GroupID: g})
	}
	profiles, err := s.repos.UserProfiles.BatchLatestByUserGroups(ctx, pairs)
	if err != nil {
		return nil, 0, false, err
	}
	importance := make(map[string]*memory.GroupImportanceEvidence, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		w, err := s.repos.Importance.Get(ctx, req.UserID, g)
		if err != nil {
			if !errors.Is(err, memory.ErrNotFound) {
				s.logger.Warn("importance lookup failed",
					"user_id", req.UserID, "group_id", g, "error", err)
			}
			continue
		}
		importance[g] = w
	}
	p := extract.MergeUserProfiles(profiles, importance)
	if p == nil {
		return nil, 0, true, nil
	}
	return []memory.Memory{{Kind: memory.KindUserProfile, UserProfile: p}}, 1, true, nil
}

func (s *Service) fetchGroupProfiles(ctx context.Context, req FetchRequest) ([]memory.Memory, int, error) {
	if req.GroupID == "" {
		return nil, 0, errcode.New(errcode.InvalidParameter, "group profile fetch requires group_id")
	}
	versions, err := s.repos.GroupProfiles.ListVersions(ctx, req.GroupID, 0)
	if err != nil {
		return nil, 0, err
	}
	versions = filterVersions(versions, req.MinVersion, req.MaxVersion,
		func(p *memory.GroupProfile) int64 { return p.Version })
	total := len(versions)
	mems := make([]memory.Memory, 0, min(total, req.Limit))
	for _, p := range cut(versions, req.Limit) {
		mems = append(mems, memory.Memory{Kind: memory.KindGroupProfile, GroupProfile: p})
	}
	return mems, total, nil
}

// fetchRecentCells reads the group's latest closed cells through the
// recency cache. Event-log fetches return the fact records of the same
// cells.
func (s *Service) fetchRecentCells(ctx context.Context, req FetchRequest) ([]memory.Memory, int, error) {
	if req.GroupID == "" {
		return nil, 0, errcode.New(errcode.InvalidParameter, "memcell fetch requires group_id")
	}
	if s.recents == nil {
		return nil, 0, errcode.New(errcode.InvalidParameter, "cortex: no recency cache configured")
	}

	n := s.recents.Size(ctx, req.GroupID)
	ids := make([]string, 0, n)
	for _, e := range s.recents.Latest(ctx, req.GroupID, int(n)) {
		if id, ok := e.Data.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	cells, err := s.repos.MemCells.GetByEventIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	kept := cells[:0]
	for _, c := range cells {
		if req.UserID != "" && !c.HasParticipant(req.UserID) {
			continue
		}
		if req.Kind == memory.KindEventLog && c.EventLog == nil {
			continue
		}
		kept = append(kept, c)
	}
	total := len(kept)
	mems := make([]memory.Memory, 0, min(total, req.Limit))
	for _, c := range cut(kept, req.Limit) {
		if req.Kind == memory.KindEventLog {
			mems = append(mems, memory.Memory{Kind: memory.KindEventLog, EventLog: c.EventLog})
		} else {
			mems = append(mems, memory.Memory{Kind: memory.KindMemCell, MemCell: c})
		}
	}
	return mems, total, nil
}

func cut[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

func filterVersions[T any](list []T, lo, hi int64, version func(T) int64) []T {
	if lo <= 0 && hi <= 0 {
		return list
	}
	out := make([]T, 0, len(list))
	for _, v := range list {
		n := version(v)
		if lo > 0 && n < lo {
			continue
		}
		if hi > 0 && n > hi {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ---------------------------------------------------------------------------
// Foresight ingestion
// ---------------------------------------------------------------------------

// PutForesight stores a forward-looking note and indexes it for retrieval.
// A missing event id is assigned; the content is embedded when an embedder
// is configured.
func (s *Service) PutForesight(ctx context.Context, f *memory.Foresight) error {
	if f == nil || f.Content == "" {
		return errcode.New(errcode.InvalidParameter, "foresight missing content")
	}
	if f.EventID == "" {
		f.EventID = uuid.NewString()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().In(s.tz)
	}
	if s.embedder != nil && len(f.Extend.Embedding) == 0 {
		vec, err := s.embedder.Embed(ctx, f.Content)
		if err != nil {
			return err
		}
		f.Extend = memory.Extend{Embedding: vec, EmbeddingModel: s.embedModel}
	}
	if err := s.repos.Foresights.Put(ctx, f); err != nil {
		return err
	}

	doc := memory.ForesightDoc(f)
	if err := s.repos.ForesightIndex.Lexical.Index(ctx, doc); err != nil {
		s.logger.Warn("foresight lexical index failed", "id", doc.ID, "error", err)
	}
	if len(f.Extend.Embedding) > 0 {
		if err := s.repos.ForesightIndex.Dense.Index(ctx, doc, f.Extend.Embedding); err != nil {
			s.logger.Warn("foresight dense index failed", "id", doc.ID, "error", err)
		}
	}
	return nil
}
