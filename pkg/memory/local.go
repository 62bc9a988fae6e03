package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/kv"
	"github.com/evermem/evermem/pkg/vecstore"
)

// NewLocalRepos builds an all-in-one repository bundle: documents in a
// single [kv.Store] (msgpack-encoded under the layout in keys.go), dense
// search in in-process [vecstore.Memory] indexes, lexical search in
// in-process BM25 indexes.
//
// The local repositories favor simplicity over scale. List operations scan
// their key prefix and filter in memory; driver-backed deployments replace
// them with document, vector and text stores that index natively.
func NewLocalRepos(store kv.Store) *Repos {
	return &Repos{
		MemCells:      &localMemCells{store: store},
		Episodes:      &localEpisodes{store: store},
		Foresights:    &localForesights{store: store},
		UserProfiles:  &localUserProfiles{store: store},
		GroupProfiles: &localGroupProfiles{store: store},
		Importance:    &localImportance{store: store},
		Clusters:      &localClusters{store: store},

		EpisodeIndex:   NewLocalSearchPair(),
		EventLogIndex:  NewLocalSearchPair(),
		ForesightIndex: NewLocalSearchPair(),
	}
}

// NewLocalSearchPair builds an in-process dense + lexical index pair.
func NewLocalSearchPair() SearchPair {
	return SearchPair{
		Dense:   NewLocalDense(vecstore.NewMemory()),
		Lexical: NewLocalLexical(),
	}
}

func putRecord(ctx context.Context, store kv.Store, key kv.Key, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return store.Set(ctx, key, data)
}

func getRecord[T any](ctx context.Context, store kv.Store, key kv.Key) (*T, error) {
	data, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &v, nil
}

// ---------------------------------------------------------------------------
// MemCells
// ---------------------------------------------------------------------------

type localMemCells struct{ store kv.Store }

var _ MemCellRepo = (*localMemCells)(nil)

func (r *localMemCells) Put(ctx context.Context, cell *MemCell) error {
	if cell.EventID == "" {
		return errcode.New(errcode.InvalidParameter, "memcell missing event_id")
	}
	return putRecord(ctx, r.store, memCellKey(cell.EventID), cell)
}

func (r *localMemCells) Get(ctx context.Context, eventID string) (*MemCell, error) {
	return getRecord[MemCell](ctx, r.store, memCellKey(eventID))
}

func (r *localMemCells) GetByEventIDs(ctx context.Context, eventIDs []string) ([]*MemCell, error) {
	keys := make([]kv.Key, len(eventIDs))
	for i, id := range eventIDs {
		keys[i] = memCellKey(id)
	}
	values, err := r.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	cells := make([]*MemCell, 0, len(values))
	for i, data := range values {
		if data == nil {
			continue
		}
		var c MemCell
		if err := msgpack.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", keys[i], err)
		}
		cells = append(cells, &c)
	}
	return cells, nil
}

// ---------------------------------------------------------------------------
// Episodes
// ---------------------------------------------------------------------------

type localEpisodes struct{ store kv.Store }

var _ EpisodeRepo = (*localEpisodes)(nil)

func (r *localEpisodes) Put(ctx context.Context, ep *Episode) error {
	eventID := ep.EventID()
	if eventID == "" {
		return errcode.New(errcode.InvalidParameter, "episode missing memcell event id")
	}
	return putRecord(ctx, r.store, episodeKey(eventID, ep.UserID), ep)
}

func (r *localEpisodes) Get(ctx context.Context, eventID, userID string) (*Episode, error) {
	return getRecord[Episode](ctx, r.store, episodeKey(eventID, userID))
}

func (r *localEpisodes) ListByUser(ctx context.Context, userID string, limit int) ([]*Episode, error) {
	return r.list(ctx, limit, func(e *Episode) bool { return e.UserID == userID })
}

func (r *localEpisodes) ListByUserGroup(ctx context.Context, userID, groupID string, limit int) ([]*Episode, error) {
	return r.list(ctx, limit, func(e *Episode) bool {
		return e.UserID == userID && e.GroupID == groupID
	})
}

func (r *localEpisodes) list(ctx context.Context, limit int, keep func(*Episode) bool) ([]*Episode, error) {
	var out []*Episode
	for entry, err := range r.store.List(ctx, kv.Key{"ep"}) {
		if err != nil {
			return nil, err
		}
		var e Episode
		if err := msgpack.Unmarshal(entry.Value, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", entry.Key, err)
		}
		if keep(&e) {
			out = append(out, &e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Foresights
// ---------------------------------------------------------------------------

type localForesights struct{ store kv.Store }

var _ ForesightRepo = (*localForesights)(nil)

func (r *localForesights) Put(ctx context.Context, f *Foresight) error {
	if f.EventID == "" {
		return errcode.New(errcode.InvalidParameter, "foresight missing event_id")
	}
	return putRecord(ctx, r.store, foresightKey(f.EventID), f)
}

func (r *localForesights) Get(ctx context.Context, eventID string) (*Foresight, error) {
	return getRecord[Foresight](ctx, r.store, foresightKey(eventID))
}

func (r *localForesights) ListByUser(ctx context.Context, userID string, limit int) ([]*Foresight, error) {
	var out []*Foresight
	for entry, err := range r.store.List(ctx, kv.Key{"fs"}) {
		if err != nil {
			return nil, err
		}
		var f Foresight
		if err := msgpack.Unmarshal(entry.Value, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", entry.Key, err)
		}
		if f.UserID == userID {
			out = append(out, &f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// UserProfiles
// ---------------------------------------------------------------------------

type localUserProfiles struct {
	store kv.Store

	// mu serializes version allocation in Put.
	mu sync.Mutex
}

var _ UserProfileRepo = (*localUserProfiles)(nil)

func (r *localUserProfiles) Put(ctx context.Context, p *UserProfile) error {
	if p.UserID == "" {
		return errcode.New(errcode.InvalidParameter, "user profile missing user_id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	latest, err := latestVersion(ctx, r.store, userProfilePrefix(p.UserID, p.GroupID))
	if err != nil {
		return err
	}
	p.Version = latest + 1
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	return putRecord(ctx, r.store, userProfileKey(p.UserID, p.GroupID, p.Version), p)
}

func (r *localUserProfiles) LatestByUserGroup(ctx context.Context, userID, groupID string) (*UserProfile, error) {
	return latestRecord[UserProfile](ctx, r.store, userProfilePrefix(userID, groupID))
}

func (r *localUserProfiles) BatchLatestByUserGroups(ctx context.Context, pairs []UserGroup) ([]*UserProfile, error) {
	out := make([]*UserProfile, 0, len(pairs))
	for _, pair := range pairs {
		p, err := r.LatestByUserGroup(ctx, pair.UserID, pair.GroupID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *localUserProfiles) ListVersions(ctx context.Context, userID, groupID string, limit int) ([]*UserProfile, error) {
	return listVersions[UserProfile](ctx, r.store, userProfilePrefix(userID, groupID), limit)
}

func (r *localUserProfiles) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for entry, err := range r.store.List(ctx, kv.Key{"up", userID}) {
		if err != nil {
			return nil, err
		}
		// Key shape: up:{user}:{group|-}:{version}.
		if len(entry.Key) < 3 {
			continue
		}
		g := entry.Key[2]
		if g == "-" {
			g = ""
		}
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// GroupProfiles
// ---------------------------------------------------------------------------

type localGroupProfiles struct {
	store kv.Store
	mu    sync.Mutex
}

var _ GroupProfileRepo = (*localGroupProfiles)(nil)

func (r *localGroupProfiles) Put(ctx context.Context, p *GroupProfile) error {
	if p.GroupID == "" {
		return errcode.New(errcode.InvalidParameter, "group profile missing group_id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	latest, err := latestVersion(ctx, r.store, groupProfilePrefix(p.GroupID))
	if err != nil {
		return err
	}
	p.Version = latest + 1
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	return putRecord(ctx, r.store, groupProfileKey(p.GroupID, p.Version), p)
}

func (r *localGroupProfiles) Latest(ctx context.Context, groupID string) (*GroupProfile, error) {
	return latestRecord[GroupProfile](ctx, r.store, groupProfilePrefix(groupID))
}

func (r *localGroupProfiles) ListVersions(ctx context.Context, groupID string, limit int) ([]*GroupProfile, error) {
	return listVersions[GroupProfile](ctx, r.store, groupProfilePrefix(groupID), limit)
}

// latestVersion parses the trailing version segment of the last key under
// prefix, 0 when the prefix is empty. Scan order is lexicographic and the
// segment is zero-padded, so the last key holds the highest version.
func latestVersion(ctx context.Context, store kv.Store, prefix kv.Key) (int64, error) {
	var last kv.Key
	for entry, err := range store.List(ctx, prefix) {
		if err != nil {
			return 0, err
		}
		last = entry.Key
	}
	if last == nil {
		return 0, nil
	}
	seg := last[len(last)-1]
	v, err := strconv.ParseInt(seg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad version segment %q: %w", seg, err)
	}
	return v, nil
}

func latestRecord[T any](ctx context.Context, store kv.Store, prefix kv.Key) (*T, error) {
	var data []byte
	var key kv.Key
	for entry, err := range store.List(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		data, key = entry.Value, entry.Key
	}
	if data == nil {
		return nil, ErrNotFound
	}
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &v, nil
}

func listVersions[T any](ctx context.Context, store kv.Store, prefix kv.Key, limit int) ([]*T, error) {
	var out []*T
	for entry, err := range store.List(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		var v T
		if err := msgpack.Unmarshal(entry.Value, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", entry.Key, err)
		}
		out = append(out, &v)
	}
	// Scan order is version ascending; callers want newest first.
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Importance
// ---------------------------------------------------------------------------

type localImportance struct{ store kv.Store }

var _ ImportanceRepo = (*localImportance)(nil)

func (r *localImportance) Put(ctx context.Context, ev *GroupImportanceEvidence) error {
	if ev.UserID == "" || ev.GroupID == "" {
		return errcode.New(errcode.InvalidParameter, "importance evidence missing user_id or group_id")
	}
	return putRecord(ctx, r.store, importanceKey(ev.UserID, ev.GroupID), ev)
}

func (r *localImportance) Get(ctx context.Context, userID, groupID string) (*GroupImportanceEvidence, error) {
	return getRecord[GroupImportanceEvidence](ctx, r.store, importanceKey(userID, groupID))
}

func (r *localImportance) ListByGroup(ctx context.Context, groupID string) ([]*GroupImportanceEvidence, error) {
	var out []*GroupImportanceEvidence
	for entry, err := range r.store.List(ctx, importancePrefix(groupID)) {
		if err != nil {
			return nil, err
		}
		var ev GroupImportanceEvidence
		if err := msgpack.Unmarshal(entry.Value, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", entry.Key, err)
		}
		out = append(out, &ev)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Clusters
// ---------------------------------------------------------------------------

type localClusters struct{ store kv.Store }

var _ ClusterRepo = (*localClusters)(nil)

func (r *localClusters) Put(ctx context.Context, c *Cluster) error {
	if c.ID == "" {
		return errcode.New(errcode.InvalidParameter, "cluster missing id")
	}
	return putRecord(ctx, r.store, clusterKey(c.ID), c)
}

func (r *localClusters) Get(ctx context.Context, id string) (*Cluster, error) {
	return getRecord[Cluster](ctx, r.store, clusterKey(id))
}

func (r *localClusters) List(ctx context.Context) ([]*Cluster, error) {
	var out []*Cluster
	for entry, err := range r.store.List(ctx, kv.Key{"cluster"}) {
		if err != nil {
			return nil, err
		}
		var c Cluster
		if err := msgpack.Unmarshal(entry.Value, &c); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", entry.Key, err)
		}
		out = append(out, &c)
	}
	return out, nil
}

func (r *localClusters) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, clusterKey(id))
}
