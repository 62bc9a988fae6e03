package cortex

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/storage"
)

// tombstoneTimeout bounds the archive write that runs inside the eviction
// hook, which carries no caller context.
const tombstoneTimeout = 5 * time.Second

// noteCluster records a cluster snapshot for the next drain. It runs as a
// cluster manager callback, which carries no context, so the actual profile
// extraction happens on whichever request drains the pending set.
func (s *Service) noteCluster(c memory.Cluster) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	s.pending[c.ID] = c
}

// drainPending takes the pending cluster snapshots, ordered by id.
func (s *Service) drainPending() []memory.Cluster {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]memory.Cluster, 0, len(s.pending))
	for _, c := range s.pending {
		out = append(out, c)
	}
	clear(s.pending)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// extractPendingProfiles turns the drained cluster updates into new profile
// versions. Each updated cluster's member cells are loaded, grouped by
// group id and folded into the user and group profiles of that group. Every
// failure degrades to a warning; profile extraction never fails the request
// that happened to trigger it.
func (s *Service) extractPendingProfiles(ctx context.Context, scenario string) []memory.Memory {
	updates := s.drainPending()
	if len(updates) == 0 {
		return nil
	}
	if scenario == "" {
		scenario = s.scenario
	}

	var out []memory.Memory
	for _, cl := range updates {
		snap := cl
		if err := s.repos.Clusters.Put(ctx, &snap); err != nil {
			s.logger.Warn("cluster snapshot put failed", "cluster_id", cl.ID, "error", err)
		}

		cells, err := s.repos.MemCells.GetByEventIDs(ctx, cl.MemberEventIDs)
		if err != nil {
			s.logger.Warn("loading cluster members failed",
				"cluster_id", cl.ID, "error", err)
			continue
		}
		if len(cells) == 0 {
			continue
		}

		for _, groupID := range groupOrder(cells) {
			batch := s.buildBatch(ctx, groupID, cellsOfGroup(cells, groupID), []string{cl.ID})
			batch.Scenario = scenario

			for _, kind := range []memory.Kind{memory.KindUserProfile, memory.KindGroupProfile} {
				mems, err := s.mux.Extract(ctx, kind, batch)
				if err != nil {
					s.logger.Warn("profile extraction failed",
						"kind", string(kind), "group_id", groupID,
						"cluster_id", cl.ID, "error", err)
					continue
				}
				for _, m := range mems {
					if err := s.persistProfile(ctx, m); err != nil {
						s.logger.Warn("profile put failed",
							"kind", string(m.Kind), "group_id", groupID, "error", err)
						continue
					}
					out = append(out, m)
				}
			}
		}
	}
	if len(out) > 0 {
		s.logger.Info("profiles updated from cluster changes",
			"clusters", len(updates), "profiles", len(out))
	}
	return out
}

func (s *Service) persistProfile(ctx context.Context, m memory.Memory) error {
	switch m.Kind {
	case memory.KindUserProfile:
		return s.repos.UserProfiles.Put(ctx, m.UserProfile)
	case memory.KindGroupProfile:
		return s.repos.GroupProfiles.Put(ctx, m.GroupProfile)
	}
	return errcode.Newf(errcode.InvalidParameter, "not a profile kind: %s", m.Kind)
}

// groupOrder lists the distinct group ids of cells in first-appearance
// order.
func groupOrder(cells []*memory.MemCell) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range cells {
		if c == nil || seen[c.GroupID] {
			continue
		}
		seen[c.GroupID] = true
		out = append(out, c.GroupID)
	}
	return out
}

func cellsOfGroup(cells []*memory.MemCell, groupID string) []*memory.MemCell {
	var out []*memory.MemCell
	for _, c := range cells {
		if c != nil && c.GroupID == groupID {
			out = append(out, c)
		}
	}
	return out
}

// Recluster rebuilds the topic clusters from every recorded embedding and
// folds the changed clusters into new profile versions. It returns the
// number of clusters after the pass. The automatic pass does the same every
// [Config.ReclusterEvery] recorded cells; this entry point is for callers
// that disabled it or want one now.
func (s *Service) Recluster(ctx context.Context, scenario string) (int, error) {
	if s.clusters == nil {
		return 0, errcode.New(errcode.InvalidParameter, "cortex: no cluster manager configured")
	}
	n := s.clusters.Recluster()
	mems := s.extractPendingProfiles(ctx, scenario)
	s.logger.Info("recluster pass finished", "clusters", n, "profiles", len(mems))
	return n, nil
}

// ---------------------------------------------------------------------------
// Archival
// ---------------------------------------------------------------------------

// profileSnapshot is the archive record written by [Service.SnapshotProfiles].
type profileSnapshot struct {
	GroupID      string                `json:"group_id"`
	TakenAt      time.Time             `json:"taken_at"`
	GroupProfile *memory.GroupProfile  `json:"group_profile,omitempty"`
	UserProfiles []*memory.UserProfile `json:"user_profiles,omitempty"`
}

// topicTombstone is the archive record for a topic pushed out of a group
// profile by the capacity rule.
type topicTombstone struct {
	GroupID   string       `json:"group_id"`
	Topic     memory.Topic `json:"topic"`
	EvictedAt time.Time    `json:"evicted_at"`
}

// SnapshotProfiles archives the group's current profile state: the latest
// group profile plus the latest profile of every user with an importance
// window there. It returns the path written.
func (s *Service) SnapshotProfiles(ctx context.Context, groupID string) (string, error) {
	if s.store == nil {
		return "", errcode.New(errcode.InvalidParameter, "cortex: no archive store configured")
	}
	if groupID == "" {
		return "", errcode.New(errcode.InvalidParameter, "snapshot request missing group_id")
	}

	snap := profileSnapshot{GroupID: groupID, TakenAt: time.Now().In(s.tz)}
	if gp, err := s.repos.GroupProfiles.Latest(ctx, groupID); err == nil {
		snap.GroupProfile = gp
	} else if !errors.Is(err, memory.ErrNotFound) {
		return "", err
	}

	windows, err := s.repos.Importance.ListByGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	for _, w := range windows {
		p, err := s.repos.UserProfiles.LatestByUserGroup(ctx, w.UserID, groupID)
		if err != nil {
			if !errors.Is(err, memory.ErrNotFound) {
				s.logger.Warn("profile lookup failed",
					"user_id", w.UserID, "group_id", groupID, "error", err)
			}
			continue
		}
		snap.UserProfiles = append(snap.UserProfiles, p)
	}

	path := storage.SnapshotPath(groupID, snap.TakenAt)
	if err := storage.WriteJSON(ctx, s.store, path, snap); err != nil {
		return "", err
	}
	s.logger.Info("profile snapshot written",
		"group_id", groupID, "path", path, "users", len(snap.UserProfiles))
	return path, nil
}

// archiveTopic is the group profile extractor's eviction hook. The eviction
// is always logged; with a store configured the topic is also written as a
// tombstone so it survives its removal from the live profile.
func (s *Service) archiveTopic(groupID string, t memory.Topic) {
	s.logger.Info("topic evicted from group profile",
		"group_id", groupID, "topic_id", t.ID, "name", t.Name)
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), tombstoneTimeout)
	defer cancel()
	path := storage.TopicTombstonePath(groupID, t.ID)
	if err := storage.WriteJSON(ctx, s.store, path, topicTombstone{
		GroupID:   groupID,
		Topic:     t,
		EvictedAt: time.Now().In(s.tz),
	}); err != nil {
		s.logger.Warn("topic tombstone write failed",
			"group_id", groupID, "topic_id", t.ID, "error", err)
	}
}
