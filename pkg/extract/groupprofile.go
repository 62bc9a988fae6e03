package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/prompts"
)

// roleEvidenceCap bounds a role assignment's merged evidence list. Role
// evidence accumulates across many batches, so the window is wider than
// the per-entry profile cap.
const roleEvidenceCap = 50

// topicStaleAfter is how long an implemented topic may sit inactive before
// eviction prefers it.
const topicStaleAfter = 30 * 24 * time.Hour

// GroupProfileExtractor maintains the group-wide profile: the running
// subject and summary, the tracked topic set and the behavioral role map.
// Topic and role extraction run as two independent model calls in
// parallel; a side that keeps failing falls back to the existing profile
// rather than losing the other side's result.
type GroupProfileExtractor struct {
	gen       llm.Generator
	prompts   *prompts.Registry
	locale    string
	tz        *time.Location
	maxTopics int
	logger    *slog.Logger

	// OnEvictTopic, when set, observes every topic pushed out of the
	// profile by the capacity rule before it is gone.
	OnEvictTopic func(groupID string, t memory.Topic)
}

// NewGroupProfileExtractor builds a group profile extractor from cfg.
func NewGroupProfileExtractor(cfg Config) *GroupProfileExtractor {
	cfg = cfg.withDefaults()
	return &GroupProfileExtractor{
		gen:       cfg.Generator,
		prompts:   cfg.Prompts,
		locale:    cfg.Locale,
		tz:        cfg.TZ,
		maxTopics: cfg.MaxTopics,
		logger:    cfg.Logger,
	}
}

func (x *GroupProfileExtractor) Kind() memory.Kind { return memory.KindGroupProfile }

type groupContentReply struct {
	Subject string         `json:"subject"`
	Summary string         `json:"summary"`
	Topics  []memory.Topic `json:"topics"`
}

type groupBehaviorReply struct {
	Roles map[string][]memory.RoleAssignment `json:"roles"`
}

// Extract folds the batch into the existing group profile. The returned
// profile is a new value; the one on the batch is not touched. When both
// extraction sides fail nothing is returned, so no empty version is
// written.
func (x *GroupProfileExtractor) Extract(ctx context.Context, batch Batch) ([]memory.Memory, error) {
	if len(batch.Cells) == 0 {
		return nil, nil
	}
	existing := batch.GroupProfile
	if existing == nil {
		existing = &memory.GroupProfile{GroupID: batch.GroupID}
	}

	conversation := annotatedConversation(batch.Cells, x.tz)
	ec := newEvidenceContext(batch.Cells, x.tz)
	ec.inheritGroup(existing)
	reference := batch.latestTimestamp()
	if reference.IsZero() {
		reference = time.Now().In(x.tz)
	}

	var (
		wg       sync.WaitGroup
		content  *groupContentReply
		behavior *groupBehaviorReply
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		content = x.runContent(ctx, existing.Topics, conversation)
	}()
	go func() {
		defer wg.Done()
		behavior = x.runBehavior(ctx, existing.Roles, conversation)
	}()
	wg.Wait()
	if content == nil && behavior == nil {
		x.logger.Warn("group profile extraction failed on both sides, keeping existing",
			"group_id", batch.GroupID)
		return nil, nil
	}

	profile := &memory.GroupProfile{
		GroupID:   batch.GroupID,
		Subject:   existing.Subject,
		Summary:   existing.Summary,
		Topics:    slices.Clone(existing.Topics),
		Roles:     cloneRoles(existing.Roles),
		Version:   existing.Version,
		UpdatedAt: time.Now().In(x.tz),
	}
	if content != nil {
		if content.Subject != "" {
			profile.Subject = content.Subject
		}
		if content.Summary != "" {
			profile.Summary = content.Summary
		}
		profile.Topics = x.mergeTopics(existing.Topics, content.Topics, ec, reference, batch.GroupID)
	}
	if behavior != nil {
		profile.Roles = x.mergeRoles(existing.Roles, behavior.Roles, ec)
	}
	if ec.dropped > 0 {
		x.logger.Warn("dropped unverifiable group evidences",
			"group_id", batch.GroupID, "count", ec.dropped)
	}
	return []memory.Memory{{Kind: memory.KindGroupProfile, GroupProfile: profile}}, nil
}

func (x *GroupProfileExtractor) runContent(ctx context.Context, topics []memory.Topic, conversation string) *groupContentReply {
	type topicView struct {
		ID      string             `json:"id"`
		Name    string             `json:"name"`
		Summary string             `json:"summary,omitempty"`
		Status  memory.TopicStatus `json:"status,omitempty"`
	}
	views := make([]topicView, 0, len(topics))
	for _, t := range topics {
		views = append(views, topicView{ID: t.ID, Name: t.Name, Summary: t.Summary, Status: t.Status})
	}
	existingJSON, err := json.Marshal(views)
	if err != nil {
		existingJSON = []byte("[]")
	}
	prompt, err := x.prompts.Render(x.locale, prompts.GroupContent, map[string]string{
		"existing_topics": string(existingJSON),
		"conversation":    conversation,
		"max_topics":      strconv.Itoa(x.maxTopics),
	})
	if err != nil {
		x.logger.Warn("group content prompt failed", "error", err)
		return nil
	}
	var reply groupContentReply
	if _, err := generateParsed(ctx, x.gen, prompt, profileAttempts, func(out string) error {
		reply = groupContentReply{}
		return decodeFenced(out, &reply)
	}); err != nil {
		x.logger.Warn("group content extraction failed, keeping existing topics", "error", err)
		return nil
	}
	return &reply
}

func (x *GroupProfileExtractor) runBehavior(ctx context.Context, roles map[string][]memory.RoleAssignment, conversation string) *groupBehaviorReply {
	existingJSON, err := json.Marshal(roles)
	if err != nil || roles == nil {
		existingJSON = []byte("{}")
	}
	prompt, err := x.prompts.Render(x.locale, prompts.GroupBehavior, map[string]string{
		"roles":          strings.Join(memory.RoleNames(), ", "),
		"existing_roles": string(existingJSON),
		"conversation":   conversation,
	})
	if err != nil {
		x.logger.Warn("group behavior prompt failed", "error", err)
		return nil
	}
	var reply groupBehaviorReply
	if _, err := generateParsed(ctx, x.gen, prompt, profileAttempts, func(out string) error {
		reply = groupBehaviorReply{}
		return decodeFenced(out, &reply)
	}); err != nil {
		x.logger.Warn("group behavior extraction failed, keeping existing roles", "error", err)
		return nil
	}
	return &reply
}

// ---------------------------------------------------------------------------
// Topic merge
// ---------------------------------------------------------------------------

func validTopicStatus(s memory.TopicStatus) bool {
	switch s {
	case memory.TopicExploring, memory.TopicImplementing, memory.TopicImplemented:
		return true
	}
	return false
}

func validConfidence(c memory.Confidence) memory.Confidence {
	if c == memory.ConfidenceStrong {
		return memory.ConfidenceStrong
	}
	return memory.ConfidenceWeak
}

// mergeTopics folds the proposed topic updates into the existing set and
// enforces the capacity cap. Proposed topics whose evidence cannot be
// verified against the batch are ignored.
func (x *GroupProfileExtractor) mergeTopics(existing, proposed []memory.Topic, ec *evidenceContext, reference time.Time, groupID string) []memory.Topic {
	merged := slices.Clone(existing)
	index := make(map[string]int, len(merged))
	for i, t := range merged {
		index[t.ID] = i
	}

	for _, p := range proposed {
		evs := ec.sanitize(p.Evidences, "")
		sortEvidencesByDate(evs)
		if len(evs) == 0 {
			x.logger.Warn("topic without verifiable evidence, skipping",
				"group_id", groupID, "name", p.Name)
			continue
		}

		if p.UpdateType == "update" {
			if i, ok := index[p.OldTopicID]; ok {
				cur := &merged[i]
				if p.Name != "" {
					cur.Name = p.Name
				}
				if p.Summary != "" {
					cur.Summary = p.Summary
				}
				if validTopicStatus(p.Status) {
					cur.Status = p.Status
				}
				cur.Confidence = memory.HigherConfidence(cur.Confidence, p.Confidence)
				cur.Evidences = memory.TruncateEvidences(
					memory.MergeEvidences(cur.Evidences, evs), evidenceCap)
				if ts, ok := ec.latestActivity(cur.Evidences); ok {
					cur.LastActiveAt = ts
				}
				cur.UpdateType, cur.OldTopicID = "", ""
				continue
			}
			x.logger.Warn("update for unknown topic, treating as new",
				"group_id", groupID, "old_topic_id", p.OldTopicID, "name", p.Name)
		}

		if p.Name == "" {
			x.logger.Warn("topic without a name, skipping", "group_id", groupID)
			continue
		}
		t := memory.Topic{
			ID:         uuid.NewString(),
			Name:       p.Name,
			Summary:    p.Summary,
			Status:     p.Status,
			Confidence: validConfidence(p.Confidence),
			Evidences:  memory.TruncateEvidences(evs, evidenceCap),
		}
		if !validTopicStatus(t.Status) {
			t.Status = memory.TopicExploring
		}
		if ts, ok := ec.latestActivity(t.Evidences); ok {
			t.LastActiveAt = ts
		} else {
			t.LastActiveAt = reference
		}
		index[t.ID] = len(merged)
		merged = append(merged, t)
	}

	for len(merged) > x.maxTopics {
		i := evictIndex(merged, reference)
		evicted := merged[i]
		x.logger.Info("evicting topic over capacity",
			"group_id", groupID, "topic_id", evicted.ID, "name", evicted.Name,
			"status", string(evicted.Status))
		if x.OnEvictTopic != nil {
			x.OnEvictTopic(groupID, evicted)
		}
		merged = append(merged[:i], merged[i+1:]...)
	}
	return merged
}

// evictIndex picks the topic to drop: an implemented topic inactive for
// more than the stale window when one exists, otherwise the least recently
// active topic overall. Ties go to the older activity.
func evictIndex(topics []memory.Topic, reference time.Time) int {
	stale := reference.Add(-topicStaleAfter)
	best := -1
	for i, t := range topics {
		if t.Status != memory.TopicImplemented || !t.LastActiveAt.Before(stale) {
			continue
		}
		if best < 0 || t.LastActiveAt.Before(topics[best].LastActiveAt) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	best = 0
	for i := 1; i < len(topics); i++ {
		if topics[i].LastActiveAt.Before(topics[best].LastActiveAt) {
			best = i
		}
	}
	return best
}

// ---------------------------------------------------------------------------
// Role merge
// ---------------------------------------------------------------------------

// mergeRoles folds the proposed role assignments into the existing map.
// Unknown role names are dropped, evidence is verified against the batch,
// and per (role, user) the confidence promotes to strong when either side
// is strong.
func (x *GroupProfileExtractor) mergeRoles(existing, proposed map[string][]memory.RoleAssignment, ec *evidenceContext) map[string][]memory.RoleAssignment {
	merged := cloneRoles(existing)
	if merged == nil {
		merged = make(map[string][]memory.RoleAssignment)
	}
	for _, role := range sortedKeys(proposed) {
		if !memory.ValidRole(role) {
			x.logger.Warn("unknown role name, skipping", "role", role)
			continue
		}
		for _, a := range proposed[role] {
			if a.UserID == "" {
				continue
			}
			evs := ec.sanitize(a.Evidences, "")
			sortEvidencesByDate(evs)

			list := merged[role]
			idx := -1
			for i := range list {
				if list[i].UserID == a.UserID {
					idx = i
					break
				}
			}
			if idx < 0 {
				if len(evs) == 0 {
					x.logger.Warn("role assignment without verifiable evidence, skipping",
						"role", role, "user_id", a.UserID)
					continue
				}
				merged[role] = append(list, memory.RoleAssignment{
					UserID:     a.UserID,
					UserName:   a.UserName,
					Confidence: validConfidence(a.Confidence),
					Evidences:  memory.TruncateEvidences(evs, roleEvidenceCap),
				})
				continue
			}
			cur := &list[idx]
			if cur.UserName == "" {
				cur.UserName = a.UserName
			}
			cur.Confidence = memory.HigherConfidence(cur.Confidence, validConfidence(a.Confidence))
			cur.Evidences = memory.TruncateEvidences(
				memory.MergeEvidences(cur.Evidences, evs), roleEvidenceCap)
		}
	}
	for role, list := range merged {
		if len(list) == 0 {
			delete(merged, role)
			continue
		}
		sortAssignments(list)
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// sortAssignments orders a role's assignments strong confidence first,
// then by display name.
func sortAssignments(as []memory.RoleAssignment) {
	nameOf := func(a memory.RoleAssignment) string {
		if a.UserName != "" {
			return a.UserName
		}
		return a.UserID
	}
	sort.SliceStable(as, func(i, j int) bool {
		si := as[i].Confidence == memory.ConfidenceStrong
		sj := as[j].Confidence == memory.ConfidenceStrong
		if si != sj {
			return si
		}
		if ni, nj := nameOf(as[i]), nameOf(as[j]); ni != nj {
			return ni < nj
		}
		return as[i].UserID < as[j].UserID
	})
}

func cloneRoles(roles map[string][]memory.RoleAssignment) map[string][]memory.RoleAssignment {
	if roles == nil {
		return nil
	}
	out := make(map[string][]memory.RoleAssignment, len(roles))
	for role, as := range roles {
		out[role] = slices.Clone(as)
	}
	return out
}
