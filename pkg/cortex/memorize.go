package cortex

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/extract"
	"github.com/evermem/evermem/pkg/memory"
)

// MemorizeRequest carries one batch of fresh messages for a group. It is
// also the queue payload for deferred ingestion, hence the wire tags.
type MemorizeRequest struct {
	GroupID  string              `json:"group_id" msgpack:"group_id"`
	Messages []memory.RawMessage `json:"messages" msgpack:"messages"`

	// Scenario labels profile versions produced by this request. Empty
	// falls back to the service default.
	Scenario string `json:"scenario,omitempty" msgpack:"scenario,omitempty"`

	// CustomInstructions is appended to the episode prompts.
	CustomInstructions string `json:"custom_instructions,omitempty" msgpack:"custom_instructions,omitempty"`
}

// DeliverMemorize ingests one message batch synchronously.
//
// The group's buffered history and the fresh messages go through boundary
// detection. While the topic stays open the messages just join the buffer
// and the call returns empty. When it closes, the buffered slice becomes a
// memory cell and the derivation cascade runs: episodes are narrated,
// atomic facts distilled, everything persisted and indexed, importance
// windows updated and the cell's embedding clustered. The fresh messages
// then open the next slice.
//
// The returned memories are everything the call produced. Failures after
// the cell is persisted degrade to warnings; a failure to persist the cell
// itself is returned and leaves the buffer untouched, so a retry closes the
// same slice again.
func (s *Service) DeliverMemorize(ctx context.Context, req MemorizeRequest) ([]memory.Memory, error) {
	if req.GroupID == "" {
		return nil, errcode.New(errcode.InvalidParameter, "memorize request missing group_id")
	}
	if len(req.Messages) == 0 {
		return nil, errcode.New(errcode.InvalidParameter, "memorize request has no messages")
	}
	if s.history == nil {
		return nil, errcode.New(errcode.InvalidParameter, "cortex: no history buffer configured")
	}

	now := time.Now().In(s.tz)
	history := s.bufferedMessages(ctx, req.GroupID, now)

	cell, res, err := s.memcells.Extract(ctx, req.GroupID, history, req.Messages)
	if err != nil {
		return nil, err
	}
	if cell == nil {
		s.bufferMessages(ctx, req.GroupID, req.Messages, now)
		s.logger.Debug("topic still open",
			"group_id", req.GroupID,
			"buffered", len(history)+len(req.Messages),
			"wait", res.ShouldWait)
		return nil, nil
	}

	eps := s.deriveEpisodes(ctx, cell, req.CustomInstructions)
	s.deriveEventLog(ctx, cell)

	if err := s.repos.MemCells.Put(ctx, cell); err != nil {
		return nil, err
	}
	s.history.Clear(ctx, req.GroupID)
	s.bufferMessages(ctx, req.GroupID, req.Messages, now)
	if s.recents != nil {
		s.recents.Append(ctx, req.GroupID, cell.EventID, cell.Timestamp)
	}

	out := []memory.Memory{{Kind: memory.KindMemCell, MemCell: cell}}
	for _, ep := range eps {
		if err := s.repos.Episodes.Put(ctx, ep); err != nil {
			s.logger.Warn("episode put failed",
				"event_id", cell.EventID, "user_id", ep.UserID, "error", err)
			continue
		}
		s.indexEpisode(ctx, ep)
		out = append(out, memory.Memory{Kind: memory.KindEpisode, Episode: ep})
	}
	if cell.EventLog != nil {
		s.indexEventLog(ctx, cell)
		out = append(out, memory.Memory{Kind: memory.KindEventLog, EventLog: cell.EventLog})
	}

	s.recordImportance(ctx, cell)

	if s.clusters != nil && len(cell.Extend.Embedding) > 0 {
		if id, matched := s.clusters.Assign(cell.EventID, cell.Extend.Embedding, cell.Timestamp); matched {
			s.logger.Debug("cell joined cluster",
				"event_id", cell.EventID, "cluster_id", id)
		}
		if s.reEvery > 0 && s.clusters.Len()%s.reEvery == 0 {
			n := s.clusters.Recluster()
			s.logger.Info("reclustered",
				"clusters", n, "samples", s.clusters.Len())
		}
	}
	scenario := req.Scenario
	if scenario == "" {
		scenario = s.scenario
	}
	out = append(out, s.extractPendingProfiles(ctx, scenario)...)

	s.logger.Info("memorized cell",
		"group_id", req.GroupID,
		"event_id", cell.EventID,
		"episodes", len(eps),
		"memories", len(out))
	return out, nil
}

// deriveEpisodes narrates the cell: one personal episode per speaker and,
// for multi-user cells, one group episode. The cell adopts the group
// narrative (or the only personal one) as its own text and embedding.
// Narration failures skip that viewpoint rather than losing the cell.
func (s *Service) deriveEpisodes(ctx context.Context, cell *memory.MemCell, custom string) []*memory.Episode {
	names := speakerNames([]*memory.MemCell{cell})
	var eps []*memory.Episode
	for _, uid := range cell.UserIDList {
		ep, err := s.episodes.ExtractOne(ctx, cell, uid, names[uid], custom)
		if err != nil {
			s.logger.Warn("personal episode failed",
				"event_id", cell.EventID, "user_id", uid, "error", err)
			continue
		}
		eps = append(eps, ep)
	}
	if len(cell.UserIDList) > 1 {
		ep, err := s.episodes.ExtractOne(ctx, cell, "", "", custom)
		if err != nil {
			s.logger.Warn("group episode failed",
				"event_id", cell.EventID, "error", err)
		} else {
			eps = append(eps, ep)
		}
	}

	var adopt *memory.Episode
	for _, ep := range eps {
		if ep.UserID == "" {
			adopt = ep
			break
		}
	}
	if adopt == nil && len(eps) > 0 {
		adopt = eps[0]
	}
	if adopt != nil {
		cell.Episode = adopt.Episode
		cell.Extend = adopt.Extend
	}
	return eps
}

// deriveEventLog distills the cell's adopted narrative into atomic facts.
func (s *Service) deriveEventLog(ctx context.Context, cell *memory.MemCell) {
	if cell.Episode == "" {
		return
	}
	el, err := s.eventlogs.ExtractOne(ctx, cell.Episode, cell.Timestamp)
	if err != nil {
		s.logger.Warn("event log failed",
			"event_id", cell.EventID, "error", err)
		return
	}
	cell.EventLog = el
}

// recordImportance slides the cell's activity stats into each active user's
// importance window.
func (s *Service) recordImportance(ctx context.Context, cell *memory.MemCell) {
	cells := []*memory.MemCell{cell}
	batch := extract.Batch{
		GroupID:    cell.GroupID,
		Cells:      cells,
		Importance: s.loadImportance(ctx, cell.GroupID, usersOf(cells)),
	}
	for _, w := range s.importance.Collect(batch) {
		if err := s.repos.Importance.Put(ctx, w); err != nil {
			s.logger.Warn("importance put failed",
				"group_id", cell.GroupID, "user_id", w.UserID, "error", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Buffer plumbing
// ---------------------------------------------------------------------------

// bufferedMessages reads the group's open slice in conversation order.
// Recent returns entries newest first and the buffer may hold payloads a
// different encoder wrote, so each entry is re-typed individually and bad
// ones are dropped.
func (s *Service) bufferedMessages(ctx context.Context, groupID string, now time.Time) []memory.RawMessage {
	entries := s.history.Recent(ctx, groupID, now)
	msgs := make([]memory.RawMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var m memory.RawMessage
		if err := decodePayload(entries[i].Data, &m); err != nil {
			s.logger.Warn("dropping undecodable buffered message",
				"group_id", groupID, "id", entries[i].ID, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// bufferMessages appends msgs to the group's open slice, each scored by its
// own timestamp. Append failures are already logged by the cache and the
// message is simply not buffered.
func (s *Service) bufferMessages(ctx context.Context, groupID string, msgs []memory.RawMessage, now time.Time) {
	for _, m := range msgs {
		at := m.Timestamp
		if at.IsZero() {
			at = now
		}
		s.history.Append(ctx, groupID, m, at)
	}
}

// decodePayload re-types a deserialized cache or queue payload into v
// through a JSON round trip.
func decodePayload(data any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

// indexEpisode indexes a persisted episode: lexical always, dense when
// embedded. Index failures degrade to warnings since the document store
// already holds the record.
func (s *Service) indexEpisode(ctx context.Context, ep *memory.Episode) {
	doc := memory.EpisodeDoc(ep)
	if err := s.repos.EpisodeIndex.Lexical.Index(ctx, doc); err != nil {
		s.logger.Warn("episode lexical index failed", "id", doc.ID, "error", err)
	}
	if len(ep.Extend.Embedding) == 0 {
		return
	}
	if err := s.repos.EpisodeIndex.Dense.Index(ctx, doc, ep.Extend.Embedding); err != nil {
		s.logger.Warn("episode dense index failed", "id", doc.ID, "error", err)
	}
}

// indexEventLog indexes each atomic fact as its own document so retrieval
// can match a single fact.
func (s *Service) indexEventLog(ctx context.Context, cell *memory.MemCell) {
	el := cell.EventLog
	if el == nil {
		return
	}
	for i, doc := range memory.FactDocs(cell) {
		if err := s.repos.EventLogIndex.Lexical.Index(ctx, doc); err != nil {
			s.logger.Warn("fact lexical index failed", "id", doc.ID, "error", err)
		}
		if i >= len(el.FactEmbeddings) {
			continue
		}
		if err := s.repos.EventLogIndex.Dense.Index(ctx, doc, el.FactEmbeddings[i]); err != nil {
			s.logger.Warn("fact dense index failed", "id", doc.ID, "error", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Shared batch assembly
// ---------------------------------------------------------------------------

// buildBatch assembles an extraction batch over cells, loading the state
// the profile extractors fold into: latest profiles and importance windows
// for every user seen in the cells, plus the group profile. Lookup failures
// degrade to extraction without that state.
func (s *Service) buildBatch(ctx context.Context, groupID string, cells []*memory.MemCell, clusterIDs []string) extract.Batch {
	users := usersOf(cells)
	profiles := make(map[string]*memory.UserProfile, len(users))
	for _, uid := range users {
		p, err := s.repos.UserProfiles.LatestByUserGroup(ctx, uid, groupID)
		if err != nil {
			if !errors.Is(err, memory.ErrNotFound) {
				s.logger.Warn("profile lookup failed",
					"user_id", uid, "group_id", groupID, "error", err)
			}
			continue
		}
		profiles[uid] = p
	}

	var gp *memory.GroupProfile
	if p, err := s.repos.GroupProfiles.Latest(ctx, groupID); err == nil {
		gp = p
	} else if !errors.Is(err, memory.ErrNotFound) {
		s.logger.Warn("group profile lookup failed", "group_id", groupID, "error", err)
	}

	return extract.Batch{
		GroupID:      groupID,
		Cells:        cells,
		Speakers:     speakerNames(cells),
		Scenario:     s.scenario,
		ClusterIDs:   clusterIDs,
		UserProfiles: profiles,
		GroupProfile: gp,
		Importance:   s.loadImportance(ctx, groupID, users),
	}
}

func (s *Service) loadImportance(ctx context.Context, groupID string, users []string) map[string]*memory.GroupImportanceEvidence {
	out := make(map[string]*memory.GroupImportanceEvidence, len(users))
	for _, uid := range users {
		w, err := s.repos.Importance.Get(ctx, uid, groupID)
		if err != nil {
			if !errors.Is(err, memory.ErrNotFound) {
				s.logger.Warn("importance lookup failed",
					"user_id", uid, "group_id", groupID, "error", err)
			}
			continue
		}
		out[uid] = w
	}
	return out
}

// speakerNames collects each speaker's display name, first non-empty wins.
func speakerNames(cells []*memory.MemCell) map[string]string {
	out := make(map[string]string)
	for _, c := range cells {
		if c == nil {
			continue
		}
		for _, m := range c.OriginalData {
			if m.SpeakerID != "" && m.SpeakerName != "" && out[m.SpeakerID] == "" {
				out[m.SpeakerID] = m.SpeakerName
			}
		}
	}
	return out
}

// usersOf unions the speakers, participants and mentioned users of cells,
// first appearance order.
func usersOf(cells []*memory.MemCell) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, c := range cells {
		if c == nil {
			continue
		}
		for _, id := range c.UserIDList {
			add(id)
		}
		for _, m := range c.OriginalData {
			add(m.SpeakerID)
			for _, r := range m.ReferList {
				add(r.ID)
			}
		}
	}
	return out
}
