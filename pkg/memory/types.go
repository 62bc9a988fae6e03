package memory

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// RawMessage: externally originated events
// ---------------------------------------------------------------------------

// MsgType identifies the payload type of a raw message. The numeric values
// are part of the ingest wire format.
type MsgType int

const (
	MsgText  MsgType = 1
	MsgImage MsgType = 2
	MsgVideo MsgType = 3
	MsgAudio MsgType = 4
	MsgFile  MsgType = 5
)

// Supported reports whether messages of this type may enter extraction.
// Unsupported types are dropped before boundary detection.
func (t MsgType) Supported() bool {
	return t >= MsgText && t <= MsgFile
}

// Placeholder returns the fixed content stand-in for supported non-text
// types. Text and unsupported types have no placeholder.
func (t MsgType) Placeholder() string {
	switch t {
	case MsgImage:
		return "[image]"
	case MsgVideo:
		return "[video]"
	case MsgAudio:
		return "[audio]"
	case MsgFile:
		return "[file]"
	}
	return ""
}

// Refer is a mention of another participant inside a message.
type Refer struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name,omitempty" msgpack:"name,omitempty"`
}

// RawMessage is one externally originated event: a chat message, or a media
// upload that has been rewritten to its placeholder.
type RawMessage struct {
	SpeakerID   string    `json:"speaker_id" msgpack:"speaker_id"`
	SpeakerName string    `json:"speaker_name,omitempty" msgpack:"speaker_name,omitempty"`
	Content     string    `json:"content" msgpack:"content"`
	Timestamp   time.Time `json:"timestamp" msgpack:"timestamp"`
	ReferList   []Refer   `json:"refer_list,omitempty" msgpack:"refer_list,omitempty"`
	Type        MsgType   `json:"msg_type" msgpack:"msg_type"`
	DataID      string    `json:"data_id,omitempty" msgpack:"data_id,omitempty"`
}

// ParticipantsOf collects the unique participants of a message sequence:
// every speaker, then everyone mentioned, in first-appearance order.
func ParticipantsOf(msgs []RawMessage) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, m := range msgs {
		add(m.SpeakerID)
	}
	for _, m := range msgs {
		for _, r := range m.ReferList {
			add(r.ID)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// MemCell: a closed conversation slice
// ---------------------------------------------------------------------------

// RawDataKind identifies what kind of raw data a MemCell was cut from.
type RawDataKind string

const (
	RawDataConversation RawDataKind = "conversation"
)

// Extend carries enrichment attached after a record's text is final.
type Extend struct {
	Embedding      []float32 `json:"embedding,omitempty" msgpack:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty" msgpack:"embedding_model,omitempty"`
}

// MemCell is a closed conversation slice, the atomic unit of memory.
//
// A cell is created when the boundary detector closes a slice and is
// immutable afterward, except that the same pipeline pass may enrich it
// with the derived episode text, the event log and an embedding.
type MemCell struct {
	// EventID uniquely identifies the cell. Evidence strings and retrieval
	// candidates reference cells by this id.
	EventID      string       `json:"event_id" msgpack:"event_id"`
	UserIDList   []string     `json:"user_id_list,omitempty" msgpack:"user_id_list,omitempty"`
	GroupID      string       `json:"group_id,omitempty" msgpack:"group_id,omitempty"`
	Participants []string     `json:"participants,omitempty" msgpack:"participants,omitempty"`
	OriginalData []RawMessage `json:"original_data,omitempty" msgpack:"original_data,omitempty"`

	// Timestamp is the time of the last message in the slice.
	Timestamp time.Time   `json:"timestamp" msgpack:"timestamp"`
	Type      RawDataKind `json:"type" msgpack:"type"`
	Summary   string      `json:"summary,omitempty" msgpack:"summary,omitempty"`

	// Filled by later pipeline stages.
	Episode  string    `json:"episode,omitempty" msgpack:"episode,omitempty"`
	EventLog *EventLog `json:"event_log,omitempty" msgpack:"event_log,omitempty"`
	Extend   Extend    `json:"extend" msgpack:"extend"`
}

// HasParticipant reports whether the user appears in the cell's
// participant set.
func (c *MemCell) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Episode: prose narrative over one MemCell
// ---------------------------------------------------------------------------

// Episode is a single prose narrative over one MemCell. A personal episode
// has UserID set and narrates from that user's point of view; a group
// episode has UserID == "" and narrates globally.
type Episode struct {
	UserID  string `json:"user_id,omitempty" msgpack:"user_id,omitempty"`
	GroupID string `json:"group_id,omitempty" msgpack:"group_id,omitempty"`

	// Subject is a short title, Summary a capsule of at most 200
	// characters, Episode the detailed third-person narrative.
	Subject string `json:"subject" msgpack:"subject"`
	Summary string `json:"summary,omitempty" msgpack:"summary,omitempty"`
	Episode string `json:"episode" msgpack:"episode"`

	Participants []string  `json:"participants,omitempty" msgpack:"participants,omitempty"`
	Timestamp    time.Time `json:"timestamp" msgpack:"timestamp"`

	// MemCellEventIDs lists the cells this narrative covers; currently
	// always a single element.
	MemCellEventIDs []string `json:"memcell_event_id_list" msgpack:"memcell_event_id_list"`
	Extend          Extend   `json:"extend" msgpack:"extend"`
}

// EventID returns the identifier of the MemCell this episode narrates: the
// first entry of MemCellEventIDs, or "" when unset.
func (e *Episode) EventID() string {
	if len(e.MemCellEventIDs) == 0 {
		return ""
	}
	return e.MemCellEventIDs[0]
}

// IsGroup reports whether this is a group episode.
func (e *Episode) IsGroup() bool { return e.UserID == "" }

// ---------------------------------------------------------------------------
// EventLog: atomic facts
// ---------------------------------------------------------------------------

// EventLog holds the atomic facts extracted from an episode. Each fact is a
// complete self-contained sentence; FactEmbeddings aligns one-to-one with
// AtomicFacts once embeddings are computed.
type EventLog struct {
	Time           string      `json:"time" msgpack:"time"`
	AtomicFacts    []string    `json:"atomic_fact" msgpack:"atomic_fact"`
	FactEmbeddings [][]float32 `json:"fact_embeddings,omitempty" msgpack:"fact_embeddings,omitempty"`
}

// Validate checks the alignment invariant.
func (l *EventLog) Validate() error {
	if len(l.AtomicFacts) == 0 {
		return errors.New("event log: no atomic facts")
	}
	if len(l.FactEmbeddings) != 0 && len(l.FactEmbeddings) != len(l.AtomicFacts) {
		return fmt.Errorf("event log: %d facts but %d embeddings",
			len(l.AtomicFacts), len(l.FactEmbeddings))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Foresight: forward-looking records
// ---------------------------------------------------------------------------

// Foresight is a forward-looking note (a plan, a deadline, an expected
// event) served by retrieval when its validity window covers the query's
// current time. StartTime and EndTime are optional; the validity filter
// applies only when both are present.
type Foresight struct {
	EventID   string     `json:"event_id" msgpack:"event_id"`
	UserID    string     `json:"user_id,omitempty" msgpack:"user_id,omitempty"`
	GroupID   string     `json:"group_id,omitempty" msgpack:"group_id,omitempty"`
	Content   string     `json:"content" msgpack:"content"`
	StartTime *time.Time `json:"start_time,omitempty" msgpack:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty" msgpack:"end_time,omitempty"`
	Timestamp time.Time  `json:"timestamp" msgpack:"timestamp"`
	Extend    Extend     `json:"extend" msgpack:"extend"`
}

// ValidAt reports whether the foresight's validity window covers t. A
// window with a missing bound never excludes anything.
func (f *Foresight) ValidAt(t time.Time) bool {
	if f.StartTime == nil || f.EndTime == nil {
		return true
	}
	return !t.Before(*f.StartTime) && !t.After(*f.EndTime)
}

// ---------------------------------------------------------------------------
// Cluster: semantically proximate MemCells
// ---------------------------------------------------------------------------

// Cluster groups semantically and temporally proximate MemCells. Cluster
// updates are the trigger for profile extraction.
type Cluster struct {
	ID             string    `json:"cluster_id" msgpack:"cluster_id"`
	MemberEventIDs []string  `json:"member_event_ids,omitempty" msgpack:"member_event_ids,omitempty"`
	LastUpdated    time.Time `json:"last_updated" msgpack:"last_updated"`
}
