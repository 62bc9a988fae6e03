// Package memory defines the data model and repository contracts of the
// long-term conversational memory system.
//
// The system ingests raw chat messages, cuts them into closed conversation
// slices ([MemCell]), and derives richer records from each slice: prose
// narratives ([Episode]), atomic facts ([EventLog]), per-user profiles
// ([UserProfile]) and group-wide profiles ([GroupProfile]). Forward-looking
// notes ([Foresight]) enter through the service surface directly. Retrieval
// serves all of them back as uniform [Candidate] records.
//
// # Record kinds
//
// [Kind] names each record type. [Memory] is the tagged union that the
// extraction and fetch surfaces speak; exactly one of its payload fields is
// set, selected by Kind.
//
// # Repositories
//
// Persistence is consumed through interfaces ([MemCellRepo], [EpisodeRepo],
// [UserProfileRepo], ...) bundled in [Repos], so the pipeline never touches
// a concrete driver. [NewLocalRepos] builds an all-in-one bundle over a
// [kv.Store] plus in-process dense ([vecstore.Index]) and lexical
// ([lexical.Index]) indexes; distributed deployments swap in drivers for
// their document, vector and text stores without touching the layers above.
//
// # Dependency direction
//
//	memory → kv, vecstore, lexical
//
// memory does not depend on the extractors or the retrieval engine; both
// depend on it.
package memory

import (
	"errors"

	"github.com/evermem/evermem/pkg/errcode"
)

// ErrNotFound is returned by repository lookups when no record matches.
var ErrNotFound = errors.New("memory: not found")

// Kind identifies a memory record type.
type Kind string

const (
	KindMemCell      Kind = "memcell"
	KindEpisode      Kind = "episode"
	KindEventLog     Kind = "event_log"
	KindUserProfile  Kind = "user_profile"
	KindGroupProfile Kind = "group_profile"
	KindForesight    Kind = "foresight"
)

// ParseKind converts a wire string into a [Kind].
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMemCell, KindEpisode, KindEventLog,
		KindUserProfile, KindGroupProfile, KindForesight:
		return k, nil
	}
	return "", errcode.Newf(errcode.InvalidParameter, "unknown memory type %q", s)
}

// Memory is a tagged union over the record kinds. Exactly one payload field
// is non-nil, selected by Kind.
type Memory struct {
	Kind Kind `json:"kind" msgpack:"kind"`

	MemCell      *MemCell      `json:"memcell,omitempty" msgpack:"memcell,omitempty"`
	Episode      *Episode      `json:"episode,omitempty" msgpack:"episode,omitempty"`
	EventLog     *EventLog     `json:"event_log,omitempty" msgpack:"event_log,omitempty"`
	UserProfile  *UserProfile  `json:"user_profile,omitempty" msgpack:"user_profile,omitempty"`
	GroupProfile *GroupProfile `json:"group_profile,omitempty" msgpack:"group_profile,omitempty"`
	Foresight    *Foresight    `json:"foresight,omitempty" msgpack:"foresight,omitempty"`
}

// EventID returns the identifier of the record's originating event, or ""
// for kinds that are not event-scoped (profiles).
func (m Memory) EventID() string {
	switch m.Kind {
	case KindMemCell:
		if m.MemCell != nil {
			return m.MemCell.EventID
		}
	case KindEpisode:
		if m.Episode != nil {
			return m.Episode.EventID()
		}
	case KindForesight:
		if m.Foresight != nil {
			return m.Foresight.EventID
		}
	}
	return ""
}
