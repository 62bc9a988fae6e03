package memory

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Index documents and search queries
// ---------------------------------------------------------------------------

// Doc is the denormalized record attached to every dense or lexical index
// entry. Search hits carry the whole Doc so the retrieval engine can build
// a [Candidate] without a second store round trip.
type Doc struct {
	// ID identifies the index entry. One source record may fan out to
	// several entries (an event log indexes one entry per atomic fact), so
	// IDs take the form "eventID" or "eventID#i".
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	Kind    Kind   `json:"kind"`

	UserID    string    `json:"user_id,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Subject string `json:"subject,omitempty"`
	Summary string `json:"summary,omitempty"`

	// Text is what was embedded and what lexical search matches against:
	// episode narrative, foresight content, or one atomic fact.
	Text string `json:"text,omitempty"`

	// Validity window, set for foresight entries.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// DenseQuery filters a vector search. Zero-valued filters match anything.
type DenseQuery struct {
	Vector    []float32
	UserID    string
	GroupID   string
	StartTime *time.Time
	EndTime   *time.Time

	// CurrentTime, when set, additionally requires the document's validity
	// window (when fully specified) to cover it.
	CurrentTime *time.Time

	// Limit caps the number of hits. Radius, when positive, drops hits
	// with cosine similarity below it.
	Limit  int
	Radius float64
}

// DenseHit pairs an indexed Doc with its cosine similarity to the query.
type DenseHit struct {
	Doc   Doc
	Score float64
}

// LexicalQuery filters a keyword search. Tokens are produced by
// [lexical.Tokenize] from the caller's query text.
type LexicalQuery struct {
	Tokens      []string
	UserID      string
	GroupID     string
	StartTime   *time.Time
	EndTime     *time.Time
	CurrentTime *time.Time

	// Size caps the number of hits returned after skipping From.
	Size int
	From int
}

// LexicalHit pairs an indexed Doc with its BM25 score.
type LexicalHit struct {
	Doc   Doc
	Score float64
}

// DenseStore indexes documents by embedding and serves filtered
// nearest-neighbor queries. Hit scores are cosine similarities regardless
// of the backing index's native metric.
type DenseStore interface {
	Index(ctx context.Context, doc Doc, vector []float32) error
	Search(ctx context.Context, q DenseQuery) ([]DenseHit, error)
	Delete(ctx context.Context, id string) error
}

// LexicalStore indexes document text for BM25 keyword queries.
type LexicalStore interface {
	Index(ctx context.Context, doc Doc) error
	Search(ctx context.Context, q LexicalQuery) ([]LexicalHit, error)
	Delete(ctx context.Context, id string) error
}

// SearchPair bundles the dense and lexical indexes of one collection.
type SearchPair struct {
	Dense   DenseStore
	Lexical LexicalStore
}

// ---------------------------------------------------------------------------
// Document repositories
// ---------------------------------------------------------------------------

// MemCellRepo persists closed conversation slices.
type MemCellRepo interface {
	Put(ctx context.Context, cell *MemCell) error

	// Get returns the cell with the given event id, or [ErrNotFound].
	Get(ctx context.Context, eventID string) (*MemCell, error)

	// GetByEventIDs returns the cells that exist among eventIDs, in the
	// order requested. Missing ids are skipped, not errors.
	GetByEventIDs(ctx context.Context, eventIDs []string) ([]*MemCell, error)
}

// EpisodeRepo persists narratives. A MemCell has at most one group episode
// (empty user id) plus one personal episode per participant.
type EpisodeRepo interface {
	Put(ctx context.Context, ep *Episode) error

	// Get returns the episode for (eventID, userID), userID == "" meaning
	// the group episode. Returns [ErrNotFound] when absent.
	Get(ctx context.Context, eventID, userID string) (*Episode, error)

	// ListByUser returns up to limit personal episodes for the user,
	// newest first. limit <= 0 means no cap.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Episode, error)

	// ListByUserGroup narrows ListByUser to one group.
	ListByUserGroup(ctx context.Context, userID, groupID string, limit int) ([]*Episode, error)
}

// ForesightRepo persists forward-looking records.
type ForesightRepo interface {
	Put(ctx context.Context, f *Foresight) error
	Get(ctx context.Context, eventID string) (*Foresight, error)

	// ListByUser returns up to limit foresights for the user, newest
	// first. limit <= 0 means no cap.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Foresight, error)
}

// UserGroup identifies one user's profile scope.
type UserGroup struct {
	UserID  string
	GroupID string
}

// UserProfileRepo persists versioned per-user profiles.
type UserProfileRepo interface {
	// Put writes a new profile version: it assigns the next version number
	// for the profile's (user, group) scope, stamps it on p, and persists.
	Put(ctx context.Context, p *UserProfile) error

	// LatestByUserGroup returns the highest-version profile for the pair,
	// or [ErrNotFound].
	LatestByUserGroup(ctx context.Context, userID, groupID string) (*UserProfile, error)

	// BatchLatestByUserGroups returns the latest profile for each pair
	// that has one. Pairs without a profile are skipped.
	BatchLatestByUserGroups(ctx context.Context, pairs []UserGroup) ([]*UserProfile, error)

	// ListVersions returns up to limit versions for the pair, newest
	// first. limit <= 0 means no cap.
	ListVersions(ctx context.Context, userID, groupID string, limit int) ([]*UserProfile, error)

	// GroupsOf returns the distinct group ids the user has profile versions
	// under, "" included when ungrouped versions exist.
	GroupsOf(ctx context.Context, userID string) ([]string, error)
}

// GroupProfileRepo persists versioned group profiles.
type GroupProfileRepo interface {
	// Put writes a new profile version, assigning and stamping the next
	// version number for the group.
	Put(ctx context.Context, p *GroupProfile) error

	// Latest returns the highest-version profile for the group, or
	// [ErrNotFound].
	Latest(ctx context.Context, groupID string) (*GroupProfile, error)

	// ListVersions returns up to limit versions, newest first. limit <= 0
	// means no cap.
	ListVersions(ctx context.Context, groupID string, limit int) ([]*GroupProfile, error)
}

// ImportanceRepo persists per-user sliding windows of group activity.
type ImportanceRepo interface {
	Put(ctx context.Context, ev *GroupImportanceEvidence) error

	// Get returns the window for (userID, groupID), or [ErrNotFound].
	Get(ctx context.Context, userID, groupID string) (*GroupImportanceEvidence, error)

	// ListByGroup returns every user's window in the group.
	ListByGroup(ctx context.Context, groupID string) ([]*GroupImportanceEvidence, error)
}

// ClusterRepo persists cluster membership snapshots.
type ClusterRepo interface {
	Put(ctx context.Context, c *Cluster) error
	Get(ctx context.Context, id string) (*Cluster, error)
	List(ctx context.Context) ([]*Cluster, error)
	Delete(ctx context.Context, id string) error
}

// Repos aggregates every repository the memory system consumes. The
// extraction pipeline and the retrieval engine receive this bundle rather
// than concrete drivers.
type Repos struct {
	MemCells      MemCellRepo
	Episodes      EpisodeRepo
	Foresights    ForesightRepo
	UserProfiles  UserProfileRepo
	GroupProfiles GroupProfileRepo
	Importance    ImportanceRepo
	Clusters      ClusterRepo

	// Hybrid search indexes, one pair per retrievable collection.
	EpisodeIndex   SearchPair
	EventLogIndex  SearchPair
	ForesightIndex SearchPair
}
