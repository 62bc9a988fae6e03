package memory

import "time"

// ---------------------------------------------------------------------------
// UserProfile: per-user incremental profile
// ---------------------------------------------------------------------------

// EvidenceEntry is one value in an evidence-bearing profile field. Each
// evidence string has the form "YYYY-MM-DD|conversation_id" and points at
// the MemCell the observation came from.
type EvidenceEntry struct {
	Value string `json:"value" msgpack:"value"`

	// Type subcategorizes the entry where a field needs it (opinion
	// tendencies, project subtasks and contributions).
	Type string `json:"type,omitempty" msgpack:"type,omitempty"`

	// Level grades proficiency for skill-like fields. Merging keeps the
	// highest level; see [LevelRank].
	Level string `json:"level,omitempty" msgpack:"level,omitempty"`

	Evidences []string `json:"evidences,omitempty" msgpack:"evidences,omitempty"`
}

// ProjectEntry records one project a user participates in. The nested
// lists carry their own evidences per element.
type ProjectEntry struct {
	ProjectID     string          `json:"project_id,omitempty" msgpack:"project_id,omitempty"`
	ProjectName   string          `json:"project_name,omitempty" msgpack:"project_name,omitempty"`
	EntryDate     string          `json:"entry_date,omitempty" msgpack:"entry_date,omitempty"`
	Subtasks      []EvidenceEntry `json:"subtasks,omitempty" msgpack:"subtasks,omitempty"`
	UserObjective []EvidenceEntry `json:"user_objective,omitempty" msgpack:"user_objective,omitempty"`
	Contributions []EvidenceEntry `json:"contributions,omitempty" msgpack:"contributions,omitempty"`
	UserConcerns  []EvidenceEntry `json:"user_concerns,omitempty" msgpack:"user_concerns,omitempty"`
}

// UserProfile is a per-user incremental profile, scoped to a group when
// GroupID is set. Profiles are versioned: each extraction batch writes a
// new version and readers take the highest.
type UserProfile struct {
	UserID   string `json:"user_id" msgpack:"user_id"`
	GroupID  string `json:"group_id,omitempty" msgpack:"group_id,omitempty"`
	UserName string `json:"user_name,omitempty" msgpack:"user_name,omitempty"`
	Scenario string `json:"scenario,omitempty" msgpack:"scenario,omitempty"`

	HardSkills             []EvidenceEntry `json:"hard_skills,omitempty" msgpack:"hard_skills,omitempty"`
	SoftSkills             []EvidenceEntry `json:"soft_skills,omitempty" msgpack:"soft_skills,omitempty"`
	MotivationSystem       []EvidenceEntry `json:"motivation_system,omitempty" msgpack:"motivation_system,omitempty"`
	FearSystem             []EvidenceEntry `json:"fear_system,omitempty" msgpack:"fear_system,omitempty"`
	ValueSystem            []EvidenceEntry `json:"value_system,omitempty" msgpack:"value_system,omitempty"`
	HumorUse               []EvidenceEntry `json:"humor_use,omitempty" msgpack:"humor_use,omitempty"`
	Colloquialism          []EvidenceEntry `json:"colloquialism,omitempty" msgpack:"colloquialism,omitempty"`
	Personality            []EvidenceEntry `json:"personality,omitempty" msgpack:"personality,omitempty"`
	WayOfDecisionMaking    []EvidenceEntry `json:"way_of_decision_making,omitempty" msgpack:"way_of_decision_making,omitempty"`
	WorkingHabitPreference []EvidenceEntry `json:"working_habit_preference,omitempty" msgpack:"working_habit_preference,omitempty"`
	Interests              []EvidenceEntry `json:"interests,omitempty" msgpack:"interests,omitempty"`
	Tendency               []EvidenceEntry `json:"tendency,omitempty" msgpack:"tendency,omitempty"`
	UserGoal               []EvidenceEntry `json:"user_goal,omitempty" msgpack:"user_goal,omitempty"`
	WorkResponsibility     []EvidenceEntry `json:"work_responsibility,omitempty" msgpack:"work_responsibility,omitempty"`
	ProjectsParticipated   []ProjectEntry  `json:"projects_participated,omitempty" msgpack:"projects_participated,omitempty"`

	// OutputReasoning preserves the extractor's own explanation of the
	// batch, useful when auditing a profile version.
	OutputReasoning string `json:"output_reasoning,omitempty" msgpack:"output_reasoning,omitempty"`

	Version      int64     `json:"version" msgpack:"version"`
	ClusterIDs   []string  `json:"cluster_ids,omitempty" msgpack:"cluster_ids,omitempty"`
	MemCellCount int       `json:"memcell_count,omitempty" msgpack:"memcell_count,omitempty"`
	UpdatedAt    time.Time `json:"updated_at" msgpack:"updated_at"`
}

// EvidenceFields returns the scalar evidence-bearing fields keyed by wire
// name. The pointers alias the profile, so merge and sanitize passes edit
// fields in place. ProjectsParticipated is not included; its nested shape
// is handled separately.
func (p *UserProfile) EvidenceFields() map[string]*[]EvidenceEntry {
	return map[string]*[]EvidenceEntry{
		"hard_skills":              &p.HardSkills,
		"soft_skills":              &p.SoftSkills,
		"motivation_system":        &p.MotivationSystem,
		"fear_system":              &p.FearSystem,
		"value_system":             &p.ValueSystem,
		"humor_use":                &p.HumorUse,
		"colloquialism":            &p.Colloquialism,
		"personality":              &p.Personality,
		"way_of_decision_making":   &p.WayOfDecisionMaking,
		"working_habit_preference": &p.WorkingHabitPreference,
		"interests":                &p.Interests,
		"tendency":                 &p.Tendency,
		"user_goal":                &p.UserGoal,
		"work_responsibility":      &p.WorkResponsibility,
	}
}

// ---------------------------------------------------------------------------
// GroupProfile: group-wide profile
// ---------------------------------------------------------------------------

// TopicStatus tracks a topic through its lifecycle.
type TopicStatus string

const (
	TopicExploring    TopicStatus = "exploring"
	TopicImplementing TopicStatus = "implementing"
	TopicImplemented  TopicStatus = "implemented"
)

// Confidence grades how well evidence supports a topic or role assignment.
type Confidence string

const (
	ConfidenceStrong Confidence = "strong"
	ConfidenceWeak   Confidence = "weak"
)

// HigherConfidence returns the stronger of two confidence grades.
func HigherConfidence(a, b Confidence) Confidence {
	if a == ConfidenceStrong || b == ConfidenceStrong {
		return ConfidenceStrong
	}
	if a == "" {
		return b
	}
	return a
}

// Topic is one discussion thread tracked on a group profile.
type Topic struct {
	ID         string      `json:"id" msgpack:"id"`
	Name       string      `json:"name" msgpack:"name"`
	Summary    string      `json:"summary,omitempty" msgpack:"summary,omitempty"`
	Status     TopicStatus `json:"status,omitempty" msgpack:"status,omitempty"`
	Confidence Confidence  `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	Evidences  []string    `json:"evidences,omitempty" msgpack:"evidences,omitempty"`

	// LastActiveAt is the latest MemCell timestamp among the topic's
	// evidences, inherited when a merge batch contributes none.
	LastActiveAt time.Time `json:"last_active_at" msgpack:"last_active_at"`

	// UpdateType and OldTopicID come from the extractor output: "new"
	// introduces a topic, "update" merges into OldTopicID.
	UpdateType string `json:"update_type,omitempty" msgpack:"update_type,omitempty"`
	OldTopicID string `json:"old_topic_id,omitempty" msgpack:"old_topic_id,omitempty"`
}

// Role names allowed in [GroupProfile.Roles].
const (
	RoleCoordinator         = "coordinator"
	RoleDecisionMaker       = "decision_maker"
	RoleInformationProvider = "information_provider"
	RoleExecutor            = "executor"
	RoleReviewer            = "reviewer"
	RoleFacilitator         = "facilitator"
)

// ValidRole reports whether name belongs to the closed role set.
func ValidRole(name string) bool {
	switch name {
	case RoleCoordinator, RoleDecisionMaker, RoleInformationProvider,
		RoleExecutor, RoleReviewer, RoleFacilitator:
		return true
	}
	return false
}

// RoleNames lists the closed role set in a stable order.
func RoleNames() []string {
	return []string{
		RoleCoordinator, RoleDecisionMaker, RoleInformationProvider,
		RoleExecutor, RoleReviewer, RoleFacilitator,
	}
}

// RoleAssignment binds one user to a role with supporting evidence.
type RoleAssignment struct {
	UserID     string     `json:"user_id" msgpack:"user_id"`
	UserName   string     `json:"user_name,omitempty" msgpack:"user_name,omitempty"`
	Confidence Confidence `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	Evidences  []string   `json:"evidences,omitempty" msgpack:"evidences,omitempty"`
}

// GroupProfile is the group-wide, multi-user profile. Like UserProfile it
// is versioned per extraction batch.
type GroupProfile struct {
	GroupID string  `json:"group_id" msgpack:"group_id"`
	Subject string  `json:"subject,omitempty" msgpack:"subject,omitempty"`
	Summary string  `json:"summary,omitempty" msgpack:"summary,omitempty"`
	Topics  []Topic `json:"topics,omitempty" msgpack:"topics,omitempty"`

	// Roles maps role names from the closed set to their assignments,
	// sorted strong-confidence first then by user name.
	Roles map[string][]RoleAssignment `json:"roles,omitempty" msgpack:"roles,omitempty"`

	Version   int64     `json:"version" msgpack:"version"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// ---------------------------------------------------------------------------
// Group importance: sliding activity window
// ---------------------------------------------------------------------------

// importanceWindow caps the number of batches an evidence window retains.
const importanceWindow = 10

// ImportanceStat is one batch's activity counts for a user in a group.
type ImportanceStat struct {
	UserID            string `json:"user_id" msgpack:"user_id"`
	GroupID           string `json:"group_id" msgpack:"group_id"`
	SpeakCount        int    `json:"speak_count" msgpack:"speak_count"`
	ReferCount        int    `json:"refer_count" msgpack:"refer_count"`
	ConversationCount int    `json:"conversation_count" msgpack:"conversation_count"`
}

// GroupImportanceEvidence is the sliding window of per-batch activity
// statistics for one user in one group. The window keeps the newest 10
// batches; IsImportant is recomputed from the whole window on every append.
type GroupImportanceEvidence struct {
	UserID       string           `json:"user_id" msgpack:"user_id"`
	GroupID      string           `json:"group_id" msgpack:"group_id"`
	EvidenceList []ImportanceStat `json:"evidence_list,omitempty" msgpack:"evidence_list,omitempty"`
	IsImportant  bool             `json:"is_important" msgpack:"is_important"`
}

// Totals sums the window.
func (g *GroupImportanceEvidence) Totals() (speak, refer, conversations int) {
	for _, s := range g.EvidenceList {
		speak += s.SpeakCount
		refer += s.ReferCount
		conversations += s.ConversationCount
	}
	return speak, refer, conversations
}

// Important applies the aggregated thresholds over the window: the group
// matters to the user when speak+refer reaches 5, when they are mentioned
// at least twice, or when they speak in more than a tenth of the window's
// conversations.
func (g *GroupImportanceEvidence) Important() bool {
	speak, refer, conversations := g.Totals()
	if speak+refer >= 5 {
		return true
	}
	if refer >= 2 {
		return true
	}
	return conversations > 0 && float64(speak)/float64(conversations) > 0.1
}

// Append adds one batch's stat to the window, evicting the oldest entries
// beyond the cap, and recomputes IsImportant.
func (g *GroupImportanceEvidence) Append(stat ImportanceStat) {
	g.EvidenceList = append(g.EvidenceList, stat)
	if n := len(g.EvidenceList); n > importanceWindow {
		g.EvidenceList = g.EvidenceList[n-importanceWindow:]
	}
	g.IsImportant = g.Important()
}

// Score is the grouped-retrieval ranking signal: (speak + refer) divided by
// conversations over the window, 0 when the window has no conversations.
func (g *GroupImportanceEvidence) Score() float64 {
	speak, refer, conversations := g.Totals()
	if conversations == 0 {
		return 0
	}
	return float64(speak+refer) / float64(conversations)
}
