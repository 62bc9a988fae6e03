package extract

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/evermem/evermem/pkg/memory"
)

// ---------------------------------------------------------------------------
// Reply payloads
// ---------------------------------------------------------------------------

// profileReply mirrors the user_profiles JSON the profile prompts request.
// Every extraction part decodes into the same shape and fills a subset of
// the fields.
type profileReply struct {
	UserProfiles []profilePayload `json:"user_profiles"`
}

type profilePayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`

	HardSkills             []memory.EvidenceEntry `json:"hard_skills,omitempty"`
	SoftSkills             []memory.EvidenceEntry `json:"soft_skills,omitempty"`
	MotivationSystem       []memory.EvidenceEntry `json:"motivation_system,omitempty"`
	FearSystem             []memory.EvidenceEntry `json:"fear_system,omitempty"`
	ValueSystem            []memory.EvidenceEntry `json:"value_system,omitempty"`
	HumorUse               []memory.EvidenceEntry `json:"humor_use,omitempty"`
	Colloquialism          []memory.EvidenceEntry `json:"colloquialism,omitempty"`
	Personality            []memory.EvidenceEntry `json:"personality,omitempty"`
	WayOfDecisionMaking    []memory.EvidenceEntry `json:"way_of_decision_making,omitempty"`
	WorkingHabitPreference []memory.EvidenceEntry `json:"working_habit_preference,omitempty"`
	Interests              []memory.EvidenceEntry `json:"interests,omitempty"`
	Tendency               []memory.EvidenceEntry `json:"tendency,omitempty"`
	UserGoal               []memory.EvidenceEntry `json:"user_goal,omitempty"`
	WorkResponsibility     []memory.EvidenceEntry `json:"work_responsibility,omitempty"`
	ProjectsParticipated   []memory.ProjectEntry  `json:"projects_participated,omitempty"`

	OutputReasoning string `json:"output_reasoning,omitempty"`
}

// fields returns the scalar evidence lists keyed by wire name, aliasing the
// payload the same way [memory.UserProfile.EvidenceFields] does.
func (p *profilePayload) fields() map[string]*[]memory.EvidenceEntry {
	return map[string]*[]memory.EvidenceEntry{
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
// Schema hints
// ---------------------------------------------------------------------------

// profileSchemaJSON is the JSON schema the profile prompts embed so the
// model sees the exact reply shape it must produce.
var profileSchemaJSON = mustSchemaJSON[profileReply]()

func mustSchemaJSON[T any]() string {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		panic(err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return string(raw)
}

// ---------------------------------------------------------------------------
// Preference taxonomy
// ---------------------------------------------------------------------------

// preferenceTaxonomy is the closed vocabulary the preference prompt selects
// values from, one category per line. Values outside the taxonomy are still
// accepted on parse; the list steers the model, it does not gate output.
const preferenceTaxonomy = `motivation_system: achievement, recognition, autonomy, mastery, curiosity, financial reward, stability, social connection, helping others, competition, creative expression, responsibility, growth
fear_system: failure, public criticism, losing control, missing deadlines, conflict, uncertainty, being ignored, technical debt, job insecurity, letting the team down, scope creep, burnout
value_system: honesty, efficiency, craftsmanship, fairness, transparency, loyalty, pragmatism, innovation, discipline, collaboration, user empathy, data-driven decisions, long-term thinking
humor_use: self-deprecating, wordplay, sarcasm, situational, deadpan, memes, teasing, absurdist, observational, none observed
colloquialism: catchphrases, emoji-heavy, formal register, internet slang, technical jargon, dialect expressions, abbreviations, politeness markers, exclamations, code-switching
interests: programming languages, system architecture, machine learning, product design, open source, gaming, sports, music, reading, travel, photography, cooking, investing, hardware tinkering, science fiction, history, fitness, board games, astronomy, gardening
user_goal: ship the current project, get promoted, learn a new skill, grow the team, improve quality, automate workflows, reduce costs, expand user base, achieve work-life balance, build reputation, mentor others, start a venture`
