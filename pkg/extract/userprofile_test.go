package extract_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/extract"
	"github.com/evermem/evermem/pkg/memory"
)

// profileBatch builds two cells: "A" with both users, "B" with Alice alone.
func profileBatch() extract.Batch {
	tsA := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	tsB := time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)
	return extract.Batch{
		GroupID: "g1",
		Cells: []*memory.MemCell{
			{
				EventID:      "A",
				GroupID:      "g1",
				Participants: []string{"u1", "u2"},
				OriginalData: []memory.RawMessage{
					textMsg("u1", "Alice", "I rewrote the ingest service in Go last quarter", tsA),
					textMsg("u2", "Bob", "nice, how did the migration go?", tsA.Add(time.Minute)),
				},
				Timestamp: tsA,
				Type:      memory.RawDataConversation,
			},
			{
				EventID:      "B",
				GroupID:      "g1",
				Participants: []string{"u1"},
				OriginalData: []memory.RawMessage{
					textMsg("u1", "Alice", "profiling cut the p99 latency in half", tsB),
				},
				Timestamp: tsB,
				Type:      memory.RawDataConversation,
			},
		},
		Speakers:   map[string]string{"u1": "Alice", "u2": "Bob"},
		ClusterIDs: []string{"g1-001"},
	}
}

const emptyProfiles = `{"user_profiles": []}`

const skillsGoExpert = `{"user_profiles": [{"user_id": "u1", "user_name": "Alice",
	"hard_skills": [{"value": "Go", "level": "expert", "evidences": ["A", "2024-03-12|C"]}]}]}`

// routeProfiles answers each profile prompt by its template, so the fake
// stays correct regardless of call order.
func routeProfiles(t *testing.T, skills, work, pref, completion, repair string) func(int, string) (string, error) {
	t.Helper()
	return func(_ int, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "but is malformed"):
			if repair == "" {
				t.Error("unexpected repair call")
			}
			return repair, nil
		case strings.Contains(prompt, `missing their "evidences"`):
			if completion == "" {
				t.Error("unexpected evidence completion call")
			}
			return completion, nil
		case strings.Contains(prompt, "professional skills"):
			return skills, nil
		case strings.Contains(prompt, "work responsibility"):
			return work, nil
		case strings.Contains(prompt, "stable preferences"):
			return pref, nil
		}
		return "", fmt.Errorf("unrouted prompt: %.60s", prompt)
	}
}

func TestUserProfileBuildsFromSkillsPart(t *testing.T) {
	gen := &fakeGen{reply: routeProfiles(t, skillsGoExpert, emptyProfiles, emptyProfiles, "", "")}
	x := extract.NewUserProfileExtractor(testConfig(gen))

	mems, err := x.Extract(context.Background(), profileBatch())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gen.callCount() != 3 {
		t.Fatalf("expected 3 part calls, got %d", gen.callCount())
	}
	if len(mems) != 1 || mems[0].Kind != memory.KindUserProfile {
		t.Fatalf("unexpected memories: %+v", mems)
	}
	p := mems[0].UserProfile
	if p.UserID != "u1" || p.UserName != "Alice" || p.GroupID != "g1" {
		t.Fatalf("identity = %q/%q/%q", p.UserID, p.UserName, p.GroupID)
	}
	if len(p.HardSkills) != 1 {
		t.Fatalf("hard skills = %+v", p.HardSkills)
	}
	skill := p.HardSkills[0]
	if skill.Value != "Go" || skill.Level != "expert" {
		t.Errorf("skill = %+v", skill)
	}
	// "A" normalized to the dated form, the unknown cell "C" dropped.
	if len(skill.Evidences) != 1 || skill.Evidences[0] != "2024-03-10|A" {
		t.Errorf("evidences = %v", skill.Evidences)
	}
	if p.MemCellCount != 2 {
		t.Errorf("memcell count = %d, want 2", p.MemCellCount)
	}
	if len(p.ClusterIDs) != 1 || p.ClusterIDs[0] != "g1-001" {
		t.Errorf("cluster ids = %v", p.ClusterIDs)
	}
	if p.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}

	prompt := gen.prompts()[0]
	for _, want := range []string{"[MEMCELL_ID: A]", "[MEMCELL_ID: B]", "u1: Alice", "u2: Bob"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("skills prompt missing %q", want)
		}
	}
}

func TestUserProfileDropsNonParticipantEvidence(t *testing.T) {
	skills := `{"user_profiles": [{"user_id": "u2",
		"hard_skills": [{"value": "Rust", "level": "medium", "evidences": ["B"]}]}]}`
	gen := &fakeGen{reply: routeProfiles(t, skills, emptyProfiles, emptyProfiles, "", "")}
	x := extract.NewUserProfileExtractor(testConfig(gen))

	mems, err := x.Extract(context.Background(), profileBatch())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Bob never spoke in cell B, so his only citation is invalid and the
	// entry, then the whole profile, is dropped.
	if len(mems) != 0 {
		t.Fatalf("expected no profiles, got %+v", mems)
	}
}

func TestUserProfileCompletesMissingEvidence(t *testing.T) {
	skills := `{"user_profiles": [{"user_id": "u1", "user_name": "Alice",
		"hard_skills": [{"value": "Go", "level": "expert"}]}]}`
	completion := `{"user_profiles": [{"user_id": "u1",
		"hard_skills": [{"value": "Go", "level": "expert", "evidences": ["A"]}]}]}`
	gen := &fakeGen{reply: routeProfiles(t, skills, emptyProfiles, emptyProfiles, completion, "")}
	x := extract.NewUserProfileExtractor(testConfig(gen))

	mems, err := x.Extract(context.Background(), profileBatch())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gen.callCount() != 4 {
		t.Fatalf("expected 3 parts + 1 completion call, got %d", gen.callCount())
	}
	if len(mems) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(mems))
	}
	skill := mems[0].UserProfile.HardSkills[0]
	if len(skill.Evidences) != 1 || skill.Evidences[0] != "2024-03-10|A" {
		t.Errorf("completed evidences = %v", skill.Evidences)
	}
}

func TestUserProfileRepairsMalformedReply(t *testing.T) {
	garbled := "hard_skills ::: Go expert, cited A"
	gen := &fakeGen{reply: func(_ int, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "but is malformed"):
			if !strings.Contains(prompt, garbled) {
				t.Errorf("repair prompt missing the malformed payload:\n%s", prompt)
			}
			return skillsGoExpert, nil
		case strings.Contains(prompt, "professional skills"):
			return garbled, nil
		default:
			return emptyProfiles, nil
		}
	}}
	x := extract.NewUserProfileExtractor(testConfig(gen))

	mems, err := x.Extract(context.Background(), profileBatch())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Two skills attempts, one repair, then work and preference.
	if gen.callCount() != 5 {
		t.Fatalf("expected 5 calls, got %d", gen.callCount())
	}
	if !strings.Contains(gen.prompts()[2], "but is malformed") {
		t.Error("third call should be the repair pass")
	}
	if len(mems) != 1 || len(mems[0].UserProfile.HardSkills) != 1 {
		t.Fatalf("repaired reply not used: %+v", mems)
	}
}

func TestUserProfileAllPartsFailing(t *testing.T) {
	gen := &fakeGen{reply: func(int, string) (string, error) {
		return ":::: not json ::::", nil
	}}
	x := extract.NewUserProfileExtractor(testConfig(gen))

	_, err := x.Extract(context.Background(), profileBatch())
	if !errcode.IsCode(err, errcode.LLMRetryExhausted) {
		t.Fatalf("want LLMRetryExhausted, got %v", err)
	}
	// Each part burns two attempts plus one repair round.
	if gen.callCount() != 9 {
		t.Fatalf("expected 9 calls, got %d", gen.callCount())
	}
}

func TestUserProfileMergesWithExistingVersion(t *testing.T) {
	skills := `{"user_profiles": [{"user_id": "u1",
		"hard_skills": [{"value": "Go", "level": "expert", "evidences": ["A", "2024-02-01|old"]}]}]}`
	gen := &fakeGen{reply: routeProfiles(t, skills, emptyProfiles, emptyProfiles, "", "")}
	x := extract.NewUserProfileExtractor(testConfig(gen))

	existing := &memory.UserProfile{
		UserID:   "u1",
		GroupID:  "g1",
		UserName: "Alice",
		HardSkills: []memory.EvidenceEntry{
			{Value: "Go", Level: "medium", Evidences: []string{"2024-02-01|old"}},
		},
		MemCellCount: 7,
		Version:      3,
	}
	batch := profileBatch()
	batch.UserProfiles = map[string]*memory.UserProfile{"u1": existing}

	mems, err := x.Extract(context.Background(), batch)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	p := mems[0].UserProfile
	if len(p.HardSkills) != 1 {
		t.Fatalf("hard skills = %+v", p.HardSkills)
	}
	skill := p.HardSkills[0]
	if skill.Level != "expert" {
		t.Errorf("level = %q, want the higher grade kept", skill.Level)
	}
	want := []string{"2024-02-01|old", "2024-03-10|A"}
	if len(skill.Evidences) != 2 || skill.Evidences[0] != want[0] || skill.Evidences[1] != want[1] {
		t.Errorf("evidences = %v, want %v", skill.Evidences, want)
	}
	if p.MemCellCount != 9 {
		t.Errorf("memcell count = %d, want 7+2", p.MemCellCount)
	}
	if p.Version != 3 {
		t.Errorf("version = %d, want carried over unchanged", p.Version)
	}
	if existing.HardSkills[0].Level != "medium" || len(existing.HardSkills[0].Evidences) != 1 {
		t.Error("stored profile version was mutated")
	}
}

func TestUserProfileTypeFilters(t *testing.T) {
	work := `{"user_profiles": [{"user_id": "u1", "tendency": [
		{"value": "prefers incremental rollouts", "type": "stance", "evidences": ["A"]},
		{"value": "chatter", "type": "random", "evidences": ["A"]}
	], "projects_participated": [
		{"project_name": "apollo", "entry_date": "2024-03-10",
		 "subtasks": [
			{"value": "write the parser", "type": "taskbyhimself", "evidences": ["A"]},
			{"value": "watch the dashboards", "type": "assigned", "evidences": ["A"]}],
		 "contributions": [
			{"value": "shipped v1", "type": "result", "evidences": ["A"]},
			{"value": "left a comment", "type": "comment", "evidences": ["A"]}]},
		{"subtasks": [{"value": "orphan task", "type": "taskbyhimself", "evidences": ["A"]}]},
		{"project_name": "hollow",
		 "subtasks": [{"value": "filtered away", "type": "other", "evidences": ["A"]}]}
	]}]}`
	gen := &fakeGen{reply: routeProfiles(t, emptyProfiles, work, emptyProfiles, "", "")}
	x := extract.NewUserProfileExtractor(testConfig(gen))

	mems, err := x.Extract(context.Background(), profileBatch())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	p := mems[0].UserProfile
	if len(p.Tendency) != 1 || p.Tendency[0].Type != "stance" {
		t.Errorf("tendency = %+v, want only the stance entry", p.Tendency)
	}
	if len(p.ProjectsParticipated) != 1 {
		t.Fatalf("projects = %+v, want nameless and hollow ones dropped", p.ProjectsParticipated)
	}
	proj := p.ProjectsParticipated[0]
	if proj.ProjectName != "apollo" {
		t.Errorf("project = %q", proj.ProjectName)
	}
	if len(proj.Subtasks) != 1 || proj.Subtasks[0].Value != "write the parser" {
		t.Errorf("subtasks = %+v", proj.Subtasks)
	}
	if len(proj.Contributions) != 1 || proj.Contributions[0].Value != "shipped v1" {
		t.Errorf("contributions = %+v", proj.Contributions)
	}
}

func TestMergeUserProfiles(t *testing.T) {
	p1 := &memory.UserProfile{
		UserID: "u1", GroupID: "g1", UserName: "Alice",
		HardSkills: []memory.EvidenceEntry{
			{Value: "Go", Level: "expert", Evidences: []string{"2024-03-10|A"}},
		},
		ProjectsParticipated: []memory.ProjectEntry{{
			ProjectName:   "apollo",
			UserObjective: []memory.EvidenceEntry{{Value: "ship ingest", Evidences: []string{"2024-03-10|A"}}},
		}},
		MemCellCount: 4,
		UpdatedAt:    time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	p2 := &memory.UserProfile{
		UserID: "u1", GroupID: "g2",
		HardSkills: []memory.EvidenceEntry{
			{Value: "Rust", Level: "medium", Evidences: []string{"2024-03-11|B"}},
		},
		ProjectsParticipated: []memory.ProjectEntry{{ProjectName: "hermes"}},
		MemCellCount:         2,
		UpdatedAt:            time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
	}
	importance := map[string]*memory.GroupImportanceEvidence{
		"g2": {UserID: "u1", GroupID: "g2", IsImportant: false},
	}

	got := extract.MergeUserProfiles([]*memory.UserProfile{p1, nil, p2}, importance)
	if got == nil {
		t.Fatal("expected a merged profile")
	}
	if got.GroupID != "" || got.Scenario != "" {
		t.Errorf("cross-group view keeps group scope: %q/%q", got.GroupID, got.Scenario)
	}
	// g2 is unimportant to the user, so only its project history crosses.
	if len(got.HardSkills) != 1 || got.HardSkills[0].Value != "Go" {
		t.Errorf("hard skills = %+v", got.HardSkills)
	}
	if len(got.ProjectsParticipated) != 2 {
		t.Fatalf("projects = %+v, want apollo and hermes", got.ProjectsParticipated)
	}
	if got.MemCellCount != 6 {
		t.Errorf("memcell count = %d, want 4+2", got.MemCellCount)
	}
	if !got.UpdatedAt.Equal(p2.UpdatedAt) {
		t.Errorf("updated_at = %v, want the newest version's", got.UpdatedAt)
	}
	if len(p1.HardSkills[0].Evidences) != 1 || len(p2.ProjectsParticipated) != 1 {
		t.Error("inputs were mutated")
	}

	if extract.MergeUserProfiles([]*memory.UserProfile{nil, nil}, nil) != nil {
		t.Error("nil-only input should merge to nil")
	}
}
