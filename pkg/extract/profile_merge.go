package extract

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/evermem/evermem/pkg/memory"
)

// evidenceCap bounds a profile entry's merged evidence list.
const evidenceCap = 10

// ---------------------------------------------------------------------------
// Evidence validation
// ---------------------------------------------------------------------------

// evidenceContext holds what a batch knows about evidence references: which
// cell ids exist, their dates and participants, and which historical
// evidence strings are trusted because an earlier version already carried
// them.
type evidenceContext struct {
	dates        map[string]time.Time
	participants map[string]map[string]bool
	inherited    map[string]string
	tz           *time.Location
	dropped      int
}

func newEvidenceContext(cells []*memory.MemCell, tz *time.Location) *evidenceContext {
	ec := &evidenceContext{
		dates:        make(map[string]time.Time, len(cells)),
		participants: make(map[string]map[string]bool, len(cells)),
		inherited:    make(map[string]string),
		tz:           tz,
	}
	for _, c := range cells {
		if c == nil || c.EventID == "" {
			continue
		}
		ec.dates[c.EventID] = c.Timestamp
		set := make(map[string]bool, len(c.Participants))
		for _, p := range c.Participants {
			set[p] = true
		}
		ec.participants[c.EventID] = set
	}
	return ec
}

func (ec *evidenceContext) addInherited(s string) {
	if _, cid, _ := memory.ParseEvidence(s); cid != "" {
		ec.inherited[cid] = s
	}
}

// inherit trusts every evidence string an existing profile version carries.
func (ec *evidenceContext) inherit(p *memory.UserProfile) {
	if p == nil {
		return
	}
	for _, ptr := range p.EvidenceFields() {
		for _, e := range *ptr {
			for _, s := range e.Evidences {
				ec.addInherited(s)
			}
		}
	}
	for _, proj := range p.ProjectsParticipated {
		for _, list := range [][]memory.EvidenceEntry{
			proj.Subtasks, proj.UserObjective, proj.Contributions, proj.UserConcerns,
		} {
			for _, e := range list {
				for _, s := range e.Evidences {
					ec.addInherited(s)
				}
			}
		}
	}
}

// inheritGroup trusts the evidence strings on an existing group profile.
func (ec *evidenceContext) inheritGroup(p *memory.GroupProfile) {
	if p == nil {
		return
	}
	for _, t := range p.Topics {
		for _, s := range t.Evidences {
			ec.addInherited(s)
		}
	}
	for _, assignments := range p.Roles {
		for _, a := range assignments {
			for _, s := range a.Evidences {
				ec.addInherited(s)
			}
		}
	}
}

// sanitize validates one raw evidence list. References to batch cells are
// normalized to "YYYY-MM-DD|cid" and, when userID is non-empty, kept only
// if that user participated in the cell. References known from history are
// kept in their stored form. Everything else is dropped. Output preserves
// order and is deduplicated.
func (ec *evidenceContext) sanitize(raw []string, userID string) []string {
	var out []string
	var seen map[string]bool
	add := func(s string) {
		if seen == nil {
			seen = make(map[string]bool, len(raw))
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		_, cid, _ := memory.ParseEvidence(s)
		if ts, ok := ec.dates[cid]; ok {
			if userID != "" && !ec.participants[cid][userID] {
				ec.dropped++
				continue
			}
			add(memory.FormatEvidence(ts.In(ec.tz), cid))
			continue
		}
		if stored, ok := ec.inherited[cid]; ok {
			add(stored)
			continue
		}
		ec.dropped++
	}
	return out
}

// latestActivity returns the newest batch cell timestamp among the given
// evidences, reporting false when none of them reference the batch.
func (ec *evidenceContext) latestActivity(evidences []string) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, s := range evidences {
		_, cid, _ := memory.ParseEvidence(s)
		if ts, ok := ec.dates[cid]; ok {
			found = true
			if ts.After(latest) {
				latest = ts
			}
		}
	}
	return latest, found
}

// sortEvidencesByDate orders evidence strings by their date prefix,
// oldest first. The sort is stable so same-day references keep their
// given order.
func sortEvidencesByDate(evidences []string) {
	sort.SliceStable(evidences, func(i, j int) bool {
		di, _, _ := memory.ParseEvidence(evidences[i])
		dj, _, _ := memory.ParseEvidence(evidences[j])
		return di.Before(dj)
	})
}

// ---------------------------------------------------------------------------
// Entry sanitation
// ---------------------------------------------------------------------------

// sanitizeEntries validates the evidence on each entry and drops entries
// left without any support.
func sanitizeEntries(entries []memory.EvidenceEntry, userID string, ec *evidenceContext) []memory.EvidenceEntry {
	var out []memory.EvidenceEntry
	for _, e := range entries {
		e.Value = strings.TrimSpace(e.Value)
		if e.Value == "" {
			continue
		}
		e.Evidences = ec.sanitize(e.Evidences, userID)
		if len(e.Evidences) == 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// filterByType keeps only entries whose type is in the allowed set.
func filterByType(entries []memory.EvidenceEntry, allowed ...string) []memory.EvidenceEntry {
	var out []memory.EvidenceEntry
	for _, e := range entries {
		if slices.Contains(allowed, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

// sanitizeProfile enforces the evidence rules on a freshly extracted
// profile in place: closed type sets, verifiable evidences, no empty
// entries or projects.
func sanitizeProfile(p *memory.UserProfile, ec *evidenceContext) {
	p.Tendency = filterByType(p.Tendency, "stance", "suggestion", "his own opinion")
	for _, ptr := range p.EvidenceFields() {
		*ptr = sanitizeEntries(*ptr, p.UserID, ec)
	}
	var projects []memory.ProjectEntry
	for _, proj := range p.ProjectsParticipated {
		if proj.ProjectID == "" && proj.ProjectName == "" {
			continue
		}
		proj.Subtasks = sanitizeEntries(filterByType(proj.Subtasks, "taskbyhimself"), p.UserID, ec)
		proj.UserObjective = sanitizeEntries(proj.UserObjective, p.UserID, ec)
		proj.Contributions = sanitizeEntries(filterByType(proj.Contributions, "result"), p.UserID, ec)
		proj.UserConcerns = sanitizeEntries(proj.UserConcerns, p.UserID, ec)
		if len(proj.Subtasks)+len(proj.UserObjective)+len(proj.Contributions)+len(proj.UserConcerns) == 0 {
			continue
		}
		projects = append(projects, proj)
	}
	p.ProjectsParticipated = projects
}

// profileHasContent reports whether any evidence field or project survived
// sanitation.
func profileHasContent(p *memory.UserProfile) bool {
	for _, ptr := range p.EvidenceFields() {
		if len(*ptr) > 0 {
			return true
		}
	}
	return len(p.ProjectsParticipated) > 0
}

// ---------------------------------------------------------------------------
// Merging
// ---------------------------------------------------------------------------

func entryKey(e memory.EvidenceEntry) string {
	return e.Value + "\x00" + e.Type
}

// mergeEntryLists folds incoming entries into existing ones. Entries
// matching on value and type merge in place: the higher proficiency level
// wins and evidences union in historical-first order, truncated to the
// cap. Unmatched incoming entries append in their given order.
func mergeEntryLists(existing, incoming []memory.EvidenceEntry) []memory.EvidenceEntry {
	if len(incoming) == 0 {
		return existing
	}
	out := slices.Clone(existing)
	index := make(map[string]int, len(out))
	for i, e := range out {
		if _, ok := index[entryKey(e)]; !ok {
			index[entryKey(e)] = i
		}
	}
	for _, in := range incoming {
		if i, ok := index[entryKey(in)]; ok {
			cur := &out[i]
			if memory.LevelRank(in.Level) > memory.LevelRank(cur.Level) {
				cur.Level = in.Level
			}
			cur.Evidences = memory.TruncateEvidences(
				memory.MergeEvidences(cur.Evidences, in.Evidences), evidenceCap)
			continue
		}
		in.Evidences = memory.TruncateEvidences(in.Evidences, evidenceCap)
		index[entryKey(in)] = len(out)
		out = append(out, in)
	}
	return out
}

// mergeProjects folds incoming projects into existing ones, matching by
// project id first and by name when either side lacks an id.
func mergeProjects(existing, incoming []memory.ProjectEntry) []memory.ProjectEntry {
	if len(incoming) == 0 {
		return existing
	}
	out := slices.Clone(existing)
	find := func(p memory.ProjectEntry) int {
		if p.ProjectID != "" {
			for i, e := range out {
				if e.ProjectID == p.ProjectID {
					return i
				}
			}
		}
		if p.ProjectName != "" {
			for i, e := range out {
				if e.ProjectName == p.ProjectName {
					return i
				}
			}
		}
		return -1
	}
	for _, in := range incoming {
		i := find(in)
		if i < 0 {
			out = append(out, in)
			continue
		}
		cur := &out[i]
		if cur.ProjectID == "" {
			cur.ProjectID = in.ProjectID
		}
		if cur.ProjectName == "" {
			cur.ProjectName = in.ProjectName
		}
		if cur.EntryDate == "" {
			cur.EntryDate = in.EntryDate
		}
		cur.Subtasks = mergeEntryLists(cur.Subtasks, in.Subtasks)
		cur.UserObjective = mergeEntryLists(cur.UserObjective, in.UserObjective)
		cur.Contributions = mergeEntryLists(cur.Contributions, in.Contributions)
		cur.UserConcerns = mergeEntryLists(cur.UserConcerns, in.UserConcerns)
	}
	return out
}

// mergeProfileInto folds src into dst. Historical content in dst keeps its
// position; new observations append.
func mergeProfileInto(dst, src *memory.UserProfile) {
	if src == nil {
		return
	}
	if src.UserName != "" {
		dst.UserName = src.UserName
	}
	if dst.Scenario == "" {
		dst.Scenario = src.Scenario
	}
	dstFields := dst.EvidenceFields()
	for name, ptr := range src.EvidenceFields() {
		d := dstFields[name]
		*d = mergeEntryLists(*d, *ptr)
	}
	dst.ProjectsParticipated = mergeProjects(dst.ProjectsParticipated, src.ProjectsParticipated)
	if src.OutputReasoning != "" {
		dst.OutputReasoning = src.OutputReasoning
	}
}

// cloneProfile copies a profile deeply enough that merging into the clone
// never mutates the original. A nil profile clones to an empty one.
func cloneProfile(p *memory.UserProfile) *memory.UserProfile {
	if p == nil {
		return &memory.UserProfile{}
	}
	out := *p
	for _, ptr := range out.EvidenceFields() {
		*ptr = slices.Clone(*ptr)
	}
	out.ProjectsParticipated = slices.Clone(p.ProjectsParticipated)
	out.ClusterIDs = slices.Clone(p.ClusterIDs)
	return &out
}

// MergeUserProfiles folds one user's per-group profiles into a single
// cross-group view. Groups whose importance window marks them unimportant
// to the user contribute only their project history; a group without an
// importance record contributes everything. The profiles themselves are
// not mutated.
func MergeUserProfiles(profiles []*memory.UserProfile, importance map[string]*memory.GroupImportanceEvidence) *memory.UserProfile {
	out := &memory.UserProfile{}
	merged := false
	for _, p := range profiles {
		if p == nil {
			continue
		}
		merged = true
		if out.UserID == "" {
			out.UserID = p.UserID
		}
		if out.UserName == "" {
			out.UserName = p.UserName
		}
		important := true
		if imp, ok := importance[p.GroupID]; ok && imp != nil {
			important = imp.IsImportant
		}
		if important {
			mergeProfileInto(out, p)
		} else {
			out.ProjectsParticipated = mergeProjects(out.ProjectsParticipated, p.ProjectsParticipated)
		}
		out.MemCellCount += p.MemCellCount
		if p.UpdatedAt.After(out.UpdatedAt) {
			out.UpdatedAt = p.UpdatedAt
		}
	}
	if !merged {
		return nil
	}
	out.GroupID = ""
	out.Scenario = ""
	return out
}

// unionStrings appends the unseen entries of extra to base, preserving
// first-appearance order.
func unionStrings(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := slices.Clone(base)
	for _, s := range base {
		seen[s] = true
	}
	for _, s := range extra {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
