package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/llm"
	"github.com/evermem/evermem/pkg/memory"
	"github.com/evermem/evermem/pkg/prompts"
)

// profileAttempts bounds generate+parse rounds per profile part before the
// repair pass runs over the last reply.
const profileAttempts = 2

// UserProfileExtractor builds per-user profiles from a batch of cells. The
// extraction runs in three parts over the same combined conversation
// (skills, work, preferences), completes entries that cite no evidence,
// validates every evidence reference and folds the result into the
// existing profile versions carried on the batch.
type UserProfileExtractor struct {
	gen     llm.Generator
	prompts *prompts.Registry
	locale  string
	tz      *time.Location
	logger  *slog.Logger
}

// NewUserProfileExtractor builds a user profile extractor from cfg.
func NewUserProfileExtractor(cfg Config) *UserProfileExtractor {
	cfg = cfg.withDefaults()
	return &UserProfileExtractor{
		gen:     cfg.Generator,
		prompts: cfg.Prompts,
		locale:  cfg.Locale,
		tz:      cfg.TZ,
		logger:  cfg.Logger,
	}
}

func (x *UserProfileExtractor) Kind() memory.Kind { return memory.KindUserProfile }

type profilePart struct {
	name  string
	extra map[string]string
}

// Extract runs the three profile parts, skipping a part that keeps failing
// rather than losing the batch. Only when every part fails does the batch
// error out.
func (x *UserProfileExtractor) Extract(ctx context.Context, batch Batch) ([]memory.Memory, error) {
	if len(batch.Cells) == 0 {
		return nil, nil
	}
	conversation := annotatedConversation(batch.Cells, x.tz)
	speakers := collectSpeakers(batch)
	speakerText := speakerLines(speakers)

	ec := newEvidenceContext(batch.Cells, x.tz)
	for _, p := range batch.UserProfiles {
		ec.inherit(p)
	}

	parts := []profilePart{
		{name: prompts.ProfileSkills},
		{name: prompts.ProfileWork},
		{name: prompts.ProfilePreference, extra: map[string]string{"taxonomy": preferenceTaxonomy}},
	}
	byUser := make(map[string]*profilePayload)
	failed := 0
	for _, part := range parts {
		payloads, err := x.runPart(ctx, part, conversation, speakerText)
		if err != nil {
			failed++
			x.logger.Warn("profile part failed, skipping",
				"prompt", part.name, "error", err)
			continue
		}
		for i := range payloads {
			pp := &payloads[i]
			uid := resolveUserID(pp, speakers)
			if uid == "" {
				x.logger.Warn("profile entry without resolvable user, skipping",
					"user_name", pp.UserName)
				continue
			}
			pp.UserID = uid
			if cur, ok := byUser[uid]; ok {
				mergePayload(cur, pp)
			} else {
				cp := *pp
				byUser[uid] = &cp
			}
		}
	}
	if failed == len(parts) {
		return nil, errcode.New(errcode.LLMRetryExhausted, "all profile parts failed")
	}

	x.completeEvidences(ctx, conversation, byUser)

	var out []memory.Memory
	for _, uid := range sortedKeys(byUser) {
		fresh := byUser[uid].toProfile(batch.GroupID, batch.Scenario)
		sanitizeProfile(fresh, ec)
		if !profileHasContent(fresh) {
			continue
		}
		merged := cloneProfile(batch.UserProfiles[uid])
		merged.UserID = uid
		merged.GroupID = batch.GroupID
		mergeProfileInto(merged, fresh)
		merged.MemCellCount += cellsWithParticipant(batch.Cells, uid)
		merged.ClusterIDs = unionStrings(merged.ClusterIDs, batch.ClusterIDs)
		merged.UpdatedAt = time.Now().In(x.tz)
		out = append(out, memory.Memory{Kind: memory.KindUserProfile, UserProfile: merged})
	}
	if ec.dropped > 0 {
		x.logger.Warn("dropped unverifiable profile evidences",
			"group_id", batch.GroupID, "count", ec.dropped)
	}
	return out, nil
}

// runPart renders and runs one profile prompt. After the parse attempts are
// exhausted a single repair round asks the model to fix its own reply.
func (x *UserProfileExtractor) runPart(ctx context.Context, part profilePart, conversation, speakers string) ([]profilePayload, error) {
	vars := map[string]string{
		"speakers":     speakers,
		"conversation": conversation,
		"schema":       profileSchemaJSON,
	}
	for k, v := range part.extra {
		vars[k] = v
	}
	prompt, err := x.prompts.Render(x.locale, part.name, vars)
	if err != nil {
		return nil, err
	}

	var reply profileReply
	parse := func(out string) error {
		reply = profileReply{}
		return decodeFenced(out, &reply)
	}
	raw, err := generateParsed(ctx, x.gen, prompt, profileAttempts, parse)
	if err == nil {
		return reply.UserProfiles, nil
	}
	if raw == "" {
		return nil, err
	}
	repaired, rerr := x.repairJSON(ctx, raw)
	if rerr != nil || parse(repaired) != nil {
		return nil, err
	}
	return reply.UserProfiles, nil
}

// repairJSON asks the model to fix a malformed reply.
func (x *UserProfileExtractor) repairJSON(ctx context.Context, payload string) (string, error) {
	prompt, err := x.prompts.Render(x.locale, prompts.JSONRepair, map[string]string{
		"payload": payload,
	})
	if err != nil {
		return "", err
	}
	return x.gen.Generate(ctx, prompt)
}

// completeEvidences runs the evidence completion pass when any extracted
// entry cites nothing, overlaying the returned citations onto the entries
// that lacked them. The pass is best effort: on failure the uncited
// entries are simply dropped later by sanitation.
func (x *UserProfileExtractor) completeEvidences(ctx context.Context, conversation string, byUser map[string]*profilePayload) {
	ordered := make([]profilePayload, 0, len(byUser))
	for _, uid := range sortedKeys(byUser) {
		if payloadNeedsEvidence(byUser[uid]) {
			ordered = append(ordered, *byUser[uid])
		}
	}
	if len(ordered) == 0 {
		return
	}
	profilesJSON, err := json.Marshal(profileReply{UserProfiles: ordered})
	if err != nil {
		return
	}
	prompt, err := x.prompts.Render(x.locale, prompts.EvidenceCompletion, map[string]string{
		"conversation": conversation,
		"profiles":     string(profilesJSON),
	})
	if err != nil {
		x.logger.Warn("evidence completion prompt failed", "error", err)
		return
	}

	var reply profileReply
	parse := func(out string) error {
		reply = profileReply{}
		return decodeFenced(out, &reply)
	}
	raw, err := generateParsed(ctx, x.gen, prompt, profileAttempts, parse)
	if err != nil {
		if raw == "" {
			x.logger.Warn("evidence completion failed", "error", err)
			return
		}
		repaired, rerr := x.repairJSON(ctx, raw)
		if rerr != nil || parse(repaired) != nil {
			x.logger.Warn("evidence completion failed", "error", err)
			return
		}
	}
	for i := range reply.UserProfiles {
		src := &reply.UserProfiles[i]
		if dst, ok := byUser[src.UserID]; ok {
			overlayEvidences(dst, src)
		}
	}
}

// ---------------------------------------------------------------------------
// Payload plumbing
// ---------------------------------------------------------------------------

// toProfile copies the payload into a profile record.
func (p *profilePayload) toProfile(groupID, scenario string) *memory.UserProfile {
	out := &memory.UserProfile{
		UserID:               p.UserID,
		GroupID:              groupID,
		UserName:             p.UserName,
		Scenario:             scenario,
		ProjectsParticipated: p.ProjectsParticipated,
		OutputReasoning:      p.OutputReasoning,
	}
	dst := out.EvidenceFields()
	for name, ptr := range p.fields() {
		*dst[name] = *ptr
	}
	return out
}

// mergePayload appends src's lists onto dst's. Parts fill mostly disjoint
// fields, so appending is enough; real merging happens against the stored
// profile later.
func mergePayload(dst, src *profilePayload) {
	if dst.UserName == "" {
		dst.UserName = src.UserName
	}
	d, s := dst.fields(), src.fields()
	for name := range d {
		*d[name] = append(*d[name], (*s[name])...)
	}
	dst.ProjectsParticipated = append(dst.ProjectsParticipated, src.ProjectsParticipated...)
	if src.OutputReasoning != "" {
		if dst.OutputReasoning != "" {
			dst.OutputReasoning += "\n"
		}
		dst.OutputReasoning += src.OutputReasoning
	}
}

// payloadNeedsEvidence reports whether any entry cites nothing.
func payloadNeedsEvidence(p *profilePayload) bool {
	for _, ptr := range p.fields() {
		for _, e := range *ptr {
			if len(e.Evidences) == 0 {
				return true
			}
		}
	}
	for _, proj := range p.ProjectsParticipated {
		for _, list := range [][]memory.EvidenceEntry{
			proj.Subtasks, proj.UserObjective, proj.Contributions, proj.UserConcerns,
		} {
			for _, e := range list {
				if len(e.Evidences) == 0 {
					return true
				}
			}
		}
	}
	return false
}

// overlayEvidences copies citations from src onto dst entries that have
// none. Entries match by value, type and level first, then by value alone.
func overlayEvidences(dst, src *profilePayload) {
	dstFields, srcFields := dst.fields(), src.fields()
	for name, s := range srcFields {
		overlayEntryList(*dstFields[name], *s)
	}
	for i := range dst.ProjectsParticipated {
		d := &dst.ProjectsParticipated[i]
		s := findProject(src.ProjectsParticipated, d.ProjectID, d.ProjectName)
		if s == nil {
			continue
		}
		overlayEntryList(d.Subtasks, s.Subtasks)
		overlayEntryList(d.UserObjective, s.UserObjective)
		overlayEntryList(d.Contributions, s.Contributions)
		overlayEntryList(d.UserConcerns, s.UserConcerns)
	}
}

func overlayEntryList(dst, src []memory.EvidenceEntry) {
	for i := range dst {
		d := &dst[i]
		if len(d.Evidences) > 0 {
			continue
		}
		var match *memory.EvidenceEntry
		for j := range src {
			s := &src[j]
			if len(s.Evidences) == 0 || s.Value != d.Value {
				continue
			}
			if s.Type == d.Type && s.Level == d.Level {
				match = s
				break
			}
			if match == nil {
				match = s
			}
		}
		if match != nil {
			d.Evidences = slices.Clone(match.Evidences)
		}
	}
}

func findProject(projects []memory.ProjectEntry, id, name string) *memory.ProjectEntry {
	if id != "" {
		for i := range projects {
			if projects[i].ProjectID == id {
				return &projects[i]
			}
		}
	}
	if name != "" {
		for i := range projects {
			if projects[i].ProjectName == name {
				return &projects[i]
			}
		}
	}
	return nil
}

// resolveUserID maps a payload back to a known user id, falling back to a
// display-name lookup when the model omitted the id.
func resolveUserID(p *profilePayload, speakers map[string]string) string {
	if p.UserID != "" {
		return p.UserID
	}
	if p.UserName == "" {
		return ""
	}
	for _, id := range sortedKeys(speakers) {
		if speakers[id] == p.UserName {
			return id
		}
	}
	return ""
}

// collectSpeakers unions the names found in the cells with the names the
// caller already knows.
func collectSpeakers(batch Batch) map[string]string {
	out := make(map[string]string, len(batch.Speakers))
	for id, name := range batch.Speakers {
		out[id] = name
	}
	for _, c := range batch.Cells {
		if c == nil {
			continue
		}
		for _, m := range c.OriginalData {
			if m.SpeakerID != "" && out[m.SpeakerID] == "" {
				out[m.SpeakerID] = m.SpeakerName
			}
			for _, r := range m.ReferList {
				if r.ID != "" && out[r.ID] == "" {
					out[r.ID] = r.Name
				}
			}
		}
	}
	for id, p := range batch.UserProfiles {
		if p != nil && out[id] == "" {
			out[id] = p.UserName
		}
	}
	return out
}

// cellsWithParticipant counts how many cells the user took part in.
func cellsWithParticipant(cells []*memory.MemCell, userID string) int {
	n := 0
	for _, c := range cells {
		if c != nil && c.HasParticipant(userID) {
			n++
		}
	}
	return n
}
