// Package prompts holds the LLM prompt templates used by the extraction
// and retrieval pipelines, keyed by locale and prompt name.
//
// Templates are data, loaded once at startup; the active locale comes from
// MEMORY_LANGUAGE. [Registry.Validate] runs at startup and fails fast when
// a locale is missing a prompt or two locales disagree on placeholders,
// mirroring the error-dictionary check in [errcode].
package prompts

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/evermem/evermem/pkg/trie"
)

// Supported locales.
const (
	LocaleEN = "en"
	LocaleZH = "zh"
)

// DefaultLocale is the fallback when a template is missing for the
// requested locale.
const DefaultLocale = LocaleEN

// Prompt names. Each name exists in every locale pack.
const (
	BoundaryDetection  = "boundary_detection"
	EpisodePersonal    = "episode_personal"
	EpisodeGroup       = "episode_group"
	EventLog           = "event_log"
	ProfileSkills      = "user_profile_skills"
	ProfileWork        = "user_profile_work"
	ProfilePreference  = "user_profile_preference"
	EvidenceCompletion = "evidence_completion"
	JSONRepair         = "json_repair"
	GroupContent       = "group_content_analysis"
	GroupBehavior      = "group_behavior_analysis"
	SufficiencyCheck   = "sufficiency_check"
	MultiQuery         = "multi_query"
)

// Names returns all known prompt names.
func Names() []string {
	return []string{
		BoundaryDetection,
		EpisodePersonal,
		EpisodeGroup,
		EventLog,
		ProfileSkills,
		ProfileWork,
		ProfilePreference,
		EvidenceCompletion,
		JSONRepair,
		GroupContent,
		GroupBehavior,
		SufficiencyCheck,
		MultiQuery,
	}
}

// Locales returns all supported locales.
func Locales() []string {
	return []string{LocaleEN, LocaleZH}
}

// Registry resolves prompt templates by locale and name.
type Registry struct {
	routes *trie.Trie[string]
	logger *slog.Logger
}

// New creates a Registry seeded with the built-in locale packs.
// If logger is nil, slog.Default() is used.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{routes: trie.New[string](), logger: logger}
	for name, tpl := range enPack {
		r.mustRegister(LocaleEN, name, tpl)
	}
	for name, tpl := range zhPack {
		r.mustRegister(LocaleZH, name, tpl)
	}
	return r
}

func (r *Registry) mustRegister(locale, name, template string) {
	if err := r.Register(locale, name, template); err != nil {
		panic(err)
	}
}

// Register adds or replaces a template. Callers can override built-in
// templates before validation.
func (r *Registry) Register(locale, name, template string) error {
	if locale == "" || name == "" {
		return fmt.Errorf("prompts: empty locale or name")
	}
	return r.routes.SetValue(locale+"/"+name, template)
}

// Get returns the template for (locale, name). A missing locale falls back
// to [DefaultLocale] with a warning; a missing name errors.
func (r *Registry) Get(locale, name string) (string, error) {
	if tpl, ok := r.routes.GetValue(locale + "/" + name); ok {
		return tpl, nil
	}
	if locale != DefaultLocale {
		if tpl, ok := r.routes.GetValue(DefaultLocale + "/" + name); ok {
			r.logger.Warn("prompt missing for locale, falling back",
				"locale", locale, "name", name, "fallback", DefaultLocale)
			return tpl, nil
		}
	}
	return "", fmt.Errorf("prompts: unknown prompt %s/%s", locale, name)
}

// Render resolves the template and substitutes {placeholder} tokens from
// vars. Tokens without a matching var are left as-is, so JSON examples
// inside templates survive rendering.
func (r *Registry) Render(locale, name string, vars map[string]string) (string, error) {
	tpl, err := r.Get(locale, name)
	if err != nil {
		return "", err
	}
	return RenderTemplate(tpl, vars), nil
}

// RenderTemplate substitutes {key} tokens in tpl from vars.
func RenderTemplate(tpl string, vars map[string]string) string {
	for k, v := range vars {
		tpl = strings.ReplaceAll(tpl, "{"+k+"}", v)
	}
	return tpl
}

var placeholderRe = regexp.MustCompile(`\{[a-z][a-z0-9_]*\}`)

// placeholders extracts the sorted set of {tokens} in a template.
func placeholders(tpl string) []string {
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllString(tpl, -1) {
		seen[m] = true
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every known prompt name is registered for every
// supported locale and that all locales of a prompt agree on their
// placeholder sets. Call at startup; a failure means a broken deployment.
func (r *Registry) Validate() error {
	for _, name := range Names() {
		ref, ok := r.routes.GetValue(DefaultLocale + "/" + name)
		if !ok {
			return fmt.Errorf("prompts: locale %s missing prompt %q", DefaultLocale, name)
		}
		want := placeholders(ref)
		for _, locale := range Locales() {
			if locale == DefaultLocale {
				continue
			}
			tpl, ok := r.routes.GetValue(locale + "/" + name)
			if !ok {
				return fmt.Errorf("prompts: locale %s missing prompt %q", locale, name)
			}
			got := placeholders(tpl)
			if strings.Join(got, ",") != strings.Join(want, ",") {
				return fmt.Errorf("prompts: %s/%s placeholders %v != %s/%s placeholders %v",
					locale, name, got, DefaultLocale, name, want)
			}
		}
	}
	return nil
}
