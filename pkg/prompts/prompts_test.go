package prompts_test

import (
	"strings"
	"testing"

	"github.com/evermem/evermem/pkg/prompts"
)

func TestValidate(t *testing.T) {
	r := prompts.New(nil)
	if err := r.Validate(); err != nil {
		t.Fatalf("built-in packs should validate: %v", err)
	}
}

func TestValidateCatchesPlaceholderDrift(t *testing.T) {
	r := prompts.New(nil)
	// Override the zh template with one that lost a placeholder.
	if err := r.Register(prompts.LocaleZH, prompts.SufficiencyCheck, "问题:{query}"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Validate(); err == nil {
		t.Fatal("expected validation error for placeholder drift")
	}
}

func TestGetLocales(t *testing.T) {
	r := prompts.New(nil)

	en, err := r.Get(prompts.LocaleEN, prompts.BoundaryDetection)
	if err != nil {
		t.Fatalf("Get en: %v", err)
	}
	zh, err := r.Get(prompts.LocaleZH, prompts.BoundaryDetection)
	if err != nil {
		t.Fatalf("Get zh: %v", err)
	}
	if en == zh {
		t.Fatal("en and zh templates should differ")
	}
	if !strings.Contains(zh, "话题") {
		t.Errorf("zh template does not look Chinese: %.60q", zh)
	}

	// Unknown locale falls back to en.
	fr, err := r.Get("fr", prompts.BoundaryDetection)
	if err != nil {
		t.Fatalf("Get fr: %v", err)
	}
	if fr != en {
		t.Error("unknown locale should fall back to the en template")
	}

	// Unknown name errors.
	if _, err := r.Get(prompts.LocaleEN, "no_such_prompt"); err == nil {
		t.Fatal("expected error for unknown prompt name")
	}
}

func TestRender(t *testing.T) {
	r := prompts.New(nil)

	out, err := r.Render(prompts.LocaleEN, prompts.SufficiencyCheck, map[string]string{
		"query":     "when does the train leave",
		"documents": "[memory 1]\ntime: 2026-03-01\ncontent: departure 08:30",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(out, "{query}") || strings.Contains(out, "{documents}") {
		t.Errorf("placeholders not substituted:\n%s", out)
	}
	if !strings.Contains(out, "when does the train leave") {
		t.Error("query value missing from rendered prompt")
	}
	// The JSON response example must survive rendering untouched.
	if !strings.Contains(out, `{"is_sufficient"`) {
		t.Error("JSON example was mangled by rendering")
	}
}

func TestRenderTemplateLeavesUnknownTokens(t *testing.T) {
	out := prompts.RenderTemplate("a {known} and {unknown}", map[string]string{"known": "X"})
	if out != "a X and {unknown}" {
		t.Errorf("RenderTemplate = %q", out)
	}
}

func TestEveryPromptRegistered(t *testing.T) {
	r := prompts.New(nil)
	for _, locale := range prompts.Locales() {
		for _, name := range prompts.Names() {
			tpl, err := r.Get(locale, name)
			if err != nil {
				t.Errorf("Get(%s, %s): %v", locale, name, err)
				continue
			}
			if strings.TrimSpace(tpl) == "" {
				t.Errorf("Get(%s, %s): empty template", locale, name)
			}
		}
	}
}
