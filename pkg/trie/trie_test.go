package trie

import (
	"reflect"
	"testing"
)

func TestTrie_SetValue_Get(t *testing.T) {
	tr := New[string]()

	if err := tr.SetValue("en/boundary", "prompt1"); err != nil {
		t.Fatalf("SetValue error: %v", err)
	}
	if err := tr.SetValue("en/episode", "prompt2"); err != nil {
		t.Fatalf("SetValue error: %v", err)
	}

	if val, ok := tr.GetValue("en/boundary"); !ok || val != "prompt1" {
		t.Errorf("GetValue(en/boundary) = %v, %v; want prompt1, true", val, ok)
	}
	if val, ok := tr.GetValue("en/episode"); !ok || val != "prompt2" {
		t.Errorf("GetValue(en/episode) = %v, %v; want prompt2, true", val, ok)
	}

	if _, ok := tr.GetValue("en/profile"); ok {
		t.Error("GetValue(en/profile) should return false")
	}
}

func TestTrie_SingleLevelWildcard(t *testing.T) {
	tr := New[string]()

	if err := tr.SetValue("models/+/embed", "handler1"); err != nil {
		t.Fatalf("SetValue error: %v", err)
	}

	tests := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"models/bge-m3/embed", "handler1", true},
		{"models/qwen3/embed", "handler1", true},
		{"models/abc/embed", "handler1", true},
		{"models/embed", "", false},          // Missing middle level
		{"models/a/b/embed", "", false},      // Too many levels
		{"prompts/bge-m3/embed", "", false},  // Wrong prefix
	}

	for _, tc := range tests {
		val, ok := tr.GetValue(tc.path)
		if ok != tc.wantOK {
			t.Errorf("GetValue(%q) ok = %v; want %v", tc.path, ok, tc.wantOK)
		}
		if ok && val != tc.want {
			t.Errorf("GetValue(%q) = %v; want %v", tc.path, val, tc.want)
		}
	}
}

func TestTrie_MultiLevelWildcard(t *testing.T) {
	tr := New[string]()

	if err := tr.SetValue("openai/#", "catchall"); err != nil {
		t.Fatalf("SetValue error: %v", err)
	}

	tests := []struct {
		path   string
		wantOK bool
	}{
		{"openai/gpt-4o", true},
		{"openai/gpt-4o/mini", true},
		{"openai/a/b/c/d/e", true},
		{"gemini/gpt-4o", false}, // Wrong prefix
	}

	for _, tc := range tests {
		_, ok := tr.GetValue(tc.path)
		if ok != tc.wantOK {
			t.Errorf("GetValue(%q) ok = %v; want %v", tc.path, ok, tc.wantOK)
		}
	}
}

func TestTrie_MultiLevelWildcard_MustBeLast(t *testing.T) {
	tr := New[string]()

	err := tr.SetValue("models/#/embed", "invalid")
	if err != ErrInvalidPattern {
		t.Errorf("SetValue with # not at end: got %v, want ErrInvalidPattern", err)
	}
}

func TestTrie_CombinedWildcards(t *testing.T) {
	tr := New[string]()

	if err := tr.SetValue("extract/+/group/#", "combined"); err != nil {
		t.Fatalf("SetValue error: %v", err)
	}

	tests := []struct {
		path   string
		wantOK bool
	}{
		{"extract/episode/group/chat", true},
		{"extract/profile/group/part/one", true},
		{"extract/eventlog/group/a/b/c", true},
		{"extract/episode/personal", false}, // Wrong after +
		{"extract/group/chat", false},       // Missing + level
		{"extract/a/b/group/chat", false},   // Too many levels before group
	}

	for _, tc := range tests {
		_, ok := tr.GetValue(tc.path)
		if ok != tc.wantOK {
			t.Errorf("GetValue(%q) ok = %v; want %v", tc.path, ok, tc.wantOK)
		}
	}
}

func TestTrie_MatchPriority(t *testing.T) {
	tr := New[string]()

	// Register in reverse-priority order; exact still wins.
	tr.SetValue("models/#", "catchall")
	tr.SetValue("models/+/chat", "wildcard")
	tr.SetValue("models/gpt-4o/chat", "exact")

	val, ok := tr.GetValue("models/gpt-4o/chat")
	if !ok {
		t.Fatal("expected to match")
	}
	if val != "exact" {
		t.Errorf("GetValue = %q; want %q", val, "exact")
	}
}

func TestTrie_Match(t *testing.T) {
	tr := New[string]()

	tr.SetValue("models/+/chat", "handler")

	route, val, ok := tr.Match("models/gpt-4o/chat")
	if !ok {
		t.Fatal("expected to match")
	}
	if route != "/models/+/chat" {
		t.Errorf("Match route = %q; want /models/+/chat", route)
	}
	if *val != "handler" {
		t.Errorf("Match value = %q; want handler", *val)
	}
}

func TestTrie_EmptyPath(t *testing.T) {
	tr := New[string]()

	if err := tr.SetValue("", "root"); err != nil {
		t.Fatalf("SetValue error: %v", err)
	}

	val, ok := tr.GetValue("")
	if !ok {
		t.Error("expected to match empty path")
	}
	if val != "root" {
		t.Errorf("GetValue = %q; want root", val)
	}
}

func TestTrie_Set_WithCallback(t *testing.T) {
	tr := New[int]()

	err := tr.Set("counter", func(ptr *int, existed bool) error {
		if existed {
			t.Error("should not exist on first set")
		}
		*ptr = 1
		return nil
	})
	if err != nil {
		t.Fatalf("Set error: %v", err)
	}

	err = tr.Set("counter", func(ptr *int, existed bool) error {
		if !existed {
			t.Error("should exist on second set")
		}
		*ptr = *ptr + 1
		return nil
	})
	if err != nil {
		t.Fatalf("Set error: %v", err)
	}

	val, ok := tr.GetValue("counter")
	if !ok || val != 2 {
		t.Errorf("GetValue = %d, %v; want 2, true", val, ok)
	}
}

func TestTrie_Range(t *testing.T) {
	tr := New[string]()

	tr.SetValue("en/boundary", "value1")
	tr.SetValue("en/episode", "value2")
	tr.SetValue("zh/+", "value3")

	got := map[string]string{}
	for pattern, value := range tr.Range() {
		got[pattern] = value
	}
	want := map[string]string{
		"en/boundary": "value1",
		"en/episode":  "value2",
		"zh/+":        "value3",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Range = %v; want %v", got, want)
	}

	// Early break must stop the iterator.
	count := 0
	for range tr.Range() {
		count++
		break
	}
	if count != 1 {
		t.Errorf("Range after break visited %d patterns; want 1", count)
	}
}

func TestTrie_Patterns(t *testing.T) {
	tr := New[string]()

	tr.SetValue("zh/profile", "a")
	tr.SetValue("en/boundary", "b")
	tr.SetValue("en/+", "c")

	want := []string{"en/+", "en/boundary", "zh/profile"}
	if got := tr.Patterns(); !reflect.DeepEqual(got, want) {
		t.Errorf("Patterns = %v; want %v", got, want)
	}
}

func TestTrie_Len(t *testing.T) {
	tr := New[string]()

	if tr.Len() != 0 {
		t.Errorf("empty trie Len = %d; want 0", tr.Len())
	}

	tr.SetValue("a", "1")
	tr.SetValue("b", "2")
	tr.SetValue("c/d", "3")

	if tr.Len() != 3 {
		t.Errorf("trie Len = %d; want 3", tr.Len())
	}
}

func TestTrie_StructValues(t *testing.T) {
	type Handler struct {
		Name    string
		Handler func()
	}

	tr := New[Handler]()

	tr.SetValue("api/users", Handler{Name: "users"})
	tr.SetValue("api/+/profile", Handler{Name: "profile"})

	if val, ok := tr.GetValue("api/users"); !ok || val.Name != "users" {
		t.Errorf("GetValue(api/users) = %v; want {Name: users}", val)
	}
	if val, ok := tr.GetValue("api/123/profile"); !ok || val.Name != "profile" {
		t.Errorf("GetValue(api/123/profile) = %v; want {Name: profile}", val)
	}
}

func TestTrie_TrailingSlash(t *testing.T) {
	tr := New[string]()

	tr.SetValue("a/b/", "value1")

	val, ok := tr.GetValue("a/b")
	if !ok {
		t.Error("expected to match path without trailing slash")
	}
	if val != "value1" {
		t.Errorf("GetValue = %q; want value1", val)
	}
}
