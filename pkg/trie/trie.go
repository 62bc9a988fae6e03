// Package trie provides a generic path trie with MQTT-style wildcards:
//   - "a/b/c" - exact path match
//   - "a/+/c" - single-level wildcard (matches any single segment)
//   - "a/#"   - multi-level wildcard (matches any remaining segments)
//
// It backs the routing tables of the module: model-name routing in the
// embedding and generation muxes, locale/name lookup in the prompt
// registry, and memory-kind dispatch in the extractor mux.
package trie

import (
	"errors"
	"iter"
	"sort"
	"strings"
)

// ErrInvalidPattern is returned when the path pattern is invalid.
var ErrInvalidPattern = errors.New("invalid path pattern, path should be /a/b/c or /a/+/c or /a/#")

// Trie stores values of type T at slash-separated paths and resolves
// lookups with MQTT topic-subscription precedence: exact segments win over
// "+" wildcards, which win over a trailing "#".
type Trie[T any] struct {
	children map[string]*Trie[T] // exact path segment matches
	matchAny *Trie[T]            // single-level wildcard ("+") matches
	matchAll *Trie[T]            // multi-level wildcard ("#") matches
	set      bool                // whether this node has a value set
	value    T                   // the value stored at this node
}

// New creates a new empty Trie.
func New[T any]() *Trie[T] {
	return &Trie[T]{}
}

func (t *Trie[T]) setFunc(fn func(ptr *T, existed bool) error) error {
	if err := fn(&t.value, t.set); err != nil {
		return err
	}
	t.set = true
	return nil
}

// Set stores a value at the specified path using the provided setFunc. The
// setFunc is called with a pointer to the value and a boolean indicating
// whether a value already existed at this path.
//
// Path patterns supported:
//   - "a/b/c"   - exact path segments
//   - "a/b/c/"  - has the same effect as "a/b/c"
//   - "a/b//c/" - adds a child with the name "" to the node of "a/b"
//   - "a/+/c"   - single-level wildcard (matches any single segment)
//   - "a/#"     - multi-level wildcard (must be at the end of path)
//
// Returns an error if the path pattern is invalid or if setFunc returns an
// error.
func (t *Trie[T]) Set(path string, setFunc func(ptr *T, existed bool) error) error {
	if len(path) == 0 {
		return t.setFunc(setFunc)
	}

	var first, subseq string
	if idx := strings.IndexByte(path, '/'); idx == -1 {
		first = path
	} else {
		first = path[:idx]
		subseq = path[idx+1:]
	}
	if t.children != nil {
		if ch, ok := t.children[first]; ok {
			return ch.Set(subseq, setFunc)
		}
	}

	switch first {
	case "+": // .../<first:+>/<subseq>
		if t.matchAny == nil {
			t.matchAny = &Trie[T]{}
		}
		return t.matchAny.Set(subseq, setFunc)
	case "#": // .../<first:#>
		if len(subseq) != 0 {
			return ErrInvalidPattern
		}
		if t.matchAll == nil {
			t.matchAll = &Trie[T]{}
		}
		return t.matchAll.setFunc(setFunc)
	default: // .../<first>/<subseq>
		if t.children == nil {
			t.children = make(map[string]*Trie[T])
		}
		ch := &Trie[T]{}
		t.children[first] = ch
		return ch.Set(subseq, setFunc)
	}
}

// SetValue is a convenience method that stores a value at the specified path.
// It is equivalent to Set(path, func(ptr *T, _ bool) error { *ptr = value; return nil }).
func (t *Trie[T]) SetValue(path string, value T) error {
	return t.Set(path, func(ptr *T, _ bool) error {
		*ptr = value
		return nil
	})
}

// Get retrieves the value stored at the best-matching pattern for path.
// Returns the value and true if found, nil and false otherwise.
func (t *Trie[T]) Get(path string) (*T, bool) {
	_, val, ok := t.match("", path)
	return val, ok
}

// GetValue retrieves the value stored at the best-matching pattern for path.
// Returns the value and true if found, zero value and false otherwise.
func (t *Trie[T]) GetValue(path string) (T, bool) {
	ptr, ok := t.Get(path)
	if !ok {
		var zero T
		return zero, false
	}
	return *ptr, true
}

// Match returns the matched route pattern and value for the given path.
// Returns empty string and nil if no match is found.
func (t *Trie[T]) Match(path string) (route string, value *T, ok bool) {
	return t.match("", path)
}

func (t *Trie[T]) match(matched, path string) (string, *T, bool) {
	if len(path) == 0 {
		return matched, &t.value, t.set
	}
	var first, subseq string
	p := strings.IndexByte(path, '/')
	if p == -1 {
		first = path
	} else {
		first = path[:p]
		subseq = path[p+1:]
	}
	if t.children != nil {
		if ch, ok := t.children[first]; ok {
			if route, value, ok := ch.match(matched+"/"+first, subseq); ok {
				return route, value, true
			}
		}
	}
	if t.matchAny != nil {
		if route, value, ok := t.matchAny.match(matched+"/+", subseq); ok {
			return route, value, true
		}
	}
	if t.matchAll != nil {
		if route, value, ok := t.matchAll.match(matched+"/#", ""); ok {
			return route, value, true
		}
	}
	return "", nil, false
}

// Range returns an iterator over all registered patterns and their values.
// Iteration order is unspecified; use [Trie.Patterns] for a sorted view.
func (t *Trie[T]) Range() iter.Seq2[string, T] {
	return func(yield func(string, T) bool) {
		t.rangeNodes(nil, yield)
	}
}

func (t *Trie[T]) rangeNodes(path []string, yield func(string, T) bool) bool {
	if t.set && !yield(strings.Join(path, "/"), t.value) {
		return false
	}
	for seg, ch := range t.children {
		if !ch.rangeNodes(append(path, seg), yield) {
			return false
		}
	}
	if t.matchAny != nil {
		if !t.matchAny.rangeNodes(append(path, "+"), yield) {
			return false
		}
	}
	if t.matchAll != nil {
		if !t.matchAll.rangeNodes(append(path, "#"), yield) {
			return false
		}
	}
	return true
}

// Patterns returns all registered patterns sorted alphabetically. Useful
// for "unknown route" error messages and registry validation.
func (t *Trie[T]) Patterns() []string {
	var out []string
	for pattern := range t.Range() {
		out = append(out, pattern)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of values stored in the trie.
func (t *Trie[T]) Len() int {
	count := 0
	for range t.Range() {
		count++
	}
	return count
}
