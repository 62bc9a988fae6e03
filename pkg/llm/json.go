package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeJSON unmarshals model output into v, attempting to repair
// malformed JSON. If the initial unmarshal fails with a syntax error,
// it tries to repair the JSON using jsonrepair before retrying.
func DecodeJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, err := jsonrepair.JSONRepair(string(data))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// ExtractJSONObject returns the first balanced JSON object in s.
// Braces inside string literals are ignored.
func ExtractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("llm: no JSON object found")
	}
	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("llm: unbalanced JSON object")
}

// ExtractFencedJSON returns the payload of a markdown code fence in s.
// A ```json fence wins over a plain ``` fence; without any fence the
// first balanced object is returned.
func ExtractFencedJSON(s string) (string, error) {
	if body, ok := fencedBlock(s, "json"); ok {
		return strings.TrimSpace(body), nil
	}
	if body, ok := fencedBlock(s, ""); ok {
		return strings.TrimSpace(body), nil
	}
	return ExtractJSONObject(s)
}

// fencedBlock finds a ``` code fence. With a non-empty tag only fences
// opened as ```<tag> match; with an empty tag any fence matches and the
// rest of the opening line (a language tag, if present) is skipped.
func fencedBlock(s, tag string) (string, bool) {
	marker := "```" + tag
	start := strings.Index(s, marker)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(marker):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
