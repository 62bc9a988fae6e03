// Package codec serializes queue and cache payloads.
//
// Values are encoded as JSON whenever possible so payloads stay readable in
// redis-cli. Values JSON cannot represent (and everything when the binary
// mode is selected) are encoded with msgpack behind a sentinel marker, so
// the decoder can dispatch on the first bytes of the payload.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Marker prefixes msgpack-encoded payloads. A payload that does not start
// with the marker is treated as JSON (or plain text).
const Marker = "__MSGPACK__"

// UniquePrefixLen is the length of the unique-id prefix added by
// [WrapUnique]. Structurally identical payloads get distinct members in a
// sorted set because of this prefix.
const UniquePrefixLen = 8

// Mode selects the preferred encoding.
type Mode int

const (
	// ModeJSON prefers JSON and falls back to msgpack for values JSON
	// cannot encode.
	ModeJSON Mode = iota

	// ModeBinary always encodes with msgpack.
	ModeBinary
)

// ParseMode parses a serialization mode name. "json" selects ModeJSON;
// "bson", "msgpack" and "binary" all select ModeBinary.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return ModeJSON, nil
	case "bson", "msgpack", "binary":
		return ModeBinary, nil
	default:
		return ModeJSON, fmt.Errorf("codec: unknown serialization mode %q", s)
	}
}

// Serializer encodes and decodes payloads according to a [Mode].
// The zero value is a JSON-preferred serializer.
type Serializer struct {
	mode Mode
}

// New creates a Serializer with the given mode.
func New(mode Mode) *Serializer {
	return &Serializer{mode: mode}
}

// Serialize encodes v. In JSON mode the msgpack fallback is used only when
// JSON marshaling fails (channels, funcs, NaN, binary-keyed maps).
func (s *Serializer) Serialize(v any) ([]byte, error) {
	if s.mode == ModeBinary {
		return marshalBinary(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return marshalBinary(v)
	}
	return b, nil
}

// Deserialize decodes data produced by Serialize. Payloads starting with
// [Marker] are msgpack-decoded; anything else is tried as JSON, then
// returned as a UTF-8 string, then as opaque bytes.
//
// Only a corrupt msgpack payload produces an error: the marker promises a
// well-formed binary body, while the JSON path is best-effort by contract.
func (s *Serializer) Deserialize(data []byte) (any, error) {
	if bytes.HasPrefix(data, []byte(Marker)) {
		var v any
		if err := msgpack.Unmarshal(data[len(Marker):], &v); err != nil {
			return nil, fmt.Errorf("codec: corrupt binary payload: %w", err)
		}
		return v, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err == nil {
		return v, nil
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return data, nil
}

func marshalBinary(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: msgpack marshal: %w", err)
	}
	out := make([]byte, 0, len(Marker)+len(b))
	out = append(out, Marker...)
	out = append(out, b...)
	return out, nil
}

// WrapUnique prefixes payload with the first [UniquePrefixLen] characters
// of a fresh UUID and a ':' separator.
func WrapUnique(payload string) string {
	return uuid.NewString()[:UniquePrefixLen] + ":" + payload
}

// ParseUnique splits a wrapped member on the first ':' separator.
// ok is false when the member carries no separator.
func ParseUnique(member string) (id, payload string, ok bool) {
	idx := strings.IndexByte(member, ':')
	if idx < 0 {
		return "", member, false
	}
	return member[:idx], member[idx+1:], true
}
