package codec_test

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/evermem/evermem/pkg/codec"
)

func TestSerializeJSONRoundTrip(t *testing.T) {
	s := codec.New(codec.ModeJSON)
	in := map[string]any{
		"message_id": "m-1",
		"content":    "从杭州出发",
		"tokens":     float64(42),
		"refer_list": []any{"m-0", "m-2"},
		"nested":     map[string]any{"ok": true},
	}
	b, err := s.Serialize(in)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if bytes.HasPrefix(b, []byte(codec.Marker)) {
		t.Fatalf("JSON-encodable value got the binary marker: %q", b)
	}
	out, err := s.Deserialize(b)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("round trip: got %#v, want %#v", out, in)
	}
}

func TestSerializeFallsBackToBinary(t *testing.T) {
	s := codec.New(codec.ModeJSON)
	in := map[string]any{"score": math.NaN()}
	b, err := s.Serialize(in)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.HasPrefix(b, []byte(codec.Marker)) {
		t.Fatalf("NaN payload should use the binary marker, got %q", b)
	}
	out, err := s.Deserialize(b)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want map[string]any", out)
	}
	f, ok := m["score"].(float64)
	if !ok || !math.IsNaN(f) {
		t.Fatalf("got score %v, want NaN", m["score"])
	}
}

func TestBinaryModeRoundTrip(t *testing.T) {
	s := codec.New(codec.ModeBinary)
	in := map[string]any{"text": "hello", "lang": "zh"}
	b, err := s.Serialize(in)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.HasPrefix(b, []byte(codec.Marker)) {
		t.Fatalf("binary mode should always add the marker, got %q", b)
	}
	out, err := s.Deserialize(b)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want map[string]any", out)
	}
	if m["text"] != "hello" || m["lang"] != "zh" {
		t.Fatalf("round trip: got %#v, want %#v", m, in)
	}
}

func TestDeserializeFallbacks(t *testing.T) {
	s := codec.New(codec.ModeJSON)

	out, err := s.Deserialize([]byte("plain text, not json"))
	if err != nil {
		t.Fatalf("Deserialize text: %v", err)
	}
	if out != "plain text, not json" {
		t.Fatalf("got %v, want the raw string", out)
	}

	raw := []byte{0xff, 0xfe, 0x01}
	out, err = s.Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize bytes: %v", err)
	}
	if !reflect.DeepEqual(out, raw) {
		t.Fatalf("got %v, want opaque bytes %v", out, raw)
	}
}

func TestDeserializeCorruptBinary(t *testing.T) {
	s := codec.New(codec.ModeJSON)
	if _, err := s.Deserialize([]byte(codec.Marker + "\xc1")); err == nil {
		t.Fatal("corrupt binary payload should error")
	}
}

func TestWrapUnique(t *testing.T) {
	w1 := codec.WrapUnique(`{"a":1}`)
	w2 := codec.WrapUnique(`{"a":1}`)
	if w1 == w2 {
		t.Fatalf("two wraps of the same payload should differ: %q", w1)
	}
	id, payload, ok := codec.ParseUnique(w1)
	if !ok {
		t.Fatalf("ParseUnique(%q): no separator", w1)
	}
	if len(id) != codec.UniquePrefixLen {
		t.Fatalf("id %q: got len %d, want %d", id, len(id), codec.UniquePrefixLen)
	}
	if payload != `{"a":1}` {
		t.Fatalf("payload: got %q, want %q", payload, `{"a":1}`)
	}

	// Payloads with their own ':' split on the first one only.
	_, payload, ok = codec.ParseUnique("abcd1234:k:v")
	if !ok || payload != "k:v" {
		t.Fatalf("got %q/%v, want %q/true", payload, ok, "k:v")
	}

	if _, _, ok := codec.ParseUnique("no-separator"); ok {
		t.Fatal("member without separator should report ok=false")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want codec.Mode
	}{
		{"json", codec.ModeJSON},
		{"", codec.ModeJSON},
		{"JSON", codec.ModeJSON},
		{"bson", codec.ModeBinary},
		{"msgpack", codec.ModeBinary},
		{"binary", codec.ModeBinary},
	}
	for _, tt := range tests {
		got, err := codec.ParseMode(tt.in)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseMode(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
	_, err := codec.ParseMode("protobuf")
	if err == nil {
		t.Fatal("unknown mode should error")
	}
	if !strings.Contains(err.Error(), "protobuf") {
		t.Fatalf("error should name the bad mode, got %q", err)
	}
}
