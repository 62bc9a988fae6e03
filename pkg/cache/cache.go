// Package cache implements Redis-backed conversation caches: a time-window
// cache holding a group's recent exchange and a length-bounded cache holding
// the latest records under a key.
//
// # Layout
//
// Both caches are sorted sets scored by timestamp in milliseconds. Members
// are wrapped as "uuid:payload" so structurally identical payloads stay
// distinct, and the payload itself is produced by the shared serializer, so
// binary records live next to JSON ones. Eviction is probabilistic: every
// append draws once and occasionally sheds what fell out of bounds, which
// spreads cleanup cost across writers without a background job.
//
// # Degradation
//
// Cache operations never surface an error. Every failure returns a sentinel
// (false, zero or an empty slice) and logs a warning, so a Redis outage
// costs the callers freshness, not progress.
package cache

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evermem/evermem/pkg/codec"
	"github.com/evermem/evermem/pkg/jsontime"
)

// timeLayout renders entry timestamps for human consumption.
const timeLayout = "2006-01-02 15:04:05"

// Entry is one cached record, newest-first in range results.
type Entry struct {
	// ID is the unique prefix the member was wrapped with.
	ID string `json:"id"`

	// Data is the deserialized payload.
	Data any `json:"data"`

	// Timestamp is the entry score, a millisecond value on the wire.
	Timestamp jsontime.Milli `json:"timestamp"`

	// Datetime is Timestamp rendered in the cache's location.
	Datetime string `json:"datetime"`
}

// zcache is the sorted-set core shared by [Window] and [Length]: key
// namespacing, member wrapping and the read-side operations.
type zcache struct {
	client redis.UniversalClient
	prefix string
	codec  *codec.Serializer
	rand   func() float64
	loc    *time.Location
	log    *slog.Logger
}

func newZCache(client redis.UniversalClient, prefix string, s *codec.Serializer, draw func() float64, loc *time.Location, log *slog.Logger) zcache {
	return zcache{client: client, prefix: prefix, codec: s, rand: draw, loc: loc, log: log}
}

func (c *zcache) key(name string) string {
	return c.prefix + name
}

// wrap serializes payload and prefixes it with a fresh unique id.
func (c *zcache) wrap(payload any) (string, bool) {
	body, err := c.codec.Serialize(payload)
	if err != nil {
		c.log.Warn("cache: payload not serializable", "error", err)
		return "", false
	}
	return codec.WrapUnique(string(body)), true
}

// Range returns the entries scored within [from, to], newest first. A zero
// from or to leaves that side unbounded. Failures return an empty slice.
func (c *zcache) Range(ctx context.Context, key string, from, to time.Time) []Entry {
	lo, hi := "-inf", "+inf"
	if !from.IsZero() {
		lo = strconv.FormatInt(from.UnixMilli(), 10)
	}
	if !to.IsZero() {
		hi = strconv.FormatInt(to.UnixMilli(), 10)
	}
	zs, err := c.client.ZRevRangeByScoreWithScores(ctx, c.key(key), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		c.log.Warn("cache: range read failed", "key", key, "error", err)
		return []Entry{}
	}
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, payload, ok := codec.ParseUnique(member)
		if !ok {
			c.log.Warn("cache: dropping unwrapped member", "key", key)
			continue
		}
		data, err := c.codec.Deserialize([]byte(payload))
		if err != nil {
			c.log.Warn("cache: dropping undecodable member", "key", key, "id", id, "error", err)
			continue
		}
		ts := int64(z.Score)
		entries = append(entries, Entry{
			ID:        id,
			Data:      data,
			Timestamp: jsontime.FromUnixMilli(ts),
			Datetime:  time.UnixMilli(ts).In(c.loc).Format(timeLayout),
		})
	}
	return entries
}

// Size returns the number of cached entries under key, zero on failure.
func (c *zcache) Size(ctx context.Context, key string) int64 {
	n, err := c.client.ZCard(ctx, c.key(key)).Result()
	if err != nil {
		c.log.Warn("cache: size read failed", "key", key, "error", err)
		return 0
	}
	return n
}

// Clear drops every entry under key. It reports whether the delete ran.
func (c *zcache) Clear(ctx context.Context, key string) bool {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.log.Warn("cache: clear failed", "key", key, "error", err)
		return false
	}
	return true
}

// normalizePrefix adds the trailing ':' a non-empty prefix needs.
func normalizePrefix(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

func defaultDraw(f func() float64) func() float64 {
	if f == nil {
		return rand.Float64
	}
	return f
}

func defaultLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

func defaultLogger(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}

func defaultCodec(s *codec.Serializer) *codec.Serializer {
	if s == nil {
		return codec.New(codec.ModeJSON)
	}
	return s
}

// ttlSeconds converts d to whole seconds for EXPIRE, at least one.
func ttlSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
