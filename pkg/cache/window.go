package cache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evermem/evermem/pkg/codec"
	"github.com/evermem/evermem/pkg/errcode"
)

// windowAppendLua stores one entry and, on a winning draw, evicts everything
// older than twice the window so the set tracks the recent exchange without
// a background sweeper. Scores and bounds arrive as pre-formatted strings.
const windowAppendLua = `
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[3])
local evicted = 0
if tonumber(ARGV[4]) < tonumber(ARGV[5]) then
    evicted = redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[6])
end
return evicted
`

var windowAppendScript = redis.NewScript(windowAppendLua)

// WindowConfig configures a [Window].
type WindowConfig struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// Prefix namespaces every key. A trailing ':' is added when missing.
	Prefix string

	// Window is how long entries stay interesting. The eviction tick drops
	// entries older than twice this horizon, and the key TTL matches the
	// eviction bound. Defaults to 30m.
	Window time.Duration

	// CleanupProbability is the chance an append runs the eviction tick.
	// Defaults to 0.1.
	CleanupProbability float64

	// Codec serializes payloads. Defaults to a JSON-preferred serializer.
	Codec *codec.Serializer

	// Rand supplies the eviction draw in [0,1). Defaults to the shared
	// math/rand/v2 source.
	Rand func() float64

	// Location renders entry datetimes. Defaults to the local zone.
	Location *time.Location

	Logger *slog.Logger
}

func (c WindowConfig) withDefaults() WindowConfig {
	c.Prefix = normalizePrefix(c.Prefix)
	if c.Window <= 0 {
		c.Window = 30 * time.Minute
	}
	if c.CleanupProbability <= 0 {
		c.CleanupProbability = 0.1
	}
	c.Codec = defaultCodec(c.Codec)
	c.Rand = defaultDraw(c.Rand)
	c.Location = defaultLocation(c.Location)
	c.Logger = defaultLogger(c.Logger)
	return c
}

// Window caches the recent entries under each key, bounded by age. Appends
// probabilistically shed entries older than twice the window, so a reader
// asking for the last window always sees complete data while the set never
// grows past roughly two windows of traffic.
type Window struct {
	zcache
	window time.Duration
	prob   float64
}

// NewWindow creates a Window cache.
func NewWindow(cfg WindowConfig) (*Window, error) {
	if cfg.Client == nil {
		return nil, errcode.New(errcode.InvalidParameter, "cache: redis client is required")
	}
	cfg = cfg.withDefaults()
	return &Window{
		zcache: newZCache(cfg.Client, cfg.Prefix, cfg.Codec, cfg.Rand, cfg.Location, cfg.Logger),
		window: cfg.Window,
		prob:   cfg.CleanupProbability,
	}, nil
}

// Append stores payload under key at the given time and reports acceptance.
// Serialization and Redis failures log a warning and report false.
func (w *Window) Append(ctx context.Context, key string, payload any, at time.Time) bool {
	member, ok := w.wrap(payload)
	if !ok {
		return false
	}
	score := at.UnixMilli()
	bound := score - 2*w.window.Milliseconds()
	evicted, err := windowAppendScript.Run(ctx, w.client, []string{w.key(key)},
		member,
		strconv.FormatInt(score, 10),
		strconv.FormatInt(ttlSeconds(2*w.window), 10),
		formatFloat(w.rand()),
		formatFloat(w.prob),
		strconv.FormatInt(bound, 10),
	).Int64()
	if err != nil {
		w.log.Warn("cache: window append failed", "key", key, "error", err)
		return false
	}
	if evicted > 0 {
		w.log.Debug("cache: window evicted aged entries", "key", key, "evicted", evicted)
	}
	return true
}

// Recent returns the entries of the last window, newest first.
func (w *Window) Recent(ctx context.Context, key string, now time.Time) []Entry {
	return w.Range(ctx, key, now.Add(-w.window), now)
}
