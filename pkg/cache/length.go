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

// lengthAppendLua stores one entry, refreshes the key TTL and, on a winning
// draw, trims the lowest scores until the set fits the cap again.
const lengthAppendLua = `
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[3])
local trimmed = 0
if tonumber(ARGV[4]) < tonumber(ARGV[5]) then
    local over = redis.call("ZCARD", KEYS[1]) - tonumber(ARGV[6])
    if over > 0 then
        trimmed = redis.call("ZREMRANGEBYRANK", KEYS[1], 0, over - 1)
    end
end
return trimmed
`

var lengthAppendScript = redis.NewScript(lengthAppendLua)

// LengthConfig configures a [Length].
type LengthConfig struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// Prefix namespaces every key. A trailing ':' is added when missing.
	Prefix string

	// MaxLength is the size the trim tick shrinks a set back to.
	// Defaults to 100.
	MaxLength int

	// CleanupProbability is the chance an append runs the trim tick.
	// Defaults to 0.1.
	CleanupProbability float64

	// TTL is the key expiry, extended on every append. Defaults to 24h.
	TTL time.Duration

	// Codec serializes payloads. Defaults to a JSON-preferred serializer.
	Codec *codec.Serializer

	// Rand supplies the trim draw in [0,1). Defaults to the shared
	// math/rand/v2 source.
	Rand func() float64

	// Location renders entry datetimes. Defaults to the local zone.
	Location *time.Location

	Logger *slog.Logger
}

func (c LengthConfig) withDefaults() LengthConfig {
	c.Prefix = normalizePrefix(c.Prefix)
	if c.MaxLength <= 0 {
		c.MaxLength = 100
	}
	if c.CleanupProbability <= 0 {
		c.CleanupProbability = 0.1
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	c.Codec = defaultCodec(c.Codec)
	c.Rand = defaultDraw(c.Rand)
	c.Location = defaultLocation(c.Location)
	c.Logger = defaultLogger(c.Logger)
	return c
}

// Length caches the latest entries under each key, bounded by count. The
// trim tick drops the oldest scores first, so between ticks a set may
// briefly exceed the cap but never loses its newest records.
type Length struct {
	zcache
	maxLength int
	prob      float64
	ttl       time.Duration
}

// NewLength creates a Length cache.
func NewLength(cfg LengthConfig) (*Length, error) {
	if cfg.Client == nil {
		return nil, errcode.New(errcode.InvalidParameter, "cache: redis client is required")
	}
	cfg = cfg.withDefaults()
	return &Length{
		zcache:    newZCache(cfg.Client, cfg.Prefix, cfg.Codec, cfg.Rand, cfg.Location, cfg.Logger),
		maxLength: cfg.MaxLength,
		prob:      cfg.CleanupProbability,
		ttl:       cfg.TTL,
	}, nil
}

// Append stores payload under key at the given time, extending the key TTL,
// and reports acceptance. Serialization and Redis failures log a warning
// and report false.
func (l *Length) Append(ctx context.Context, key string, payload any, at time.Time) bool {
	member, ok := l.wrap(payload)
	if !ok {
		return false
	}
	trimmed, err := lengthAppendScript.Run(ctx, l.client, []string{l.key(key)},
		member,
		strconv.FormatInt(at.UnixMilli(), 10),
		strconv.FormatInt(ttlSeconds(l.ttl), 10),
		formatFloat(l.rand()),
		formatFloat(l.prob),
		strconv.Itoa(l.maxLength),
	).Int64()
	if err != nil {
		l.log.Warn("cache: length append failed", "key", key, "error", err)
		return false
	}
	if trimmed > 0 {
		l.log.Debug("cache: length trimmed oldest entries", "key", key, "trimmed", trimmed)
	}
	return true
}

// Latest returns the newest n entries under key, newest first.
func (l *Length) Latest(ctx context.Context, key string, n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	entries := l.Range(ctx, key, time.Time{}, time.Time{})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
