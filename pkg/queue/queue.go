// Package queue implements a Redis-backed work queue with a fixed set of
// 50 partitions shared by a dynamic group of consumers.
//
// # Layout
//
// All state lives under one key prefix. queue:{NNN} sorted sets hold
// wrapped payloads scored by delivery time in milliseconds,
// owner_activate_time_zset tracks consumer liveness, queue_list:{owner}
// lists the partitions assigned to a consumer, and counter approximates
// the total backlog.
//
// # Routing and ownership
//
// A message routes to a partition by the MD5 of its group key, so one
// group's messages always land in the same partition and come back in
// delivery order. Consumers register in the activity set and the 50
// partitions are distributed round-robin across live owners; at any
// moment each partition belongs to at most one owner. Owners that stop
// refreshing their activity score are evicted and their partitions
// reassigned on the next join, exit or cleanup. Messages survive owner
// churn in place.
//
// # Degradation
//
// Deliver never surfaces an error: it reports acceptance plus a reason
// key, and the backlog counter is a best-effort approximation that
// ForceCleanup recomputes authoritatively.
package queue

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evermem/evermem/pkg/codec"
	"github.com/evermem/evermem/pkg/errcode"
)

// partitionCount is fixed: the partition names are baked into the key
// layout and the rebalance scripts.
const partitionCount = 50

// Statuses returned by the fetch script.
const (
	statusOK           = "OK"
	statusJoinRequired = "JOIN_REQUIRED"
	statusNoQueues     = "NO_QUEUES"
)

// deliverAccepted is the script reply for a stored message.
const deliverAccepted = "ok"

// Config configures a Queue.
type Config struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// Prefix namespaces every key. A trailing ':' is added when missing.
	Prefix string

	// Codec serializes payloads. Defaults to a JSON-preferred serializer.
	Codec *codec.Serializer

	// MaxTotal caps the approximate backlog across all partitions.
	// Deliver rejects with "queue_full" at the cap. Defaults to 20000.
	MaxTotal int

	// Expire is the partition TTL, refreshed on every delivery. Members
	// older than this horizon are dropped by the probabilistic eviction
	// tick. Defaults to 24h.
	Expire time.Duration

	// ActivityExpire is how long an owner may stay silent before join and
	// cleanup treat it as dead. Defaults to 10m.
	ActivityExpire time.Duration

	// Rand supplies the eviction draw in [0,1). Defaults to the shared
	// math/rand/v2 source.
	Rand func() float64

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Prefix != "" && !strings.HasSuffix(c.Prefix, ":") {
		c.Prefix += ":"
	}
	if c.Codec == nil {
		c.Codec = codec.New(codec.ModeJSON)
	}
	if c.MaxTotal == 0 {
		c.MaxTotal = 20000
	}
	if c.Expire == 0 {
		c.Expire = 24 * time.Hour
	}
	if c.ActivityExpire == 0 {
		c.ActivityExpire = 10 * time.Minute
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Queue produces into and administers one partitioned queue namespace.
// Consumption goes through [Queue.NewConsumer].
type Queue struct {
	client         redis.UniversalClient
	prefix         string
	codec          *codec.Serializer
	maxTotal       int
	expire         time.Duration
	activityExpire time.Duration
	rand           func() float64
	log            *slog.Logger
}

// New creates a Queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Client == nil {
		return nil, errcode.New(errcode.InvalidParameter, "queue: redis client is required")
	}
	cfg = cfg.withDefaults()
	return &Queue{
		client:         cfg.Client,
		prefix:         cfg.Prefix,
		codec:          cfg.Codec,
		maxTotal:       cfg.MaxTotal,
		expire:         cfg.Expire,
		activityExpire: cfg.ActivityExpire,
		rand:           cfg.Rand,
		log:            cfg.Logger,
	}, nil
}

// Partition returns the partition name ("001".."050") for a group key.
// Routing is stable across processes: the first eight hex digits of the
// key's MD5, modulo the partition count.
func Partition(groupKey string) string {
	sum := md5.Sum([]byte(groupKey))
	idx := binary.BigEndian.Uint32(sum[:4]) % partitionCount
	return partitionName(int(idx))
}

func partitionName(idx int) string {
	return fmt.Sprintf("%03d", idx+1)
}

func (q *Queue) partitionKey(name string) string { return q.prefix + "queue:" + name }
func (q *Queue) activityKey() string             { return q.prefix + "owner_activate_time_zset" }
func (q *Queue) listKey(owner string) string     { return q.prefix + "queue_list:" + owner }
func (q *Queue) counterKey() string              { return q.prefix + "counter" }

// ---------------------------------------------------------------------------
// Delivery

// Deliver serializes payload and appends it to the partition of groupKey,
// scored by at. It reports whether the message was stored; on rejection
// the reason is [errcode.KeyQueueFull] or [errcode.KeyDeliveryError].
// Deliver never returns an error: producers are not expected to handle
// queue trouble beyond logging the reason.
//
// Structurally identical payloads coexist because every member carries a
// unique prefix. With probability 0.1 a delivery also drops members older
// than the configured expiry horizon from its partition.
func (q *Queue) Deliver(ctx context.Context, groupKey string, payload any, at time.Time) (bool, errcode.Key) {
	body, err := q.codec.Serialize(payload)
	if err != nil {
		q.log.Warn("queue: payload not serializable", "group_key", groupKey, "error", err)
		return false, errcode.KeyDeliveryError
	}
	member := codec.WrapUnique(string(body))
	score := at.UnixMilli()
	evictBound := score - q.expire.Milliseconds()

	res, err := deliverScript.Run(ctx, q.client,
		[]string{q.partitionKey(Partition(groupKey)), q.counterKey()},
		member,
		strconv.FormatInt(score, 10),
		q.maxTotal,
		int(q.expire.Seconds()),
		strconv.FormatFloat(q.rand(), 'f', -1, 64),
		strconv.FormatInt(evictBound, 10),
	).Text()
	if err != nil {
		q.log.Warn("queue: deliver failed", "group_key", groupKey, "error", err)
		return false, errcode.KeyDeliveryError
	}
	switch res {
	case deliverAccepted:
		return true, ""
	case string(errcode.KeyQueueFull):
		q.log.Warn("queue: backlog full", "group_key", groupKey, "max_total", q.maxTotal)
		return false, errcode.KeyQueueFull
	default:
		q.log.Warn("queue: unexpected deliver reply", "reply", res)
		return false, errcode.KeyDeliveryError
	}
}

// ---------------------------------------------------------------------------
// Ownership scripts

// join registers ownerID, prunes stale owners and rebalances. The returned
// map holds the full assignment, keyed by owner id.
func (q *Queue) join(ctx context.Context, ownerID string) (map[string][]string, error) {
	now := time.Now().UnixMilli()
	bound := now - q.activityExpire.Milliseconds()
	vals, err := joinScript.Run(ctx, q.client, []string{q.activityKey()},
		q.prefix,
		ownerID,
		strconv.FormatInt(now, 10),
		strconv.FormatInt(bound, 10),
		partitionCount,
	).Slice()
	if err != nil {
		return nil, errcode.Wrap(errcode.DatabaseError, err)
	}
	assignments := make(map[string][]string)
	for i := 1; i+1 < len(vals); i += 2 {
		owner, _ := vals[i].(string)
		csv, _ := vals[i+1].(string)
		if csv == "" {
			assignments[owner] = nil
			continue
		}
		assignments[owner] = strings.Split(csv, ",")
	}
	return assignments, nil
}

// exit removes ownerID from the activity set and rebalances.
func (q *Queue) exit(ctx context.Context, ownerID string) error {
	err := exitScript.Run(ctx, q.client, []string{q.activityKey()},
		q.prefix, ownerID, partitionCount).Err()
	if err != nil {
		return errcode.Wrap(errcode.DatabaseError, err)
	}
	return nil
}

// keepalive refreshes ownerID's activity score. It reports false when the
// owner holds no assignment list and must rejoin.
func (q *Queue) keepalive(ctx context.Context, ownerID string) (bool, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := keepaliveScript.Run(ctx, q.client,
		[]string{q.activityKey(), q.listKey(ownerID)},
		ownerID, now).Int64()
	if err != nil {
		return false, errcode.Wrap(errcode.DatabaseError, err)
	}
	return n == 1, nil
}

// getMessages pops at most one message per partition assigned to ownerID,
// restricted to messages at least threshold old.
func (q *Queue) getMessages(ctx context.Context, ownerID string, threshold time.Duration) (string, []Message, error) {
	maxScore := time.Now().UnixMilli() - threshold.Milliseconds()
	vals, err := getMessagesScript.Run(ctx, q.client,
		[]string{q.activityKey(), q.listKey(ownerID), q.counterKey()},
		q.prefix,
		ownerID,
		strconv.FormatInt(maxScore, 10),
	).Slice()
	if err != nil {
		return "", nil, errcode.Wrap(errcode.DatabaseError, err)
	}
	if len(vals) == 0 {
		return "", nil, errcode.New(errcode.DatabaseError, "queue: empty fetch reply")
	}
	status, _ := vals[0].(string)
	if status != statusOK {
		return status, nil, nil
	}
	msgs := make([]Message, 0, (len(vals)-1)/2)
	for i := 1; i+1 < len(vals); i += 2 {
		member, _ := vals[i].(string)
		scoreStr, _ := vals[i+1].(string)
		id, body, _ := codec.ParseUnique(member)
		payload, err := q.codec.Deserialize([]byte(body))
		if err != nil {
			q.log.Warn("queue: dropping undecodable message", "id", id, "error", err)
			continue
		}
		score, _ := strconv.ParseFloat(scoreStr, 64)
		msgs = append(msgs, Message{ID: id, Payload: payload, Timestamp: time.UnixMilli(int64(score))})
	}
	return statusOK, msgs, nil
}

// ---------------------------------------------------------------------------
// Administration

// CleanupInactiveOwners evicts owners whose last activity fell behind the
// configured horizon and rebalances their partitions onto the survivors.
// It returns the number of owners evicted.
func (q *Queue) CleanupInactiveOwners(ctx context.Context) (int64, error) {
	bound := time.Now().Add(-q.activityExpire).UnixMilli()
	n, err := cleanupScript.Run(ctx, q.client, []string{q.activityKey()},
		q.prefix, strconv.FormatInt(bound, 10), partitionCount).Int64()
	if err != nil {
		return 0, errcode.Wrap(errcode.DatabaseError, err)
	}
	return n, nil
}

// ForceCleanup wipes all ownership state. With purgeAll it also deletes
// the partitions themselves. It returns the recomputed backlog counter,
// which is zero after a purge.
func (q *Queue) ForceCleanup(ctx context.Context, purgeAll bool) (int64, error) {
	flag := "0"
	if purgeAll {
		flag = "1"
	}
	total, err := forceCleanupScript.Run(ctx, q.client,
		[]string{q.activityKey(), q.counterKey()},
		q.prefix, flag, partitionCount).Int64()
	if err != nil {
		return 0, errcode.Wrap(errcode.DatabaseError, err)
	}
	return total, nil
}

// remaining sums the actual partition sizes, bypassing the approximate
// counter.
func (q *Queue) remaining(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, partitionCount)
	for i := range cmds {
		cmds[i] = pipe.ZCard(ctx, q.partitionKey(partitionName(i)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, errcode.Wrap(errcode.DatabaseQueryError, err)
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

// ---------------------------------------------------------------------------
// Stats

// PartitionStat describes one partition's backlog.
type PartitionStat struct {
	Name        string        `json:"name"`
	Size        int64         `json:"size"`
	OldestScore int64         `json:"oldest_score,omitempty"`
	NewestScore int64         `json:"newest_score,omitempty"`
	TTL         time.Duration `json:"ttl,omitempty"`
}

// OwnerStat describes one registered consumer.
type OwnerStat struct {
	ID         string    `json:"id"`
	LastActive time.Time `json:"last_active"`
	Partitions []string  `json:"partitions"`
}

// Stats is a point-in-time snapshot of the queue namespace.
type Stats struct {
	// Counter is the approximate backlog kept by the scripts.
	Counter int64 `json:"counter"`
	// Messages is the exact backlog summed from the partitions.
	Messages   int64           `json:"messages"`
	Partitions []PartitionStat `json:"partitions"`
	Owners     []OwnerStat     `json:"owners"`
}

// Stats inspects every partition and owner. The snapshot is assembled
// from pipelined reads and may interleave with concurrent deliveries.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	type partCmds struct {
		size   *redis.IntCmd
		oldest *redis.ZSliceCmd
		newest *redis.ZSliceCmd
		ttl    *redis.DurationCmd
	}

	pipe := q.client.Pipeline()
	counterCmd := pipe.Get(ctx, q.counterKey())
	parts := make([]partCmds, partitionCount)
	for i := range parts {
		key := q.partitionKey(partitionName(i))
		parts[i] = partCmds{
			size:   pipe.ZCard(ctx, key),
			oldest: pipe.ZRangeWithScores(ctx, key, 0, 0),
			newest: pipe.ZRangeWithScores(ctx, key, -1, -1),
			ttl:    pipe.TTL(ctx, key),
		}
	}
	ownersCmd := pipe.ZRangeWithScores(ctx, q.activityKey(), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, errcode.Wrap(errcode.DatabaseQueryError, err)
	}

	st := &Stats{Partitions: make([]PartitionStat, 0, partitionCount)}
	if n, err := counterCmd.Int64(); err == nil {
		st.Counter = n
	}
	for i, pc := range parts {
		ps := PartitionStat{Name: partitionName(i), Size: pc.size.Val(), TTL: pc.ttl.Val()}
		if zs := pc.oldest.Val(); len(zs) > 0 {
			ps.OldestScore = int64(zs[0].Score)
		}
		if zs := pc.newest.Val(); len(zs) > 0 {
			ps.NewestScore = int64(zs[0].Score)
		}
		st.Messages += ps.Size
		st.Partitions = append(st.Partitions, ps)
	}

	owners := ownersCmd.Val()
	if len(owners) == 0 {
		return st, nil
	}
	pipe = q.client.Pipeline()
	listCmds := make([]*redis.StringSliceCmd, len(owners))
	for i, z := range owners {
		id, _ := z.Member.(string)
		listCmds[i] = pipe.LRange(ctx, q.listKey(id), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, errcode.Wrap(errcode.DatabaseQueryError, err)
	}
	for i, z := range owners {
		id, _ := z.Member.(string)
		st.Owners = append(st.Owners, OwnerStat{
			ID:         id,
			LastActive: time.UnixMilli(int64(z.Score)),
			Partitions: listCmds[i].Val(),
		})
	}
	return st, nil
}
