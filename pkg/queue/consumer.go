package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/evermem/evermem/pkg/errcode"
)

// ErrShutdown is returned when a consumer is used after shutdown.
// Consumers cannot be restarted.
var ErrShutdown = errors.New("queue: consumer is shut down")

var errNotStarted = errors.New("queue: consumer not started")

// maxAutoJoins bounds how often one fetch may rejoin before giving up.
const maxAutoJoins = 2

// loopOpTimeout bounds the Redis calls issued by the background loops.
const loopOpTimeout = 10 * time.Second

type consumerState int

const (
	stateCreated consumerState = iota
	stateStarted
	stateShutdown
)

// Message is one dequeued payload.
type Message struct {
	// ID is the unique prefix the member was wrapped with at delivery.
	ID string
	// Payload is the deserialized delivery payload.
	Payload any
	// Timestamp is the delivery time the message was scored with.
	Timestamp time.Time
}

// ConsumerConfig configures a Consumer. The zero value is usable.
type ConsumerConfig struct {
	// OwnerPrefix leads the generated owner id. Defaults to "owner".
	OwnerPrefix string

	// ScoreThreshold is the minimum message age: a fetch only returns
	// messages delivered at least this long ago. Defaults to 0.
	ScoreThreshold time.Duration

	// KeepaliveAfter is how much fetch-to-fetch silence triggers an
	// activity refresh. Defaults to 30s.
	KeepaliveAfter time.Duration

	// CleanupInterval spaces the inactive-owner sweeps, jittered ±30% so
	// consumers don't sweep in lockstep. Defaults to 5m; negative
	// disables the loop.
	CleanupInterval time.Duration

	// LogInterval spaces the queue stats log lines. Defaults to 1m;
	// negative disables the loop.
	LogInterval time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.OwnerPrefix == "" {
		c.OwnerPrefix = "owner"
	}
	if c.KeepaliveAfter == 0 {
		c.KeepaliveAfter = 30 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.LogInterval == 0 {
		c.LogInterval = time.Minute
	}
	return c
}

// Consumer owns a share of the queue's partitions and drains them.
//
// A consumer moves through created, started and shut down exactly once.
// Start joins the owner set and launches the background loops; Messages
// fetches at most one message per owned partition, rejoining transparently
// when the assignment was lost; Shutdown leaves the owner set so the
// partitions move to the survivors.
type Consumer struct {
	q   *Queue
	cfg ConsumerConfig
	log *slog.Logger

	ownerID string

	mu            sync.Mutex
	state         consumerState
	lastKeepalive time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer with a fresh process-unique owner id.
// The consumer is inert until Start.
func (q *Queue) NewConsumer(cfg ConsumerConfig) *Consumer {
	cfg = cfg.withDefaults()
	ownerID := newOwnerID(cfg.OwnerPrefix)
	return &Consumer{
		q:       q,
		cfg:     cfg,
		log:     q.log.With("owner_id", ownerID),
		ownerID: ownerID,
		stopCh:  make(chan struct{}),
	}
}

func newOwnerID(prefix string) string {
	return fmt.Sprintf("%s_%d_%04d", prefix, time.Now().UnixMilli(), rand.IntN(10000))
}

// OwnerID returns the generated owner id.
func (c *Consumer) OwnerID() string { return c.ownerID }

// Start joins the owner set and launches the cleanup and stats loops.
// A consumer that was shut down cannot be started again.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateStarted:
		c.mu.Unlock()
		return errors.New("queue: consumer already started")
	case stateShutdown:
		c.mu.Unlock()
		return ErrShutdown
	}
	c.state = stateStarted
	c.lastKeepalive = time.Now()
	c.mu.Unlock()

	assignments, err := c.q.join(ctx, c.ownerID)
	if err != nil {
		c.mu.Lock()
		c.state = stateCreated
		c.mu.Unlock()
		return err
	}
	c.log.Info("queue: consumer joined",
		"owners", len(assignments),
		"partitions", len(assignments[c.ownerID]))

	if c.cfg.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop()
	}
	if c.cfg.LogInterval > 0 {
		c.wg.Add(1)
		go c.statsLoop()
	}
	return nil
}

// Messages fetches at most one old-enough message per owned partition,
// lowest delivery time first within each partition. A lost assignment is
// repaired by rejoining transparently. An empty slice means nothing is
// ready.
func (c *Consumer) Messages(ctx context.Context) ([]Message, error) {
	c.mu.Lock()
	if c.state != stateStarted {
		st := c.state
		c.mu.Unlock()
		if st == stateShutdown {
			return nil, ErrShutdown
		}
		return nil, errNotStarted
	}
	needKeepalive := time.Since(c.lastKeepalive) > c.cfg.KeepaliveAfter
	c.mu.Unlock()

	if needKeepalive {
		ok, err := c.q.keepalive(ctx, c.ownerID)
		switch {
		case err != nil:
			c.log.Warn("queue: keepalive failed", "error", err)
		case !ok:
			// The owner lost its assignment; the fetch below rejoins.
			c.log.Warn("queue: keepalive rejected", "reason", string(errcode.KeyJoinRequired))
		default:
			c.mu.Lock()
			c.lastKeepalive = time.Now()
			c.mu.Unlock()
		}
	}
	return c.fetch(ctx, 0)
}

func (c *Consumer) fetch(ctx context.Context, joins int) ([]Message, error) {
	status, msgs, err := c.q.getMessages(ctx, c.ownerID, c.cfg.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	switch status {
	case statusOK:
		return msgs, nil
	case statusNoQueues:
		c.log.Debug("queue: no partitions assigned", "reason", string(errcode.KeyNoQueues))
		return nil, nil
	case statusJoinRequired:
		if joins >= maxAutoJoins {
			return nil, errcode.Newf(errcode.DatabaseError,
				"queue: owner %s still unassigned after %d joins", c.ownerID, joins)
		}
		c.log.Info("queue: rejoining", "reason", string(errcode.KeyJoinRequired))
		if _, err := c.q.join(ctx, c.ownerID); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.lastKeepalive = time.Now()
		c.mu.Unlock()
		return c.fetch(ctx, joins+1)
	default:
		return nil, errcode.Newf(errcode.DatabaseError, "queue: unexpected fetch status %q", status)
	}
}

// Shutdown leaves the owner set, but refuses while messages remain in any
// partition; drain first or use ShutdownNow. Repeated shutdowns are no-ops.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateShutdown {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	n, err := c.q.remaining(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("queue: %d messages remain", n)
	}
	return c.stop(ctx)
}

// ShutdownNow leaves the owner set regardless of backlog. Unclaimed
// messages stay in their partitions for the surviving owners.
func (c *Consumer) ShutdownNow(ctx context.Context) error {
	return c.stop(ctx)
}

func (c *Consumer) stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateShutdown {
		c.mu.Unlock()
		return nil
	}
	wasStarted := c.state == stateStarted
	c.state = stateShutdown
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	if wasStarted {
		if err := c.q.exit(ctx, c.ownerID); err != nil {
			c.log.Warn("queue: exit failed", "error", err)
			return err
		}
		c.log.Info("queue: consumer left")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Background loops

func (c *Consumer) cleanupLoop() {
	defer c.wg.Done()
	for {
		if !c.sleep(jitter(c.cfg.CleanupInterval)) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), loopOpTimeout)
		evicted, err := c.q.CleanupInactiveOwners(ctx)
		cancel()
		switch {
		case err != nil:
			c.log.Warn("queue: owner cleanup failed", "error", err)
		case evicted > 0:
			c.log.Info("queue: evicted inactive owners", "count", evicted)
		}
	}
}

func (c *Consumer) statsLoop() {
	defer c.wg.Done()
	for {
		if !c.sleep(c.cfg.LogInterval) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), loopOpTimeout)
		st, err := c.q.Stats(ctx)
		cancel()
		if err != nil {
			c.log.Warn("queue: stats failed", "error", err)
			continue
		}
		var busy int
		var oldest, newest int64
		for _, p := range st.Partitions {
			if p.Size == 0 {
				continue
			}
			busy++
			if oldest == 0 || p.OldestScore < oldest {
				oldest = p.OldestScore
			}
			if p.NewestScore > newest {
				newest = p.NewestScore
			}
			c.log.Debug("queue: partition backlog",
				"name", p.Name, "size", p.Size, "ttl", p.TTL)
		}
		if busy == 0 {
			c.log.Info("queue: stats",
				"messages", st.Messages, "counter", st.Counter, "owners", len(st.Owners))
			continue
		}
		c.log.Info("queue: stats",
			"messages", st.Messages,
			"counter", st.Counter,
			"owners", len(st.Owners),
			"busy_partitions", busy,
			"oldest", time.UnixMilli(oldest),
			"newest", time.UnixMilli(newest))
	}
}

// sleep waits for d or until shutdown; it reports false on shutdown.
func (c *Consumer) sleep(d time.Duration) bool {
	select {
	case <-c.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// jitter spreads base over [0.7*base, 1.3*base).
func jitter(base time.Duration) time.Duration {
	return time.Duration(float64(base) * (0.7 + 0.6*rand.Float64()))
}
