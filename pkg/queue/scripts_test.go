package queue

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/evermem/evermem/pkg/errcode"
)

func newScriptQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q, err := New(Config{
		Client: client,
		Prefix: "t",
		Rand:   func() float64 { return 0.9 },
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q, client
}

// assertFullCover fails unless every partition name appears exactly once
// across the assignment.
func assertFullCover(t *testing.T, assignments map[string][]string) {
	t.Helper()
	seen := make(map[string]int)
	for _, ps := range assignments {
		for _, p := range ps {
			seen[p]++
		}
	}
	if len(seen) != partitionCount {
		t.Fatalf("assignment covers %d partitions, want %d", len(seen), partitionCount)
	}
	for i := 1; i <= partitionCount; i++ {
		name := fmt.Sprintf("%03d", i)
		if seen[name] != 1 {
			t.Fatalf("partition %s assigned %d times", name, seen[name])
		}
	}
}

func TestJoinPartitionsExactlyOnce(t *testing.T) {
	q, client := newScriptQueue(t)
	ctx := context.Background()

	if _, err := q.join(ctx, "w2"); err != nil {
		t.Fatalf("join w2: %v", err)
	}
	a, err := q.join(ctx, "w1")
	if err != nil {
		t.Fatalf("join w1: %v", err)
	}
	if len(a) != 2 {
		t.Fatalf("got %d owners, want 2", len(a))
	}
	if len(a["w1"]) != 25 || len(a["w2"]) != 25 {
		t.Fatalf("split = %d/%d, want 25/25", len(a["w1"]), len(a["w2"]))
	}
	// Owners sort lexically, so w1 takes the odd slots.
	if a["w1"][0] != "001" || a["w1"][1] != "003" || a["w2"][0] != "002" {
		t.Fatalf("round-robin order off: w1 starts %v, w2 starts %v", a["w1"][:2], a["w2"][:1])
	}
	assertFullCover(t, a)

	b, err := q.join(ctx, "w1")
	if err != nil {
		t.Fatalf("rejoin w1: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("rejoin changed the assignment:\nbefore %v\nafter  %v", a, b)
	}

	three, err := q.join(ctx, "w0")
	if err != nil {
		t.Fatalf("join w0: %v", err)
	}
	for owner, n := range map[string]int{"w0": 17, "w1": 17, "w2": 16} {
		if len(three[owner]) != n {
			t.Fatalf("owner %s got %d partitions, want %d", owner, len(three[owner]), n)
		}
	}
	assertFullCover(t, three)

	stored := client.LRange(ctx, "t:queue_list:w0", 0, -1).Val()
	if !reflect.DeepEqual(stored, three["w0"]) {
		t.Fatalf("stored list %v differs from reply %v", stored, three["w0"])
	}
}

func TestJoinPrunesStaleOwners(t *testing.T) {
	q, client := newScriptQueue(t)
	ctx := context.Background()

	if _, err := q.join(ctx, "w1"); err != nil {
		t.Fatalf("join w1: %v", err)
	}
	stale := float64(time.Now().Add(-time.Hour).UnixMilli())
	client.ZAdd(ctx, "t:owner_activate_time_zset", redis.Z{Score: stale, Member: "w1"})

	a, err := q.join(ctx, "w2")
	if err != nil {
		t.Fatalf("join w2: %v", err)
	}
	if len(a) != 1 || len(a["w2"]) != 50 {
		t.Fatalf("assignment after prune = %v, want w2 alone with all 50", a)
	}
	if client.Exists(ctx, "t:queue_list:w1").Val() != 0 {
		t.Fatal("pruned owner kept its assignment list")
	}
}

func TestKeepaliveRequiresAssignment(t *testing.T) {
	q, client := newScriptQueue(t)
	ctx := context.Background()

	ok, err := q.keepalive(ctx, "ghost")
	if err != nil || ok {
		t.Fatalf("keepalive for unknown owner = (%v, %v), want rejected", ok, err)
	}
	if n := client.ZCard(ctx, "t:owner_activate_time_zset").Val(); n != 0 {
		t.Fatal("rejected keepalive registered the owner")
	}

	if _, err := q.join(ctx, "w1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	before := client.ZScore(ctx, "t:owner_activate_time_zset", "w1").Val()
	time.Sleep(5 * time.Millisecond)
	ok, err = q.keepalive(ctx, "w1")
	if err != nil || !ok {
		t.Fatalf("keepalive = (%v, %v), want refreshed", ok, err)
	}
	after := client.ZScore(ctx, "t:owner_activate_time_zset", "w1").Val()
	if after <= before {
		t.Fatalf("activity score %v not advanced past %v", after, before)
	}
}

func TestGetMessagesJoinRequiredHasNoSideEffects(t *testing.T) {
	q, client := newScriptQueue(t)
	ctx := context.Background()

	if ok, _ := q.Deliver(ctx, "g1", "x", time.Now().Add(-time.Minute)); !ok {
		t.Fatal("delivery rejected")
	}
	before := client.Keys(ctx, "t:*").Val()
	sort.Strings(before)

	status, msgs, err := q.getMessages(ctx, "ghost", 0)
	if err != nil || status != statusJoinRequired || msgs != nil {
		t.Fatalf("getMessages = (%q, %v, %v), want bare JOIN_REQUIRED", status, msgs, err)
	}

	after := client.Keys(ctx, "t:*").Val()
	sort.Strings(after)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("key set changed:\nbefore %v\nafter  %v", before, after)
	}
	if got := client.Get(ctx, "t:counter").Val(); got != "1" {
		t.Fatalf("counter = %q, want untouched 1", got)
	}
	if n := client.ZCard(ctx, "t:queue:002").Val(); n != 1 {
		t.Fatalf("partition holds %d members, want untouched 1", n)
	}
}

func TestGetMessagesNoQueuesForExtraOwner(t *testing.T) {
	q, _ := newScriptQueue(t)
	ctx := context.Background()

	var last map[string][]string
	for i := 0; i <= 50; i++ {
		a, err := q.join(ctx, fmt.Sprintf("w%02d", i))
		if err != nil {
			t.Fatalf("join w%02d: %v", i, err)
		}
		last = a
	}
	if len(last) != 51 {
		t.Fatalf("got %d owners, want 51", len(last))
	}
	if len(last["w50"]) != 0 {
		t.Fatalf("51st owner got %v, want nothing", last["w50"])
	}
	for i := 0; i < 50; i++ {
		owner := fmt.Sprintf("w%02d", i)
		if len(last[owner]) != 1 {
			t.Fatalf("owner %s got %d partitions, want 1", owner, len(last[owner]))
		}
	}
	assertFullCover(t, last)

	status, _, err := q.getMessages(ctx, "w50", 0)
	if err != nil || status != statusNoQueues {
		t.Fatalf("getMessages for unassigned owner = (%q, %v), want NO_QUEUES", status, err)
	}
	// An owner without an assignment list cannot refresh either; it is
	// expected to fall back to a fresh join.
	if ok, _ := q.keepalive(ctx, "w50"); ok {
		t.Fatal("keepalive accepted for an owner without partitions")
	}
}

func TestFetchJoinRecursionBound(t *testing.T) {
	q, client := newScriptQueue(t)
	ctx := context.Background()
	c := q.NewConsumer(ConsumerConfig{CleanupInterval: -1, LogInterval: -1})

	_, err := c.fetch(ctx, maxAutoJoins)
	if err == nil || !errcode.IsCode(err, errcode.DatabaseError) {
		t.Fatalf("exhausted fetch = %v, want join exhaustion error", err)
	}
	if !strings.Contains(err.Error(), "still unassigned") {
		t.Fatalf("error = %v", err)
	}
	if n := client.ZCard(ctx, "t:owner_activate_time_zset").Val(); n != 0 {
		t.Fatalf("exhausted fetch joined anyway: %d owners", n)
	}

	msgs, err := c.fetch(ctx, 0)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("fetch with auto-join = (%v, %v), want clean empty", msgs, err)
	}
	if n := client.ZCard(ctx, "t:owner_activate_time_zset").Val(); n != 1 {
		t.Fatalf("%d owners after auto-join, want 1", n)
	}
}

func TestCounterClampsAtZero(t *testing.T) {
	q, client := newScriptQueue(t)
	ctx := context.Background()

	if ok, _ := q.Deliver(ctx, "g1", "x", time.Now().Add(-time.Minute)); !ok {
		t.Fatal("delivery rejected")
	}
	client.Del(ctx, "t:counter")
	if _, err := q.join(ctx, "w1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	status, msgs, err := q.getMessages(ctx, "w1", 0)
	if err != nil || status != statusOK || len(msgs) != 1 {
		t.Fatalf("getMessages = (%q, %d msgs, %v)", status, len(msgs), err)
	}
	if got := client.Get(ctx, "t:counter").Val(); got != "0" {
		t.Fatalf("counter = %q, want clamped 0", got)
	}
}
