// Package cluster groups memory embeddings into stable topic clusters.
//
// Assignment is online and conservative: Assign matches an embedding
// against the current cluster centroids and records it for later passes,
// but never creates a cluster on its own. Clusters are formed by
// Recluster, which runs DBSCAN over every recorded embedding and carries
// prior cluster IDs over to the most similar new centroids. Splitting the
// two keeps assignment cheap and avoids the order-dependent drift that
// greedy sequential merging produces.
//
// # Usage
//
//	mgr := cluster.New(cluster.Config{Dim: 1536, Prefix: "topic"})
//	mgr.OnUpdate(func(c memory.Cluster) { ... })
//
//	// Online: cheap, may report no match until the first Recluster.
//	id, ok := mgr.Assign(cell.EventID, cell.Extend.Embedding, cell.Timestamp)
//
//	// Offline: rebuild clusters and memberships from everything recorded.
//	n := mgr.Recluster()
package cluster

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/evermem/evermem/pkg/memory"
)

// Config controls the manager.
type Config struct {
	// Dim is the embedding dimension.
	Dim int

	// Threshold is the minimum cosine similarity to match a cluster
	// centroid. Lower merges more, higher leaves more samples
	// unassigned. Default: 0.5.
	Threshold float32

	// MinSamples is the minimum neighborhood size for a DBSCAN core
	// point. Default: 2.
	MinSamples int

	// Prefix is prepended to generated cluster IDs
	// (e.g. "topic" yields "topic-001").
	Prefix string
}

func (c *Config) defaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.MinSamples == 0 {
		c.MinSamples = 2
	}
}

// sample is one recorded embedding.
type sample struct {
	eventID string
	vec     []float32 // L2-normalized copy
	ts      time.Time
}

// bucket is one live cluster.
type bucket struct {
	id       string
	centroid []float32 // L2-normalized
	members  []string
	updated  time.Time
}

func (b *bucket) snapshot() memory.Cluster {
	return memory.Cluster{
		ID:             b.id,
		MemberEventIDs: slices.Clone(b.members),
		LastUpdated:    b.updated,
	}
}

// Manager assigns stable cluster IDs to memory embeddings.
type Manager struct {
	mu        sync.RWMutex
	cfg       Config
	samples   []sample
	byEvent   map[string]int
	buckets   []bucket
	nextID    int
	callbacks []func(memory.Cluster)
}

// New creates a Manager.
func New(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:     cfg,
		byEvent: make(map[string]int),
	}
}

// OnUpdate registers a callback invoked whenever a cluster gains a member
// through Assign or changes membership during Recluster. Callbacks run
// synchronously after the manager releases its lock and receive an
// independent snapshot.
func (m *Manager) OnUpdate(fn func(memory.Cluster)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Assign records the embedding under eventID and matches it against the
// current cluster centroids. It never creates a cluster; before the first
// Recluster every call reports matched == false. Re-assigning a known
// eventID replaces its recorded embedding.
func (m *Manager) Assign(eventID string, embedding []float32, ts time.Time) (clusterID string, matched bool) {
	vec := normalized(embedding)

	m.mu.Lock()
	if i, ok := m.byEvent[eventID]; ok {
		m.samples[i] = sample{eventID: eventID, vec: vec, ts: ts}
	} else {
		m.byEvent[eventID] = len(m.samples)
		m.samples = append(m.samples, sample{eventID: eventID, vec: vec, ts: ts})
	}

	bestSim := float32(-1)
	bestIdx := -1
	for i := range m.buckets {
		sim := cosineSim(vec, m.buckets[i].centroid)
		if sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestSim < m.cfg.Threshold {
		m.mu.Unlock()
		return "", false
	}

	b := &m.buckets[bestIdx]
	if !slices.Contains(b.members, eventID) {
		b.members = append(b.members, eventID)
	}
	if ts.After(b.updated) {
		b.updated = ts
	}
	snap := b.snapshot()
	fns := slices.Clone(m.callbacks)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	return snap.ID, true
}

// Recluster runs DBSCAN over every recorded embedding, rebuilds cluster
// memberships, and carries prior IDs over to the most similar new
// centroids. Noise points stay recorded but belong to no cluster. Returns
// the number of clusters afterwards.
func (m *Manager) Recluster() int {
	m.mu.Lock()

	if len(m.samples) == 0 {
		m.mu.Unlock()
		return 0
	}

	vectors := make([][]float32, len(m.samples))
	for i, s := range m.samples {
		vectors[i] = s.vec
	}
	eps := 1 - m.cfg.Threshold
	labels := dbscan(vectors, eps, m.cfg.MinSamples)

	maxLabel := 0
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}

	dim := m.cfg.Dim
	if dim == 0 {
		dim = len(vectors[0])
	}

	next := make([]bucket, 0, maxLabel)
	for c := 1; c <= maxLabel; c++ {
		centroid := make([]float32, dim)
		var members []string
		var updated time.Time
		for i, l := range labels {
			if l != c {
				continue
			}
			for d := range centroid {
				if d < len(vectors[i]) {
					centroid[d] += vectors[i][d]
				}
			}
			members = append(members, m.samples[i].eventID)
			if m.samples[i].ts.After(updated) {
				updated = m.samples[i].ts
			}
		}
		if len(members) == 0 {
			continue
		}
		for d := range centroid {
			centroid[d] /= float32(len(members))
		}
		normalize(centroid)
		next = append(next, bucket{centroid: centroid, members: members, updated: updated})
	}

	// Carry IDs over: each new bucket takes the ID of the most similar
	// prior bucket above threshold, every prior ID used at most once.
	prior := m.buckets
	used := make(map[string]bool)
	for i := range next {
		bestSim := float32(-1)
		bestIdx := -1
		for j := range prior {
			if used[prior[j].id] {
				continue
			}
			sim := cosineSim(next[i].centroid, prior[j].centroid)
			if sim > bestSim {
				bestSim = sim
				bestIdx = j
			}
		}
		if bestIdx >= 0 && bestSim >= m.cfg.Threshold {
			next[i].id = prior[bestIdx].id
			used[next[i].id] = true
		} else {
			next[i].id = m.allocID()
		}
	}

	priorMembers := make(map[string][]string, len(prior))
	for i := range prior {
		priorMembers[prior[i].id] = prior[i].members
	}
	var changed []memory.Cluster
	for i := range next {
		old, ok := priorMembers[next[i].id]
		if !ok || !sameMembers(old, next[i].members) {
			changed = append(changed, next[i].snapshot())
		}
	}

	m.buckets = next
	n := len(next)
	fns := slices.Clone(m.callbacks)
	m.mu.Unlock()

	for _, c := range changed {
		for _, fn := range fns {
			fn(c)
		}
	}
	return n
}

// Clusters returns a snapshot of all current clusters.
func (m *Manager) Clusters() []memory.Cluster {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]memory.Cluster, len(m.buckets))
	for i := range m.buckets {
		out[i] = m.buckets[i].snapshot()
	}
	return out
}

// MembersOf returns the member event IDs of a cluster, or nil if the ID
// is unknown.
func (m *Manager) MembersOf(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.buckets {
		if m.buckets[i].id == id {
			return slices.Clone(m.buckets[i].members)
		}
	}
	return nil
}

// Len returns the number of recorded embeddings.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// Reset drops all recorded embeddings and clusters.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = nil
	m.byEvent = make(map[string]int)
	m.buckets = nil
	m.nextID = 0
}

// allocID mints the next cluster ID. Callers hold mu. IDs avoid ':' so
// they can serve as key segments.
func (m *Manager) allocID() string {
	m.nextID++
	if m.cfg.Prefix != "" {
		return fmt.Sprintf("%s-%03d", m.cfg.Prefix, m.nextID)
	}
	return fmt.Sprintf("%03d", m.nextID)
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := slices.Clone(a), slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
