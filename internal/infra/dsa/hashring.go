// Package dsa holds the consistent hash ring that routes watched domains to
// scheduler workers.
//
// Every job for a domain lands on the same worker, so scans of one domain
// never run concurrently while different domains proceed in parallel.
package dsa

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// ─── Consistent Hash Ring ───────────────────────────────────────────────────
// Each worker gets VirtualNodes positions on the ring. Lookup is a binary
// search over the sorted points; adding a worker only moves the domains that
// hash next to its new points.

// HashRingConfig configures the consistent hash ring.
type HashRingConfig struct {
	VirtualNodes int // positions per worker (default 150)
}

// DefaultHashRingConfig returns production defaults.
func DefaultHashRingConfig() HashRingConfig {
	return HashRingConfig{VirtualNodes: 150}
}

// HashRing maps keys onto a set of named workers.
type HashRing struct {
	mu      sync.RWMutex
	vnodes  int
	points  []ringPoint
	workers map[string]bool
}

type ringPoint struct {
	hash   uint32
	worker string
}

// NewHashRing creates an empty ring.
func NewHashRing(cfg HashRingConfig) *HashRing {
	if cfg.VirtualNodes <= 0 {
		cfg.VirtualNodes = DefaultHashRingConfig().VirtualNodes
	}
	return &HashRing{
		vnodes:  cfg.VirtualNodes,
		workers: make(map[string]bool),
	}
}

// WorkerRing builds a ring with workers named "worker-0" .. "worker-<n-1>".
func WorkerRing(n int) *HashRing {
	r := NewHashRing(DefaultHashRingConfig())
	for i := 0; i < n; i++ {
		r.Add(WorkerName(i))
	}
	return r
}

// WorkerName is the ring name of worker i.
func WorkerName(i int) string {
	return fmt.Sprintf("worker-%d", i)
}

// Add places a worker on the ring. Adding a known worker is a no-op.
func (h *HashRing) Add(worker string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.workers[worker] {
		return
	}
	h.workers[worker] = true

	for i := 0; i < h.vnodes; i++ {
		h.points = append(h.points, ringPoint{
			hash:   hashKey(fmt.Sprintf("%s#%d", worker, i)),
			worker: worker,
		})
	}
	sort.Slice(h.points, func(i, j int) bool {
		return h.points[i].hash < h.points[j].hash
	})
}

// Lookup returns the worker that owns key, or "" on an empty ring.
func (h *HashRing) Lookup(key string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.points) == 0 {
		return ""
	}
	hash := hashKey(key)
	idx := sort.Search(len(h.points), func(i int) bool {
		return h.points[i].hash >= hash
	})
	if idx >= len(h.points) {
		idx = 0
	}
	return h.points[idx].worker
}

// Size returns the number of workers.
func (h *HashRing) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workers)
}

func hashKey(key string) uint32 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint32(sum[:4])
}
