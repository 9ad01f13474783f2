package bus

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
)

// memoryRing is the bounded fallback queue used when Redis is down. It keeps
// the ingest accept path alive at the cost of durability: entries exist only
// in process memory and arrivals beyond capacity are dropped (and counted)
// rather than evicting older entries.
type memoryRing struct {
	mu       sync.Mutex
	entries  []memoryEntry
	capacity int
	dropped  int64
	logger   *slog.Logger
}

type memoryEntry struct {
	id     string
	fields map[string]any
}

func newMemoryRing(capacity int) *memoryRing {
	return &memoryRing{
		capacity: capacity,
		logger:   slog.Default().With("component", "bus.memory"),
	}
}

// append stores fields and returns a synthetic id distinguishable from Redis
// stream ids. On overflow the new entry is discarded.
func (r *memoryRing) append(fields map[string]any) string {
	id := "mem-" + randomHex(6)

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		r.dropped++
		if r.dropped == 1 || r.dropped%1000 == 0 {
			r.logger.Warn("In-memory queue full, dropping event",
				"capacity", r.capacity,
				"dropped_total", r.dropped)
		}
		return id
	}

	r.entries = append(r.entries, memoryEntry{id: id, fields: fields})
	return id
}

func (r *memoryRing) stats() (pending int, dropped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), r.dropped
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
