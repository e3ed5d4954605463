package engine

import "sync"

// snapshotWindow is the number of recent envelopes retained per room for
// snapshot fallback when the message store is unreachable.
const snapshotWindow = 50

// historyCache keeps the last N envelopes per room in memory. It is
// goroutine-safe and uses a ring buffer internally. It is a cache only; the
// message store owns the durable history.
type historyCache struct {
	mu      sync.RWMutex
	buffers map[RoomKey]*ringBuffer
}

// ringBuffer is a fixed-size circular buffer of envelopes.
type ringBuffer struct {
	items []Envelope
	pos   int
	count int
}

func newHistoryCache() *historyCache {
	return &historyCache{buffers: make(map[RoomKey]*ringBuffer)}
}

// add appends an envelope to the room's ring buffer. If the buffer is full,
// the oldest envelope is overwritten.
func (h *historyCache) add(key RoomKey, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rb, ok := h.buffers[key]
	if !ok {
		rb = &ringBuffer{items: make([]Envelope, snapshotWindow)}
		h.buffers[key] = rb
	}

	rb.items[rb.pos] = env
	rb.pos = (rb.pos + 1) % snapshotWindow
	if rb.count < snapshotWindow {
		rb.count++
	}
}

// recent returns the room's cached envelopes in chronological order (oldest
// first). Returns an empty slice if the room has no buffer.
func (h *historyCache) recent(key RoomKey) []Envelope {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rb, ok := h.buffers[key]
	if !ok {
		return []Envelope{}
	}

	result := make([]Envelope, rb.count)
	start := (rb.pos - rb.count + snapshotWindow) % snapshotWindow
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%snapshotWindow]
	}
	return result
}

// drop deletes the room's buffer (called when an empty room is reaped).
func (h *historyCache) drop(key RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.buffers, key)
}
