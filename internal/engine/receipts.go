package engine

import (
	"context"
	"sync"
	"time"
)

// MemoryReceipts is an in-memory ReceiptStore. It backs engines that run
// without Redis (tests, single-node development); the Redis-backed store in
// internal/receipt is the production implementation.
type MemoryReceipts struct {
	mu sync.Mutex
	m  map[string]map[string]time.Time // message id -> identity -> read_at
}

// NewMemoryReceipts returns an empty in-memory receipt store.
func NewMemoryReceipts() *MemoryReceipts {
	return &MemoryReceipts{m: make(map[string]map[string]time.Time)}
}

// Mark records read_at for (messageID, identity) if not already set. The
// first write wins; later calls return the original timestamp with
// set=false.
func (s *MemoryReceipts) Mark(ctx context.Context, messageID, identity string, at time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m[messageID] == nil {
		s.m[messageID] = make(map[string]time.Time)
	}
	if existing, ok := s.m[messageID][identity]; ok {
		return existing, false, nil
	}
	s.m[messageID][identity] = at
	return at, true, nil
}
