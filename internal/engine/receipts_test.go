package engine

import (
	"context"
	"testing"
	"time"
)

func TestMemoryReceiptsFirstWriteWins(t *testing.T) {
	s := NewMemoryReceipts()
	ctx := context.Background()
	first := time.Now().UTC()

	readAt, set, err := s.Mark(ctx, "m1", "alice", first)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !set || !readAt.Equal(first) {
		t.Errorf("expected first write to set at %v, got set=%v at=%v", first, set, readAt)
	}

	readAt, set, err = s.Mark(ctx, "m1", "alice", first.Add(time.Hour))
	if err != nil {
		t.Fatalf("mark again: %v", err)
	}
	if set {
		t.Error("expected second mark to be a no-op")
	}
	if !readAt.Equal(first) {
		t.Errorf("expected original timestamp %v, got %v", first, readAt)
	}
}

func TestMemoryReceiptsIndependentPairs(t *testing.T) {
	s := NewMemoryReceipts()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, set, _ := s.Mark(ctx, "m1", "alice", now); !set {
		t.Error("expected set for (m1, alice)")
	}
	if _, set, _ := s.Mark(ctx, "m1", "bob", now); !set {
		t.Error("expected set for (m1, bob)")
	}
	if _, set, _ := s.Mark(ctx, "m2", "alice", now); !set {
		t.Error("expected set for (m2, alice)")
	}
}
