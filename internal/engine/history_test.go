package engine

import (
	"fmt"
	"testing"
)

func TestHistoryAddAndRecent(t *testing.T) {
	h := newHistoryCache()
	key := groupRoom("g1")

	h.add(key, Envelope{ID: "1", Body: "hello"})
	h.add(key, Envelope{ID: "2", Body: "hi"})
	h.add(key, Envelope{ID: "3", Body: "how are you?"})

	msgs := h.recent(key)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "hello" {
		t.Errorf("expected first message 'hello', got %q", msgs[0].Body)
	}
	if msgs[2].Body != "how are you?" {
		t.Errorf("expected last message 'how are you?', got %q", msgs[2].Body)
	}
}

func TestHistoryWraparound(t *testing.T) {
	h := newHistoryCache()
	key := groupRoom("g1")

	// Add more than the window holds.
	total := snapshotWindow + 7
	for i := 1; i <= total; i++ {
		h.add(key, Envelope{ID: fmt.Sprintf("%d", i), Body: fmt.Sprintf("msg-%d", i)})
	}

	msgs := h.recent(key)
	if len(msgs) != snapshotWindow {
		t.Fatalf("expected %d messages, got %d", snapshotWindow, len(msgs))
	}

	// Should contain the newest snapshotWindow messages in order.
	for i, msg := range msgs {
		expected := fmt.Sprintf("msg-%d", total-snapshotWindow+i+1)
		if msg.Body != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, msg.Body)
		}
	}
}

func TestHistoryUnknownRoom(t *testing.T) {
	h := newHistoryCache()

	msgs := h.recent(groupRoom("nope"))
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestHistoryDrop(t *testing.T) {
	h := newHistoryCache()
	key := groupRoom("g1")

	h.add(key, Envelope{ID: "1", Body: "bye"})
	h.drop(key)

	if len(h.recent(key)) != 0 {
		t.Error("expected empty history after drop")
	}
}

func TestHistoryRoomsAreIndependent(t *testing.T) {
	h := newHistoryCache()

	h.add(groupRoom("g1"), Envelope{ID: "1", Body: "in g1"})
	h.add(groupRoom("g2"), Envelope{ID: "2", Body: "in g2"})

	if msgs := h.recent(groupRoom("g1")); len(msgs) != 1 || msgs[0].Body != "in g1" {
		t.Errorf("unexpected g1 history: %v", msgs)
	}
	if msgs := h.recent(groupRoom("g2")); len(msgs) != 1 || msgs[0].Body != "in g2" {
		t.Errorf("unexpected g2 history: %v", msgs)
	}
}
