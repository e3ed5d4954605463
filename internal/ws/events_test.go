package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cartly/chat-engine/internal/engine"
	"github.com/cartly/chat-engine/internal/protocol"
)

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal encoded event: %v", err)
	}
	return m
}

func TestEncodeMessageEvent(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	room := engine.RoomKey{Kind: engine.RoomGroup, Target: "G1"}
	data, ok, err := EncodeEvent(engine.Event{
		Kind: engine.EventMessage,
		Room: room,
		Envelope: &engine.Envelope{
			ID:        "m1",
			Room:      room,
			Author:    "alice",
			Body:      "hi",
			CreatedAt: created,
		},
	})
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}

	m := decode(t, data)
	if m["type"] != protocol.TypeMessage {
		t.Errorf("expected type %q, got %v", protocol.TypeMessage, m["type"])
	}
	msg, _ := m["message"].(map[string]interface{})
	if msg["message_id"] != "m1" || msg["room_key"] != "group:G1" || msg["author"] != "alice" {
		t.Errorf("unexpected wire message %v", msg)
	}
	if int64(msg["created_at"].(float64)) != created.UnixMilli() {
		t.Errorf("expected created_at %d, got %v", created.UnixMilli(), msg["created_at"])
	}
}

func TestEncodePresenceEvent(t *testing.T) {
	room := engine.RoomKey{Kind: engine.RoomGroup, Target: "G1"}

	data, ok, err := EncodeEvent(engine.Event{
		Kind:     engine.EventPresence,
		Room:     room,
		Identity: "bob",
		Action:   engine.ActionJoined,
	})
	if err != nil || !ok {
		t.Fatalf("encode joined: ok=%v err=%v", ok, err)
	}
	if m := decode(t, data); m["type"] != protocol.TypeUserJoined {
		t.Errorf("expected %q, got %v", protocol.TypeUserJoined, m["type"])
	}

	data, ok, err = EncodeEvent(engine.Event{
		Kind:     engine.EventPresence,
		Room:     room,
		Identity: "bob",
		Action:   engine.ActionLeft,
	})
	if err != nil || !ok {
		t.Fatalf("encode left: ok=%v err=%v", ok, err)
	}
	m := decode(t, data)
	if m["type"] != protocol.TypeUserLeft {
		t.Errorf("expected %q, got %v", protocol.TypeUserLeft, m["type"])
	}
	if m["identity_id"] != "bob" {
		t.Errorf("expected identity bob, got %v", m["identity_id"])
	}
}

func TestEncodeReadReceiptEvent(t *testing.T) {
	readAt := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	data, ok, err := EncodeEvent(engine.Event{
		Kind:      engine.EventReadReceipt,
		Identity:  "bob",
		MessageID: "m1",
		ReadAt:    readAt,
	})
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}

	m := decode(t, data)
	if m["type"] != protocol.TypeReadReceipt {
		t.Errorf("expected type %q, got %v", protocol.TypeReadReceipt, m["type"])
	}
	if int64(m["read_at"].(float64)) != readAt.UnixMilli() {
		t.Errorf("expected read_at %d, got %v", readAt.UnixMilli(), m["read_at"])
	}
}

func TestEncodeErrorEvent(t *testing.T) {
	data, ok, err := EncodeEvent(engine.Event{
		Kind: engine.EventError,
		Err:  &engine.Error{Code: "access_denied", Message: "not a member"},
	})
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}

	m := decode(t, data)
	if m["type"] != protocol.TypeError || m["code"] != "access_denied" {
		t.Errorf("unexpected error message %v", m)
	}
}

func TestEncodeMessageEventWithoutEnvelope(t *testing.T) {
	if _, _, err := EncodeEvent(engine.Event{Kind: engine.EventMessage}); err == nil {
		t.Error("expected error for message event without envelope")
	}
}
