package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_room message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinRoom(t *testing.T) {
	input := []byte(`{"type":"join_room","room_key":"group:G1"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinRoom {
		t.Fatalf("expected type %q, got %q", TypeJoinRoom, msgType)
	}

	jm, ok := msg.(JoinRoomMsg)
	if !ok {
		t.Fatalf("expected JoinRoomMsg, got %T", msg)
	}
	if jm.RoomKey != "group:G1" {
		t.Errorf("expected room_key %q, got %q", "group:G1", jm.RoomKey)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","room_key":"item:I7","body":"Hello!","attachment":"https://cdn.example/p.jpg"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.RoomKey != "item:I7" {
		t.Errorf("expected room_key %q, got %q", "item:I7", sm.RoomKey)
	}
	if sm.Body != "Hello!" {
		t.Errorf("expected body %q, got %q", "Hello!", sm.Body)
	}
	if sm.Attachment != "https://cdn.example/p.jpg" {
		t.Errorf("unexpected attachment %q", sm.Attachment)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a typing message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","room_key":"group:G1","action":"start"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
	}

	tm, ok := msg.(ClientTypingMsg)
	if !ok {
		t.Fatalf("expected ClientTypingMsg, got %T", msg)
	}
	if tm.Action != TypingStart {
		t.Errorf("expected action %q, got %q", TypingStart, tm.Action)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a mark_read message
// ---------------------------------------------------------------------------

func TestParseClientMessage_MarkRead(t *testing.T) {
	input := []byte(`{"type":"mark_read","message_ids":["m1","m2"]}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMarkRead {
		t.Fatalf("expected type %q, got %q", TypeMarkRead, msgType)
	}

	mm, ok := msg.(MarkReadMsg)
	if !ok {
		t.Fatalf("expected MarkReadMsg, got %T", msg)
	}
	if len(mm.MessageIDs) != 2 || mm.MessageIDs[0] != "m1" {
		t.Errorf("unexpected message_ids %v", mm.MessageIDs)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown and malformed messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"fly_to_moon"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"room_key":"group:G1"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	input := []byte(`{not json`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a room_snapshot server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_RoomSnapshot(t *testing.T) {
	payload := RoomSnapshotMsg{
		RoomKey: "group:G1",
		RecentMessages: []WireMessage{
			{MessageID: "m1", RoomKey: "group:G1", Author: "alice", Body: "hi", CreatedAt: 1700000000000},
		},
	}

	data, err := NewServerMessage(TypeRoomSnapshot, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeRoomSnapshot {
		t.Errorf("expected type %q, got %v", TypeRoomSnapshot, result["type"])
	}
	if result["room_key"] != "group:G1" {
		t.Errorf("expected room_key %q, got %v", "group:G1", result["room_key"])
	}
	msgs, ok := result["recent_messages"].([]interface{})
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected 1 recent message, got %v", result["recent_messages"])
	}
}

// ---------------------------------------------------------------------------
// Test: Type injection overrides any payload type field
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Code: "access_denied", Message: "nope"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeError {
		t.Errorf("expected type %q, got %v", TypeError, result["type"])
	}
	if result["code"] != "access_denied" {
		t.Errorf("expected code %q, got %v", "access_denied", result["code"])
	}
}
