package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/cartly/chat-engine/internal/protocol"
)

// pipeConnection builds a Connection over one end of an in-memory pipe and
// returns the client end for reading what the dispatcher writes.
func pipeConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	srv, cli := net.Pipe()
	t.Cleanup(func() {
		srv.Close()
		cli.Close()
	})
	conn := &Connection{
		ID:        "conn-1",
		Identity:  "alice",
		Conn:      srv,
		Fd:        -1,
		CreatedAt: time.Now(),
	}
	return conn, cli
}

// readFrame reads a single server text frame from the client end into a
// channel so tests can select against a timeout.
func readFrame(cli net.Conn) <-chan []byte {
	frames := make(chan []byte, 1)
	go func() {
		data, err := wsutil.ReadServerText(cli)
		if err != nil {
			return
		}
		frames <- data
	}()
	return frames
}

func TestDispatchRoutesByType(t *testing.T) {
	d := NewMessageDispatcher()
	got := make(chan interface{}, 1)
	d.Register(protocol.TypeJoinRoom, func(conn *Connection, msg interface{}) {
		got <- msg
	})

	conn, _ := pipeConnection(t)
	d.Dispatch(conn, []byte(`{"type":"join_room","room_key":"group:g1"}`))

	select {
	case msg := <-got:
		join, ok := msg.(protocol.JoinRoomMsg)
		if !ok {
			t.Fatalf("expected JoinRoomMsg, got %T", msg)
		}
		if join.RoomKey != "group:g1" {
			t.Errorf("expected room key group:g1, got %q", join.RoomKey)
		}
	default:
		t.Fatal("registered handler was not invoked")
	}
}

func TestDispatchAnswersPingWithPong(t *testing.T) {
	d := NewMessageDispatcher()
	conn, cli := pipeConnection(t)
	frames := readFrame(cli)

	before := conn.LastActive()
	d.Dispatch(conn, []byte(`{"type":"ping"}`))

	select {
	case data := <-frames:
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal pong: %v", err)
		}
		if msg.Type != protocol.TypePong {
			t.Errorf("expected type %q, got %q", protocol.TypePong, msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong frame written")
	}

	if !conn.LastActive().After(before) {
		t.Error("ping was not recorded as connection activity")
	}
}

func TestDispatchUnsupportedTypeSendsError(t *testing.T) {
	d := NewMessageDispatcher()
	conn, cli := pipeConnection(t)
	frames := readFrame(cli)

	d.Dispatch(conn, []byte(`{"type":"bogus"}`))

	select {
	case data := <-frames:
		var msg protocol.ErrorMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal error frame: %v", err)
		}
		if msg.Code != "unsupported_type" {
			t.Errorf("expected code unsupported_type, got %q", msg.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error frame written")
	}
}

func TestDispatchMalformedMessageSendsError(t *testing.T) {
	d := NewMessageDispatcher()
	conn, cli := pipeConnection(t)
	frames := readFrame(cli)

	d.Dispatch(conn, []byte(`{"type":`))

	select {
	case data := <-frames:
		var msg protocol.ErrorMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal error frame: %v", err)
		}
		if msg.Code != "parse_error" {
			t.Errorf("expected code parse_error, got %q", msg.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error frame written")
	}
}
