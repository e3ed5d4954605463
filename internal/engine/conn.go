package engine

import (
	"sync"
	"time"
)

// Conn is a live client connection as seen by the engine. Identity and role
// are fixed at connect time and never change for the connection's lifetime.
// Events are delivered through a buffered channel; the transport layer owns
// draining it. A connection whose channel stays full is treated as a failed
// subscriber and disconnected.
type Conn struct {
	ID        string
	Identity  string
	Role      Role
	CreatedAt time.Time

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	rooms map[RoomKey]struct{}
}

func newConn(id, identity string, role Role, queueSize int) *Conn {
	return &Conn{
		ID:        id,
		Identity:  identity,
		Role:      role,
		CreatedAt: time.Now(),
		events:    make(chan Event, queueSize),
		done:      make(chan struct{}),
		rooms:     make(map[RoomKey]struct{}),
	}
}

// Events returns the channel the engine delivers this connection's events on.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection has been disconnected and will receive
// no further events.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// deliver attempts a non-blocking send of ev to the connection. It returns
// false when the connection is closed or its queue is full, which callers
// treat as a transport failure.
func (c *Conn) deliver(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Conn) addRoom(key RoomKey) {
	c.mu.Lock()
	c.rooms[key] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeRoom(key RoomKey) {
	c.mu.Lock()
	delete(c.rooms, key)
	c.mu.Unlock()
}

// Rooms returns a snapshot of the room keys the connection is subscribed to.
func (c *Conn) Rooms() []RoomKey {
	c.mu.Lock()
	keys := make([]RoomKey, 0, len(c.rooms))
	for k := range c.rooms {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	return keys
}
