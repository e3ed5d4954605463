package engine

import "sync"

// room holds the live subscriber set for one room key. Its mutex is the
// per-room serialization point: publishes, joins, and leaves all take it, so
// a join in progress cannot miss a concurrently dispatched broadcast and
// every subscriber observes the same relative event order for this room.
type room struct {
	key  RoomKey
	mu   sync.Mutex
	subs map[string]*Conn // connection id -> connection
}

func newRoom(key RoomKey) *room {
	return &room{key: key, subs: make(map[string]*Conn)}
}

// add subscribes the connection. added is false if the (connection, room)
// pair was already subscribed — join is idempotent. identityFirst is true
// when no other connection of the same identity was subscribed, which is
// when an identity-level user_joined should be announced.
func (r *room) add(c *Conn) (added, identityFirst bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[c.ID]; ok {
		return false, false
	}
	identityFirst = true
	for _, sub := range r.subs {
		if sub.Identity == c.Identity {
			identityFirst = false
			break
		}
	}
	r.subs[c.ID] = c
	return true, identityFirst
}

// remove unsubscribes the connection id. identityGone is true when the
// identity has no remaining connection in the room, empty when the room has
// no subscribers left.
func (r *room) remove(connID string) (removed, identityGone, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.subs[connID]
	if !ok {
		return false, false, len(r.subs) == 0
	}
	delete(r.subs, connID)
	identityGone = true
	for _, sub := range r.subs {
		if sub.Identity == c.Identity {
			identityGone = false
			break
		}
	}
	return true, identityGone, len(r.subs) == 0
}

func (r *room) contains(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[connID]
	return ok
}

func (r *room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// broadcast delivers ev to every subscriber except the origin connection.
// Delivery is a non-blocking enqueue per subscriber, so one slow or closed
// subscriber cannot stall the rest. Failed subscribers are removed from the
// room and returned so the engine can disconnect them.
func (r *room) broadcast(ev Event) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []*Conn
	for id, c := range r.subs {
		if id == ev.Origin {
			continue
		}
		if !c.deliver(ev) {
			delete(r.subs, id)
			failed = append(failed, c)
		}
	}
	return failed
}
