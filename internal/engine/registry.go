package engine

import "sync"

// registry is the engine-scoped mutable state: live connections, rooms, and
// the presence map derived from connections. It is injected into one engine
// instance rather than held as a process-wide singleton, so multiple engines
// can run (and be tested) independently. Presence has no mutation path other
// than addConn/removeConn, which keeps it consistent with the live
// connection set.
type registry struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	rooms    map[RoomKey]*room
	presence map[string]int // identity -> live connection count
}

func newRegistry() *registry {
	return &registry{
		conns:    make(map[string]*Conn),
		rooms:    make(map[RoomKey]*room),
		presence: make(map[string]int),
	}
}

func (g *registry) addConn(c *Conn) {
	g.mu.Lock()
	g.conns[c.ID] = c
	g.presence[c.Identity]++
	g.mu.Unlock()
}

// removeConn deregisters the connection. Returns the connection (nil if the
// id was unknown — disconnect is idempotent) and whether the identity has no
// remaining live connections.
func (g *registry) removeConn(connID string) (c *Conn, identityOffline bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.conns[connID]
	if !ok {
		return nil, false
	}
	delete(g.conns, connID)

	g.presence[c.Identity]--
	if g.presence[c.Identity] <= 0 {
		delete(g.presence, c.Identity)
		identityOffline = true
	}
	return c, identityOffline
}

func (g *registry) conn(connID string) *Conn {
	g.mu.RLock()
	c := g.conns[connID]
	g.mu.RUnlock()
	return c
}

func (g *registry) connCount() int {
	g.mu.RLock()
	n := len(g.conns)
	g.mu.RUnlock()
	return n
}

// online reports whether the identity has at least one live connection.
func (g *registry) online(identity string) bool {
	g.mu.RLock()
	n := g.presence[identity]
	g.mu.RUnlock()
	return n > 0
}

// room returns the room for key, creating its registry entry if needed.
// Rooms exist implicitly from the first authorized join or publish.
func (g *registry) room(key RoomKey) *room {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[key]
	if !ok {
		r = newRoom(key)
		g.rooms[key] = r
	}
	return r
}

// peek returns the room for key without creating it.
func (g *registry) peek(key RoomKey) *room {
	g.mu.RLock()
	r := g.rooms[key]
	g.mu.RUnlock()
	return r
}

// reap drops the room's registry entry if it has no subscribers left.
func (g *registry) reap(key RoomKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[key]; ok && r.size() == 0 {
		delete(g.rooms, key)
	}
}

func (g *registry) roomCount() int {
	g.mu.RLock()
	n := len(g.rooms)
	g.mu.RUnlock()
	return n
}

// allConns returns a snapshot of all live connections.
func (g *registry) allConns() []*Conn {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()
	return conns
}
