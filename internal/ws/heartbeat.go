package ws

import (
	"log"
	"time"

	"github.com/cartly/chat-engine/internal/protocol"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to send keepalives (default: 30s)
	Timeout  time.Duration // max time to wait for activity after a keepalive (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// keepalives to all connections and disconnects those that have gone stale
// (no activity within Interval + Timeout). It returns immediately; the
// goroutine exits when the server's done channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config)
			}
		}
	}()
}

// checkConnections iterates over all active connections. Connections that
// have shown no activity within Interval + Timeout are considered dead and
// are removed, which cascades into the engine-side disconnect. All other
// connections receive both a WebSocket-level ping frame (answered
// automatically by browsers) and an application-level heartbeat event.
func checkConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	beat, err := protocol.NewServerMessage(protocol.TypeHeartbeat, protocol.HeartbeatMsg{})
	if err != nil {
		log.Printf("ws: failed to build heartbeat message: %v", err)
		return
	}

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			log.Printf("ws: heartbeat timeout conn=%s identity=%s last_activity=%s ago",
				c.ID, c.Identity, idle.Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		// The write mutex on the connection serializes these with any
		// concurrent application writes.
		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed conn=%s: %v", c.ID, err)
			server.RemoveConnection(c)
			continue
		}
		if err := c.WriteMessage(beat); err != nil {
			log.Printf("ws: heartbeat event failed conn=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}
}
