// Package ws handles WebSocket connection management: authenticating and
// upgrading HTTP connections, maintaining active client connections,
// bridging engine events back to clients, and dispatching incoming messages
// to the appropriate handlers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/cartly/chat-engine/internal/engine"
	"github.com/cartly/chat-engine/internal/metrics"
	"github.com/cartly/chat-engine/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// heartbeat returns the configured heartbeat parameters, falling back to the
// defaults when either value is unset.
func (c ServerConfig) heartbeat() HeartbeatConfig {
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
		return DefaultHeartbeatConfig()
	}
	return c.Heartbeat
}

// Server is the WebSocket front end of the chat engine, built on gobwas/ws
// and a readiness poller. It authenticates upgrades against the engine,
// registers connections for I/O readiness notifications, dispatches ready
// connections to a bounded worker pool for frame reading, and pumps engine
// events back out to each client.
type Server struct {
	config     ServerConfig
	poller     *Poller
	conns      *ConnectionManager
	engine     *engine.Engine
	workerPool chan struct{}                        // semaphore limiting concurrent read workers
	onMessage  func(conn *Connection, data []byte)  // message handler callback
	// AllowConnect, when set, is consulted with the remote IP before an
	// upgrade is attempted. Returning false rejects the connection.
	AllowConnect func(ip string) bool
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server bound to the given engine. The onMessage
// function is called from a worker goroutine whenever a complete WebSocket
// text frame is received from a client.
func NewServer(config ServerConfig, eng *engine.Engine, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		engine:     eng,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// Start initializes the poller, configures the HTTP server, and begins
// accepting WebSocket connections. It starts the poller event loop in a
// background goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.poller, err = NewPoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.startEventLoop()

	StartHeartbeat(s, s.config.heartbeat())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the request's credential token against the
// engine, then upgrades the HTTP connection to WebSocket. Missing or
// invalid tokens are rejected before the upgrade — there are no anonymous
// connections. On success it registers the connection, sends the connected
// acknowledgement, and starts the engine event pump.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.AllowConnect != nil {
		ip, _, _ := net.SplitHostPort(r.RemoteAddr)
		if !s.AllowConnect(ip) {
			http.Error(w, "connection rate limited", http.StatusTooManyRequests)
			return
		}
	}

	token := r.URL.Query().Get("token")
	engineConn, err := s.engine.Connect(r.Context(), token)
	if err != nil {
		log.Printf("ws: authentication rejected from %s: %v", r.RemoteAddr, err)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed for identity %s: %v", engineConn.Identity, err)
		s.engine.Disconnect(engineConn.ID)
		return
	}

	c := &Connection{
		ID:        engineConn.ID,
		Identity:  engineConn.Identity,
		Engine:    engineConn,
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: time.Now(),
	}
	c.Touch()

	s.conns.Add(c)
	if err := s.poller.Add(conn); err != nil {
		log.Printf("ws: poller add failed for conn %s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		s.engine.Disconnect(c.ID)
		return
	}

	ack, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		IdentityID: engineConn.Identity,
		Role:       string(engineConn.Role),
	})
	if err != nil {
		log.Printf("ws: failed to build connected ack for conn %s: %v", c.ID, err)
	} else if err := c.WriteMessage(ack); err != nil {
		log.Printf("ws: failed to send connected ack for conn %s: %v", c.ID, err)
	}

	go s.pumpEvents(c)

	log.Printf("ws: new connection conn=%s identity=%s fd=%d (total=%d)",
		c.ID, c.Identity, c.Fd, s.conns.Count())
}

// pumpEvents drains the engine-side event channel for a connection and
// writes each event to the client. It exits when the engine closes the
// connection or a write fails (which triggers removal and, through it, the
// engine-side disconnect cascade).
func (s *Server) pumpEvents(c *Connection) {
	for {
		select {
		case <-c.Engine.Done():
			s.RemoveConnection(c)
			return
		case ev := <-c.Engine.Events():
			data, ok, err := EncodeEvent(ev)
			if err != nil {
				log.Printf("ws: encode event kind=%s for conn %s: %v", ev.Kind, c.ID, err)
				continue
			}
			if !ok {
				continue
			}
			if err := s.SendMessage(c.ID, data); err != nil {
				log.Printf("ws: event write failed conn=%s: %v", c.ID, err)
				s.RemoveConnection(c)
				return
			}
		}
	}
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the poller wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: poller wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails the
// connection is removed from the poller and the connection manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered polling.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale poller
		// dispatch). Don't kill the connection — the heartbeat handles
		// dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: connection is alive, nothing else to do.
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection removes a connection from both the poller and the
// connection manager, closes the underlying network connection, and
// triggers the engine-side disconnect cascade (room cleanup, presence,
// user_left events). It is exported so the heartbeat monitor can evict dead
// connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poller.Remove(c.Conn)

	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}

	s.engine.Disconnect(c.ID)

	log.Printf("ws: connection closed conn=%s identity=%s (total=%d)",
		c.ID, c.Identity, s.conns.Count())
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID. It is goroutine-safe thanks to the per-connection write mutex.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	// Clear write deadline so it doesn't affect future writes (e.g.,
	// heartbeat pings).
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// Connections returns the ConnectionManager for external access to
// connection state (e.g., by the heartbeat monitor).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, disconnects all active
// connections, and cleans up the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")

	close(s.done)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	for _, c := range s.conns.All() {
		_ = s.poller.Remove(c.Conn)
		s.engine.Disconnect(c.ID)
		c.Close()
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR), which
// is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
