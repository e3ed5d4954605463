package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cartly/chat-engine/internal/engine"
	"github.com/cartly/chat-engine/internal/identity"
	"github.com/cartly/chat-engine/internal/messaging"
	"github.com/cartly/chat-engine/internal/protocol"
	"github.com/cartly/chat-engine/internal/ratelimit"
	"github.com/cartly/chat-engine/internal/receipt"
	"github.com/cartly/chat-engine/internal/store/postgres"
	"github.com/cartly/chat-engine/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.Heartbeat.Interval = d
		}
	}
	if v := os.Getenv("HEARTBEAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.Heartbeat.Timeout = d
		}
	}

	engineConfig := engine.DefaultConfig()
	if v := os.Getenv("SNAPSHOT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			engineConfig.SnapshotLimit = n
		}
	}
	if v := os.Getenv("SUPPORT_OVERRIDE"); v == "1" || v == "true" {
		engineConfig.SupportOverride = true
	}

	// --- Identity provider ---
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	verifier := identity.NewJWTVerifier(identity.Config{
		Secret:   []byte(jwtSecret),
		Issuer:   os.Getenv("JWT_ISSUER"),
		Audience: os.Getenv("JWT_AUDIENCE"),
	})

	// --- PostgreSQL ---
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/cartly_chat?sslmode=disable"
	}
	db, err := postgres.Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if err := postgres.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	messageStore := postgres.NewMessageStore(db)
	membershipStore := postgres.NewMembershipStore(db)

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
	}
	receiptStore := receipt.NewStoreWithClient(redisClient)
	limiter := ratelimit.NewLimiter(redisClient)

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	log.Printf("Cartly chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  snapshot_limit:  %d", engineConfig.SnapshotLimit)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	eng := engine.New(engineConfig, engine.Deps{
		Verifier: verifier,
		Messages: messageStore,
		Members:  membershipStore,
		Push:     natsClient,
		Inbox:    natsClient,
		Receipts: receiptStore,
	})

	dispatcher := ws.NewMessageDispatcher()

	// sendEngineError reports a request-level failure back to the acting
	// client without touching anyone else's connection.
	sendEngineError := func(conn *ws.Connection, err error) {
		ee := engine.AsError(err)
		eng.SendErrorEvent(conn.ID, ee.Code, ee.Message)
	}

	// -----------------------------------------------------------------------
	// join_room — subscribe to a room and receive a history snapshot
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinRoomMsg)
		if !ok {
			return
		}
		key, err := engine.ParseRoomKey(joinMsg.RoomKey)
		if err != nil {
			eng.SendErrorEvent(conn.ID, engine.CodeNotFound, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := eng.Join(ctx, conn.ID, key)
		if err != nil {
			sendEngineError(conn, err)
			return
		}

		recent := make([]protocol.WireMessage, 0, len(snap.Recent))
		for i := range snap.Recent {
			recent = append(recent, ws.WireEnvelope(&snap.Recent[i]))
		}
		resp, _ := protocol.NewServerMessage(protocol.TypeRoomSnapshot, protocol.RoomSnapshotMsg{
			RoomKey:        snap.Room.String(),
			RecentMessages: recent,
		})
		if err := conn.WriteMessage(resp); err != nil {
			log.Printf("join_room: snapshot write failed conn=%s: %v", conn.ID, err)
		}
	})

	// -----------------------------------------------------------------------
	// leave_room — unsubscribe from a room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveRoom, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveRoomMsg)
		if !ok {
			return
		}
		key, err := engine.ParseRoomKey(leaveMsg.RoomKey)
		if err != nil {
			eng.SendErrorEvent(conn.ID, engine.CodeNotFound, err.Error())
			return
		}
		eng.Leave(conn.ID, key)
	})

	// -----------------------------------------------------------------------
	// send_message — publish a message to a subscribed room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		allowed, _ := limiter.Allow(ctx, conn.Identity, ratelimit.RuleMessage)
		if !allowed {
			eng.SendErrorEvent(conn.ID, engine.CodeRateLimited, "message rate limit exceeded")
			return
		}

		key, err := engine.ParseRoomKey(sendMsg.RoomKey)
		if err != nil {
			eng.SendErrorEvent(conn.ID, engine.CodeNotFound, err.Error())
			return
		}
		if _, err := eng.SendMessage(ctx, conn.ID, key, sendMsg.Body, sendMsg.Attachment); err != nil {
			sendEngineError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// typing — relay a typing indicator to the room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.ClientTypingMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		allowed, _ := limiter.Allow(ctx, conn.Identity, ratelimit.RuleTyping)
		if !allowed {
			return // silently drop excess typing updates
		}

		key, err := engine.ParseRoomKey(typingMsg.RoomKey)
		if err != nil {
			return
		}
		if err := eng.SetTyping(conn.ID, key, typingMsg.Action == protocol.TypingStart); err != nil {
			sendEngineError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// mark_read — record read receipts
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMarkRead, func(conn *ws.Connection, msg interface{}) {
		readMsg, ok := msg.(protocol.MarkReadMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.MarkRead(ctx, conn.ID, readMsg.MessageIDs); err != nil {
			sendEngineError(conn, err)
		}
	})

	server := ws.NewServer(config, eng, dispatcher.Dispatch)

	// Per-IP connection throttle, consulted before the upgrade.
	server.AllowConnect = func(ip string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		return allowed
	}

	// Order status updates become system messages in the order's support chat.
	err = natsClient.SubscribeOrderStatus(func(ev messaging.OrderStatusEvent) {
		body := "Order " + ev.OrderID + " is now " + ev.Status
		if ev.Note != "" {
			body += ": " + ev.Note
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.InjectSystem(ctx, engine.RoomKey{Kind: engine.RoomSupport, Target: ev.OrderID}, body)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to order status feed: %v", err)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		eng.Shutdown()
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
