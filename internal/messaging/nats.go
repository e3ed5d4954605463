// Package messaging provides a NATS client wrapper for the engine's
// external feeds: push notification fan-out to the mobile push service,
// mention inbox records, and the order status stream that produces system
// messages in support chats.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cartly/chat-engine/internal/engine"
)

// NATS subject patterns used across Cartly services.
const (
	SubjectPushNotify   = "push.notify"   // + .<identity>
	SubjectMentionInbox = "mention.inbox" // + .<identity>
	SubjectOrderStatus  = "orders.status"
)

// MentionRecord is the payload written to the mention inbox subject.
type MentionRecord struct {
	Identity  string `json:"identity"`
	MessageID string `json:"message_id"`
	RoomKey   string `json:"room_key"`
	At        int64  `json:"at"` // unix millis
}

// OrderStatusEvent is one event on the orders.status stream. The order
// service publishes these; the chat engine turns them into system messages
// in the order's support chat.
type OrderStatusEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Note    string `json:"note,omitempty"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
// It implements engine.PushSink and engine.MentionSink.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "cartly-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Notify publishes a push notification for an offline recipient on the
// push.notify.<identity> subject. The push service owns retries and
// device routing.
func (c *NATSClient) Notify(ctx context.Context, identity string, payload engine.PushPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("nats: marshal push payload: %w", err)
	}
	if err := c.Publish(SubjectPushNotify+"."+identity, data); err != nil {
		return fmt.Errorf("nats: publish push notify: %w", err)
	}
	return nil
}

// Record publishes a mention inbox record on the mention.inbox.<identity>
// subject. The inbox service persists it regardless of the recipient's
// online state.
func (c *NATSClient) Record(ctx context.Context, identity, messageID string, room engine.RoomKey) error {
	rec := MentionRecord{
		Identity:  identity,
		MessageID: messageID,
		RoomKey:   room.String(),
		At:        time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("nats: marshal mention record: %w", err)
	}
	if err := c.Publish(SubjectMentionInbox+"."+identity, data); err != nil {
		return fmt.Errorf("nats: publish mention record: %w", err)
	}
	return nil
}

// SubscribeOrderStatus subscribes to the orders.status stream. Malformed
// events are logged and dropped.
func (c *NATSClient) SubscribeOrderStatus(handler func(ev OrderStatusEvent)) error {
	return c.Subscribe(SubjectOrderStatus, func(msg *nats.Msg) {
		var ev OrderStatusEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] malformed order status event: %v", err)
			return
		}
		if ev.OrderID == "" || ev.Status == "" {
			log.Printf("[nats] order status event missing order_id or status")
			return
		}
		handler(ev)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
