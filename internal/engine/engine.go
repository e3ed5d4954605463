// Package engine implements the real-time group communication core of the
// Cartly shopping platform: it tracks live client connections, organizes
// them into rooms (group chats, item threads, order-support chats), enforces
// per-room authorization, and fans events out with per-room total order —
// falling back to push notification for recipients with no live connection.
//
// The engine owns only transient state. Durable messages, membership data,
// identity, and push delivery belong to external collaborators consumed
// through the interfaces in collab.go.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cartly/chat-engine/internal/metrics"
)

// SystemAuthor is the author id of synthetic system messages (order-status
// updates and similar injections).
const SystemAuthor = "system"

// Config holds engine tuning parameters.
type Config struct {
	// SnapshotLimit is the number of recent messages returned in a room
	// snapshot on join.
	SnapshotLimit int
	// SendQueueSize is the per-connection outbound event buffer. A
	// connection that stays full for a whole publish is evicted.
	SendQueueSize int
	// SupportOverride enables the logged, opt-in access override for
	// support agents when assignment lookups fail. See Gate.
	SupportOverride bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotLimit: 50,
		SendQueueSize: 64,
	}
}

// Deps are the external collaborators an engine instance is built from.
// Push, Inbox, and Receipts are optional: a nil Push disables offline
// fallback, a nil Inbox disables the mention inbox feed, and a nil Receipts
// falls back to the in-memory store.
type Deps struct {
	Verifier Verifier
	Messages MessageStore
	Members  MembershipStore
	Push     PushSink
	Inbox    MentionSink
	Receipts ReceiptStore
}

// Engine is one independent instance of the communication core. All mutable
// state is scoped to the instance; multiple engines can run side by side.
type Engine struct {
	cfg      Config
	verifier Verifier
	messages MessageStore
	members  MembershipStore
	receipts ReceiptStore
	inbox    MentionSink

	gate     *Gate
	resolver *MentionResolver
	fallback *fallbackDispatcher

	reg     *registry
	history *historyCache
	typing  *typingState
}

// New assembles an engine from config and collaborators.
func New(cfg Config, deps Deps) *Engine {
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = DefaultConfig().SnapshotLimit
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultConfig().SendQueueSize
	}
	receipts := deps.Receipts
	if receipts == nil {
		receipts = NewMemoryReceipts()
	}

	e := &Engine{
		cfg:      cfg,
		verifier: deps.Verifier,
		messages: deps.Messages,
		members:  deps.Members,
		receipts: receipts,
		inbox:    deps.Inbox,
		reg:      newRegistry(),
		history:  newHistoryCache(),
		typing:   newTypingState(),
	}
	e.gate = NewGate(deps.Members)
	e.gate.SupportOverride = cfg.SupportOverride
	e.resolver = NewMentionResolver(deps.Members)
	e.fallback = &fallbackDispatcher{
		members: deps.Members,
		sink:    deps.Push,
		online:  e.IsOnline,
	}
	return e
}

// Connect validates the credential token and registers a new connection.
// The connection is automatically subscribed to its identity's personal
// channel. A missing or invalid token yields an auth_failed error and no
// connection — there are no anonymous connections.
func (e *Engine) Connect(ctx context.Context, token string) (*Conn, error) {
	if token == "" {
		return nil, engineError(CodeAuthFailed, "missing credential token")
	}
	identity, role, err := e.verifier.Verify(ctx, token)
	if err != nil {
		return nil, engineError(CodeAuthFailed, "token rejected: %v", err)
	}

	c := newConn(uuid.New().String(), identity, role, e.cfg.SendQueueSize)
	e.reg.addConn(c)

	personal := PersonalRoom(identity)
	e.reg.room(personal).add(c)
	c.addRoom(personal)

	metrics.ConnectionsTotal.Set(float64(e.reg.connCount()))
	metrics.RoomsTotal.Set(float64(e.reg.roomCount()))
	log.Printf("engine: connected conn=%s identity=%s role=%s (total=%d)",
		c.ID, identity, role, e.reg.connCount())
	return c, nil
}

// Disconnect tears down a connection: it is removed from every room it was
// subscribed to, presence is updated, and user_left is announced to rooms
// where the identity has no remaining connection. Disconnect is idempotent
// and cancels delivery of any in-flight events to the connection.
func (e *Engine) Disconnect(connID string) {
	c, identityOffline := e.reg.removeConn(connID)
	if c == nil {
		return
	}
	c.close()

	for _, key := range c.Rooms() {
		rm := e.reg.peek(key)
		if rm == nil {
			continue
		}
		_, identityGone, empty := rm.remove(connID)
		c.removeRoom(key)
		if identityGone && key.Kind != RoomPersonal {
			e.publish(rm, Event{
				Kind:     EventPresence,
				Room:     key,
				Identity: c.Identity,
				Action:   ActionLeft,
			})
		}
		if empty {
			e.reg.reap(key)
			e.history.drop(key)
		}
	}

	if identityOffline {
		e.typing.clearIdentity(c.Identity)
	}

	metrics.ConnectionsTotal.Set(float64(e.reg.connCount()))
	metrics.RoomsTotal.Set(float64(e.reg.roomCount()))
	log.Printf("engine: disconnected conn=%s identity=%s (total=%d)",
		connID, c.Identity, e.reg.connCount())
}

// Join subscribes the connection to a room after re-validating authorization
// (membership is never cached across joins). On success it returns a
// snapshot with a recent history window and announces user_joined to the
// room's other subscribers. Re-joining an already subscribed room is
// idempotent: no duplicate subscription and no repeated announcement.
func (e *Engine) Join(ctx context.Context, connID string, key RoomKey) (*Snapshot, error) {
	c := e.reg.conn(connID)
	if c == nil {
		return nil, engineError(CodeNotFound, "unknown connection %s", connID)
	}

	if err := e.gate.Authorize(ctx, c.Identity, c.Role, key, ActionJoin); err != nil {
		return nil, err
	}

	rm := e.reg.room(key)
	added, identityFirst := rm.add(c)
	if added {
		c.addRoom(key)
	}

	recent, err := e.messages.History(ctx, key, e.cfg.SnapshotLimit)
	if err != nil {
		// Serve the in-memory window rather than failing the join.
		log.Printf("engine: history fetch failed room=%s: %v (serving cache)", key, err)
		recent = e.history.recent(key)
	}

	if added && identityFirst {
		e.publish(rm, Event{
			Kind:     EventPresence,
			Room:     key,
			Origin:   c.ID,
			Identity: c.Identity,
			Action:   ActionJoined,
		})
	}

	metrics.RoomsTotal.Set(float64(e.reg.roomCount()))
	return &Snapshot{Room: key, Recent: recent, Rejoin: !added}, nil
}

// Leave unsubscribes the connection from a room. Leaving a room the
// connection is not subscribed to is a no-op.
func (e *Engine) Leave(connID string, key RoomKey) {
	c := e.reg.conn(connID)
	if c == nil {
		return
	}
	rm := e.reg.peek(key)
	if rm == nil {
		return
	}

	removed, identityGone, empty := rm.remove(connID)
	if !removed {
		return
	}
	c.removeRoom(key)

	if identityGone && key.Kind != RoomPersonal {
		e.publish(rm, Event{
			Kind:     EventPresence,
			Room:     key,
			Identity: c.Identity,
			Action:   ActionLeft,
		})
	}
	if empty {
		e.reg.reap(key)
		e.history.drop(key)
	}
	metrics.RoomsTotal.Set(float64(e.reg.roomCount()))
}

// SendMessage validates and publishes a message to a room the connection is
// subscribed to. Send access is re-checked against the gate on every call,
// so a membership revoked mid-session takes effect without waiting for a
// rejoin. The envelope is persisted to the message store (best
// effort: a store failure is reported to the sender as an error event but
// never blocks the broadcast), broadcast to all other subscribers, checked
// for mentions, and dispatched as a push notification to offline members.
func (e *Engine) SendMessage(ctx context.Context, connID string, key RoomKey, body, attachment string) (*Envelope, error) {
	c := e.reg.conn(connID)
	if c == nil {
		return nil, engineError(CodeNotFound, "unknown connection %s", connID)
	}
	rm := e.reg.peek(key)
	if rm == nil || !rm.contains(connID) {
		return nil, engineError(CodeNotInRoom, "connection is not subscribed to %s", key)
	}
	if err := e.gate.Authorize(ctx, c.Identity, c.Role, key, ActionSend); err != nil {
		return nil, err
	}
	if err := ValidateBody(body); err != nil {
		return nil, err
	}

	env := &Envelope{
		ID:         uuid.New().String(),
		Room:       key,
		RoomString: key.String(),
		Author:     c.Identity,
		Body:       body,
		Attachment: attachment,
		CreatedAt:  time.Now().UTC(),
	}
	if key.Kind == RoomItem {
		env.ItemID = key.Target
	}

	if err := e.messages.Persist(ctx, env); err != nil {
		log.Printf("engine: persist failed message=%s room=%s: %v", env.ID, key, err)
		e.sendError(c, CodeUpstreamError, "message delivered but not stored")
	}
	e.history.add(key, *env)

	e.publish(rm, Event{
		Kind:     EventMessage,
		Room:     key,
		Origin:   c.ID,
		Envelope: env,
	})

	e.emitMentions(ctx, key, env)
	go e.fallback.dispatchIfOffline(env)

	return env, nil
}

// InjectSystem publishes a synthetic system message into a room, e.g. an
// order-status update surfaced in a support chat. System messages are
// persisted and cached like ordinary messages but trigger neither mentions
// nor push fallback.
func (e *Engine) InjectSystem(ctx context.Context, key RoomKey, body string) *Envelope {
	env := &Envelope{
		ID:         uuid.New().String(),
		Room:       key,
		RoomString: key.String(),
		Author:     SystemAuthor,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.messages.Persist(ctx, env); err != nil {
		log.Printf("engine: persist failed system message=%s room=%s: %v", env.ID, key, err)
	}
	e.history.add(key, *env)

	if rm := e.reg.peek(key); rm != nil {
		e.publish(rm, Event{
			Kind:     EventSystem,
			Room:     key,
			Envelope: env,
		})
	}
	return env
}

// SetTyping overwrites the typing flag for (room, identity) and relays the
// indicator to the room's other subscribers. There is no server-side
// expiry; clearing is client-driven (stop signal or disconnect).
func (e *Engine) SetTyping(connID string, key RoomKey, active bool) error {
	c := e.reg.conn(connID)
	if c == nil {
		return engineError(CodeNotFound, "unknown connection %s", connID)
	}
	rm := e.reg.peek(key)
	if rm == nil || !rm.contains(connID) {
		return engineError(CodeNotInRoom, "connection is not subscribed to %s", key)
	}

	e.typing.set(key, c.Identity, active)

	action := ActionStop
	if active {
		action = ActionStart
	}
	e.publish(rm, Event{
		Kind:     EventTyping,
		Room:     key,
		Origin:   c.ID,
		Identity: c.Identity,
		Action:   action,
	})
	return nil
}

// MarkRead records read receipts for the given message ids. Receipts are
// monotonic — once set they are never cleared — and are never set for a
// message's own author (a no-op, not an error). Marking requires read access
// to the message's room, checked per message like any other room operation.
// Each newly set receipt is broadcast to the message's room.
func (e *Engine) MarkRead(ctx context.Context, connID string, messageIDs []string) error {
	c := e.reg.conn(connID)
	if c == nil {
		return engineError(CodeNotFound, "unknown connection %s", connID)
	}

	for _, id := range messageIDs {
		env, err := e.messages.Envelope(ctx, id)
		if err != nil {
			log.Printf("engine: mark_read lookup failed message=%s identity=%s: %v", id, c.Identity, err)
			e.sendError(c, CodeNotFound, "unknown message "+id)
			continue
		}
		if env.Author == c.Identity {
			continue
		}
		if err := e.gate.Authorize(ctx, c.Identity, c.Role, env.Room, ActionRead); err != nil {
			ee := AsError(err)
			e.sendError(c, ee.Code, ee.Message)
			continue
		}

		readAt, set, err := e.receipts.Mark(ctx, id, c.Identity, time.Now().UTC())
		if err != nil {
			log.Printf("engine: receipt store failed message=%s identity=%s: %v", id, c.Identity, err)
			e.sendError(c, CodeUpstreamError, "receipt not stored for "+id)
			continue
		}
		if !set {
			continue
		}

		if rm := e.reg.peek(env.Room); rm != nil {
			e.publish(rm, Event{
				Kind:      EventReadReceipt,
				Room:      env.Room,
				Origin:    c.ID,
				Identity:  c.Identity,
				MessageID: id,
				ReadAt:    readAt,
			})
		}
	}
	return nil
}

// IsOnline reports whether the identity has at least one live connection at
// the time of the call.
func (e *Engine) IsOnline(identity string) bool {
	return e.reg.online(identity)
}

// ConnCount returns the number of live connections.
func (e *Engine) ConnCount() int {
	return e.reg.connCount()
}

// Shutdown disconnects every live connection.
func (e *Engine) Shutdown() {
	for _, c := range e.reg.allConns() {
		e.Disconnect(c.ID)
	}
}

// SendErrorEvent delivers an error event to a single connection, used by the
// transport layer for request-level failures that keep the connection open.
func (e *Engine) SendErrorEvent(connID, code, message string) {
	if c := e.reg.conn(connID); c != nil {
		e.sendError(c, code, message)
	}
}

// publish fans an event out to the room. Failed subscribers (closed or
// persistently full queues) are unregistered and disconnected without
// affecting delivery to the rest — an error in one connection's handling
// never propagates to another.
func (e *Engine) publish(rm *room, ev Event) {
	start := time.Now()
	failed := rm.broadcast(ev)
	metrics.PublishLatency.Observe(time.Since(start).Seconds())
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	for _, fc := range failed {
		metrics.FanoutFailures.Inc()
		log.Printf("engine: evicting unresponsive conn=%s identity=%s room=%s", fc.ID, fc.Identity, rm.key)
		go e.Disconnect(fc.ID)
	}
}

// emitMentions resolves @mentions in the envelope body and delivers a
// mention event to each mentioned member's personal channel, plus a mention
// inbox record regardless of online state. Mentions of non-members were
// already dropped by the resolver.
func (e *Engine) emitMentions(ctx context.Context, key RoomKey, env *Envelope) {
	mentioned, err := e.resolver.Resolve(ctx, key, env.Body)
	if err != nil {
		log.Printf("engine: mention resolution failed room=%s message=%s: %v", key, env.ID, err)
		return
	}

	for _, identity := range mentioned {
		metrics.MentionsResolved.Inc()
		if rm := e.reg.peek(PersonalRoom(identity)); rm != nil {
			e.publish(rm, Event{
				Kind:      EventMention,
				Room:      key,
				Identity:  identity,
				MessageID: env.ID,
			})
		}
		if e.inbox != nil {
			if err := e.inbox.Record(ctx, identity, env.ID, key); err != nil {
				log.Printf("engine: mention inbox record failed identity=%s message=%s: %v", identity, env.ID, err)
			}
		}
	}
}

func (e *Engine) sendError(c *Conn, code, message string) {
	c.deliver(Event{
		Kind: EventError,
		Err:  &Error{Code: code, Message: message},
	})
}
