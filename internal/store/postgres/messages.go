package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cartly/chat-engine/internal/engine"
)

// MessageStore persists chat messages in PostgreSQL. It implements
// engine.MessageStore.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a message store backed by the given database handle.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Persist inserts a message envelope. Inserting the same message id twice is
// a no-op, so retried publishes stay idempotent.
func (s *MessageStore) Persist(ctx context.Context, env *engine.Envelope) error {
	const query = `
		INSERT INTO messages (id, room_key, item_id, author, body, attachment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		env.ID,
		env.Room.String(),
		nullable(env.ItemID),
		env.Author,
		env.Body,
		nullable(env.Attachment),
		env.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert message: %w", err)
	}
	return nil
}

// History returns the most recent messages for a room in chronological
// order, capped at limit.
func (s *MessageStore) History(ctx context.Context, room engine.RoomKey, limit int) ([]engine.Envelope, error) {
	const query = `
		SELECT id, room_key, item_id, author, body, attachment, created_at
		FROM (
			SELECT id, room_key, item_id, author, body, attachment, created_at
			FROM messages
			WHERE room_key = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, room.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w", err)
	}
	defer rows.Close()

	var out []engine.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan history: %w", err)
	}
	return out, nil
}

// Envelope resolves a single message by id. Returns sql.ErrNoRows wrapped
// when the message does not exist.
func (s *MessageStore) Envelope(ctx context.Context, messageID string) (*engine.Envelope, error) {
	const query = `
		SELECT id, room_key, item_id, author, body, attachment, created_at
		FROM messages
		WHERE id = $1`

	env, err := scanEnvelope(s.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		return nil, err
	}
	return env, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*engine.Envelope, error) {
	var env engine.Envelope
	var roomKey string
	var itemID, attachment sql.NullString

	err := row.Scan(&env.ID, &roomKey, &itemID, &env.Author, &env.Body, &attachment, &env.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan message: %w", err)
	}

	room, err := engine.ParseRoomKey(roomKey)
	if err != nil {
		return nil, fmt.Errorf("postgres: stored room key %q: %w", roomKey, err)
	}
	env.Room = room
	env.RoomString = roomKey
	env.ItemID = itemID.String
	env.Attachment = attachment.String
	return &env, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
