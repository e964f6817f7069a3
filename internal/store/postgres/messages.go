package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/webitel/chat-core/internal/domain/model"
)

// MessageStore implements the `messages` table: the durable, unbounded
// history behind the KV Adapter's bounded per-room cache.
// Every read here is paginated by (created_at, id) — a composite cursor
// that stays correct even when two messages share a millisecond.
type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Create(ctx context.Context, m *model.Message) (*model.Message, error) {
	const sql = `
		INSERT INTO messages (room_id, user_id, author, content, message_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, room_id, user_id, author, content, message_type, created_at
	`
	var authorID any
	if m.HasAuthor() {
		authorID = m.AuthorID
	}
	row := s.pool.QueryRow(ctx, sql, m.RoomID, authorID, m.Author, m.Content, m.Kind)
	return scanMessage(row)
}

// Newest returns up to limit messages for a room in ascending (oldest
// first) order, ready to seed a fresh cache entry or answer the implicit
// page on join_room.
func (s *MessageStore) Newest(ctx context.Context, roomID uuid.UUID, limit int) ([]*model.Message, error) {
	const sql = `
		SELECT id, room_id, user_id, author, content, message_type, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, sql, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: newest messages: %w", err)
	}
	defer rows.Close()
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// OlderThan pages backwards from a cursor message, exclusive, newest-first
// on the wire but returned in ascending order like Newest. It fetches
// limit+1 rows to let the caller derive HasMore without a second query.
func (s *MessageStore) OlderThan(ctx context.Context, roomID uuid.UUID, beforeID uuid.UUID, limit int) ([]*model.Message, bool, error) {
	const sql = `
		SELECT id, room_id, user_id, author, content, message_type, created_at
		FROM messages
		WHERE room_id = $1
		  AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, sql, roomID, beforeID, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: older messages: %w", err)
	}
	defer rows.Close()
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	reverse(msgs)
	return msgs, hasMore, nil
}

func (s *MessageStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	const sql = `
		SELECT id, room_id, user_id, author, content, message_type, created_at
		FROM messages WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, sql, id)
	return scanMessage(row)
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	var authorID *uuid.UUID
	err := row.Scan(&m.ID, &m.RoomID, &authorID, &m.Author, &m.Content, &m.Kind, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan message: %w", err)
	}
	if authorID != nil {
		m.AuthorID = *authorID
	}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]*model.Message, error) {
	var out []*model.Message
	for rows.Next() {
		m := &model.Message{}
		var authorID *uuid.UUID
		if err := rows.Scan(&m.ID, &m.RoomID, &authorID, &m.Author, &m.Content, &m.Kind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message row: %w", err)
		}
		if authorID != nil {
			m.AuthorID = *authorID
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}
	return out, nil
}

func reverse(msgs []*model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
