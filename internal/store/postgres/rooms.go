package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/webitel/chat-core/internal/domain/model"
	"github.com/webitel/chat-core/internal/wire"
)

// RoomStore implements room CRUD over the `rooms` table.
type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

func (s *RoomStore) Create(ctx context.Context, r *model.Room) (*model.Room, error) {
	const sql = `
		INSERT INTO rooms (name, description, is_private, credential_hash, creator_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, description, is_private, credential_hash, creator_id, created_at
	`
	row := s.pool.QueryRow(ctx, sql, r.Name, r.Description, r.Private, r.CredentialHash, r.CreatorID)
	room, err := scanRoom(row)
	if err != nil {
		var pgErr *pgconn.PgError
		// unique_violation on rooms.name
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("postgres: create room: %w", wire.ErrDuplicateRoomName)
		}
		return nil, err
	}
	return room, nil
}

func (s *RoomStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Room, error) {
	const sql = `
		SELECT id, name, description, is_private, credential_hash, creator_id, created_at
		FROM rooms WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, sql, id)
	return scanRoom(row)
}

func (s *RoomStore) GetByName(ctx context.Context, name string) (*model.Room, error) {
	const sql = `
		SELECT id, name, description, is_private, credential_hash, creator_id, created_at
		FROM rooms WHERE name = $1
	`
	row := s.pool.QueryRow(ctx, sql, name)
	return scanRoom(row)
}

// ListPublic returns all non-private rooms, newest first.
func (s *RoomStore) ListPublic(ctx context.Context) ([]*model.Room, error) {
	const sql = `
		SELECT id, name, description, is_private, credential_hash, creator_id, created_at
		FROM rooms WHERE is_private = false
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("postgres: list public rooms: %w", err)
	}
	defer rows.Close()
	return collectRooms(rows)
}

// ListForUser returns every room the user has an active membership in.
func (s *RoomStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.Room, error) {
	const sql = `
		SELECT r.id, r.name, r.description, r.is_private, r.credential_hash, r.creator_id, r.created_at
		FROM rooms r
		JOIN room_memberships m ON m.room_id = r.id
		WHERE m.user_id = $1 AND m.is_active = true
		ORDER BY m.joined_at DESC
	`
	rows, err := s.pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rooms for user: %w", err)
	}
	defer rows.Close()
	return collectRooms(rows)
}

func scanRoom(row pgx.Row) (*model.Room, error) {
	r := &model.Room{}
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Private, &r.CredentialHash, &r.CreatorID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan room: %w", err)
	}
	return r, nil
}

func collectRooms(rows pgx.Rows) ([]*model.Room, error) {
	var out []*model.Room
	for rows.Next() {
		r := &model.Room{}
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Private, &r.CredentialHash, &r.CreatorID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan room row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate rooms: %w", err)
	}
	return out, nil
}
