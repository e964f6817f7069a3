package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore implements `room_memberships`: who belongs to which room,
// and whether that membership is currently active. This is the
// durable record the KV Adapter's online-set and room-member caches are
// rebuilt from on a cold start or cache miss.
type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

// Upsert records a join: inserts a fresh membership row, or reactivates and
// re-stamps joined_at on an existing one.
func (s *MembershipStore) Upsert(ctx context.Context, userID, roomID uuid.UUID) error {
	const sql = `
		INSERT INTO room_memberships (user_id, room_id, joined_at, is_active)
		VALUES ($1, $2, now(), true)
		ON CONFLICT (user_id, room_id)
		DO UPDATE SET joined_at = now(), is_active = true
	`
	if _, err := s.pool.Exec(ctx, sql, userID, roomID); err != nil {
		return fmt.Errorf("postgres: upsert membership: %w", err)
	}
	return nil
}

// Deactivate records a leave without deleting history.
func (s *MembershipStore) Deactivate(ctx context.Context, userID, roomID uuid.UUID) error {
	const sql = `
		UPDATE room_memberships SET is_active = false
		WHERE user_id = $1 AND room_id = $2
	`
	if _, err := s.pool.Exec(ctx, sql, userID, roomID); err != nil {
		return fmt.Errorf("postgres: deactivate membership: %w", err)
	}
	return nil
}

func (s *MembershipStore) IsActive(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	const sql = `
		SELECT is_active FROM room_memberships WHERE user_id = $1 AND room_id = $2
	`
	var active bool
	err := s.pool.QueryRow(ctx, sql, userID, roomID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: check membership: %w", err)
	}
	return active, nil
}

// ActiveRoomIDs returns every room the user is currently an active member
// of — the durable fallback for get_my_rooms and for rebuilding presence
// ActiveRooms on cache miss.
func (s *MembershipStore) ActiveRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	const sql = `
		SELECT room_id FROM room_memberships WHERE user_id = $1 AND is_active = true
	`
	rows, err := s.pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: active room ids: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan room id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ActiveUserIDs returns every user currently an active member of a room —
// the durable fallback for the room's online-set / presence snapshot.
func (s *MembershipStore) ActiveUserIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	const sql = `
		SELECT user_id FROM room_memberships WHERE room_id = $1 AND is_active = true
	`
	rows, err := s.pool.Query(ctx, sql, roomID)
	if err != nil {
		return nil, fmt.Errorf("postgres: active user ids: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
