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

// ErrNoRows is returned when a lookup finds nothing; callers map it to
// wire.ErrNotFound.
var ErrNoRows = errors.New("postgres: no rows")

// UserStore implements user CRUD over the `users` table.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (s *UserStore) Create(ctx context.Context, username, email, credentialHash string) (*model.User, error) {
	const sql = `
		INSERT INTO users (username, email, credential_hash)
		VALUES ($1, $2, $3)
		RETURNING id, username, email, credential_hash, created_at
	`
	row := s.pool.QueryRow(ctx, sql, username, email, credentialHash)
	return scanUser(row)
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const sql = `
		SELECT id, username, email, credential_hash, created_at
		FROM users WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, sql, id)
	return scanUser(row)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const sql = `
		SELECT id, username, email, credential_hash, created_at
		FROM users WHERE username = $1
	`
	row := s.pool.QueryRow(ctx, sql, username)
	return scanUser(row)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const sql = `
		SELECT id, username, email, credential_hash, created_at
		FROM users WHERE email = $1
	`
	row := s.pool.QueryRow(ctx, sql, email)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.CredentialHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user: %w", err)
	}
	return u, nil
}
