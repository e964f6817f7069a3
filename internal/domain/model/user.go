package model

import (
	"time"

	"github.com/google/uuid"
)

// User is an account owned by the DB adapter. Immutable after creation
// except for the credential hash.
type User struct {
	ID             uuid.UUID
	Username       string
	Email          string
	CredentialHash string
	CreatedAt      time.Time
}

// Public strips the credential hash for wire responses.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}

// PublicUser is the user shape safe to send to clients.
type PublicUser struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
