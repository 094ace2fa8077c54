package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserRepository persists users. Lookups return (nil, nil) when nothing matches.
type UserRepository interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserBySubject(ctx context.Context, subject string) (*User, error)
	// CreateUser fails with ErrDuplicateEmail or ErrDuplicateSubject on a uniqueness violation.
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, update UserUpdate) (*User, error)
}

// SessionRepository persists sessions keyed by the SHA-256 of their bearer token.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session, tokenHash string) error
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// Repository defines the interface for user and session persistence.
type Repository interface {
	UserRepository
	SessionRepository
}
