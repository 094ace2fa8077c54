package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository stores users and sessions in process memory with the same uniqueness rules as Postgres.
type InMemoryRepository struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]User
	byEmail   map[string]uuid.UUID
	bySubject map[string]uuid.UUID
	sessions  map[string]Session
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:     make(map[uuid.UUID]User),
		byEmail:   make(map[string]uuid.UUID),
		bySubject: make(map[string]uuid.UUID),
		sessions:  make(map[string]Session),
	}
}

// FindUserByID returns the user or nil.
func (r *InMemoryRepository) FindUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// FindUserByEmail returns the user owning email, ignoring case.
func (r *InMemoryRepository) FindUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[emailKey(email)]
	if !ok {
		return nil, nil
	}
	user := r.users[id]
	return &user, nil
}

// FindUserBySubject returns the user linked to the external subject id.
func (r *InMemoryRepository) FindUserBySubject(_ context.Context, subject string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySubject[subject]
	if !ok {
		return nil, nil
	}
	user := r.users[id]
	return &user, nil
}

// CreateUser stores a user, rejecting a taken email or subject.
func (r *InMemoryRepository) CreateUser(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user.ExternalSubjectID != "" {
		if _, taken := r.bySubject[user.ExternalSubjectID]; taken {
			return User{}, ErrDuplicateSubject
		}
	}
	if _, taken := r.byEmail[emailKey(user.Email)]; taken {
		return User{}, ErrDuplicateEmail
	}

	r.users[user.ID] = user
	r.byEmail[emailKey(user.Email)] = user.ID
	if user.ExternalSubjectID != "" {
		r.bySubject[user.ExternalSubjectID] = user.ID
	}
	return user, nil
}

// UpdateUser applies the non-nil fields of update.
func (r *InMemoryRepository) UpdateUser(_ context.Context, id uuid.UUID, update UserUpdate) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}

	if update.Email != nil && emailKey(*update.Email) != emailKey(user.Email) {
		if _, taken := r.byEmail[emailKey(*update.Email)]; taken {
			return nil, ErrDuplicateEmail
		}
		delete(r.byEmail, emailKey(user.Email))
		r.byEmail[emailKey(*update.Email)] = id
		user.Email = *update.Email
	}
	if update.Name != nil {
		user.Name = *update.Name
	}
	if update.AvatarURL != nil {
		user.AvatarURL = *update.AvatarURL
	}
	if update.LastLoginAt != nil {
		user.LastLoginAt = *update.LastLoginAt
	}
	user.UpdatedAt = time.Now()

	r.users[id] = user
	return &user, nil
}

// CreateSession stores a session under its token hash.
func (r *InMemoryRepository) CreateSession(_ context.Context, session Session, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[tokenHash] = session
	return nil
}

// FindSessionByTokenHash returns the stored session regardless of expiry.
func (r *InMemoryRepository) FindSessionByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[tokenHash]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// DeleteSession removes the session with id, if present.
func (r *InMemoryRepository) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, session := range r.sessions {
		if session.ID == id {
			delete(r.sessions, hash)
		}
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired at or before the cutoff.
func (r *InMemoryRepository) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for hash, session := range r.sessions {
		if session.Expired(before) {
			delete(r.sessions, hash)
			removed++
		}
	}
	return removed, nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
