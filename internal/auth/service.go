package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is the lifetime of a session when none is configured.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Service provides authentication business logic.
type Service struct {
	repo       Repository
	sessionTTL time.Duration
	allowList  AllowList
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithAllowList restricts sign-in to the allow list.
func WithAllowList(allowList AllowList) Option {
	return func(s *Service) {
		s.allowList = allowList
	}
}

// WithClock replaces the time source used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new auth Service.
func NewService(repo Repository, sessionTTL time.Duration, opts ...Option) *Service {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	s := &Service{
		repo:       repo,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionTTL reports how long new sessions live.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// SignIn finds the user for a verified identity, creating it on first sign-in and refreshing its profile otherwise.
func (s *Service) SignIn(ctx context.Context, identity *Identity) (*User, error) {
	if identity == nil || strings.TrimSpace(identity.Subject) == "" || strings.TrimSpace(identity.Email) == "" {
		return nil, fmt.Errorf("%w: identity lacks subject or email", ErrInvalidCredential)
	}
	if identity.Provider == ProviderGoogle && !identity.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if !s.allowList.IsEmailAllowed(identity.Email) {
		return nil, ErrEmailNotAllowed
	}

	existing, err := s.repo.FindUserBySubject(ctx, identity.Subject)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if existing != nil {
		return s.refreshProfile(ctx, existing, identity)
	}

	now := s.now()
	created, err := s.repo.CreateUser(ctx, User{
		ID:                uuid.New(),
		Email:             strings.TrimSpace(identity.Email),
		ExternalSubjectID: identity.Subject,
		Name:              identity.Name,
		AvatarURL:         identity.AvatarURL,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastLoginAt:       now,
	})
	if err == nil {
		return &created, nil
	}

	// A concurrent sign-in for the same subject won the insert. Either unique index may fire first.
	if errors.Is(err, ErrDuplicateSubject) || errors.Is(err, ErrDuplicateEmail) {
		winner, findErr := s.repo.FindUserBySubject(ctx, identity.Subject)
		if findErr != nil {
			return nil, fmt.Errorf("find user after conflict: %w", findErr)
		}
		if winner != nil {
			return s.refreshProfile(ctx, winner, identity)
		}
	}
	return nil, fmt.Errorf("create user: %w", err)
}

func (s *Service) refreshProfile(ctx context.Context, user *User, identity *Identity) (*User, error) {
	now := s.now()
	update := UserUpdate{LastLoginAt: &now}
	if identity.Name != "" && identity.Name != user.Name {
		update.Name = &identity.Name
	}
	if identity.AvatarURL != "" && identity.AvatarURL != user.AvatarURL {
		update.AvatarURL = &identity.AvatarURL
	}

	updated, err := s.repo.UpdateUser(ctx, user.ID, update)
	if err != nil {
		return nil, fmt.Errorf("update user login: %w", err)
	}
	if updated == nil {
		return nil, ErrNotFound
	}
	return updated, nil
}

// UserByID loads a user or returns ErrNotFound.
func (s *Service) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// CreateSession creates a new session for the given user and returns the bearer token with the stored session.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, userAgent, ipAddress string) (string, Session, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", Session{}, fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)

	now := s.now()
	session := Session{
		ID:        uuid.New(),
		UserID:    userID,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
		UserAgent: truncateString(userAgent, 512),
		IPAddress: truncateString(ipAddress, 45),
	}

	if err := s.repo.CreateSession(ctx, session, hashToken(token)); err != nil {
		return "", Session{}, fmt.Errorf("create session: %w", err)
	}

	return token, session, nil
}

// ResolveSession returns the live session and its user. Expired sessions are deleted and reported as
// ErrSessionExpired; unknown tokens and missing users yield ErrUnauthenticated.
func (s *Service) ResolveSession(ctx context.Context, token string) (*Session, *User, error) {
	if token == "" {
		return nil, nil, ErrUnauthenticated
	}

	session, err := s.repo.FindSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, nil, ErrUnauthenticated
	}

	if session.Expired(s.now()) {
		if err := s.repo.DeleteSession(ctx, session.ID); err != nil {
			return nil, nil, fmt.Errorf("delete expired session: %w", err)
		}
		return nil, nil, ErrSessionExpired
	}

	user, err := s.repo.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("find session user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrUnauthenticated
	}

	return session, user, nil
}

// DeleteSession removes the session associated with the given token. Unknown tokens are not an error.
func (s *Service) DeleteSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	session, err := s.repo.FindSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil
	}

	return s.repo.DeleteSession(ctx, session.ID)
}

// CleanupExpiredSessions removes all expired sessions from the store.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, s.now())
}

// hashToken returns the SHA-256 hash of the token as a hex string.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// truncateString truncates a string to the given max length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
