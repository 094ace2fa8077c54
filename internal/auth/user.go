package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCredential indicates the provider rejected the code or token, or its signature did not verify.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrProviderUnavailable indicates the identity provider could not be reached in time.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrMisconfiguredProvider indicates missing or inconsistent identity provider settings.
	ErrMisconfiguredProvider = errors.New("identity provider misconfigured")
	// ErrDuplicateEmail indicates the email already belongs to a different subject.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateSubject indicates a user with the external subject id already exists.
	ErrDuplicateSubject = errors.New("external subject already registered")
	// ErrNotFound indicates the requested user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrUnauthenticated indicates no valid session accompanies the request.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrSessionExpired indicates the session existed but its expiry has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrEmailNotAllowed indicates the sign-in policy rejected the identity's email.
	ErrEmailNotAllowed = errors.New("email not allowed")
	// ErrEmailNotVerified indicates the provider has not confirmed ownership of the email.
	ErrEmailNotVerified = errors.New("email not verified")
)

// User represents an authenticated user in the system.
type User struct {
	ID                uuid.UUID
	Email             string
	ExternalSubjectID string
	Name              string
	AvatarURL         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastLoginAt       time.Time
}

// UserUpdate carries the fields to change. Nil fields are left untouched.
type UserUpdate struct {
	Email       *string
	Name        *string
	AvatarURL   *string
	LastLoginAt *time.Time
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Email == nil && u.Name == nil && u.AvatarURL == nil && u.LastLoginAt == nil
}

// Session represents an authenticated user session.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
	UserAgent string
	IPAddress string
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Identity is a verified identity returned by an Authenticator.
type Identity struct {
	Provider      ProviderKind
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// googleClaims contains the relevant claims from a Google ID token.
type googleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}
