package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	uniqueViolation   = "23505"
	emailConstraint   = "users_email_key"
	subjectConstraint = "users_external_subject_id_key"
	userColumns       = `id, email, external_subject_id, name, avatar_url, created_at, updated_at, last_login_at`
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByID looks up a user by primary key.
func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindUserByEmail looks up a user by their email address, ignoring case.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

// FindUserBySubject looks up a user by the identity provider's subject id.
func (r *PostgresRepository) FindUserBySubject(ctx context.Context, subject string) (*User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE external_subject_id = $1`, subject)
}

func (r *PostgresRepository) findUser(ctx context.Context, query string, arg interface{}) (*User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toUser(), nil
}

// CreateUser inserts a new user. Unique index violations map to ErrDuplicateEmail or ErrDuplicateSubject.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (User, error) {
	const query = `
		INSERT INTO users (id, email, external_subject_id, name, avatar_url, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		nullString(user.ExternalSubjectID),
		user.Name,
		user.AvatarURL,
		user.CreatedAt,
		user.UpdatedAt,
		nullTime(user.LastLoginAt),
	)
	if err != nil {
		return User{}, translateUniqueViolation(err)
	}

	return user, nil
}

// UpdateUser applies the non-nil fields of update and returns the stored user, or nil when it does not exist.
func (r *PostgresRepository) UpdateUser(ctx context.Context, id uuid.UUID, update UserUpdate) (*User, error) {
	const query = `
		UPDATE users
		SET email = COALESCE($2, email),
			name = COALESCE($3, name),
			avatar_url = COALESCE($4, avatar_url),
			last_login_at = COALESCE($5, last_login_at),
			updated_at = $6
		WHERE id = $1
		RETURNING ` + userColumns

	var row userRow
	err := r.db.GetContext(ctx, &row, query, id, update.Email, update.Name, update.AvatarURL, update.LastLoginAt, time.Now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, translateUniqueViolation(err)
	}
	return row.toUser(), nil
}

// CreateSession inserts a new session into the database.
func (r *PostgresRepository) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	const query = `
		INSERT INTO user_sessions (id, user_id, token_hash, expires_at, created_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		tokenHash,
		session.ExpiresAt,
		session.CreatedAt,
		session.UserAgent,
		session.IPAddress,
	)
	return err
}

// FindSessionByTokenHash looks up a session by token hash. Expiry is left to the caller.
func (r *PostgresRepository) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	const query = `
		SELECT id, user_id, expires_at, created_at, user_agent, ip_address
		FROM user_sessions
		WHERE token_hash = $1
	`

	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return row.toSession(), nil
}

// DeleteSession removes a session from the database.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM user_sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// DeleteExpiredSessions removes all sessions whose expiry is at or before the cutoff.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM user_sessions WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case emailConstraint:
		return ErrDuplicateEmail
	case subjectConstraint:
		return ErrDuplicateSubject
	default:
		return err
	}
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value time.Time) sql.NullTime {
	return sql.NullTime{Time: value, Valid: !value.IsZero()}
}

// userRow is a database row representation of User.
type userRow struct {
	ID                uuid.UUID      `db:"id"`
	Email             string         `db:"email"`
	ExternalSubjectID sql.NullString `db:"external_subject_id"`
	Name              string         `db:"name"`
	AvatarURL         string         `db:"avatar_url"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	LastLoginAt       sql.NullTime   `db:"last_login_at"`
}

func (r *userRow) toUser() *User {
	return &User{
		ID:                r.ID,
		Email:             r.Email,
		ExternalSubjectID: r.ExternalSubjectID.String,
		Name:              r.Name,
		AvatarURL:         r.AvatarURL,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		LastLoginAt:       r.LastLoginAt.Time,
	}
}

// sessionRow is a database row representation of Session.
type sessionRow struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
	UserAgent string    `db:"user_agent"`
	IPAddress string    `db:"ip_address"`
}

func (r *sessionRow) toSession() *Session {
	return &Session{
		ID:        r.ID,
		UserID:    r.UserID,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UserAgent: r.UserAgent,
		IPAddress: r.IPAddress,
	}
}
