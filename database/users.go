package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// User is a row of the users table.
type User struct {
	ID                 uuid.UUID  `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	PasswordHash       string     `json:"-"`
	MFAEnabled         bool       `json:"mfa_enabled"`
	MFASecretEncrypted []byte     `json:"-"`
	FailedAttempts     int        `json:"-"`
	LockedUntil        *time.Time `json:"-"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// IsLocked reports whether the account is locked at the given instant.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// UserRepository persists users and audit entries in Postgres.
type UserRepository struct {
	db Database
}

func NewUserRepository(db Database) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, name, password_hash, mfa_enabled, mfa_secret_encrypted,
        failed_attempts, locked_until, last_login, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.MFAEnabled, &u.MFASecretEncrypted,
		&u.FailedAttempts, &u.LockedUntil, &u.LastLogin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new user. A duplicate address yields ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, email, name, passwordHash string) (*User, error) {
	row := r.db.QueryRow(ctx, `
        INSERT INTO users (email, name, password_hash)
        VALUES ($1, $2, $3)
        RETURNING `+userColumns,
		NormalizeEmail(email), strings.TrimSpace(name), passwordHash,
	)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByEmail looks a user up by case-insensitive address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = $1`, NormalizeEmail(email)))
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// RecordFailedLogin increments the failure counter in place and returns the
// new value, so concurrent failures are all counted.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
        UPDATE users SET failed_attempts = failed_attempts + 1
        WHERE id = $1
        RETURNING failed_attempts`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("record failed login: %w", err)
	}
	return attempts, nil
}

// LockUntil sets the lock expiry. An existing later expiry is kept.
func (r *UserRepository) LockUntil(ctx context.Context, id uuid.UUID, until time.Time) error {
	_, err := r.db.Exec(ctx, `
        UPDATE users SET locked_until = $2
        WHERE id = $1 AND (locked_until IS NULL OR locked_until < $2)`, id, until)
	return err
}

// RecordSuccessfulLogin clears lockout state and stamps last_login.
func (r *UserRepository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
        UPDATE users SET failed_attempts = 0, locked_until = NULL, last_login = NOW()
        WHERE id = $1`, id)
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, id)
}

// SetMFASecret stores a pending secret without enabling MFA.
func (r *UserRepository) SetMFASecret(ctx context.Context, id uuid.UUID, encrypted []byte) error {
	return r.execOne(ctx, `UPDATE users SET mfa_secret_encrypted = $1 WHERE id = $2`, encrypted, id)
}

func (r *UserRepository) EnableMFA(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx, `UPDATE users SET mfa_enabled = true WHERE id = $1 AND mfa_secret_encrypted IS NOT NULL`, id)
}

// DisableMFA turns MFA off and wipes the stored secret and recovery codes.
func (r *UserRepository) DisableMFA(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx, `
        UPDATE users SET mfa_enabled = false, mfa_secret_encrypted = NULL, mfa_backup_codes = '{}'
        WHERE id = $1`, id)
}

// SetBackupCodes replaces the stored recovery code hashes.
func (r *UserRepository) SetBackupCodes(ctx context.Context, id uuid.UUID, hashes [][]byte) error {
	return r.execOne(ctx, `UPDATE users SET mfa_backup_codes = $1 WHERE id = $2`, hashes, id)
}

// ConsumeBackupCode removes hash from the user's recovery codes. It reports
// false when the code is not present, so each code works once even under
// concurrent logins.
func (r *UserRepository) ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash []byte) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE users SET mfa_backup_codes = array_remove(mfa_backup_codes, $2)
        WHERE id = $1 AND $2 = ANY(mfa_backup_codes)`, id, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// BackupCodesRemaining counts unused recovery codes.
func (r *UserRepository) BackupCodesRemaining(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT cardinality(mfa_backup_codes) FROM users WHERE id = $1`, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	return n, err
}

// LogAudit appends an audit entry. userID may be uuid.Nil for anonymous events.
func (r *UserRepository) LogAudit(ctx context.Context, userID uuid.UUID, action, ip, userAgent string) error {
	var uid interface{}
	if userID != uuid.Nil {
		uid = userID
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO audit_log (user_id, action, ip_address, user_agent)
        VALUES ($1, $2, $3, $4)`,
		uid, action, ip, userAgent,
	)
	return err
}

// ResetExpiredLockouts zeroes failure counters whose lock window has passed.
func (r *UserRepository) ResetExpiredLockouts(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE users
        SET failed_attempts = 0, locked_until = NULL
        WHERE locked_until IS NOT NULL AND locked_until < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneAuditLog deletes audit rows older than the retention window.
func (r *UserRepository) PruneAuditLog(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *UserRepository) execOne(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
