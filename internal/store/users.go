package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/courtsidehq/authd/internal/tenant"
)

// Roles a user can hold inside a league.
const (
	RoleSystemAdmin    = "system_admin"
	RoleOrgAdmin       = "org_admin"
	RoleLeagueAdmin    = "league_admin"
	RoleCoach          = "coach"
	RoleAssistantCoach = "assistant_coach"
	RoleParent         = "parent"
	RolePlayer         = "player"
	RoleReferee        = "referee"
	RoleScorekeeper    = "scorekeeper"
	RoleVolunteer      = "volunteer"
)

var validRoles = map[string]bool{
	RoleSystemAdmin: true, RoleOrgAdmin: true, RoleLeagueAdmin: true,
	RoleCoach: true, RoleAssistantCoach: true, RoleParent: true,
	RolePlayer: true, RoleReferee: true, RoleScorekeeper: true,
	RoleVolunteer: true,
}

func ValidRole(r string) bool { return validRoles[r] }

// Account statuses.
const (
	StatusActive              = "active"
	StatusInactive            = "inactive"
	StatusSuspended           = "suspended"
	StatusPendingVerification = "pending_verification"
	StatusArchived            = "archived"
)

// User is one account inside a tenant partition. Age is a snapshot taken
// when the row is created and never re-derived from the birth date.
type User struct {
	ID                uuid.UUID
	Email             string
	PasswordHash      string
	FirstName         string
	LastName          string
	Gender            string
	Role              string
	BirthDate         time.Time
	Age               int
	Status            string
	EmailVerified     bool
	PhoneVerified     bool
	MFAEnabled        bool
	MFASecret         string
	BackupCodes       []string // sha256 digests, consumed one by one
	FailedLogins      int
	LockedUntil       *time.Time
	PasswordChangedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsMinor reports whether COPPA applies to this account.
func (u *User) IsMinor() bool { return u.Age < 13 }

const userColumns = `id, email, password_hash, first_name, last_name, gender, role, birth_date, age, status,
	email_verified, phone_verified, mfa_enabled, COALESCE(mfa_secret,''), mfa_backup_codes,
	failed_login_attempts, locked_until, password_changed_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Gender, &u.Role, &u.BirthDate, &u.Age,
		&u.Status, &u.EmailVerified, &u.PhoneVerified, &u.MFAEnabled, &u.MFASecret,
		&u.BackupCodes, &u.FailedLogins, &u.LockedUntil, &u.PasswordChangedAt,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts the row; a duplicate (tenant, email) pair yields
// ErrDuplicate. Caller sets ID, Age (snapshot) and Status beforehand.
func (s *Store) CreateUser(ctx context.Context, p *tenant.Partition, u *User) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		INSERT INTO `+p.Table("users")+`
			(id, email, password_hash, first_name, last_name, gender, role, birth_date, age, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.FirstName, u.LastName, u.Gender,
		u.Role, u.BirthDate, u.Age, u.Status,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, p *tenant.Partition, email string) (*User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	row := p.Pool().QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+p.Table("users")+` WHERE LOWER(email) = LOWER($1)`,
		strings.TrimSpace(email))
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, p *tenant.Partition, id uuid.UUID) (*User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	row := p.Pool().QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+p.Table("users")+` WHERE id = $1`, id)
	return scanUser(row)
}

// RecordLoginFailure bumps the counter and optionally arms the lockout.
func (s *Store) RecordLoginFailure(ctx context.Context, p *tenant.Partition, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("users")+`
		   SET failed_login_attempts = $2, locked_until = $3, updated_at = now()
		 WHERE id = $1`, id, attempts, lockedUntil)
	return err
}

// ClearLockout resets the failure counter after a successful login.
func (s *Store) ClearLockout(ctx context.Context, p *tenant.Partition, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("users")+`
		   SET failed_login_attempts = 0, locked_until = NULL, updated_at = now()
		 WHERE id = $1`, id)
	return err
}

// SetPassword rehashes and clears lockout state in one statement; the
// cascading session revoke is the account service's job.
func (s *Store) SetPassword(ctx context.Context, p *tenant.Partition, id uuid.UUID, hash string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("users")+`
		   SET password_hash = $2, password_changed_at = now(),
		       failed_login_attempts = 0, locked_until = NULL, updated_at = now()
		 WHERE id = $1`, id, hash)
	return err
}

// SetMFASecret stages an enrollment: secret and hashed backup codes are
// written but mfa_enabled stays false until ConfirmMFA.
func (s *Store) SetMFASecret(ctx context.Context, p *tenant.Partition, id uuid.UUID, secret string, codeHashes []string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("users")+`
		   SET mfa_secret = $2, mfa_backup_codes = $3, mfa_enabled = false, updated_at = now()
		 WHERE id = $1`, id, secret, codeHashes)
	return err
}

func (s *Store) ConfirmMFA(ctx context.Context, p *tenant.Partition, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("users")+` SET mfa_enabled = true, updated_at = now() WHERE id = $1`, id)
	return err
}

// ConsumeBackupCode removes the matching digest; false means the code was
// absent (never issued, or already spent).
func (s *Store) ConsumeBackupCode(ctx context.Context, p *tenant.Partition, id uuid.UUID, codeHash string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("users")+`
		   SET mfa_backup_codes = array_remove(mfa_backup_codes, $2), updated_at = now()
		 WHERE id = $1 AND $2 = ANY(mfa_backup_codes)`, id, codeHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetEmailVerified(ctx context.Context, p *tenant.Partition, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("users")+` SET email_verified = true, updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *Store) SetStatus(ctx context.Context, p *tenant.Partition, id uuid.UUID, status string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("users")+` SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}
