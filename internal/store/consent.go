package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/courtsidehq/authd/internal/tenant"
)

// Consent statuses. Verification method execution belongs to the external
// collaborator; this service only records the outcome.
const (
	ConsentPending  = "pending"
	ConsentVerified = "verified"
	ConsentDeclined = "declined"
)

type Consent struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ParentEmail string
	Method      string
	Status      string
	Permissions []string
	GrantedAt   *time.Time
	CreatedAt   time.Time
}

const consentColumns = `id, user_id, parent_email, method, status, permissions, granted_at, created_at`

func scanConsent(row pgx.Row) (*Consent, error) {
	var c Consent
	err := row.Scan(&c.ID, &c.UserID, &c.ParentEmail, &c.Method, &c.Status,
		&c.Permissions, &c.GrantedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateConsent(ctx context.Context, p *tenant.Partition, c *Consent) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		INSERT INTO `+p.Table("consent_records")+`
			(id, user_id, parent_email, method, status, permissions)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, c.ParentEmail, c.Method, c.Status, c.Permissions)
	return err
}

func (s *Store) GetConsent(ctx context.Context, p *tenant.Partition, id uuid.UUID) (*Consent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	row := p.Pool().QueryRow(ctx,
		`SELECT `+consentColumns+` FROM `+p.Table("consent_records")+` WHERE id = $1`, id)
	return scanConsent(row)
}

// LatestConsentByUser returns the most recent record; the newest record is
// the one consulted at every authentication of a sub-13 user.
func (s *Store) LatestConsentByUser(ctx context.Context, p *tenant.Partition, userID uuid.UUID) (*Consent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	row := p.Pool().QueryRow(ctx, `
		SELECT `+consentColumns+` FROM `+p.Table("consent_records")+`
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, userID)
	return scanConsent(row)
}

// SetConsentStatus records a collaborator-reported transition. grantedAt is
// only set on verification.
func (s *Store) SetConsentStatus(ctx context.Context, p *tenant.Partition, id uuid.UUID, status string, grantedAt *time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tag, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("consent_records")+`
		   SET status = $2, granted_at = COALESCE($3, granted_at)
		 WHERE id = $1`, id, status, grantedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
