package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/courtsidehq/authd/internal/tenant"
)

// RecordSession keeps a durable row per issued session for support and
// audit queries. The live, revocable registry is Redis (internal/session);
// this table is history, not the source of truth for token validity.
func (s *Store) RecordSession(ctx context.Context, p *tenant.Partition, id, userID uuid.UUID, fingerprint, ip, userAgent string, expiresAt time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		INSERT INTO `+p.Table("sessions")+`
			(id, user_id, fingerprint, ip, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, fingerprint, ip, userAgent, expiresAt)
	return err
}

// DeactivateSession flips the history row; missing rows are a no-op so
// revocation stays idempotent end to end.
func (s *Store) DeactivateSession(ctx context.Context, p *tenant.Partition, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("sessions")+` SET active = false WHERE id = $1`, id)
	return err
}

func (s *Store) DeactivateUserSessions(ctx context.Context, p *tenant.Partition, userID uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := p.Pool().Exec(ctx, `
		UPDATE `+p.Table("sessions")+` SET active = false WHERE user_id = $1 AND active`, userID)
	return err
}
