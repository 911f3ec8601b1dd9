package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/courtsidehq/authd/internal/security/token"
	"github.com/courtsidehq/authd/internal/tenant"
)

// Email-verification and password-reset tokens. Only the SHA-256 digest is
// stored; the plaintext goes to the external mail collaborator exactly once.

func (s *Store) CreateEmailVerification(ctx context.Context, p *tenant.Partition, userID uuid.UUID, sentTo string, ttl time.Duration) (string, error) {
	plaintext, err := tokens.NewOpaque(32)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(plaintext))

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err = p.Pool().Exec(ctx, `
		INSERT INTO `+p.Table("email_verification_tokens")+`
			(token_hash, user_id, sent_to, expires_at)
		VALUES ($1, $2, $3, $4)`,
		sum[:], userID, sentTo, time.Now().Add(ttl))
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// UseEmailVerification burns the token and returns its owner. A second use,
// an expired token and an unknown token are indistinguishable: ErrNotFound.
func (s *Store) UseEmailVerification(ctx context.Context, p *tenant.Partition, plaintext string) (uuid.UUID, error) {
	sum := sha256.Sum256([]byte(plaintext))

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var userID uuid.UUID
	err := p.Pool().QueryRow(ctx, `
		UPDATE `+p.Table("email_verification_tokens")+`
		   SET used_at = now()
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING user_id`, sum[:]).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

func (s *Store) CreatePasswordReset(ctx context.Context, p *tenant.Partition, userID uuid.UUID, ttl time.Duration) (string, error) {
	plaintext, err := tokens.NewOpaque(32)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(plaintext))

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err = p.Pool().Exec(ctx, `
		INSERT INTO `+p.Table("password_reset_tokens")+`
			(token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)`,
		sum[:], userID, time.Now().Add(ttl))
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

func (s *Store) UsePasswordReset(ctx context.Context, p *tenant.Partition, plaintext string) (uuid.UUID, error) {
	sum := sha256.Sum256([]byte(plaintext))

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var userID uuid.UUID
	err := p.Pool().QueryRow(ctx, `
		UPDATE `+p.Table("password_reset_tokens")+`
		   SET used_at = now()
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING user_id`, sum[:]).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}
