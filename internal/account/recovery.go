package account

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/courtsidehq/authd/internal/audit"
	"github.com/courtsidehq/authd/internal/security/password"
	"github.com/courtsidehq/authd/internal/store"
	"github.com/courtsidehq/authd/internal/tenant"
)

var ErrInvalidRecoveryToken = errors.New("account: recovery token invalid or spent")

const (
	passwordResetTTL     = time.Hour
	emailVerificationTTL = 24 * time.Hour
)

// CredentialTokens is the one-time-token slice of the persistence layer.
type CredentialTokens interface {
	CreateEmailVerification(ctx context.Context, p *tenant.Partition, userID uuid.UUID, sentTo string, ttl time.Duration) (string, error)
	UseEmailVerification(ctx context.Context, p *tenant.Partition, plaintext string) (uuid.UUID, error)
	CreatePasswordReset(ctx context.Context, p *tenant.Partition, userID uuid.UUID, ttl time.Duration) (string, error)
	UsePasswordReset(ctx context.Context, p *tenant.Partition, plaintext string) (uuid.UUID, error)
	GetUserByEmail(ctx context.Context, p *tenant.Partition, email string) (*store.User, error)
	SetPassword(ctx context.Context, p *tenant.Partition, id uuid.UUID, hash string) error
	SetEmailVerified(ctx context.Context, p *tenant.Partition, id uuid.UUID) error
}

// Notifier hands plaintext one-time tokens to the external delivery
// collaborator. This service never sends mail itself.
type Notifier interface {
	PasswordReset(ctx context.Context, tenantID, email, token string) error
	EmailVerification(ctx context.Context, tenantID, email, token string) error
}

// LogNotifier is the default collaborator stand-in: it records that a
// delivery was requested without ever writing the token anywhere.
type LogNotifier struct{}

func (LogNotifier) PasswordReset(_ context.Context, tenantID, email, _ string) error {
	log.Printf(`{"level":"info","msg":"password_reset_delivery_delegated","tenant":"%s","email":"%s"}`, tenantID, email)
	return nil
}

func (LogNotifier) EmailVerification(_ context.Context, tenantID, email, _ string) error {
	log.Printf(`{"level":"info","msg":"email_verification_delivery_delegated","tenant":"%s","email":"%s"}`, tenantID, email)
	return nil
}

// Recovery runs the forgot/reset and email-verification flows on top of
// single-use hashed tokens.
type Recovery struct {
	tokens   CredentialTokens
	notifier Notifier
	revoker  SessionRevoker
	auditor  *audit.Recorder
	policy   password.Policy
	hashing  password.Params
}

func NewRecovery(tokens CredentialTokens, notifier Notifier, revoker SessionRevoker, auditor *audit.Recorder, policy password.Policy, hashing password.Params) *Recovery {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if hashing == (password.Params{}) {
		hashing = password.Default
	}
	return &Recovery{tokens: tokens, notifier: notifier, revoker: revoker, auditor: auditor, policy: policy, hashing: hashing}
}

// Forgot mints a reset token for the address if an account exists. Unknown
// addresses are a silent no-op so the endpoint cannot enumerate accounts.
func (s *Recovery) Forgot(ctx context.Context, p *tenant.Partition, email string) error {
	u, err := s.tokens.GetUserByEmail(ctx, p, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	plaintext, err := s.tokens.CreatePasswordReset(ctx, p, u.ID, passwordResetTTL)
	if err != nil {
		return err
	}
	if err := s.notifier.PasswordReset(ctx, string(p.ID()), u.Email, plaintext); err != nil {
		log.Printf(`{"level":"warn","msg":"password_reset_delivery_failed","tenant":"%s","user_id":"%s","err":"%v"}`,
			p.ID(), u.ID, err)
	}
	return nil
}

// Reset consumes the token and replaces the password; every live session
// dies with the old credential.
func (s *Recovery) Reset(ctx context.Context, p *tenant.Partition, tokenPlaintext, next string) error {
	if ok, _ := s.policy.Check(next); !ok {
		return ErrWeakPassword
	}

	userID, err := s.tokens.UsePasswordReset(ctx, p, tokenPlaintext)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidRecoveryToken
	}
	if err != nil {
		return err
	}

	hash, err := password.Hash(s.hashing, next)
	if err != nil {
		return err
	}
	if err := s.tokens.SetPassword(ctx, p, userID, hash); err != nil {
		return err
	}
	if _, err := s.revoker.RevokeAll(ctx, string(p.ID()), userID.String()); err != nil {
		log.Printf(`{"level":"error","msg":"revoke_all_after_reset_failed","tenant":"%s","user_id":"%s","err":"%v"}`,
			p.ID(), userID, err)
	}

	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventPasswordChange,
		TenantID: string(p.ID()),
		ActorID:  userID.String(),
		Success:  true,
		Reason:   "password_reset",
	})
	return nil
}

// StartEmailVerification mints a verification token for the caller's own
// address and delegates delivery.
func (s *Recovery) StartEmailVerification(ctx context.Context, p *tenant.Partition, u *store.User) error {
	plaintext, err := s.tokens.CreateEmailVerification(ctx, p, u.ID, u.Email, emailVerificationTTL)
	if err != nil {
		return err
	}
	if err := s.notifier.EmailVerification(ctx, string(p.ID()), u.Email, plaintext); err != nil {
		log.Printf(`{"level":"warn","msg":"email_verification_delivery_failed","tenant":"%s","user_id":"%s","err":"%v"}`,
			p.ID(), u.ID, err)
	}
	return nil
}

// ConfirmEmail consumes the token and flips the flag.
func (s *Recovery) ConfirmEmail(ctx context.Context, p *tenant.Partition, tokenPlaintext string) error {
	userID, err := s.tokens.UseEmailVerification(ctx, p, tokenPlaintext)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidRecoveryToken
	}
	if err != nil {
		return err
	}
	return s.tokens.SetEmailVerified(ctx, p, userID)
}
