// Package account implements credential lifecycle and login decisions:
// registration, password authentication with lockout, TOTP enrollment and
// verification, and password changes with session invalidation.
package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/courtsidehq/authd/internal/audit"
	"github.com/courtsidehq/authd/internal/coppa"
	"github.com/courtsidehq/authd/internal/security/password"
	tokens "github.com/courtsidehq/authd/internal/security/token"
	"github.com/courtsidehq/authd/internal/security/totp"
	"github.com/courtsidehq/authd/internal/store"
	"github.com/courtsidehq/authd/internal/tenant"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike;
	// the two are never distinguishable to a caller.
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrLocked             = errors.New("account: account locked")
	ErrInactive           = errors.New("account: account not active")
	ErrConsentRequired    = errors.New("account: parental consent required")
	ErrMinorMFA           = errors.New("account: mfa unavailable for minors")
	ErrMFANotEnrolled     = errors.New("account: mfa not enrolled")
	ErrBadMFACode         = errors.New("account: mfa code rejected")
	ErrWeakPassword       = errors.New("account: password rejected by policy")
	ErrEmailTaken         = errors.New("account: email already registered")
	ErrInvalidRole        = errors.New("account: unknown role")
)

// Users is the slice of the persistence layer this service touches.
type Users interface {
	CreateUser(ctx context.Context, p *tenant.Partition, u *store.User) error
	GetUserByEmail(ctx context.Context, p *tenant.Partition, email string) (*store.User, error)
	GetUserByID(ctx context.Context, p *tenant.Partition, id uuid.UUID) (*store.User, error)
	RecordLoginFailure(ctx context.Context, p *tenant.Partition, id uuid.UUID, attempts int, lockedUntil *time.Time) error
	ClearLockout(ctx context.Context, p *tenant.Partition, id uuid.UUID) error
	SetPassword(ctx context.Context, p *tenant.Partition, id uuid.UUID, hash string) error
	SetStatus(ctx context.Context, p *tenant.Partition, id uuid.UUID, status string) error
	SetMFASecret(ctx context.Context, p *tenant.Partition, id uuid.UUID, secret string, codeHashes []string) error
	ConfirmMFA(ctx context.Context, p *tenant.Partition, id uuid.UUID) error
	ConsumeBackupCode(ctx context.Context, p *tenant.Partition, id uuid.UUID, codeHash string) (bool, error)
}

// ConsentGate answers whether a minor may proceed; adults always pass.
type ConsentGate interface {
	RequireConsent(ctx context.Context, p *tenant.Partition, u *store.User) error
}

// SessionRevoker invalidates every live session for a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, tenantID, userID string) (int, error)
}

type Config struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	MFAIssuer        string
	MFAWindowSteps   int
	BackupCodeCount  int
	Policy           password.Policy
	Hashing          password.Params
}

type Service struct {
	cfg     Config
	users   Users
	consent ConsentGate
	revoker SessionRevoker
	auditor *audit.Recorder
	now     func() time.Time
}

func NewService(cfg Config, users Users, consent ConsentGate, revoker SessionRevoker, auditor *audit.Recorder) *Service {
	if cfg.Hashing == (password.Params{}) {
		cfg.Hashing = password.Default
	}
	return &Service{
		cfg: cfg, users: users, consent: consent, revoker: revoker, auditor: auditor,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RegisterParams carries the registration payload after transport decoding.
type RegisterParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Gender    string
	BirthDate time.Time
	Role      string
}

// RegisterResult reports the created account and whether tokens must be
// withheld pending parental consent.
type RegisterResult struct {
	User                    *store.User
	RequiresParentalConsent bool
	PolicyViolations        []string
}

// Register creates the account. Age is snapshot at creation and drives the
// consent gate from then on; for under-13 users the caller must withhold
// tokens until consent is verified.
func (s *Service) Register(ctx context.Context, p *tenant.Partition, in RegisterParams) (*RegisterResult, error) {
	if !store.ValidRole(in.Role) {
		return nil, ErrInvalidRole
	}
	if ok, reasons := s.cfg.Policy.Check(in.Password); !ok {
		return &RegisterResult{PolicyViolations: reasons}, ErrWeakPassword
	}

	hash, err := password.Hash(s.cfg.Hashing, in.Password)
	if err != nil {
		return nil, err
	}

	u := &store.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Gender:       in.Gender,
		Role:         in.Role,
		BirthDate:    in.BirthDate,
		Age:          ageAt(in.BirthDate, s.now()),
		Status:       store.StatusPendingVerification,
	}
	if err := s.users.CreateUser(ctx, p, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventRegister,
		TenantID: string(p.ID()),
		ActorID:  u.ID.String(),
		Success:  true,
	})
	return &RegisterResult{User: u, RequiresParentalConsent: u.IsMinor()}, nil
}

func ageAt(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.YearDay() < birth.YearDay() {
		years--
	}
	if years < 0 {
		years = 0
	}
	return years
}

// AuthResult is the outcome of a password check. When NeedsMFA is set the
// caller must not issue tokens until VerifyMFA succeeds.
type AuthResult struct {
	User     *store.User
	NeedsMFA bool
}

// Authenticate runs the full login decision ladder: lockout gate before the
// password compare, then status, then the consent gate, then MFA. An MFA
// user may present a code inline with the credentials; with no code the
// result asks the caller to run the two-step challenge instead. Every
// attempt is audited regardless of outcome.
func (s *Service) Authenticate(ctx context.Context, p *tenant.Partition, email, plain, mfaCode, ip, userAgent string) (*AuthResult, error) {
	emit := func(actorID, reason string, ok bool) {
		s.auditor.Emit(ctx, audit.Event{
			Type:     audit.EventLogin,
			TenantID: string(p.ID()),
			ActorID:  actorID,
			Success:  ok,
			Reason:   reason,
			IP:       ip, UserAgent: userAgent,
		})
	}

	u, err := s.users.GetUserByEmail(ctx, p, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		emit("", "unknown_email", false)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
		emit(u.ID.String(), "locked", false)
		return nil, ErrLocked
	}

	if !password.Verify(plain, u.PasswordHash) {
		attempts := u.FailedLogins + 1
		var until *time.Time
		if attempts >= s.cfg.LockoutThreshold {
			t := now.Add(s.cfg.LockoutDuration)
			until = &t
			log.Printf(`{"level":"warn","msg":"account_locked","tenant":"%s","user_id":"%s","attempts":%d}`,
				p.ID(), u.ID, attempts)
		}
		if err := s.users.RecordLoginFailure(ctx, p, u.ID, attempts, until); err != nil {
			return nil, err
		}
		emit(u.ID.String(), "bad_password", false)
		return nil, ErrInvalidCredentials
	}

	switch u.Status {
	case store.StatusSuspended, store.StatusArchived, store.StatusInactive:
		emit(u.ID.String(), "status_"+u.Status, false)
		return nil, ErrInactive
	}

	if err := s.consent.RequireConsent(ctx, p, u); err != nil {
		if errors.Is(err, coppa.ErrConsentRequired) {
			emit(u.ID.String(), "consent_required", false)
			return nil, ErrConsentRequired
		}
		return nil, err
	}

	if u.FailedLogins > 0 || u.LockedUntil != nil {
		if err := s.users.ClearLockout(ctx, p, u.ID); err != nil {
			return nil, err
		}
	}

	if u.MFAEnabled {
		if mfaCode == "" {
			emit(u.ID.String(), "mfa_challenge", true)
			return &AuthResult{User: u, NeedsMFA: true}, nil
		}
		if err := s.verifyInlineMFA(ctx, p, u, mfaCode); err != nil {
			if errors.Is(err, ErrBadMFACode) {
				emit(u.ID.String(), "bad_mfa_code", false)
			}
			return nil, err
		}
	}
	emit(u.ID.String(), "", true)
	return &AuthResult{User: u, NeedsMFA: false}, nil
}

// verifyInlineMFA accepts a TOTP code first and falls back to a backup
// code, so one login field serves both without a discriminator.
func (s *Service) verifyInlineMFA(ctx context.Context, p *tenant.Partition, u *store.User, code string) error {
	err := s.VerifyMFA(ctx, p, u, code, false)
	if errors.Is(err, ErrBadMFACode) {
		return s.VerifyMFA(ctx, p, u, code, true)
	}
	return err
}

// Activate promotes a pending-verification account to active. Adults are
// promoted when their first tokens are issued; minors when parental consent
// is verified. Any other status is left alone.
func (s *Service) Activate(ctx context.Context, p *tenant.Partition, u *store.User) error {
	if u.Status != store.StatusPendingVerification {
		return nil
	}
	if err := s.users.SetStatus(ctx, p, u.ID, store.StatusActive); err != nil {
		return err
	}
	u.Status = store.StatusActive
	return nil
}

// Enrollment is handed to the user exactly once; only digests of the backup
// codes are retained server-side.
type Enrollment struct {
	Secret      string
	OTPAuthURL  string
	BackupCodes []string
}

// EnableMFA stages a TOTP secret and backup codes. The enrollment stays
// inactive until the first successful VerifyMFA confirms the authenticator.
// Under-13 accounts cannot enroll.
func (s *Service) EnableMFA(ctx context.Context, p *tenant.Partition, u *store.User) (*Enrollment, error) {
	if u.IsMinor() {
		return nil, ErrMinorMFA
	}

	_, secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	n := s.cfg.BackupCodeCount
	if n <= 0 {
		n = 8
	}
	plain := make([]string, 0, n)
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := tokens.NewOpaque(6)
		if err != nil {
			return nil, err
		}
		plain = append(plain, code)
		hashes = append(hashes, tokens.SHA256B64(code))
	}

	if err := s.users.SetMFASecret(ctx, p, u.ID, secret, hashes); err != nil {
		return nil, err
	}

	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventMFAEnrolled,
		TenantID: string(p.ID()),
		ActorID:  u.ID.String(),
		Success:  true,
	})
	return &Enrollment{
		Secret:      secret,
		OTPAuthURL:  totp.EnrollmentURL(s.cfg.MFAIssuer, u.Email, secret),
		BackupCodes: plain,
	}, nil
}

// VerifyMFA accepts either a current TOTP code or an unused backup code.
// Backup codes are single use. The first successful verification after
// staging activates the enrollment.
func (s *Service) VerifyMFA(ctx context.Context, p *tenant.Partition, u *store.User, code string, isBackup bool) error {
	if u.MFASecret == "" {
		return ErrMFANotEnrolled
	}

	ok := false
	if isBackup {
		used, err := s.users.ConsumeBackupCode(ctx, p, u.ID, tokens.SHA256B64(code))
		if err != nil {
			return err
		}
		ok = used
	} else {
		secret, err := totp.DecodeSecret(u.MFASecret)
		if err != nil {
			return fmt.Errorf("account: corrupt mfa secret: %w", err)
		}
		ok = totp.Verify(secret, code, s.now(), s.cfg.MFAWindowSteps)
	}

	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventMFAVerified,
		TenantID: string(p.ID()),
		ActorID:  u.ID.String(),
		Success:  ok,
	})
	if !ok {
		return ErrBadMFACode
	}

	if !u.MFAEnabled {
		if err := s.users.ConfirmMFA(ctx, p, u.ID); err != nil {
			return err
		}
		u.MFAEnabled = true
	}
	return nil
}

// ChangePassword re-verifies the current password, applies the policy to
// the replacement, rehashes, and revokes every live session so stolen
// refresh tokens die with the old password.
func (s *Service) ChangePassword(ctx context.Context, p *tenant.Partition, u *store.User, current, next string) error {
	if !password.Verify(current, u.PasswordHash) {
		s.auditor.Emit(ctx, audit.Event{
			Type:     audit.EventPasswordChange,
			TenantID: string(p.ID()),
			ActorID:  u.ID.String(),
			Success:  false,
			Reason:   "bad_current_password",
		})
		return ErrInvalidCredentials
	}
	if ok, _ := s.cfg.Policy.Check(next); !ok {
		return ErrWeakPassword
	}

	hash, err := password.Hash(s.cfg.Hashing, next)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, p, u.ID, hash); err != nil {
		return err
	}

	n, err := s.revoker.RevokeAll(ctx, string(p.ID()), u.ID.String())
	if err != nil {
		// the password is already changed; session teardown failure is
		// logged loudly but does not undo the change
		log.Printf(`{"level":"error","msg":"revoke_all_after_password_change_failed","tenant":"%s","user_id":"%s","err":"%v"}`,
			p.ID(), u.ID, err)
	} else {
		log.Printf(`{"level":"info","msg":"password_changed","tenant":"%s","user_id":"%s","sessions_revoked":%d}`,
			p.ID(), u.ID, n)
	}

	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventPasswordChange,
		TenantID: string(p.ID()),
		ActorID:  u.ID.String(),
		Success:  true,
	})
	return nil
}
