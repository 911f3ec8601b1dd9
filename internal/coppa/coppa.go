// Package coppa gates under-13 accounts on verified parental consent.
// Verification-method execution (ID check, signed form, payment card) lives
// with an external collaborator; this service only records outcomes and
// answers "is this consent currently valid".
package coppa

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/courtsidehq/authd/internal/audit"
	"github.com/courtsidehq/authd/internal/store"
	"github.com/courtsidehq/authd/internal/tenant"
)

// Validity is one year from the grant, per the platform's consent policy.
const Validity = 365 * 24 * time.Hour

var (
	ErrConsentRequired = errors.New("coppa: parental consent required")
	ErrNotMinor        = errors.New("coppa: user is not subject to consent")
	ErrBadStatus       = errors.New("coppa: invalid status transition")
)

// Valid is the single source of truth for consent validity: the record must
// be verified, carry a grant timestamp, and the grant must be younger than
// Validity at now.
func Valid(c *store.Consent, now time.Time) bool {
	if c == nil || c.Status != store.ConsentVerified || c.GrantedAt == nil {
		return false
	}
	return now.Before(c.GrantedAt.Add(Validity))
}

type Service struct {
	store   *store.Store
	auditor *audit.Recorder
	now     func() time.Time
}

func NewService(st *store.Store, auditor *audit.Recorder) *Service {
	return &Service{store: st, auditor: auditor, now: func() time.Time { return time.Now().UTC() }}
}

// RequireConsent returns nil only when the user's newest consent record is
// currently valid. Adults pass through untouched.
func (s *Service) RequireConsent(ctx context.Context, p *tenant.Partition, u *store.User) error {
	if !u.IsMinor() {
		return nil
	}
	c, err := s.store.LatestConsentByUser(ctx, p, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConsentRequired
	}
	if err != nil {
		return err
	}
	if !Valid(c, s.now()) {
		return ErrConsentRequired
	}
	return nil
}

// HasValidConsent is RequireConsent for callers that want a boolean and
// treat lookup failures as "no".
func (s *Service) HasValidConsent(ctx context.Context, p *tenant.Partition, u *store.User) bool {
	return s.RequireConsent(ctx, p, u) == nil
}

// Initiate opens a pending consent record for a minor. The external
// collaborator takes it from here; we hand back the record id it will
// report against.
func (s *Service) Initiate(ctx context.Context, p *tenant.Partition, u *store.User, parentEmail, method string, permissions []string) (*store.Consent, error) {
	if !u.IsMinor() {
		return nil, ErrNotMinor
	}
	c := &store.Consent{
		ID:          uuid.New(),
		UserID:      u.ID,
		ParentEmail: parentEmail,
		Method:      method,
		Status:      store.ConsentPending,
		Permissions: permissions,
	}
	if err := s.store.CreateConsent(ctx, p, c); err != nil {
		return nil, err
	}
	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventConsentChange,
		TenantID: string(p.ID()),
		ActorID:  u.ID.String(),
		Success:  true,
		Reason:   "consent_initiated",
	})
	log.Printf(`{"level":"info","msg":"consent_initiated","tenant":"%s","user_id":"%s","consent_id":"%s","method":"%s"}`,
		p.ID(), u.ID, c.ID, method)
	return c, nil
}

// Verify records the collaborator's outcome for a pending record. Only
// pending records transition; re-reporting a settled record is rejected.
func (s *Service) Verify(ctx context.Context, p *tenant.Partition, consentID uuid.UUID, approved bool) (*store.Consent, error) {
	c, err := s.store.GetConsent(ctx, p, consentID)
	if err != nil {
		return nil, err
	}
	if c.Status != store.ConsentPending {
		return nil, ErrBadStatus
	}

	status := store.ConsentDeclined
	var grantedAt *time.Time
	if approved {
		status = store.ConsentVerified
		t := s.now()
		grantedAt = &t
	}
	if err := s.store.SetConsentStatus(ctx, p, consentID, status, grantedAt); err != nil {
		return nil, err
	}
	c.Status = status
	if grantedAt != nil {
		c.GrantedAt = grantedAt
	}

	// consent approval is what moves a minor out of pending_verification
	if approved {
		if u, err := s.store.GetUserByID(ctx, p, c.UserID); err == nil && u.Status == store.StatusPendingVerification {
			if err := s.store.SetStatus(ctx, p, u.ID, store.StatusActive); err != nil {
				log.Printf(`{"level":"error","msg":"consent_activation_failed","tenant":"%s","user_id":"%s","err":"%v"}`,
					p.ID(), u.ID, err)
			}
		}
	}

	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventConsentChange,
		TenantID: string(p.ID()),
		ActorID:  c.UserID.String(),
		Success:  approved,
		Reason:   "consent_" + status,
	})
	return c, nil
}
