// Package access evaluates declarative per-route policies against the
// authenticated principal. A route states what it requires; the gate walks
// the checks in a fixed order and fails on the first unmet one.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/courtsidehq/authd/internal/coppa"
	"github.com/courtsidehq/authd/internal/store"
	"github.com/courtsidehq/authd/internal/tenant"
	"github.com/courtsidehq/authd/internal/token"
)

// Policy declares what a route demands of the caller. The zero value
// requires only a valid access token on an active account.
type Policy struct {
	Roles                []string
	MinAge               int
	RequireMFA           bool
	RequireVerifiedEmail bool
	AllowMinors          bool
	RequireConsent       bool
}

// AuthenticatedOnly admits any active account.
var AuthenticatedOnly = Policy{AllowMinors: true}

// Principal is the immutable identity snapshot the gate attaches to the
// request context once every check has passed.
type Principal struct {
	UserID    uuid.UUID
	Email     string
	Role      string
	TenantID  string
	SessionID string
	IsMinor   bool
	User      *store.User
	Partition *tenant.Partition
}

type ctxKey struct{}

// FromContext returns the principal set by Gate.Require, or nil when the
// request did not pass through a gated route.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}

// Verifier validates an access token and returns its claims.
type Verifier interface {
	VerifyAccess(ctx context.Context, raw string) (*token.AccessClaims, error)
}

// PartitionLookup maps a verified tenant claim to its partition, without
// the default-tenant fallback used for unauthenticated hints.
type PartitionLookup interface {
	Lookup(ctx context.Context, raw string) (*tenant.Partition, error)
}

// UserLoader fetches the account behind a subject claim.
type UserLoader interface {
	GetUserByID(ctx context.Context, p *tenant.Partition, id uuid.UUID) (*store.User, error)
}

// ConsentGate answers whether a minor's consent is currently valid.
type ConsentGate interface {
	RequireConsent(ctx context.Context, p *tenant.Partition, u *store.User) error
}

// DenyFunc writes the rejection response. Wire the transport layer's error
// envelope in here so gate rejections look like every other API error.
type DenyFunc func(w http.ResponseWriter, r *http.Request, status int, code, description string)

type Gate struct {
	verifier Verifier
	tenants  PartitionLookup
	users    UserLoader
	consent  ConsentGate
	deny     DenyFunc
}

func NewGate(verifier Verifier, tenants PartitionLookup, users UserLoader, consent ConsentGate, deny DenyFunc) *Gate {
	if deny == nil {
		deny = defaultDeny
	}
	return &Gate{verifier: verifier, tenants: tenants, users: users, consent: consent, deny: deny}
}

func defaultDeny(w http.ResponseWriter, _ *http.Request, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// Require returns middleware enforcing the policy. Checks run in a fixed
// order and the first failure wins; later checks are never evaluated.
func (g *Gate) Require(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw := bearerToken(r)
			if raw == "" {
				g.deny(w, r, http.StatusUnauthorized, "missing_token", "authorization bearer token required")
				return
			}

			claims, err := g.verifier.VerifyAccess(ctx, raw)
			if err != nil {
				if !errors.Is(err, token.ErrInvalidToken) {
					log.Printf(`{"level":"error","msg":"access_gate_verify_error","err":"%v"}`, err)
					g.deny(w, r, http.StatusServiceUnavailable, "service_unavailable", "token verification unavailable")
					return
				}
				g.deny(w, r, http.StatusUnauthorized, "invalid_token", "access token rejected")
				return
			}

			p, err := g.tenants.Lookup(ctx, claims.TenantID)
			if err != nil {
				g.deny(w, r, http.StatusUnauthorized, "invalid_token", "access token rejected")
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				g.deny(w, r, http.StatusUnauthorized, "invalid_token", "access token rejected")
				return
			}
			u, err := g.users.GetUserByID(ctx, p, userID)
			if errors.Is(err, store.ErrNotFound) {
				g.deny(w, r, http.StatusUnauthorized, "invalid_token", "access token rejected")
				return
			}
			if err != nil {
				log.Printf(`{"level":"error","msg":"access_gate_user_load_failed","err":"%v"}`, err)
				g.deny(w, r, http.StatusServiceUnavailable, "service_unavailable", "account lookup unavailable")
				return
			}

			if u.Status != store.StatusActive {
				g.deny(w, r, http.StatusForbidden, "account_inactive", "account is not active")
				return
			}
			if len(policy.Roles) > 0 && !roleAllowed(policy.Roles, u.Role) {
				g.deny(w, r, http.StatusForbidden, "insufficient_role", "role not permitted for this resource")
				return
			}
			if policy.MinAge > 0 && u.Age < policy.MinAge {
				g.deny(w, r, http.StatusForbidden, "age_restricted", "account does not meet the minimum age")
				return
			}
			if u.IsMinor() && !policy.AllowMinors {
				g.deny(w, r, http.StatusForbidden, "age_restricted", "resource unavailable to minors")
				return
			}
			if policy.RequireMFA && !u.MFAEnabled {
				g.deny(w, r, http.StatusForbidden, "mfa_required", "multi-factor authentication must be enabled")
				return
			}
			if policy.RequireVerifiedEmail && !u.EmailVerified {
				g.deny(w, r, http.StatusForbidden, "email_unverified", "email address must be verified")
				return
			}
			if policy.RequireConsent {
				if err := g.consent.RequireConsent(ctx, p, u); err != nil {
					if errors.Is(err, coppa.ErrConsentRequired) {
						g.deny(w, r, http.StatusForbidden, "parental_consent_required", "verified parental consent required")
						return
					}
					log.Printf(`{"level":"error","msg":"access_gate_consent_check_failed","err":"%v"}`, err)
					g.deny(w, r, http.StatusServiceUnavailable, "service_unavailable", "consent lookup unavailable")
					return
				}
			}

			principal := &Principal{
				UserID:    u.ID,
				Email:     u.Email,
				Role:      u.Role,
				TenantID:  claims.TenantID,
				SessionID: claims.SessionID,
				IsMinor:   u.IsMinor(),
				User:      u,
				Partition: p,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func roleAllowed(allowed []string, role string) bool {
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}
