package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidehq/authd/internal/coppa"
	"github.com/courtsidehq/authd/internal/store"
	"github.com/courtsidehq/authd/internal/tenant"
	"github.com/courtsidehq/authd/internal/token"
)

type fakeVerifier struct {
	claims *token.AccessClaims
	err    error
}

func (f fakeVerifier) VerifyAccess(context.Context, string) (*token.AccessClaims, error) {
	return f.claims, f.err
}

type fakeTenants struct{ p *tenant.Partition }

func (f fakeTenants) Lookup(context.Context, string) (*tenant.Partition, error) {
	if f.p == nil {
		return nil, tenant.ErrInvalidID
	}
	return f.p, nil
}

type fakeLoader struct {
	u   *store.User
	err error
}

func (f fakeLoader) GetUserByID(context.Context, *tenant.Partition, uuid.UUID) (*store.User, error) {
	return f.u, f.err
}

type fakeConsent struct{ err error }

func (f fakeConsent) RequireConsent(context.Context, *tenant.Partition, *store.User) error {
	return f.err
}

func activeUser() *store.User {
	return &store.User{
		ID:            uuid.New(),
		Email:         "coach@rivercity.test",
		Role:          store.RoleCoach,
		Age:           30,
		Status:        store.StatusActive,
		EmailVerified: true,
	}
}

func claimsFor(u *store.User) *token.AccessClaims {
	c := &token.AccessClaims{
		Email:     u.Email,
		Role:      u.Role,
		TenantID:  "river_city",
		SessionID: "sess-1",
	}
	c.Subject = u.ID.String()
	return c
}

type gateResult struct {
	status    int
	code      string
	principal *Principal
}

func runGate(t *testing.T, g *Gate, policy Policy, authz string) gateResult {
	t.Helper()
	res := gateResult{status: http.StatusOK}
	handler := g.Require(policy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res.principal = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/protected", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		res.status = rec.Code
	}
	res.code = rec.Header().Get("X-Denied")
	return res
}

func denyToHeader(w http.ResponseWriter, _ *http.Request, status int, code, _ string) {
	w.Header().Set("X-Denied", code)
	w.WriteHeader(status)
}

func newGate(v Verifier, l UserLoader, c ConsentGate) *Gate {
	return NewGate(v, fakeTenants{p: &tenant.Partition{}}, l, c, denyToHeader)
}

func TestGateAdmitsAndSetsPrincipal(t *testing.T) {
	u := activeUser()
	g := newGate(fakeVerifier{claims: claimsFor(u)}, fakeLoader{u: u}, fakeConsent{})

	res := runGate(t, g, AuthenticatedOnly, "Bearer good-token")
	require.Equal(t, http.StatusOK, res.status)
	require.NotNil(t, res.principal)
	assert.Equal(t, u.ID, res.principal.UserID)
	assert.Equal(t, "river_city", res.principal.TenantID)
	assert.Equal(t, "sess-1", res.principal.SessionID)
	assert.False(t, res.principal.IsMinor)
}

func TestGateFailFastOrder(t *testing.T) {
	adult := activeUser()

	suspended := activeUser()
	suspended.Status = store.StatusSuspended

	pending := activeUser()
	pending.Status = store.StatusPendingVerification

	minor := activeUser()
	minor.Age = 10

	unverified := activeUser()
	unverified.EmailVerified = false

	cases := []struct {
		name   string
		policy Policy
		authz  string
		v      Verifier
		l      UserLoader
		c      ConsentGate
		status int
		code   string
	}{
		{
			name:   "missing bearer",
			policy: AuthenticatedOnly,
			v:      fakeVerifier{claims: claimsFor(adult)},
			l:      fakeLoader{u: adult},
			status: http.StatusUnauthorized, code: "missing_token",
		},
		{
			name:   "verify failure",
			policy: AuthenticatedOnly, authz: "Bearer bad",
			v:      fakeVerifier{err: token.ErrInvalidToken},
			l:      fakeLoader{u: adult},
			status: http.StatusUnauthorized, code: "invalid_token",
		},
		{
			name:   "user missing",
			policy: AuthenticatedOnly, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(adult)},
			l:      fakeLoader{err: store.ErrNotFound},
			status: http.StatusUnauthorized, code: "invalid_token",
		},
		{
			name:   "account not active",
			policy: AuthenticatedOnly, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(suspended)},
			l:      fakeLoader{u: suspended},
			status: http.StatusForbidden, code: "account_inactive",
		},
		{
			name:   "account still pending first issuance",
			policy: AuthenticatedOnly, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(pending)},
			l:      fakeLoader{u: pending},
			status: http.StatusForbidden, code: "account_inactive",
		},
		{
			name:   "role rejected",
			policy: Policy{Roles: []string{store.RoleLeagueAdmin}, AllowMinors: true}, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(adult)},
			l:      fakeLoader{u: adult},
			status: http.StatusForbidden, code: "insufficient_role",
		},
		{
			name:   "below minimum age",
			policy: Policy{MinAge: 18, AllowMinors: true}, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(minor)},
			l:      fakeLoader{u: minor},
			status: http.StatusForbidden, code: "age_restricted",
		},
		{
			name:   "minor on adult-only route",
			policy: Policy{}, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(minor)},
			l:      fakeLoader{u: minor},
			status: http.StatusForbidden, code: "age_restricted",
		},
		{
			name:   "mfa not enabled",
			policy: Policy{RequireMFA: true, AllowMinors: true}, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(adult)},
			l:      fakeLoader{u: adult},
			status: http.StatusForbidden, code: "mfa_required",
		},
		{
			name:   "email unverified",
			policy: Policy{RequireVerifiedEmail: true, AllowMinors: true}, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(unverified)},
			l:      fakeLoader{u: unverified},
			status: http.StatusForbidden, code: "email_unverified",
		},
		{
			name:   "consent invalid",
			policy: Policy{RequireConsent: true, AllowMinors: true}, authz: "Bearer good",
			v:      fakeVerifier{claims: claimsFor(minor)},
			l:      fakeLoader{u: minor},
			c:      fakeConsent{err: coppa.ErrConsentRequired},
			status: http.StatusForbidden, code: "parental_consent_required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			consent := tc.c
			if consent == nil {
				consent = fakeConsent{}
			}
			g := newGate(tc.v, tc.l, consent)
			res := runGate(t, g, tc.policy, tc.authz)
			assert.Equal(t, tc.status, res.status)
			assert.Equal(t, tc.code, res.code)
			assert.Nil(t, res.principal)
		})
	}
}

func TestGateInfrastructureErrorsAreNot401(t *testing.T) {
	u := activeUser()
	g := newGate(fakeVerifier{err: context.DeadlineExceeded}, fakeLoader{u: u}, fakeConsent{})

	res := runGate(t, g, AuthenticatedOnly, "Bearer good")
	assert.Equal(t, http.StatusServiceUnavailable, res.status)
	assert.Equal(t, "service_unavailable", res.code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", bearerToken(req))

	req.Header.Set("Authorization", "bearer lowercase-scheme")
	assert.Equal(t, "lowercase-scheme", bearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, bearerToken(req))
}
