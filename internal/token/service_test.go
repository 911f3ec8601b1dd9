package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidehq/authd/internal/audit"
	"github.com/courtsidehq/authd/internal/session"
)

func newTestService(t *testing.T) (*Service, *session.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := session.NewStore(client, "authd_test", 2*time.Second)
	svc := NewService(Config{
		Issuer:        "courtside-auth",
		Audience:      "courtside-api",
		AccessSecret:  []byte("access-secret-for-tests-only-0001"),
		RefreshSecret: []byte("refresh-secret-for-tests-only-001"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
	}, sessions, nil)
	return svc, sessions, mr
}

// captureSink collects audit events emitted through a recorder.
type captureSink struct{ events []audit.Event }

func (c *captureSink) Write(_ context.Context, e audit.Event) error {
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) types() []string {
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func testSubject() Subject {
	return Subject{
		UserID:   "u-100",
		Email:    "coach@rivercity.test",
		Role:     "coach",
		TenantID: "river_city",
		IsMinor:  false,
	}
}

func TestIssuePairAndVerify(t *testing.T) {
	svc, sessions, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-100", claims.Subject)
	assert.Equal(t, "coach", claims.Role)
	assert.Equal(t, "river_city", claims.TenantID)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.False(t, claims.IsMinor)

	// the session entry exists before the pair is handed out
	meta, err := sessions.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "u-100", meta.UserID)
	assert.NotEmpty(t, meta.RefreshHash)
}

func TestVerifyAccessRejectsTampering(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)

	_, err = svc.VerifyAccess(ctx, pair.AccessToken+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// a token signed with the refresh secret must not pass access checks
	_, err = svc.VerifyAccess(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessFailsAfterRevocation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(ctx, "river_city", "u-100", "sess-1"))

	_, err = svc.VerifyAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// revocation is idempotent
	require.NoError(t, svc.RevokeSession(ctx, "river_city", "u-100", "sess-1"))
}

func TestBlacklistIsImmediateAndScoped(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)
	second, err := svc.IssuePair(ctx, testSubject(), "sess-2", ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, svc.BlacklistAccess(ctx, first.AccessToken))

	_, err = svc.VerifyAccess(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// the other session's token is untouched
	_, err = svc.VerifyAccess(ctx, second.AccessToken)
	assert.NoError(t, err)
}

func TestRevokeAllIsolatesUsers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	subA := testSubject()
	subB := testSubject()
	subB.UserID = "u-200"

	pairA1, err := svc.IssuePair(ctx, subA, "sess-a1", ClientInfo{})
	require.NoError(t, err)
	pairA2, err := svc.IssuePair(ctx, subA, "sess-a2", ClientInfo{})
	require.NoError(t, err)
	pairB, err := svc.IssuePair(ctx, subB, "sess-b1", ClientInfo{})
	require.NoError(t, err)

	n, err := svc.RevokeAll(ctx, "river_city", "u-100")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.VerifyAccess(ctx, pairA1.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.VerifyAccess(ctx, pairA2.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.VerifyAccess(ctx, pairB.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshKeepsTokenAndMintsNewAccess(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)

	// move the clock so the new access token's expiry strictly increases
	base := svc.now()
	svc.now = func() time.Time { return base.Add(2 * time.Minute) }

	lookup := func(userID, tenantID string) (Subject, error) {
		assert.Equal(t, "u-100", userID)
		assert.Equal(t, "river_city", tenantID)
		return testSubject(), nil
	}

	refreshed, err := svc.Refresh(ctx, pair.RefreshToken, lookup)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	oldClaims, err := svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	newClaims, err := svc.VerifyAccess(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.True(t, newClaims.ExpiresAt.After(oldClaims.ExpiresAt.Time))
	assert.Equal(t, oldClaims.SessionID, newClaims.SessionID)
}

func TestRefreshRejectsForeignAndRevoked(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)

	lookup := func(userID, tenantID string) (Subject, error) { return testSubject(), nil }

	// an access token is not a refresh token
	_, err = svc.Refresh(ctx, pair.AccessToken, lookup)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// revoking the session kills the refresh token with it
	require.NoError(t, svc.RevokeSession(ctx, "river_city", "u-100", "sess-1"))
	_, err = svc.Refresh(ctx, pair.RefreshToken, lookup)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshClaimsRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)

	var claims RefreshClaims
	_, err = jwtv5.ParseWithClaims(pair.RefreshToken, &claims,
		func(t *jwtv5.Token) (any, error) { return []byte("refresh-secret-for-tests-only-001"), nil },
		jwtv5.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.Equal(t, "u-100", claims.Subject)
	assert.Equal(t, "river_city", claims.TenantID)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "courtside-auth", claims.Issuer)
}

func TestMFAChallengeRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)

	raw, err := svc.IssueMFAChallenge(testSubject())
	require.NoError(t, err)

	claims, err := svc.VerifyMFAChallenge(raw)
	require.NoError(t, err)
	assert.Equal(t, "u-100", claims.Subject)
	assert.Equal(t, "river_city", claims.TenantID)

	// an access token is not a challenge voucher
	pair, err := svc.IssuePair(context.Background(), testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)
	_, err = svc.VerifyMFAChallenge(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// expired voucher
	base := svc.now()
	svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	_, err = svc.VerifyMFAChallenge(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredRefreshCleansUpSession(t *testing.T) {
	svc, sessions, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)

	base := svc.now()
	svc.now = func() time.Time { return base.Add(31 * 24 * time.Hour) }

	lookup := func(userID, tenantID string) (Subject, error) { return testSubject(), nil }
	_, err = svc.Refresh(ctx, pair.RefreshToken, lookup)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = sessions.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestTokenLifecycleIsAudited(t *testing.T) {
	svc, _, _ := newTestService(t)
	sink := &captureSink{}
	svc.auditor = audit.NewRecorder(sink)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{IP: "10.0.0.1"})
	require.NoError(t, err)

	lookup := func(userID, tenantID string) (Subject, error) { return testSubject(), nil }
	_, err = svc.Refresh(ctx, pair.RefreshToken, lookup)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(ctx, "river_city", "u-100", "sess-1"))
	_, err = svc.RevokeAll(ctx, "river_city", "u-100")
	require.NoError(t, err)

	require.Equal(t, []string{
		audit.EventTokenIssued,
		audit.EventTokenRefreshed,
		audit.EventRevocation,
		audit.EventRevocation,
	}, sink.types())

	issued := sink.events[0]
	assert.Equal(t, "river_city", issued.TenantID)
	assert.Equal(t, "u-100", issued.ActorID)
	assert.Equal(t, "10.0.0.1", issued.IP)
	assert.True(t, issued.Success)
	assert.Equal(t, "session", sink.events[2].Reason)
	assert.Equal(t, "all_sessions", sink.events[3].Reason)
}

func TestParseRefreshChecksProvenance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject(), "sess-1", ClientInfo{})
	require.NoError(t, err)

	claims, err := svc.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u-100", claims.Subject)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "river_city", claims.TenantID)

	// an access token is not a refresh token
	_, err = svc.ParseRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ParseRefresh(pair.RefreshToken + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
