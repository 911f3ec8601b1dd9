package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "authd", 2*time.Second), mr
}

func meta(sessionID, userID string) Meta {
	now := time.Now().UTC().Truncate(time.Second)
	return Meta{
		SessionID:   sessionID,
		UserID:      userID,
		TenantID:    "westside",
		RefreshHash: "hash-" + sessionID,
		Fingerprint: "fp",
		IP:          "10.0.0.1",
		UserAgent:   "test-agent",
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m := meta("s1", "u1")
	require.NoError(t, s.Save(ctx, m, time.Hour))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, m, *got)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentSessionsAreAdditive(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, meta("s1", "u1"), time.Hour))
	require.NoError(t, s.Save(ctx, meta("s2", "u1"), time.Hour))

	ids, err := s.ListSessionIDs(ctx, "westside", "u1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"s1", "s2"}, ids)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, meta("s1", "u1"), time.Hour))
	require.NoError(t, s.Delete(ctx, "westside", "u1", "s1"))
	// second delete of the same session must be a silent no-op
	require.NoError(t, s.Delete(ctx, "westside", "u1", "s1"))

	_, err := s.Get(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAllOnlyTouchesOneUser(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, meta("a1", "alice"), time.Hour))
	require.NoError(t, s.Save(ctx, meta("a2", "alice"), time.Hour))
	require.NoError(t, s.Save(ctx, meta("b1", "bob"), time.Hour))

	n, err := s.DeleteAll(ctx, "westside", "alice")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = s.Get(ctx, "a1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "a2")
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "bob", got.UserID)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, meta("s1", "u1"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTouchExtendsTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, meta("s1", "u1"), time.Minute))
	require.NoError(t, s.Touch(ctx, "s1", time.Hour))

	mr.FastForward(30 * time.Minute)
	_, err := s.Get(ctx, "s1")
	require.NoError(t, err)
}

func TestBlacklist(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Blacklist(ctx, "tok-hash", time.Minute))
	on, err := s.IsBlacklisted(ctx, "tok-hash")
	require.NoError(t, err)
	require.True(t, on)

	off, err := s.IsBlacklisted(ctx, "other-hash")
	require.NoError(t, err)
	require.False(t, off)

	// marker self-expires with the token it blocks
	mr.FastForward(2 * time.Minute)
	on, err = s.IsBlacklisted(ctx, "tok-hash")
	require.NoError(t, err)
	require.False(t, on)
}

func TestBlacklistZeroTTLIsNoop(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Blacklist(context.Background(), "dead-token", 0))
	on, err := s.IsBlacklisted(context.Background(), "dead-token")
	require.NoError(t, err)
	require.False(t, on)
}
