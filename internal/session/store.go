// Package session is the Redis-backed registry of live sessions: refresh
// metadata keyed by session id, a per-user index of session ids, and the
// access-token blacklist. All three namespaces carry TTLs matched to the
// tokens they guard, so stale entries expire without a reaper.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session: not found")

// Meta is everything the engine remembers about one login.
type Meta struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	RefreshHash string    `json:"refresh_hash"`
	Fingerprint string    `json:"fingerprint"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Store struct {
	client    *rdb.Client
	prefix    string
	opTimeout time.Duration
}

func NewStore(client *rdb.Client, prefix string, opTimeout time.Duration) *Store {
	if prefix == "" {
		prefix = "authd"
	}
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &Store{client: client, prefix: prefix, opTimeout: opTimeout}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) sessKey(id string) string { return s.key("sess", id) }
func (s *Store) indexKey(tenantID, userID string) string {
	return s.key("usersess", tenantID, userID)
}
func (s *Store) blKey(hash string) string { return s.key("bl", hash) }

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Save writes the metadata and adds the session to the user's index in one
// pipeline. Concurrent logins are additive: the index is a set.
func (s *Store) Save(ctx context.Context, m Meta, ttl time.Duration) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessKey(m.SessionID), b, ttl)
	idx := s.indexKey(m.TenantID, m.UserID)
	pipe.SAdd(ctx, idx, m.SessionID)
	pipe.Expire(ctx, idx, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*Meta, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.sessKey(sessionID)).Result()
	if errors.Is(err, rdb.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var m Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("session: corrupt entry %s: %w", sessionID, err)
	}
	return &m, nil
}

// Touch extends the metadata TTL after a successful refresh.
func (s *Store) Touch(ctx context.Context, sessionID string, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Expire(ctx, s.sessKey(sessionID), ttl).Err()
}

// Delete removes one session and its index entry. Deleting an absent
// session is a no-op, which makes double-logout harmless.
func (s *Store) Delete(ctx context.Context, tenantID, userID, sessionID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessKey(sessionID))
	pipe.SRem(ctx, s.indexKey(tenantID, userID), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteAll removes every session tracked in the user's index and returns
// how many metadata entries actually existed.
func (s *Store) DeleteAll(ctx context.Context, tenantID, userID string) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	idx := s.indexKey(tenantID, userID)
	ids, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("session: delete all: %w", err)
	}
	if len(ids) == 0 {
		return 0, s.client.Del(ctx, idx).Err()
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessKey(id))
	}
	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}
	if err := s.client.Del(ctx, idx).Err(); err != nil {
		return int(deleted), err
	}
	return int(deleted), nil
}

// ListSessionIDs reports the user's live session ids (for admin/support).
func (s *Store) ListSessionIDs(ctx context.Context, tenantID, userID string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.SMembers(ctx, s.indexKey(tenantID, userID)).Result()
}

// Blacklist stores a deny marker for a revoked access token. ttl must be
// the token's remaining life so the marker never outlives the token.
func (s *Store) Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // already expired, nothing to deny
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Set(ctx, s.blKey(tokenHash), "1", ttl).Err()
}

func (s *Store) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, s.blKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("session: blacklist check: %w", err)
	}
	return n > 0, nil
}

// Ping reports cache reachability for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
