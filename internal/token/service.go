// Package token mints, verifies and revokes the access/refresh pair. Access
// tokens are short-lived HS256 JWTs; refresh tokens are long-lived HS256
// JWTs signed with a separate secret and anchored to a Redis session entry.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/courtsidehq/authd/internal/audit"
	tokens "github.com/courtsidehq/authd/internal/security/token"
	"github.com/courtsidehq/authd/internal/session"
)

// ErrInvalidToken is the only failure callers see from verification paths.
// Signature, expiry, blacklist and session-absence are distinguished in the
// logs, never in the result.
var ErrInvalidToken = errors.New("token: invalid")

type AccessClaims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id"`
	IsMinor   bool   `json:"is_minor"`
	SessionID string `json:"session_id"`
	jwtv5.RegisteredClaims
}

type RefreshClaims struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	jwtv5.RegisteredClaims
}

type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Subject is the identity a pair is minted for.
type Subject struct {
	UserID   string
	Email    string
	Role     string
	TenantID string
	IsMinor  bool
}

// ClientInfo is the device context persisted with the session.
type ClientInfo struct {
	Fingerprint string
	IP          string
	UserAgent   string
}

type Config struct {
	Issuer        string
	Audience      string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type Service struct {
	cfg      Config
	sessions *session.Store
	auditor  *audit.Recorder
	now      func() time.Time
}

func NewService(cfg Config, sessions *session.Store, auditor *audit.Recorder) *Service {
	return &Service{cfg: cfg, sessions: sessions, auditor: auditor, now: func() time.Time { return time.Now().UTC() }}
}

// IssuePair signs an access/refresh pair for sessionID and persists the
// session metadata. The session write happens before the pair is returned,
// so a token can never reach a client ahead of its session entry.
func (s *Service) IssuePair(ctx context.Context, sub Subject, sessionID string, client ClientInfo) (Pair, error) {
	now := s.now()
	accessExp := now.Add(s.cfg.AccessTTL)
	refreshExp := now.Add(s.cfg.RefreshTTL)

	access, err := s.signAccess(sub, sessionID, now, accessExp)
	if err != nil {
		return Pair{}, err
	}

	refreshClaims := RefreshClaims{
		TenantID:  sub.TenantID,
		SessionID: sessionID,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Audience:  jwtv5.ClaimStrings{s.cfg.Audience},
			Subject:   sub.UserID,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(refreshExp),
			ID:        uuid.NewString(),
		},
	}
	refresh, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, refreshClaims).SignedString(s.cfg.RefreshSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("token: sign refresh: %w", err)
	}

	meta := session.Meta{
		SessionID:   sessionID,
		UserID:      sub.UserID,
		TenantID:    sub.TenantID,
		RefreshHash: tokens.SHA256B64(refresh),
		Fingerprint: client.Fingerprint,
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		IssuedAt:    now,
		ExpiresAt:   refreshExp,
	}
	if err := s.sessions.Save(ctx, meta, s.cfg.RefreshTTL); err != nil {
		return Pair{}, err
	}

	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventTokenIssued,
		TenantID: sub.TenantID,
		ActorID:  sub.UserID,
		Success:  true,
		IP:       client.IP, UserAgent: client.UserAgent,
	})
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
	}, nil
}

func (s *Service) signAccess(sub Subject, sessionID string, now, exp time.Time) (string, error) {
	claims := AccessClaims{
		Email:     sub.Email,
		Role:      sub.Role,
		TenantID:  sub.TenantID,
		IsMinor:   sub.IsMinor,
		SessionID: sessionID,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Audience:  jwtv5.ClaimStrings{s.cfg.Audience},
			Subject:   sub.UserID,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(s.cfg.AccessSecret)
	if err != nil {
		return "", fmt.Errorf("token: sign access: %w", err)
	}
	return signed, nil
}

// VerifyAccess validates signature, issuer, audience and expiry, then
// checks session liveness and the blacklist. Every failure collapses to
// ErrInvalidToken for the caller.
func (s *Service) VerifyAccess(ctx context.Context, raw string) (*AccessClaims, error) {
	var claims AccessClaims
	_, err := jwtv5.ParseWithClaims(raw, &claims,
		func(t *jwtv5.Token) (any, error) { return s.cfg.AccessSecret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(s.cfg.Issuer),
		jwtv5.WithAudience(s.cfg.Audience),
		jwtv5.WithTimeFunc(s.now),
	)
	if err != nil {
		log.Printf(`{"level":"debug","msg":"access_verify_failed","err":"%v"}`, err)
		return nil, ErrInvalidToken
	}

	meta, err := s.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		log.Printf(`{"level":"debug","msg":"access_session_gone","session_id":"%s"}`, claims.SessionID)
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err // infrastructure failure, not "invalid credentials"
	}
	if meta.UserID != claims.Subject || meta.TenantID != claims.TenantID {
		log.Printf(`{"level":"warn","msg":"access_session_mismatch","session_id":"%s"}`, claims.SessionID)
		return nil, ErrInvalidToken
	}

	listed, err := s.sessions.IsBlacklisted(ctx, tokens.SHA256B64(raw))
	if err != nil {
		return nil, err
	}
	if listed {
		log.Printf(`{"level":"debug","msg":"access_blacklisted","session_id":"%s"}`, claims.SessionID)
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// Refresh validates the refresh token against its session entry and mints a
// new access token for the same session. The refresh token itself is
// returned unchanged: this design does not rotate refresh tokens per use.
func (s *Service) Refresh(ctx context.Context, rawRefresh string, sub func(userID, tenantID string) (Subject, error)) (Pair, error) {
	var claims RefreshClaims
	_, err := jwtv5.ParseWithClaims(rawRefresh, &claims,
		func(t *jwtv5.Token) (any, error) { return s.cfg.RefreshSecret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(s.cfg.Issuer),
		jwtv5.WithAudience(s.cfg.Audience),
		jwtv5.WithTimeFunc(s.now),
	)
	if err != nil {
		// an expired refresh token's session is garbage either way
		if unverified := s.parseExpiredRefresh(rawRefresh); unverified != nil {
			_ = s.sessions.Delete(ctx, unverified.TenantID, unverified.Subject, unverified.SessionID)
		}
		log.Printf(`{"level":"debug","msg":"refresh_verify_failed","err":"%v"}`, err)
		return Pair{}, ErrInvalidToken
	}

	meta, err := s.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return Pair{}, ErrInvalidToken
	}
	if err != nil {
		return Pair{}, err
	}
	if meta.UserID != claims.Subject || meta.TenantID != claims.TenantID ||
		meta.RefreshHash != tokens.SHA256B64(rawRefresh) {
		log.Printf(`{"level":"warn","msg":"refresh_session_mismatch","session_id":"%s"}`, claims.SessionID)
		return Pair{}, ErrInvalidToken
	}

	subject, err := sub(claims.Subject, claims.TenantID)
	if err != nil {
		return Pair{}, err
	}

	now := s.now()
	access, err := s.signAccess(subject, claims.SessionID, now, now.Add(s.cfg.AccessTTL))
	if err != nil {
		return Pair{}, err
	}
	if err := s.sessions.Touch(ctx, claims.SessionID, s.cfg.RefreshTTL); err != nil {
		return Pair{}, err
	}

	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventTokenRefreshed,
		TenantID: claims.TenantID,
		ActorID:  claims.Subject,
		Success:  true,
	})
	return Pair{
		AccessToken:  access,
		RefreshToken: rawRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
	}, nil
}

// ParseRefresh validates a refresh token's signature and registered claims
// without touching the session store. Callers holding a verified principal
// use it to check that a presented refresh token is their own.
func (s *Service) ParseRefresh(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	_, err := jwtv5.ParseWithClaims(raw, &claims,
		func(t *jwtv5.Token) (any, error) { return s.cfg.RefreshSecret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(s.cfg.Issuer),
		jwtv5.WithAudience(s.cfg.Audience),
		jwtv5.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// parseExpiredRefresh extracts claims from a refresh token whose only
// defect is expiry, so its session can be cleaned up. Bad signatures yield nil.
func (s *Service) parseExpiredRefresh(raw string) *RefreshClaims {
	var claims RefreshClaims
	_, err := jwtv5.ParseWithClaims(raw, &claims,
		func(t *jwtv5.Token) (any, error) { return s.cfg.RefreshSecret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(s.cfg.Issuer),
		jwtv5.WithoutClaimsValidation(),
	)
	if err != nil || claims.SessionID == "" {
		return nil
	}
	return &claims
}

// BlacklistAccess denies an access token for exactly its remaining life.
func (s *Service) BlacklistAccess(ctx context.Context, raw string) error {
	var claims AccessClaims
	_, err := jwtv5.ParseWithClaims(raw, &claims,
		func(t *jwtv5.Token) (any, error) { return s.cfg.AccessSecret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(s.cfg.Issuer),
		jwtv5.WithTimeFunc(s.now),
	)
	if err != nil {
		return ErrInvalidToken
	}
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	return s.sessions.Blacklist(ctx, tokens.SHA256B64(raw), remaining)
}

// RevokeSession deletes the session entry; logout, forced logout and
// password-change invalidation all funnel through here. Idempotent.
func (s *Service) RevokeSession(ctx context.Context, tenantID, userID, sessionID string) error {
	if err := s.sessions.Delete(ctx, tenantID, userID, sessionID); err != nil {
		return err
	}
	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventRevocation,
		TenantID: tenantID,
		ActorID:  userID,
		Success:  true,
		Reason:   "session",
	})
	return nil
}

// RevokeAll deletes every session in the user's index.
func (s *Service) RevokeAll(ctx context.Context, tenantID, userID string) (int, error) {
	n, err := s.sessions.DeleteAll(ctx, tenantID, userID)
	if err != nil {
		return n, err
	}
	s.auditor.Emit(ctx, audit.Event{
		Type:     audit.EventRevocation,
		TenantID: tenantID,
		ActorID:  userID,
		Success:  true,
		Reason:   "all_sessions",
	})
	return n, nil
}

// AccessTTL exposes the configured access lifetime for response bodies.
func (s *Service) AccessTTL() time.Duration  { return s.cfg.AccessTTL }
func (s *Service) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }
