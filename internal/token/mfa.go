package token

import (
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// mfaChallengeTTL bounds the gap between a password check and the TOTP
// code; a challenge is not a session and never reaches the session store.
const mfaChallengeTTL = 5 * time.Minute

// MFAClaims is the pending-login voucher handed back with requires_mfa.
type MFAClaims struct {
	TenantID string `json:"tenant_id"`
	Purpose  string `json:"purpose"`
	jwtv5.RegisteredClaims
}

// IssueMFAChallenge signs a short-lived voucher proving the password step
// already passed for this user.
func (s *Service) IssueMFAChallenge(sub Subject) (string, error) {
	now := s.now()
	claims := MFAClaims{
		TenantID: sub.TenantID,
		Purpose:  "mfa_challenge",
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Audience:  jwtv5.ClaimStrings{s.cfg.Audience},
			Subject:   sub.UserID,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(mfaChallengeTTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(s.cfg.AccessSecret)
}

// VerifyMFAChallenge validates a voucher and returns its claims. A token
// minted for any other purpose is rejected.
func (s *Service) VerifyMFAChallenge(raw string) (*MFAClaims, error) {
	var claims MFAClaims
	_, err := jwtv5.ParseWithClaims(raw, &claims,
		func(t *jwtv5.Token) (any, error) { return s.cfg.AccessSecret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(s.cfg.Issuer),
		jwtv5.WithAudience(s.cfg.Audience),
		jwtv5.WithTimeFunc(s.now),
	)
	if err != nil || claims.Purpose != "mfa_challenge" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
