// Package totp implements RFC 6238 time-based one-time passwords
// (HMAC-SHA1, 6 digits, 30s period) for MFA enrollment and verification.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

const (
	period = 30 // seconds per time step
	digits = 6
)

// GenerateSecret returns 20 random bytes plus their base32 encoding
// without padding (RFC 3548), the form authenticator apps expect.
func GenerateSecret() (raw []byte, b32 string, err error) {
	raw = make([]byte, 20)
	if _, err = rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// DecodeSecret reverses GenerateSecret's encoding.
func DecodeSecret(b32 string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimSpace(b32)))
}

// EnrollmentURL builds the otpauth:// URI encoded into the enrollment QR.
func EnrollmentURL(issuer, accountName, secretB32 string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secretB32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", digits))
	q.Set("period", fmt.Sprintf("%d", period))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// Verify checks code against the counters in [now-windowSteps, now+windowSteps].
func Verify(secret []byte, code string, now time.Time, windowSteps int) bool {
	code = strings.TrimSpace(code)
	if len(code) != digits {
		return false
	}
	counter := now.Unix() / period
	for c := counter - int64(windowSteps); c <= counter+int64(windowSteps); c++ {
		if hotp(secret, c) == code {
			return true
		}
	}
	return false
}

// hotp computes HOTP(K, C) per RFC 4226 with dynamic truncation.
func hotp(secret []byte, counter int64) string {
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	m := hmac.New(sha1.New, secret)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	return fmt.Sprintf("%0*d", digits, bin%int(math.Pow10(digits)))
}
