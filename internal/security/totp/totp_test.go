package totp

import (
	"strings"
	"testing"
	"time"
)

// RFC 6238 Appendix B test vectors for the SHA1 mode, truncated from
// 8 digits to the trailing 6 we generate.
func TestVerify_RFC6238Vectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	vectors := []struct {
		unix int64
		code string
	}{
		{59, "287082"},          // full vector 94287082
		{1111111109, "081804"},  // 07081804
		{1111111111, "050471"},  // 14050471
		{1234567890, "005924"},  // 89005924
		{2000000000, "279037"},  // 69279037
		{20000000000, "353130"}, // 65353130
	}
	for _, v := range vectors {
		if !Verify(secret, v.code, time.Unix(v.unix, 0), 0) {
			t.Fatalf("vector at t=%d: expected %s to verify", v.unix, v.code)
		}
	}
}

func TestVerify_WindowSkew(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0)
	prev := hotp(secret, now.Unix()/period-2)
	next := hotp(secret, now.Unix()/period+2)

	if !Verify(secret, prev, now, 2) {
		t.Fatal("code two steps behind should verify with window 2")
	}
	if !Verify(secret, next, now, 2) {
		t.Fatal("code two steps ahead should verify with window 2")
	}
	if Verify(secret, prev, now, 1) {
		t.Fatal("code two steps behind must not verify with window 1")
	}
}

func TestVerify_RejectsMalformedCodes(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Now()
	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		if Verify(secret, code, now, 2) {
			t.Fatalf("expected %q to be rejected", code)
		}
	}
}

func TestSecretRoundTripAndURL(t *testing.T) {
	raw, b32, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeSecret(b32)
	if err != nil {
		t.Fatal(err)
	}
	if string(back) != string(raw) {
		t.Fatal("decoded secret differs from generated secret")
	}

	u := EnrollmentURL("Courtside", "coach@westside.example", b32)
	if !strings.HasPrefix(u, "otpauth://totp/") {
		t.Fatalf("unexpected scheme: %s", u)
	}
	if !strings.Contains(u, "secret="+b32) {
		t.Fatal("enrollment URL missing secret")
	}
	if !strings.Contains(u, "issuer=Courtside") {
		t.Fatal("enrollment URL missing issuer")
	}
}
