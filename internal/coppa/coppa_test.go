package coppa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/courtsidehq/authd/internal/store"
)

func TestValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	granted := now.Add(-30 * 24 * time.Hour)
	stale := now.Add(-Validity - time.Hour)
	edge := now.Add(-Validity)

	cases := []struct {
		name string
		c    *store.Consent
		want bool
	}{
		{"nil record", nil, false},
		{"verified and fresh", &store.Consent{Status: store.ConsentVerified, GrantedAt: &granted}, true},
		{"pending", &store.Consent{Status: store.ConsentPending, GrantedAt: &granted}, false},
		{"declined", &store.Consent{Status: store.ConsentDeclined, GrantedAt: &granted}, false},
		{"verified but no grant timestamp", &store.Consent{Status: store.ConsentVerified}, false},
		{"expired", &store.Consent{Status: store.ConsentVerified, GrantedAt: &stale}, false},
		{"exactly at expiry", &store.Consent{Status: store.ConsentVerified, GrantedAt: &edge}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Valid(tc.c, now))
		})
	}
}

func TestValidityWindowIsOneYear(t *testing.T) {
	granted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &store.Consent{Status: store.ConsentVerified, GrantedAt: &granted}

	assert.True(t, Valid(c, granted.Add(Validity-time.Second)))
	assert.False(t, Valid(c, granted.Add(Validity)))
}
