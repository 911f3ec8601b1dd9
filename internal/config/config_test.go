package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsAndValidation(t *testing.T) {
	p := writeYAML(t, `
postgres:
  dsn: postgres://localhost/authd
jwt:
  access_secret: a-secret
  refresh_secret: b-secret
`)
	c, err := Load(p)
	require.NoError(t, err)

	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, 15*time.Minute, c.AccessTTL())
	require.Equal(t, 720*time.Hour, c.RefreshTTL())
	require.Equal(t, 5, c.Lockout.Threshold)
	require.Equal(t, 30*time.Minute, c.LockoutFor())
	require.Equal(t, "public_league", c.Tenant.Default)
	require.Equal(t, 2, c.MFA.WindowSteps)
	require.Equal(t, 8, c.MFA.BackupCodes)
	require.Equal(t, 5, c.Rate.Login.Limit)
	require.Equal(t, "15m", c.Rate.Login.Window)
	require.Equal(t, 3, c.Rate.Register.Limit)
}

func TestLoad_RejectsSharedSecrets(t *testing.T) {
	p := writeYAML(t, `
postgres:
  dsn: postgres://localhost/authd
jwt:
  access_secret: same
  refresh_secret: same
`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	p := writeYAML(t, `
postgres:
  dsn: postgres://localhost/authd
jwt:
  access_secret: a
  refresh_secret: b
  access_ttl: fifteen-minutes
`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("TENANT_DEFAULT", "westside_youth")

	p := writeYAML(t, `
postgres:
  dsn: postgres://localhost/authd
jwt:
  access_secret: a
  refresh_secret: b
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, c.AccessTTL())
	require.Equal(t, 3, c.Lockout.Threshold)
	require.Equal(t, "westside_youth", c.Tenant.Default)
}
