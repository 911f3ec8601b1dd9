package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Postgres struct {
		DSN             string `yaml:"dsn"`
		MaxConns        int    `yaml:"max_conns"`
		MinConns        int    `yaml:"min_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		QueryTimeout    string `yaml:"query_timeout"`
	} `yaml:"postgres"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Prefix    string `yaml:"prefix"`
		OpTimeout string `yaml:"op_timeout"`
	} `yaml:"redis"`

	JWT struct {
		Issuer        string `yaml:"issuer"`
		Audience      string `yaml:"audience"`
		AccessSecret  string `yaml:"access_secret"`
		RefreshSecret string `yaml:"refresh_secret"`
		AccessTTL     string `yaml:"access_ttl"`
		RefreshTTL    string `yaml:"refresh_ttl"`
	} `yaml:"jwt"`

	Tenant struct {
		Default string `yaml:"default"`
		Header  string `yaml:"header"`
	} `yaml:"tenant"`

	Lockout struct {
		Threshold int    `yaml:"threshold"`
		Duration  string `yaml:"duration"`
	} `yaml:"lockout"`

	MFA struct {
		Issuer      string `yaml:"issuer"`
		WindowSteps int    `yaml:"window_steps"`
		BackupCodes int    `yaml:"backup_codes"`
	} `yaml:"mfa"`

	Rate struct {
		Enabled  bool     `yaml:"enabled"`
		Login    RateRule `yaml:"login"`
		Register RateRule `yaml:"register"`
		Reset    RateRule `yaml:"reset"`
	} `yaml:"rate"`

	Security struct {
		PasswordPolicy struct {
			MinLength     int  `yaml:"min_length"`
			RequireUpper  bool `yaml:"require_upper"`
			RequireLower  bool `yaml:"require_lower"`
			RequireDigit  bool `yaml:"require_digit"`
			RequireSymbol bool `yaml:"require_symbol"`
		} `yaml:"password_policy"`
	} `yaml:"security"`
}

type RateRule struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// Load reads the YAML file at path (path == "" loads defaults + env only),
// applies defaults and env overrides, and validates duration strings.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 15
	}
	if c.Postgres.MinConns == 0 {
		c.Postgres.MinConns = 2
	}
	if c.Postgres.ConnMaxLifetime == "" {
		c.Postgres.ConnMaxLifetime = "30m"
	}
	if c.Postgres.QueryTimeout == "" {
		c.Postgres.QueryTimeout = "5s"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "authd"
	}
	if c.Redis.OpTimeout == "" {
		c.Redis.OpTimeout = "2s"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "courtside-authd"
	}
	if c.JWT.Audience == "" {
		c.JWT.Audience = "courtside"
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "15m"
	}
	if c.JWT.RefreshTTL == "" {
		c.JWT.RefreshTTL = "720h" // 30d
	}
	if c.Tenant.Default == "" {
		c.Tenant.Default = "public_league"
	}
	if c.Tenant.Header == "" {
		c.Tenant.Header = "X-Tenant-Id"
	}
	if c.Lockout.Threshold == 0 {
		c.Lockout.Threshold = 5
	}
	if c.Lockout.Duration == "" {
		c.Lockout.Duration = "30m"
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = "Courtside"
	}
	if c.MFA.WindowSteps == 0 {
		c.MFA.WindowSteps = 2
	}
	if c.MFA.BackupCodes == 0 {
		c.MFA.BackupCodes = 8
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 5
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "15m"
	}
	if c.Rate.Register.Limit == 0 {
		c.Rate.Register.Limit = 3
	}
	if c.Rate.Register.Window == "" {
		c.Rate.Register.Window = "1h"
	}
	if c.Rate.Reset.Limit == 0 {
		c.Rate.Reset.Limit = 3
	}
	if c.Rate.Reset.Window == "" {
		c.Rate.Reset.Window = "1h"
	}
	if c.Security.PasswordPolicy.MinLength == 0 {
		c.Security.PasswordPolicy.MinLength = 10
	}

	c.applyEnvOverrides()

	// validate duration strings up front so a typo fails at boot, not mid-request
	for _, d := range []string{
		c.Postgres.ConnMaxLifetime, c.Postgres.QueryTimeout, c.Redis.OpTimeout,
		c.JWT.AccessTTL, c.JWT.RefreshTTL, c.Lockout.Duration,
		c.Rate.Login.Window, c.Rate.Register.Window, c.Rate.Reset.Window,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return nil, fmt.Errorf("config: bad duration %q: %w", d, err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configurations that cannot possibly serve traffic.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.AccessSecret) == "" {
		return fmt.Errorf("config: jwt.access_secret is required")
	}
	if strings.TrimSpace(c.JWT.RefreshSecret) == "" {
		return fmt.Errorf("config: jwt.refresh_secret is required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("config: access and refresh secrets must differ")
	}
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	return nil
}

func (c *Config) AccessTTL() time.Duration      { return mustDur(c.JWT.AccessTTL) }
func (c *Config) RefreshTTL() time.Duration     { return mustDur(c.JWT.RefreshTTL) }
func (c *Config) LockoutFor() time.Duration     { return mustDur(c.Lockout.Duration) }
func (c *Config) QueryTimeout() time.Duration   { return mustDur(c.Postgres.QueryTimeout) }
func (c *Config) RedisOpTimeout() time.Duration { return mustDur(c.Redis.OpTimeout) }

// mustDur is safe once Load has validated the string.
func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides lets the environment win over config.yaml.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	if v, ok := getEnvStr("POSTGRES_DSN"); ok {
		c.Postgres.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Postgres.MaxConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MIN_CONNS"); ok {
		c.Postgres.MinConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Postgres.ConnMaxLifetime = v
	}
	if v, ok := getEnvStr("POSTGRES_QUERY_TIMEOUT"); ok {
		c.Postgres.QueryTimeout = v
	}

	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Redis.Prefix = v
	}
	if v, ok := getEnvStr("REDIS_OP_TIMEOUT"); ok {
		c.Redis.OpTimeout = v
	}

	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_AUDIENCE"); ok {
		c.JWT.Audience = v
	}
	if v, ok := getEnvStr("JWT_ACCESS_SECRET"); ok {
		c.JWT.AccessSecret = v
	}
	if v, ok := getEnvStr("JWT_REFRESH_SECRET"); ok {
		c.JWT.RefreshSecret = v
	}
	if v, ok := getEnvStr("JWT_ACCESS_TTL"); ok {
		c.JWT.AccessTTL = v
	}
	if v, ok := getEnvStr("JWT_REFRESH_TTL"); ok {
		c.JWT.RefreshTTL = v
	}

	if v, ok := getEnvStr("TENANT_DEFAULT"); ok {
		c.Tenant.Default = v
	}
	if v, ok := getEnvStr("TENANT_HEADER"); ok {
		c.Tenant.Header = v
	}

	if v, ok := getEnvInt("LOCKOUT_THRESHOLD"); ok {
		c.Lockout.Threshold = v
	}
	if v, ok := getEnvStr("LOCKOUT_DURATION"); ok {
		c.Lockout.Duration = v
	}

	if v, ok := getEnvStr("MFA_ISSUER"); ok {
		c.MFA.Issuer = v
	}
	if v, ok := getEnvInt("MFA_WINDOW_STEPS"); ok {
		c.MFA.WindowSteps = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_LOGIN_LIMIT"); ok {
		c.Rate.Login.Limit = v
	}
	if v, ok := getEnvStr("RATE_LOGIN_WINDOW"); ok {
		c.Rate.Login.Window = v
	}
	if v, ok := getEnvInt("RATE_REGISTER_LIMIT"); ok {
		c.Rate.Register.Limit = v
	}
	if v, ok := getEnvStr("RATE_REGISTER_WINDOW"); ok {
		c.Rate.Register.Window = v
	}
	if v, ok := getEnvInt("RATE_RESET_LIMIT"); ok {
		c.Rate.Reset.Limit = v
	}
	if v, ok := getEnvStr("RATE_RESET_WINDOW"); ok {
		c.Rate.Reset.Window = v
	}

	if v, ok := getEnvInt("SECURITY_PASSWORD_POLICY_MIN_LENGTH"); ok {
		c.Security.PasswordPolicy.MinLength = v
	}
	if v, ok := getEnvBool("SECURITY_PASSWORD_POLICY_REQUIRE_UPPER"); ok {
		c.Security.PasswordPolicy.RequireUpper = v
	}
	if v, ok := getEnvBool("SECURITY_PASSWORD_POLICY_REQUIRE_LOWER"); ok {
		c.Security.PasswordPolicy.RequireLower = v
	}
	if v, ok := getEnvBool("SECURITY_PASSWORD_POLICY_REQUIRE_DIGIT"); ok {
		c.Security.PasswordPolicy.RequireDigit = v
	}
	if v, ok := getEnvBool("SECURITY_PASSWORD_POLICY_REQUIRE_SYMBOL"); ok {
		c.Security.PasswordPolicy.RequireSymbol = v
	}
}
