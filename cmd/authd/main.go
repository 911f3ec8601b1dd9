package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/courtsidehq/authd/internal/access"
	"github.com/courtsidehq/authd/internal/account"
	"github.com/courtsidehq/authd/internal/audit"
	"github.com/courtsidehq/authd/internal/config"
	"github.com/courtsidehq/authd/internal/coppa"
	"github.com/courtsidehq/authd/internal/httpapi"
	"github.com/courtsidehq/authd/internal/rate"
	"github.com/courtsidehq/authd/internal/security/password"
	"github.com/courtsidehq/authd/internal/session"
	"github.com/courtsidehq/authd/internal/store"
	"github.com/courtsidehq/authd/internal/tenant"
	"github.com/courtsidehq/authd/internal/token"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:   "authd",
		Short: "Multi-tenant auth and session engine for youth-sports leagues",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("AUTHD_CONFIG"), "path to config.yaml (env AUTHD_CONFIG)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate [tenant-id...]",
		Short: "Provision the default tenant (and any extra tenant ids) and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cfg, args)
		},
	}

	root.AddCommand(serve, migrate)
	if err := root.Execute(); err != nil {
		log.Printf(`{"level":"fatal","msg":"exit","err":"%v"}`, err)
		os.Exit(1)
	}
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		pc.MaxConns = int32(cfg.Postgres.MaxConns)
	}
	if cfg.Postgres.MinConns > 0 {
		pc.MinConns = int32(cfg.Postgres.MinConns)
	}
	if d, err := time.ParseDuration(cfg.Postgres.ConnMaxLifetime); err == nil {
		pc.MaxConnLifetime = d
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func newRedis(cfg *config.Config) *rdb.Client {
	return rdb.NewClient(&rdb.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func runMigrate(ctx context.Context, cfg *config.Config, extra []string) error {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	def, err := tenant.ParseID(cfg.Tenant.Default)
	if err != nil {
		return fmt.Errorf("default tenant: %w", err)
	}
	router, err := tenant.NewRouter(pool, tenant.Options{Default: def})
	if err != nil {
		return err
	}

	ids := append([]string{cfg.Tenant.Default}, extra...)
	for _, raw := range ids {
		id, err := tenant.ParseID(raw)
		if err != nil {
			return fmt.Errorf("tenant %q: %w", raw, err)
		}
		start := time.Now()
		if err := router.Provision(ctx, id); err != nil {
			return fmt.Errorf("provision %s: %w", id, err)
		}
		log.Printf(`{"level":"info","msg":"tenant_provisioned","tenant":"%s","duration_ms":%d}`,
			id, time.Since(start).Milliseconds())
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := newRedis(cfg)
	defer redisClient.Close()

	def, err := tenant.ParseID(cfg.Tenant.Default)
	if err != nil {
		return fmt.Errorf("default tenant: %w", err)
	}
	router, err := tenant.NewRouter(pool, tenant.Options{Default: def, OnProvision: func(id, result string, d time.Duration) {
		log.Printf(`{"level":"info","msg":"tenant_provision","tenant":"%s","result":"%s","duration_ms":%d}`,
			id, result, d.Milliseconds())
	}})
	if err != nil {
		return err
	}
	// the default tenant must exist before the first request
	if err := router.Provision(ctx, def); err != nil {
		return fmt.Errorf("provision default tenant: %w", err)
	}

	st := store.New(cfg.QueryTimeout())
	sessions := session.NewStore(redisClient, cfg.Redis.Prefix, cfg.RedisOpTimeout())
	auditor := audit.NewRecorder(store.NewAuditSink(st, router))

	tokens := token.NewService(token.Config{
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		AccessTTL:     cfg.AccessTTL(),
		RefreshTTL:    cfg.RefreshTTL(),
	}, sessions, auditor)

	consents := coppa.NewService(st, auditor)

	policy := password.Policy{
		MinLength:     cfg.Security.PasswordPolicy.MinLength,
		RequireUpper:  cfg.Security.PasswordPolicy.RequireUpper,
		RequireLower:  cfg.Security.PasswordPolicy.RequireLower,
		RequireDigit:  cfg.Security.PasswordPolicy.RequireDigit,
		RequireSymbol: cfg.Security.PasswordPolicy.RequireSymbol,
	}

	accounts := account.NewService(account.Config{
		LockoutThreshold: cfg.Lockout.Threshold,
		LockoutDuration:  cfg.LockoutFor(),
		MFAIssuer:        cfg.MFA.Issuer,
		MFAWindowSteps:   cfg.MFA.WindowSteps,
		BackupCodeCount:  cfg.MFA.BackupCodes,
		Policy:           policy,
	}, st, consents, tokens, auditor)

	recovery := account.NewRecovery(st, account.LogNotifier{}, tokens, auditor, policy, password.Default)

	handlers := &httpapi.Handlers{
		TenantHeader: cfg.Tenant.Header,
		Router:       router,
		Store:        st,
		Accounts:     accounts,
		Recovery:     recovery,
		Tokens:       tokens,
		Consents:     consents,
		Sessions:     sessions,
		Audit:        auditor,
	}

	gate := access.NewGate(tokens, router, st, consents, func(w http.ResponseWriter, _ *http.Request, status int, code, desc string) {
		httpapi.WriteError(w, status, code, desc, 1200)
	})

	metricsHandler, err := httpapi.RegisterMetrics(httpapi.MetricsConfig{
		GlobalPool: func() *pgxpool.Pool { return pool },
	})
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		limiter = &rate.RedisLimiter{Client: redisClient, Prefix: cfg.Redis.Prefix + ":rl"}
	}

	mux := httpapi.NewRouter(handlers, gate, httpapi.RouteConfig{
		CORSOrigins:  cfg.Server.CORSAllowedOrigins,
		Metrics:      metricsHandler,
		Limiter:      limiter,
		LoginRate:    ruleOf(cfg.Rate.Login),
		RegisterRate: ruleOf(cfg.Rate.Register),
		ResetRate:    ruleOf(cfg.Rate.Reset),
		ConsentRate:  ruleOf(cfg.Rate.Reset),
	})

	srv := httpapi.NewServer(cfg.Server.Addr, mux)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf(`{"level":"info","msg":"shutdown","signal":"%s"}`, sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func ruleOf(r config.RateRule) httpapi.RateRule {
	d, err := time.ParseDuration(r.Window)
	if err != nil {
		d = 15 * time.Minute
	}
	return httpapi.RateRule{Limit: r.Limit, Window: d}
}
