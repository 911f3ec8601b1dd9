// Package tenant resolves request tenant hints to isolated Postgres schema
// partitions, provisioning the schema and its baseline tables on first use.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var ErrProvisionFailed = errors.New("tenant: schema provisioning failed")

// Partition is the handle for one tenant's data namespace. Every store
// operation takes a Partition; nothing else ever names a schema.
type Partition struct {
	id     ID
	schema string
	pool   *pgxpool.Pool
}

func (p *Partition) ID() ID               { return p.id }
func (p *Partition) Pool() *pgxpool.Pool  { return p.pool }
func (p *Partition) Table(name string) string {
	return p.schema + "." + name
}

// Router resolves tenant hints to provisioned partitions. Resolution happens
// once per request; the resulting Partition is threaded through everything
// downstream.
type Router struct {
	pool         *pgxpool.Pool
	def          ID
	provisioned  *gocache.Cache
	sf           singleflight.Group
	provisionCb  func(tenant string, result string, d time.Duration)
}

type Options struct {
	// Default is used when the request carries no usable hint.
	Default ID
	// OnProvision is an optional metrics callback (result: applied|cached|failed).
	OnProvision func(tenant string, result string, d time.Duration)
}

func NewRouter(pool *pgxpool.Pool, opts Options) (*Router, error) {
	if pool == nil {
		return nil, errors.New("tenant: nil pool")
	}
	if opts.Default == "" {
		return nil, errors.New("tenant: default tenant required")
	}
	return &Router{
		pool: pool,
		def:  opts.Default,
		// provisioned partitions never change shape at runtime; the TTL only
		// bounds memory if tenants churn
		provisioned: gocache.New(24*time.Hour, time.Hour),
		provisionCb: opts.OnProvision,
	}, nil
}

// Resolve maps an inbound hint to a ready partition. An empty or
// unresolvable hint falls back to the default tenant; a schema-creation
// failure is fatal for the request.
func (r *Router) Resolve(ctx context.Context, hint string) (*Partition, error) {
	id, err := ParseID(hint)
	if err != nil {
		if strings.TrimSpace(hint) != "" {
			log.Printf(`{"level":"debug","msg":"tenant_hint_unresolvable","hint":"%s"}`, hint)
		}
		id = r.def
	}
	return r.partition(ctx, id)
}

// Lookup resolves a known-good tenant id (e.g. one embedded in a verified
// token claim) without hint fallback.
func (r *Router) Lookup(ctx context.Context, raw string) (*Partition, error) {
	id, err := ParseID(raw)
	if err != nil {
		return nil, err
	}
	return r.partition(ctx, id)
}

func (r *Router) Default() ID { return r.def }

func (r *Router) partition(ctx context.Context, id ID) (*Partition, error) {
	key := string(id)
	if v, ok := r.provisioned.Get(key); ok {
		if r.provisionCb != nil {
			r.provisionCb(key, "cached", 0)
		}
		return v.(*Partition), nil
	}

	v, err, _ := r.sf.Do(key, func() (any, error) {
		start := time.Now()
		if err := r.Provision(ctx, id); err != nil {
			if r.provisionCb != nil {
				r.provisionCb(key, "failed", time.Since(start))
			}
			return nil, err
		}
		p := &Partition{id: id, schema: id.schemaName(), pool: r.pool}
		r.provisioned.SetDefault(key, p)
		if r.provisionCb != nil {
			r.provisionCb(key, "applied", time.Since(start))
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Partition), nil
}

// provisionLockID derives the pg_advisory_lock key for a tenant, so two
// processes provisioning the same tenant serialize instead of colliding.
func provisionLockID(id ID) int64 {
	h := sha256.Sum256([]byte("tenant_provision:" + string(id)))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// Provision creates the tenant schema and baseline tables exactly once.
// Safe to call concurrently across processes: the DDL runs under an
// advisory lock and every statement is IF NOT EXISTS.
func (r *Router) Provision(ctx context.Context, id ID) error {
	lockID := provisionLockID(id)

	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := r.pool.Acquire(lockCtx)
	if err != nil {
		return fmt.Errorf("%w: acquire: %v", ErrProvisionFailed, err)
	}
	defer conn.Release()

	// lock and DDL must share the connection; advisory locks are per-session
	if _, err := conn.Exec(lockCtx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return fmt.Errorf("%w: lock: %v", ErrProvisionFailed, err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			log.Printf(`{"level":"warn","msg":"tenant_unlock_failed","tenant":"%s","err":"%v"}`, id, err)
		}
	}()

	schema := id.schemaName()
	if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("%w: create schema %s: %v", ErrProvisionFailed, id, err)
	}
	for _, stmt := range baselineDDL {
		sql := strings.ReplaceAll(stmt, "%s", schema)
		if _, err := conn.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%w: ddl for %s: %v", ErrProvisionFailed, id, err)
		}
	}
	log.Printf(`{"level":"info","msg":"tenant_provisioned","tenant":"%s"}`, id)
	return nil
}
