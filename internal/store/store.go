// Package store persists users, consent records and session history inside
// a single tenant partition. Every function takes the *tenant.Partition the
// request resolved; no query ever crosses partitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/courtsidehq/authd/internal/tenant"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

// Store binds a query timeout to partition-scoped operations. The pool
// itself lives on the Partition so the router stays the single authority on
// which schema a request may touch.
type Store struct {
	queryTimeout time.Duration
}

func New(queryTimeout time.Duration) *Store {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Store{queryTimeout: queryTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Ping reports database reachability for readiness checks.
func (s *Store) Ping(ctx context.Context, p *tenant.Partition) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return p.Pool().Ping(ctx)
}

// isUniqueViolation maps the pg error for duplicate-email conflicts.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
