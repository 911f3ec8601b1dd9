package store

import (
	"context"

	"github.com/courtsidehq/authd/internal/audit"
	"github.com/courtsidehq/authd/internal/tenant"
)

// AuditSink writes audit events into the owning tenant's audit_log table.
// Events without a tenant id (pre-resolution failures) stay log-only.
type AuditSink struct {
	store  *Store
	router *tenant.Router
}

func NewAuditSink(store *Store, router *tenant.Router) *AuditSink {
	return &AuditSink{store: store, router: router}
}

func (s *AuditSink) Write(ctx context.Context, e audit.Event) error {
	if e.TenantID == "" {
		return nil
	}
	p, err := s.router.Lookup(ctx, e.TenantID)
	if err != nil {
		return err
	}
	ctx, cancel := s.store.opCtx(ctx)
	defer cancel()
	_, err = p.Pool().Exec(ctx, `
		INSERT INTO `+p.Table("audit_log")+`
			(event_type, actor_id, success, reason, ip, user_agent, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Type, e.ActorID, e.Success, e.Reason, e.IP, e.UserAgent, e.At)
	return err
}
