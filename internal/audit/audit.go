// Package audit defines the event contract shared with the external
// audit-log collaborator. Storage beyond this contract lives elsewhere.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Event types recorded by the auth engine.
const (
	EventLogin          = "auth.login"
	EventRegister       = "auth.register"
	EventTokenIssued    = "auth.token_issued"
	EventTokenRefreshed = "auth.token_refreshed"
	EventLogout         = "auth.logout"
	EventRevocation     = "auth.revocation"
	EventPasswordChange = "auth.password_change"
	EventMFAEnrolled    = "auth.mfa_enrolled"
	EventMFAVerified    = "auth.mfa_verified"
	EventConsentChange  = "auth.consent_change"
)

// Event is one audit record. Every authentication attempt, token issuance,
// revocation, MFA change and consent transition produces one, success or not.
type Event struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives events. Implementations must not block the request path;
// a failed sink write is logged and dropped, never surfaced to the caller.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Recorder fans events out to a sink and always mirrors them to the log.
type Recorder struct {
	sink Sink
}

func NewRecorder(sink Sink) *Recorder { return &Recorder{sink: sink} }

func (r *Recorder) Emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b, _ := json.Marshal(e)
	log.Printf(`{"level":"info","msg":"audit","event":%s}`, b)

	if r == nil || r.sink == nil {
		return
	}
	if err := r.sink.Write(ctx, e); err != nil {
		log.Printf(`{"level":"warn","msg":"audit_sink_write_failed","type":"%s","err":"%v"}`, e.Type, err)
	}
}
