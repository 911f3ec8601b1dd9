package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courtsidehq/authd/internal/access"
	"github.com/courtsidehq/authd/internal/account"
	"github.com/courtsidehq/authd/internal/audit"
	"github.com/courtsidehq/authd/internal/coppa"
	tokens "github.com/courtsidehq/authd/internal/security/token"
	"github.com/courtsidehq/authd/internal/session"
	"github.com/courtsidehq/authd/internal/store"
	"github.com/courtsidehq/authd/internal/tenant"
	"github.com/courtsidehq/authd/internal/token"
)

// Handlers owns the request-level glue between transport and the services.
type Handlers struct {
	TenantHeader string

	Router   *tenant.Router
	Store    *store.Store
	Accounts *account.Service
	Recovery *account.Recovery
	Tokens   *token.Service
	Consents *coppa.Service
	Sessions *session.Store
	Audit    *audit.Recorder
}

func (h *Handlers) partition(w http.ResponseWriter, r *http.Request) (*tenant.Partition, bool) {
	p, err := h.Router.Resolve(r.Context(), r.Header.Get(h.TenantHeader))
	if err != nil {
		log.Printf(`{"level":"error","msg":"tenant_resolve_failed","err":"%v"}`, err)
		WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "tenant resolution failed", 1503)
		return nil, false
	}
	return p, true
}

type userSummary struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
	MFAEnabled    bool   `json:"mfa_enabled"`
	IsMinor       bool   `json:"is_minor"`
}

func summarize(u *store.User) userSummary {
	return userSummary{
		ID:            u.ID.String(),
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
		MFAEnabled:    u.MFAEnabled,
		IsMinor:       u.IsMinor(),
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"` // YYYY-MM-DD
	Gender    string `json:"gender"`
	Role      string `json:"role"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" || req.Role == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "email, password and role are required", 1101)
		return
	}
	birth, err := time.Parse("2006-01-02", req.BirthDate)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "birth_date must be YYYY-MM-DD", 1101)
		return
	}

	p, ok := h.partition(w, r)
	if !ok {
		return
	}

	res, err := h.Accounts.Register(r.Context(), p, account.RegisterParams{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Gender:    req.Gender,
		BirthDate: birth,
		Role:      req.Role,
	})
	switch {
	case errors.Is(err, account.ErrWeakPassword):
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":             "weak_password",
			"error_description": "password does not meet the policy",
			"violations":        res.PolicyViolations,
		})
		return
	case errors.Is(err, account.ErrEmailTaken):
		WriteError(w, http.StatusConflict, "email_taken", "an account with this email already exists", 1104)
		return
	case errors.Is(err, account.ErrInvalidRole):
		WriteError(w, http.StatusBadRequest, "invalid_request", "unknown role", 1101)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "registration failed", 1500)
		return
	}

	// under-13 accounts get no tokens until parental consent is verified
	WriteJSON(w, http.StatusCreated, map[string]any{
		"user":                      summarize(res.User),
		"requires_parental_consent": res.RequiresParentalConsent,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code"` // optional; skips the two-step challenge
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.MFACode == "" {
		req.MFACode = r.Header.Get("X-MFA-Token")
	}
	p, ok := h.partition(w, r)
	if !ok {
		return
	}

	res, err := h.Accounts.Authenticate(r.Context(), p, req.Email, req.Password, req.MFACode, clientIP(r), r.UserAgent())
	switch {
	case errors.Is(err, account.ErrInvalidCredentials):
		recordLoginResult("invalid")
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect", 1201)
		return
	case errors.Is(err, account.ErrLocked):
		recordLoginResult("locked")
		WriteError(w, http.StatusTooManyRequests, "account_locked", "account temporarily locked after repeated failures", 1202)
		return
	case errors.Is(err, account.ErrInactive):
		recordLoginResult("inactive")
		WriteError(w, http.StatusForbidden, "account_inactive", "account is not active", 1203)
		return
	case errors.Is(err, account.ErrConsentRequired):
		recordLoginResult("consent_required")
		WriteError(w, http.StatusForbidden, "parental_consent_required", "verified parental consent required before login", 1204)
		return
	case errors.Is(err, account.ErrBadMFACode):
		recordLoginResult("invalid")
		WriteError(w, http.StatusUnauthorized, "invalid_mfa_code", "code rejected", 1207)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "login failed", 1500)
		return
	}

	sub := subjectFor(res.User, p)
	if res.NeedsMFA {
		challenge, err := h.Tokens.IssueMFAChallenge(sub)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "internal_error", "login failed", 1500)
			return
		}
		recordLoginResult("mfa_challenge")
		noStore(w)
		WriteJSON(w, http.StatusOK, map[string]any{
			"requires_mfa": true,
			"mfa_token":    challenge,
		})
		return
	}

	pair, u, ok := h.openSession(w, r, p, res.User)
	if !ok {
		return
	}
	recordLoginResult("ok")
	noStore(w)
	WriteJSON(w, http.StatusOK, map[string]any{
		"requires_mfa": false,
		"user":         summarize(u),
		"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken,
		"token_type": pair.TokenType, "expires_in": pair.ExpiresIn,
	})
}

func subjectFor(u *store.User, p *tenant.Partition) token.Subject {
	return token.Subject{
		UserID:   u.ID.String(),
		Email:    u.Email,
		Role:     u.Role,
		TenantID: string(p.ID()),
		IsMinor:  u.IsMinor(),
	}
}

// deviceFingerprint collapses the stable request headers into the session's
// device identity: hash(user-agent + accept-language).
func deviceFingerprint(r *http.Request) string {
	return tokens.SHA256B64(r.UserAgent() + r.Header.Get("Accept-Language"))
}

// openSession mints the pair and records the durable session row. The Redis
// write inside IssuePair precedes both the row and the response. First
// issuance promotes a pending account to active.
func (h *Handlers) openSession(w http.ResponseWriter, r *http.Request, p *tenant.Partition, u *store.User) (token.Pair, *store.User, bool) {
	sessionID := uuid.New()
	fingerprint := deviceFingerprint(r)
	pair, err := h.Tokens.IssuePair(r.Context(), subjectFor(u, p), sessionID.String(), token.ClientInfo{
		Fingerprint: fingerprint,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		log.Printf(`{"level":"error","msg":"issue_pair_failed","err":"%v"}`, err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "could not issue tokens", 1500)
		return token.Pair{}, nil, false
	}

	if err := h.Accounts.Activate(r.Context(), p, u); err != nil {
		// tokens are already out; the next login retries the promotion
		log.Printf(`{"level":"error","msg":"activation_failed","user_id":"%s","err":"%v"}`, u.ID, err)
	}

	expiresAt := time.Now().UTC().Add(h.Tokens.RefreshTTL())
	if err := h.Store.RecordSession(r.Context(), p, sessionID, u.ID, fingerprint, clientIP(r), r.UserAgent(), expiresAt); err != nil {
		// history only; the live session is already valid
		log.Printf(`{"level":"warn","msg":"session_history_write_failed","err":"%v"}`, err)
	}
	return pair, u, true
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required", 1101)
		return
	}

	lookup := func(userID, tenantID string) (token.Subject, error) {
		p, err := h.Router.Lookup(r.Context(), tenantID)
		if err != nil {
			return token.Subject{}, token.ErrInvalidToken
		}
		id, err := uuid.Parse(userID)
		if err != nil {
			return token.Subject{}, token.ErrInvalidToken
		}
		u, err := h.Store.GetUserByID(r.Context(), p, id)
		if errors.Is(err, store.ErrNotFound) {
			return token.Subject{}, token.ErrInvalidToken
		}
		if err != nil {
			return token.Subject{}, err
		}
		if u.Status == store.StatusSuspended || u.Status == store.StatusArchived {
			return token.Subject{}, token.ErrInvalidToken
		}
		return subjectFor(u, p), nil
	}

	pair, err := h.Tokens.Refresh(r.Context(), req.RefreshToken, lookup)
	if errors.Is(err, token.ErrInvalidToken) {
		WriteError(w, http.StatusUnauthorized, "invalid_token", "refresh token rejected", 1205)
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "refresh failed", 1500)
		return
	}
	noStore(w)
	WriteJSON(w, http.StatusOK, pair)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout blacklists the presented access token for its remaining life and
// deletes the session, killing the paired refresh token. The body may carry
// the refresh token; when it does, it must belong to the caller's own
// session. Gated route: the principal is already on the context.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	pr := access.FromContext(r.Context())
	if pr == nil {
		WriteError(w, http.StatusUnauthorized, "missing_token", "authorization required", 1200)
		return
	}

	var req logoutRequest
	if r.ContentLength > 0 && !ReadJSON(w, r, &req) {
		return
	}
	if req.RefreshToken != "" {
		claims, err := h.Tokens.ParseRefresh(req.RefreshToken)
		if err != nil || claims.SessionID != pr.SessionID || claims.Subject != pr.UserID.String() {
			WriteError(w, http.StatusUnauthorized, "invalid_token", "refresh token does not belong to this session", 1205)
			return
		}
	}

	raw := bearer(r)
	if err := h.Tokens.BlacklistAccess(r.Context(), raw); err != nil && !errors.Is(err, token.ErrInvalidToken) {
		log.Printf(`{"level":"warn","msg":"logout_blacklist_failed","err":"%v"}`, err)
	}
	if err := h.Tokens.RevokeSession(r.Context(), pr.TenantID, pr.UserID.String(), pr.SessionID); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "logout failed", 1500)
		return
	}
	if sid, err := uuid.Parse(pr.SessionID); err == nil {
		if err := h.Store.DeactivateSession(r.Context(), pr.Partition, sid); err != nil {
			log.Printf(`{"level":"warn","msg":"session_history_deactivate_failed","err":"%v"}`, err)
		}
	}
	h.Audit.Emit(r.Context(), audit.Event{
		Type:     audit.EventLogout,
		TenantID: pr.TenantID,
		ActorID:  pr.UserID.String(),
		Success:  true,
		IP:       clientIP(r), UserAgent: r.UserAgent(),
	})
	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	pr := access.FromContext(r.Context())
	if pr == nil {
		WriteError(w, http.StatusUnauthorized, "missing_token", "authorization required", 1200)
		return
	}
	var req changePasswordRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	err := h.Accounts.ChangePassword(r.Context(), pr.Partition, pr.User, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, account.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "current password is incorrect", 1201)
		return
	case errors.Is(err, account.ErrWeakPassword):
		WriteError(w, http.StatusUnprocessableEntity, "weak_password", "new password does not meet the policy", 1105)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "password change failed", 1500)
		return
	}
	if err := h.Store.DeactivateUserSessions(r.Context(), pr.Partition, pr.UserID); err != nil {
		log.Printf(`{"level":"warn","msg":"session_history_deactivate_failed","err":"%v"}`, err)
	}
	// every session is gone, this response is the last act of the old one
	WriteJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (h *Handlers) MFAEnable(w http.ResponseWriter, r *http.Request) {
	pr := access.FromContext(r.Context())
	if pr == nil {
		WriteError(w, http.StatusUnauthorized, "missing_token", "authorization required", 1200)
		return
	}

	enr, err := h.Accounts.EnableMFA(r.Context(), pr.Partition, pr.User)
	switch {
	case errors.Is(err, account.ErrMinorMFA):
		WriteError(w, http.StatusForbidden, "age_restricted", "mfa enrollment is unavailable for minors", 1206)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "mfa enrollment failed", 1500)
		return
	}
	// secret and backup codes are shown exactly once
	noStore(w)
	WriteJSON(w, http.StatusOK, map[string]any{
		"secret":       enr.Secret,
		"otpauth_url":  enr.OTPAuthURL,
		"backup_codes": enr.BackupCodes,
	})
}

type mfaVerifyRequest struct {
	Code     string `json:"code"`
	IsBackup bool   `json:"is_backup"`
}

// MFAVerify serves two callers: an authenticated user confirming a staged
// enrollment (bearer token), and a half-logged-in user completing the MFA
// challenge (X-MFA-Token header). The challenge path finishes the login and
// returns a token pair.
func (h *Handlers) MFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "code is required", 1101)
		return
	}

	if challenge := r.Header.Get("X-MFA-Token"); challenge != "" {
		h.completeMFALogin(w, r, challenge, req)
		return
	}

	pr := access.FromContext(r.Context())
	if pr == nil {
		WriteError(w, http.StatusUnauthorized, "missing_token", "bearer token or X-MFA-Token required", 1200)
		return
	}
	err := h.Accounts.VerifyMFA(r.Context(), pr.Partition, pr.User, req.Code, req.IsBackup)
	switch {
	case errors.Is(err, account.ErrBadMFACode):
		WriteError(w, http.StatusUnauthorized, "invalid_mfa_code", "code rejected", 1207)
		return
	case errors.Is(err, account.ErrMFANotEnrolled):
		WriteError(w, http.StatusBadRequest, "mfa_not_enrolled", "no pending or active enrollment", 1208)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "mfa verification failed", 1500)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"mfa_enabled": true})
}

func (h *Handlers) completeMFALogin(w http.ResponseWriter, r *http.Request, challenge string, req mfaVerifyRequest) {
	claims, err := h.Tokens.VerifyMFAChallenge(challenge)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid_token", "mfa challenge rejected", 1205)
		return
	}
	p, err := h.Router.Lookup(r.Context(), claims.TenantID)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid_token", "mfa challenge rejected", 1205)
		return
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid_token", "mfa challenge rejected", 1205)
		return
	}
	u, err := h.Store.GetUserByID(r.Context(), p, userID)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid_token", "mfa challenge rejected", 1205)
		return
	}

	if err := h.Accounts.VerifyMFA(r.Context(), p, u, req.Code, req.IsBackup); err != nil {
		if errors.Is(err, account.ErrBadMFACode) {
			WriteError(w, http.StatusUnauthorized, "invalid_mfa_code", "code rejected", 1207)
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal_error", "mfa verification failed", 1500)
		return
	}

	pair, u, ok := h.openSession(w, r, p, u)
	if !ok {
		return
	}
	recordLoginResult("ok")
	noStore(w)
	WriteJSON(w, http.StatusOK, map[string]any{
		"requires_mfa": false,
		"user":         summarize(u),
		"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken,
		"token_type": pair.TokenType, "expires_in": pair.ExpiresIn,
	})
}

type forgotRequest struct {
	Email string `json:"email"`
}

// ForgotPassword always answers 202: whether the address exists is not
// observable from outside.
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "email is required", 1101)
		return
	}
	p, ok := h.partition(w, r)
	if !ok {
		return
	}
	if err := h.Recovery.Forgot(r.Context(), p, req.Email); err != nil {
		log.Printf(`{"level":"error","msg":"forgot_password_failed","err":"%v"}`, err)
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "token and new_password are required", 1101)
		return
	}
	p, ok := h.partition(w, r)
	if !ok {
		return
	}

	err := h.Recovery.Reset(r.Context(), p, req.Token, req.NewPassword)
	switch {
	case errors.Is(err, account.ErrWeakPassword):
		WriteError(w, http.StatusUnprocessableEntity, "weak_password", "new password does not meet the policy", 1105)
		return
	case errors.Is(err, account.ErrInvalidRecoveryToken):
		WriteError(w, http.StatusUnauthorized, "invalid_token", "reset token invalid or already used", 1205)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "password reset failed", 1500)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "password_reset"})
}

func (h *Handlers) VerifyEmailStart(w http.ResponseWriter, r *http.Request) {
	pr := access.FromContext(r.Context())
	if pr == nil {
		WriteError(w, http.StatusUnauthorized, "missing_token", "authorization required", 1200)
		return
	}
	if pr.User.EmailVerified {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "already_verified"})
		return
	}
	if err := h.Recovery.StartEmailVerification(r.Context(), pr.Partition, pr.User); err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "verification could not be started", 1500)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "token is required", 1101)
		return
	}
	p, ok := h.partition(w, r)
	if !ok {
		return
	}

	err := h.Recovery.ConfirmEmail(r.Context(), p, req.Token)
	switch {
	case errors.Is(err, account.ErrInvalidRecoveryToken):
		WriteError(w, http.StatusUnauthorized, "invalid_token", "verification token invalid or already used", 1205)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "email verification failed", 1500)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "email_verified"})
}

type consentInitiateRequest struct {
	UserID      string   `json:"user_id"`
	ParentEmail string   `json:"parent_email"`
	Method      string   `json:"method"`
	Permissions []string `json:"permissions"`
}

func (h *Handlers) ConsentInitiate(w http.ResponseWriter, r *http.Request) {
	var req consentInitiateRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.ParentEmail == "" || req.Method == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "user_id, parent_email and method are required", 1101)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "user_id must be a uuid", 1101)
		return
	}

	p, ok := h.partition(w, r)
	if !ok {
		return
	}
	u, err := h.Store.GetUserByID(r.Context(), p, userID)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "not_found", "user not found", 1404)
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "consent initiation failed", 1500)
		return
	}

	c, err := h.Consents.Initiate(r.Context(), p, u, req.ParentEmail, req.Method, req.Permissions)
	switch {
	case errors.Is(err, coppa.ErrNotMinor):
		WriteError(w, http.StatusBadRequest, "not_a_minor", "consent applies only to under-13 accounts", 1106)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "consent initiation failed", 1500)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"consent_id": c.ID.String(),
		"status":     c.Status,
		"method":     c.Method,
	})
}

type consentVerifyRequest struct {
	Approved bool `json:"approved"`
}

func (h *Handlers) ConsentVerify(w http.ResponseWriter, r *http.Request) {
	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "consent id must be a uuid", 1101)
		return
	}
	var req consentVerifyRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	p, ok := h.partition(w, r)
	if !ok {
		return
	}
	c, err := h.Consents.Verify(r.Context(), p, consentID, req.Approved)
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "consent record not found", 1404)
		return
	case errors.Is(err, coppa.ErrBadStatus):
		WriteError(w, http.StatusConflict, "consent_settled", "consent record already settled", 1107)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "internal_error", "consent verification failed", 1500)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"consent_id": c.ID.String(),
		"status":     c.Status,
		"granted_at": c.GrantedAt,
	})
}

// Health reports the dependencies a login needs: the default tenant's
// database and Redis. Either failing makes the service not-ready.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	healthy := true

	if p, err := h.Router.Resolve(ctx, ""); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else if err := h.Store.Ping(ctx, p); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if err := h.Sessions.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

// Readyz is the deeper probe: a JWT sign/verify round trip proves the
// signing secrets are usable, on top of the dependency pings.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	probe, err := h.Tokens.IssueMFAChallenge(token.Subject{UserID: "readyz", TenantID: "readyz"})
	if err == nil {
		_, err = h.Tokens.VerifyMFAChallenge(probe)
	}
	if err != nil {
		log.Printf(`{"level":"error","msg":"readyz_jwt_selfcheck_failed","err":"%v"}`, err)
		WriteError(w, http.StatusServiceUnavailable, "not_ready", "jwt self-check failed", 1503)
		return
	}
	h.Health(w, r)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 {
		return h[7:]
	}
	return ""
}
