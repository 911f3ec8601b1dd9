package tenant

// Baseline DDL applied once per tenant schema. Everything is
// IF NOT EXISTS so provisioning stays idempotent under the advisory lock.
//
// The sessions table is a durable record of issued sessions for support and
// audit; the live revocable registry is Redis (internal/session).
var baselineDDL = []string{
	`CREATE TABLE IF NOT EXISTS %s.users (
		id uuid PRIMARY KEY,
		email text NOT NULL,
		password_hash text NOT NULL,
		first_name text NOT NULL DEFAULT '',
		last_name text NOT NULL DEFAULT '',
		gender text NOT NULL DEFAULT '',
		role text NOT NULL,
		birth_date date NOT NULL,
		age int NOT NULL,
		status text NOT NULL DEFAULT 'pending_verification',
		email_verified boolean NOT NULL DEFAULT false,
		phone_verified boolean NOT NULL DEFAULT false,
		mfa_enabled boolean NOT NULL DEFAULT false,
		mfa_secret text,
		mfa_backup_codes text[] NOT NULL DEFAULT '{}',
		failed_login_attempts int NOT NULL DEFAULT 0,
		locked_until timestamptz,
		password_changed_at timestamptz NOT NULL DEFAULT now(),
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_uq ON %s.users (LOWER(email))`,

	`CREATE TABLE IF NOT EXISTS %s.consent_records (
		id uuid PRIMARY KEY,
		user_id uuid NOT NULL REFERENCES %s.users(id) ON DELETE CASCADE,
		parent_email text NOT NULL,
		method text NOT NULL,
		status text NOT NULL DEFAULT 'pending',
		permissions text[] NOT NULL DEFAULT '{}',
		granted_at timestamptz,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS consent_user_idx ON %s.consent_records (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS %s.sessions (
		id uuid PRIMARY KEY,
		user_id uuid NOT NULL REFERENCES %s.users(id) ON DELETE CASCADE,
		fingerprint text NOT NULL DEFAULT '',
		ip text NOT NULL DEFAULT '',
		user_agent text NOT NULL DEFAULT '',
		active boolean NOT NULL DEFAULT true,
		expires_at timestamptz NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_user_idx ON %s.sessions (user_id)`,

	`CREATE TABLE IF NOT EXISTS %s.password_reset_tokens (
		token_hash bytea PRIMARY KEY,
		user_id uuid NOT NULL REFERENCES %s.users(id) ON DELETE CASCADE,
		expires_at timestamptz NOT NULL,
		used_at timestamptz,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS %s.email_verification_tokens (
		token_hash bytea PRIMARY KEY,
		user_id uuid NOT NULL REFERENCES %s.users(id) ON DELETE CASCADE,
		sent_to text NOT NULL,
		expires_at timestamptz NOT NULL,
		used_at timestamptz,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS %s.audit_log (
		id bigserial PRIMARY KEY,
		event_type text NOT NULL,
		actor_id text NOT NULL DEFAULT '',
		success boolean NOT NULL,
		reason text NOT NULL DEFAULT '',
		ip text NOT NULL DEFAULT '',
		user_agent text NOT NULL DEFAULT '',
		at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_at_idx ON %s.audit_log (at DESC)`,
}
