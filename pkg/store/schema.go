package store

// schemaStatements creates all tables and indexes. Statements are split
// so SQLite executes them one at a time; types are the portable subset
// understood by Postgres and SQLite.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS teams_name_idx ON teams (name)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		team_id TEXT,
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		notifications TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		deactivated_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users (email)`,

	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		fqn TEXT NOT NULL,
		owner_team_id TEXT NOT NULL,
		owner_user_id TEXT,
		environment TEXT NOT NULL DEFAULT 'production',
		resource_type TEXT NOT NULL DEFAULT 'table',
		guarantee_mode TEXT NOT NULL DEFAULT 'notify',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS assets_fqn_idx ON assets (fqn)`,

	`CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		version TEXT NOT NULL,
		schema_def TEXT NOT NULL,
		compatibility_mode TEXT NOT NULL DEFAULT 'backward',
		guarantees TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		published_at TIMESTAMP NOT NULL,
		published_by TEXT NOT NULL
	)`,
	// The backstop for concurrent publishes: at most one active contract
	// per asset. Both Postgres and SQLite support partial indexes.
	`CREATE UNIQUE INDEX IF NOT EXISTS contracts_one_active_idx
		ON contracts (asset_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS contracts_asset_idx ON contracts (asset_id)`,

	`CREATE TABLE IF NOT EXISTS registrations (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		consumer_team_id TEXT NOT NULL,
		pinned_version TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		registered_at TIMESTAMP NOT NULL,
		acknowledged_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS registrations_pair_idx
		ON registrations (contract_id, consumer_team_id)`,

	`CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		proposed_schema TEXT NOT NULL,
		change_type TEXT NOT NULL,
		breaking_changes TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'pending',
		proposed_by TEXT NOT NULL,
		proposed_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		expires_at TIMESTAMP,
		auto_expire BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS proposals_status_idx ON proposals (status)`,

	`CREATE TABLE IF NOT EXISTS acknowledgments (
		id TEXT PRIMARY KEY,
		proposal_id TEXT NOT NULL,
		consumer_team_id TEXT NOT NULL,
		response TEXT NOT NULL,
		migration_deadline TIMESTAMP,
		notes TEXT NOT NULL DEFAULT '',
		responded_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS acknowledgments_pair_idx
		ON acknowledgments (proposal_id, consumer_team_id)`,

	`CREATE TABLE IF NOT EXISTS asset_dependencies (
		id TEXT PRIMARY KEY,
		dependent_asset_id TEXT NOT NULL,
		dependency_asset_id TEXT NOT NULL,
		dependency_type TEXT NOT NULL DEFAULT 'consumes',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS asset_dependencies_pair_idx
		ON asset_dependencies (dependent_asset_id, dependency_asset_id)`,
	`CREATE INDEX IF NOT EXISTS asset_dependencies_dep_idx
		ON asset_dependencies (dependency_asset_id)`,

	// seq is a SQLite rowid alias and auto-assigns monotonically;
	// Postgres deployments create it as BIGSERIAL via migrations.
	`CREATE TABLE IF NOT EXISTS audit_events (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT,
		payload TEXT,
		occurred_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_events_entity_idx
		ON audit_events (entity_type, entity_id)`,
	`CREATE INDEX IF NOT EXISTS audit_events_occurred_idx
		ON audit_events (occurred_at)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		team_id TEXT NOT NULL,
		scopes TEXT NOT NULL DEFAULT '["read"]',
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP,
		revoked_at TIMESTAMP,
		last_used_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS api_keys_hash_idx ON api_keys (key_hash)`,
	`CREATE INDEX IF NOT EXISTS api_keys_prefix_idx ON api_keys (key_prefix)`,

	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		url TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		last_status_code INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		delivered_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS webhook_deliveries_status_idx
		ON webhook_deliveries (status)`,
}
