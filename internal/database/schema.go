package database

import (
	"database/sql"
	"fmt"
	"log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS admin_users (
		id UUID PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS agent_users (
		id UUID PRIMARY KEY,
		mobile TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		credit NUMERIC(18,2) NOT NULL DEFAULT 0.00,
		version INTEGER NOT NULL DEFAULT 1,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_agent_users_mobile
		ON agent_users (mobile) WHERE deleted_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_agent_users_email
		ON agent_users (LOWER(email)) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS cms_users (
		mobile TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES agent_users(id),
		amount NUMERIC(18,2) NOT NULL,
		previous_balance NUMERIC(18,2) NOT NULL,
		new_balance NUMERIC(18,2) NOT NULL,
		event_type TEXT NOT NULL,
		description TEXT,
		created_by UUID,
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries (account_id, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_idempotency
		ON ledger_entries (idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS consumables (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		cost NUMERIC(18,2) NOT NULL CHECK (cost >= 0),
		meta_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS purchasables (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		price NUMERIC(18,2) NOT NULL CHECK (price >= 0),
		credit_amount NUMERIC(18,2) NOT NULL CHECK (credit_amount >= 0),
		meta_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS agent_events (
		id UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		target_id UUID NOT NULL,
		event_data JSONB,
		description TEXT,
		created_by UUID,
		created_by_username TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_events_type
		ON agent_events (event_type, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_events_target
		ON agent_events (target_id, timestamp DESC)`,
}

// InitSchema creates missing tables and indexes at startup
func InitSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	log.Println("Database schema verified")
	return nil
}
