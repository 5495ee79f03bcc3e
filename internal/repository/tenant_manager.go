package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type TenantManager struct {
	db *pgxpool.Pool
}

func NewTenantManager(db *pgxpool.Pool) *TenantManager {
	return &TenantManager{db: db}
}

var schemaNamePattern = regexp.MustCompile("[^a-zA-Z0-9_]+")

// sanitizeSchemaName ensures schema name is safe for SQL
func sanitizeSchemaName(name string) string {
	return strings.ToLower(schemaNamePattern.ReplaceAllString(name, "_"))
}

func tenantTables(schema string) []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.bot_config (
				id SERIAL PRIMARY KEY,
				key VARCHAR(64) UNIQUE NOT NULL,
				value TEXT,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`, schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.menus (
				id SERIAL PRIMARY KEY,
				slug VARCHAR(64) UNIQUE NOT NULL,
				title VARCHAR(256) NOT NULL,
				items JSONB DEFAULT '[]',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`, schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.workflows (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(256) NOT NULL DEFAULT '',
				triggers TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.workflow_sessions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL,
				conversation_id VARCHAR(128) NOT NULL,
				current_node_id VARCHAR(128) NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'active',
				state JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, schema),
		// At most one active session per conversation
		fmt.Sprintf(`
			CREATE UNIQUE INDEX IF NOT EXISTS workflow_sessions_active_conversation
			ON %s.workflow_sessions (conversation_id) WHERE status = 'active'
		`, schema),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS workflow_sessions_idle
			ON %s.workflow_sessions (updated_at) WHERE status = 'active'
		`, schema),
	}
}

// EnsureSchema creates the schema and all tenant tables if missing
func (t *TenantManager) EnsureSchema(ctx context.Context, schemaName string) (string, error) {
	schemaName = sanitizeSchemaName(schemaName)
	if schemaName == "" {
		schemaName = "public"
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName)); err != nil {
		return "", fmt.Errorf("failed to create schema: %w", err)
	}

	for _, ddl := range tenantTables(schemaName) {
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return "", fmt.Errorf("failed to create table in %s: %w", schemaName, err)
		}
	}

	return schemaName, tx.Commit(ctx)
}

// CreateTenantSchema creates the schema of a numbered tenant
func (t *TenantManager) CreateTenantSchema(ctx context.Context, tenantID int) (string, error) {
	return t.EnsureSchema(ctx, fmt.Sprintf("tenant_%d", tenantID))
}

// ListSchemas returns public plus every tenant schema
func (t *TenantManager) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := t.db.Query(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name = 'public' OR schema_name LIKE 'tenant\_%'
		ORDER BY schema_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		schemas = append(schemas, name)
	}
	return schemas, rows.Err()
}

// DropTenantSchema removes a tenant's schema and all data
func (t *TenantManager) DropTenantSchema(ctx context.Context, schemaName string) error {
	schemaName = sanitizeSchemaName(schemaName)
	_, err := t.db.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
	return err
}
