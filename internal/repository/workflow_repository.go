package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"project_chatflow/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkflowRepository stores workflow definitions in the tenant schema
type WorkflowRepository struct {
	db *pgxpool.Pool
}

func NewWorkflowRepository(db *pgxpool.Pool) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = "id, name, triggers, nodes, edges, is_active, updated_at"

func scanWorkflow(row pgx.Row, tenantID string) (*entities.WorkflowDefinition, error) {
	var (
		def          entities.WorkflowDefinition
		nodes, edges json.RawMessage
	)
	if err := row.Scan(&def.ID, &def.Name, &def.Triggers, &nodes, &edges, &def.IsActive, &def.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodes, &def.Nodes); err != nil {
		return nil, fmt.Errorf("workflow %s: invalid nodes json: %w", def.ID, err)
	}
	if err := json.Unmarshal(edges, &def.Edges); err != nil {
		return nil, fmt.Errorf("workflow %s: invalid edges json: %w", def.ID, err)
	}
	def.TenantID = tenantID
	return &def, nil
}

func (r *WorkflowRepository) query(ctx context.Context, tenantID, where string, args ...any) ([]entities.WorkflowDefinition, error) {
	table := qualifyConfigTable(tenantID, "workflows")
	rows, err := r.db.Query(ctx, fmt.Sprintf("SELECT %s FROM %s %s ORDER BY updated_at DESC, id", workflowColumns, table, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := []entities.WorkflowDefinition{}
	for rows.Next() {
		def, err := scanWorkflow(rows, tenantID)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// ListActive returns the active definitions of a tenant
func (r *WorkflowRepository) ListActive(ctx context.Context, tenantID string) ([]entities.WorkflowDefinition, error) {
	return r.query(ctx, tenantID, "WHERE is_active")
}

// List returns every definition of a tenant
func (r *WorkflowRepository) List(ctx context.Context, tenantID string) ([]entities.WorkflowDefinition, error) {
	return r.query(ctx, tenantID, "")
}

// Get returns a definition by id, nil when missing
func (r *WorkflowRepository) Get(ctx context.Context, tenantID, workflowID string) (*entities.WorkflowDefinition, error) {
	table := qualifyConfigTable(tenantID, "workflows")
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id=$1", workflowColumns, table), workflowID)
	def, err := scanWorkflow(row, tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return def, nil
}

// Upsert creates or replaces a definition and sets its UpdatedAt
func (r *WorkflowRepository) Upsert(ctx context.Context, def *entities.WorkflowDefinition) error {
	table := qualifyConfigTable(def.TenantID, "workflows")

	nodes, err := json.Marshal(nonNil(def.Nodes))
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := json.Marshal(nonNil(def.Edges))
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}

	return r.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, name, triggers, nodes, edges, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, clock_timestamp())
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, triggers=EXCLUDED.triggers, nodes=EXCLUDED.nodes,
			edges=EXCLUDED.edges, is_active=EXCLUDED.is_active, updated_at=clock_timestamp()
		RETURNING updated_at
	`, table), def.ID, def.Name, def.Triggers, nodes, edges, def.IsActive).Scan(&def.UpdatedAt)
}

// Delete removes a definition. Sessions bound to it fail on their next reply.
func (r *WorkflowRepository) Delete(ctx context.Context, tenantID, workflowID string) (bool, error) {
	table := qualifyConfigTable(tenantID, "workflows")
	tag, err := r.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id=$1", table), workflowID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
