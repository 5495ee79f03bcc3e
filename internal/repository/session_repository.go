package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaLister enumerates tenant schemas for cross-tenant maintenance
type SchemaLister interface {
	ListSchemas(ctx context.Context) ([]string, error)
}

// SessionRepository persists workflow sessions. Updates only ever touch active rows.
type SessionRepository struct {
	db      *pgxpool.Pool
	schemas SchemaLister
}

func NewSessionRepository(db *pgxpool.Pool, schemas SchemaLister) *SessionRepository {
	return &SessionRepository{db: db, schemas: schemas}
}

const sessionColumns = "id, workflow_id, conversation_id, current_node_id, status, state, created_at, updated_at"

func scanSession(row pgx.Row, tenantID string) (*entities.WorkflowSession, error) {
	var (
		s     entities.WorkflowSession
		state json.RawMessage
	)
	if err := row.Scan(&s.ID, &s.WorkflowID, &s.ConversationID, &s.CurrentNodeID, &s.Status, &state, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &s.State); err != nil {
			return nil, fmt.Errorf("session %s: invalid state json: %w", s.ID, err)
		}
	}
	s.TenantID = tenantID
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *entities.WorkflowSession) error {
	table := qualifyConfigTable(s.TenantID, "workflow_sessions")

	state, err := json.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if s.State == nil {
		state = []byte("{}")
	}

	_, err = r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, workflow_id, conversation_id, current_node_id, status, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, table), s.ID, s.WorkflowID, s.ConversationID, s.CurrentNodeID, s.Status, state, s.CreatedAt, s.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrActiveSessionExists
	}
	return err
}

// FindActiveByConversation returns nil when the conversation has no active session
func (r *SessionRepository) FindActiveByConversation(ctx context.Context, tenantID, conversationID string) (*entities.WorkflowSession, error) {
	table := qualifyConfigTable(tenantID, "workflow_sessions")
	row := r.db.QueryRow(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE conversation_id=$1 AND status='active'", sessionColumns, table), conversationID)
	s, err := scanSession(row, tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListByConversation returns the most recent sessions of a conversation
func (r *SessionRepository) ListByConversation(ctx context.Context, tenantID, conversationID string, limit int) ([]entities.WorkflowSession, error) {
	table := qualifyConfigTable(tenantID, "workflow_sessions")
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2", sessionColumns, table), conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []entities.WorkflowSession{}
	for rows.Next() {
		s, err := scanSession(rows, tenantID)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) SetStatus(ctx context.Context, tenantID, sessionID string, status entities.SessionStatus) error {
	table := qualifyConfigTable(tenantID, "workflow_sessions")
	_, err := r.db.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET status=$2, updated_at=NOW() WHERE id=$1 AND status='active'", table), sessionID, status)
	return err
}

func (r *SessionRepository) SetCurrentNode(ctx context.Context, tenantID, sessionID, nodeID string) error {
	table := qualifyConfigTable(tenantID, "workflow_sessions")
	tag, err := r.db.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET current_node_id=$2, updated_at=NOW() WHERE id=$1 AND status='active'", table), sessionID, nodeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrSessionNotActive
	}
	return nil
}

// DropIdle drops active sessions of every tenant not updated since before
func (r *SessionRepository) DropIdle(ctx context.Context, before time.Time) ([]string, error) {
	schemas, err := r.schemas.ListSchemas(ctx)
	if err != nil {
		return nil, err
	}

	var dropped []string
	for _, schema := range schemas {
		table := qualifyConfigTable(schema, "workflow_sessions")
		rows, err := r.db.Query(ctx, fmt.Sprintf(`
			UPDATE %s SET status='dropped', updated_at=NOW()
			WHERE status='active' AND updated_at < $1
			RETURNING id
		`, table), before)
		if err != nil {
			return dropped, fmt.Errorf("drop idle sessions in %s: %w", schema, err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return dropped, fmt.Errorf("drop idle sessions in %s: %w", schema, err)
		}
		dropped = append(dropped, ids...)
	}
	return dropped, nil
}
