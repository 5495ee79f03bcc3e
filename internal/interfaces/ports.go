package interfaces

import (
	"context"
	"errors"
	"time"

	"project_chatflow/internal/entities"
)

// DefinitionStore returns workflow definitions of a tenant.
type DefinitionStore interface {
	ListActive(ctx context.Context, tenantID string) ([]entities.WorkflowDefinition, error)
	// Get returns nil, nil when the definition does not exist.
	Get(ctx context.Context, tenantID, workflowID string) (*entities.WorkflowDefinition, error)
}

// ErrSessionNotActive is returned by SetCurrentNode when the session is unknown or
// already left the active state, e.g. dropped by the idle sweep.
var ErrSessionNotActive = errors.New("session is not active")

// SessionStore persists workflow sessions. Status and node updates only apply to
// active sessions; terminal sessions are never mutated.
type SessionStore interface {
	Create(ctx context.Context, session *entities.WorkflowSession) error
	// FindActiveByConversation returns nil, nil when there is no active session.
	FindActiveByConversation(ctx context.Context, tenantID, conversationID string) (*entities.WorkflowSession, error)
	SetStatus(ctx context.Context, tenantID, sessionID string, status entities.SessionStatus) error
	// SetCurrentNode returns ErrSessionNotActive when no active session was updated.
	SetCurrentNode(ctx context.Context, tenantID, sessionID, nodeID string) error
	// DropIdle drops active sessions not updated since before and returns their ids.
	DropIdle(ctx context.Context, before time.Time) ([]string, error)
}

// MessageSender is the single egress point for outbound content.
type MessageSender interface {
	Send(ctx context.Context, tenantID, conversationID string, content entities.Content) error
}

// ConversationLocker serializes work on one conversation key.
type ConversationLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// EventPublisher receives session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event entities.SessionEvent)
}
