package entities

import (
	"encoding/json"
	"strings"
	"time"
)

// WorkflowDefinition is a vendor-authored automation graph as stored.
type WorkflowDefinition struct {
	ID        string    `json:"id" yaml:"id"`
	TenantID  string    `json:"tenant_id" yaml:"tenant_id"`
	Name      string    `json:"name" yaml:"name"`
	Triggers  string    `json:"triggers" yaml:"triggers"` // Comma separated keywords
	Nodes     []Node    `json:"nodes" yaml:"nodes"`
	Edges     []Edge    `json:"edges" yaml:"edges"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// TriggerKeywords returns the normalized keyword set.
func (d WorkflowDefinition) TriggerKeywords() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, term := range strings.Split(d.Triggers, ",") {
		term = NormalizeText(term)
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

// Node is the persisted node payload. Data is decoded per type by the engine.
type Node struct {
	ID   string         `json:"id" yaml:"id"`
	Type string         `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Handle string `json:"handle,omitempty" yaml:"handle,omitempty"`
}

// UnmarshalJSON accepts React Flow's "sourceHandle" as an alias of "handle".
func (e *Edge) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source       string `json:"source"`
		Target       string `json:"target"`
		Handle       string `json:"handle"`
		SourceHandle string `json:"sourceHandle"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Source, e.Target, e.Handle = raw.Source, raw.Target, raw.Handle
	if e.Handle == "" {
		e.Handle = raw.SourceHandle
	}
	return nil
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionDropped   SessionStatus = "dropped"
	SessionError     SessionStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s != SessionActive
}

// WorkflowSession is a conversation's execution pointer through a workflow.
type WorkflowSession struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	WorkflowID     string         `json:"workflow_id"`
	ConversationID string         `json:"conversation_id"`
	CurrentNodeID  string         `json:"current_node_id"`
	Status         SessionStatus  `json:"status"`
	State          map[string]any `json:"state,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NormalizeText trims and lowercases inbound text and keywords.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Session event kinds.
const (
	EventSessionStarted   = "session.started"
	EventSessionCompleted = "session.completed"
	EventSessionDropped   = "session.dropped"
	EventSessionErrored   = "session.errored"
	EventNodeExecuted     = "node.executed"
	EventSendFailed       = "send.failed"
)

// SessionEvent describes a lifecycle change of a session.
type SessionEvent struct {
	Kind           string    `json:"kind"`
	TenantID       string    `json:"tenant_id"`
	SessionID      string    `json:"session_id"`
	WorkflowID     string    `json:"workflow_id"`
	ConversationID string    `json:"conversation_id"`
	NodeID         string    `json:"node_id,omitempty"`
	NodeType       string    `json:"node_type,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}
