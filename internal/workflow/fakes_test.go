package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"
)

type fakeDefinitions struct {
	mu   sync.Mutex
	defs []entities.WorkflowDefinition
}

func (f *fakeDefinitions) ListActive(_ context.Context, tenantID string) ([]entities.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.WorkflowDefinition
	for _, d := range f.defs {
		if d.TenantID == tenantID && d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDefinitions) Get(_ context.Context, tenantID, workflowID string) (*entities.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.defs {
		if d.TenantID == tenantID && d.ID == workflowID {
			def := d
			return &def, nil
		}
	}
	return nil, nil
}

func (f *fakeDefinitions) put(def entities.WorkflowDefinition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.defs {
		if d.TenantID == def.TenantID && d.ID == def.ID {
			f.defs[i] = def
			return
		}
	}
	f.defs = append(f.defs, def)
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions []*entities.WorkflowSession
}

func (f *fakeSessions) Create(_ context.Context, s *entities.WorkflowSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions = append(f.sessions, &cp)
	return nil
}

func (f *fakeSessions) FindActiveByConversation(_ context.Context, tenantID, conversationID string) (*entities.WorkflowSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.TenantID == tenantID && s.ConversationID == conversationID && s.Status == entities.SessionActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessions) find(id string) *entities.WorkflowSession {
	for _, s := range f.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (f *fakeSessions) SetStatus(_ context.Context, _, sessionID string, status entities.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.find(sessionID)
	if s == nil || s.Status != entities.SessionActive {
		return nil
	}
	s.Status = status
	return nil
}

func (f *fakeSessions) SetCurrentNode(_ context.Context, _, sessionID, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.find(sessionID)
	if s == nil || s.Status != entities.SessionActive {
		return interfaces.ErrSessionNotActive
	}
	s.CurrentNodeID = nodeID
	return nil
}

func (f *fakeSessions) DropIdle(_ context.Context, before time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, s := range f.sessions {
		if s.Status == entities.SessionActive && s.UpdatedAt.Before(before) {
			s.Status = entities.SessionDropped
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (f *fakeSessions) all() []entities.WorkflowSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.WorkflowSession, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out
}

func (f *fakeSessions) active() []entities.WorkflowSession {
	var out []entities.WorkflowSession
	for _, s := range f.all() {
		if s.Status == entities.SessionActive {
			out = append(out, s)
		}
	}
	return out
}

// racingSessions runs a hook once right after a lookup or create returns, to land a
// concurrent change in the window before the engine acts on the result.
type racingSessions struct {
	*fakeSessions
	mu          sync.Mutex
	afterFind   func()
	afterCreate func()
}

func (r *racingSessions) take(hook *func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (r *racingSessions) FindActiveByConversation(ctx context.Context, tenantID, conversationID string) (*entities.WorkflowSession, error) {
	s, err := r.fakeSessions.FindActiveByConversation(ctx, tenantID, conversationID)
	if fn := r.take(&r.afterFind); fn != nil {
		fn()
	}
	return s, err
}

func (r *racingSessions) Create(ctx context.Context, s *entities.WorkflowSession) error {
	err := r.fakeSessions.Create(ctx, s)
	if fn := r.take(&r.afterCreate); fn != nil {
		fn()
	}
	return err
}

type sentMessage struct {
	TenantID       string
	ConversationID string
	Content        entities.Content
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	// fail, when set, decides whether a send fails
	fail func(entities.Content) bool
}

func (r *recordingSender) Send(_ context.Context, tenantID, conversationID string, content entities.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil && r.fail(content) {
		return fmt.Errorf("channel unavailable")
	}
	r.sent = append(r.sent, sentMessage{TenantID: tenantID, ConversationID: conversationID, Content: content})
	return nil
}

func (r *recordingSender) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

func (r *recordingSender) texts() []string {
	var out []string
	for _, m := range r.messages() {
		switch c := m.Content.(type) {
		case *entities.TextContent:
			out = append(out, c.Body)
		case *entities.ImageContent:
			out = append(out, "image:"+c.Link)
		case *entities.InteractiveContent:
			out = append(out, c.Subtype+":"+c.Body)
		}
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []entities.SessionEvent
}

func (r *recordingEvents) Publish(_ context.Context, event entities.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}
