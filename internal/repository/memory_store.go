package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"
)

// MemoryWorkflowStore keeps definitions in process. Used when no database is configured.
type MemoryWorkflowStore struct {
	mu   sync.RWMutex
	defs map[string]map[string]entities.WorkflowDefinition // tenant -> id -> definition
	now  func() time.Time
}

func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{
		defs: make(map[string]map[string]entities.WorkflowDefinition),
		now:  time.Now,
	}
}

func (m *MemoryWorkflowStore) list(tenantID string, activeOnly bool) []entities.WorkflowDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []entities.WorkflowDefinition{}
	for _, def := range m.defs[tenantID] {
		if activeOnly && !def.IsActive {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryWorkflowStore) ListActive(_ context.Context, tenantID string) ([]entities.WorkflowDefinition, error) {
	return m.list(tenantID, true), nil
}

func (m *MemoryWorkflowStore) List(_ context.Context, tenantID string) ([]entities.WorkflowDefinition, error) {
	return m.list(tenantID, false), nil
}

func (m *MemoryWorkflowStore) Get(_ context.Context, tenantID, workflowID string) (*entities.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.defs[tenantID][workflowID]
	if !ok {
		return nil, nil
	}
	return &def, nil
}

func (m *MemoryWorkflowStore) Upsert(_ context.Context, def *entities.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Strictly increasing so cached graphs are always invalidated
	now := m.now()
	if prev, ok := m.defs[def.TenantID][def.ID]; ok && !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Microsecond)
	}
	def.UpdatedAt = now

	if m.defs[def.TenantID] == nil {
		m.defs[def.TenantID] = make(map[string]entities.WorkflowDefinition)
	}
	m.defs[def.TenantID][def.ID] = *def
	return nil
}

func (m *MemoryWorkflowStore) Delete(_ context.Context, tenantID, workflowID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.defs[tenantID][workflowID]; !ok {
		return false, nil
	}
	delete(m.defs[tenantID], workflowID)
	return true, nil
}

// MemorySessionStore mirrors SessionRepository semantics in process
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entities.WorkflowSession // by id
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*entities.WorkflowSession),
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Create(_ context.Context, s *entities.WorkflowSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Status == entities.SessionActive {
		for _, existing := range m.sessions {
			if existing.TenantID == s.TenantID && existing.ConversationID == s.ConversationID && existing.Status == entities.SessionActive {
				return ErrActiveSessionExists
			}
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemorySessionStore) FindActiveByConversation(_ context.Context, tenantID, conversationID string) (*entities.WorkflowSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.ConversationID == conversationID && s.Status == entities.SessionActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemorySessionStore) ListByConversation(_ context.Context, tenantID, conversationID string, limit int) ([]entities.WorkflowSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []entities.WorkflowSession{}
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.ConversationID == conversationID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// update applies fn to an active session; terminal sessions are left untouched
func (m *MemorySessionStore) update(tenantID, sessionID string, fn func(*entities.WorkflowSession)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != tenantID || s.Status != entities.SessionActive {
		return false
	}
	fn(s)
	s.UpdatedAt = m.now()
	return true
}

func (m *MemorySessionStore) SetStatus(_ context.Context, tenantID, sessionID string, status entities.SessionStatus) error {
	m.update(tenantID, sessionID, func(s *entities.WorkflowSession) { s.Status = status })
	return nil
}

func (m *MemorySessionStore) SetCurrentNode(_ context.Context, tenantID, sessionID, nodeID string) error {
	if !m.update(tenantID, sessionID, func(s *entities.WorkflowSession) { s.CurrentNodeID = nodeID }) {
		return interfaces.ErrSessionNotActive
	}
	return nil
}

func (m *MemorySessionStore) DropIdle(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.sessions {
		if s.Status == entities.SessionActive && s.UpdatedAt.Before(before) {
			s.Status = entities.SessionDropped
			s.UpdatedAt = m.now()
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MemoryConfigStore serves bot_config values and menus without a database
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]map[string]string
	menus   map[string][]Menu
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{
		configs: make(map[string]map[string]string),
		menus:   make(map[string][]Menu),
	}
}

func (m *MemoryConfigStore) GetConfig(_ context.Context, schemaName, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configs[schemaName][key], nil
}

func (m *MemoryConfigStore) SetConfig(_ context.Context, schemaName, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configs[schemaName] == nil {
		m.configs[schemaName] = make(map[string]string)
	}
	m.configs[schemaName][key] = value
	return nil
}

func (m *MemoryConfigStore) GetMenu(_ context.Context, schemaName, slug string) (*Menu, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, menu := range m.menus[schemaName] {
		if menu.Slug == slug {
			cp := menu
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryConfigStore) CreateMenu(_ context.Context, schemaName string, menu *Menu) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.menus[schemaName] {
		if existing.Slug == menu.Slug {
			return fmt.Errorf("menu %q: %w", menu.Slug, ErrDuplicate)
		}
	}
	menu.ID = len(m.menus[schemaName]) + 1
	menu.CreatedAt = time.Now()
	m.menus[schemaName] = append(m.menus[schemaName], *menu)
	return nil
}

func (m *MemoryConfigStore) GetAllMenus(_ context.Context, schemaName string) ([]Menu, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Menu{}, m.menus[schemaName]...), nil
}
