package repository

import (
	"context"
	"testing"
	"time"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWorkflowStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	a := &entities.WorkflowDefinition{ID: "a", TenantID: "t1", Triggers: "x", IsActive: true}
	b := &entities.WorkflowDefinition{ID: "b", TenantID: "t1", Triggers: "y", IsActive: true}
	off := &entities.WorkflowDefinition{ID: "c", TenantID: "t1", Triggers: "z"}
	other := &entities.WorkflowDefinition{ID: "a", TenantID: "t2", IsActive: true}
	for _, d := range []*entities.WorkflowDefinition{a, b, off, other} {
		require.NoError(t, store.Upsert(ctx, d))
	}

	active, err := store.ListActive(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	// Re-saving moves the definition forward even on a frozen clock
	require.NoError(t, store.Upsert(ctx, b))
	assert.True(t, b.UpdatedAt.After(fixed))
	active, err = store.ListActive(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "b", active[0].ID)

	all, err := store.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := store.Get(ctx, "t2", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t2", got.TenantID)

	missing, err := store.Get(ctx, "t2", "b")
	require.NoError(t, err)
	assert.Nil(t, missing)

	deleted, err := store.Delete(ctx, "t1", "c")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.Delete(ctx, "t1", "c")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemorySessionStoreGuardsTerminalStates(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	now := time.Now()

	s := &entities.WorkflowSession{
		ID: "s1", TenantID: "t1", WorkflowID: "w", ConversationID: "web:1",
		CurrentNodeID: "n1", Status: entities.SessionActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, s))

	dup := *s
	dup.ID = "s2"
	assert.ErrorIs(t, store.Create(ctx, &dup), ErrActiveSessionExists)

	require.NoError(t, store.SetCurrentNode(ctx, "t1", "s1", "n2"))
	// Wrong tenant is ignored
	assert.ErrorIs(t, store.SetCurrentNode(ctx, "t2", "s1", "nX"), interfaces.ErrSessionNotActive)
	require.NoError(t, store.SetStatus(ctx, "t1", "s1", entities.SessionCompleted))
	require.NoError(t, store.SetStatus(ctx, "t1", "s1", entities.SessionError))
	assert.ErrorIs(t, store.SetCurrentNode(ctx, "t1", "s1", "n3"), interfaces.ErrSessionNotActive)

	history, err := store.ListByConversation(ctx, "t1", "web:1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entities.SessionCompleted, history[0].Status)
	assert.Equal(t, "n2", history[0].CurrentNodeID)

	active, err := store.FindActiveByConversation(ctx, "t1", "web:1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// A completed session does not block a new one
	require.NoError(t, store.Create(ctx, &dup))
}

func TestMemorySessionStoreDropIdle(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	now := time.Now()

	require.NoError(t, store.Create(ctx, &entities.WorkflowSession{
		ID: "old", TenantID: "t1", ConversationID: "web:1", Status: entities.SessionActive,
		CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.Create(ctx, &entities.WorkflowSession{
		ID: "new", TenantID: "t1", ConversationID: "web:2", Status: entities.SessionActive,
		CreatedAt: now, UpdatedAt: now,
	}))

	ids, err := store.DropIdle(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	s, err := store.FindActiveByConversation(ctx, "t1", "web:1")
	require.NoError(t, err)
	assert.Nil(t, s)
	s, err = store.FindActiveByConversation(ctx, "t1", "web:2")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestMemoryConfigStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConfigStore()

	v, err := store.GetConfig(ctx, "public", "welcome_message")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, store.SetConfig(ctx, "public", "welcome_message", "hey"))
	v, _ = store.GetConfig(ctx, "public", "welcome_message")
	assert.Equal(t, "hey", v)

	require.NoError(t, store.CreateMenu(ctx, "public", &Menu{Slug: "main_menu", Title: "Main", Items: []byte(`[{"label":"A","action":"reply","payload":"x"}]`)}))
	menu, err := store.GetMenu(ctx, "public", "main_menu")
	require.NoError(t, err)
	require.NotNil(t, menu)
	items, err := menu.MenuItems()
	require.NoError(t, err)
	assert.Equal(t, []MenuItem{{Label: "A", Action: "reply", Payload: "x"}}, items)

	err = store.CreateMenu(ctx, "public", &Menu{Slug: "main_menu", Title: "Again"})
	assert.ErrorIs(t, err, ErrDuplicate)

	none, err := store.GetMenu(ctx, "public", "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}
