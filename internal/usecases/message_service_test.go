package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/infrastructure"
	"project_chatflow/internal/repository"
	"project_chatflow/internal/workflow"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "tenant_1"

type stubRunner struct {
	consume map[string]bool
	err     error
	seen    []string
}

func (s *stubRunner) HandleInbound(_ context.Context, msg entities.Message) (bool, error) {
	s.seen = append(s.seen, msg.Text())
	return s.consume[msg.Text()], s.err
}

type pipeline struct {
	service *MessageService
	outbox  *infrastructure.WebOutbox
	config  *repository.MemoryConfigStore
}

func newPipeline(t *testing.T, runner WorkflowRunner) *pipeline {
	t.Helper()
	outbox := infrastructure.NewWebOutbox(0)
	router := infrastructure.NewChannelRouter()
	router.Register(entities.PlatformWeb, outbox)
	config := repository.NewMemoryConfigStore()
	return &pipeline{
		service: NewMessageService(runner, router, config, zerolog.Nop()),
		outbox:  outbox,
		config:  config,
	}
}

func (p *pipeline) say(t *testing.T, text string) []string {
	t.Helper()
	msg := entities.Message{From: "visitor", Content: text, Platform: entities.PlatformWeb, SchemaName: tenant}
	require.NoError(t, p.service.ProcessMessage(context.Background(), msg))

	var out []string
	for _, c := range p.outbox.Drain(tenant, "visitor") {
		out = append(out, infrastructure.RenderText(c))
	}
	return out
}

func mainMenu(t *testing.T, items ...repository.MenuItem) *repository.Menu {
	t.Helper()
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	return &repository.Menu{Slug: "main_menu", Title: "Main", Items: raw}
}

func TestProcessMessage_WorkflowWins(t *testing.T) {
	runner := &stubRunner{consume: map[string]bool{"hi": true}}
	p := newPipeline(t, runner)

	assert.Empty(t, p.say(t, "hi"), "a consumed message gets no rule reply")
	assert.Equal(t, []string{"hi"}, runner.seen)
}

func TestProcessMessage_EngineErrorFallsThrough(t *testing.T) {
	runner := &stubRunner{err: errors.New("database is down")}
	p := newPipeline(t, runner)

	replies := p.say(t, "what is this")
	require.Len(t, replies, 1)
	assert.Equal(t, defaultResponse, replies[0])
}

func TestProcessMessage_Greeting(t *testing.T) {
	p := newPipeline(t, &stubRunner{})
	require.NoError(t, p.config.SetConfig(context.Background(), tenant, "welcome_message", "Hello from the shop"))

	assert.Equal(t, []string{"Hello from the shop"}, p.say(t, "Halo, kak"))
	assert.Equal(t, []string{defaultResponse}, p.say(t, "ship it"), "greetings match whole words only")
}

func TestProcessMessage_MenuList(t *testing.T) {
	p := newPipeline(t, &stubRunner{})
	assert.Contains(t, p.say(t, "menu")[0], "Belum ada menu")

	require.NoError(t, p.config.CreateMenu(context.Background(), tenant, mainMenu(t,
		repository.MenuItem{Label: "Opening hours", Action: ActionReply, Payload: "9 to 5"},
	)))
	replies := p.say(t, "MENU")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "1. *Main*")
	assert.Contains(t, replies[0], "• Opening hours")
}

func TestProcessMessage_MenuReply(t *testing.T) {
	p := newPipeline(t, &stubRunner{})
	require.NoError(t, p.config.CreateMenu(context.Background(), tenant, mainMenu(t,
		repository.MenuItem{Label: "Opening hours", Action: ActionReply, Payload: "9 to 5"},
	)))

	assert.Equal(t, []string{"9 to 5"}, p.say(t, "opening hours"))
}

func TestProcessMessage_EmptyText(t *testing.T) {
	p := newPipeline(t, &stubRunner{})
	assert.Empty(t, p.say(t, "   "))
}

func TestProcessMessage_MenuStartsWorkflow(t *testing.T) {
	ctx := context.Background()
	defs := repository.NewMemoryWorkflowStore()
	require.NoError(t, defs.Upsert(ctx, &entities.WorkflowDefinition{
		ID:       "wf-order",
		TenantID: tenant,
		Name:     "Order",
		Triggers: "order",
		IsActive: true,
		Nodes: []entities.Node{
			{ID: "start", Type: "start"},
			{ID: "ask", Type: "button", Data: map[string]any{
				"content": "Pickup or delivery?",
				"buttons": []any{
					map[string]any{"type": "reply", "text": "Pickup"},
					map[string]any{"type": "reply", "text": "Delivery"},
				},
			}},
			{ID: "pickup", Type: "message", Data: map[string]any{"content": "See you at the store"}},
		},
		Edges: []entities.Edge{
			{Source: "start", Target: "ask"},
			{Source: "ask", Target: "pickup", Handle: "handle-0"},
		},
	}))

	outbox := infrastructure.NewWebOutbox(0)
	router := infrastructure.NewChannelRouter()
	router.Register(entities.PlatformWeb, outbox)
	engine := workflow.NewEngine(defs, repository.NewMemorySessionStore(), router,
		workflow.WithOptions(workflow.Options{MaxHops: 10}))

	config := repository.NewMemoryConfigStore()
	require.NoError(t, config.CreateMenu(ctx, tenant, mainMenu(t,
		repository.MenuItem{Label: "Place an order", Action: ActionWorkflow, Payload: "order"},
	)))

	p := &pipeline{service: NewMessageService(engine, router, config, zerolog.Nop()), outbox: outbox, config: config}

	assert.Equal(t, []string{"Pickup or delivery?\n\n• Pickup\n• Delivery"}, p.say(t, "Place an order"))
	assert.Equal(t, []string{"See you at the store"}, p.say(t, "pickup"))
	assert.Equal(t, []string{defaultResponse}, p.say(t, "pickup"), "session completed, rules answer again")
}
