package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/infrastructure"
	"project_chatflow/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testTenant = "tenant_1"
)

// echoProcessor answers every message through the web outbox
type echoProcessor struct {
	outbox *infrastructure.WebOutbox
	seen   []entities.Message
}

func (p *echoProcessor) ProcessMessage(ctx context.Context, msg entities.Message) error {
	p.seen = append(p.seen, msg)
	return p.outbox.SendContent(ctx, msg.Tenant(), msg.From, &entities.TextContent{Body: "echo: " + msg.Text()})
}

type invalidations struct {
	keys []string
}

func (i *invalidations) Invalidate(tenantID, workflowID string) {
	i.keys = append(i.keys, tenantID+"/"+workflowID)
}

type fixture struct {
	router    *gin.Engine
	handler   *Handler
	processor *echoProcessor
	workflows *repository.MemoryWorkflowStore
	sessions  *repository.MemorySessionStore
	graphs    *invalidations
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	outbox := infrastructure.NewWebOutbox(0)
	f := &fixture{
		processor: &echoProcessor{outbox: outbox},
		workflows: repository.NewMemoryWorkflowStore(),
		sessions:  repository.NewMemorySessionStore(),
		graphs:    &invalidations{},
	}
	deps := Deps{
		Messages:  f.processor,
		Workflows: f.workflows,
		Sessions:  f.sessions,
		Graphs:    f.graphs,
		Config:    repository.NewMemoryConfigStore(),
		Outbox:    outbox,
		Cloud:     CloudSettings{VerifyToken: "verify-me", Tenant: testTenant},
		Log:       zerolog.Nop(),
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	f.handler = NewHandler(deps)
	// Run inline so assertions see the effects
	f.handler.Dispatch = func(msg entities.Message) {
		_ = f.handler.Messages.ProcessMessage(context.Background(), msg)
	}

	f.router = gin.New()
	SetupRoutes(f.router, f.handler, NewMiddleware(testSecret))
	return f
}

func token(t *testing.T, schema string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":     1,
		"role":        "admin",
		"schema_name": schema,
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+token(t, testTenant))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newFixture(t, func(d *Deps) {
		d.Health = func(context.Context) error { return errors.New("db down") }
	})
	w = down.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestWebWebhook(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/webhook/web", map[string]string{
		"from":    "alice",
		"content": "hello",
		"tenant":  testTenant,
	}, false)
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted map[string]string
	decode(t, w, &accepted)
	assert.Equal(t, "web:alice", accepted["conversation"])

	require.Len(t, f.processor.seen, 1)
	assert.Equal(t, testTenant, f.processor.seen[0].Tenant())
	assert.Equal(t, entities.PlatformWeb, f.processor.seen[0].Platform)

	w = f.do(t, http.MethodGet, "/webhook/web/alice/messages?tenant="+testTenant, nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Messages []struct {
			Type    string         `json:"type"`
			Content map[string]any `json:"content"`
		} `json:"messages"`
	}
	decode(t, w, &out)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "text", out.Messages[0].Type)
	assert.Equal(t, "echo: hello", out.Messages[0].Content["body"])

	// Drained
	w = f.do(t, http.MethodGet, "/webhook/web/alice/messages?tenant="+testTenant, nil, false)
	decode(t, w, &out)
	assert.Empty(t, out.Messages)
}

func TestWebWebhookReplyAndTenantFallback(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/webhook/web", map[string]string{
		"from":        "bob",
		"reply_id":    "handle-1",
		"reply_title": "Pricing",
		"tenant":      "bad tenant;drop",
	}, false)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, f.processor.seen, 1)
	msg := f.processor.seen[0]
	assert.True(t, msg.IsCallback)
	assert.Equal(t, "Pricing", msg.Text())
	assert.Equal(t, "public", msg.Tenant())
}

func TestWebWebhookRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	cases := map[string]any{
		"missing from": map[string]string{"content": "hi"},
		"invalid from": map[string]string{"from": "../etc", "content": "hi"},
		"too long":     map[string]string{"from": "alice", "content": string(bytes.Repeat([]byte("a"), MaxMessageLength+1))},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/webhook/web", body, false)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, f.processor.seen)
}

func TestCloudWebhook(t *testing.T) {
	f := newFixture(t)

	t.Run("verify", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil, false)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "42", w.Body.String())

		w = f.do(t, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil, false)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("inbound", func(t *testing.T) {
		body := map[string]any{
			"object": "whatsapp_business_account",
			"entry": []any{map[string]any{
				"changes": []any{map[string]any{
					"value": map[string]any{
						"messages": []any{map[string]any{
							"from": "6281234",
							"id":   "wamid.1",
							"type": "text",
							"text": map[string]any{"body": "menu"},
						}},
					},
				}},
			}},
		}
		w := f.do(t, http.MethodPost, "/webhook/whatsapp", body, false)
		require.Equal(t, http.StatusOK, w.Code)

		require.Len(t, f.processor.seen, 1)
		msg := f.processor.seen[0]
		assert.Equal(t, "menu", msg.Content)
		assert.Equal(t, testTenant, msg.Tenant())
		assert.Equal(t, entities.PlatformWACloud, msg.Platform)
	})

	t.Run("not configured", func(t *testing.T) {
		bare := newFixture(t, func(d *Deps) { d.Cloud = CloudSettings{} })
		w := bare.do(t, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil, false)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/workflows", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func welcomeFlow() map[string]any {
	return map[string]any{
		"name":     "Welcome",
		"triggers": "hi, hello",
		"nodes": []map[string]any{
			{"id": "start", "type": "start"},
			{"id": "greet", "type": "message", "data": map[string]any{"content": "Welcome!"}},
		},
		"edges": []map[string]any{
			{"source": "start", "target": "greet"},
		},
	}
}

func TestWorkflowCRUD(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/workflows/welcome", welcomeFlow(), true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{testTenant + "/welcome"}, f.graphs.keys)

	stored, err := f.workflows.Get(context.Background(), testTenant, "welcome")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsActive)
	assert.Equal(t, "Welcome", stored.Name)

	w = f.do(t, http.MethodGet, "/api/workflows/welcome", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var got entities.WorkflowDefinition
	decode(t, w, &got)
	assert.Len(t, got.Nodes, 2)

	w = f.do(t, http.MethodGet, "/api/workflows", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var list []entities.WorkflowDefinition
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = f.do(t, http.MethodDelete, "/api/workflows/welcome", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodDelete, "/api/workflows/welcome", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodGet, "/api/workflows/welcome", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutWorkflowRejectsBrokenGraph(t *testing.T) {
	f := newFixture(t)

	flow := welcomeFlow()
	flow["edges"] = []map[string]any{{"source": "start", "target": "missing"}}
	w := f.do(t, http.MethodPut, "/api/workflows/welcome", flow, true)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "unknown target node")

	inactive := welcomeFlow()
	inactive["is_active"] = false
	w = f.do(t, http.MethodPut, "/api/workflows/draft", inactive, true)
	require.Equal(t, http.StatusOK, w.Code)
	stored, err := f.workflows.Get(context.Background(), testTenant, "draft")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.Create(context.Background(), &entities.WorkflowSession{
		ID:             "s1",
		TenantID:       testTenant,
		WorkflowID:     "welcome",
		ConversationID: "web:alice",
		CurrentNodeID:  "greet",
		Status:         entities.SessionActive,
	}))

	w := f.do(t, http.MethodGet, "/api/sessions/web:alice", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []entities.WorkflowSession
	decode(t, w, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, "greet", sessions[0].CurrentNodeID)

	w = f.do(t, http.MethodGet, "/api/sessions/web:nobody", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/sessions/alice", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodGet, "/api/sessions/web:alice?limit=500", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigAndMenus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/config", map[string]string{"key": "welcome_message", "value": "Hi there"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/api/config/welcome_message", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key":"welcome_message","value":"Hi there"}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/config", map[string]string{"key": "bad key!", "value": "x"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	menu := map[string]any{
		"slug":  "main_menu",
		"title": "Main",
		"items": []map[string]string{{"label": "Catalog", "action": "workflow", "payload": "catalog"}},
	}
	w = f.do(t, http.MethodPost, "/api/menus", menu, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = f.do(t, http.MethodPost, "/api/menus", menu, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/api/menus/main_menu", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var got repository.Menu
	decode(t, w, &got)
	assert.Equal(t, "Main", got.Title)

	w = f.do(t, http.MethodGet, "/api/menus/other", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/menus", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var menus []repository.Menu
	decode(t, w, &menus)
	assert.Len(t, menus, 1)
}

func TestChannelRoutesWithoutManagers(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/whatsapp/status", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "WhatsApp not configured")

	w = f.do(t, http.MethodGet, "/api/whatsapp/qr", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodGet, "/api/telegram/status", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Telegram not configured")

	w = f.do(t, http.MethodPost, "/api/telegram/connect", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodPost, "/api/telegram/disconnect", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTelegramConnectNeedsToken(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Telegram = infrastructure.NewTelegramBotManager(zerolog.Nop())
	})

	w := f.do(t, http.MethodPost, "/api/telegram/connect", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "No token saved")

	w = f.do(t, http.MethodPost, "/api/telegram/token", map[string]string{"token": ""}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cleared")

	w = f.do(t, http.MethodGet, "/api/telegram/status", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"has_token":false,"connected":false,"bot_name":""}`, w.Body.String())
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidSlug("tenant_1"))
	assert.True(t, ValidSlug("main-menu"))
	assert.False(t, ValidSlug(""))
	assert.False(t, ValidSlug("a b"))
	assert.False(t, ValidSlug(string(bytes.Repeat([]byte("a"), MaxSlugLength+1))))

	assert.True(t, ValidConfigKey("welcome_message"))
	assert.False(t, ValidConfigKey("welcome-message"))

	assert.Equal(t, "ab", SanitizeString("a\x00b"))
	assert.Equal(t, "ab", SanitizeString("a\xffb"))
	assert.True(t, ValidateLength("hello", 1, 5))
	assert.False(t, ValidateLength("", 1, 5))
}
