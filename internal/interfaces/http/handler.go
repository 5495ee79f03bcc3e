package http

import (
	"context"
	"net/http"
	"time"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/infrastructure"
	"project_chatflow/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// InboundProcessor runs the message pipeline for one inbound message
type InboundProcessor interface {
	ProcessMessage(ctx context.Context, msg entities.Message) error
}

// WorkflowStore is the admin view of the definition store
type WorkflowStore interface {
	List(ctx context.Context, tenantID string) ([]entities.WorkflowDefinition, error)
	Get(ctx context.Context, tenantID, workflowID string) (*entities.WorkflowDefinition, error)
	Upsert(ctx context.Context, def *entities.WorkflowDefinition) error
	Delete(ctx context.Context, tenantID, workflowID string) (bool, error)
}

type SessionHistory interface {
	ListByConversation(ctx context.Context, tenantID, conversationID string, limit int) ([]entities.WorkflowSession, error)
}

// GraphCache forgets compiled graphs after edits
type GraphCache interface {
	Invalidate(tenantID, workflowID string)
}

type ConfigStore interface {
	GetConfig(ctx context.Context, schemaName, key string) (string, error)
	SetConfig(ctx context.Context, schemaName, key, value string) error
	GetMenu(ctx context.Context, schemaName, slug string) (*repository.Menu, error)
	CreateMenu(ctx context.Context, schemaName string, m *repository.Menu) error
	GetAllMenus(ctx context.Context, schemaName string) ([]repository.Menu, error)
}

// CloudSettings configures the WhatsApp Cloud API webhook
type CloudSettings struct {
	VerifyToken string
	Tenant      string
}

// Deps are the collaborators of the HTTP layer. Nil channel managers disable their routes.
type Deps struct {
	Messages  InboundProcessor
	Workflows WorkflowStore
	Sessions  SessionHistory
	Graphs    GraphCache
	Config    ConfigStore
	Outbox    *infrastructure.WebOutbox
	WhatsApp  *infrastructure.WhatsAppManager
	Telegram  *infrastructure.TelegramBotManager
	Metrics   http.Handler
	Health    func(ctx context.Context) error
	Cloud     CloudSettings

	DefaultTenant string
	Log           zerolog.Logger

	// BaseContext outlives requests; inbound messages and bot polling run under it
	BaseContext context.Context
	// Dispatch overrides how accepted messages are processed (default: one goroutine each)
	Dispatch func(msg entities.Message)
}

type Handler struct {
	Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	if deps.DefaultTenant == "" {
		deps.DefaultTenant = "public"
	}
	h := &Handler{Deps: deps}
	if h.Dispatch == nil {
		h.Dispatch = h.process
	}
	return h
}

// process handles one message off the request path
func (h *Handler) process(msg entities.Message) {
	go func() {
		if err := h.Messages.ProcessMessage(h.BaseContext, msg); err != nil {
			h.Log.Warn().Err(err).
				Str("tenant", msg.Tenant()).
				Str("conversation", msg.ConversationID()).
				Msg("failed to process message")
		}
	}()
}

func SetupRoutes(r *gin.Engine, h *Handler, middleware *Middleware) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(10 << 20)) // 10MB max request size
	r.Use(middleware.CORSMiddleware())
	r.Use(RequestLogger(h.Log))

	// Public Routes
	r.GET("/healthz", h.Healthz)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}
	r.POST("/webhook/web", h.HandleWebMessage)
	r.GET("/webhook/web/:from/messages", h.GetWebMessages)
	r.GET("/webhook/whatsapp", h.VerifyCloudWebhook)
	r.POST("/webhook/whatsapp", h.HandleCloudWebhook)

	// Protected Dashboard Routes
	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerUser(5, 10))
	{
		// Workflow Routes
		api.GET("/workflows", h.ListWorkflows)
		api.GET("/workflows/:id", h.GetWorkflow)
		api.PUT("/workflows/:id", h.PutWorkflow)
		api.DELETE("/workflows/:id", h.DeleteWorkflow)
		api.GET("/sessions/:conversation", h.ListSessions)

		// Config Routes
		api.GET("/config/:key", h.GetConfig)
		api.POST("/config", h.SetConfig)

		// Menu Routes
		api.GET("/menus", h.GetAllMenus)
		api.GET("/menus/:slug", h.GetMenu)
		api.POST("/menus", h.CreateMenu)

		// WhatsApp Management Routes (per-tenant device)
		wa := api.Group("/whatsapp")
		wa.GET("/qr", h.GetWhatsAppQR)
		wa.GET("/status", h.GetWhatsAppStatus)
		wa.POST("/logout", h.LogoutWhatsApp)

		// Telegram Management Routes (per-tenant bots)
		tg := api.Group("/telegram")
		tg.GET("/status", h.GetTelegramStatus)
		tg.POST("/token", h.SaveTelegramToken)
		tg.POST("/connect", h.ConnectTelegram)
		tg.POST("/disconnect", h.DisconnectTelegram)
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// resolveTenant accepts a client-supplied tenant only when it is a valid schema name
func (h *Handler) resolveTenant(tenant string) string {
	if ValidSlug(tenant) {
		return tenant
	}
	return h.DefaultTenant
}

func (h *Handler) HandleWebMessage(c *gin.Context) {
	var payload struct {
		From       string `json:"from" binding:"required"`
		Content    string `json:"content"`
		ReplyID    string `json:"reply_id"`
		ReplyTitle string `json:"reply_title"`
		Tenant     string `json:"tenant"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !ValidSlug(payload.From) || !ValidateLength(payload.Content, 0, MaxMessageLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sender or message too long"})
		return
	}

	msg := entities.Message{
		From:       payload.From,
		Content:    SanitizeString(payload.Content),
		Platform:   entities.PlatformWeb,
		SchemaName: h.resolveTenant(payload.Tenant),
		ReplyID:    payload.ReplyID,
		ReplyTitle: SanitizeString(payload.ReplyTitle),
		IsCallback: payload.ReplyID != "",
	}

	h.Dispatch(msg)
	c.JSON(http.StatusAccepted, gin.H{"status": "received", "conversation": msg.ConversationID()})
}

type outboundView struct {
	Type    string           `json:"type"`
	Content entities.Content `json:"content"`
}

// GetWebMessages drains the replies queued for a web conversation
func (h *Handler) GetWebMessages(c *gin.Context) {
	if h.Outbox == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Web channel not configured"})
		return
	}
	from := c.Param("from")
	if !ValidSlug(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sender"})
		return
	}

	pending := h.Outbox.Drain(h.resolveTenant(c.Query("tenant")), from)
	out := make([]outboundView, 0, len(pending))
	for _, content := range pending {
		out = append(out, outboundView{Type: content.ContentType(), Content: content})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}
