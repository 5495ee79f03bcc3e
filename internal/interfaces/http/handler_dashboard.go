package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/repository"
	"project_chatflow/internal/workflow"

	"github.com/gin-gonic/gin"
)

// Workflows

func (h *Handler) ListWorkflows(c *gin.Context) {
	defs, err := h.Workflows.List(c.Request.Context(), getSchemaName(c))
	if err != nil {
		h.Log.Error().Err(err).Msg("list workflows")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch workflows"})
		return
	}
	c.JSON(http.StatusOK, defs)
}

func (h *Handler) GetWorkflow(c *gin.Context) {
	id := c.Param("id")
	if !ValidSlug(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workflow id"})
		return
	}

	def, err := h.Workflows.Get(c.Request.Context(), getSchemaName(c), id)
	if err != nil {
		h.Log.Error().Err(err).Str("workflow", id).Msg("get workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch workflow"})
		return
	}
	if def == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
		return
	}
	c.JSON(http.StatusOK, def)
}

// PutWorkflow creates or replaces a workflow after compiling its graph
func (h *Handler) PutWorkflow(c *gin.Context) {
	id := c.Param("id")
	if !ValidSlug(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workflow id"})
		return
	}

	var req struct {
		Name     string          `json:"name"`
		Triggers string          `json:"triggers"`
		Nodes    []entities.Node `json:"nodes"`
		Edges    []entities.Edge `json:"edges"`
		IsActive *bool           `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	def := &entities.WorkflowDefinition{
		ID:       id,
		TenantID: getSchemaName(c),
		Name:     SanitizeString(req.Name),
		Triggers: SanitizeString(req.Triggers),
		Nodes:    req.Nodes,
		Edges:    req.Edges,
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	if _, err := workflow.Compile(*def); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	if err := h.Workflows.Upsert(c.Request.Context(), def); err != nil {
		h.Log.Error().Err(err).Str("workflow", id).Msg("save workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save workflow"})
		return
	}
	if h.Graphs != nil {
		h.Graphs.Invalidate(def.TenantID, def.ID)
	}
	c.JSON(http.StatusOK, def)
}

func (h *Handler) DeleteWorkflow(c *gin.Context) {
	id := c.Param("id")
	if !ValidSlug(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workflow id"})
		return
	}
	schema := getSchemaName(c)

	deleted, err := h.Workflows.Delete(c.Request.Context(), schema, id)
	if err != nil {
		h.Log.Error().Err(err).Str("workflow", id).Msg("delete workflow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete workflow"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
		return
	}
	if h.Graphs != nil {
		h.Graphs.Invalidate(schema, id)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ListSessions returns the recent sessions of a conversation, e.g. /api/sessions/telegram:42
func (h *Handler) ListSessions(c *gin.Context) {
	conversation := c.Param("conversation")
	if _, _, ok := entities.SplitConversationID(conversation); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversation must look like <channel>:<address>"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	sessions, err := h.Sessions.ListByConversation(c.Request.Context(), getSchemaName(c), conversation, limit)
	if err != nil {
		h.Log.Error().Err(err).Str("conversation", conversation).Msg("list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sessions"})
		return
	}
	if sessions == nil {
		sessions = []entities.WorkflowSession{}
	}
	c.JSON(http.StatusOK, sessions)
}

// Config

func (h *Handler) GetConfig(c *gin.Context) {
	key := c.Param("key")
	if !ValidConfigKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config key"})
		return
	}
	value, err := h.Config.GetConfig(c.Request.Context(), getSchemaName(c), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (h *Handler) SetConfig(c *gin.Context) {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidConfigKey(req.Key) || !ValidateLength(req.Value, 0, MaxConfigValLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config key or value too long"})
		return
	}

	if err := h.Config.SetConfig(c.Request.Context(), getSchemaName(c), req.Key, SanitizeString(req.Value)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// Menus

func (h *Handler) GetAllMenus(c *gin.Context) {
	menus, err := h.Config.GetAllMenus(c.Request.Context(), getSchemaName(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch menus"})
		return
	}
	if menus == nil {
		menus = []repository.Menu{}
	}
	c.JSON(http.StatusOK, menus)
}

func (h *Handler) GetMenu(c *gin.Context) {
	slug := c.Param("slug")
	if !ValidSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid slug"})
		return
	}
	menu, err := h.Config.GetMenu(c.Request.Context(), getSchemaName(c), slug)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch menu"})
		return
	}
	if menu == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Menu not found"})
		return
	}
	c.JSON(http.StatusOK, menu)
}

func (h *Handler) CreateMenu(c *gin.Context) {
	var req struct {
		Slug  string                `json:"slug"`
		Title string                `json:"title"`
		Items []repository.MenuItem `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidSlug(req.Slug) || !ValidateLength(req.Title, 1, 256) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid slug or title"})
		return
	}

	items, err := json.Marshal(req.Items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid items"})
		return
	}
	menu := &repository.Menu{Slug: req.Slug, Title: SanitizeString(req.Title), Items: items}
	if err := h.Config.CreateMenu(c.Request.Context(), getSchemaName(c), menu); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "Menu already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create menu"})
		return
	}
	c.JSON(http.StatusCreated, menu)
}
