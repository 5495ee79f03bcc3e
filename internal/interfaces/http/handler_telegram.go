package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TelegramTokenKey is the bot_config key holding a tenant's bot token
const TelegramTokenKey = "telegram_bot_token"

// GetTelegramStatus returns the connection status of the tenant's Telegram bot
func (h *Handler) GetTelegramStatus(c *gin.Context) {
	if h.Telegram == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": "Telegram not configured"})
		return
	}
	schema := getSchemaName(c)

	token, err := h.Config.GetConfig(c.Request.Context(), schema, TelegramTokenKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get token"})
		return
	}

	connected, botName := h.Telegram.GetStatus(schema)
	c.JSON(http.StatusOK, gin.H{
		"has_token": token != "",
		"connected": connected,
		"bot_name":  botName,
	})
}

// SaveTelegramToken validates and stores the tenant's bot token; an empty token clears it
func (h *Handler) SaveTelegramToken(c *gin.Context) {
	if h.Telegram == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram not configured"})
		return
	}
	schema := getSchemaName(c)

	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if req.Token == "" {
		if err := h.Config.SetConfig(c.Request.Context(), schema, TelegramTokenKey, ""); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear token"})
			return
		}
		h.Telegram.DisconnectBot(schema)
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
		return
	}

	botName, err := h.Telegram.ValidateToken(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Config.SetConfig(c.Request.Context(), schema, TelegramTokenKey, req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "bot_name": "@" + botName})
}

// ConnectTelegram starts the tenant's bot with the stored token
func (h *Handler) ConnectTelegram(c *gin.Context) {
	if h.Telegram == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram not configured"})
		return
	}
	schema := getSchemaName(c)

	token, err := h.Config.GetConfig(c.Request.Context(), schema, TelegramTokenKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get token"})
		return
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No token saved. Please save a bot token first."})
		return
	}

	instance, err := h.Telegram.ConnectBot(h.BaseContext, schema, token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected", "bot_name": "@" + instance.Name})
}

// DisconnectTelegram stops the tenant's bot
func (h *Handler) DisconnectTelegram(c *gin.Context) {
	if h.Telegram == nil {
		c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
		return
	}
	h.Telegram.DisconnectBot(getSchemaName(c))
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
