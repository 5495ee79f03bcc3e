package http

import (
	"net/http"

	"project_chatflow/internal/infrastructure"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

// ========================================
// WhatsApp Cloud API webhook
// ========================================

// VerifyCloudWebhook answers the subscription handshake
func (h *Handler) VerifyCloudWebhook(c *gin.Context) {
	if h.Cloud.VerifyToken == "" {
		c.String(http.StatusNotFound, "Cloud API not configured")
		return
	}
	if c.Query("hub.mode") != "subscribe" || c.Query("hub.verify_token") != h.Cloud.VerifyToken {
		c.String(http.StatusForbidden, "Verification failed")
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// HandleCloudWebhook accepts inbound notifications. It always answers 200 for a well-formed
// body so Meta does not redeliver.
func (h *Handler) HandleCloudWebhook(c *gin.Context) {
	var hook infrastructure.CloudWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	tenant := h.resolveTenant(h.Cloud.Tenant)
	msgs := hook.Messages(tenant)
	for _, msg := range msgs {
		msg.Content = SanitizeString(msg.Content)
		h.Dispatch(msg)
	}
	c.JSON(http.StatusOK, gin.H{"status": "received", "messages": len(msgs)})
}

// ========================================
// Per-tenant WhatsApp Web device
// ========================================

// GetWhatsAppQR returns the login QR code PNG for the tenant's device
func (h *Handler) GetWhatsAppQR(c *gin.Context) {
	if h.WhatsApp == nil {
		c.String(http.StatusServiceUnavailable, "WhatsApp not configured")
		return
	}
	schema := getSchemaName(c)

	client, err := h.WhatsApp.GetOrCreateClient(c.Request.Context(), schema)
	if err != nil {
		h.Log.Error().Err(err).Str("tenant", schema).Msg("create WhatsApp client")
		c.String(http.StatusInternalServerError, "Failed to create client")
		return
	}

	// Connect if not already
	if !client.IsLoggedIn() && !client.Client.IsConnected() {
		if err := client.Connect(h.BaseContext); err != nil {
			h.Log.Error().Err(err).Str("tenant", schema).Msg("connect WhatsApp client")
			c.String(http.StatusInternalServerError, "Failed to connect")
			return
		}
	}

	qrCodeString := client.GetQR()
	if qrCodeString == "" {
		if client.IsLoggedIn() {
			c.String(http.StatusOK, "Already logged in")
			return
		}
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}

	png, err := qrcode.Encode(qrCodeString, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// GetWhatsAppStatus returns WhatsApp connection status for the tenant
func (h *Handler) GetWhatsAppStatus(c *gin.Context) {
	if h.WhatsApp == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": "WhatsApp not configured"})
		return
	}

	client := h.WhatsApp.GetClient(getSchemaName(c))
	if client == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "initialized": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected":   client.IsConnected(),
		"initialized": true,
		"phone":       client.GetPhoneNumber(),
		"hasQR":       client.GetQR() != "",
	})
}

// LogoutWhatsApp logs out the tenant's WhatsApp session
func (h *Handler) LogoutWhatsApp(c *gin.Context) {
	if h.WhatsApp == nil {
		c.JSON(http.StatusOK, gin.H{"status": "logged_out", "message": "WhatsApp not configured"})
		return
	}
	schema := getSchemaName(c)

	// Errors are logged; the device is forgotten either way
	if err := h.WhatsApp.LogoutClient(c.Request.Context(), schema); err != nil {
		h.Log.Warn().Err(err).Str("tenant", schema).Msg("WhatsApp logout")
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
