package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"project_chatflow/internal/entities"

	"github.com/rs/zerolog"
)

// ErrChannelUnavailable is returned when the tenant has no usable client on a channel
var ErrChannelUnavailable = errors.New("channel not connected for tenant")

// WhatsAppManager manages one WhatsApp Web client per tenant schema
type WhatsAppManager struct {
	clients map[string]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string
	log     zerolog.Logger

	// Callback for registering message handlers per client
	HandlerFactory func(schemaName string) func(interface{})
}

func NewWhatsAppManager(baseDir string, log zerolog.Logger) *WhatsAppManager {
	// Ensure devices directory exists
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", baseDir).Msg("could not create devices directory")
	}

	return &WhatsAppManager{
		clients: make(map[string]*WhatsAppClient),
		baseDir: baseDir,
		log:     log,
	}
}

// GetClient returns the tenant's client, nil if none was created
func (m *WhatsAppManager) GetClient(schemaName string) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[schemaName]
}

// GetOrCreateClient gets existing client or creates new one for the tenant
func (m *WhatsAppManager) GetOrCreateClient(ctx context.Context, schemaName string) (*WhatsAppClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, exists := m.clients[schemaName]; exists {
		return client, nil
	}

	dbPath := filepath.Join(m.baseDir, sanitizeFileName(schemaName)+".db")
	client, err := NewWhatsAppClient(ctx, dbPath, schemaName, m.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client for %s: %w", schemaName, err)
	}

	if m.HandlerFactory != nil {
		client.AddHandler(m.HandlerFactory(schemaName))
	}

	m.clients[schemaName] = client
	return client, nil
}

// ConnectClient connects the tenant's WhatsApp client (creates if needed)
func (m *WhatsAppManager) ConnectClient(ctx context.Context, schemaName string) (*WhatsAppClient, error) {
	client, err := m.GetOrCreateClient(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	if client.Client.IsConnected() {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect WhatsApp for %s: %w", schemaName, err)
	}
	return client, nil
}

// RestoreSessions reconnects every tenant that has a device store on disk
func (m *WhatsAppManager) RestoreSessions(ctx context.Context) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		m.log.Warn().Err(err).Msg("cannot read devices directory")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}
		schema := entry.Name()[:len(entry.Name())-len(".db")]
		client, err := m.GetOrCreateClient(ctx, schema)
		if err != nil {
			m.log.Warn().Err(err).Str("tenant", schema).Msg("cannot restore WhatsApp session")
			continue
		}
		if !client.IsLoggedIn() {
			continue
		}
		if err := client.Connect(ctx); err != nil {
			m.log.Warn().Err(err).Str("tenant", schema).Msg("cannot reconnect WhatsApp session")
		}
	}
}

// LogoutClient logs the tenant out and forgets its client
func (m *WhatsAppManager) LogoutClient(ctx context.Context, schemaName string) error {
	m.mu.Lock()
	client, exists := m.clients[schemaName]
	delete(m.clients, schemaName)
	m.mu.Unlock()

	// No client = already logged out
	if !exists || client == nil {
		return nil
	}
	if !client.IsLoggedIn() {
		client.Disconnect()
		return nil
	}
	return client.Logout(ctx)
}

// SendContent implements ChannelSender for the tenant's WhatsApp Web session
func (m *WhatsAppManager) SendContent(ctx context.Context, tenantID, address string, content entities.Content) error {
	client := m.GetClient(tenantID)
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%w: whatsapp/%s", ErrChannelUnavailable, tenantID)
	}
	return client.SendContent(ctx, address, content)
}

// DisconnectAll disconnects all clients (for graceful shutdown)
func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		client.Disconnect()
	}
	m.clients = make(map[string]*WhatsAppClient)
}

func sanitizeFileName(name string) string {
	out := []rune(name)
	for i, r := range out {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			out[i] = '_'
		}
	}
	return string(out)
}
