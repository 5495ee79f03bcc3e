package infrastructure

import (
	"context"
	"fmt"
	"sync"

	"project_chatflow/internal/entities"
)

// ChannelSender delivers content to one address on a single channel
type ChannelSender interface {
	SendContent(ctx context.Context, tenantID, address string, content entities.Content) error
}

// ChannelRouter dispatches on the platform prefix of the conversation id
type ChannelRouter struct {
	mu       sync.RWMutex
	channels map[string]ChannelSender
}

func NewChannelRouter() *ChannelRouter {
	return &ChannelRouter{channels: make(map[string]ChannelSender)}
}

// Register binds a platform prefix to its sender, replacing any previous one
func (r *ChannelRouter) Register(platform string, sender ChannelSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[platform] = sender
}

func (r *ChannelRouter) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for p := range r.channels {
		out = append(out, p)
	}
	return out
}

// Send implements the engine's MessageSender
func (r *ChannelRouter) Send(ctx context.Context, tenantID, conversationID string, content entities.Content) error {
	platform, address, ok := entities.SplitConversationID(conversationID)
	if !ok {
		return fmt.Errorf("malformed conversation id %q", conversationID)
	}

	r.mu.RLock()
	sender, exists := r.channels[platform]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s/%s", ErrChannelUnavailable, platform, tenantID)
	}
	return sender.SendContent(ctx, tenantID, address, content)
}

// WebOutbox queues content for web conversations until the client polls for it
type WebOutbox struct {
	mu     sync.Mutex
	queues map[string][]entities.Content
	limit  int
}

// NewWebOutbox keeps at most limit pending items per conversation, oldest dropped first
func NewWebOutbox(limit int) *WebOutbox {
	if limit <= 0 {
		limit = 100
	}
	return &WebOutbox{queues: make(map[string][]entities.Content), limit: limit}
}

func outboxKey(tenantID, address string) string {
	return entities.Message{SchemaName: tenantID}.Tenant() + "/" + address
}

// SendContent implements ChannelSender
func (o *WebOutbox) SendContent(ctx context.Context, tenantID, address string, content entities.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	key := outboxKey(tenantID, address)
	q := append(o.queues[key], content)
	if len(q) > o.limit {
		q = q[len(q)-o.limit:]
	}
	o.queues[key] = q
	return nil
}

// Drain returns and clears the pending content of a conversation
func (o *WebOutbox) Drain(tenantID, address string) []entities.Content {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := outboxKey(tenantID, address)
	q := o.queues[key]
	delete(o.queues, key)
	return q
}
