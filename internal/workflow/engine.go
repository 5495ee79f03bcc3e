package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Options struct {
	PacingDelay  time.Duration // Before every send
	GalleryPause time.Duration // Between gallery images
	MaxHops      int           // Auto-advance ceiling per run
}

func DefaultOptions() Options {
	return Options{
		PacingDelay:  800 * time.Millisecond,
		GalleryPause: 500 * time.Millisecond,
		MaxHops:      50,
	}
}

// Engine runs workflow sessions for inbound messages.
type Engine struct {
	definitions interfaces.DefinitionStore
	sessions    interfaces.SessionStore
	sender      interfaces.MessageSender
	locker      interfaces.ConversationLocker
	events      interfaces.EventPublisher
	log         zerolog.Logger
	opts        Options

	now   func() time.Time
	newID func() string

	graphsMu sync.Mutex
	graphs   map[string]*Graph

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
}

type Option func(*Engine)

func WithLocker(l interfaces.ConversationLocker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithEvents(p interfaces.EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log.With().Str("component", "workflow").Logger() }
}

func WithOptions(opts Options) Option {
	return func(e *Engine) {
		if opts.MaxHops <= 0 {
			opts.MaxHops = DefaultOptions().MaxHops
		}
		e.opts = opts
	}
}

func NewEngine(definitions interfaces.DefinitionStore, sessions interfaces.SessionStore, sender interfaces.MessageSender, options ...Option) *Engine {
	e := &Engine{
		definitions: definitions,
		sessions:    sessions,
		sender:      sender,
		locker:      NewConversationLocks(),
		log:         zerolog.Nop(),
		opts:        DefaultOptions(),
		now:         time.Now,
		newID:       uuid.NewString,
		graphs:      make(map[string]*Graph),
		inflight:    make(map[string]context.CancelFunc),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// HandleInbound offers a message to the engine. It returns true when the message was
// consumed by a session or a trigger; false means the caller should treat it as chat.
func (e *Engine) HandleInbound(ctx context.Context, msg entities.Message) (bool, error) {
	tenantID := msg.Tenant()
	conversationID := msg.ConversationID()

	unlock, err := e.locker.Lock(ctx, tenantID+"/"+conversationID)
	if err != nil {
		return false, fmt.Errorf("lock conversation %s: %w", conversationID, err)
	}
	defer unlock()

	session, err := e.sessions.FindActiveByConversation(ctx, tenantID, conversationID)
	if err != nil {
		return false, fmt.Errorf("find active session: %w", err)
	}

	var resumeErr error
	if session != nil {
		consumed, err := e.resume(ctx, session, msg)
		if consumed {
			return true, err
		}
		resumeErr = err
	}

	// Not consumed by the halted prompt: a trigger keyword may still start a new workflow
	consumed, err := e.trigger(ctx, tenantID, conversationID, msg)
	return consumed, errors.Join(resumeErr, err)
}

// SweepIdle drops active sessions idle for longer than ttl.
func (e *Engine) SweepIdle(ctx context.Context, ttl time.Duration) (int, error) {
	ids, err := e.sessions.DropIdle(ctx, e.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("drop idle sessions: %w", err)
	}
	for _, id := range ids {
		e.cancel(id)
		e.publish(ctx, entities.SessionEvent{Kind: entities.EventSessionDropped, SessionID: id, Reason: "idle"})
	}
	if len(ids) > 0 {
		e.log.Info().Int("count", len(ids)).Dur("ttl", ttl).Msg("dropped idle sessions")
	}
	return len(ids), nil
}

// Invalidate forgets the compiled graph of a workflow after it was edited.
func (e *Engine) Invalidate(tenantID, workflowID string) {
	e.graphsMu.Lock()
	defer e.graphsMu.Unlock()
	delete(e.graphs, tenantID+"/"+workflowID)
}

// compile returns the cached graph unless the definition changed since it was compiled.
func (e *Engine) compile(def entities.WorkflowDefinition) (*Graph, error) {
	key := def.TenantID + "/" + def.ID

	e.graphsMu.Lock()
	cached, ok := e.graphs[key]
	e.graphsMu.Unlock()
	if ok && cached.UpdatedAt.Equal(def.UpdatedAt) {
		return cached, nil
	}

	g, err := Compile(def)
	if err != nil {
		return nil, err
	}

	e.graphsMu.Lock()
	e.graphs[key] = g
	e.graphsMu.Unlock()
	return g, nil
}

// track registers a cancel func for the running session so that dropping it aborts pending sends.
func (e *Engine) track(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	e.inflightMu.Lock()
	e.inflight[sessionID] = cancel
	e.inflightMu.Unlock()

	return ctx, func() {
		e.inflightMu.Lock()
		delete(e.inflight, sessionID)
		e.inflightMu.Unlock()
		cancel()
	}
}

// stillActive reports whether session is still the active session of its conversation.
func (e *Engine) stillActive(ctx context.Context, session *entities.WorkflowSession) (bool, error) {
	current, err := e.sessions.FindActiveByConversation(ctx, session.TenantID, session.ConversationID)
	if err != nil {
		return false, fmt.Errorf("find active session: %w", err)
	}
	return current != nil && current.ID == session.ID, nil
}

func (e *Engine) cancel(sessionID string) {
	e.inflightMu.Lock()
	cancel, ok := e.inflight[sessionID]
	e.inflightMu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) drop(ctx context.Context, session *entities.WorkflowSession, reason string) error {
	e.cancel(session.ID)
	if err := e.sessions.SetStatus(ctx, session.TenantID, session.ID, entities.SessionDropped); err != nil {
		return fmt.Errorf("drop session %s: %w", session.ID, err)
	}
	session.Status = entities.SessionDropped
	e.publish(ctx, sessionEvent(entities.EventSessionDropped, session, reason))
	return nil
}

func (e *Engine) complete(ctx context.Context, session *entities.WorkflowSession) error {
	if err := e.sessions.SetStatus(ctx, session.TenantID, session.ID, entities.SessionCompleted); err != nil {
		return fmt.Errorf("complete session %s: %w", session.ID, err)
	}
	session.Status = entities.SessionCompleted
	e.sessionLog(session).Debug().Msg("session completed")
	e.publish(ctx, sessionEvent(entities.EventSessionCompleted, session, ""))
	return nil
}

// fail moves the session to error and returns cause, joined with any store failure.
func (e *Engine) fail(ctx context.Context, session *entities.WorkflowSession, cause error) error {
	e.sessionLog(session).Error().Err(cause).Msg("workflow session failed")

	// The run context may already be cancelled; the status update must still land
	if err := e.sessions.SetStatus(context.WithoutCancel(ctx), session.TenantID, session.ID, entities.SessionError); err != nil {
		return errors.Join(cause, fmt.Errorf("mark session %s as error: %w", session.ID, err))
	}
	session.Status = entities.SessionError
	e.publish(ctx, sessionEvent(entities.EventSessionErrored, session, cause.Error()))
	return cause
}

func (e *Engine) publish(ctx context.Context, event entities.SessionEvent) {
	if e.events == nil {
		return
	}
	if event.At.IsZero() {
		event.At = e.now()
	}
	e.events.Publish(ctx, event)
}

func (e *Engine) sessionLog(session *entities.WorkflowSession) *zerolog.Logger {
	log := e.log.With().
		Str("tenant", session.TenantID).
		Str("conversation", session.ConversationID).
		Str("session", session.ID).
		Str("workflow", session.WorkflowID).
		Logger()
	return &log
}

func sessionEvent(kind string, session *entities.WorkflowSession, reason string) entities.SessionEvent {
	return entities.SessionEvent{
		Kind:           kind,
		TenantID:       session.TenantID,
		SessionID:      session.ID,
		WorkflowID:     session.WorkflowID,
		ConversationID: session.ConversationID,
		NodeID:         session.CurrentNodeID,
		Reason:         reason,
	}
}
