package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"project_chatflow/internal/entities"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionEventsTopic carries every session lifecycle event
const SessionEventsTopic = "workflow.sessions"

// EventBus fans session events out to in-process subscribers
type EventBus struct {
	pubsub *gochannel.GoChannel
	log    zerolog.Logger
}

func NewEventBus(log zerolog.Logger) *EventBus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		zerologAdapter{log: log.With().Str("module", "watermill").Logger()},
	)
	return &EventBus{pubsub: pubsub, log: log}
}

// Publish implements the engine's EventPublisher. Failures are logged only.
func (b *EventBus) Publish(_ context.Context, event entities.SessionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Error().Err(err).Str("kind", event.Kind).Msg("cannot encode session event")
		return
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", event.Kind)
	msg.Metadata.Set("tenant", event.TenantID)
	msg.Metadata.Set("session", event.SessionID)

	if err := b.pubsub.Publish(SessionEventsTopic, msg); err != nil {
		b.log.Warn().Err(err).Str("kind", event.Kind).Msg("cannot publish session event")
	}
}

// Subscribe calls handler for each event until ctx is done or the bus is closed
func (b *EventBus) Subscribe(ctx context.Context, handler func(entities.SessionEvent)) error {
	messages, err := b.pubsub.Subscribe(ctx, SessionEventsTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SessionEventsTopic, err)
	}

	go func() {
		for msg := range messages {
			var event entities.SessionEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.log.Warn().Err(err).Str("uuid", msg.UUID).Msg("dropping malformed session event")
				msg.Ack()
				continue
			}
			handler(event)
			msg.Ack()
		}
	}()
	return nil
}

func (b *EventBus) Close() error {
	return b.pubsub.Close()
}

// zerologAdapter lets watermill log through zerolog
type zerologAdapter struct {
	log zerolog.Logger
}

func (a zerologAdapter) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	return e.Fields(map[string]interface{}(fields))
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.log.Error().Err(err), fields).Msg(msg)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.log.Debug(), fields).Msg(msg)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.log.Debug(), fields).Msg(msg)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.log.Trace(), fields).Msg(msg)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{log: a.log.With().Fields(map[string]interface{}(fields)).Logger()}
}
