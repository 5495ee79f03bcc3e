package workflow

import (
	"context"
	"fmt"
	"sort"

	"project_chatflow/internal/entities"
)

// match finds the first active definition whose trigger keywords contain the normalized text.
// Definitions are tried most recently updated first, then by id.
func (e *Engine) match(ctx context.Context, tenantID, text string) (*Graph, string, error) {
	normalized := entities.NormalizeText(text)
	if normalized == "" {
		return nil, "", nil
	}

	defs, err := e.definitions.ListActive(ctx, tenantID)
	if err != nil {
		return nil, "", fmt.Errorf("list active workflows: %w", err)
	}

	sort.SliceStable(defs, func(i, j int) bool {
		if !defs[i].UpdatedAt.Equal(defs[j].UpdatedAt) {
			return defs[i].UpdatedAt.After(defs[j].UpdatedAt)
		}
		return defs[i].ID < defs[j].ID
	})

	for _, def := range defs {
		if !def.IsActive {
			continue
		}
		for _, keyword := range def.TriggerKeywords() {
			if keyword != normalized {
				continue
			}
			g, err := e.compile(def)
			if err != nil {
				e.log.Warn().Err(err).Str("tenant", tenantID).Str("workflow", def.ID).Msg("skipping invalid workflow")
				break
			}
			return g, keyword, nil
		}
	}
	return nil, "", nil
}

// trigger starts a workflow when the text is one of its keywords.
func (e *Engine) trigger(ctx context.Context, tenantID, conversationID string, msg entities.Message) (bool, error) {
	g, keyword, err := e.match(ctx, tenantID, msg.Text())
	if err != nil || g == nil {
		return false, err
	}

	log := e.log.With().Str("tenant", tenantID).Str("conversation", conversationID).Str("workflow", g.ID).Logger()

	// At most one active session per conversation
	existing, err := e.sessions.FindActiveByConversation(ctx, tenantID, conversationID)
	if err != nil {
		return true, fmt.Errorf("find active session: %w", err)
	}
	if existing != nil {
		if err := e.drop(ctx, existing, "superseded by "+g.ID); err != nil {
			return true, err
		}
		log.Info().Str("session", existing.ID).Msg("dropped previous session")
	}

	start, err := g.Start()
	if err != nil {
		log.Error().Err(err).Msg("cannot start workflow")
		return true, fmt.Errorf("workflow %s: %w", g.ID, err)
	}
	first, ok := g.Next(start.NodeID(), "")
	if !ok {
		log.Warn().Msg("start node has no outgoing edge, nothing to run")
		return true, nil
	}

	now := e.now()
	session := &entities.WorkflowSession{
		ID:             e.newID(),
		TenantID:       tenantID,
		WorkflowID:     g.ID,
		ConversationID: conversationID,
		CurrentNodeID:  first,
		Status:         entities.SessionActive,
		State: map[string]any{
			"trigger": keyword,
			"channel": msg.Platform,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.sessions.Create(ctx, session); err != nil {
		return true, fmt.Errorf("create session: %w", err)
	}
	log.Info().Str("session", session.ID).Str("trigger", keyword).Msg("workflow started")
	e.publish(ctx, sessionEvent(entities.EventSessionStarted, session, keyword))

	return true, e.run(ctx, g, session, first)
}
