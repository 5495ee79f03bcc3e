package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"
)

const (
	defaultChoiceBody = "Please choose an option"
	defaultListLabel  = "Options"
)

// run executes nodeID and auto-advances until a node halts, the graph ends or the hop ceiling is hit.
func (e *Engine) run(ctx context.Context, g *Graph, session *entities.WorkflowSession, nodeID string) error {
	parent := ctx
	ctx, done := e.track(ctx, session.ID)
	defer done()

	log := e.sessionLog(session)

	// A drop that landed before track registered the run cannot cancel it; look again
	active, err := e.stillActive(ctx, session)
	if err != nil {
		return err
	}
	if !active {
		log.Debug().Str("node", nodeID).Msg("session no longer active, not running")
		return nil
	}

	for hops := 0; ; hops++ {
		if hops >= e.opts.MaxHops {
			return e.fail(ctx, session, fmt.Errorf("%w after %d nodes at %s", ErrHopLimit, hops, nodeID))
		}

		node, ok := g.Node(nodeID)
		if !ok {
			return e.fail(ctx, session, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID))
		}

		halt, err := e.execute(ctx, session, node)
		if err != nil && ctx.Err() != nil && parent.Err() == nil {
			// Dropped while waiting to send
			log.Debug().Str("node", nodeID).Msg("session cancelled before send")
			return nil
		}
		if err != nil {
			// Left active at the last persisted node; a later message or the idle sweep moves it on
			log.Warn().Err(err).Str("node", nodeID).Msg("node execution aborted")
			e.publish(ctx, entities.SessionEvent{
				Kind: entities.EventSendFailed, TenantID: session.TenantID, SessionID: session.ID,
				WorkflowID: session.WorkflowID, ConversationID: session.ConversationID,
				NodeID: nodeID, NodeType: string(node.Kind()), Reason: err.Error(),
			})
			return fmt.Errorf("execute node %s: %w", nodeID, err)
		}

		e.publish(ctx, entities.SessionEvent{
			Kind: entities.EventNodeExecuted, TenantID: session.TenantID, SessionID: session.ID,
			WorkflowID: session.WorkflowID, ConversationID: session.ConversationID,
			NodeID: nodeID, NodeType: string(node.Kind()),
		})
		if halt {
			return nil
		}

		next, ok := g.Next(nodeID, "")
		if !ok {
			return e.complete(ctx, session)
		}
		if err := e.sessions.SetCurrentNode(ctx, session.TenantID, session.ID, next); err != nil {
			if errors.Is(err, interfaces.ErrSessionNotActive) {
				log.Debug().Str("node", next).Msg("session left active state, stopping")
				return nil
			}
			return fmt.Errorf("advance session %s to %s: %w", session.ID, next, err)
		}
		session.CurrentNodeID = next
		nodeID = next
	}
}

// execute performs the side effect of one node and reports whether the session halts there.
func (e *Engine) execute(ctx context.Context, session *entities.WorkflowSession, node Node) (bool, error) {
	switch n := node.(type) {
	case *StartNode:
		return false, nil

	case *MessageNode:
		if strings.TrimSpace(n.Content) == "" {
			return false, nil
		}
		return false, e.send(ctx, session, e.opts.PacingDelay, &entities.TextContent{Body: n.Content})

	case *ImageNode:
		if strings.TrimSpace(n.ImageURL) == "" {
			if strings.TrimSpace(n.Caption) == "" {
				return false, nil
			}
			return false, e.send(ctx, session, e.opts.PacingDelay, &entities.TextContent{Body: n.Caption})
		}
		return false, e.send(ctx, session, e.opts.PacingDelay, &entities.ImageContent{Link: n.ImageURL, Caption: n.Caption})

	case *GalleryNode:
		delay := e.opts.PacingDelay
		for _, link := range n.ImageURLs {
			if strings.TrimSpace(link) == "" {
				continue
			}
			if err := e.send(ctx, session, delay, &entities.ImageContent{Link: link}); err != nil {
				return false, err
			}
			delay = e.opts.GalleryPause
		}
		if strings.TrimSpace(n.Content) != "" {
			return false, e.send(ctx, session, delay, &entities.TextContent{Body: n.Content})
		}
		return false, nil

	case *ButtonNode:
		return e.executeButtons(ctx, session, n)

	case *ListNode:
		return e.executeList(ctx, session, n)

	default:
		e.log.Warn().Str("node", node.NodeID()).Str("type", string(node.Kind())).Msg("unknown node type, passing through")
		return false, nil
	}
}

func (e *Engine) executeButtons(ctx context.Context, session *entities.WorkflowSession, n *ButtonNode) (bool, error) {
	if len(n.Buttons) == 1 && n.Buttons[0].Subtype() != ButtonReply {
		b := n.Buttons[0]
		cta := &entities.InteractiveContent{
			Subtype: entities.InteractiveCTAURL,
			Body:    bodyOrDefault(n.Content, b.Text),
			Action: entities.InteractiveAction{
				CTA: &entities.CTAAction{DisplayText: truncate(b.Text, MaxButtonTitle), URL: b.Link()},
			},
		}
		err := e.send(ctx, session, e.opts.PacingDelay, cta)
		if err == nil {
			return false, nil
		}
		if ctx.Err() != nil {
			return false, err
		}
		e.log.Warn().Err(err).Str("node", n.ID).Msg("call-to-action send failed, falling back to text")
	}

	body := strings.TrimSpace(n.Content)
	var replies []entities.ReplyButton
	for i, b := range n.Buttons {
		switch b.Subtype() {
		case ButtonURL, ButtonPhone:
			body += fmt.Sprintf("\n\n%s: %s", strings.TrimSpace(b.Text), strings.TrimSpace(b.Value))
		default:
			replies = append(replies, entities.ReplyButton{ID: HandleID(i), Title: truncate(b.Text, MaxButtonTitle)})
		}
	}
	body = strings.TrimSpace(body)

	if len(replies) == 0 {
		if body == "" {
			return false, nil
		}
		return false, e.send(ctx, session, e.opts.PacingDelay, &entities.TextContent{Body: body})
	}

	choice := &entities.InteractiveContent{
		Subtype: entities.InteractiveButton,
		Body:    bodyOrDefault(body, defaultChoiceBody),
		Action:  entities.InteractiveAction{Buttons: replies},
	}
	return true, e.send(ctx, session, e.opts.PacingDelay, choice)
}

func (e *Engine) executeList(ctx context.Context, session *entities.WorkflowSession, n *ListNode) (bool, error) {
	if len(n.Items) == 0 {
		e.log.Warn().Str("node", n.ID).Msg("list node has no items, passing through")
		return false, nil
	}

	rows := make([]entities.ListRow, 0, len(n.Items))
	for i, item := range n.Items {
		rows = append(rows, entities.ListRow{
			ID:          HandleID(i),
			Title:       truncate(item.Title, MaxListTitle),
			Description: truncate(item.Description, MaxListDescription),
		})
	}

	list := &entities.InteractiveContent{
		Subtype: entities.InteractiveList,
		Body:    bodyOrDefault(n.Content, defaultChoiceBody),
		Action: entities.InteractiveAction{
			Button:   truncate(bodyOrDefault(n.Label, defaultListLabel), MaxButtonTitle),
			Sections: []entities.ListSection{{Rows: rows}},
		},
	}
	return true, e.send(ctx, session, e.opts.PacingDelay, list)
}

// send waits for the pacing delay and hands the content to the sender.
// A cancelled context aborts before anything is sent.
func (e *Engine) send(ctx context.Context, session *entities.WorkflowSession, delay time.Duration, content entities.Content) error {
	if err := pause(ctx, delay); err != nil {
		return err
	}
	return e.sender.Send(ctx, session.TenantID, session.ConversationID, content)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func bodyOrDefault(body, fallback string) string {
	if strings.TrimSpace(body) == "" {
		return fallback
	}
	return strings.TrimSpace(body)
}
