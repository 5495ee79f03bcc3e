package workflow

import (
	"context"
	"errors"
	"fmt"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"
)

// resume continues a halted session with an inbound reply. It returns false when the
// reply does not answer the pending prompt.
func (e *Engine) resume(ctx context.Context, session *entities.WorkflowSession, msg entities.Message) (bool, error) {
	def, err := e.definitions.Get(ctx, session.TenantID, session.WorkflowID)
	if err != nil {
		return false, fmt.Errorf("load workflow %s: %w", session.WorkflowID, err)
	}
	if def == nil {
		return false, e.fail(ctx, session, fmt.Errorf("%w: %s", ErrWorkflowNotFound, session.WorkflowID))
	}
	g, err := e.compile(*def)
	if err != nil {
		return false, e.fail(ctx, session, err)
	}

	node, ok := g.Node(session.CurrentNodeID)
	if !ok {
		return false, e.fail(ctx, session, fmt.Errorf("%w: %s", ErrNodeNotFound, session.CurrentNodeID))
	}

	text := msg.Text()
	var (
		next  string
		found bool
	)

	switch n := node.(type) {
	case *ButtonNode:
		labels := make([]string, len(n.Buttons))
		for i, b := range n.Buttons {
			labels[i] = b.Text
		}
		i, matched := matchChoice(text, msg.ReplyID, labels, MaxButtonTitle)
		if !matched {
			return false, nil
		}
		next, found = g.Next(n.ID, HandleID(i))
		if !found {
			next, found = g.Next(n.ID, "")
		}

	case *ListNode:
		titles := make([]string, len(n.Items))
		for i, item := range n.Items {
			titles[i] = item.Title
		}
		i, matched := matchChoice(text, msg.ReplyID, titles, MaxListTitle)
		if !matched {
			return false, nil
		}
		next, found = g.Next(n.ID, HandleID(i))

	default:
		next, found = g.Next(node.NodeID(), "")
	}

	if !found {
		return true, e.complete(ctx, session)
	}
	if err := e.sessions.SetCurrentNode(ctx, session.TenantID, session.ID, next); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotActive) {
			// Dropped after it was looked up; the reply is left to triggers and chat
			e.sessionLog(session).Debug().Msg("session dropped before the reply was applied")
			return false, nil
		}
		return true, fmt.Errorf("advance session %s to %s: %w", session.ID, next, err)
	}
	session.CurrentNodeID = next
	return true, e.run(ctx, g, session, next)
}

// matchChoice finds the choice answered by a reply: the text must equal a label, or its
// truncated form, ignoring case. A channel reply id only picks between equal labels, so a
// tap on an older keyboard never resolves by position against the pending prompt.
func matchChoice(text, replyID string, labels []string, limit int) (int, bool) {
	normalized := entities.NormalizeText(text)
	if normalized == "" {
		return 0, false
	}

	matches := func(label string) bool {
		return entities.NormalizeText(label) == normalized || entities.NormalizeText(truncate(label, limit)) == normalized
	}
	if replyID != "" {
		for i, label := range labels {
			if replyID == HandleID(i) && matches(label) {
				return i, true
			}
		}
	}

	for i, label := range labels {
		if entities.NormalizeText(label) == normalized {
			return i, true
		}
	}
	for i, label := range labels {
		if entities.NormalizeText(truncate(label, limit)) == normalized {
			return i, true
		}
	}
	return 0, false
}
