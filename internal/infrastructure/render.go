package infrastructure

import (
	"fmt"
	"strings"

	"project_chatflow/internal/entities"
)

// RenderText flattens content for channels without native rich messages.
// Choices are listed one per line so the contact can reply with the label.
func RenderText(content entities.Content) string {
	switch c := content.(type) {
	case *entities.TextContent:
		return c.Body
	case *entities.ImageContent:
		if c.Caption == "" {
			return c.Link
		}
		return c.Caption + "\n" + c.Link
	case *entities.InteractiveContent:
		var sb strings.Builder
		sb.WriteString(c.Body)
		if c.Action.CTA != nil {
			fmt.Fprintf(&sb, "\n\n%s: %s", c.Action.CTA.DisplayText, c.Action.CTA.URL)
			return sb.String()
		}
		labels := c.Labels()
		if len(labels) > 0 {
			sb.WriteString("\n")
		}
		for _, label := range labels {
			fmt.Fprintf(&sb, "\n• %s", label)
		}
		return sb.String()
	default:
		return ""
	}
}
