package entities

import "strings"

type Message struct {
	ID         string
	From       string
	Content    string
	Platform   string // "whatsapp", "wacloud", "telegram", "web"
	SchemaName string // Tenant schema
	ReplyID    string // Interactive reply id, e.g. "handle-1" (channels that support it)
	ReplyTitle string // Interactive reply title as shown to the contact
	IsCallback bool   // Whether this is from a button callback
}

// Platform prefixes used in conversation ids.
const (
	PlatformWhatsApp = "whatsapp"
	PlatformWACloud  = "wacloud"
	PlatformTelegram = "telegram"
	PlatformWeb      = "web"
)

// ConversationID identifies the channel thread, e.g. "telegram:12345".
func (m Message) ConversationID() string {
	return ConversationID(m.Platform, m.From)
}

// Tenant returns the schema the message belongs to.
func (m Message) Tenant() string {
	if m.SchemaName == "" {
		return "public"
	}
	return m.SchemaName
}

// Text returns the plain text of the reply. Interactive reply titles win over the body.
func (m Message) Text() string {
	if m.ReplyTitle != "" {
		return m.ReplyTitle
	}
	return m.Content
}

func ConversationID(platform, address string) string {
	return platform + ":" + address
}

// SplitConversationID is the inverse of ConversationID.
func SplitConversationID(id string) (platform, address string, ok bool) {
	platform, address, ok = strings.Cut(id, ":")
	if !ok || platform == "" || address == "" {
		return "", "", false
	}
	return platform, address, true
}
