package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func incoming(msg *waProto.Message) *events.Message {
	evt := &events.Message{Message: msg}
	evt.Info.Sender = types.NewJID("628111", types.DefaultUserServer)
	return evt
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     *waProto.Message
		content string
		replyID string
	}{
		{"conversation", &waProto.Message{Conversation: proto.String("hello")}, "hello", ""},
		{
			"extended text",
			&waProto.Message{ExtendedTextMessage: &waProto.ExtendedTextMessage{Text: proto.String("quoted reply")}},
			"quoted reply", "",
		},
		{
			"list response",
			&waProto.Message{ListResponseMessage: &waProto.ListResponseMessage{
				Title:             proto.String("Tea"),
				SingleSelectReply: &waProto.ListResponseMessage_SingleSelectReply{SelectedRowID: proto.String("handle-0")},
			}},
			"Tea", "handle-0",
		},
		{
			"image caption",
			&waProto.Message{ImageMessage: &waProto.ImageMessage{Caption: proto.String("see this")}},
			"see this", "",
		},
		{"unsupported", &waProto.Message{}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, content, replyID := ParseMessage(incoming(tt.msg))
			assert.Equal(t, "628111", sender)
			assert.Equal(t, tt.content, content)
			assert.Equal(t, tt.replyID, replyID)
		})
	}
}

func TestToJID(t *testing.T) {
	jid, err := toJID("628111")
	require.NoError(t, err)
	assert.Equal(t, "628111@s.whatsapp.net", jid.String())
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "tenant_1", sanitizeFileName("tenant_1"))
	assert.Equal(t, "___etc_passwd", sanitizeFileName("../etc/passwd"))
}
