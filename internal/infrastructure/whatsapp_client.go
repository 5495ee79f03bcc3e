package infrastructure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"project_chatflow/internal/entities"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const maxImageBytes = 16 << 20

type WhatsAppClient struct {
	Client *whatsmeow.Client

	SchemaName string // Tenant schema for data isolation

	log    zerolog.Logger
	http   *http.Client
	qrCode string
	qrLock sync.RWMutex
}

func NewWhatsAppClient(ctx context.Context, dbPath, schemaName string, log zerolog.Logger) (*WhatsAppClient, error) {
	log = log.With().Str("channel", entities.PlatformWhatsApp).Str("tenant", schemaName).Logger()

	// Initialize SQLite container
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Zerolog(log.With().Str("module", "database").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device store: %w", err)
	}

	// Get the first device (or create one)
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(log.With().Str("module", "client").Logger()))

	return &WhatsAppClient{
		Client:     client,
		SchemaName: schemaName,
		log:        log,
		http:       &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event == "code" {
			w.qrLock.Lock()
			w.qrCode = evt.Code
			w.qrLock.Unlock()
			w.log.Info().Msg("new login QR code available")
		} else {
			w.log.Info().Str("event", evt.Event).Msg("login event")
		}
	}
}

func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		// Already logged in
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.log.Info().Msg("connected with existing session")
		return nil
	}

	// No ID stored, new login
	qrChan, err := w.Client.GetQRChannel(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

// IsConnected returns true if client is connected and logged in
func (w *WhatsAppClient) IsConnected() bool {
	return w.Client.IsConnected() && w.Client.Store.ID != nil
}

// GetPhoneNumber returns the connected phone number
func (w *WhatsAppClient) GetPhoneNumber() string {
	if w.Client.Store.ID == nil {
		return ""
	}
	return w.Client.Store.ID.User
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrLock.Unlock()

	if err := w.Client.Logout(ctx); err != nil {
		return err
	}
	w.Client.Disconnect()
	return nil
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

func toJID(address string) (types.JID, error) {
	jid, err := types.ParseJID(address + "@" + types.DefaultUserServer)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid number format: %w", err)
	}
	return jid, nil
}

// SendContent delivers text and images natively; interactive content is sent as text
func (w *WhatsAppClient) SendContent(ctx context.Context, address string, content entities.Content) error {
	jid, err := toJID(address)
	if err != nil {
		return err
	}

	msg := &waProto.Message{}
	switch c := content.(type) {
	case *entities.ImageContent:
		image, err := w.uploadImage(ctx, c)
		if err != nil {
			w.log.Warn().Err(err).Str("link", c.Link).Msg("image upload failed, sending link as text")
			msg.Conversation = proto.String(RenderText(content))
		} else {
			msg.ImageMessage = image
		}
	default:
		msg.Conversation = proto.String(RenderText(content))
	}

	_, err = w.Client.SendMessage(ctx, jid, msg)
	return err
}

func (w *WhatsAppClient) uploadImage(ctx context.Context, c *entities.ImageContent) (*waProto.ImageMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	uploaded, err := w.Client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	image := &waProto.ImageMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		Mimetype:      proto.String(http.DetectContentType(data)),
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}
	if c.Caption != "" {
		image.Caption = proto.String(c.Caption)
	}
	return image, nil
}

// ParseMessage converts a whatsmeow message event into sender and text.
// Button and list replies from other WhatsApp clients carry their selected id.
func ParseMessage(evt *events.Message) (sender, content, replyID string) {
	sender = evt.Info.Sender.User
	m := evt.Message
	switch {
	case m.GetConversation() != "":
		content = m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		content = m.GetExtendedTextMessage().GetText()
	case m.GetButtonsResponseMessage() != nil:
		content = m.GetButtonsResponseMessage().GetSelectedDisplayText()
		replyID = m.GetButtonsResponseMessage().GetSelectedButtonID()
	case m.GetListResponseMessage() != nil:
		content = m.GetListResponseMessage().GetTitle()
		replyID = m.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
	case m.GetImageMessage() != nil:
		content = m.GetImageMessage().GetCaption()
	}
	return sender, content, replyID
}
