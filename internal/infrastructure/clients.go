package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"project_chatflow/internal/entities"
)

const (
	defaultHTTPTimeout  = 15 * time.Second
	DefaultCloudBaseURL = "https://graph.facebook.com/v18.0"
)

// WhatsAppBusinessClient sends messages through the WhatsApp Cloud API
type WhatsAppBusinessClient struct {
	accessToken   string
	phoneNumberID string
	baseURL       string
	http          *http.Client
}

func NewWhatsAppBusinessClient(accessToken, phoneNumberID, baseURL string) *WhatsAppBusinessClient {
	if baseURL == "" {
		baseURL = DefaultCloudBaseURL
	}
	return &WhatsAppBusinessClient{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type cloudText struct {
	Body string `json:"body"`
}

type cloudReply struct {
	Type  string `json:"type"`
	Reply struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reply"`
}

type cloudAction struct {
	Name       string                 `json:"name,omitempty"`
	Buttons    []cloudReply           `json:"buttons,omitempty"`
	Button     string                 `json:"button,omitempty"`
	Sections   []entities.ListSection `json:"sections,omitempty"`
	Parameters *entities.CTAAction    `json:"parameters,omitempty"`
}

type cloudInteractive struct {
	Type   string      `json:"type"`
	Body   cloudText   `json:"body"`
	Action cloudAction `json:"action"`
}

// cloudPayload builds the request body of POST /{phone-number-id}/messages
func cloudPayload(to string, content entities.Content) (map[string]any, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
	}

	switch c := content.(type) {
	case *entities.TextContent:
		payload["type"] = "text"
		payload["text"] = cloudText{Body: c.Body}
	case *entities.ImageContent:
		image := map[string]string{"link": c.Link}
		if c.Caption != "" {
			image["caption"] = c.Caption
		}
		payload["type"] = "image"
		payload["image"] = image
	case *entities.InteractiveContent:
		interactive := cloudInteractive{Type: c.Subtype, Body: cloudText{Body: c.Body}}
		switch c.Subtype {
		case entities.InteractiveButton:
			for _, b := range c.Action.Buttons {
				r := cloudReply{Type: "reply"}
				r.Reply.ID, r.Reply.Title = b.ID, b.Title
				interactive.Action.Buttons = append(interactive.Action.Buttons, r)
			}
		case entities.InteractiveList:
			interactive.Action.Button = c.Action.Button
			interactive.Action.Sections = c.Action.Sections
		case entities.InteractiveCTAURL:
			if c.Action.CTA == nil {
				return nil, fmt.Errorf("cta_url message without action")
			}
			interactive.Action.Name = "cta_url"
			interactive.Action.Parameters = c.Action.CTA
		default:
			return nil, fmt.Errorf("unsupported interactive type %q", c.Subtype)
		}
		payload["type"] = "interactive"
		payload["interactive"] = interactive
	default:
		return nil, fmt.Errorf("unsupported content %T", content)
	}
	return payload, nil
}

// SendContent implements ChannelSender. The tenant is fixed by the phone number id.
func (w *WhatsAppBusinessClient) SendContent(ctx context.Context, _ string, to string, content entities.Content) error {
	payload, err := cloudPayload(to, content)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("cloud api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// CloudWebhook is the notification body the Cloud API posts to the webhook
type CloudWebhook struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive struct {
						Type        string `json:"type"`
						ButtonReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
						ListReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"list_reply"`
					} `json:"interactive"`
					Button struct {
						Text    string `json:"text"`
						Payload string `json:"payload"`
					} `json:"button"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Messages converts the notification into inbound messages for a tenant.
// Status updates carry no messages and yield nothing.
func (h CloudWebhook) Messages(schemaName string) []entities.Message {
	var out []entities.Message
	for _, entry := range h.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				msg := entities.Message{
					ID:         m.ID,
					From:       m.From,
					Platform:   entities.PlatformWACloud,
					SchemaName: schemaName,
				}
				switch m.Type {
				case "text":
					msg.Content = m.Text.Body
				case "interactive":
					msg.IsCallback = true
					switch m.Interactive.Type {
					case "button_reply":
						msg.ReplyID, msg.ReplyTitle = m.Interactive.ButtonReply.ID, m.Interactive.ButtonReply.Title
					case "list_reply":
						msg.ReplyID, msg.ReplyTitle = m.Interactive.ListReply.ID, m.Interactive.ListReply.Title
					}
				case "button":
					msg.Content = m.Button.Text
				default:
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out
}
