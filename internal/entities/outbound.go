package entities

// Content is one outbound payload: *TextContent, *ImageContent or *InteractiveContent.
type Content interface {
	ContentType() string
}

type TextContent struct {
	Body string `json:"body"`
}

type ImageContent struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

// Interactive subtypes, named after the WhatsApp Cloud API.
const (
	InteractiveButton = "button"
	InteractiveList   = "list"
	InteractiveCTAURL = "cta_url"
)

type InteractiveContent struct {
	Subtype string            `json:"type"`
	Body    string            `json:"body"`
	Action  InteractiveAction `json:"action"`
}

type InteractiveAction struct {
	Buttons  []ReplyButton `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"` // List opener label
	Sections []ListSection `json:"sections,omitempty"`
	CTA      *CTAAction    `json:"cta,omitempty"`
}

type ReplyButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type CTAAction struct {
	DisplayText string `json:"display_text"`
	URL         string `json:"url"`
}

func (*TextContent) ContentType() string        { return "text" }
func (*ImageContent) ContentType() string       { return "image" }
func (*InteractiveContent) ContentType() string { return "interactive" }

// Labels lists the choices of an interactive message in display order.
func (c *InteractiveContent) Labels() []string {
	var out []string
	for _, b := range c.Action.Buttons {
		out = append(out, b.Title)
	}
	for _, s := range c.Action.Sections {
		for _, r := range s.Rows {
			out = append(out, r.Title)
		}
	}
	return out
}
