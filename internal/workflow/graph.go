package workflow

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"project_chatflow/internal/entities"

	"github.com/mitchellh/mapstructure"
)

type NodeType string

const (
	TypeStart   NodeType = "start"
	TypeMessage NodeType = "message"
	TypeImage   NodeType = "image"
	TypeGallery NodeType = "gallery"
	TypeButton  NodeType = "button"
	TypeList    NodeType = "list"
)

// Node is one executable node of a compiled graph. The set of implementations is closed.
type Node interface {
	NodeID() string
	Kind() NodeType
}

type StartNode struct {
	ID string
}

type MessageNode struct {
	ID      string
	Content string
}

type ImageNode struct {
	ID       string
	ImageURL string
	Caption  string
}

type GalleryNode struct {
	ID        string
	ImageURLs []string
	Content   string
}

// Button subtypes.
const (
	ButtonReply = "reply"
	ButtonURL   = "url"
	ButtonPhone = "phone"
)

type Button struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Subtype returns the normalized subtype; anything unknown is a reply.
func (b Button) Subtype() string {
	switch strings.ToLower(strings.TrimSpace(b.Type)) {
	case ButtonURL:
		return ButtonURL
	case ButtonPhone:
		return ButtonPhone
	default:
		return ButtonReply
	}
}

// Link is the target of a url or phone button.
func (b Button) Link() string {
	if b.Subtype() == ButtonPhone {
		return "tel:" + strings.TrimSpace(b.Value)
	}
	return strings.TrimSpace(b.Value)
}

type ButtonNode struct {
	ID      string
	Content string
	Buttons []Button
}

type ListItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ListNode struct {
	ID      string
	Content string
	Label   string
	Items   []ListItem
}

// UnknownNode keeps nodes of unrecognized types so they can be passed through.
type UnknownNode struct {
	ID   string
	Type string
}

func (n *StartNode) NodeID() string   { return n.ID }
func (n *MessageNode) NodeID() string { return n.ID }
func (n *ImageNode) NodeID() string   { return n.ID }
func (n *GalleryNode) NodeID() string { return n.ID }
func (n *ButtonNode) NodeID() string  { return n.ID }
func (n *ListNode) NodeID() string    { return n.ID }
func (n *UnknownNode) NodeID() string { return n.ID }

func (*StartNode) Kind() NodeType     { return TypeStart }
func (*MessageNode) Kind() NodeType   { return TypeMessage }
func (*ImageNode) Kind() NodeType     { return TypeImage }
func (*GalleryNode) Kind() NodeType   { return TypeGallery }
func (*ButtonNode) Kind() NodeType    { return TypeButton }
func (*ListNode) Kind() NodeType      { return TypeList }
func (n *UnknownNode) Kind() NodeType { return NodeType(n.Type) }

// Channel limits applied when rendering interactive content.
const (
	MaxButtonTitle     = 20
	MaxListTitle       = 24
	MaxListDescription = 72
)

// HandleID names the edge handle of the i-th choice of a button or list node.
func HandleID(i int) string {
	return fmt.Sprintf("handle-%d", i)
}

type edgeKey struct {
	source string
	handle string
}

// Graph is a validated, indexed workflow definition.
type Graph struct {
	ID        string
	TenantID  string
	Name      string
	Triggers  []string
	UpdatedAt time.Time

	nodes map[string]Node
	start string
	edges map[edgeKey]string
}

// Compile decodes node data into typed nodes and indexes edges by (source, handle).
func Compile(def entities.WorkflowDefinition) (*Graph, error) {
	g := &Graph{
		ID:        def.ID,
		TenantID:  def.TenantID,
		Name:      def.Name,
		Triggers:  def.TriggerKeywords(),
		UpdatedAt: def.UpdatedAt,
		nodes:     make(map[string]Node, len(def.Nodes)),
		edges:     make(map[edgeKey]string, len(def.Edges)),
	}

	for i, raw := range def.Nodes {
		if raw.ID == "" {
			return nil, fmt.Errorf("workflow %s node[%d]: id is required", def.ID, i)
		}
		if _, dup := g.nodes[raw.ID]; dup {
			return nil, fmt.Errorf("workflow %s: duplicate node id %s", def.ID, raw.ID)
		}
		node, err := decodeNode(raw)
		if err != nil {
			return nil, fmt.Errorf("workflow %s node %s: %w", def.ID, raw.ID, err)
		}
		if node.Kind() == TypeStart {
			if g.start != "" {
				return nil, fmt.Errorf("workflow %s: more than one start node (%s, %s)", def.ID, g.start, raw.ID)
			}
			g.start = raw.ID
		}
		g.nodes[raw.ID] = node
	}

	for i, e := range def.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("workflow %s edge[%d]: unknown source node %q", def.ID, i, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("workflow %s edge[%d]: unknown target node %q", def.ID, i, e.Target)
		}
		key := edgeKey{source: e.Source, handle: e.Handle}
		// First edge wins, like a linear scan would.
		if _, exists := g.edges[key]; !exists {
			g.edges[key] = e.Target
		}
	}
	return g, nil
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Start returns the start node.
func (g *Graph) Start() (Node, error) {
	if g.start == "" {
		return nil, ErrNoStartNode
	}
	return g.nodes[g.start], nil
}

// Next resolves the target of the edge leaving source with the given handle.
// An empty handle selects the unconditioned edge.
func (g *Graph) Next(source, handle string) (string, bool) {
	target, ok := g.edges[edgeKey{source: source, handle: handle}]
	return target, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

type contentData struct {
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl"`
}

type galleryData struct {
	ImageURLs []string `json:"imageUrls"`
	Content   string   `json:"content"`
}

type buttonData struct {
	Content string   `json:"content"`
	Buttons []Button `json:"buttons"`
}

type listData struct {
	Content string     `json:"content"`
	Label   string     `json:"label"`
	Items   []ListItem `json:"items"`
}

func decodeNode(raw entities.Node) (Node, error) {
	switch NodeType(strings.ToLower(raw.Type)) {
	case TypeStart:
		return &StartNode{ID: raw.ID}, nil
	case TypeMessage:
		var d contentData
		if err := decodeData(raw.Data, &d); err != nil {
			return nil, err
		}
		return &MessageNode{ID: raw.ID, Content: d.Content}, nil
	case TypeImage:
		var d contentData
		if err := decodeData(raw.Data, &d); err != nil {
			return nil, err
		}
		return &ImageNode{ID: raw.ID, ImageURL: d.ImageURL, Caption: d.Content}, nil
	case TypeGallery:
		var d galleryData
		if err := decodeData(raw.Data, &d); err != nil {
			return nil, err
		}
		return &GalleryNode{ID: raw.ID, ImageURLs: d.ImageURLs, Content: d.Content}, nil
	case TypeButton:
		var d buttonData
		if err := decodeData(raw.Data, &d); err != nil {
			return nil, err
		}
		return &ButtonNode{ID: raw.ID, Content: d.Content, Buttons: d.Buttons}, nil
	case TypeList:
		var d listData
		if err := decodeData(raw.Data, &d); err != nil {
			return nil, err
		}
		return &ListNode{ID: raw.ID, Content: d.Content, Label: d.Label, Items: d.Items}, nil
	default:
		return &UnknownNode{ID: raw.ID, Type: raw.Type}, nil
	}
}

func decodeData(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
