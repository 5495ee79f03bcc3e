package usecases

import (
	"context"
	"fmt"
	"strings"

	"project_chatflow/internal/entities"
	"project_chatflow/internal/interfaces"
	"project_chatflow/internal/repository"

	"github.com/rs/zerolog"
)

// WorkflowRunner is the workflow engine as seen by the message pipeline
type WorkflowRunner interface {
	HandleInbound(ctx context.Context, msg entities.Message) (bool, error)
}

// ConfigProvider reads tenant bot settings and menus
type ConfigProvider interface {
	GetConfig(ctx context.Context, schemaName, key string) (string, error)
	GetMenu(ctx context.Context, schemaName, slug string) (*repository.Menu, error)
	GetAllMenus(ctx context.Context, schemaName string) ([]repository.Menu, error)
}

// Menu item actions
const (
	ActionReply    = "reply"    // Payload is sent as text
	ActionWorkflow = "workflow" // Payload is a trigger keyword
)

// MessageService handles incoming messages: workflows first, then rule-based responses
type MessageService struct {
	engine WorkflowRunner
	sender interfaces.MessageSender
	config ConfigProvider
	log    zerolog.Logger
}

func NewMessageService(engine WorkflowRunner, sender interfaces.MessageSender, config ConfigProvider, log zerolog.Logger) *MessageService {
	return &MessageService{
		engine: engine,
		sender: sender,
		config: config,
		log:    log,
	}
}

// ProcessMessage handles an inbound message with a priority-based rule system.
// Priority: 1. Workflow → 2. Greeting → 3. MENU → 4. Menu Selection → 5. Default
func (s *MessageService) ProcessMessage(ctx context.Context, msg entities.Message) error {
	schema := msg.Tenant()
	log := s.log.With().
		Str("tenant", schema).
		Str("conversation", msg.ConversationID()).
		Logger()

	// 1. WORKFLOWS (active session or trigger keyword)
	if s.engine != nil {
		consumed, err := s.engine.HandleInbound(ctx, msg)
		if err != nil {
			log.Error().Err(err).Msg("workflow engine error")
		}
		if consumed {
			return nil
		}
	}

	content := strings.TrimSpace(msg.Text())
	contentLower := strings.ToLower(content)
	if content == "" {
		return nil
	}
	log.Debug().Str("text", content).Msg("no workflow matched")

	// 2. GREETING DETECTION
	if isGreeting(contentLower) {
		return s.sendReply(ctx, msg, s.getWelcomeMessage(ctx, schema))
	}

	// 3. MENU COMMAND - Show all available menus
	if isMenuCommand(contentLower) {
		return s.sendReply(ctx, msg, s.getMenuList(ctx, schema))
	}

	// 4. DYNAMIC MENU HANDLING
	if handled, err := s.handleDynamicMenu(ctx, msg, contentLower); err != nil {
		log.Warn().Err(err).Msg("menu handling error")
	} else if handled {
		return nil
	}

	// 5. DEFAULT FALLBACK
	return s.sendReply(ctx, msg, defaultResponse)
}

var greetings = []string{"halo", "hai", "hello", "hi", "selamat pagi", "selamat siang", "selamat sore", "selamat malam", "assalamualaikum", "start", "/start"}

// isGreeting matches a greeting at the start of the message
func isGreeting(content string) bool {
	for _, g := range greetings {
		if content == g || strings.HasPrefix(content, g+" ") || strings.HasPrefix(content, g+"!") || strings.HasPrefix(content, g+",") {
			return true
		}
	}
	return false
}

var menuCommands = []string{"menu", "help", "?", "daftar", "pilihan", "opsi"}

func isMenuCommand(content string) bool {
	for _, cmd := range menuCommands {
		if content == cmd || strings.HasPrefix(content, cmd+" ") {
			return true
		}
	}
	return false
}

// getWelcomeMessage returns configured or default welcome message
func (s *MessageService) getWelcomeMessage(ctx context.Context, schema string) string {
	if s.config != nil {
		if welcome, err := s.config.GetConfig(ctx, schema, "welcome_message"); err == nil && welcome != "" {
			return welcome
		}
	}
	return "👋 *Selamat datang!*\n\nSaya adalah asisten virtual.\nKetik *MENU* untuk melihat pilihan yang tersedia."
}

// getMenuList returns formatted list of available menus
func (s *MessageService) getMenuList(ctx context.Context, schema string) string {
	if s.config == nil {
		return "Menu tidak tersedia."
	}

	menus, err := s.config.GetAllMenus(ctx, schema)
	if err != nil || len(menus) == 0 {
		return "📋 *Menu*\n\nBelum ada menu yang dikonfigurasi.\nHubungi admin untuk setup."
	}

	var sb strings.Builder
	sb.WriteString("📋 *Menu Tersedia:*\n\n")
	for i, menu := range menus {
		fmt.Fprintf(&sb, "%d. *%s*\n", i+1, menu.Title)
		items, err := menu.MenuItems()
		if err != nil {
			s.log.Warn().Err(err).Str("tenant", schema).Str("menu", menu.Slug).Msg("skipping menu items")
		}
		for _, item := range items {
			fmt.Fprintf(&sb, "   • %s\n", item.Label)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("_Ketik nama menu atau pilihan untuk melanjutkan_")
	return sb.String()
}

// handleDynamicMenu answers a label of the tenant's main_menu
func (s *MessageService) handleDynamicMenu(ctx context.Context, msg entities.Message, contentLower string) (bool, error) {
	if s.config == nil {
		return false, nil
	}

	menu, err := s.config.GetMenu(ctx, msg.Tenant(), "main_menu")
	if err != nil || menu == nil {
		return false, err
	}
	items, err := menu.MenuItems()
	if err != nil {
		return false, err
	}

	for _, item := range items {
		if strings.ToLower(strings.TrimSpace(item.Label)) != contentLower {
			continue
		}
		switch item.Action {
		case ActionReply:
			return true, s.sendReply(ctx, msg, item.Payload)
		case ActionWorkflow:
			return s.startWorkflow(ctx, msg, item.Payload)
		}
	}
	return false, nil
}

// startWorkflow offers the menu item's keyword to the engine as if the contact typed it
func (s *MessageService) startWorkflow(ctx context.Context, msg entities.Message, keyword string) (bool, error) {
	if s.engine == nil {
		return false, nil
	}
	triggered := msg
	triggered.Content = keyword
	triggered.ReplyID, triggered.ReplyTitle = "", ""
	consumed, err := s.engine.HandleInbound(ctx, triggered)
	if err != nil {
		return consumed, fmt.Errorf("start workflow %q: %w", keyword, err)
	}
	return consumed, nil
}

const defaultResponse = "🤔 Maaf, saya tidak mengerti pesan Anda.\n\n" +
	"Silakan coba:\n" +
	"• Ketik *MENU* untuk melihat pilihan\n" +
	"• Atau pilih dari menu yang tersedia"

// sendReply sends text back through the conversation's channel
func (s *MessageService) sendReply(ctx context.Context, msg entities.Message, text string) error {
	if s.sender == nil {
		return fmt.Errorf("no messaging client available")
	}
	return s.sender.Send(ctx, msg.Tenant(), msg.ConversationID(), &entities.TextContent{Body: text})
}
