package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"project_chatflow/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// telegramBot is the part of *tgbotapi.BotAPI the manager uses
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramBotInstance represents a single tenant's Telegram bot
type TelegramBotInstance struct {
	Bot      telegramBot
	Name     string
	Schema   string
	stop     chan struct{}
	stopOnce sync.Once
}

func (i *TelegramBotInstance) close() {
	i.stopOnce.Do(func() { close(i.stop) })
}

// TelegramBotManager manages one Telegram bot per tenant schema
type TelegramBotManager struct {
	bots map[string]*TelegramBotInstance
	mu   sync.RWMutex
	log  zerolog.Logger

	// OnMessage receives every inbound text message and button press
	OnMessage func(ctx context.Context, msg entities.Message)
}

func NewTelegramBotManager(log zerolog.Logger) *TelegramBotManager {
	return &TelegramBotManager{
		bots: make(map[string]*TelegramBotInstance),
		log:  log.With().Str("channel", entities.PlatformTelegram).Logger(),
	}
}

// GetBot returns the tenant's bot (nil if not connected)
func (m *TelegramBotManager) GetBot(schema string) *TelegramBotInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bots[schema]
}

// ConnectBot creates the tenant's bot and starts polling until ctx is done
func (m *TelegramBotManager) ConnectBot(ctx context.Context, schema, token string) (*TelegramBotInstance, error) {
	if existing := m.GetBot(schema); existing != nil {
		return existing, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return m.attach(ctx, schema, bot, bot.Self.UserName), nil
}

func (m *TelegramBotManager) attach(ctx context.Context, schema string, bot telegramBot, name string) *TelegramBotInstance {
	instance := &TelegramBotInstance{
		Bot:    bot,
		Name:   name,
		Schema: schema,
		stop:   make(chan struct{}),
	}

	m.mu.Lock()
	m.bots[schema] = instance
	m.mu.Unlock()

	go m.startPolling(ctx, instance)
	return instance
}

// startPolling runs the update loop for a tenant's bot
func (m *TelegramBotManager) startPolling(ctx context.Context, instance *TelegramBotInstance) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := instance.Bot.GetUpdatesChan(u)
	defer instance.Bot.StopReceivingUpdates()

	log := m.log.With().Str("tenant", instance.Schema).Str("bot", instance.Name).Logger()
	log.Info().Msg("started polling")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopped polling")
			return
		case <-instance.stop:
			log.Info().Msg("stopped polling")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				// Acknowledge so the client stops the loading spinner
				if _, err := instance.Bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
					log.Debug().Err(err).Msg("callback ack failed")
				}
			}
			msg, ok := TelegramUpdateToMessage(update, instance.Schema)
			if !ok || m.OnMessage == nil {
				continue
			}
			go m.OnMessage(ctx, msg)
		}
	}
}

// TelegramUpdateToMessage converts a text message or inline button press.
// Button presses carry the reply id as callback data; the label is looked up on the keyboard.
func TelegramUpdateToMessage(update tgbotapi.Update, schema string) (entities.Message, bool) {
	switch {
	case update.Message != nil && update.Message.Text != "":
		return entities.Message{
			ID:         strconv.Itoa(update.Message.MessageID),
			From:       strconv.FormatInt(update.Message.Chat.ID, 10),
			Content:    update.Message.Text,
			Platform:   entities.PlatformTelegram,
			SchemaName: schema,
		}, true

	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		cb := update.CallbackQuery
		msg := entities.Message{
			ID:         cb.ID,
			From:       strconv.FormatInt(cb.Message.Chat.ID, 10),
			Content:    cb.Data,
			Platform:   entities.PlatformTelegram,
			SchemaName: schema,
			IsCallback: true,
		}
		if cb.Message.ReplyMarkup != nil {
			for _, row := range cb.Message.ReplyMarkup.InlineKeyboard {
				for _, b := range row {
					if b.CallbackData != nil && *b.CallbackData == cb.Data {
						msg.ReplyID, msg.ReplyTitle = cb.Data, b.Text
					}
				}
			}
		}
		return msg, true
	}
	return entities.Message{}, false
}

// ContentKeyboard builds the inline keyboard of interactive content, nil if it has none
func ContentKeyboard(c *entities.InteractiveContent) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	switch {
	case c.Action.CTA != nil:
		if !strings.HasPrefix(c.Action.CTA.URL, "http") {
			// Telegram only opens http(s) links from buttons
			return nil
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(c.Action.CTA.DisplayText, c.Action.CTA.URL)))

	case len(c.Action.Buttons) > 0:
		var row []tgbotapi.InlineKeyboardButton
		for i, b := range c.Action.Buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Title, b.ID))
			if (i+1)%2 == 0 {
				rows = append(rows, row)
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}

	default:
		for _, s := range c.Action.Sections {
			for _, r := range s.Rows {
				rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(r.Title, r.ID)))
			}
		}
	}

	if len(rows) == 0 {
		return nil
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}

// SendContent implements ChannelSender for the tenant's bot
func (m *TelegramBotManager) SendContent(ctx context.Context, tenantID, address string, content entities.Content) error {
	instance := m.GetBot(tenantID)
	if instance == nil {
		return fmt.Errorf("%w: telegram/%s", ErrChannelUnavailable, tenantID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", address, err)
	}

	var chattable tgbotapi.Chattable
	switch c := content.(type) {
	case *entities.ImageContent:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(c.Link))
		photo.Caption = c.Caption
		chattable = photo
	case *entities.InteractiveContent:
		msg := tgbotapi.NewMessage(chatID, c.Body)
		if keyboard := ContentKeyboard(c); keyboard != nil {
			msg.ReplyMarkup = keyboard
		} else {
			msg.Text = RenderText(c)
		}
		chattable = msg
	default:
		chattable = tgbotapi.NewMessage(chatID, RenderText(content))
	}

	_, err = instance.Bot.Send(chattable)
	return err
}

// DisconnectBot stops a tenant's bot
func (m *TelegramBotManager) DisconnectBot(schema string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if instance, ok := m.bots[schema]; ok {
		instance.close()
		delete(m.bots, schema)
	}
}

// ValidateToken checks a token against the Bot API and returns the bot username
func (m *TelegramBotManager) ValidateToken(token string) (string, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return bot.Self.UserName, nil
}

// GetStatus returns connection status for a tenant
func (m *TelegramBotManager) GetStatus(schema string) (connected bool, botName string) {
	if instance := m.GetBot(schema); instance != nil {
		return true, instance.Name
	}
	return false, ""
}

// DisconnectAll stops all bots (for graceful shutdown)
func (m *TelegramBotManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, instance := range m.bots {
		instance.close()
	}
	m.bots = make(map[string]*TelegramBotInstance)
}
