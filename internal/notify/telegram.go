package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"stayledger/internal/domain"
	"stayledger/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ErrNoChat is returned when the recipient has no linked Telegram chat.
var ErrNoChat = errors.New("user has no telegram chat")

// UserLookup resolves a user to their Telegram chat.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// TelegramNotifier delivers notifications as Telegram messages.
type TelegramNotifier struct {
	bot    domain.TelegramSender
	users  UserLookup
	logger zerolog.Logger
}

var _ domain.Notifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(bot domain.TelegramSender, users UserLookup, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:    bot,
		users:  users,
		logger: logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// NewBot connects to the Bot API with token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

// Notify sends n to the user's chat. Users without a chat are skipped.
func (t *TelegramNotifier) Notify(ctx context.Context, n models.Notification) error {
	user, err := t.users.GetUser(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("lookup user %d: %w", n.UserID, err)
	}
	if user.TelegramChatID == nil {
		t.logger.Debug().Int64("user_id", n.UserID).Str("type", string(n.Type)).Msg("Recipient has no telegram chat, skipping")
		return nil
	}

	msg := tgbotapi.NewMessage(*user.TelegramChatID, Format(n))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Format renders n as Telegram HTML.
func Format(n models.Notification) string {
	var sb strings.Builder
	sb.WriteString("<b>")
	sb.WriteString(html.EscapeString(n.Title))
	sb.WriteString("</b>")
	if n.Message != "" {
		sb.WriteString("\n\n")
		sb.WriteString(html.EscapeString(n.Message))
	}
	if n.Link != "" {
		sb.WriteString("\n\n")
		sb.WriteString(html.EscapeString(n.Link))
	}
	return sb.String()
}

// LogNotifier only logs notifications. Used when Telegram delivery is disabled.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "log_notifier").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, n models.Notification) error {
	l.logger.Info().
		Int64("user_id", n.UserID).
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Msg("Notification")
	return nil
}
