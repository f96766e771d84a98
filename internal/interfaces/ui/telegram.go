package ui

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
	"github.com/autodrive/autodrive/internal/domain/decision"
)

// TelegramConfig configures the notification sink.
type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

// TelegramNotifier pushes the events a detached operator actually needs
// on their phone (budget/intervention alerts and terminal decisions)
// to a configured chat. Everything else (thinking deltas, token
// metrics) stays on the interactive surfaces.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier validates the token against the Bot API. Returns
// an error when the token is rejected so a typo fails at startup, not
// at the first alert.
func NewTelegramNotifier(cfg TelegramConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	logger.Info("Telegram notifier ready", zap.String("bot", bot.Self.UserName))
	return &TelegramNotifier{
		bot:    bot,
		chatID: cfg.ChatID,
		logger: logger,
	}, nil
}

// Emit implements coordinator.EventSink.
func (t *TelegramNotifier) Emit(ev coordinator.Event) {
	switch ev.Kind {
	case coordinator.EventBudgetAlert:
		t.send("⚠️ <b>Budget alert</b>\n" + MarkdownToTelegramHTML(ev.AlertMessage))

	case coordinator.EventInterventionRequired:
		t.send("🛑 <b>Intervention required</b>\n" + MarkdownToTelegramHTML(ev.AlertMessage))

	case coordinator.EventDecision:
		if ev.Decision == nil || ev.Decision.Decision == nil {
			return
		}
		d := ev.Decision.Decision
		switch d.Status {
		case decision.StatusSuccess:
			t.send("✅ <b>" + htmlTitle(d.StatusTitle, "Run succeeded") + "</b>\n" + MarkdownToTelegramHTML(d.StatusSentToUser))
		case decision.StatusFailed:
			t.send("❌ <b>" + htmlTitle(d.StatusTitle, "Run failed") + "</b>\n" + MarkdownToTelegramHTML(d.StatusSentToUser))
		}

	default:
	}
}

func (t *TelegramNotifier) send(html string) {
	msg := tgbotapi.NewMessage(t.chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("Telegram send failed", zap.Error(err))
	}
}

func htmlTitle(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return MarkdownToTelegramHTML(title)
}
