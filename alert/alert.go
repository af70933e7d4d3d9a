// Package alert sends operator-facing notifications over Telegram,
// grounded on the teacher's internal/bot.Bot send* helpers, reduced to
// the one-way escalation channel this system needs (spec.md §7's
// "escalate as a critical alert" and §4.8's operator-attention notes).
package alert

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Alerter is the interface placement and reconcile depend on.
type Alerter interface {
	// Critical sends a message that requires immediate operator
	// attention (e.g. a failed rollback leaving residual exposure).
	Critical(ctx context.Context, message string)
	// Notice sends an informational message (e.g. a reconciliation
	// top-up below the minimum order size).
	Notice(ctx context.Context, message string)
}

// TelegramAlerter sends alerts to one configured chat.
type TelegramAlerter struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New builds a TelegramAlerter. Returns a NoopAlerter if token or
// chat id are unset, so the engine can run without operator alerting
// configured (e.g. in tests or a dry run).
func New(botToken string, chatID int64) Alerter {
	if botToken == "" || chatID == 0 {
		log.Warn().Msg("telegram alerting not configured, using no-op alerter")
		return NoopAlerter{}
	}
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		log.Warn().Err(err).Msg("telegram bot init failed, using no-op alerter")
		return NoopAlerter{}
	}
	log.Info().Str("username", api.Self.UserName).Msg("telegram alerter connected")
	return &TelegramAlerter{api: api, chatID: chatID}
}

func (a *TelegramAlerter) Critical(ctx context.Context, message string) {
	a.send(fmt.Sprintf("🚨 CRITICAL\n\n%s", message))
}

func (a *TelegramAlerter) Notice(ctx context.Context, message string) {
	a.send(fmt.Sprintf("ℹ️ %s", message))
}

func (a *TelegramAlerter) send(text string) {
	msg := tgbotapi.NewMessage(a.chatID, text)
	if _, err := a.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("telegram alert send failed")
	}
}

// NoopAlerter discards every alert. Used when Telegram credentials are
// absent so the rest of the engine does not need nil checks.
type NoopAlerter struct{}

func (NoopAlerter) Critical(ctx context.Context, message string) {
	log.Warn().Str("alert", message).Msg("critical alert (no alerter configured)")
}

func (NoopAlerter) Notice(ctx context.Context, message string) {
	log.Info().Str("alert", message).Msg("notice alert (no alerter configured)")
}
