// Package notify sends operational alerts (account breaches, passes
// and daily resets) to a Telegram chat; store/KV failures are logged
// by their callers and not alerted. Adapted from the
// teacher's NotificationService: the same lazy bot init and "disabled
// if no token" fallback, but fed by the Risk Engine's audit emission
// instead of whale-signal approvals. Purely additive — a notify
// failure never blocks or gates a trading decision.
package notify

import (
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier sends best-effort alerts; a nil *Notifier is valid and a no-op.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New initializes the Telegram bot. If token is empty, alerts are
// disabled and every call becomes a no-op (teacher's own fallback).
func New(token string, chatID int64) *Notifier {
	if token == "" {
		log.Println("notify: TELEGRAM_BOT_TOKEN not set, alerts disabled")
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("notify: failed to init telegram bot: %v", err)
		return nil
	}
	log.Printf("notify: authorized on account %s", bot.Self.UserName)
	return &Notifier{bot: bot, chatID: chatID}
}

// Alert sends a plain-text operational alert. Nil-safe.
func (n *Notifier) Alert(text string) {
	if n == nil || n.bot == nil || n.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		log.Printf("notify: send failed: %v", err)
	}
}
