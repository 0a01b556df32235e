// Package alert pushes operator notifications through the Telegram Bot
// API when a batch assessment crosses the escalation threshold.
package alert

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/debrisk/debrisk/internal/batch"
	"github.com/debrisk/debrisk/internal/metrics"
)

// Notifier sends threat notifications to a Telegram chat. A nil
// *Notifier is a disabled notifier; every method is a no-op on it, so
// callers never need to branch on whether alerting is configured.
type Notifier struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewNotifier creates a Notifier for the given bot token and chat.
// An empty token disables alerting and returns a nil Notifier.
func NewNotifier(botToken, chatID string, logger *slog.Logger) (*Notifier, error) {
	if botToken == "" {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	return &Notifier{
		bot:        bot,
		chatID:     chatIDInt,
		logger:     logger,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// NotifyBatch sends a notification when the batch threat level reaches
// HIGH or CRITICAL. Delivery failures are logged, never propagated; a
// lost alert must not fail the assessment that triggered it. Retries
// sleep between attempts, so call this off the request path.
func (n *Notifier) NotifyBatch(source string, sum batch.Summary) {
	if n == nil {
		return
	}
	level := batch.ThreatLevel(sum)
	if level != "CRITICAL" && level != "HIGH" {
		return
	}

	if err := n.sendMarkdownV2(formatMessage(source, level, sum)); err != nil {
		metrics.AlertSent(false)
		n.logger.Warn("alert delivery failed", "threat_level", level, "source", source, "error", err)
		return
	}
	metrics.AlertSent(true)
	n.logger.Info("alert sent", "threat_level", level, "source", source)
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (n *Notifier) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if _, err := n.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(n.retryDelay * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", n.maxRetries, lastErr)
}

// formatMessage renders the batch digest as Telegram MarkdownV2.
func formatMessage(source, level string, sum batch.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Reentry threat level: %s*\n\n", level)
	fmt.Fprintf(&b, "📡 Source: %s\n", escapeMarkdownV2(source))
	fmt.Fprintf(&b, "Objects analyzed: %d\n", sum.TotalSatellites)
	fmt.Fprintf(&b, "High risk: %d\n", sum.HighRiskSatellites)
	fmt.Fprintf(&b, "Reentries within 30 days: %d\n", sum.ReentriesWithin30Days)
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
