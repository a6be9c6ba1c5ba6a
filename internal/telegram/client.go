// Package telegram sends operator notifications through the Telegram Bot API:
// display surfaces that start failing or recover, and denormalized counters
// found out of line with their relations.
//
// Messages use MarkdownV2 and are delivered with linear-backoff retries.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/coinpulse/internal/storage"
)

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		now:            time.Now,
	}, nil
}

// SurfaceFailed reports that a display surface's first poll in a row failed.
func (c *Client) SurfaceFailed(name string, err error) error {
	msg := "⚠️ *Surface failing*\n\n"
	msg += fmt.Sprintf("🖥 Surface: `%s`\n", escapeMarkdownV2(name))
	msg += fmt.Sprintf("📅 Since: %s\n", escapeMarkdownV2(c.now().UTC().Format("2006-01-02 15:04:05")))
	msg += fmt.Sprintf("❌ Error: %s\n", escapeMarkdownV2(err.Error()))
	return c.send(msg)
}

// SurfaceRecovered reports that a failing surface polled successfully again.
func (c *Client) SurfaceRecovered(name string, failures int) error {
	msg := "✅ *Surface recovered*\n\n"
	msg += fmt.Sprintf("🖥 Surface: `%s`\n", escapeMarkdownV2(name))
	msg += fmt.Sprintf("🔁 After %d failed %s\n", failures, plural(failures, "poll", "polls"))
	return c.send(msg)
}

// SendCounterDrift reports counters that disagreed with their relations and
// how many rows a recount repaired.
func (c *Client) SendCounterDrift(mismatches []storage.CounterMismatch, repaired int64, took time.Duration) error {
	if len(mismatches) == 0 {
		return nil
	}
	msg := "🧮 *Counter drift detected*\n\n"
	for i, m := range mismatches {
		if i == 10 {
			msg += escapeMarkdownV2(fmt.Sprintf("... and %d more", len(mismatches)-10)) + "\n"
			break
		}
		msg += fmt.Sprintf("%d\\. `%s` %s: stored %d, actual %d\n",
			i+1, escapeMarkdownV2(m.Entity), escapeMarkdownV2(m.ID), m.Stored, m.Actual)
	}
	msg += fmt.Sprintf("\n🔧 Repaired %d %s in %s\n", repaired, plural(int(repaired), "row", "rows"), escapeMarkdownV2(formatDuration(took)))
	return c.send(msg)
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d >= time.Second:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}
