package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink sends messages through the Telegram Bot API. Recipients
// are numeric chat ids.
type TelegramSink struct {
	bot            *tgbotapi.BotAPI
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegramSink creates the sink and verifies the bot token against
// the API.
func NewTelegramSink(botToken string, maxRetries int, retryDelayBase time.Duration) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &TelegramSink{
		bot:            bot,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Send delivers one message with linear-backoff retry. The text is
// escaped for MarkdownV2 so arbitrary order ids and error strings render
// verbatim.
func (s *TelegramSink) Send(recipient, text string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", recipient, err)
	}

	msg := tgbotapi.NewMessage(chatID, escapeMarkdownV2(text))
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		if _, err := s.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(s.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", s.maxRetries, lastErr)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
