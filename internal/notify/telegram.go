// Package notify posts booking activity to staff Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"velosta/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramError represents an error from Telegram API.
type TelegramError struct {
	Code       int
	Message    string
	RetryAfter int // seconds to wait before retrying (for 429 errors)
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsTelegramError checks if the error is a TelegramError.
func IsTelegramError(err error) (*TelegramError, bool) {
	var tgErr *TelegramError
	if errors.As(err, &tgErr) {
		return tgErr, true
	}
	return nil, false
}

// Telegram sends plain-text messages to staff chats.
type Telegram struct {
	client    telegramClient
	chatIDs   []int64
	formatter *Formatter
	logger    zerolog.Logger

	wg sync.WaitGroup
}

// New connects to the Bot API with token.
func New(token string, debug bool, chatIDs []int64, formatter *Formatter, logger zerolog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = debug
	return NewWithTelegramClient(api, chatIDs, formatter, logger), nil
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(client telegramClient, chatIDs []int64, formatter *Formatter, logger zerolog.Logger) *Telegram {
	return &Telegram{
		client:    client,
		chatIDs:   append([]int64(nil), chatIDs...),
		formatter: formatter,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// ChatIDs returns the staff chats messages go to.
func (t *Telegram) ChatIDs() []int64 {
	return append([]int64(nil), t.chatIDs...)
}

// Notify sends text to one chat. Bot API failures come back as *TelegramError.
func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.client.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return &TelegramError{
				Code:       apiErr.Code,
				Message:    apiErr.Message,
				RetryAfter: apiErr.RetryAfter,
			}
		}
		return err
	}
	return nil
}

// HandleEvent posts a short note about a booking event to every staff chat.
// Sending happens in the background so API responses are not held up by Telegram.
func (t *Telegram) HandleEvent(ctx context.Context, e events.Event) error {
	text := t.formatter.Event(e)
	if text == "" {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		t.Broadcast(sendCtx, text)
	}()
	return nil
}

// Broadcast sends text to every staff chat and logs failures.
func (t *Telegram) Broadcast(ctx context.Context, text string) int {
	sent := 0
	for _, id := range t.chatIDs {
		if err := t.Notify(ctx, id, text); err != nil {
			t.logger.Warn().Err(err).Int64("chat_id", id).Msg("failed to notify staff chat")
			continue
		}
		sent++
	}
	return sent
}

// Subscribe attaches HandleEvent to the booking events staff care about.
func (t *Telegram) Subscribe(bus *events.Bus) {
	bus.Subscribe(t.HandleEvent, events.BookingCreated, events.BookingReturned, events.BookingDeleted)
}

// Wait blocks until background sends finish.
func (t *Telegram) Wait() {
	t.wg.Wait()
}
