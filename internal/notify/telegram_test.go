package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"velosta/internal/events"
	"velosta/internal/model"
	"velosta/internal/phone"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTelegram struct {
	mock.Mock
}

func (m *mockTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func testFormatter(t *testing.T) *Formatter {
	t.Helper()
	phones, err := phone.NewNormalizer("+91", 10)
	require.NoError(t, err)
	return NewFormatter(phones, "₹", time.UTC)
}

func sample() model.Booking {
	return model.Booking{
		ID:           "b1",
		BikeID:       "x",
		BikeName:     "Activa",
		CustomerName: "Ravi",
		Phone:        "+919876543210",
		StartDate:    time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC),
		TotalAmount:  1500,
		PaidAmount:   500,
		Status:       model.BookingActive,
	}
}

func TestNotify_MapsBotAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		sendErr  error
		wantCode int
		wantWait int
	}{
		{
			name:     "rate limited",
			sendErr:  &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}},
			wantCode: 429,
			wantWait: 3,
		},
		{
			name:     "blocked",
			sendErr:  &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"},
			wantCode: 403,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mockTelegram)
			client.On("Send", mock.Anything).Return(tt.sendErr)
			tg := NewWithTelegramClient(client, []int64{1}, testFormatter(t), zerolog.Nop())

			err := tg.Notify(context.Background(), 1, "hi")
			tgErr, ok := IsTelegramError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, tgErr.Code)
			assert.Equal(t, tt.wantWait, tgErr.RetryAfter)
		})
	}
}

func TestNotify_PassesThroughNetworkErrors(t *testing.T) {
	client := new(mockTelegram)
	client.On("Send", mock.Anything).Return(errors.New("connection reset"))
	tg := NewWithTelegramClient(client, []int64{1}, testFormatter(t), zerolog.Nop())

	err := tg.Notify(context.Background(), 1, "hi")
	_, ok := IsTelegramError(err)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection reset")
}

func TestHandleEvent_BroadcastsToStaffChats(t *testing.T) {
	client := new(mockTelegram)
	client.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 10
	})).Return(nil).Once()
	client.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 20
	})).Return(errors.New("chat not found")).Once()

	tg := NewWithTelegramClient(client, []int64{10, 20}, testFormatter(t), zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	tg.Subscribe(bus)

	bus.Publish(context.Background(), events.Event{Type: events.BookingCreated, Booking: sample()})
	tg.Wait()

	client.AssertExpectations(t)
}

func TestHandleEvent_IgnoresUpdates(t *testing.T) {
	client := new(mockTelegram)
	tg := NewWithTelegramClient(client, []int64{10}, testFormatter(t), zerolog.Nop())

	require.NoError(t, tg.HandleEvent(context.Background(), events.Event{Type: events.BookingUpdated, Booking: sample()}))
	tg.Wait()
	client.AssertNotCalled(t, "Send", mock.Anything)
}

func TestFormatter(t *testing.T) {
	f := testFormatter(t)
	b := sample()

	line := f.Line(&b)
	assert.Equal(t, "Activa: Ravi, +91 98765 43210, 01 Jan 10:00 to 04 Jan 10:00, balance ₹1000", line)

	returned := f.Event(events.Event{Type: events.BookingReturned, Booking: b, Payment: 1000})
	assert.Contains(t, returned, "Collected ₹1000")

	created := f.Event(events.Event{Type: events.BookingCreated, Booking: b})
	assert.Contains(t, created, "New booking (active)")

	digest := f.Digest([]model.Booking{b}, []model.Booking{b}, 24*time.Hour)
	assert.Contains(t, digest, "Overdue returns (1):")
	assert.Contains(t, digest, "Returns due in the next 24h (1):")

	assert.Empty(t, f.Digest(nil, nil, time.Hour))
}
