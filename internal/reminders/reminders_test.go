package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"velosta/internal/model"
	"velosta/internal/notify"
	"velosta/internal/phone"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu    sync.Mutex
	errs  []error
	sent  map[int64][]string
	calls int
}

func (f *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	if f.sent == nil {
		f.sent = make(map[int64][]string)
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

type listerFunc func(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)

func (fn listerFunc) ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error) {
	return fn(ctx, f)
}

func testLogger() Logger {
	return ZerologLogger{L: zerolog.Nop()}
}

func newTestSender(n Notifier, m *Metrics) (*Sender, *[]time.Duration) {
	s := NewSender(n, 100, DefaultRetryConfig(), m, testLogger())
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestSendWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		want      SendOutcome
		wantCalls int
		wantSleep []time.Duration
	}{
		{
			name:      "first try",
			want:      OutcomeSent,
			wantCalls: 1,
		},
		{
			name:      "honours retry_after",
			errs:      []error{&notify.TelegramError{Code: 429, RetryAfter: 7}},
			want:      OutcomeSent,
			wantCalls: 2,
			wantSleep: []time.Duration{7 * time.Second},
		},
		{
			name:      "blocked is final",
			errs:      []error{&notify.TelegramError{Code: 403, Message: "Forbidden"}},
			want:      OutcomeBlocked,
			wantCalls: 1,
		},
		{
			name:      "bad request is final",
			errs:      []error{&notify.TelegramError{Code: 400, Message: "chat not found"}},
			want:      OutcomeBadRequest,
			wantCalls: 1,
		},
		{
			name:      "network errors back off then give up",
			errs:      []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")},
			want:      OutcomeMaxRetries,
			wantCalls: 4,
			wantSleep: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{errs: tt.errs}
			s, slept := newTestSender(n, NewMetrics("test", prometheus.NewRegistry()))

			got, err := s.SendWithRetry(context.Background(), 42, "hello", DigestDue)
			assert.Equal(t, tt.want, got)
			if tt.want == OutcomeSent {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			assert.Equal(t, tt.wantCalls, n.calls)
			assert.Equal(t, tt.wantSleep, *slept)
		})
	}
}

func TestSendWithRetry_CountsOutcomes(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	s, _ := newTestSender(&fakeNotifier{}, m)

	_, err := s.SendWithRetry(context.Background(), 1, "x", DigestOverdue)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemindersSentTotal.WithLabelValues("sent", "overdue")))
}

func TestCollect(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	mk := func(id string, start, end time.Time, status model.BookingStatus) model.Booking {
		return model.Booking{ID: id, BikeID: "x", StartDate: start, EndDate: end, Status: status}
	}
	open := []model.Booking{
		mk("due-late", now.Add(-48*time.Hour), now.Add(20*time.Hour), model.BookingActive),
		mk("due-soon", now.Add(-48*time.Hour), now.Add(2*time.Hour), model.BookingActive),
		mk("later", now.Add(-48*time.Hour), now.Add(48*time.Hour), model.BookingActive),
		mk("overdue", now.Add(-72*time.Hour), now.Add(-time.Hour), model.BookingActive),
		mk("ends-now", now.Add(-72*time.Hour), now, model.BookingActive),
		mk("future", now.Add(time.Hour), now.Add(5*time.Hour), model.BookingUpcoming),
		mk("returned", now.Add(-72*time.Hour), now.Add(-time.Hour), model.BookingReturned),
	}

	due, overdue := Collect(open, now, 24*time.Hour)

	ids := func(list []model.Booking) []string {
		var out []string
		for _, b := range list {
			out = append(out, b.ID)
		}
		return out
	}
	assert.Equal(t, []string{"due-soon", "due-late"}, ids(due))
	assert.Equal(t, []string{"overdue", "ends-now"}, ids(overdue))
}

func TestScheduler_RunOnce(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	lister := listerFunc(func(_ context.Context, f model.BookingFilter) ([]model.Booking, error) {
		assert.Equal(t, model.OpenStatuses, f.Statuses)
		return []model.Booking{{
			ID: "b1", BikeID: "x", BikeName: "Activa", CustomerName: "Ravi", Phone: "+919876543210",
			StartDate: now.Add(-48 * time.Hour), EndDate: now.Add(-time.Hour),
			TotalAmount: 1500, PaidAmount: 500, Status: model.BookingActive,
		}}, nil
	})

	phones, err := phone.NewNormalizer("+91", 10)
	require.NoError(t, err)
	n := &fakeNotifier{errs: []error{nil, &notify.TelegramError{Code: 403}}}
	sender, _ := newTestSender(n, nil)

	s, err := NewScheduler(SchedulerConfig{
		Schedule:  "0 9 * * *",
		DueWithin: 24 * time.Hour,
		Location:  time.UTC,
		ChatIDs:   []int64{10, 20},
	}, lister, sender, notify.NewFormatter(phones, "₹", time.UTC), nil, testLogger())
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 0, Overdue: 1, Sent: 1, Failed: 1}, report)
	require.Len(t, n.sent[10], 1)
	assert.Contains(t, n.sent[10][0], "Overdue returns (1):")
	assert.Contains(t, n.sent[10][0], "balance ₹1000")
}

func TestScheduler_NothingToSend(t *testing.T) {
	lister := listerFunc(func(context.Context, model.BookingFilter) ([]model.Booking, error) { return nil, nil })
	n := &fakeNotifier{}
	sender, _ := newTestSender(n, nil)

	s, err := NewScheduler(SchedulerConfig{Schedule: "@hourly", ChatIDs: []int64{1}}, lister, sender,
		notify.NewFormatter(nil, "$", nil), nil, testLogger())
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Sent)
	assert.Zero(t, n.calls)
}

func TestScheduler_ListFailure(t *testing.T) {
	lister := listerFunc(func(context.Context, model.BookingFilter) ([]model.Booking, error) {
		return nil, errors.New("backend down")
	})
	sender, _ := newTestSender(&fakeNotifier{}, nil)
	s, err := NewScheduler(SchedulerConfig{Schedule: "@daily"}, lister, sender, notify.NewFormatter(nil, "$", nil), nil, testLogger())
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "backend down")
}

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{Schedule: "every morning"}, nil, nil, nil, nil, testLogger())
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	lister := listerFunc(func(context.Context, model.BookingFilter) ([]model.Booking, error) { return nil, nil })
	sender, _ := newTestSender(&fakeNotifier{}, nil)
	s, err := NewScheduler(SchedulerConfig{Schedule: "@daily"}, lister, sender, notify.NewFormatter(nil, "$", nil), nil, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Start(ctx)
	cancel()
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.running
	}, time.Second, 10*time.Millisecond)
}
