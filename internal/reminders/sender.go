package reminders

import (
	"context"
	"fmt"
	"time"

	"velosta/internal/notify"

	"golang.org/x/time/rate"
)

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	if len(c.RetryDelays) == 0 {
		return time.Second
	}
	if attempt >= len(c.RetryDelays) {
		return c.RetryDelays[len(c.RetryDelays)-1]
	}
	return c.RetryDelays[attempt]
}

// SendOutcome is the final state of one send.
type SendOutcome string

const (
	OutcomeSent        SendOutcome = "sent"
	OutcomeBlocked     SendOutcome = "chat_blocked"
	OutcomeBadRequest  SendOutcome = "bad_request"
	OutcomeMaxRetries  SendOutcome = "max_retries_exceeded"
	OutcomeInterrupted SendOutcome = "interrupted"
)

// Sender delivers messages with rate limiting and retry logic.
type Sender struct {
	notifier    Notifier
	limiter     *rate.Limiter
	retryConfig RetryConfig
	metrics     *Metrics
	logger      Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewSender creates a sender allowing perSecond messages with a burst of the same size.
func NewSender(notifier Notifier, perSecond int, retry RetryConfig, metrics *Metrics, logger Logger) *Sender {
	if perSecond <= 0 {
		perSecond = 20
	}
	return &Sender{
		notifier:    notifier,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), perSecond),
		retryConfig: retry,
		metrics:     metrics,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// SendWithRetry sends text to chatID. Telegram 429 answers wait for the
// advertised retry_after; 403 and 400 are final.
func (s *Sender) SendWithRetry(ctx context.Context, chatID int64, text string, digest DigestType) (SendOutcome, error) {
	if err := s.wait(ctx); err != nil {
		return OutcomeInterrupted, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	maxRetries := s.retryConfig.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		started := time.Now()
		err := s.notifier.Notify(ctx, chatID, text)
		s.metrics.observeSend(time.Since(started).Seconds())
		if err == nil {
			s.metrics.incSent(string(OutcomeSent), digest)
			s.logger.Info("reminder sent", "chat_id", chatID, "digest", string(digest))
			return OutcomeSent, nil
		}

		lastErr = err

		if tgErr, ok := notify.IsTelegramError(err); ok {
			switch tgErr.Code {
			case 429: // Too Many Requests
				waitTime := time.Duration(tgErr.RetryAfter) * time.Second
				if waitTime == 0 {
					waitTime = s.retryConfig.delay(attempt)
				}
				s.logger.Info("rate limited by Telegram, waiting",
					"retry_after", waitTime.String(),
					"attempt", attempt,
					"chat_id", chatID)
				s.metrics.incRetries()
				if err := s.sleep(ctx, waitTime); err != nil {
					return OutcomeInterrupted, err
				}
				continue

			case 403: // Bot removed from the chat
				s.logger.Info("bot blocked in chat", "chat_id", chatID)
				s.metrics.incSent(string(OutcomeBlocked), digest)
				return OutcomeBlocked, err

			case 400: // Bad Request
				s.logger.Error("bad request to Telegram", "error", err, "chat_id", chatID)
				s.metrics.incSent(string(OutcomeBadRequest), digest)
				return OutcomeBadRequest, err
			}
		}

		if attempt < maxRetries {
			delay := s.retryConfig.delay(attempt)
			s.logger.Info("retrying reminder send",
				"attempt", attempt+1,
				"max_retries", maxRetries,
				"delay", delay.String(),
				"error", err)
			s.metrics.incRetries()
			if err := s.sleep(ctx, delay); err != nil {
				return OutcomeInterrupted, err
			}
		}
	}

	s.logger.Error("max retries exceeded for reminder", "chat_id", chatID, "error", lastErr)
	s.metrics.incSent(string(OutcomeMaxRetries), digest)
	return OutcomeMaxRetries, lastErr
}

func (s *Sender) wait(ctx context.Context) error {
	r := s.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("limiter burst too small")
	}
	d := r.Delay()
	if d == 0 {
		return nil
	}
	s.metrics.incRateLimitWaits()
	if err := s.sleep(ctx, d); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
