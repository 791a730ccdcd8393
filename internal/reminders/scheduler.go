package reminders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"velosta/internal/model"
	"velosta/internal/notify"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig holds configuration for the reminder scheduler.
type SchedulerConfig struct {
	// Schedule is a standard five-field cron expression, e.g. "0 9 * * *".
	Schedule string
	// DueWithin is how far ahead a return counts as due.
	DueWithin time.Duration
	Location  *time.Location
	ChatIDs   []int64
}

// Report summarizes one reminder run.
type Report struct {
	Due     int
	Overdue int
	Sent    int
	Failed  int
}

// Scheduler posts the due and overdue returns digest on a cron schedule.
type Scheduler struct {
	config    SchedulerConfig
	bookings  BookingLister
	sender    *Sender
	formatter *notify.Formatter
	metrics   *Metrics
	logger    Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler checks the cron expression and builds a Scheduler.
func NewScheduler(
	config SchedulerConfig,
	bookings BookingLister,
	sender *Sender,
	formatter *notify.Formatter,
	metrics *Metrics,
	logger Logger,
) (*Scheduler, error) {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.DueWithin <= 0 {
		config.DueWithin = 24 * time.Hour
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("parse reminders schedule %q: %w", config.Schedule, err)
	}

	return &Scheduler{
		config:    config,
		bookings:  bookings,
		sender:    sender,
		formatter: formatter,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start runs the digest on schedule until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.cron = cron.New(cron.WithLocation(s.config.Location))
	// The cron expression was validated in NewScheduler.
	_, _ = s.cron.AddFunc(s.config.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("reminder run failed", "error", err)
		}
	})
	s.cron.Start()
	s.mu.Unlock()

	s.logger.Info("reminder scheduler started", "schedule", s.config.Schedule, "timezone", s.config.Location.String())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the schedule and waits for a running digest to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("reminder scheduler stopped")
}

// RunOnce builds the digest and sends it to every staff chat.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	open, err := s.bookings.ListBookings(ctx, model.BookingFilter{Statuses: model.OpenStatuses})
	if err != nil {
		return Report{}, fmt.Errorf("list open bookings: %w", err)
	}

	now := s.now()
	due, overdue := Collect(open, now, s.config.DueWithin)
	s.metrics.setListed(len(due), len(overdue))

	report := Report{Due: len(due), Overdue: len(overdue)}
	if len(due) == 0 && len(overdue) == 0 {
		s.logger.Debug("no returns to remind about")
		return report, nil
	}

	digest := DigestDue
	switch {
	case len(due) > 0 && len(overdue) > 0:
		digest = DigestMixed
	case len(overdue) > 0:
		digest = DigestOverdue
	}

	text := s.formatter.Digest(due, overdue, s.config.DueWithin)
	for _, chatID := range s.config.ChatIDs {
		if _, err := s.sender.SendWithRetry(ctx, chatID, text, digest); err != nil {
			report.Failed++
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			continue
		}
		report.Sent++
	}

	s.logger.Info("reminder digest processed",
		"due", report.Due,
		"overdue", report.Overdue,
		"sent", report.Sent,
		"failed", report.Failed)
	return report, nil
}

// Collect splits open bookings into returns due within the window and
// returns already overdue at now. Both lists are ordered by end date.
func Collect(open []model.Booking, now time.Time, within time.Duration) (due, overdue []model.Booking) {
	horizon := now.Add(within)
	for i := range open {
		b := open[i]
		if !b.IsOpen() {
			continue
		}
		switch {
		case b.IsOverdue(now):
			overdue = append(overdue, b)
		case !b.StartDate.After(now) && !b.EndDate.After(horizon):
			due = append(due, b)
		}
	}
	byEnd := func(list []model.Booking) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].EndDate.Before(list[j].EndDate) })
	}
	byEnd(due)
	byEnd(overdue)
	return due, overdue
}
