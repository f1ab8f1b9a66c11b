// Package renewal implements the renewal reminder scanner. It
// periodically finds recurring-tier licenses expiring 7, 3 or 1 days
// out and hands them to a Notifier exactly once per term; renewing a
// license re-arms its reminder.
package renewal

import (
	"context"
	"log/slog"
	"time"

	"falconlic/internal/license"
)

// reminderDays are the day marks before expiry at which a reminder
// fires, each with a ±12h tolerance so an hourly scan cannot miss a
// mark.
var reminderDays = []int{7, 3, 1}

const reminderWindow = 12 * time.Hour

// reminderResetHorizon re-arms reminders on licenses whose expiry has
// moved this far out, i.e. that have been renewed.
const reminderResetHorizon = 14 * 24 * time.Hour

// Notifier delivers one renewal reminder. Delivery transport is out of
// scope here; LogNotifier ships as the default.
type Notifier interface {
	NotifyRenewal(ctx context.Context, lic *license.License, daysLeft int) error
}

// LogNotifier writes reminders to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) NotifyRenewal(ctx context.Context, lic *license.License, daysLeft int) error {
	n.Logger.InfoContext(ctx, "renewal reminder",
		slog.String("user_id", lic.UserID),
		slog.String("email", lic.Email),
		slog.String("tier", string(lic.Tier)),
		slog.Int("days_left", daysLeft),
		slog.Time("expires_at", *lic.ExpiresAt))
	return nil
}

// Scanner drives the periodic reminder sweep.
type Scanner struct {
	store    license.LicenseStore
	notifier Notifier
	clock    license.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewScanner wires the scanner.
func NewScanner(store license.LicenseStore, notifier Notifier, clock license.Clock, interval time.Duration, logger *slog.Logger) *Scanner {
	return &Scanner{
		store:    store,
		notifier: notifier,
		clock:    clock,
		interval: interval,
		logger:   logger.With(slog.String("component", "renewal_scanner")),
	}
}

// Run scans on the configured interval until ctx is cancelled. One
// sweep runs immediately on start.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass: re-arm renewed licenses, then fire reminders
// for each day mark. Failures are logged and skipped so one bad row
// cannot stall the sweep.
func (s *Scanner) sweep(ctx context.Context) {
	now := s.clock.Now()

	reset, err := s.store.ResetReminders(ctx, now.Add(reminderResetHorizon))
	if err != nil {
		s.logger.ErrorContext(ctx, "reminder reset failed", slog.String("error", err.Error()))
	} else if reset > 0 {
		s.logger.InfoContext(ctx, "reminders re-armed", slog.Int("count", reset))
	}

	for _, days := range reminderDays {
		mark := now.Add(time.Duration(days) * 24 * time.Hour)
		expiring, err := s.store.ExpiringBetween(ctx, mark.Add(-reminderWindow), mark.Add(reminderWindow))
		if err != nil {
			s.logger.ErrorContext(ctx, "expiry scan failed",
				slog.Int("days", days),
				slog.String("error", err.Error()))
			continue
		}

		for _, lic := range expiring {
			if err := s.notifier.NotifyRenewal(ctx, lic, days); err != nil {
				s.logger.ErrorContext(ctx, "reminder delivery failed",
					slog.String("user_id", lic.UserID),
					slog.String("error", err.Error()))
				continue
			}
			if err := s.store.SetReminderSent(ctx, lic.ID, true); err != nil {
				s.logger.ErrorContext(ctx, "reminder flag update failed",
					slog.String("user_id", lic.UserID),
					slog.String("error", err.Error()))
			}
		}
	}
}
