// Package host schedules dispatch ticks. Ticks run strictly one at a
// time: a tick that overruns its interval delays the next one rather
// than overlapping it.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Ticker is one dispatch round. The host keeps calling it until its
// context is cancelled.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Config assembles a Host.
type Config struct {
	// Interval between ticks. Ignored when CronSchedule is set.
	Interval time.Duration

	// CronSchedule drives ticks on a cron expression instead of a
	// fixed interval (optional).
	CronSchedule string
}

// Host drives a Ticker on a schedule.
type Host struct {
	ticker   Ticker
	interval time.Duration
	schedule cron.Schedule

	now func() time.Time
}

// New builds a host for the given ticker.
func New(ticker Ticker, cfg Config) (*Host, error) {
	if ticker == nil {
		return nil, errors.New("host: ticker is required")
	}

	h := &Host{
		ticker:   ticker,
		interval: cfg.Interval,
		now:      time.Now,
	}

	if cfg.CronSchedule != "" {
		schedule, err := cron.ParseStandard(cfg.CronSchedule)
		if err != nil {
			return nil, fmt.Errorf("parsing cron schedule %q: %w", cfg.CronSchedule, err)
		}
		h.schedule = schedule
	} else if cfg.Interval <= 0 {
		return nil, errors.New("host: tick interval must be positive")
	}

	return h, nil
}

// Run ticks until ctx is cancelled, then returns nil. Tick errors are
// logged, not fatal: one bad message must not stop the host.
func (h *Host) Run(ctx context.Context) error {
	log.Info().Msg("Dispatch host started")

	timer := time.NewTimer(h.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Dispatch host stopped")
			return nil
		case <-timer.C:
		}

		if err := h.ticker.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info().Msg("Dispatch host stopped")
				return nil
			}
			log.Error().Err(err).Msg("Dispatch tick failed")
		}

		timer.Reset(h.untilNext())
	}
}

// untilNext computes the wait before the next tick.
func (h *Host) untilNext() time.Duration {
	if h.schedule == nil {
		return h.interval
	}

	now := h.now()
	d := h.schedule.Next(now).Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}
