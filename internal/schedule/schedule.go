// Package schedule answers "is the market open" and runs the background
// worker that flips the shared trading-enabled flag.
package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/observ"
)

// Clock is the schedule's view of time, exchange-local.
type Clock struct {
	cfg config.Schedule
	loc *time.Location
	now func() time.Time
}

// NewClock builds a clock in the configured exchange timezone. A nil now
// func defaults to time.Now.
func NewClock(cfg config.Schedule, now func() time.Time) (*Clock, error) {
	loc := cfg.Location()
	if now == nil {
		now = time.Now
	}
	return &Clock{cfg: cfg, loc: loc, now: now}, nil
}

// Now is the current exchange-local time.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// IsMarketOpen reports whether the exchange is in its regular session at
// t (converted to exchange time). Holidays are not modeled.
func (c *Clock) IsMarketOpen(t time.Time) bool {
	local := t.In(c.loc)

	day := local.Weekday().String()
	tradingDay := false
	for _, d := range c.cfg.TradingDays {
		if d == day {
			tradingDay = true
			break
		}
	}
	if !tradingDay {
		return false
	}

	openH, openM, err := parseClock(c.cfg.TradingStartTime)
	if err != nil {
		return false
	}
	closeH, closeM, err := parseClock(c.cfg.TradingEndTime)
	if err != nil {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= openH*60+openM && minutes < closeH*60+closeM
}

func parseClock(s string) (hour, minute int, err error) {
	if _, err = fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("schedule: bad clock value %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule: clock value %q out of range", s)
	}
	return hour, minute, nil
}

// Scheduler polls the clock and keeps a shared trading-enabled flag in
// sync with the session.
type Scheduler struct {
	clock   *Clock
	cfg     config.Schedule
	enabled atomic.Bool
}

func NewScheduler(clock *Clock, cfg config.Schedule) *Scheduler {
	s := &Scheduler{clock: clock, cfg: cfg}
	s.enabled.Store(clock.IsMarketOpen(clock.Now()))
	return s
}

// TradingEnabled is safe to call from any goroutine.
func (s *Scheduler) TradingEnabled() bool {
	return s.enabled.Load()
}

// Poll re-evaluates the flag once and reports whether it changed.
func (s *Scheduler) Poll() bool {
	open := s.clock.IsMarketOpen(s.clock.Now())
	if s.enabled.Swap(open) != open {
		observ.Log("trading_flag_changed", map[string]any{"enabled": open})
		return true
	}
	return false
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.PollIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}
