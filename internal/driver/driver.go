// Package driver advances a task manager once per frame and runs its
// scheduled housekeeping.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Target is what the driver advances. *engine.Manager satisfies it.
type Target interface {
	Update()
	ClearFinished() int
}

// Driver calls Target.Update on a fixed frame interval and, when a schedule
// is set, Target.ClearFinished on a cron schedule.
type Driver struct {
	target   Target
	interval time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates a driver. schedule is a standard five-field cron spec; empty
// disables scheduled clearing.
func New(target Target, interval time.Duration, schedule string, logger *slog.Logger) (*Driver, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("frame interval must be positive, got %s", interval)
	}
	d := &Driver{
		target:   target,
		interval: interval,
		logger:   logger.With("component", "driver"),
	}
	if schedule != "" {
		d.cron = cron.New()
		if _, err := d.cron.AddFunc(schedule, d.clearFinished); err != nil {
			return nil, fmt.Errorf("add clear schedule %q: %w", schedule, err)
		}
	}
	return d, nil
}

// Run drives frames until ctx is cancelled. It always returns nil after ctx
// is done.
func (d *Driver) Run(ctx context.Context) error {
	if d.cron != nil {
		d.cron.Start()
		defer func() {
			<-d.cron.Stop().Done()
		}()
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("frame driver started", "interval", d.interval, "scheduled_clear", d.cron != nil)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("frame driver stopped")
			return nil
		case <-ticker.C:
			d.Frame()
		}
	}
}

// Frame runs one Update, recovering and logging a panic.
func (d *Driver) Frame() {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("update panicked", "panic", fmt.Sprint(r))
		}
	}()
	d.target.Update()
}

func (d *Driver) clearFinished() {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("scheduled clear panicked", "panic", fmt.Sprint(r))
		}
	}()
	if n := d.target.ClearFinished(); n > 0 {
		d.logger.Info("scheduled clear removed finished tasks", "removed", n)
	}
}
