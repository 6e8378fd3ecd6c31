// Package schedule parses 5-field cron expressions and fires
// scheduled suite runs.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/flowprobe/flowprobe/internal/catalog"
	"github.com/flowprobe/flowprobe/internal/engine"
	"github.com/flowprobe/flowprobe/internal/logger"
	"github.com/flowprobe/flowprobe/internal/model"
)

// parser accepts the standard 5-field layout: minute, hour, day of
// month, month, day of week (0 = Sunday).
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Parse validates a cron expression.
func Parse(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// Preview returns the next n fire times after from.
func Preview(expr string, n int, from time.Time) ([]time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, n)
	next := from
	for i := 0; i < n; i++ {
		next = s.Next(next)
		times = append(times, next)
	}
	return times, nil
}

// suiteRunner is the slice of the coordinator the dispatcher needs.
type suiteRunner interface {
	RunSuite(ctx context.Context, req engine.RunRequest) (*model.SuiteResult, error)
}

// Dispatcher wakes on a fixed tick and fires every enabled schedule
// whose next time fell into the elapsed window. A schedule whose
// previous run is still in flight is skipped for that window.
type Dispatcher struct {
	store  catalog.ScheduleStore
	runner suiteRunner
	tick   time.Duration

	mu       sync.Mutex
	inFlight map[uuid.UUID]bool
}

// NewDispatcher creates a dispatcher over the schedule store.
func NewDispatcher(store catalog.ScheduleStore, runner suiteRunner, tick time.Duration) *Dispatcher {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Dispatcher{store: store, runner: runner, tick: tick, inFlight: map[uuid.UUID]bool{}}
}

func (d *Dispatcher) begin(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[id] {
		return false
	}
	d.inFlight[id] = true
	return true
}

func (d *Dispatcher) end(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
}

// Start blocks until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	logger.Info(ctx, "Scheduler started", "tick", d.tick.String())
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Scheduler stopped")
			return
		case now := <-ticker.C:
			d.fireWindow(ctx, last, now)
			last = now
		}
	}
}

func (d *Dispatcher) fireWindow(ctx context.Context, from, to time.Time) {
	schedules, err := d.store.ListEnabledSchedules(ctx)
	if err != nil {
		logger.Error(ctx, "Failed to list schedules", "err", err)
		return
	}
	for _, s := range collectDue(ctx, schedules, from, to) {
		sched := s
		if !d.begin(sched.ID) {
			logger.Debug(ctx, "Skipping schedule, previous run still in flight", "scheduleId", sched.ID.String())
			continue
		}
		go func() {
			defer d.end(sched.ID)
			runCtx := logger.WithValues(context.WithoutCancel(ctx), "scheduleId", sched.ID.String())
			logger.Info(runCtx, "Firing scheduled run", "suiteId", sched.SuiteID.String())
			var envID *uuid.UUID
			if sched.EnvironmentID != uuid.Nil {
				id := sched.EnvironmentID
				envID = &id
			}
			_, err := d.runner.RunSuite(runCtx, engine.RunRequest{
				SuiteID:       sched.SuiteID,
				EnvironmentID: envID,
				ScheduleID:    &sched.ID,
				Trigger:       model.TriggerScheduled,
				Sink:          engine.NopSink{},
			})
			if err != nil {
				logger.Error(runCtx, "Scheduled run failed", "err", err)
			}
		}()
	}
}

// collectDue returns the schedules whose next fire time after from
// falls within (from, to].
func collectDue(ctx context.Context, schedules []*model.Schedule, from, to time.Time) []*model.Schedule {
	var due []*model.Schedule
	for _, s := range schedules {
		spec, err := Parse(s.Expression)
		if err != nil {
			logger.Warn(ctx, "Skipping schedule with invalid expression",
				"scheduleId", s.ID.String(), "expression", s.Expression)
			continue
		}
		if next := spec.Next(from); !next.After(to) {
			due = append(due, s)
		}
	}
	return due
}
