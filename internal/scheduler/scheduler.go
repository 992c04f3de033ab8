// Package scheduler enqueues periodic jobs from cron entries.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/jobs"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/metrics"
	"github.com/rs/zerolog"
)

// maxCatchUp bounds how many missed minutes are replayed after a stall.
const maxCatchUp = 60

type Enqueuer interface {
	Enqueue(ctx context.Context, t jobs.Type, key string, payload any) (*jobs.Envelope, error)
}

type Entry struct {
	Name    string
	Spec    string
	Job     jobs.Type
	Payload any
}

// DefaultEntries maps the scheduler config to entries. An empty expression
// disables its entry.
func DefaultEntries(cfg config.SchedulerConfig) []Entry {
	all := []Entry{
		{Name: "inventory-reconcile", Spec: cfg.ReconcileCron, Job: jobs.TypeInventoryReconcile, Payload: jobs.ReconcilePayload{}},
		{Name: "low-stock-sweep", Spec: cfg.LowStockCron, Job: jobs.TypeLowStockSweep},
		{Name: "shipment-sync", Spec: cfg.ShipmentSyncCron, Job: jobs.TypeShipmentSyncAll},
		{Name: "shipment-sync-business-hours", Spec: cfg.BusinessHoursSyncCron, Job: jobs.TypeShipmentSyncAll},
	}
	var out []Entry
	for _, e := range all {
		if e.Spec != "" {
			out = append(out, e)
		}
	}
	return out
}

type entry struct {
	Entry
	cron *Cron
}

// Scheduler checks its entries once a minute and enqueues the due ones.
type Scheduler struct {
	entries []entry
	loc     *time.Location
	queue   Enqueuer
	now     func() time.Time
	last    time.Time
	log     zerolog.Logger
}

func New(entries []Entry, timezone string, queue Enqueuer) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", timezone, err)
	}
	s := &Scheduler{
		loc:   loc,
		queue: queue,
		now:   time.Now,
		log:   logging.Component("scheduler"),
	}
	for _, e := range entries {
		c, err := ParseCron(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.Name, err)
		}
		s.entries = append(s.entries, entry{Entry: e, cron: c})
	}
	return s, nil
}

func (s *Scheduler) String() string { return "scheduler" }

// Serve runs until ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	for _, e := range s.entries {
		s.log.Info().Str("entry", e.Name).Str("cron", e.Spec).Time("next", e.cron.Next(s.now(), s.loc)).Msg("scheduled")
	}
	if s.last.IsZero() {
		s.last = s.now().In(s.loc).Truncate(time.Minute)
	}

	for {
		wait := time.Until(s.last.Add(time.Minute))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		s.catchUp(ctx, s.now())
	}
}

// catchUp fires every minute after the last processed one up to now.
func (s *Scheduler) catchUp(ctx context.Context, now time.Time) {
	current := now.In(s.loc).Truncate(time.Minute)
	next := s.last.Add(time.Minute)
	if current.Sub(next) > maxCatchUp*time.Minute {
		s.log.Warn().Time("from", next).Time("to", current).Msg("scheduler stalled, skipping missed minutes")
		next = current.Add(-maxCatchUp * time.Minute)
	}
	for ; !next.After(current); next = next.Add(time.Minute) {
		s.Tick(ctx, next)
		s.last = next
	}
}

// Tick enqueues every entry scheduled for the minute at and returns the
// names of those that were enqueued.
func (s *Scheduler) Tick(ctx context.Context, at time.Time) []string {
	minute := at.In(s.loc).Truncate(time.Minute)
	var fired []string
	for _, e := range s.entries {
		if !e.cron.Matches(minute) {
			continue
		}
		key := e.Name + ":" + minute.Format("2006-01-02T15:04Z07:00")
		if _, err := s.queue.Enqueue(ctx, e.Job, key, e.Payload); err != nil {
			metrics.SchedulerTriggers.WithLabelValues(e.Name, "error").Inc()
			s.log.Error().Err(err).Str("entry", e.Name).Str("key", key).Msg("enqueue scheduled job failed")
			continue
		}
		metrics.SchedulerTriggers.WithLabelValues(e.Name, "enqueued").Inc()
		s.log.Info().Str("entry", e.Name).Str("job", string(e.Job)).Str("key", key).Msg("scheduled job enqueued")
		fired = append(fired, e.Name)
	}
	return fired
}

// NextRuns returns the next run of every entry after t.
func (s *Scheduler) NextRuns(t time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for _, e := range s.entries {
		out[e.Name] = e.cron.Next(t, s.loc)
	}
	return out
}
