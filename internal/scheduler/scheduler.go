// Package scheduler implements the Dynamic Time-Banded Scheduler of
// a declarative table of (cron expression, job, name)
// entries evaluated in Asia/Seoul, each job coalesced, single-instance,
// and wrapped in a panic-swallowing envelope.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job func() error

// entry pairs a cron expression with a named job and its run-state,
// implementing coalescing + single-instance execution:
// a tick that arrives while the previous invocation is still running is
// merged into a no-op rather than queued.
type entry struct {
	name    string
	cronExpr string
	job     Job
	mu      sync.Mutex
	running bool
}

// Scheduler wraps a robfig/cron.Cron instance with the job envelope
// (start/end logging, panic recovery, coalescing)
// require.
type Scheduler struct {
	cron    *cron.Cron
	entries []*entry
	log     zerolog.Logger
}

// New constructs a Scheduler that evaluates cron expressions in loc
// (Asia/Seoul in production).
func New(loc *time.Location, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a (name, cron expression, job) triple to the table. No
// misfire grace window is applied: robfig/cron runs an entry whose tick
// has passed as soon as it next wakes, however late that is, and runs it
// once rather than once per missed tick.
func (s *Scheduler) Register(name, cronExpr string, job Job) error {
	e := &entry{name: name, cronExpr: cronExpr, job: job}
	s.entries = append(s.entries, e)
	_, err := s.cron.AddFunc(cronExpr, func() { s.runEnveloped(e) })
	return err
}

// runEnveloped is the job wrapper: logs start/end,
// recovers and logs panics without re-raising, and skips entirely if the
// same job is still running (coalescing + single-instance).
func (s *Scheduler) runEnveloped(e *entry) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		s.log.Debug().Str("job", e.name).Msg("tick coalesced: previous run still in flight")
		return
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("job", e.name).Interface("panic", r).Msg("job panicked, scheduler continues")
		}
	}()

	start := time.Now()
	s.log.Info().Str("job", e.name).Msg("job started")
	if err := e.job(); err != nil {
		s.log.Error().Str("job", e.name).Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
		return
	}
	s.log.Info().Str("job", e.name).Dur("elapsed", time.Since(start)).Msg("job completed")
}

// Start begins evaluating the registered table.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop blocks until any in-flight job completes, then returns. No new
// jobs are started once Stop is called (shutdown ordering:
// scheduler stopped first, before stream/pipeline teardown).
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RegisterStandardJobs wires the five named jobs and cadences from
// the standard cadence table. jobs must supply an implementation keyed by name;
// callers are expected to provide all five.
func (s *Scheduler) RegisterStandardJobs(jobs map[string]Job) error {
	table := []struct {
		name string
		expr string
	}{
		// 07:20 once, Mon-Fri.
		{"dailyDeepAnalysis", "0 20 7 * * 1-5"},
		// 09:00-15:20 every minute, Mon-Fri. cron's hour granularity can't
		// express the :20 cutoff within hour 15; jobMarketScanner checks
		// the exact minute and no-ops past 15:20.
		{"marketScanner", "0 * 9-15 * * 1-5"},
		// 09:00-15:30 every minute, Mon-Fri. cron's hour granularity can't
		// express the :30 cutoff within hour 15 either; jobPortfolioManager
		// checks the exact minute and no-ops past 15:30.
		{"portfolioManager", "0 * 9-15 * * 1-5"},
		// 09:00-10:00 every 10 min.
		{"intradayPipeline_morning", "0 0,10,20,30,40,50 9 * * 1-5"},
		// 10:00-13:00 every 60 min.
		{"intradayPipeline_midday", "0 0 10,11,12,13 * * 1-5"},
		// 13:00-15:00 every 20 min.
		{"intradayPipeline_afternoon", "0 0,20,40 13,14 * * 1-5"},
		// 15:00-15:20 every 10 min.
		{"intradayPipeline_close", "0 0,10,20 15 * * 1-5"},
		// 16:00 once, Mon-Fri.
		{"dailySettlement", "0 0 16 * * 1-5"},
	}

	nameFor := func(entryName string) string {
		switch entryName {
		case "intradayPipeline_morning", "intradayPipeline_midday", "intradayPipeline_afternoon", "intradayPipeline_close":
			return "intradayPipeline"
		default:
			return entryName
		}
	}

	for _, t := range table {
		jobKey := nameFor(t.name)
		job, ok := jobs[jobKey]
		if !ok {
			continue
		}
		if err := s.Register(t.name, t.expr, job); err != nil {
			return err
		}
	}
	return nil
}
