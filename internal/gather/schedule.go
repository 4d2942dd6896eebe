package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a pass at 20:10 New York time on weekdays, after
// LatestFinishedTradingDay has rolled over to the current session.
const DefaultSchedule = "0 10 20 * * 1-5"

// cronParser accepts six-field specs (with seconds) and descriptors such as
// "@daily".
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs a gathering job on a cron schedule evaluated in New York
// time. A pass that is still running when the next one is due is skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	loc      *time.Location
	job      func(context.Context) error
	ctx      context.Context
	log      *slog.Logger
}

// NewScheduler parses spec and registers job. Passes run with ctx.
func NewScheduler(ctx context.Context, spec string, job func(context.Context) error, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}

	clog := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn))
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(cronParser),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		schedule: sched,
		loc:      loc,
		job:      job,
		ctx:      ctx,
		log:      log.With("component", "scheduler"),
	}
	s.cron.Schedule(sched, cron.FuncJob(s.run))
	return s, nil
}

// Next returns the first scheduled time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "next", s.Next(time.Now()).Format(time.RFC3339))
}

// Stop stops the scheduler and waits for a running pass to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunNow executes one pass immediately on the calling goroutine.
func (s *Scheduler) RunNow() {
	s.run()
}

func (s *Scheduler) run() {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.job(s.ctx); err != nil {
		s.log.Error("scheduled pass failed", "err", err, "elapsed", time.Since(start).Round(time.Second))
		return
	}
	s.log.Info("scheduled pass done",
		"elapsed", time.Since(start).Round(time.Second),
		"next", s.Next(time.Now()).Format(time.RFC3339),
	)
}
