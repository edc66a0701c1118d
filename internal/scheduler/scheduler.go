// Package scheduler triggers strategy cycles on cron schedules.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/engine"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner interface {
	RunCycle(ctx context.Context, name string) (engine.CycleReport, error)
}

type Scheduler struct {
	log    *zap.Logger
	runner Runner
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// New creates a stopped scheduler. A job that is still running when its next
// tick arrives is skipped, and a panicking job is logged instead of crashing
// the process.
func New(log *zap.Logger, runner Runner) *Scheduler {
	cl := cronLogger{log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		log:    log,
		runner: runner,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Add schedules cycles of the named strategy.
func (s *Scheduler) Add(name, spec string) error {
	sched, err := parse(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return errs.Newf(errs.InvalidInput, "strategy %q is already scheduled", name)
	}

	s.jobs[name] = s.cron.Schedule(sched, s.job(name))
	s.log.Info("strategy scheduled", zap.String("strategy", name), zap.String("schedule", spec))
	return nil
}

// Reschedule replaces the schedule of a strategy. An invalid spec keeps the
// current schedule.
func (s *Scheduler) Reschedule(name, spec string) error {
	sched, err := parse(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[name]
	if !ok {
		return errs.Newf(errs.NotFound, "strategy %q is not scheduled", name)
	}

	s.cron.Remove(id)
	s.jobs[name] = s.cron.Schedule(sched, s.job(name))
	s.log.Info("strategy rescheduled", zap.String("strategy", name), zap.String("schedule", spec))
	return nil
}

// AddReport runs fn on its own schedule.
func (s *Scheduler) AddReport(spec string, fn func(ctx context.Context) error) error {
	sched, err := parse(spec)
	if err != nil {
		return err
	}

	s.cron.Schedule(sched, cron.FuncJob(func() {
		if err := fn(s.ctx); err != nil {
			s.log.Error("report job failed", zap.Error(err))
		}
	}))

	return nil
}

// Next returns the next activation of a strategy, zero when it is not
// scheduled or the scheduler is not running.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return time.Time{}
	}

	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new cycles and cancels the context of running ones so their
// pending orders get canceled. The returned context is done once every
// running job has returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

func (s *Scheduler) job(name string) cron.Job {
	return cron.FuncJob(func() {
		rep, err := s.runner.RunCycle(s.ctx, name)
		if err != nil {
			s.log.Error("scheduled cycle failed", zap.String("strategy", name), zap.Error(err))
			return
		}

		s.log.Info("cycle finished",
			zap.String("strategy", name),
			zap.Bool("skipped", rep.Skipped),
			zap.Strings("opened", rep.Opened),
			zap.Strings("closed", rep.Closed),
			zap.Int("errors", len(rep.Errors)))
	})
}

func parse(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errs.Wrapf(errs.InvalidInput, err, "invalid schedule %q", spec)
	}

	return sched, nil
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
