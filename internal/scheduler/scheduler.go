// Package scheduler triggers jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one scheduled unit of work. ctx carries the per-run timeout.
type Job func(ctx context.Context)

type Options struct {
	// Timeout bounds each run; zero means no timeout.
	Timeout time.Duration
	// Location for schedule evaluation; defaults to time.Local.
	Location *time.Location
}

type Scheduler struct {
	cron    *cron.Cron
	log     *logrus.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]cron.EntryID
	parser  cron.Parser
	base    context.Context
	cancel  context.CancelFunc
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(log *logrus.Logger, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	cl := cronLogger{log: log}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithParser(specParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		timeout: opts.Timeout,
		entries: make(map[string]cron.EntryID),
		parser:  specParser,
		base:    base,
		cancel:  cancel,
	}
}

// Validate reports whether spec is a valid 5-field cron spec or descriptor.
func Validate(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add registers job under name, replacing an earlier job with the same name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.run(name, job) }))
	s.entries[name] = id
	s.log.WithField("job", name).WithField("schedule", spec).Info("scheduler: job registered")
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.base
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.log.WithField("job", name).Debug("scheduler: job fired")
	job(ctx)
}

// Next returns the next activation time of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if !e.Valid() {
		return time.Time{}, false
	}
	if e.Next.IsZero() {
		// not started yet
		return e.Schedule.Next(time.Now()), true
	}
	return e.Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler: started")
}

// Stop stops triggering new runs and waits for running ones to return. If ctx
// expires first, the contexts of running jobs are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.log.Info("scheduler: stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct{ log *logrus.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.WithFields(fields(keysAndValues)).Debug("scheduler: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithFields(fields(keysAndValues)).WithError(err).Error("scheduler: " + msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
