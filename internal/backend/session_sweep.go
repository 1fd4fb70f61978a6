package backend

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/maniack/sessionsweep/internal/logging"
	"github.com/maniack/sessionsweep/internal/monitoring"
	"github.com/maniack/sessionsweep/internal/scheduler"
	"github.com/maniack/sessionsweep/internal/sweeper"
)

// Sweep triggers.
const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// SweepStatus is the outcome of the most recent run.
type SweepStatus struct {
	RunID      string         `json:"run_id"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS float64        `json:"duration_ms"`
	Result     sweeper.Result `json:"result"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
}

// startSessionSweep registers the sweep with a cron scheduler and starts it.
func (s *Server) startSessionSweep(spec string, timeout time.Duration) error {
	sched := scheduler.New(s.log, scheduler.Options{Timeout: timeout})
	err := sched.Add(sweepJob, spec, func(ctx context.Context) {
		// errors are logged and recorded by RunSweep; the next tick is the retry
		_, _ = s.RunSweep(ctx, TriggerSchedule)
	})
	if err != nil {
		return err
	}
	s.sched = sched
	sched.Start()
	if next, ok := sched.Next(sweepJob); ok {
		s.log.WithField("schedule", spec).WithField("next", next.Format(time.RFC3339)).Info("sessions: sweep worker started")
	}
	return nil
}

// RunSweep runs one sweep tagged with a fresh run id and records metrics and
// the last status.
func (s *Server) RunSweep(ctx context.Context, trigger string) (sweeper.Result, error) {
	runID := uuid.New().String()
	ctx = logging.WithRun(ctx, runID, trigger)
	if s.cfg.SweepTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.SweepTimeout)
			defer cancel()
		}
	}

	start := time.Now()
	res, err := s.sweeper.Run(ctx)
	took := time.Since(start)

	status := &SweepStatus{
		RunID:      runID,
		Trigger:    trigger,
		StartedAt:  start,
		DurationMS: float64(took.Nanoseconds()) / 1e6,
		Result:     res,
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		status.Error = err.Error()
		status.ErrorKind = sweeper.Kind(err)
		s.log.WithContext(ctx).WithError(err).WithField("kind", status.ErrorKind).Warn("sessions: sweep failed")
	case res.Skipped:
		outcome = "skipped"
	}
	monitoring.ObserveSweep(trigger, outcome, took, res.Removed, res.Deleted)

	s.mu.Lock()
	s.last = status
	s.mu.Unlock()
	return res, err
}

// LastSweep returns the most recent status, or nil before the first run.
func (s *Server) LastSweep() *SweepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}
