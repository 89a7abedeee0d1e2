package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/recoverloop/redrive/pkg/config"
)

// Scheduler drives Monitor invocations: interval ticks, an optional run at
// startup, and manual triggers from the API.
type Scheduler struct {
	svc        *Service
	interval   time.Duration
	runOnStart bool

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a scheduler for the Monitor service.
func NewScheduler(svc *Service, cfg *config.MonitorConfig) *Scheduler {
	return &Scheduler{
		svc:        svc,
		interval:   cfg.ScheduleInterval(),
		runOnStart: cfg.RunOnStart,
		trigger:    make(chan struct{}, 1),
	}
}

// Start launches the scheduling loop. A second call is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Monitor scheduler started",
		"interval", s.interval, "run_on_start", s.runOnStart)
}

// Stop signals the loop to exit and waits for an in-flight invocation to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Monitor scheduler stopped")
}

// Trigger requests an immediate invocation. Requests coalesce while one is
// already pending.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	if s.runOnStart {
		s.svc.RunOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.svc.RunOnce(ctx)
		case <-s.trigger:
			s.svc.RunOnce(ctx)
		}
	}
}
