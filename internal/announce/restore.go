package announce

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"annobot/pkg/logx"
)

// Start re-arms timers for every pending task and launches the periodic
// safety sweep. Call once after the store and scheduler are up.
func (s *Service) Start(ctx context.Context) error {
	if err := s.sweep(ctx); err != nil {
		return fmt.Errorf("announce: restore pending tasks: %w", err)
	}
	return s.sweeper.start(ctx)
}

func (s *Service) Stop(ctx context.Context) {
	s.sweeper.stop(ctx)
}

// sweep walks the pending tasks and makes sure each one holds a timer.
// Tasks whose run time has already passed (missed during downtime) are
// fired immediately rather than dropped.
func (s *Service) sweep(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, t := range pending {
		// Armed covers timer-driven tasks; firing covers overdue deliveries
		// started by an earlier sweep pass that are still in flight.
		if s.sched.Armed(t.ID) || s.isFiring(t.ID) {
			continue
		}
		if t.RunAt.After(now) {
			if err := s.armTask(t.ID, t.RunAt); err != nil {
				s.log.Error("re-arming pending task failed", logx.Int64("task_id", t.ID), logx.Err(err))
			} else {
				s.log.Info("pending task re-armed", logx.Int64("task_id", t.ID), logx.Time("run_at", t.RunAt))
			}
			continue
		}
		s.log.Warn("pending task is overdue; delivering now",
			logx.Int64("task_id", t.ID),
			logx.Time("run_at", t.RunAt))
		taskID := t.ID
		go s.execute(ctx, taskID)
	}
	return nil
}

// sweeper owns the cron runner behind the periodic sweep.
type sweeper struct {
	svc *Service
	c   *cron.Cron
}

func newSweeper(svc *Service) *sweeper { return &sweeper{svc: svc} }

func (w *sweeper) start(ctx context.Context) error {
	every := w.svc.cfg.SweepEvery
	if every <= 0 {
		return nil
	}
	w.c = cron.New()
	_, err := w.c.AddFunc(fmt.Sprintf("@every %s", every), func() {
		if err := w.svc.sweep(ctx); err != nil {
			w.svc.log.Error("task sweep failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("announce: register sweep: %w", err)
	}
	w.c.Start()
	w.svc.log.Info("task sweep started", logx.Duration("every", every))
	return nil
}

func (w *sweeper) stop(ctx context.Context) {
	if w.c == nil {
		return
	}
	done := w.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
