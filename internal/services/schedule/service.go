package schedule

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"annobot/pkg/logx"
)

// Job is the work fired when a timer elapses. The context is the service's
// run context; it is cancelled on Stop.
type Job func(ctx context.Context)

type entry struct {
	taskID int64
	runAt  time.Time
	state  State
	ver    uint64
	timer  *time.Timer
	job    Job
}

type Service struct {
	log logx.Logger

	mu      sync.Mutex
	entries map[int64]*entry
	nextVer uint64

	runCtx    context.Context
	runCancel context.CancelFunc
	fireWG    sync.WaitGroup
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		entries: map[int64]*entry{},
	}
}

// Start establishes the run context passed to fired jobs.
// Arming before Start is allowed; such jobs run under context.Background().
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.log.Info("scheduler started")
}

// Arm registers a one-shot timer for the task. Re-arming an existing task id
// replaces the previous timer (upsert). Returns ErrPastTime if runAt is not
// strictly in the future.
func (s *Service) Arm(taskID int64, runAt time.Time, job Job) error {
	now := time.Now()
	if !runAt.After(now) {
		return ErrPastTime
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert: stop a previous timer for the same task. A timer mid-firing is
	// left alone; its version check already passed and it will run to Done.
	if prev, ok := s.entries[taskID]; ok && prev.state == StateArmed {
		prev.timer.Stop()
	}

	s.nextVer++
	e := &entry{
		taskID: taskID,
		runAt:  runAt,
		state:  StateArmed,
		ver:    s.nextVer,
		job:    job,
	}
	ver := e.ver
	e.timer = time.AfterFunc(time.Until(runAt), func() {
		s.fire(taskID, ver)
	})
	s.entries[taskID] = e

	s.log.Debug("timer armed",
		logx.Int64("task_id", taskID),
		logx.Time("run_at", runAt),
		logx.Duration("in", time.Until(runAt)))
	return nil
}

// fire transitions the entry to Firing and runs its job in a fresh goroutine.
// The version check makes a stale callback (from a replaced or cancelled
// timer) a no-op, which is what guarantees at-most-once per armed timer.
func (s *Service) fire(taskID int64, ver uint64) {
	s.mu.Lock()
	e, ok := s.entries[taskID]
	if !ok || e.ver != ver || e.state != StateArmed {
		s.mu.Unlock()
		return
	}
	e.state = StateFiring
	job := e.job
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.fireWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.fireWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in fired task",
					logx.Int64("task_id", taskID),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
			s.finish(taskID, ver)
		}()
		s.log.Info("timer fired", logx.Int64("task_id", taskID))
		job(ctx)
	}()
}

func (s *Service) finish(taskID int64, ver uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[taskID]; ok && e.ver == ver {
		e.state = StateDone
		delete(s.entries, taskID)
	}
}

// Cancel withdraws an armed timer. It returns false if the task has no
// armed timer (unknown id, or already firing/done).
func (s *Service) Cancel(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok || e.state != StateArmed {
		return false
	}
	e.timer.Stop()
	// Bump the version so an already-elapsed AfterFunc callback is ignored.
	e.ver = 0
	delete(s.entries, taskID)
	s.log.Debug("timer cancelled", logx.Int64("task_id", taskID))
	return true
}

// Armed reports whether the task currently holds an armed or firing timer.
func (s *Service) Armed(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// Snapshot lists current timers ordered by run time.
func (s *Service) Snapshot() []EntryInfo {
	s.mu.Lock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, EntryInfo{TaskID: e.taskID, RunAt: e.runAt, State: e.state})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

// Stop cancels all armed timers and waits for in-flight firings until ctx
// expires. Timer definitions are dropped; the task store remains the source
// of truth for re-arming.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	for id, e := range s.entries {
		if e.state == StateArmed {
			e.timer.Stop()
			delete(s.entries, id)
		}
	}
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.fireWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; firings continue in background")
	}
}
