package announce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"annobot/internal/services/delivery"
	"annobot/internal/services/schedule"
	"annobot/internal/storage"
	"annobot/internal/transport"
	"annobot/pkg/logx"
)

type Config struct {
	// SweepEvery is the interval of the safety sweep that re-arms pending
	// tasks missing a timer. Zero disables the sweep.
	SweepEvery time.Duration
}

type Service struct {
	cfg     Config
	store   *storage.Store
	sched   *schedule.Service
	deliver *delivery.Service
	adapter transport.Adapter
	log     logx.Logger

	sweeper *sweeper

	// firing holds the task ids whose delivery is currently in flight.
	// Overdue tasks run outside the scheduler, so the scheduler's Armed
	// check alone cannot prevent a later sweep from handing the same task
	// to execute twice.
	fireMu sync.Mutex
	firing map[int64]struct{}
}

func New(cfg Config, store *storage.Store, sched *schedule.Service, deliver *delivery.Service, adapter transport.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		store:   store,
		sched:   sched,
		deliver: deliver,
		adapter: adapter,
		log:     log,
		firing:  map[int64]struct{}{},
	}
	s.sweeper = newSweeper(s)
	return s
}

// PublishNow validates the draft and fans it out immediately.
// The task store is never touched on this path.
func (s *Service) PublishNow(ctx context.Context, d Draft) (delivery.Report, error) {
	if err := validateDraft(d); err != nil {
		return delivery.Report{}, err
	}
	recipients, err := s.store.Recipients(ctx, d.OnlyClients)
	if err != nil {
		return delivery.Report{}, err
	}
	return s.deliver.Deliver(ctx, draftMessage(d), recipients), nil
}

// Schedule validates the draft, persists it as a task, and arms a one-shot
// timer. RunAt must be strictly in the future; otherwise no task is created.
func (s *Service) Schedule(ctx context.Context, d Draft) (int64, error) {
	if err := validateDraft(d); err != nil {
		return 0, err
	}
	if d.RunAt.IsZero() {
		return 0, &ValidationError{Field: "run_at", Reason: "scheduled time is missing"}
	}
	if !d.RunAt.After(time.Now()) {
		return 0, schedule.ErrPastTime
	}

	kind := d.MediaKind
	if d.IsMedia() && kind == "" {
		kind, _ = transport.DetectMediaKind(d.MediaRef)
	}
	text := d.Text
	if d.IsMedia() {
		text = d.Caption
	}

	id, err := s.store.CreateTask(ctx, storage.Task{
		RunAt:        d.RunAt,
		Text:         text,
		ButtonText:   d.ButtonLabel,
		ButtonURL:    d.ButtonURL,
		MediaRef:     d.MediaRef,
		MediaKind:    kind,
		NotifyChatID: d.NotifyChatID,
	})
	if err != nil {
		return 0, err
	}

	if err := s.armTask(id, d.RunAt); err != nil {
		// Roll back so a failed arm never leaves an orphaned task behind.
		if derr := s.store.DeleteTask(ctx, id); derr != nil {
			s.log.Error("rollback of unarmed task failed", logx.Int64("task_id", id), logx.Err(derr))
		}
		return 0, err
	}
	s.log.Info("announcement scheduled", logx.Int64("task_id", id), logx.Time("run_at", d.RunAt))
	return id, nil
}

// Cancel withdraws a scheduled announcement: the timer is disarmed and the
// task removed. Returns storage.ErrNotFound for an unknown id and
// ErrAlreadyFiring when the delivery has already started; an in-flight
// fan-out cannot be recalled.
func (s *Service) Cancel(ctx context.Context, taskID int64) error {
	if _, err := s.store.TaskByID(ctx, taskID); err != nil {
		return err
	}
	if !s.sched.Cancel(taskID) && s.isFiring(taskID) {
		return ErrAlreadyFiring
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.log.Info("announcement cancelled", logx.Int64("task_id", taskID))
	return nil
}

// Pending lists the scheduled announcements still waiting to fire.
func (s *Service) Pending(ctx context.Context) ([]storage.Task, error) {
	return s.store.ListPending(ctx)
}

func (s *Service) beginFiring(taskID int64) bool {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	if _, ok := s.firing[taskID]; ok {
		return false
	}
	s.firing[taskID] = struct{}{}
	return true
}

func (s *Service) endFiring(taskID int64) {
	s.fireMu.Lock()
	delete(s.firing, taskID)
	s.fireMu.Unlock()
}

func (s *Service) isFiring(taskID int64) bool {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	_, ok := s.firing[taskID]
	return ok
}

// armTask registers the timer whose closure re-fetches the task by id.
func (s *Service) armTask(taskID int64, runAt time.Time) error {
	return s.sched.Arm(taskID, runAt, func(ctx context.Context) {
		s.execute(ctx, taskID)
	})
}

// execute runs one fired task: re-fetch by id (tolerates restarts that
// rebuilt the timer from storage), resolve the recipient list now, fan out,
// then mark and remove the task regardless of per-recipient outcomes.
func (s *Service) execute(ctx context.Context, taskID int64) {
	log := s.log.With(logx.Int64("task_id", taskID))

	// At-most-once in flight: a sweep overlapping a slow fan-out must not
	// start the same task again.
	if !s.beginFiring(taskID) {
		log.Warn("task delivery already in flight; skipping")
		return
	}
	defer s.endFiring(taskID)

	t, err := s.store.TaskByID(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("fired task no longer exists; skipping")
		return
	}
	if err != nil {
		log.Error("fired task lookup failed", logx.Err(err))
		return
	}
	if t.IsExecuted {
		log.Warn("fired task already executed; skipping")
		return
	}

	// Recipients are resolved at fire time, not at scheduling time, so chats
	// registered in between are included.
	recipients, err := s.store.Recipients(ctx, false)
	if err != nil {
		log.Error("recipient lookup failed; task kept for next sweep", logx.Err(err))
		return
	}

	rep := s.deliver.Deliver(ctx, taskMessage(t), recipients)

	// Mark first, then delete: if the delete fails the executed flag still
	// prevents redelivery on restart.
	if err := s.store.MarkExecuted(ctx, taskID); err != nil {
		log.Error("marking task executed failed", logx.Err(err))
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		log.Error("deleting executed task failed", logx.Err(err))
	}

	s.notifySummary(ctx, t, rep)
}

func (s *Service) notifySummary(ctx context.Context, t storage.Task, rep delivery.Report) {
	if t.NotifyChatID == 0 || s.adapter == nil {
		return
	}
	to := transport.ChatTarget{ChatID: t.NotifyChatID}
	text := fmt.Sprintf("Scheduled announcement #%d has run.\n\n%s", t.ID, rep.Summary())
	if _, err := s.adapter.SendText(ctx, to, text, nil); err != nil {
		s.log.Warn("summary notification failed",
			logx.Int64("task_id", t.ID),
			logx.Int64("chat_id", t.NotifyChatID),
			logx.Err(err))
	}
}

func draftMessage(d Draft) delivery.Message {
	m := delivery.Message{Button: d.Button()}
	if d.IsMedia() {
		m.MediaRef = d.MediaRef
		m.MediaKind = d.MediaKind
		if m.MediaKind == "" {
			m.MediaKind, _ = transport.DetectMediaKind(d.MediaRef)
		}
		m.Caption = d.Caption
	} else {
		m.Text = d.Text
	}
	return m
}

func taskMessage(t storage.Task) delivery.Message {
	m := delivery.Message{}
	if t.ButtonText != "" && t.ButtonURL != "" {
		m.Button = &transport.Button{Label: t.ButtonText, URL: t.ButtonURL}
	}
	if t.IsMedia() {
		m.MediaRef = t.MediaRef
		m.MediaKind = t.MediaKind
		m.Caption = t.Text
	} else {
		m.Text = t.Text
	}
	return m
}
