package announce

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"annobot/internal/services/delivery"
	"annobot/internal/services/schedule"
	"annobot/internal/storage"
	"annobot/internal/transport"
	"annobot/pkg/logx"
)

type sentMsg struct {
	chatID int64
	text   string
	media  bool
}

// captureAdapter records outbound sends and signals each one on ch.
type captureAdapter struct {
	mu   sync.Mutex
	msgs []sentMsg
	ch   chan sentMsg
}

func newCaptureAdapter() *captureAdapter {
	return &captureAdapter{ch: make(chan sentMsg, 64)}
}

func (c *captureAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (c *captureAdapter) Stop(ctx context.Context) error                               { return nil }

func (c *captureAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return c.record(sentMsg{chatID: to.ChatID, text: text})
}

func (c *captureAdapter) SendMedia(ctx context.Context, to transport.ChatTarget, kind transport.MediaKind, ref, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return c.record(sentMsg{chatID: to.ChatID, text: caption, media: true})
}

func (c *captureAdapter) ChatByID(ctx context.Context, chatID int64) (transport.ChatInfo, error) {
	return transport.ChatInfo{ChatID: chatID}, nil
}

func (c *captureAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (c *captureAdapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	return nil
}

func (c *captureAdapter) record(m sentMsg) (transport.MessageRef, error) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	c.ch <- m
	return transport.MessageRef{ChatID: m.chatID}, nil
}

func (c *captureAdapter) sent() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.msgs...)
}

func (c *captureAdapter) waitFor(t *testing.T, match func(sentMsg) bool) sentMsg {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-c.ch:
			if match(m) {
				return m
			}
		case <-deadline:
			t.Fatal("expected send never arrived")
		}
	}
}

// gateAdapter blocks each outbound send until release is closed, so tests
// can hold a fan-out in flight.
type gateAdapter struct {
	started chan int64
	release chan struct{}

	mu        sync.Mutex
	delivered map[int64]int
}

func newGateAdapter() *gateAdapter {
	return &gateAdapter{
		started:   make(chan int64, 8),
		release:   make(chan struct{}),
		delivered: map[int64]int{},
	}
}

func (g *gateAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (g *gateAdapter) Stop(ctx context.Context) error                               { return nil }

func (g *gateAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	g.started <- to.ChatID
	<-g.release
	g.mu.Lock()
	g.delivered[to.ChatID]++
	g.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (g *gateAdapter) SendMedia(ctx context.Context, to transport.ChatTarget, kind transport.MediaKind, ref, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return g.SendText(ctx, to, caption, opt)
}

func (g *gateAdapter) ChatByID(ctx context.Context, chatID int64) (transport.ChatInfo, error) {
	return transport.ChatInfo{ChatID: chatID}, nil
}

func (g *gateAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (g *gateAdapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	return nil
}

func (g *gateAdapter) deliveredTo(chatID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delivered[chatID]
}

type fixture struct {
	store   *storage.Store
	sched   *schedule.Service
	adapter *captureAdapter
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "ann.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sched := schedule.New(logx.Nop())
	sched.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	adapter := newCaptureAdapter()
	deliver := delivery.New(delivery.Config{RatePerSec: 1000}, adapter, logx.Nop())
	svc := New(Config{}, store, sched, deliver, adapter, logx.Nop())
	return &fixture{store: store, sched: sched, adapter: adapter, svc: svc}
}

type gateFixture struct {
	store *storage.Store
	sched *schedule.Service
	gate  *gateAdapter
	svc   *Service
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "gate.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sched := schedule.New(logx.Nop())
	sched.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	gate := newGateAdapter()
	deliver := delivery.New(delivery.Config{RatePerSec: 1000}, gate, logx.Nop())
	svc := New(Config{}, store, sched, deliver, gate, logx.Nop())
	return &gateFixture{store: store, sched: sched, gate: gate, svc: svc}
}

func (f *gateFixture) waitTaskGone(t *testing.T, id int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.store.TaskByID(context.Background(), id); errors.Is(err, storage.ErrNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task was never removed after delivery")
}

func TestSweepSkipsInFlightOverdueTask(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t)
	ctx := context.Background()

	if err := f.store.UpsertRecipient(ctx, 100); err != nil {
		t.Fatalf("UpsertRecipient: %v", err)
	}
	id, err := f.store.CreateTask(ctx, storage.Task{RunAt: time.Now().Add(-time.Minute), Text: "overdue"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := f.svc.sweep(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	select {
	case <-f.gate.started:
	case <-time.After(3 * time.Second):
		t.Fatal("overdue delivery never started")
	}

	// A second sweep overlapping the in-flight delivery must not hand the
	// task to a second execution.
	if err := f.svc.sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	close(f.gate.release)
	f.waitTaskGone(t, id)

	if n := f.gate.deliveredTo(100); n != 1 {
		t.Fatalf("task delivered %d times, want 1", n)
	}
	select {
	case <-f.gate.started:
		t.Fatal("second sweep started a duplicate delivery")
	default:
	}
}

func TestCancelWhileFiringIsRejected(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t)
	ctx := context.Background()

	if err := f.store.UpsertRecipient(ctx, 100); err != nil {
		t.Fatalf("UpsertRecipient: %v", err)
	}
	id, err := f.svc.Schedule(ctx, Draft{Text: "going out", RunAt: time.Now().Add(30 * time.Millisecond)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case <-f.gate.started:
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never started")
	}

	if err := f.svc.Cancel(ctx, id); !errors.Is(err, ErrAlreadyFiring) {
		t.Fatalf("Cancel mid-delivery = %v, want ErrAlreadyFiring", err)
	}

	close(f.gate.release)
	f.waitTaskGone(t, id)
	if n := f.gate.deliveredTo(100); n != 1 {
		t.Fatalf("task delivered %d times, want 1", n)
	}
}

func TestPublishNowNeverTouchesTaskStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []int64{10, 20} {
		if err := f.store.UpsertRecipient(ctx, id); err != nil {
			t.Fatalf("UpsertRecipient: %v", err)
		}
	}

	rep, err := f.svc.PublishNow(ctx, Draft{Text: "flash news"})
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if rep.Sent != 2 {
		t.Fatalf("Sent = %d, want 2", rep.Sent)
	}

	pending, err := f.store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("immediate publication left %d tasks behind", len(pending))
	}
}

func TestPublishNowOnlyClients(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []int64{10, 20, 30} {
		if err := f.store.UpsertRecipient(ctx, id); err != nil {
			t.Fatalf("UpsertRecipient: %v", err)
		}
	}
	if err := f.store.MarkClient(ctx, 20); err != nil {
		t.Fatalf("MarkClient: %v", err)
	}

	rep, err := f.svc.PublishNow(ctx, Draft{Text: "clients only", OnlyClients: true})
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if rep.Sent != 1 {
		t.Fatalf("Sent = %d, want 1", rep.Sent)
	}
	got := f.adapter.sent()
	if len(got) != 1 || got[0].chatID != 20 {
		t.Fatalf("sent = %+v, want single send to 20", got)
	}
}

func TestPublishNowRejectsInvalidDraft(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.PublishNow(context.Background(), Draft{Text: "x", ButtonLabel: "Go"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if n := len(f.adapter.sent()); n != 0 {
		t.Fatalf("invalid draft still produced %d sends", n)
	}
}

func TestScheduleRejectsPastTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Schedule(ctx, Draft{Text: "too late", RunAt: time.Now().Add(-time.Minute)})
	if !errors.Is(err, schedule.ErrPastTime) {
		t.Fatalf("error = %v, want ErrPastTime", err)
	}
	pending, err := f.store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("rejected draft still created %d tasks", len(pending))
	}
}

func TestSchedulePersistsAndArms(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Schedule(ctx, Draft{Text: "tomorrow", RunAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !f.sched.Armed(id) {
		t.Fatal("task has no armed timer")
	}
	task, err := f.store.TaskByID(ctx, id)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if task.Text != "tomorrow" {
		t.Fatalf("Text = %q", task.Text)
	}
}

func TestCancelRemovesTaskAndTimer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Schedule(ctx, Draft{Text: "nevermind", RunAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := f.svc.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if f.sched.Armed(id) {
		t.Fatal("timer still armed after Cancel")
	}
	if _, err := f.store.TaskByID(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("TaskByID after Cancel = %v, want ErrNotFound", err)
	}

	if err := f.svc.Cancel(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second Cancel = %v, want ErrNotFound", err)
	}
}

func TestScheduledTaskFiresAndNotifies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.UpsertRecipient(ctx, 100); err != nil {
		t.Fatalf("UpsertRecipient: %v", err)
	}

	id, err := f.svc.Schedule(ctx, Draft{
		Text:         "it is time",
		RunAt:        time.Now().Add(50 * time.Millisecond),
		NotifyChatID: 900,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	f.adapter.waitFor(t, func(m sentMsg) bool { return m.chatID == 100 && m.text == "it is time" })
	summary := f.adapter.waitFor(t, func(m sentMsg) bool { return m.chatID == 900 })
	if summary.media {
		t.Fatal("summary sent as media")
	}

	// The executed task must be gone from the store.
	if _, err := f.store.TaskByID(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("TaskByID after firing = %v, want ErrNotFound", err)
	}
}

func TestStartRearmsPersistedTasks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.UpsertRecipient(ctx, 100); err != nil {
		t.Fatalf("UpsertRecipient: %v", err)
	}
	// Simulate a task persisted by a previous process: present in the store
	// but with no armed timer.
	futureID, err := f.store.CreateTask(ctx, storage.Task{RunAt: time.Now().Add(time.Hour), Text: "future"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := f.store.CreateTask(ctx, storage.Task{RunAt: time.Now().Add(-time.Minute), Text: "overdue"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.svc.Stop(stopCtx)
	}()

	// The overdue task is delivered immediately instead of being re-armed.
	f.adapter.waitFor(t, func(m sentMsg) bool { return m.chatID == 100 && m.text == "overdue" })

	// The future task got its timer back.
	if !f.sched.Armed(futureID) {
		t.Fatal("future task was not re-armed on start")
	}
}
