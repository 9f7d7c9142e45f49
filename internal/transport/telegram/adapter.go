package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"annobot/internal/transport"
	"annobot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool
	stopped chan struct{}
	// stopOnce collapses the two stop paths (ctx cancellation and Stop) into
	// a single bot.Stop call; telebot's Stop is a blocking handshake with the
	// poll loop, so a second call would hang its goroutine forever.
	stopOnce *sync.Once

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged on Stop to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		a.forwardMessage(c.Message(), nil)
		return nil
	})
	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Photo == nil {
			return nil
		}
		a.forwardMessage(m, &transport.Media{Kind: transport.MediaPhoto, Ref: m.Photo.FileID})
		return nil
	})
	a.bot.Handle(tele.OnVideo, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Video == nil {
			return nil
		}
		a.forwardMessage(m, &transport.Media{Kind: transport.MediaVideo, Ref: m.Video.FileID, FileName: m.Video.FileName})
		return nil
	})
	a.bot.Handle(tele.OnAudio, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Audio == nil {
			return nil
		}
		a.forwardMessage(m, &transport.Media{Kind: transport.MediaAudio, Ref: m.Audio.FileID, FileName: m.Audio.FileName})
		return nil
	})
	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Document == nil {
			return nil
		}
		a.forwardMessage(m, &transport.Media{Kind: transport.MediaDocument, Ref: m.Document.FileID, FileName: m.Document.FileName})
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				// Telebot prefixes callback data with "\f"; strip it.
				Data: strings.TrimPrefix(cb.Data, "\f"),
			},
		})
		return nil
	})
	a.bot.Handle(tele.OnAddedToGroup, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind:   transport.UpdateJoined,
			Joined: &transport.Joined{ChatID: m.Chat.ID, Title: m.Chat.Title},
		})
		return nil
	})
}

func (a *Adapter) forwardMessage(m *tele.Message, media *transport.Media) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	a.sendUpdate(transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         text,
			Media:        media,
			IsGroup:      m.Chat.Type != tele.ChatPrivate,
		},
	})
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.stopped = make(chan struct{})
	a.stopOnce = &sync.Once{}
	a.out.Store(out)
	stopped := a.stopped
	once := a.stopOnce
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		once.Do(a.bot.Stop)
	}()

	go func() {
		defer close(stopped)
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	stopped := a.stopped
	once := a.stopOnce
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates were dropped (channel full)", logx.Any("count", n))
	}

	// Telebot Stop is expected to be fast; run it async just in case.
	go once.Do(a.bot.Stop)

	select {
	case <-stopped:
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out")
	}
	return nil
}
