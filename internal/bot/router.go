package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"annobot/internal/announce"
	"annobot/internal/storage"
	"annobot/internal/transport"
	"annobot/pkg/logx"
)

// Service is the conversation layer: it consumes the adapter's update
// stream, registers recipients, and walks admins through the announcement
// dialogue that ends in one atomic announce.Service call.
type Service struct {
	cfg     Config
	adapter transport.Adapter
	store   *storage.Store
	ann     *announce.Service
	log     logx.Logger

	mu       sync.Mutex
	sessions map[int64]*session // keyed by admin user id
}

func New(cfg Config, adapter transport.Adapter, store *storage.Store, ann *announce.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		adapter:  adapter,
		store:    store,
		ann:      ann,
		log:      log,
		sessions: map[int64]*session{},
	}
}

// Run processes updates until ctx is cancelled.
func (b *Service) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			b.handle(ctx, up)
		}
	}
}

func (b *Service) handle(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateJoined:
		b.handleJoined(ctx, up.Joined)
	case transport.UpdateMessage:
		b.handleMessage(ctx, up.Message)
	case transport.UpdateCallback:
		b.handleCallback(ctx, up.Callback)
	}
}

func (b *Service) handleJoined(ctx context.Context, j *transport.Joined) {
	if j == nil {
		return
	}
	if err := b.store.UpsertRecipient(ctx, j.ChatID); err != nil {
		b.log.Warn("group registration failed", logx.Int64("chat_id", j.ChatID), logx.Err(err))
		return
	}
	b.log.Info("group registered as recipient", logx.Int64("chat_id", j.ChatID), logx.String("title", j.Title))
}

func (b *Service) handleMessage(ctx context.Context, m *transport.Message) {
	if m == nil {
		return
	}

	switch cmd(m.Text) {
	case "/start":
		if err := b.store.UpsertRecipient(ctx, m.ChatID); err != nil {
			b.log.Warn("recipient registration failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
			return
		}
		b.send(ctx, m.ChatID, "Welcome! You will receive announcements here.", nil)
		return
	case "/apanel":
		if !b.isAdmin(m.FromID) || m.IsGroup {
			return
		}
		b.resetSession(m.FromID)
		b.sendMenu(ctx, m.ChatID)
		return
	case "/client":
		if !b.isAdmin(m.FromID) || m.IsGroup {
			return
		}
		b.markClient(ctx, m)
		return
	}

	// Everything else is dialogue input from an admin mid-flow.
	if !b.isAdmin(m.FromID) || m.IsGroup {
		return
	}
	b.advance(ctx, m)
}

func (b *Service) handleCallback(ctx context.Context, cb *transport.Callback) {
	if cb == nil || !b.isAdmin(cb.FromID) {
		return
	}
	// Ack first so the client stops its spinner even if handling is slow.
	if err := b.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
		b.log.Debug("callback ack failed", logx.Err(err))
	}
	b.dispatchCallback(ctx, cb)
}

// markClient flags a known recipient as a client ("/client <chat_id>").
// Clients can be targeted separately when publishing immediately.
func (b *Service) markClient(ctx context.Context, m *transport.Message) {
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(m.Text), "/client"))
	chatID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.send(ctx, m.ChatID, "Usage: /client <chat_id>", nil)
		return
	}
	if err := b.store.MarkClient(ctx, chatID); err != nil {
		b.log.Error("marking client failed", logx.Int64("chat_id", chatID), logx.Err(err))
		b.send(ctx, m.ChatID, "Marking the client failed, try again.", nil)
		return
	}
	b.send(ctx, m.ChatID, fmt.Sprintf("🥇 Chat %d is now flagged as a client.", chatID), nil)
}

func (b *Service) isAdmin(userID int64) bool {
	for _, id := range b.cfg.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Service) session(userID int64) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[userID]
	if !ok {
		s = &session{state: stateIdle}
		b.sessions[userID] = s
	}
	return s
}

func (b *Service) resetSession(userID int64) {
	b.mu.Lock()
	b.sessions[userID] = &session{state: stateIdle}
	b.mu.Unlock()
}

func (b *Service) send(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) {
	opt := &transport.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true}
	if markup != nil {
		opt.ReplyMarkup = markup
	}
	if _, err := b.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		b.log.Warn("dialog reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func cmd(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	if i := strings.IndexAny(text, " @"); i > 0 {
		return text[:i]
	}
	return text
}
