package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"annobot/internal/announce"
	"annobot/internal/services/schedule"
	"annobot/internal/storage"
	"annobot/internal/transport"
	"annobot/pkg/logx"
	"annobot/pkg/tgui"
)

func (b *Service) sendMenu(ctx context.Context, chatID int64) {
	markup := tgui.NewInline().
		Row(tgui.Btn("📣 New announcement", cbAnnounce)).
		Row(tgui.Btn("🗓 Pending", cbPending), tgui.Btn("📊 Stats", cbStats)).
		Row(tgui.Btn("👮 Admins", cbAdmins), tgui.Btn("❌ Close", cbClose)).
		Markup()
	b.send(ctx, chatID, "<b>Admin panel</b>\n\nPick an action 👇", markup)
}

func (b *Service) dispatchCallback(ctx context.Context, cb *transport.Callback) {
	s := b.session(cb.FromID)

	switch {
	case cb.Data == cbMenu:
		b.resetSession(cb.FromID)
		b.sendMenu(ctx, cb.ChatID)

	case cb.Data == cbClose:
		b.resetSession(cb.FromID)
		_ = b.adapter.DeleteMessage(ctx, transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID})

	case cb.Data == cbStats:
		b.sendStats(ctx, cb.ChatID)

	case cb.Data == cbAdmins:
		b.sendAdmins(ctx, cb.ChatID)

	case cb.Data == cbPending:
		b.sendPending(ctx, cb.ChatID)

	case cb.Data == cbAnnounce:
		s.state = stateChooseWhen
		s.draft = announce.Draft{NotifyChatID: cb.ChatID}
		markup := tgui.NewInline().
			Row(tgui.Btn("Now", cbWhenNow), tgui.Btn("Later", cbWhenLater)).
			Row(tgui.Btn("⬅️ Back", cbMenu)).
			Markup()
		b.send(ctx, cb.ChatID, "When should the announcement go out?", markup)

	case cb.Data == cbWhenNow && s.state == stateChooseWhen:
		s.draft.RunAt = time.Time{}
		b.promptKind(ctx, cb.ChatID, s)

	case cb.Data == cbWhenLater && s.state == stateChooseWhen:
		s.state = stateEnterDate
		b.send(ctx, cb.ChatID,
			"Enter the publication date in <b>D.M.Y</b> format.\nExample: <code>15.12.2026</code>", nil)

	case cb.Data == cbKindText && s.state == stateChooseKind:
		s.state = stateEnterText
		b.send(ctx, cb.ChatID,
			"Enter the announcement text (up to <b>4096</b> characters).", nil)

	case cb.Data == cbKindMedia && s.state == stateChooseKind:
		s.state = stateAwaitMedia
		b.send(ctx, cb.ChatID,
			"Send one of:\n\n📷 a photo\n📹 a video\n🎧 an audio file\n📄 a document", nil)

	case cb.Data == cbAddButton && s.state == stateConfirm:
		s.state = stateEnterButtonLabel
		b.send(ctx, cb.ChatID, "Enter the button label.\nExample: <blockquote>Read more</blockquote>", nil)

	case cb.Data == cbAudience && s.state == stateConfirm:
		s.draft.OnlyClients = !s.draft.OnlyClients
		b.promptConfirm(ctx, cb.ChatID, s)

	case cb.Data == cbPublish && s.state == stateConfirm:
		b.publish(ctx, cb.ChatID, cb.FromID, s)

	case strings.HasPrefix(cb.Data, cbCancelTask):
		idStr := strings.TrimPrefix(cb.Data, cbCancelTask)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return
		}
		b.cancelTask(ctx, cb.ChatID, id)
	}
}

// advance consumes one admin message according to the session state.
func (b *Service) advance(ctx context.Context, m *transport.Message) {
	s := b.session(m.FromID)

	switch s.state {
	case stateEnterDate:
		// Parse with a placeholder time first, so date errors surface before
		// the time is asked for.
		if _, err := announce.ParseRunAt(m.Text, "00:00", time.Local); err != nil {
			b.send(ctx, m.ChatID, "Invalid date. Use <b>D.M.Y</b>, e.g. <code>15.12.2026</code>.", nil)
			return
		}
		s.dateStr = strings.TrimSpace(m.Text)
		s.state = stateEnterTime
		b.send(ctx, m.ChatID,
			"Enter the publication time in <b>HH:MM</b> format.\nExample: <code>12:30</code>", nil)

	case stateEnterTime:
		runAt, err := announce.ParseRunAt(s.dateStr, m.Text, time.Local)
		if err != nil {
			b.send(ctx, m.ChatID, "Invalid time. Use <b>HH:MM</b>, e.g. <code>14:30</code>.", nil)
			return
		}
		if !runAt.After(time.Now()) {
			b.send(ctx, m.ChatID, "That moment has already passed. Enter a future date and time.", nil)
			s.state = stateEnterDate
			return
		}
		s.draft.RunAt = runAt
		b.promptKind(ctx, m.ChatID, s)

	case stateEnterText:
		s.draft.Text = m.Text
		b.promptConfirm(ctx, m.ChatID, s)

	case stateAwaitMedia:
		if m.Media == nil {
			b.send(ctx, m.ChatID, "That is not a supported attachment. Send a photo, video, audio file, or document.", nil)
			return
		}
		s.draft.MediaRef = m.Media.Ref
		s.draft.MediaKind = m.Media.Kind
		s.state = stateEnterCaption
		b.send(ctx, m.ChatID, "Enter a caption for the media (up to <b>1024</b> characters).", nil)

	case stateEnterCaption:
		s.draft.Caption = m.Text
		b.promptConfirm(ctx, m.ChatID, s)

	case stateEnterButtonLabel:
		s.draft.ButtonLabel = m.Text
		s.state = stateEnterButtonURL
		b.send(ctx, m.ChatID,
			"Now enter the URL the button should open.\nExample: <blockquote>https://example.com</blockquote>", nil)

	case stateEnterButtonURL:
		url := strings.TrimSpace(m.Text)
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			b.send(ctx, m.ChatID, "❌ Invalid URL. It must start with http:// or https://.", nil)
			return
		}
		s.draft.ButtonURL = url
		b.promptConfirm(ctx, m.ChatID, s)
	}
}

func (b *Service) promptKind(ctx context.Context, chatID int64, s *session) {
	s.state = stateChooseKind
	markup := tgui.NewInline().
		Row(tgui.Btn("📝 Text", cbKindText), tgui.Btn("🖼 Media", cbKindMedia)).
		Row(tgui.Btn("⬅️ Back", cbMenu)).
		Markup()
	b.send(ctx, chatID, "Choose the announcement type 👇", markup)
}

func (b *Service) promptConfirm(ctx context.Context, chatID int64, s *session) {
	s.state = stateConfirm

	var preview strings.Builder
	if s.draft.IsMedia() {
		fmt.Fprintf(&preview, "<b>Media announcement</b> (%s)\n\n%s", s.draft.MediaKind, s.draft.Caption)
	} else {
		fmt.Fprintf(&preview, "<b>Text announcement</b>\n\n%s", s.draft.Text)
	}
	if s.draft.ButtonLabel != "" {
		fmt.Fprintf(&preview, "\n\nButton: %s → %s", s.draft.ButtonLabel, s.draft.ButtonURL)
	}
	if s.draft.RunAt.IsZero() {
		preview.WriteString("\n\nGoes out: <b>immediately</b>")
	} else {
		fmt.Fprintf(&preview, "\n\nGoes out: <b>%s</b>", s.draft.RunAt.Format(announce.DateLayout+" "+announce.TimeLayout))
	}

	kb := tgui.NewInline().
		Row(tgui.Btn("📌 Add link button", cbAddButton))
	if s.draft.RunAt.IsZero() {
		audience := "everyone"
		if s.draft.OnlyClients {
			audience = "clients only"
		}
		kb.Row(tgui.Btn("👥 Audience: "+audience, cbAudience))
	}
	markup := kb.
		Row(tgui.Btn("✅ Publish", cbPublish)).
		Row(tgui.Btn("❌ Cancel", cbMenu)).
		Markup()
	b.send(ctx, chatID, preview.String(), markup)
}

func (b *Service) publish(ctx context.Context, chatID, userID int64, s *session) {
	draft := s.draft
	b.resetSession(userID)

	if draft.RunAt.IsZero() {
		rep, err := b.ann.PublishNow(ctx, draft)
		if err != nil {
			b.sendSubmitError(ctx, chatID, err)
			return
		}
		b.send(ctx, chatID, rep.Summary(), nil)
		return
	}

	id, err := b.ann.Schedule(ctx, draft)
	if err != nil {
		b.sendSubmitError(ctx, chatID, err)
		return
	}
	b.send(ctx, chatID, fmt.Sprintf(
		"✅ Announcement <b>#%d</b> scheduled for <b>%s</b>.",
		id, draft.RunAt.Format(announce.DateLayout+" "+announce.TimeLayout)), nil)
}

func (b *Service) sendSubmitError(ctx context.Context, chatID int64, err error) {
	var verr *announce.ValidationError
	switch {
	case errors.As(err, &verr):
		b.send(ctx, chatID, "❌ "+verr.Error(), nil)
	case errors.Is(err, schedule.ErrPastTime):
		b.send(ctx, chatID, "❌ The scheduled time has already passed. Start over with a future time.", nil)
	default:
		b.log.Error("announcement submission failed", logx.Err(err))
		b.send(ctx, chatID, "Something went wrong while submitting the announcement. Try again.", nil)
	}
}

func (b *Service) sendStats(ctx context.Context, chatID int64) {
	total, clients, err := b.store.CountRecipients(ctx)
	if err != nil {
		b.log.Error("stats query failed", logx.Err(err))
		return
	}
	markup := tgui.NewInline().Row(tgui.Btn("⬅️ Back", cbMenu)).Markup()
	b.send(ctx, chatID, fmt.Sprintf(
		"📊 <b>Recipient directory</b>\n\n👤 Known chats: <b>%d</b>\n🥇 Clients: <b>%d</b>",
		total, clients), markup)
}

func (b *Service) sendAdmins(ctx context.Context, chatID int64) {
	var text strings.Builder
	text.WriteString("👮 <b>Panel operators</b>\n")
	for i, adminID := range b.cfg.AdminUserIDs {
		line := fmt.Sprintf("https://t.me/%d", adminID)
		if info, err := b.adapter.ChatByID(ctx, adminID); err == nil {
			name := info.Name
			if name == "" {
				name = strconv.FormatInt(adminID, 10)
			}
			if info.Username != "" {
				line = fmt.Sprintf("<a href=\"https://t.me/%s\">%s</a>", info.Username, name)
			} else {
				line = fmt.Sprintf("%s (https://t.me/%d)", name, adminID)
			}
		} else {
			b.log.Warn("admin chat lookup failed", logx.Int64("chat_id", adminID), logx.Err(err))
		}
		fmt.Fprintf(&text, "\n%d. %s", i+1, line)
	}
	markup := tgui.NewInline().Row(tgui.Btn("⬅️ Back", cbMenu)).Markup()
	b.send(ctx, chatID, text.String(), markup)
}

func (b *Service) sendPending(ctx context.Context, chatID int64) {
	tasks, err := b.ann.Pending(ctx)
	if err != nil {
		b.log.Error("pending query failed", logx.Err(err))
		return
	}
	if len(tasks) == 0 {
		markup := tgui.NewInline().Row(tgui.Btn("⬅️ Back", cbMenu)).Markup()
		b.send(ctx, chatID, "No announcements are scheduled.", markup)
		return
	}

	var text strings.Builder
	text.WriteString("🗓 <b>Scheduled announcements</b>\n")
	kb := tgui.NewInline()
	for _, t := range tasks {
		label := t.Text
		if t.IsMedia() {
			label = fmt.Sprintf("[%s] %s", t.MediaKind, t.Text)
		}
		fmt.Fprintf(&text, "\n#%d — %s\n%s\n", t.ID, t.RunAt.Local().Format("02.01.2006 15:04"), truncate(label, 80))
		kb.Row(tgui.Btn(fmt.Sprintf("🗑 Cancel #%d", t.ID), cbCancelTask+strconv.FormatInt(t.ID, 10)))
	}
	kb.Row(tgui.Btn("⬅️ Back", cbMenu))
	b.send(ctx, chatID, text.String(), kb.Markup())
}

func (b *Service) cancelTask(ctx context.Context, chatID, taskID int64) {
	err := b.ann.Cancel(ctx, taskID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.send(ctx, chatID, fmt.Sprintf("Announcement #%d no longer exists.", taskID), nil)
	case errors.Is(err, announce.ErrAlreadyFiring):
		b.send(ctx, chatID, fmt.Sprintf("Announcement #%d is already being delivered and can no longer be cancelled.", taskID), nil)
	case err != nil:
		b.log.Error("cancel failed", logx.Int64("task_id", taskID), logx.Err(err))
		b.send(ctx, chatID, "Cancelling failed, try again.", nil)
	default:
		b.send(ctx, chatID, fmt.Sprintf("🗑 Announcement #%d cancelled.", taskID), nil)
	}
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
