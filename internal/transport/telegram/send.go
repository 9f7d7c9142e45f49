package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"annobot/internal/transport"
	"annobot/pkg/tgui"
)

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	chat := &tele.Chat{ID: to.ChatID}
	msg, err := a.bot.Send(chat, text, sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, wrapSendErr(to.ChatID, err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

// SendMedia dispatches to the channel operation matching the media kind.
// Ref is a Telegram file_id or a URL the Bot API can fetch.
func (a *Adapter) SendMedia(ctx context.Context, to transport.ChatTarget, kind transport.MediaKind, ref, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}

	file := tele.File{FileID: ref}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		file = tele.FromURL(ref)
	}

	var payload any
	switch kind {
	case transport.MediaPhoto:
		payload = &tele.Photo{File: file, Caption: caption}
	case transport.MediaVideo:
		payload = &tele.Video{File: file, Caption: caption}
	case transport.MediaAudio:
		payload = &tele.Audio{File: file, Caption: caption}
	case transport.MediaDocument:
		payload = &tele.Document{File: file, Caption: caption}
	default:
		return transport.MessageRef{}, errors.New("telegram: unsupported media kind " + string(kind))
	}

	chat := &tele.Chat{ID: to.ChatID}
	msg, err := a.bot.Send(chat, payload, sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, wrapSendErr(to.ChatID, err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (a *Adapter) ChatByID(ctx context.Context, chatID int64) (transport.ChatInfo, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.ChatInfo{}, err
	}
	c, err := a.bot.ChatByID(chatID)
	if err != nil {
		return transport.ChatInfo{}, err
	}
	name := c.FirstName
	if name == "" {
		name = c.Title
	}
	return transport.ChatInfo{ChatID: c.ID, Name: name, Username: c.Username}, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return a.bot.Delete(tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	})
}

func sendOptions(opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok && rm != nil {
		so.ReplyMarkup = rm
	} else if opt.Button != nil {
		so.ReplyMarkup = tgui.NewInline().
			Row(tgui.URLBtn(opt.Button.Label, opt.Button.URL)).
			Markup()
	}
	return so
}

// wrapSendErr classifies Telegram rejections that concern a single recipient
// (blocked, kicked, chat gone, never started) as transport.RecipientError so
// fan-out keeps going.
func wrapSendErr(chatID int64, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrNotStartedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel),
		errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrNoRightsToSend):
		return &transport.RecipientError{ChatID: chatID, Err: err}
	}
	var tgErr *tele.Error
	if errors.As(err, &tgErr) && (tgErr.Code == 403 || tgErr.Code == 400) {
		return &transport.RecipientError{ChatID: chatID, Err: err}
	}
	return err
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
