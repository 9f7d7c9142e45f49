package transport

import (
	"context"
	"fmt"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateJoined   UpdateKind = "joined" // bot was added to a group chat
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
	Joined   *Joined
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Media        *Media // nil for plain text messages
	IsGroup      bool
}

// Media is an attachment extracted from an incoming message.
// Ref is the channel-native file reference (Telegram file_id).
type Media struct {
	Kind     MediaKind
	Ref      string
	FileName string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type Joined struct {
	ChatID int64
	Title  string
}

type ChatTarget struct {
	ChatID int64
}

// ChatInfo is the channel's public profile of a chat, used for rendering
// people as links instead of bare ids.
type ChatInfo struct {
	ChatID   int64
	Name     string
	Username string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is a single URL call-to-action attached below a message.
type Button struct {
	Label string
	URL   string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Button         *Button
	ReplyMarkup    any // adapter-specific markup (Telegram: *telebot.ReplyMarkup); overrides Button
}

// MediaKind classifies an outbound attachment. The kind decides which
// channel operation is used for the send (sendPhoto vs sendVideo etc).
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaPhoto, MediaVideo, MediaAudio, MediaDocument:
		return true
	}
	return false
}

// DetectMediaKind sniffs the media kind from a reference's suffix.
// Returns ok=false for references without a recognized suffix
// (e.g. raw Telegram file_ids, whose kind must come from message metadata).
func DetectMediaKind(ref string) (MediaKind, bool) {
	low := strings.ToLower(strings.TrimSpace(ref))
	switch {
	case strings.HasSuffix(low, ".jpg"), strings.HasSuffix(low, ".jpeg"), strings.HasSuffix(low, ".png"):
		return MediaPhoto, true
	case strings.HasSuffix(low, ".mp4"):
		return MediaVideo, true
	case strings.HasSuffix(low, ".mp3"), strings.HasSuffix(low, ".wav"):
		return MediaAudio, true
	case strings.HasSuffix(low, ".pdf"):
		return MediaDocument, true
	}
	return "", false
}

// RecipientError marks a send that was rejected for one recipient
// (bot blocked, kicked from the chat, chat gone). Fan-out treats it as a
// per-recipient failure and keeps going.
type RecipientError struct {
	ChatID int64
	Err    error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("recipient %d: %v", e.ChatID, e.Err)
}

func (e *RecipientError) Unwrap() error { return e.Err }

// Adapter is the outbound messaging channel plus the inbound update stream.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, kind MediaKind, ref, caption string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	ChatByID(ctx context.Context, chatID int64) (ChatInfo, error)
}
