package announce

import (
	"errors"
	"fmt"
	"time"

	"annobot/internal/transport"
)

// ErrAlreadyFiring rejects a cancellation that arrived after the task's
// delivery started.
var ErrAlreadyFiring = errors.New("announce: delivery already in progress")

// Draft is the fully composed announcement handed over by the front-end in
// one atomic call. Either Text is set, or MediaRef/MediaKind (+ Caption).
type Draft struct {
	Text string

	MediaRef  string
	MediaKind transport.MediaKind
	Caption   string

	ButtonLabel string
	ButtonURL   string

	// RunAt is the local wall-clock instant for deferred delivery.
	// Zero means "publish now".
	RunAt time.Time

	// OnlyClients narrows the immediate fan-out to recipients flagged as
	// clients. Deferred tasks always resolve the full directory at fire time.
	OnlyClients bool

	// NotifyChatID receives the fan-out summary (the submitting operator
	// chat). Optional.
	NotifyChatID int64
}

func (d Draft) IsMedia() bool { return d.MediaKind != "" || d.MediaRef != "" }

// Button returns the draft's call-to-action button, or nil when none is set.
func (d Draft) Button() *transport.Button {
	if d.ButtonLabel == "" && d.ButtonURL == "" {
		return nil
	}
	return &transport.Button{Label: d.ButtonLabel, URL: d.ButtonURL}
}

// ValidationError reports bad operator input. It is meant to be shown to the
// submitter, never treated as fatal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
