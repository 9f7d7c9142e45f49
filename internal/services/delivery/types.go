package delivery

import (
	"time"

	"annobot/internal/transport"
)

type Config struct {
	RatePerSec int // outbound sends per second across all recipients
}

// Message is the rendered announcement payload. Either Text is set (text
// announcement) or MediaKind/MediaRef are (media announcement with Caption).
type Message struct {
	Text string

	MediaKind transport.MediaKind
	MediaRef  string
	Caption   string

	Button *transport.Button
}

func (m Message) IsMedia() bool { return m.MediaKind != "" }

// Outcome classifies one recipient's attempt.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped_missing_payload"
	OutcomeFailed  Outcome = "failed"
)

// Result is the per-recipient record of one fan-out.
type Result struct {
	ChatID  int64
	Outcome Outcome
	Reason  string // set for failed/skipped
}

// Report summarizes one fan-out. Every recipient appears exactly once.
type Report struct {
	JobID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Results []Result
	Sent    int
	Skipped int
	Failed  int
}

func (r Report) Total() int { return len(r.Results) }
