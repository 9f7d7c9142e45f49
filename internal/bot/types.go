package bot

import (
	"annobot/internal/announce"
)

type Config struct {
	// AdminUserIDs is the operator allow-list for the announcement panel.
	AdminUserIDs []int64
}

// state names one step of the admin dialogue. The dialogue is a linear
// walk: when -> (date -> time) -> kind -> content -> optional button ->
// confirm, accumulating a Draft along the way.
type state int

const (
	stateIdle state = iota
	stateChooseWhen
	stateEnterDate
	stateEnterTime
	stateChooseKind
	stateEnterText
	stateAwaitMedia
	stateEnterCaption
	stateEnterButtonLabel
	stateEnterButtonURL
	stateConfirm
)

// session is one admin's dialogue position plus the draft accumulated so far.
type session struct {
	state   state
	draft   announce.Draft
	dateStr string // first half of the deferred timestamp, awaiting the time
}

// Callback actions used by the admin panel keyboards.
const (
	cbMenu       = "menu"
	cbClose      = "close"
	cbStats      = "stats"
	cbAdmins     = "admins"
	cbPending    = "pending"
	cbAnnounce   = "announce"
	cbWhenNow    = "when:now"
	cbWhenLater  = "when:later"
	cbKindText   = "kind:text"
	cbKindMedia  = "kind:media"
	cbAddButton  = "btn:add"
	cbAudience   = "audience"
	cbPublish    = "publish"
	cbCancelTask = "cancel:" // + task id
)
