package schedule

import (
	"errors"
	"time"
)

// ErrPastTime rejects arming a timer whose run time is not in the future.
// Callers should deliver immediately instead.
var ErrPastTime = errors.New("schedule: run time is not in the future")

// State tracks a timer's lifecycle. Transitions are one-way:
// Armed -> Firing -> Done. Done entries are removed from the service.
type State string

const (
	StateArmed  State = "armed"
	StateFiring State = "firing"
	StateDone   State = "done"
)

// EntryInfo is an observability snapshot of one armed timer.
type EntryInfo struct {
	TaskID int64
	RunAt  time.Time
	State  State
}
