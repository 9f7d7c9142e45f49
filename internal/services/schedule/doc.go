// Package schedule provides the in-process one-shot timer service that
// drives deferred announcements.
//
// Each pending task owns one armed timer, keyed by the task id. At the
// task's run time the timer fires its job exactly once, in its own
// goroutine, so slow fan-outs never delay other tasks' firings.
//
// Timers are purely in-memory; the announce service re-arms them from the
// task store on startup and via a periodic sweep.
package schedule
