// Package delivery fans one announcement out to a recipient list.
//
// A single rendered payload (text, or media + caption, optionally with one
// URL button) is attempted against every recipient. Sends are rate limited
// and a failure for one recipient never aborts the rest of the batch; each
// attempt is recorded in the returned Report.
package delivery
