package delivery

import (
	"fmt"
	"strings"
)

// Summary renders the operator-facing outcome of one fan-out, enumerating
// the recipients that failed.
func (r Report) Summary() string {
	var b strings.Builder
	switch {
	case r.Total() == 0:
		b.WriteString("Nobody to deliver to: the recipient list is empty.")
	case r.Failed == 0 && r.Skipped == 0:
		fmt.Fprintf(&b, "✅ Announcement delivered to %d recipient(s).", r.Sent)
	default:
		fmt.Fprintf(&b, "Announcement finished: %d sent, %d skipped, %d failed of %d.",
			r.Sent, r.Skipped, r.Failed, r.Total())
	}

	if r.Failed > 0 {
		b.WriteString("\n\nFailed recipients:")
		shown := 0
		for _, res := range r.Results {
			if res.Outcome != OutcomeFailed {
				continue
			}
			fmt.Fprintf(&b, "\n• %d — %s", res.ChatID, res.Reason)
			shown++
			if shown >= 20 {
				fmt.Fprintf(&b, "\n… and %d more", r.Failed-shown)
				break
			}
		}
	}
	return b.String()
}
