package announce

import (
	"strings"
	"time"

	"annobot/internal/transport"
)

// Operator-facing literal formats for deferred publication.
const (
	DateLayout = "02.01.2006"
	TimeLayout = "15:04"
)

const (
	maxTextLen    = 4096
	maxCaptionLen = 1024
)

func validateDraft(d Draft) error {
	if d.IsMedia() {
		if d.MediaRef == "" {
			return &ValidationError{Field: "media", Reason: "media reference is empty"}
		}
		kind := d.MediaKind
		if kind == "" {
			var ok bool
			if kind, ok = transport.DetectMediaKind(d.MediaRef); !ok {
				return &ValidationError{Field: "media", Reason: "cannot determine media kind from reference"}
			}
		}
		if !kind.Valid() {
			return &ValidationError{Field: "media", Reason: "unsupported media kind " + string(kind)}
		}
		if len([]rune(d.Caption)) > maxCaptionLen {
			return &ValidationError{Field: "caption", Reason: "caption is too long"}
		}
	} else {
		if strings.TrimSpace(d.Text) == "" {
			return &ValidationError{Field: "text", Reason: "announcement text is empty"}
		}
		if len([]rune(d.Text)) > maxTextLen {
			return &ValidationError{Field: "text", Reason: "announcement text is too long"}
		}
	}
	return validateButton(d.ButtonLabel, d.ButtonURL)
}

// validateButton requires the button to have both a label and a URL, or
// neither, and the URL to carry an http(s) scheme.
func validateButton(label, url string) error {
	if label == "" && url == "" {
		return nil
	}
	if label == "" {
		return &ValidationError{Field: "button", Reason: "button has a URL but no label"}
	}
	if url == "" {
		return &ValidationError{Field: "button", Reason: "button has a label but no URL"}
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return &ValidationError{Field: "button", Reason: "URL must start with http:// or https://"}
	}
	return nil
}

// ParseRunAt combines an operator-entered date and time into a single local
// instant. The inputs must match DateLayout / TimeLayout exactly.
func ParseRunAt(dateStr, timeStr string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(dateStr), loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: "expected format D.M.Y, e.g. 15.12.2026"}
	}
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(timeStr), loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "time", Reason: "expected format HH:MM, e.g. 12:30"}
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
