package call

import (
	"time"
)

// parseTimestamp normalizes an event timestamp into a timezone-aware
// instant. The engine emits ISO-8601, sometimes with a trailing "+HHMM"
// offset without a colon; the colon is inserted before parsing. Returns nil
// when the value cannot be parsed.
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}

	// "2026-01-02T15:04:05.000+0900" -> "...+09:00".
	if len(s) >= 5 {
		tail := s[len(s)-5:]
		if (tail[0] == '+' || tail[0] == '-') && isDigits(tail[1:]) {
			s = s[:len(s)-2] + ":" + s[len(s)-2:]
		}
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
