package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationError names the config field holding a bad duration.
type DurationError struct {
	Field string
	Raw   string
	Err   error
}

func (e *DurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid duration %q: %v", e.Field, e.Raw, e.Err)
	}
	return fmt.Sprintf("%s: duration %q is negative", e.Field, e.Raw)
}

func (e *DurationError) Unwrap() error { return e.Err }

// ParseDurationField reads a Go duration string such as "1m30s".
// Blank means unset and yields 0.
func ParseDurationField(field, raw string) (time.Duration, error) {
	return ParseDurationOrDefault(field, raw, 0)
}

// ParseDurationOrDefault returns def when raw is blank or "0".
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, &DurationError{Field: field, Raw: raw, Err: err}
	case d < 0:
		return 0, &DurationError{Field: field, Raw: raw}
	case d == 0:
		return def, nil
	}
	return d, nil
}
