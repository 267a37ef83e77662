package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations arrive from YAML as strings ("10s", "5m"). Empty means the
// field was omitted and the caller's default applies; negatives are
// rejected because no timeout or interval here can be negative.

// ParseDurationField parses one duration value. path names the YAML field
// for error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault resolves empty or zero values to def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
