package domain

import (
	"fmt"
	"time"
)

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseInterval converts a strategy interval string to a duration. Only the
// fixed set 1m|5m|15m|30m|1h|4h|1d is accepted; anything else is a
// configuration error and the strategy must not be started.
func ParseInterval(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	return d, nil
}
