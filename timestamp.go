package chaidata

import (
	"errors"
	"strconv"
	"time"
)

// ErrInvalidTimestamp indicates a timestamp field that is not a valid integer
// or falls outside the representable range.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// ParseUnixMilli converts a Unix millisecond timestamp given as a decimal
// string into a time.Time in UTC.
func ParseUnixMilli(value string) (time.Time, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, ErrInvalidTimestamp
	}
	return time.UnixMilli(ms).UTC(), nil
}

// ParseUnixSeconds converts a Unix second timestamp given as a decimal string
// into a time.Time in UTC.
func ParseUnixSeconds(value string) (time.Time, error) {
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil || sec < 0 {
		return time.Time{}, ErrInvalidTimestamp
	}
	return time.Unix(sec, 0).UTC(), nil
}
