package broker

import (
	"strings"
	"time"
)

// RetryPolicy bounds transport-level retries of the subscribe→publish
// sequence.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Delay is the fixed pause between tries.
	Delay time.Duration
}

// DefaultRetryPolicy is five attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Delay: time.Second}
}

// transientMarkers are matched case-insensitively against failure text.
var transientMarkers = []string{"not connected", "disconnected"}

// IsTransient reports whether a transport failure is connection-class and
// worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
