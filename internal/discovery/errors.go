package discovery

import "errors"

// Domain errors for the discovery package.
var (
	// ErrDeviceNotFound is returned when no scanned device matched the
	// fingerprint within the attempt budget. Make sure the pack is powered
	// and nearby, then retry.
	ErrDeviceNotFound = errors.New("discovery: device not found")

	// ErrInvalidCode is returned for a scanned code with no usable characters.
	ErrInvalidCode = errors.New("discovery: invalid code")
)
