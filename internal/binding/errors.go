package binding

import "errors"

// Domain errors for the binding package.
var (
	// ErrConnection is returned when connecting failed after all retries.
	ErrConnection = errors.New("binding: connection failed")

	// ErrDataRead is returned when telemetry could not be decoded after all
	// read retries, or carried no battery id.
	ErrDataRead = errors.New("binding: battery data read failed")

	// ErrRadioReset is returned when the radio must be power-cycled before
	// another attempt.
	ErrRadioReset = errors.New("binding: radio reset required")

	// ErrCancelled is returned for a session the operator cancelled.
	ErrCancelled = errors.New("binding: cancelled")

	// ErrCancelRejected is returned by Cancel once the connection is
	// confirmed. Wait for the read to finish.
	ErrCancelRejected = errors.New("binding: connection established, please wait for the battery read to finish")

	// ErrBusy is returned by Bind while another session is active.
	ErrBusy = errors.New("binding: session already active")

	// ErrNoSession is returned by Cancel when nothing is running.
	ErrNoSession = errors.New("binding: no active session")
)
