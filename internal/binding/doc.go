// Package binding runs the find→connect→read sequence that binds a scanned
// battery pack to a swap.
//
// A session moves through
//
//	Idle → Matching → Connecting → Reading → Succeeded | Failed | RadioResetRequired | Cancelled
//
// Matching resolves the scanned code through discovery.Matcher. Connecting
// retries only on an explicit connect-failure callback, with linear backoff.
// The moment a connect succeeds the attempt is confirmed; from then on
// cancellation is refused and every failure-class callback (connect failure,
// late service failure, disconnect notification) is logged as stale and
// swallowed. Reading requests the telemetry service and decodes it with the
// energy package, re-requesting when fields are missing but the pack
// identified itself.
//
// A global timer armed when matching starts bounds the whole session. When
// it fires, or the radio reports "device not connected" mid-read, the
// session ends in RadioResetRequired: the operator has to power-cycle the
// radio before retrying.
//
// Radio callbacks reach the Machine through Handler; install it on the
// radio once:
//
//	m := binding.New(r, scanner, binding.DefaultOptions())
//	r.SetHandler(m.Handler())
//	res, err := m.Bind(ctx, code)
package binding
