// Package broker turns one-shot publish/subscribe into correlated
// request/response calls.
//
// A call generates a correlation id, claims the inbound channel through the
// arbiter, subscribes to the response topic, publishes the request after a
// short settle delay and waits for a response carrying a compatible id.
//
// Every call settles exactly once: the first of {matching response,
// validation failure, transport failure, timeout, cancellation} wins and all
// later paths are no-ops. Cleanup (timer stop, registry removal, claim
// release, best-effort unsubscribe) runs once per call.
//
// # Transport retries
//
// Subscribe/publish failures whose text contains "not connected" or
// "disconnected" are transient. The whole subscribe→publish sequence is
// retried up to RetryPolicy.Attempts times with a fixed delay. Any other
// failure is terminal.
//
// # Correlation matching
//
// Responders are known to decorate ids (suffixes such as "_v2"), so ids are
// compared with CorrelationIDsCompatible: equality, prefix in either
// direction, or containment. Similar ids issued concurrently ("att-pay-1",
// "att-pay-10") can therefore cross-match; the broker logs a warning when a
// response is compatible with more than one pending call.
//
// # Usage
//
//	b := broker.New(client, arb, broker.DefaultOptions())
//	resp, err := b.Call(ctx, broker.Request{
//	    Key:             "validate-payment",
//	    RequestTopic:    topics.Call("attendant", "kiosk", planID, "validate_payment"),
//	    ResponseTopic:   topics.Echo("attendant", "kiosk", planID, "validate_payment_status"),
//	    RequiredSignals: []string{"PAYMENT_STATUS_GOOD"},
//	    Build: func(id string) ([]byte, error) {
//	        return broker.NewEnvelope(planID, id, actor, "validate_payment", fields).Marshal()
//	    },
//	})
package broker
