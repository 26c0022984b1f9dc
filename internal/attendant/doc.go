// Package attendant implements the kiosk's back-office operations on top of
// the correlation broker.
//
// Each operation publishes a request envelope on
// call/<domain>/<role>/plan/<planId>/<action> and waits for the correlated
// answer on the echo family:
//
//	identify_customer  → echo/.../identify_customer
//	validate_payment   → echo/.../validate_payment_status  (PAYMENT_STATUS_GOOD | PAYMENT_ALREADY_VALIDATED)
//	swap_complete      → emit only, no answer
//
// The Service also installs the arbiter's default handler: a watcher for
// identification answers that arrive without a pending call, for example
// when the customer scanned their code on their own phone.
package attendant
