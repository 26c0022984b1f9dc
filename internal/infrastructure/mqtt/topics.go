package mqtt

import "fmt"

// Topic verbs and response families.
//
// Requests follow <verb>/<domain>/<role>/plan/<planId>/<action>.
// Responses come back on the echo or rtrn families, either on an exact topic
// or through a wildcard subscription.
const (
	// VerbCall is used for requests that expect a correlated answer.
	VerbCall = "call"

	// VerbEmit is used for one-way notifications.
	VerbEmit = "emit"

	// FamilyEcho carries answers to call requests.
	FamilyEcho = "echo"

	// FamilyReturn carries answers routed back through the plan service.
	FamilyReturn = "rtrn"

	// TopicPrefixStation is the base for kiosk status topics.
	TopicPrefixStation = "emit/station"
)

// Topics provides builders for station MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	req := topics.Call("attendant", "kiosk", "P1", "validate_payment")
//	// Returns: "call/attendant/kiosk/plan/P1/validate_payment"
type Topics struct{}

// =============================================================================
// Request Topics
// =============================================================================

// Call returns the topic for a correlated request.
//
// Example: call/attendant/kiosk/plan/P1/identify_customer
func (Topics) Call(domain, role, planID, action string) string {
	return planTopic(VerbCall, domain, role, planID, action)
}

// Emit returns the topic for a one-way notification.
//
// Example: emit/attendant/kiosk/plan/P1/swap_complete
func (Topics) Emit(domain, role, planID, action string) string {
	return planTopic(VerbEmit, domain, role, planID, action)
}

// =============================================================================
// Response Topics
// =============================================================================

// Echo returns an exact echo response topic.
//
// Example: echo/attendant/kiosk/plan/P1/validate_payment_status
func (Topics) Echo(domain, role, planID, action string) string {
	return planTopic(FamilyEcho, domain, role, planID, action)
}

// Return returns an exact rtrn response topic.
//
// Example: rtrn/attendant/kiosk/plan/P1/identify_customer
func (Topics) Return(domain, role, planID, action string) string {
	return planTopic(FamilyReturn, domain, role, planID, action)
}

// =============================================================================
// Station Topics
// =============================================================================

// StationStatus returns the retained online/offline status topic of a kiosk.
//
// Example: emit/station/kiosk-01/status
func (Topics) StationStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixStation, clientID)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllEcho returns a pattern matching every echo response.
//
// Pattern: echo/#
func (Topics) AllEcho() string {
	return FamilyEcho + "/#"
}

// AllReturn returns a pattern matching every rtrn response.
//
// Pattern: rtrn/#
func (Topics) AllReturn() string {
	return FamilyReturn + "/#"
}

// PlanEcho returns a pattern matching every echo response for one plan.
//
// Pattern: echo/+/+/plan/P1/#
func (Topics) PlanEcho(planID string) string {
	return fmt.Sprintf("%s/+/+/plan/%s/#", FamilyEcho, planID)
}

func planTopic(verb, domain, role, planID, action string) string {
	return fmt.Sprintf("%s/%s/%s/plan/%s/%s", verb, domain, role, planID, action)
}
