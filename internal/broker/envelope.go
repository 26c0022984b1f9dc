package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Actor identifies who issued a request.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Envelope is the JSON request body understood by the back office.
//
//	{"timestamp": "...", "plan_id": "P1", "correlation_id": "...",
//	 "actor": {"type": "attendant", "id": "a-42"},
//	 "data": {"action": "validate_payment", ...}}
type Envelope struct {
	Timestamp     string         `json:"timestamp"`
	PlanID        string         `json:"plan_id"`
	CorrelationID string         `json:"correlation_id"`
	Actor         Actor          `json:"actor"`
	Data          map[string]any `json:"data"`
}

// NewEnvelope builds a request envelope. fields are merged into data next to
// the action; a field named "action" is overwritten.
func NewEnvelope(planID, correlationID string, actor Actor, action string, fields map[string]any) Envelope {
	data := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	data["action"] = action

	return Envelope{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		PlanID:        planID,
		CorrelationID: correlationID,
		Actor:         actor,
		Data:          data,
	}
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return b, nil
}

// Response is a parsed inbound response.
//
// success, signals and correlation ids may appear at the top level, under
// "data" or under "metadata"; accessors check all three in that order.
type Response struct {
	Topic   string
	Payload []byte
	Body    map[string]any
}

// responseSections is the lookup order for success flags and signals.
var responseSections = []string{"", "data", "metadata"}

// correlationKeys are the spellings responders use for the id.
var correlationKeys = []string{"correlation_id", "correlationId"}

// ParseResponse decodes a JSON object payload.
func ParseResponse(topic string, payload []byte) (*Response, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding response on %s: %w", ErrProtocol, topic, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: response on %s is not a JSON object", ErrProtocol, topic)
	}
	return &Response{Topic: topic, Payload: payload, Body: body}, nil
}

// section returns the top-level body ("") or a nested object by key.
func (r *Response) section(name string) map[string]any {
	if name == "" {
		return r.Body
	}
	nested, _ := r.Body[name].(map[string]any)
	return nested
}

// Data returns the "data" object, or nil.
func (r *Response) Data() map[string]any {
	return r.section("data")
}

// CorrelationID returns the first correlation id found at the top level,
// under data or under metadata.
func (r *Response) CorrelationID() string {
	for _, name := range responseSections {
		sec := r.section(name)
		for _, key := range correlationKeys {
			if id, ok := sec[key].(string); ok && id != "" {
				return id
			}
		}
	}
	return ""
}

// Success returns the first boolean success flag found and whether one was
// present at all.
func (r *Response) Success() (value bool, found bool) {
	for _, name := range responseSections {
		if v, ok := r.section(name)["success"].(bool); ok {
			return v, true
		}
	}
	return false, false
}

// Signals returns the deduplicated union of the signal lists from all three
// sections, in first-seen order.
func (r *Response) Signals() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range responseSections {
		list, ok := r.section(name)["signals"].([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// HasAnySignal reports whether any of required is present. An empty
// required set is always satisfied.
func (r *Response) HasAnySignal(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool)
	for _, s := range r.Signals() {
		have[s] = true
	}
	for _, s := range required {
		if have[s] {
			return true
		}
	}
	return false
}

// FailureMessage picks the most specific failure text the responder gave:
// data.error, error, data.message, message. fallback is used when none is
// present.
func (r *Response) FailureMessage(fallback string) string {
	data := r.Data()
	candidates := []any{data["error"], r.Body["error"], data["message"], r.Body["message"]}
	for _, c := range candidates {
		if s := messageText(c); s != "" {
			return s
		}
	}
	return fallback
}

// messageText accepts plain strings and {"message": "..."} error objects.
func messageText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["message"].(string); ok {
			return s
		}
	}
	return ""
}

// evaluate applies the success rules: a true success flag and, when
// required signals are given, at least one of them.
func (r *Response) evaluate(required []string) (ok bool, reason string) {
	success, _ := r.Success()
	if !success {
		return false, r.FailureMessage(ReasonSuccessFalse)
	}
	if !r.HasAnySignal(required) {
		return false, r.FailureMessage(ReasonSignalMissing)
	}
	return true, ""
}
