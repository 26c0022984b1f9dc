package broker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"echo/x/plan/P1/validate_payment_status", "echo/x/plan/P1/validate_payment_status", true},
		{"echo/x/plan/P1/validate_payment_status", "echo/x/plan/P1/validate_payment", false},
		{"echo/x/plan/P1/#", "echo/x/plan/P1/identify_customer", true},
		{"echo/+/kiosk/plan/P1/#", "echo/attendant/kiosk/plan/P1/a", true},
		{"echo/#", "rtrn/attendant/kiosk/plan/P1/identify_customer", true},
		{"rtrn/#", "echo/x", true},
		{"echo/x/plan/P1/#", "rtrn/y/plan/P9/other", true},
		{"emit/station/#", "echo/x", false},
		{"call/#", "call/x/plan/P1/a", true},
		{"call/#", "echo/x", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s~%s", tt.pattern, tt.topic), func(t *testing.T) {
			if got := TopicMatches(tt.pattern, tt.topic); got != tt.want {
				t.Errorf("TopicMatches(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}

func TestCorrelationIDsCompatible(t *testing.T) {
	tests := []struct {
		name     string
		stored   string
		received string
		want     bool
	}{
		{"equal", "att-pay-1", "att-pay-1", true},
		{"decorated suffix", "att-pay-1", "att-pay-1_v2", true},
		{"received is prefix", "att-pay-1_v2", "att-pay-1", true},
		{"contained", "att-pay-1", "resp:att-pay-1:ok", true},
		{"unrelated", "att-pay-1", "att-id-7", false},
		{"empty stored", "", "att-pay-1", false},
		{"empty received", "att-pay-1", "", false},
		// Loose matching cross-matches similar ids.
		{"ambiguous neighbour", "att-pay-1", "att-pay-10", true},
		{"suffix is not ambiguous the other way", "att-pay-10", "att-pay-1_suffix", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CorrelationIDsCompatible(tt.stored, tt.received); got != tt.want {
				t.Errorf("CorrelationIDsCompatible(%q, %q) = %v, want %v", tt.stored, tt.received, got, tt.want)
			}
		})
	}
}

func TestNewCorrelationID(t *testing.T) {
	a := NewCorrelationID("att-pay")
	b := NewCorrelationID("att-pay")

	if a == b {
		t.Errorf("NewCorrelationID returned duplicate %q", a)
	}
	parts := strings.Split(a, "-")
	if len(parts) != 4 || parts[0] != "att" || parts[1] != "pay" {
		t.Fatalf("NewCorrelationID() = %q, want att-pay-<millis>-<random>", a)
	}
	if len(parts[3]) != 12 {
		t.Errorf("random suffix %q has length %d, want 12", parts[3], len(parts[3]))
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("mqtt: client not connected"), true},
		{fmt.Errorf("publish: %w", errors.New("Not Connected")), true},
		{errors.New("connection DISCONNECTED by peer"), true},
		{errors.New("not authorized"), false},
		{errors.New("invalid topic"), false},
	}

	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsWildcard(t *testing.T) {
	if !IsWildcard("echo/#") || !IsWildcard("echo/+/x") {
		t.Error("IsWildcard should detect # and +")
	}
	if IsWildcard("echo/x/plan/P1/a") {
		t.Error("IsWildcard reported an exact topic as wildcard")
	}
}

// Two calls in flight with ids "att-pay-1" and "att-pay-10": the stored
// "att-pay-1" accepts both the decorated answer meant for it and the answer
// meant for "att-pay-10". Loose matching keeps this hazard; Broker logs it.
func TestCorrelationIDsCompatible_SimilarPrefixHazard(t *testing.T) {
	stored := []string{"att-pay-1", "att-pay-10"}

	matchesFor := func(received string) []string {
		var out []string
		for _, id := range stored {
			if CorrelationIDsCompatible(id, received) {
				out = append(out, id)
			}
		}
		return out
	}

	if got := matchesFor("att-pay-1_suffix"); len(got) != 1 || got[0] != "att-pay-1" {
		t.Errorf("att-pay-1_suffix matched %v, want only att-pay-1", got)
	}
	if got := matchesFor("att-pay-10"); len(got) != 2 {
		t.Errorf("att-pay-10 matched %v, want both ids (ambiguous)", got)
	}
	if !strings.HasPrefix("att-pay-1_suffix", "att-pay-1") || !strings.HasPrefix("att-pay-10", "att-pay-1") {
		t.Error("both responses share the att-pay-1 prefix")
	}
}
