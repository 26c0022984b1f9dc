package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// responseFamilies are the broad response topic families treated as
// interchangeable by wildcard subscriptions.
var responseFamilies = []string{"echo/", "rtrn/"}

// TopicMatches reports whether topic satisfies a response pattern.
//
// A pattern containing an MQTT wildcard ('#' or '+') matches by prefix:
// everything from the first wildcard on is stripped. When the pattern lives
// in one of the echo/rtrn families, a topic from either family is accepted,
// because responders answer on both. A pattern without wildcards must equal
// the topic.
func TopicMatches(pattern, topic string) bool {
	cut := strings.IndexAny(pattern, "#+")
	if cut < 0 {
		return pattern == topic
	}

	prefix := pattern[:cut]
	if strings.HasPrefix(topic, prefix) {
		return true
	}
	return inFamily(prefix) && inFamily(topic)
}

// IsWildcard reports whether a topic pattern contains an MQTT wildcard.
func IsWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "#+")
}

func inFamily(s string) bool {
	for _, f := range responseFamilies {
		if strings.HasPrefix(s, f) {
			return true
		}
	}
	return false
}

// CorrelationIDsCompatible is the compatibility matcher for correlation ids.
//
// Two ids are compatible when they are equal, when either is a prefix of the
// other, or when either contains the other. This tolerates responders that
// decorate ids ("abc" → "abc_v2") but lets similar ids cross-match: "att-pay-1"
// is compatible with "att-pay-10". Empty ids never match.
func CorrelationIDsCompatible(stored, received string) bool {
	if stored == "" || received == "" {
		return false
	}
	if stored == received {
		return true
	}
	if strings.HasPrefix(stored, received) || strings.HasPrefix(received, stored) {
		return true
	}
	return strings.Contains(stored, received) || strings.Contains(received, stored)
}

// NewCorrelationID returns "prefix-<unix millis>-<random>".
func NewCorrelationID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}
