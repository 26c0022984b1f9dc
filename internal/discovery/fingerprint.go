package discovery

import "strings"

// FingerprintLength is the number of trailing characters compared.
const FingerprintLength = 6

// Fingerprint returns the upper-cased last six characters of s, or all of
// s when it is shorter.
func Fingerprint(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > FingerprintLength {
		r = r[len(r)-FingerprintLength:]
	}
	return strings.ToUpper(string(r))
}

// MatchesDevice reports whether a scanned code and a device name share a
// fingerprint.
func MatchesDevice(code, name string) bool {
	fp := Fingerprint(code)
	return fp != "" && fp == Fingerprint(name)
}
