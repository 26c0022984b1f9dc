// Package discovery accumulates nearby battery packs from radio scans and
// resolves a scanned code to one of them.
//
// The Scanner keeps a session-long device list keyed by MAC address. It is
// only cleared by an explicit Reset, so devices merge in as they re-advertise
// and a failed match never loses what was already seen.
//
// A pack is identified by the last six characters of its advertised name,
// which are printed on the pack's label code:
//
//	discovery.MatchesDevice("QR-abc123XYZ987", "OVES-xyz987") // true
//
// The Matcher polls the device list on a fixed schedule until the
// fingerprint shows up or the attempt budget is spent.
package discovery
