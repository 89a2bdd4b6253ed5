package quote

import (
	"strconv"
	"strings"
)

// GeneratedIDPrefix marks identifiers derived from record content rather
// than assigned by the backend.
const GeneratedIDPrefix = "gen-"

var placeholderIDs = map[string]struct{}{
	"":          {},
	"undefined": {},
	"null":      {},
}

// IsPlaceholderID reports whether raw cannot be trusted as an identifier.
func IsPlaceholderID(raw string) bool {
	_, ok := placeholderIDs[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// EnsureID returns rawID unchanged when it is usable, otherwise a
// deterministic identifier derived from the content triple. IDs that were
// assigned once are never regenerated, so identities stay stable across
// syncs.
func EnsureID(rawID, customerName, date, quoteNumber string) string {
	trimmed := strings.TrimSpace(rawID)
	if !IsPlaceholderID(trimmed) {
		return trimmed
	}
	return GeneratedIDPrefix + contentHash(customerName, date, quoteNumber)
}

// contentHash is a 32-bit rolling hash over "name|date|number" with
// lower-cased inputs, rendered in base 36. Overflow wraps, matching the
// historical behavior the stored identifiers were generated with.
func contentHash(customerName, date, quoteNumber string) string {
	seed := strings.ToLower(strings.TrimSpace(customerName)) + "|" +
		strings.TrimSpace(date) + "|" +
		strings.ToLower(strings.TrimSpace(quoteNumber))
	var h int32
	for _, b := range []byte(seed) {
		h = h*31 + int32(b)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

// Fingerprint is the ledger identity substitute for records without a
// reliable identifier: date, customer name and quote number joined with
// underscores, each normalized.
func Fingerprint(date, customerName, quoteNumber string) string {
	return normalizeKey(date) + "_" + normalizeKey(customerName) + "_" + normalizeKey(quoteNumber)
}

// normalizeKey lower-cases, trims, and collapses internal whitespace runs
// to single spaces. Idempotent.
func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
