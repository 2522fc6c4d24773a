package codegraph

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint is a 256-bit hash over a query's semantic identity, used as
// the cache key by the Query Cache (C4).
type Fingerprint [32]byte

// String renders the fingerprint as a lowercase hex string.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", [32]byte(f))
}

// SearchParams is the normalized input to a fingerprint computation. Paths
// and Langs are sorted internally so that argument order never affects the
// resulting fingerprint.
type SearchParams struct {
	QueryText string
	Paths     []string
	Langs     []string
	Limit     int
}

// ComputeFingerprint derives a deterministic [Fingerprint] from normalized
// search parameters. QueryText is lower-cased and trimmed of surrounding
// whitespace first, so queries that differ only in case or surrounding
// whitespace share a fingerprint. Equal SearchParams (modulo that
// normalization and slice order) always produce the same fingerprint, and
// other differences produce different fingerprints with overwhelming
// probability.
func ComputeFingerprint(p SearchParams) Fingerprint {
	paths := append([]string(nil), p.Paths...)
	langs := append([]string(nil), p.Langs...)
	sort.Strings(paths)
	sort.Strings(langs)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(strings.ToLower(p.QueryText)))
	b.WriteByte('\x00')
	b.WriteString(strings.Join(paths, "\x01"))
	b.WriteByte('\x00')
	b.WriteString(strings.Join(langs, "\x01"))
	b.WriteByte('\x00')
	fmt.Fprintf(&b, "%d", p.Limit)

	return sha256.Sum256([]byte(b.String()))
}
