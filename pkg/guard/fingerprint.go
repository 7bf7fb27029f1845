package guard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// fingerprintTextCap bounds how much text feeds the hash so a
// pathological multi-megabyte input cannot turn fingerprinting into
// the expensive step it exists to avoid.
const fingerprintTextCap = 2048

// Fingerprint is a stable cache key derived from request text plus the
// cache-relevant subset of its context.
type Fingerprint string

// Fingerprinter derives deterministic fingerprints. Only the context
// keys listed in relevantKeys participate; differing irrelevant context
// must not change the fingerprint.
type Fingerprinter struct {
	relevantKeys []string
}

// NewFingerprinter creates a fingerprinter that treats the given
// context keys as cache-relevant. Keys are copied and sorted so the
// serialization order is stable regardless of caller order.
func NewFingerprinter(relevantKeys ...string) *Fingerprinter {
	keys := make([]string, len(relevantKeys))
	copy(keys, relevantKeys)
	sort.Strings(keys)
	return &Fingerprinter{relevantKeys: keys}
}

// Fingerprint computes the cache key for a request. Pure and
// deterministic: no side effects, no failure mode.
func (f *Fingerprinter) Fingerprint(req DetectionRequest) Fingerprint {
	text := normalizeForHash(req.Text)
	if len(text) > fingerprintTextCap {
		text = text[:fingerprintTextCap]
	}

	h := xxhash.New()
	_, _ = h.WriteString(text)
	for _, k := range f.relevantKeys {
		if v, ok := req.Context[k]; ok {
			_, _ = h.WriteString("||")
			_, _ = h.WriteString(k)
			_, _ = h.WriteString("=")
			_, _ = h.WriteString(v)
		}
	}

	return Fingerprint(fmt.Sprintf("%016x", h.Sum64()))
}

// normalizeForHash applies NFKC (so stylistic Unicode variants of the
// same text collide) and collapses whitespace runs to a single space.
func normalizeForHash(text string) string {
	text = norm.NFKC.String(text)
	return strings.Join(strings.Fields(text), " ")
}
