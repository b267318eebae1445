package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests. The version suffix enables future
// algorithm migration without colliding with old digests.
const (
	DomainFlags   = "menusync/flags/v1"
	DomainRuleset = "menusync/ruleset/v1"
)

// ShortLen is the number of hex characters kept by ShortDigest.
const ShortLen = 12

// Digest computes SHA-256 over domain + 0x00 + MarshalCanonical(v) and
// returns the full hex encoding. The null separator prevents domain/data
// boundary ambiguity.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}

	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ShortDigest is Digest truncated to the first ShortLen hex characters.
// Used where the digest appears in artifact keys and log lines.
func ShortDigest(domain string, v any) (string, error) {
	full, err := Digest(domain, v)
	if err != nil {
		return "", err
	}
	return full[:ShortLen], nil
}

// MustShortDigest is ShortDigest but panics on error. Use only when the
// input is known to be canonical-safe (e.g. map[string]any of bools).
func MustShortDigest(domain string, v any) string {
	d, err := ShortDigest(domain, v)
	if err != nil {
		panic(err)
	}
	return d
}
