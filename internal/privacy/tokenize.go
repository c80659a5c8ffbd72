// Package privacy holds the PII-protection primitives: one-way tokenization,
// legal-identity hashing, authenticated encryption, and HMAC payload signing.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Tokenize derives a one-way opaque token from a sensitive value. The result
// is a truncated keyed digest: deterministic for the same (value, secret,
// prefix), not reversible even with the secret.
func Tokenize(value, secret, prefix string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(value))
	digest := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s_%s", prefix, digest[:24])
}

// LegalIdentityHash derives a deterministic digest of a patient's legal
// identity. It is deliberately unkeyed: two independent registration events
// for the same person must hash identically so later requests can be matched
// against the registry without storing the PII itself.
func LegalIdentityHash(legalName, dobISO, state, healthCardNumber string) string {
	joined := strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(legalName)),
		strings.TrimSpace(dobISO),
		strings.ToUpper(strings.TrimSpace(state)),
		strings.ToUpper(stripWhitespace(healthCardNumber)),
	}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
