package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sealed envelope wire format: base64url(iv).base64url(tag).base64url(ciphertext).
const envelopeSegments = 3

var (
	// ErrMalformedPayload reports an envelope that does not have exactly three
	// non-empty segments. Indicates corruption or tampering, so it surfaces as
	// an error rather than a typed rejection.
	ErrMalformedPayload = errors.New("malformed sealed payload")
)

// sealKey derives the AES-256 key from an arbitrary-length secret with a
// single SHA-256. No iterated KDF is applied; the secret must carry its own
// entropy (startup warns on short secrets).
func sealKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// EncryptJSON seals v under AES-256-GCM keyed by secret.
func EncryptJSON(v any, secret string) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	block, err := aes.NewCipher(sealKey(secret))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	// gcm.Seal appends the tag to the ciphertext; the wire format carries the
	// tag as its own segment.
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	enc := base64.RawURLEncoding
	return strings.Join([]string{
		enc.EncodeToString(iv),
		enc.EncodeToString(tag),
		enc.EncodeToString(ciphertext),
	}, "."), nil
}

// DecryptJSON opens a sealed envelope into out. Fails with an error on any
// malformed segment or authentication-tag mismatch; there is no silent
// fallback.
func DecryptJSON(payload, secret string, out any) error {
	parts := strings.Split(payload, ".")
	if len(parts) != envelopeSegments {
		return ErrMalformedPayload
	}
	for _, p := range parts {
		if p == "" {
			return ErrMalformedPayload
		}
	}

	enc := base64.RawURLEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil {
		return ErrMalformedPayload
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return ErrMalformedPayload
	}
	ciphertext, err := enc.DecodeString(parts[2])
	if err != nil {
		return ErrMalformedPayload
	}

	block, err := aes.NewCipher(sealKey(secret))
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	if len(iv) != gcm.NonceSize() {
		return ErrMalformedPayload
	}

	plaintext, err := gcm.Open(nil, iv, append(append([]byte{}, ciphertext...), tag...), nil)
	if err != nil {
		return fmt.Errorf("open sealed payload: %w", err)
	}
	return json.Unmarshal(plaintext, out)
}

// SignPayload produces a hex HMAC-SHA256 tag over the canonical serialization
// of v. Signing goes through canonicalJSON so field order cannot drift between
// writer and verifier.
func SignPayload(v any, secret string) (string, error) {
	canon, err := canonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canon)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks a SignPayload tag in constant time. Truncated,
// padded, or non-hex signatures return false without error.
func VerifySignature(v any, signature, secret string) bool {
	expected, err := SignPayload(v, secret)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}

// canonicalJSON serializes v with lexicographically sorted object keys at
// every level. encoding/json already sorts map keys; structs are normalized
// by round-tripping through a map so the signed bytes do not depend on field
// declaration order.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
