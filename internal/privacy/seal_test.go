package privacy

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handoffFixture struct {
	AttestationID string   `json:"attestationId"`
	Medication    string   `json:"medication"`
	Quantity      int      `json:"quantity"`
	Tags          []string `json:"tags"`
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	in := handoffFixture{
		AttestationID: "att-123",
		Medication:    "amoxicillin_500mg_capsule",
		Quantity:      30,
		Tags:          []string{"registry_verified"},
	}
	sealed, err := EncryptJSON(in, "transport-secret")
	require.NoError(t, err)
	assert.Len(t, strings.Split(sealed, "."), 3)

	var out handoffFixture
	require.NoError(t, DecryptJSON(sealed, "transport-secret", &out))
	assert.Equal(t, in, out)
}

func TestDecryptWrongSecretFails(t *testing.T) {
	sealed, err := EncryptJSON(map[string]string{"k": "v"}, "secret-a")
	require.NoError(t, err)

	var out map[string]string
	assert.Error(t, DecryptJSON(sealed, "secret-b", &out))
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	sealed, err := EncryptJSON(map[string]string{"k": "v"}, "secret-a")
	require.NoError(t, err)

	parts := strings.Split(sealed, ".")
	ct, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	ct[0] ^= 0x01
	parts[2] = base64.RawURLEncoding.EncodeToString(ct)

	var out map[string]string
	assert.Error(t, DecryptJSON(strings.Join(parts, "."), "secret-a", &out))
}

func TestDecryptMalformedPayload(t *testing.T) {
	var out map[string]string
	for _, payload := range []string{
		"",
		"onlyone",
		"two.segments",
		"..",
		"a..c",
		"four.seg.men.ts",
		"!!!.###.$$$",
	} {
		err := DecryptJSON(payload, "secret-a", &out)
		assert.ErrorIs(t, err, ErrMalformedPayload, "payload %q", payload)
	}
}

func TestEncryptProducesFreshIV(t *testing.T) {
	a, err := EncryptJSON("same value", "secret-a")
	require.NoError(t, err)
	b, err := EncryptJSON("same value", "secret-a")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "a random IV must make identical plaintexts seal differently")
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := handoffFixture{AttestationID: "att-123", Medication: "med", Quantity: 1}

	sig, err := SignPayload(payload, "signing-secret")
	require.NoError(t, err)
	assert.True(t, VerifySignature(payload, sig, "signing-secret"))
	assert.False(t, VerifySignature(payload, sig, "other-secret"))
}

func TestVerifySignatureMalformedInputs(t *testing.T) {
	payload := map[string]int{"n": 1}
	sig, err := SignPayload(payload, "signing-secret")
	require.NoError(t, err)

	assert.False(t, VerifySignature(payload, sig[:10], "signing-secret"), "truncated")
	assert.False(t, VerifySignature(payload, sig+"00", "signing-secret"), "padded")
	assert.False(t, VerifySignature(payload, "zz"+sig[2:], "signing-secret"), "non-hex")
	assert.False(t, VerifySignature(payload, "", "signing-secret"), "empty")
}

func TestSignPayloadIgnoresMapOrder(t *testing.T) {
	// Two logically equal payloads built in different key orders must sign
	// identically; the canonical serialization sorts keys.
	a := map[string]any{"b": 2, "a": 1, "nested": map[string]any{"y": 2, "x": 1}}
	b := map[string]any{"nested": map[string]any{"x": 1, "y": 2}, "a": 1, "b": 2}

	sa, err := SignPayload(a, "signing-secret")
	require.NoError(t, err)
	sb, err := SignPayload(b, "signing-secret")
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}
