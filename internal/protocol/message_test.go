package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorAuthMessageDeterministic(t *testing.T) {
	build := func() string {
		return DoctorAuthMessage(
			"doc1qxyz", "0xAbCd000000000000000000000000000000000001",
			"file_attestation", "attestations",
			"1773000000000", "n-123456789012",
		)
	}
	require.Equal(t, build(), build(), "identical input must produce identical bytes")
}

func TestDoctorAuthMessageNormalization(t *testing.T) {
	base := DoctorAuthMessage("doc1qxyz", "0xABCD000000000000000000000000000000000001",
		"file_attestation", "attestations", "1773000000000", "n-123456789012")
	lower := DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000001",
		"file_attestation", "attestations", "1773000000000", "n-123456789012")
	assert.Equal(t, base, lower, "address case must not change the signed bytes")

	spaced := DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000001",
		"file   attestation", "attestations", "1773000000000", "n-123456789012")
	compact := DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000001",
		"file attestation", "attestations", "1773000000000", "n-123456789012")
	assert.Equal(t, compact, spaced, "whitespace runs in free text must compact")
}

func TestDoctorAuthMessageFieldSensitivity(t *testing.T) {
	base := DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000001",
		"file_attestation", "attestations", "1773000000000", "n-123456789012")

	variants := map[string]string{
		"doctor wallet": DoctorAuthMessage("doc1qother", "0xabcd000000000000000000000000000000000001",
			"file_attestation", "attestations", "1773000000000", "n-123456789012"),
		"monad wallet": DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000002",
			"file_attestation", "attestations", "1773000000000", "n-123456789012"),
		"action": DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000001",
			"register_patient", "attestations", "1773000000000", "n-123456789012"),
		"resource": DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000001",
			"file_attestation", "patients", "1773000000000", "n-123456789012"),
		"timestamp": DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000001",
			"file_attestation", "attestations", "1773000000001", "n-123456789012"),
		"nonce": DoctorAuthMessage("doc1qxyz", "0xabcd000000000000000000000000000000000001",
			"file_attestation", "attestations", "1773000000000", "n-999999999999"),
	}
	for field, msg := range variants {
		assert.NotEqual(t, base, msg, "changing %s must change the message", field)
	}
}

func TestMessagesCarryDistinctProtocolTags(t *testing.T) {
	msgs := []string{
		DoctorAuthMessage("d", "0x1", "a", "r", "1", "n"),
		PatientConfirmMessage("0x1", "CODE", "1", "n"),
		PatientWorkspaceMessage("0x1", "0x2", "1", "n"),
		PatientRequestProofMessage("0x1", "d", "med", "HC-12345", "1", "n"),
	}
	seen := map[string]bool{}
	for _, m := range msgs {
		tag := strings.SplitN(m, "\n", 2)[0]
		assert.False(t, seen[tag], "protocol tags must be unique per flow: %s", tag)
		seen[tag] = true
		assert.Equal(t, "version:"+protocolVersion, strings.Split(m, "\n")[1])
	}
}

func TestPatientRequestProofTruncatesHealthCard(t *testing.T) {
	msg := PatientRequestProofMessage("0x1", "doc1q", "amoxicillin_500mg_capsule",
		"HC-987654321", "1773000000000", "n-123456789012")
	assert.NotContains(t, msg, "HC-987654321", "full health card number must never enter the signed bytes")
	assert.Contains(t, msg, "health_card_last4:4321")
}

func TestPatientConfirmMessageUppercasesCode(t *testing.T) {
	a := PatientConfirmMessage("0x1", "apc-abc123", "1", "n")
	b := PatientConfirmMessage("0x1", "APC-ABC123", "1", "n")
	assert.Equal(t, a, b)
}
