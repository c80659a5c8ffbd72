// Package protocol implements the wallet-proof wire protocol: canonical
// message construction and role-specific signature verification.
//
// The canonical message formats are a wire contract shared with wallet
// clients. Field order, normalization, and the protocol/version header lines
// must stay byte-for-byte stable or every previously issued signature stops
// verifying.
package protocol

import (
	"strings"
)

const protocolVersion = "1"

// Protocol tags. Each role/action signs under a distinct tag so a signature
// captured for one flow can never be replayed into another.
const (
	tagDoctorAuth          = "PROTOCOL_DOCTOR_AUTH"
	tagPatientConfirm      = "PROTOCOL_PATIENT_CONFIRM"
	tagPatientWorkspace    = "PROTOCOL_PATIENT_WORKSPACE"
	tagPatientRequestProof = "PROTOCOL_PATIENT_REQUEST_PROOF"
)

// DoctorAuthMessage binds a doctor action to a resource, timestamp, and nonce.
// Every authorization-relevant field appears in the message; omitting any one
// would permit a forged-context replay.
func DoctorAuthMessage(doctorWallet, monadWallet, action, resource, requestTs, requestNonce string) string {
	return joinLines(
		tagDoctorAuth,
		"version:"+protocolVersion,
		"doctor_wallet:"+normalizeAddress(doctorWallet),
		"wallet:"+normalizeAddress(monadWallet),
		"action:"+compactWhitespace(action),
		"resource:"+compactWhitespace(resource),
		"timestamp:"+strings.TrimSpace(requestTs),
		"nonce:"+strings.TrimSpace(requestNonce),
	)
}

// PatientConfirmMessage binds a redemption to its approval code. Approval
// codes are case-insensitive on entry; they are uppercased here so the same
// code always produces the same signed bytes.
func PatientConfirmMessage(monadWallet, approvalCode, requestTs, requestNonce string) string {
	return joinLines(
		tagPatientConfirm,
		"version:"+protocolVersion,
		"wallet:"+normalizeAddress(monadWallet),
		"action:confirm_approval",
		"approval_code:"+strings.ToUpper(strings.TrimSpace(approvalCode)),
		"timestamp:"+strings.TrimSpace(requestTs),
		"nonce:"+strings.TrimSpace(requestNonce),
	)
}

// PatientWorkspaceMessage authorizes reading the approvals of patientWallet.
// The signer and the patient wallet are distinct fields on purpose: the
// verifier additionally requires them to match, and binding both into the
// message keeps the mismatch check itself replay-proof.
func PatientWorkspaceMessage(monadWallet, patientWallet, requestTs, requestNonce string) string {
	return joinLines(
		tagPatientWorkspace,
		"version:"+protocolVersion,
		"wallet:"+normalizeAddress(monadWallet),
		"action:read_approvals",
		"patient_wallet:"+normalizeAddress(patientWallet),
		"timestamp:"+strings.TrimSpace(requestTs),
		"nonce:"+strings.TrimSpace(requestNonce),
	)
}

// PatientRequestProofMessage binds a patient's approval request to the target
// doctor, the medication, and the patient's health card. Only the last four
// characters of the health card number enter the message, so the signed bytes
// commit to the card without carrying recoverable PII.
func PatientRequestProofMessage(monadWallet, doctorWallet, medicationCode, healthCardNumber, requestTs, requestNonce string) string {
	return joinLines(
		tagPatientRequestProof,
		"version:"+protocolVersion,
		"wallet:"+normalizeAddress(monadWallet),
		"action:request_approval",
		"doctor_wallet:"+normalizeAddress(doctorWallet),
		"medication:"+strings.ToLower(compactWhitespace(medicationCode)),
		"health_card_last4:"+lastN(strings.TrimSpace(healthCardNumber), 4),
		"timestamp:"+strings.TrimSpace(requestTs),
		"nonce:"+strings.TrimSpace(requestNonce),
	)
}

func joinLines(lines ...string) string {
	return strings.Join(lines, "\n")
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// compactWhitespace collapses runs of whitespace to single spaces so free-text
// fields survive client-side reformatting without changing the signed bytes.
func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
