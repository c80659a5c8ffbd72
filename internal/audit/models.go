package audit

import "time"

// Event is one audit record. Kept transport-agnostic so stores and sinks can
// fan out (memory, LevelDB, Kafka).
type Event struct {
	At            time.Time      `json:"at"`
	Type          string         `json:"type"`
	Actor         string         `json:"actor"`
	AttestationID string         `json:"attestationId,omitempty"`
	RequestIPHash string         `json:"requestIpHash,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Event types emitted by the gateway.
const (
	TypeAuthFailure       = "auth_failure"
	TypePatientRegistered = "patient_registered"
	TypeRequestSubmitted  = "approval_request_submitted"
	TypeAttestationFiled  = "attestation_filed"
	TypeConfirmed         = "attestation_confirmed"
	TypeConfirmRejected   = "confirm_rejected"
	TypeHandoffSealed     = "handoff_sealed"
	TypeWalletCorrected   = "wallet_corrected"
)
