// Package models holds the persisted attestation-layer records. These shapes
// are part of the durable snapshot format; renaming a JSON tag is a breaking
// change to stored data.
package models

import (
	"strings"
	"time"
)

// VerificationStatus values for approval requests.
const (
	StatusRegistryVerified  = "registry_verified"
	StatusNeedsManualReview = "needs_manual_review"
)

// ChainAnchor is the deterministic pseudo-chain anchor: a content hash, a
// synthetic transaction hash derived from a namespaced seed, and the
// anchoring timestamp. It simulates on-chain anchoring without a chain write.
type ChainAnchor struct {
	ContentHash string    `json:"contentHash"`
	TxHash      string    `json:"txHash"`
	AnchoredAt  time.Time `json:"anchoredAt"`
}

// DoctorAttestation is a doctor-filed eligibility attestation. AttestationID
// and ApprovalCode are globally unique in independent namespaces. Signature
// is a detached HMAC over the attestation's canonical fields; mutating any
// signed field without re-signing leaves a stale signature (the wallet
// correction operation does exactly that, deliberately).
type DoctorAttestation struct {
	AttestationID    string      `json:"attestationId"`
	ApprovalCode     string      `json:"approvalCode"`
	DoctorWallet     string      `json:"doctorWallet"`
	PatientWallet    string      `json:"patientWallet"`
	DoctorToken      string      `json:"doctorToken"`
	PatientToken     string      `json:"patientToken"`
	MedicationCode   string      `json:"medicationCode"`
	Schedule         string      `json:"schedule"`
	Quantity         float64     `json:"quantity"`
	PrescriptionHash string      `json:"prescriptionHash"`
	RequestID        string      `json:"requestId,omitempty"`
	IssuedAt         time.Time   `json:"issuedAt"`
	ValidUntil       time.Time   `json:"validUntil"`
	CanPurchase      bool        `json:"canPurchase"`
	Anchor           ChainAnchor `json:"anchor"`
	EncryptedDetails string      `json:"encryptedDetails"`
	Signature        string      `json:"signature"`
}

// Expired reports whether the attestation's validity window has passed.
func (a DoctorAttestation) Expired(now time.Time) bool {
	return !a.ValidUntil.After(now)
}

// VerifiedPatient is a doctor-attested binding between a patient wallet and a
// verified legal identity hash, keyed by the (doctor, patient) wallet pair.
type VerifiedPatient struct {
	DoctorWallet      string    `json:"doctorWallet"`
	PatientWallet     string    `json:"patientWallet"`
	PatientToken      string    `json:"patientToken"`
	LegalIdentityHash string    `json:"legalIdentityHash"`
	SignalRelayID     string    `json:"signalRelayId,omitempty"`
	RegisteredAt      time.Time `json:"registeredAt"`
}

// ApprovalRequest is a patient's self-submitted request for a medication from
// a specific doctor. Immutable after creation; a later attestation filing
// references it without mutating it.
type ApprovalRequest struct {
	RequestID          string    `json:"requestId"`
	DoctorWallet       string    `json:"doctorWallet"`
	PatientWallet      string    `json:"patientWallet"`
	MedicationCode     string    `json:"medicationCode"`
	PatientToken       string    `json:"patientToken"`
	LegalIdentityHash  string    `json:"legalIdentityHash"`
	VerificationStatus string    `json:"verificationStatus"`
	SubmittedAt        time.Time `json:"submittedAt"`
}

// ComplianceRecord is the legacy intake shape kept for attestations created
// before doctor filing existed. The handoff path still resolves it.
type ComplianceRecord struct {
	RecordID           string    `json:"recordId"`
	PatientWallet      string    `json:"patientWallet"`
	PatientToken       string    `json:"patientToken"`
	MedicationCode     string    `json:"medicationCode"`
	Quantity           float64   `json:"quantity"`
	VerificationStatus string    `json:"verificationStatus"`
	ExpiresAt          time.Time `json:"expiresAt"`
	EncryptedDetails   string    `json:"encryptedDetails"`
}

// PairKey builds the registry key for a (doctor, patient) wallet pair.
// Lowercased so wallet case never splits a pair across two keys.
func PairKey(doctorWallet, patientWallet string) string {
	return strings.ToLower(strings.TrimSpace(doctorWallet)) + "|" + strings.ToLower(strings.TrimSpace(patientWallet))
}
