package attestation

import (
	"context"
	"errors"
	"strings"
	"time"

	"rxgateway/internal/attestation/models"
	"rxgateway/internal/privacy"
	derrors "rxgateway/pkg/domain-errors"
	"rxgateway/pkg/platform/sentinel"
)

// Handoff statuses. An expired attestation still hands off; the pharmacy
// decides what to do with it.
const (
	HandoffValidated = "validated"
	HandoffExpired   = "expired"
)

// HandoffResult is the sealed envelope a pharmacy partner receives. Clinical
// content lives only inside SealedPayload; nothing here is readable without
// the transport secret.
type HandoffResult struct {
	AttestationID      string `json:"attestationId"`
	Status             string `json:"status"`
	SealedPayload      string `json:"sealedPayload"`
	TransportSignature string `json:"transportSignature"`
}

// handoffEnvelope is the plaintext structure inside the seal: the clinical
// payload plus a detached signature over it, so the receiving pharmacy can
// check integrity after decryption independently of the outer transport
// signature.
type handoffEnvelope struct {
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature"`
}

// PharmacyHandoff resolves an attestation ID (doctor-filed first, then the
// legacy intake collection), reopens the prescriber side channel, and seals
// the full clinical payload for the requesting pharmacy. Decryption failures
// on stored records are integrity faults, not caller errors.
func (s *Service) PharmacyHandoff(_ context.Context, attestationID string) (HandoffResult, error) {
	variant, err := s.store.FindAttestationVariant(strings.TrimSpace(attestationID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return HandoffResult{}, derrors.New(derrors.CodeNotFound, "attestation not found")
	}
	if err != nil {
		return HandoffResult{}, err
	}

	now := s.now()
	var (
		id      string
		status  string
		payload map[string]any
	)
	switch {
	case variant.DoctorFiled != nil:
		id = variant.DoctorFiled.AttestationID
		status, payload, err = s.doctorFiledPayload(*variant.DoctorFiled, now)
	case variant.Intake != nil:
		id = variant.Intake.RecordID
		status, payload, err = s.intakePayload(*variant.Intake, now)
	default:
		return HandoffResult{}, derrors.New(derrors.CodeInternal, "attestation record is empty")
	}
	if err != nil {
		return HandoffResult{}, err
	}

	innerSig, err := privacy.SignPayload(payload, s.secrets.Signing)
	if err != nil {
		return HandoffResult{}, derrors.Wrap(err, derrors.CodeInternal, "sign handoff payload")
	}
	sealed, err := privacy.EncryptJSON(handoffEnvelope{Payload: payload, Signature: innerSig}, s.secrets.Transport)
	if err != nil {
		return HandoffResult{}, derrors.Wrap(err, derrors.CodeInternal, "seal handoff payload")
	}
	transportSig, err := privacy.SignPayload(map[string]any{
		"attestationId": id,
		"sealedPayload": sealed,
	}, s.secrets.Transport)
	if err != nil {
		return HandoffResult{}, derrors.Wrap(err, derrors.CodeInternal, "sign handoff envelope")
	}

	if s.metrics != nil {
		s.metrics.HandoffsSealed.Inc()
	}
	s.logger.Info("handoff sealed", "attestation_id", id, "status", status)
	return HandoffResult{
		AttestationID:      id,
		Status:             status,
		SealedPayload:      sealed,
		TransportSignature: transportSig,
	}, nil
}

func (s *Service) doctorFiledPayload(att models.DoctorAttestation, now time.Time) (string, map[string]any, error) {
	var side struct {
		NPI            string  `json:"npi"`
		DEA            string  `json:"dea"`
		MedicationCode string  `json:"medicationCode"`
		Schedule       string  `json:"schedule"`
		Quantity       float64 `json:"quantity"`
		RequestID      string  `json:"requestId"`
	}
	if err := privacy.DecryptJSON(att.EncryptedDetails, s.secrets.PII, &side); err != nil {
		return "", nil, derrors.Wrap(err, derrors.CodeInternal, "open prescriber side channel")
	}

	status := HandoffValidated
	if att.Expired(now) {
		status = HandoffExpired
	}
	patientVerification := "unverified"
	if _, err := s.store.GetVerifiedPatient(att.DoctorWallet, att.PatientWallet); err == nil {
		patientVerification = models.StatusRegistryVerified
	}

	return status, map[string]any{
		"attestationId":       att.AttestationID,
		"source":              "doctor_filed",
		"status":              status,
		"doctorWallet":        strings.ToLower(att.DoctorWallet),
		"patientWallet":       strings.ToLower(att.PatientWallet),
		"doctorVerification":  "wallet_authenticated",
		"patientVerification": patientVerification,
		"medicationCode":      att.MedicationCode,
		"schedule":            att.Schedule,
		"quantity":            att.Quantity,
		"prescriptionHash":    att.PrescriptionHash,
		"npi":                 side.NPI,
		"dea":                 side.DEA,
		"issuedAtMs":          att.IssuedAt.UnixMilli(),
		"validUntilMs":        att.ValidUntil.UnixMilli(),
		"contentHash":         att.Anchor.ContentHash,
		"txHash":              att.Anchor.TxHash,
	}, nil
}

func (s *Service) intakePayload(rec models.ComplianceRecord, now time.Time) (string, map[string]any, error) {
	var side map[string]any
	if rec.EncryptedDetails != "" {
		if err := privacy.DecryptJSON(rec.EncryptedDetails, s.secrets.PII, &side); err != nil {
			return "", nil, derrors.Wrap(err, derrors.CodeInternal, "open intake side channel")
		}
	}

	status := HandoffValidated
	if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
		status = HandoffExpired
	}
	return status, map[string]any{
		"attestationId":       rec.RecordID,
		"source":              "intake",
		"status":              status,
		"patientWallet":       strings.ToLower(rec.PatientWallet),
		"patientVerification": rec.VerificationStatus,
		"medicationCode":      rec.MedicationCode,
		"quantity":            rec.Quantity,
		"expiresAtMs":         rec.ExpiresAt.UnixMilli(),
		"details":             side,
	}, nil
}

// OpenHandoff is the receiving side of PharmacyHandoff: it verifies the
// transport signature, decrypts the seal, and verifies the inner signature.
// Pharmacy integrations and tests use it; the server itself never calls it.
func OpenHandoff(res HandoffResult, signingSecret, transportSecret string) (map[string]any, error) {
	ok := privacy.VerifySignature(map[string]any{
		"attestationId": res.AttestationID,
		"sealedPayload": res.SealedPayload,
	}, res.TransportSignature, transportSecret)
	if !ok {
		return nil, derrors.New(derrors.CodeUnauthorized, "transport signature mismatch")
	}
	var env handoffEnvelope
	if err := privacy.DecryptJSON(res.SealedPayload, transportSecret, &env); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeUnauthorized, "open sealed payload")
	}
	if !privacy.VerifySignature(env.Payload, env.Signature, signingSecret) {
		return nil, derrors.New(derrors.CodeUnauthorized, "payload signature mismatch")
	}
	return env.Payload, nil
}
