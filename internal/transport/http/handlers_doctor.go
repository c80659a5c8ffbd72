package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"rxgateway/internal/attestation"
	"rxgateway/internal/audit"
	"rxgateway/internal/platform/middleware"
	"rxgateway/internal/policy"
	"rxgateway/internal/protocol"
)

// DoctorHandler serves the doctor-facing routes. Every route is gated by a
// doctor wallet proof; the recovered signer becomes the acting doctor wallet
// regardless of any claimed header.
type DoctorHandler struct {
	deps Deps
}

// Register mounts the doctor routes.
func (h *DoctorHandler) Register(r chi.Router) {
	r.Use(middleware.ContentTypeJSON)
	r.Post("/patients", h.registerPatient)
	r.Post("/attestations", h.fileAttestation)
	r.Post("/attestations/wallet-correction", h.correctWallet)
	r.Get("/requests", h.listRequests)
}

// verifyDoctor runs the doctor wallet proof for a route. The acting doctor
// wallet is always the recovered signer; no header can claim a different
// identity.
func (h *DoctorHandler) verifyDoctor(w http.ResponseWriter, r *http.Request, action, resource string) (doctorWallet string, ok bool) {
	if issues := proofShapeIssues(r); len(issues) > 0 {
		h.deps.writeAuthFailure(w, r, "doctor", protocol.ReasonVerificationFailed)
		return "", false
	}
	monad := r.Header.Get(headerWalletAddress)
	res := h.deps.Authenticator.VerifyDoctorAuth(r.Context(), protocol.DoctorAuthInput{
		DoctorWallet: monad,
		MonadWallet:  monad,
		Action:       action,
		Resource:     resource,
		RequestTs:    r.Header.Get(headerRequestTs),
		RequestNonce: r.Header.Get(headerRequestNonce),
		Signature:    r.Header.Get(headerWalletSignature),
	})
	if !res.OK {
		h.deps.writeAuthFailure(w, r, "doctor", res.Reason)
		return "", false
	}
	return res.Signer, true
}

type registerPatientRequest struct {
	LegalName        string `json:"legalName"`
	DOB              string `json:"dob"`
	State            string `json:"state"`
	HealthCardNumber string `json:"healthCardNumber"`
	PatientWallet    string `json:"patientWallet"`
	SignalRelayID    string `json:"signalRelayId"`
}

func (h *DoctorHandler) registerPatient(w http.ResponseWriter, r *http.Request) {
	doctorWallet, ok := h.verifyDoctor(w, r, "register_patient", "/doctor/patients")
	if !ok {
		return
	}
	var req registerPatientRequest
	if !readBody(w, r, policy.ShapeRegisterPatient, &req) {
		return
	}

	res, err := h.deps.Service.RegisterPatient(r.Context(), attestation.RegisterPatientInput{
		DoctorWallet: doctorWallet,
		Identity: policy.LegalIdentity{
			LegalName:        req.LegalName,
			DOBISO:           req.DOB,
			State:            req.State,
			HealthCardNumber: req.HealthCardNumber,
			PatientWallet:    req.PatientWallet,
		},
		SignalRelayID: req.SignalRelayID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.OK {
		writeIssues(w, res.Issues)
		return
	}

	h.deps.Audit.Emit(audit.Event{
		Type:  audit.TypePatientRegistered,
		Actor: strings.ToLower(doctorWallet),
		Details: map[string]any{
			"patientToken": res.Record.PatientToken,
		},
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"patientToken":  res.Record.PatientToken,
		"patientWallet": res.Record.PatientWallet,
		"registeredAt":  res.Record.RegisteredAt,
	})
}

type fileAttestationRequest struct {
	RequestID      string  `json:"requestId"`
	PatientWallet  string  `json:"patientWallet"`
	MedicationCode string  `json:"medicationCode"`
	Schedule       string  `json:"schedule"`
	Quantity       float64 `json:"quantity"`
	NPI            string  `json:"npi"`
	DEA            string  `json:"dea"`
	ValidUntilISO  string  `json:"validUntilIso"`
	CanPurchase    bool    `json:"canPurchase"`
}

func (h *DoctorHandler) fileAttestation(w http.ResponseWriter, r *http.Request) {
	doctorWallet, ok := h.verifyDoctor(w, r, "file_attestation", "/doctor/attestations")
	if !ok {
		return
	}
	var req fileAttestationRequest
	if !readBody(w, r, policy.ShapeFileAttestation, &req) {
		return
	}

	res, err := h.deps.Service.FileAttestation(r.Context(), attestation.FileInput{
		DoctorWallet:   doctorWallet,
		RequestID:      req.RequestID,
		PatientWallet:  req.PatientWallet,
		MedicationCode: req.MedicationCode,
		Schedule:       req.Schedule,
		Quantity:       req.Quantity,
		NPI:            req.NPI,
		DEA:            req.DEA,
		ValidUntilISO:  req.ValidUntilISO,
		CanPurchase:    req.CanPurchase,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.OK {
		writeIssues(w, res.Issues)
		return
	}

	att := res.Attestation
	h.deps.Audit.Emit(audit.Event{
		Type:          audit.TypeAttestationFiled,
		Actor:         strings.ToLower(doctorWallet),
		AttestationID: att.AttestationID,
		Details: map[string]any{
			"medicationCode": att.MedicationCode,
			"patientToken":   att.PatientToken,
		},
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"attestationId": att.AttestationID,
		"approvalCode":  att.ApprovalCode,
		"issuedAt":      att.IssuedAt,
		"validUntil":    att.ValidUntil,
		"anchor":        att.Anchor,
	})
}

type walletCorrectionRequest struct {
	OldPatientWallet string `json:"oldPatientWallet"`
	NewPatientWallet string `json:"newPatientWallet"`
}

func (h *DoctorHandler) correctWallet(w http.ResponseWriter, r *http.Request) {
	doctorWallet, ok := h.verifyDoctor(w, r, "wallet_correction", "/doctor/attestations/wallet-correction")
	if !ok {
		return
	}
	var req walletCorrectionRequest
	if !readBody(w, r, policy.ShapeWalletCorrection, &req) {
		return
	}

	res, err := h.deps.Service.CorrectPatientWallet(r.Context(), attestation.CorrectionInput{
		DoctorWallet:     doctorWallet,
		OldPatientWallet: req.OldPatientWallet,
		NewPatientWallet: req.NewPatientWallet,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.OK {
		writeIssues(w, res.Issues)
		return
	}

	h.deps.Audit.Emit(audit.Event{
		Type:  audit.TypeWalletCorrected,
		Actor: strings.ToLower(doctorWallet),
		Details: map[string]any{
			"attestationsTouched": res.AttestationsTouched,
		},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"patientWallet":       res.Record.PatientWallet,
		"attestationsTouched": res.AttestationsTouched,
	})
}

func (h *DoctorHandler) listRequests(w http.ResponseWriter, r *http.Request) {
	doctorWallet, ok := h.verifyDoctor(w, r, "list_requests", "/doctor/requests")
	if !ok {
		return
	}
	reqs := h.deps.Service.ListPendingRequests(r.Context(), doctorWallet)
	out := make([]map[string]any, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, map[string]any{
			"requestId":          req.RequestID,
			"patientWallet":      req.PatientWallet,
			"patientToken":       req.PatientToken,
			"medicationCode":     req.MedicationCode,
			"verificationStatus": req.VerificationStatus,
			"submittedAt":        req.SubmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}
