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

// PatientHandler serves the patient-facing routes. Each route uses its own
// proof message so a signature captured on one action can never authorize
// another.
type PatientHandler struct {
	deps Deps
}

// Register mounts the patient routes.
func (h *PatientHandler) Register(r chi.Router) {
	r.Use(middleware.ContentTypeJSON)
	r.Post("/requests", h.submitRequest)
	r.Post("/confirm", h.confirm)
	r.Get("/approvals", h.listApprovals)
}

type approvalRequestBody struct {
	DoctorWallet     string `json:"doctorWallet"`
	MedicationCode   string `json:"medicationCode"`
	LegalName        string `json:"legalName"`
	DOB              string `json:"dob"`
	State            string `json:"state"`
	HealthCardNumber string `json:"healthCardNumber"`
}

func (h *PatientHandler) submitRequest(w http.ResponseWriter, r *http.Request) {
	if issues := proofShapeIssues(r); len(issues) > 0 {
		h.deps.writeAuthFailure(w, r, "patient", protocol.ReasonVerificationFailed)
		return
	}
	var req approvalRequestBody
	if !readBody(w, r, policy.ShapeApprovalRequest, &req) {
		return
	}

	res := h.deps.Authenticator.VerifyPatientRequestProof(r.Context(), protocol.PatientRequestInput{
		MonadWallet:      r.Header.Get(headerWalletAddress),
		DoctorWallet:     req.DoctorWallet,
		MedicationCode:   req.MedicationCode,
		HealthCardNumber: req.HealthCardNumber,
		RequestTs:        r.Header.Get(headerRequestTs),
		RequestNonce:     r.Header.Get(headerRequestNonce),
		Signature:        r.Header.Get(headerWalletSignature),
	})
	if !res.OK {
		h.deps.writeAuthFailure(w, r, "patient", res.Reason)
		return
	}

	out, err := h.deps.Service.SubmitApprovalRequest(r.Context(), attestation.SubmitRequestInput{
		PatientWallet:  res.Signer,
		DoctorWallet:   req.DoctorWallet,
		MedicationCode: req.MedicationCode,
		Identity: policy.LegalIdentity{
			LegalName:        req.LegalName,
			DOBISO:           req.DOB,
			State:            req.State,
			HealthCardNumber: req.HealthCardNumber,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !out.OK {
		writeIssues(w, out.Issues)
		return
	}

	h.deps.Audit.Emit(audit.Event{
		Type:  audit.TypeRequestSubmitted,
		Actor: res.Signer,
		Details: map[string]any{
			"requestId":          out.Request.RequestID,
			"verificationStatus": out.Request.VerificationStatus,
		},
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"requestId":          out.Request.RequestID,
		"verificationStatus": out.Request.VerificationStatus,
		"submittedAt":        out.Request.SubmittedAt,
	})
}

type confirmBody struct {
	ApprovalCode string `json:"approvalCode"`
}

func (h *PatientHandler) confirm(w http.ResponseWriter, r *http.Request) {
	if issues := proofShapeIssues(r); len(issues) > 0 {
		h.deps.writeAuthFailure(w, r, "patient", protocol.ReasonVerificationFailed)
		return
	}
	var req confirmBody
	if !readBody(w, r, policy.ShapeConfirm, &req) {
		return
	}

	res := h.deps.Authenticator.VerifyPatientConfirm(r.Context(), protocol.PatientConfirmInput{
		MonadWallet:  r.Header.Get(headerWalletAddress),
		ApprovalCode: req.ApprovalCode,
		RequestTs:    r.Header.Get(headerRequestTs),
		RequestNonce: r.Header.Get(headerRequestNonce),
		Signature:    r.Header.Get(headerWalletSignature),
	})
	if !res.OK {
		h.deps.writeAuthFailure(w, r, "patient", res.Reason)
		return
	}

	out, err := h.deps.Service.Confirm(r.Context(), attestation.ConfirmInput{
		PatientWallet: res.Signer,
		ApprovalCode:  req.ApprovalCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !out.OK {
		h.deps.Audit.Emit(audit.Event{
			Type:  audit.TypeConfirmRejected,
			Actor: res.Signer,
			Details: map[string]any{
				"reason": out.Reason,
			},
		})
		writeJSON(w, confirmStatus(out.Reason), map[string]string{
			"error":   out.Reason,
			"message": out.Message,
		})
		return
	}

	h.deps.Audit.Emit(audit.Event{
		Type:          audit.TypeConfirmed,
		Actor:         res.Signer,
		AttestationID: out.Attestation.AttestationID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"attestation": out.Attestation,
		"orderPolicy": out.OrderPolicy,
	})
}

// confirmStatus distinguishes the rejection classes: unknown codes are 404,
// someone else's code is 403, an expired attestation is 410, and a
// non-purchasable one is 409.
func confirmStatus(reason string) int {
	switch reason {
	case attestation.ConfirmNotFound:
		return http.StatusNotFound
	case attestation.ConfirmWalletMismatch:
		return http.StatusForbidden
	case attestation.ConfirmExpired:
		return http.StatusGone
	case attestation.ConfirmNotPurchasable:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (h *PatientHandler) listApprovals(w http.ResponseWriter, r *http.Request) {
	if issues := proofShapeIssues(r); len(issues) > 0 {
		h.deps.writeAuthFailure(w, r, "patient", protocol.ReasonVerificationFailed)
		return
	}
	wallet := r.Header.Get(headerWalletAddress)
	res := h.deps.Authenticator.VerifyPatientWorkspace(r.Context(), protocol.PatientWorkspaceInput{
		MonadWallet:   wallet,
		PatientWallet: wallet,
		RequestTs:     r.Header.Get(headerRequestTs),
		RequestNonce:  r.Header.Get(headerRequestNonce),
		Signature:     r.Header.Get(headerWalletSignature),
	})
	if !res.OK {
		h.deps.writeAuthFailure(w, r, "patient", res.Reason)
		return
	}

	approvals := h.deps.Service.ListApprovedMedications(r.Context(), res.Signer)
	if approvals == nil {
		approvals = []attestation.ApprovedMedication{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patientWallet": strings.ToLower(res.Signer),
		"approvals":     approvals,
	})
}
