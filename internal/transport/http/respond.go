package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"

	"rxgateway/internal/audit"
	"rxgateway/internal/policy"
	"rxgateway/internal/protocol"
	derrors "rxgateway/pkg/domain-errors"
)

// Wallet-proof header contract shared by doctor and patient routes.
const (
	headerWalletAddress   = "X-Wallet-Address"
	headerRequestTs       = "X-Request-Timestamp"
	headerRequestNonce    = "X-Request-Nonce"
	headerWalletSignature = "X-Wallet-Signature"
)

// proofShapeIssues runs the structural wallet-proof check on the headers
// before any signature recovery work. A malformed proof fails the same
// generic way a bad signature does.
func proofShapeIssues(r *http.Request) []policy.Issue {
	return policy.ValidateWalletProofShape(policy.WalletProofShape{
		Version:          "1",
		SignerWallet:     r.Header.Get(headerWalletAddress),
		RequestTimestamp: r.Header.Get(headerRequestTs),
		RequestNonce:     r.Header.Get(headerRequestNonce),
		Signature:        r.Header.Get(headerWalletSignature),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeIssues reports field-level validation failures.
func writeIssues(w http.ResponseWriter, issues []policy.Issue) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":  "validation_failed",
		"issues": issues,
	})
}

// writeError maps a coded domain error onto its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := derrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if de, ok := err.(*derrors.Error); ok {
		body["message"] = de.Message
	}
	writeJSON(w, derrors.ToHTTPStatus(code), body)
}

// writeAuthFailure returns the deliberately generic 401. The concrete
// rejection reason goes to the audit sink and the failure counter only, never
// to the caller.
func (d Deps) writeAuthFailure(w http.ResponseWriter, r *http.Request, role string, reason protocol.Reason) {
	if d.Metrics != nil {
		d.Metrics.IncAuthFailure(string(reason))
		if reason == protocol.ReasonReplayOrBadNonce {
			d.Metrics.RepliesRejected.Inc()
		}
	}
	d.Audit.Emit(audit.Event{
		Type:          audit.TypeAuthFailure,
		Actor:         role,
		RequestIPHash: hashClientIP(r),
		Details: map[string]any{
			"reason": string(reason),
			"path":   r.URL.Path,
		},
	})
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

// hashClientIP keeps source addresses out of the audit trail while still
// letting repeated failures from one origin correlate.
func hashClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:8])
}

// readBody decodes the JSON body after shape validation. Returns false and
// writes the response itself when the body does not pass.
func readBody(w http.ResponseWriter, r *http.Request, shape string, out any) bool {
	body, err := readLimited(r)
	if err != nil {
		writeIssues(w, []policy.Issue{{Field: "body", Code: policy.CodeFormat, Message: "request body unreadable or too large"}})
		return false
	}
	if issues := policy.CheckShape(shape, body); len(issues) > 0 {
		writeIssues(w, issues)
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeIssues(w, []policy.Issue{{Field: "body", Code: policy.CodeFormat, Message: "request body must be valid JSON"}})
		return false
	}
	return true
}

const maxBodyBytes = 1 << 20

func readLimited(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
}
