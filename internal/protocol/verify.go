package protocol

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"rxgateway/internal/nonce"
)

// Reason classifies why a wallet proof was rejected. Handlers return a uniform
// unauthorized response; the reason feeds the audit trail and metrics only.
type Reason string

const (
	ReasonExpiredOrInvalidTimestamp Reason = "expired_or_invalid_timestamp"
	ReasonInvalidMonadWallet        Reason = "invalid_monad_wallet"
	ReasonInvalidSignatureFormat    Reason = "invalid_signature_format"
	ReasonReplayOrBadNonce          Reason = "replay_or_bad_nonce"
	ReasonSignerMismatch            Reason = "signer_mismatch"
	ReasonPatientWalletMismatch     Reason = "patient_wallet_mismatch"
	ReasonVerificationFailed        Reason = "verification_failed"
)

const minNonceLen = 12

// 65-byte ECDSA signature as 0x-prefixed hex.
var signaturePattern = regexp.MustCompile(`^0x[0-9a-fA-F]{130}$`)

// Result is the outcome of a wallet-proof check. On success Signer carries the
// recovered address; subsequent code must trust Signer, never the
// caller-claimed wallet.
type Result struct {
	OK     bool
	Reason Reason
	Signer string
}

func pass(signer string) Result   { return Result{OK: true, Signer: signer} }
func reject(reason Reason) Result { return Result{OK: false, Reason: reason} }

// Authenticator composes message building, nonce consumption, and signature
// recovery into single pass/fail decisions, one method per role/action.
type Authenticator struct {
	nonces        nonce.Cache
	requestWindow time.Duration
	nonceTTL      time.Duration
	now           func() time.Time
}

// NewAuthenticator builds an Authenticator. nonceTTL should be at least twice
// requestWindow so a nonce outlives every timestamp that could replay it.
func NewAuthenticator(nonces nonce.Cache, requestWindow, nonceTTL time.Duration) *Authenticator {
	return &Authenticator{
		nonces:        nonces,
		requestWindow: requestWindow,
		nonceTTL:      nonceTTL,
		now:           time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// DoctorAuthInput carries the claimed fields of a doctor wallet proof.
type DoctorAuthInput struct {
	DoctorWallet string
	MonadWallet  string
	Action       string
	Resource     string
	RequestTs    string
	RequestNonce string
	Signature    string
}

// VerifyDoctorAuth validates a doctor wallet proof. Gates run cheapest first
// so malformed input never reaches signature recovery.
func (a *Authenticator) VerifyDoctorAuth(ctx context.Context, in DoctorAuthInput) Result {
	if r, ok := a.commonGates(ctx, in.MonadWallet, in.RequestTs, in.RequestNonce, in.Signature, "doctor-wallet"); !ok {
		return r
	}
	msg := DoctorAuthMessage(in.DoctorWallet, in.MonadWallet, in.Action, in.Resource, in.RequestTs, in.RequestNonce)
	return a.recoverAndMatch(msg, in.Signature, in.MonadWallet)
}

// PatientConfirmInput carries the claimed fields of a redemption proof.
type PatientConfirmInput struct {
	MonadWallet  string
	ApprovalCode string
	RequestTs    string
	RequestNonce string
	Signature    string
}

// VerifyPatientConfirm validates a patient redemption proof.
func (a *Authenticator) VerifyPatientConfirm(ctx context.Context, in PatientConfirmInput) Result {
	if r, ok := a.commonGates(ctx, in.MonadWallet, in.RequestTs, in.RequestNonce, in.Signature, "patient-confirm"); !ok {
		return r
	}
	msg := PatientConfirmMessage(in.MonadWallet, in.ApprovalCode, in.RequestTs, in.RequestNonce)
	return a.recoverAndMatch(msg, in.Signature, in.MonadWallet)
}

// PatientWorkspaceInput carries the claimed fields of a workspace read proof.
type PatientWorkspaceInput struct {
	MonadWallet   string
	PatientWallet string
	RequestTs     string
	RequestNonce  string
	Signature     string
}

// VerifyPatientWorkspace validates a workspace read proof. Beyond the common
// gates it requires the recovered signer to be the patient wallet the read
// targets, so no other wallet can list a patient's approvals.
func (a *Authenticator) VerifyPatientWorkspace(ctx context.Context, in PatientWorkspaceInput) Result {
	if r, ok := a.commonGates(ctx, in.MonadWallet, in.RequestTs, in.RequestNonce, in.Signature, "patient-workspace"); !ok {
		return r
	}
	msg := PatientWorkspaceMessage(in.MonadWallet, in.PatientWallet, in.RequestTs, in.RequestNonce)
	res := a.recoverAndMatch(msg, in.Signature, in.MonadWallet)
	if !res.OK {
		return res
	}
	if res.Signer != normalizeAddress(in.PatientWallet) {
		return reject(ReasonPatientWalletMismatch)
	}
	return res
}

// PatientRequestInput carries the claimed fields of an approval-request proof.
type PatientRequestInput struct {
	MonadWallet      string
	DoctorWallet     string
	MedicationCode   string
	HealthCardNumber string
	RequestTs        string
	RequestNonce     string
	Signature        string
}

// VerifyPatientRequestProof validates a patient's approval-request proof.
func (a *Authenticator) VerifyPatientRequestProof(ctx context.Context, in PatientRequestInput) Result {
	if r, ok := a.commonGates(ctx, in.MonadWallet, in.RequestTs, in.RequestNonce, in.Signature, "patient-request"); !ok {
		return r
	}
	msg := PatientRequestProofMessage(in.MonadWallet, in.DoctorWallet, in.MedicationCode, in.HealthCardNumber, in.RequestTs, in.RequestNonce)
	return a.recoverAndMatch(msg, in.Signature, in.MonadWallet)
}

// commonGates runs the shared fail-fast checks in a fixed order: timestamp
// freshness, address format, signature format, nonce freshness. Returns the
// rejection and ok=false on the first failed gate.
func (a *Authenticator) commonGates(ctx context.Context, monadWallet, requestTs, requestNonce, signature, role string) (Result, bool) {
	ts, err := strconv.ParseInt(strings.TrimSpace(requestTs), 10, 64)
	if err != nil {
		return reject(ReasonExpiredOrInvalidTimestamp), false
	}
	now := a.now()
	drift := now.Sub(time.UnixMilli(ts))
	if drift < 0 {
		drift = -drift
	}
	if drift > a.requestWindow {
		return reject(ReasonExpiredOrInvalidTimestamp), false
	}

	if !common.IsHexAddress(monadWallet) {
		return reject(ReasonInvalidMonadWallet), false
	}

	if !signaturePattern.MatchString(strings.TrimSpace(signature)) {
		return reject(ReasonInvalidSignatureFormat), false
	}

	trimmed := strings.TrimSpace(requestNonce)
	if len(trimmed) < minNonceLen {
		return reject(ReasonReplayOrBadNonce), false
	}
	key := fmt.Sprintf("%s:%s:%s", role, normalizeAddress(monadWallet), trimmed)
	fresh, err := a.nonces.Consume(ctx, key, now, a.nonceTTL)
	if err != nil || !fresh {
		return reject(ReasonReplayOrBadNonce), false
	}

	return Result{}, true
}

// recoverAndMatch rebuilds the personal-sign digest for msg, recovers the
// signer, and compares it to the claimed wallet.
func (a *Authenticator) recoverAndMatch(msg, signature, claimedWallet string) Result {
	signer, err := RecoverSigner(msg, signature)
	if err != nil {
		return reject(ReasonVerificationFailed)
	}
	if signer != normalizeAddress(claimedWallet) {
		return reject(ReasonSignerMismatch)
	}
	return pass(signer)
}

// RecoverSigner recovers the lowercased hex address that produced a
// personal-sign (EIP-191) signature over msg.
func RecoverSigner(msg, signature string) (string, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	// Wallets emit V as 27/28; secp256k1 recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(personalHash(msg), sig)
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// personalHash computes the EIP-191 "personal_sign" digest of msg.
func personalHash(msg string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return crypto.Keccak256([]byte(prefixed))
}
