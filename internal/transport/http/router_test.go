package http

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"rxgateway/internal/attestation"
	"rxgateway/internal/attestation/store"
	"rxgateway/internal/audit"
	"rxgateway/internal/catalog"
	"rxgateway/internal/nonce"
	"rxgateway/internal/platform/metrics"
	"rxgateway/internal/protocol"
)

const testJWTKey = "pharmacy-partner-jwt-key-0123456789"

// Prometheus collectors register globally, so the suite shares one set across
// all tests and asserts on counter deltas.
var testMetrics = metrics.New()

type RouterSuite struct {
	suite.Suite

	server *httptest.Server
	audit  *audit.MemoryStore
	pub    *audit.Publisher
	now    time.Time

	doctorKey  *ecdsa.PrivateKey
	patientKey *ecdsa.PrivateKey

	nonceSeq int
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(s.T().TempDir(), "snapshot.json"), logger)
	s.Require().NoError(err)

	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }

	svc := attestation.New(st, catalog.New(), logger, attestation.Secrets{
		PII:       "pii-secret-for-tests-0123456789ab",
		Signing:   "signing-secret-for-tests-01234567",
		Transport: "transport-secret-for-tests-012345",
	}, attestation.WithClock(clock))

	auth := protocol.NewAuthenticator(nonce.NewMemoryCache(), 5*time.Minute, 10*time.Minute).WithClock(clock)

	s.audit = audit.NewMemoryStore()
	s.pub = audit.NewPublisher(s.audit, logger)

	s.server = httptest.NewServer(NewRouter(Deps{
		Service:       svc,
		Authenticator: auth,
		Audit:         s.pub,
		JWTValidator:  NewHSValidator(testJWTKey),
		Logger:        logger,
		Metrics:       testMetrics,
	}))

	s.doctorKey, err = ethcrypto.GenerateKey()
	s.Require().NoError(err)
	s.patientKey, err = ethcrypto.GenerateKey()
	s.Require().NoError(err)
	s.nonceSeq = 0
}

func (s *RouterSuite) TearDownTest() {
	s.server.Close()
	s.pub.Close()
}

func (s *RouterSuite) wallet(key *ecdsa.PrivateKey) string {
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
}

func (s *RouterSuite) sign(key *ecdsa.PrivateKey, msg string) string {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(prefixed)), key)
	s.Require().NoError(err)
	sig[64] += 27
	return "0x" + fmt.Sprintf("%x", sig)
}

func (s *RouterSuite) freshNonce() string {
	s.nonceSeq++
	return fmt.Sprintf("nonce-%012d", s.nonceSeq)
}

func (s *RouterSuite) doJSON(method, path string, headers map[string]string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func decode(s *RouterSuite, resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// doctorHeaders signs a doctor proof for the given action/resource with a
// fresh nonce.
func (s *RouterSuite) doctorHeaders(action, resource string) map[string]string {
	wallet := s.wallet(s.doctorKey)
	ts := strconv.FormatInt(s.now.UnixMilli(), 10)
	n := s.freshNonce()
	msg := protocol.DoctorAuthMessage(wallet, wallet, action, resource, ts, n)
	return map[string]string{
		headerWalletAddress:   wallet,
		headerRequestTs:       ts,
		headerRequestNonce:    n,
		headerWalletSignature: s.sign(s.doctorKey, msg),
	}
}

func (s *RouterSuite) registerPatient() {
	resp := s.doJSON(http.MethodPost, "/doctor/patients",
		s.doctorHeaders("register_patient", "/doctor/patients"),
		map[string]any{
			"legalName":        "Jane Q Doe",
			"dob":              "1990-04-12",
			"state":            "CA",
			"healthCardNumber": "HC-9920-1188",
			"patientWallet":    s.wallet(s.patientKey),
			"signalRelayId":    "rel_abc123456",
		})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func (s *RouterSuite) fileAttestation() (attestationID, approvalCode string) {
	resp := s.doJSON(http.MethodPost, "/doctor/attestations",
		s.doctorHeaders("file_attestation", "/doctor/attestations"),
		map[string]any{
			"patientWallet":  s.wallet(s.patientKey),
			"medicationCode": "amoxicillin_500mg_capsule",
			"schedule":       "none",
			"quantity":       30,
			"npi":            "1932806541",
			"validUntilIso":  s.now.Add(14 * 24 * time.Hour).Format(time.RFC3339),
			"canPurchase":    true,
		})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	body := decode(s, resp)
	return body["attestationId"].(string), body["approvalCode"].(string)
}

func (s *RouterSuite) TestHealthz() {
	resp, err := s.server.Client().Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *RouterSuite) TestRegisterFileConfirmFlow() {
	s.registerPatient()
	_, approvalCode := s.fileAttestation()

	patientWallet := s.wallet(s.patientKey)
	ts := strconv.FormatInt(s.now.UnixMilli(), 10)
	n := s.freshNonce()
	msg := protocol.PatientConfirmMessage(patientWallet, approvalCode, ts, n)
	resp := s.doJSON(http.MethodPost, "/patient/confirm", map[string]string{
		headerWalletAddress:   patientWallet,
		headerRequestTs:       ts,
		headerRequestNonce:    n,
		headerWalletSignature: s.sign(s.patientKey, msg),
	}, map[string]any{"approvalCode": approvalCode})

	s.Require().Equal(http.StatusOK, resp.StatusCode)
	body := decode(s, resp)
	policy, ok := body["orderPolicy"].(map[string]any)
	s.Require().True(ok)
	s.Equal(float64(30), policy["quantity"])
}

func (s *RouterSuite) TestReplayedNonceIsRejectedGenerically() {
	s.registerPatient()

	headers := s.doctorHeaders("register_patient", "/doctor/patients")
	body := map[string]any{
		"legalName":        "Jane Q Doe",
		"dob":              "1990-04-12",
		"state":            "CA",
		"healthCardNumber": "HC-9920-1188",
		"patientWallet":    s.wallet(s.patientKey),
	}
	resp := s.doJSON(http.MethodPost, "/doctor/patients", headers, body)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	replaysBefore := testutil.ToFloat64(testMetrics.RepliesRejected)
	resp = s.doJSON(http.MethodPost, "/doctor/patients", headers, body)
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)
	out := decode(s, resp)
	s.Equal("unauthorized", out["error"])
	s.NotContains(out, "reason")
	s.Equal(replaysBefore+1, testutil.ToFloat64(testMetrics.RepliesRejected))

	s.pub.Close()
	found := false
	for _, ev := range s.audit.Events() {
		if ev.Type == audit.TypeAuthFailure && ev.Details["reason"] == "replay_or_bad_nonce" {
			found = true
		}
	}
	s.True(found, "replay reason must reach the audit sink")
}

func (s *RouterSuite) TestTamperedBodyFailsSignature() {
	s.registerPatient()

	headers := s.doctorHeaders("file_attestation", "/doctor/attestations")
	headers[headerWalletAddress] = s.wallet(s.patientKey) // claim another wallet
	resp := s.doJSON(http.MethodPost, "/doctor/attestations", headers, map[string]any{
		"patientWallet":  s.wallet(s.patientKey),
		"medicationCode": "amoxicillin_500mg_capsule",
		"schedule":       "none",
		"quantity":       30,
		"npi":            "1932806541",
		"validUntilIso":  s.now.Add(14 * 24 * time.Hour).Format(time.RFC3339),
		"canPurchase":    true,
	})
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func (s *RouterSuite) TestClaimedDoctorHeaderCannotImpersonate() {
	s.registerPatient()

	attackerKey, err := ethcrypto.GenerateKey()
	s.Require().NoError(err)

	// A valid proof signed by the attacker's own key, claiming the victim
	// doctor via header. The acting identity must stay the recovered signer,
	// so the filing fails the victim-registry authorization check.
	wallet := ethcrypto.PubkeyToAddress(attackerKey.PublicKey).Hex()
	ts := strconv.FormatInt(s.now.UnixMilli(), 10)
	n := s.freshNonce()
	msg := protocol.DoctorAuthMessage(wallet, wallet, "file_attestation", "/doctor/attestations", ts, n)
	resp := s.doJSON(http.MethodPost, "/doctor/attestations", map[string]string{
		headerWalletAddress:   wallet,
		"X-Doctor-Wallet":     s.wallet(s.doctorKey),
		headerRequestTs:       ts,
		headerRequestNonce:    n,
		headerWalletSignature: s.sign(attackerKey, msg),
	}, map[string]any{
		"patientWallet":  s.wallet(s.patientKey),
		"medicationCode": "amoxicillin_500mg_capsule",
		"schedule":       "none",
		"quantity":       30,
		"npi":            "1932806541",
		"validUntilIso":  s.now.Add(14 * 24 * time.Hour).Format(time.RFC3339),
		"canPurchase":    true,
	})
	s.Require().Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// The victim's registry must be untouched by the attempt: a filing
	// signed by the victim still succeeds.
	s.fileAttestation()
}

func (s *RouterSuite) TestMalformedProofFailsBeforeRecovery() {
	headers := s.doctorHeaders("register_patient", "/doctor/patients")
	delete(headers, headerWalletSignature)

	resp := s.doJSON(http.MethodPost, "/doctor/patients", headers, map[string]any{
		"legalName":        "Jane Q Doe",
		"dob":              "1990-04-12",
		"state":            "CA",
		"healthCardNumber": "HC-9920-1188",
		"patientWallet":    s.wallet(s.patientKey),
	})
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)
	out := decode(s, resp)
	s.Equal("unauthorized", out["error"])

	s.pub.Close()
	found := false
	for _, ev := range s.audit.Events() {
		if ev.Type == audit.TypeAuthFailure && ev.Details["reason"] == "verification_failed" {
			found = true
		}
	}
	s.True(found, "structural rejection must reach the audit sink")
}

func (s *RouterSuite) TestValidationIssuesAreFieldLevel() {
	resp := s.doJSON(http.MethodPost, "/doctor/patients",
		s.doctorHeaders("register_patient", "/doctor/patients"),
		map[string]any{
			"legalName":        "Jane Q Doe",
			"dob":              "2015-04-12",
			"state":            "CA",
			"healthCardNumber": "HC-9920-1188",
			"patientWallet":    s.wallet(s.patientKey),
		})
	s.Require().Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode(s, resp)
	s.Equal("validation_failed", body["error"])
	issues, ok := body["issues"].([]any)
	s.Require().True(ok)
	s.Require().NotEmpty(issues)
	first := issues[0].(map[string]any)
	s.Equal("dob", first["field"])
	s.Equal("underage", first["code"])
}

func (s *RouterSuite) TestPharmacyHandoffRequiresToken() {
	s.registerPatient()
	attestationID, _ := s.fileAttestation()

	resp := s.doJSON(http.MethodGet, "/pharmacy/handoff/"+attestationID, nil, nil)
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	token := s.partnerToken("pharm_001")
	resp = s.doJSON(http.MethodGet, "/pharmacy/handoff/"+attestationID,
		map[string]string{"Authorization": "Bearer " + token}, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	body := decode(s, resp)
	s.Equal("validated", body["status"])
	s.NotEmpty(body["sealedPayload"])
	s.NotEmpty(body["transportSignature"])
}

func (s *RouterSuite) TestPharmacyHandoffUnknownIDIs404() {
	token := s.partnerToken("pharm_001")
	resp := s.doJSON(http.MethodGet, "/pharmacy/handoff/att_missing",
		map[string]string{"Authorization": "Bearer " + token}, nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (s *RouterSuite) partnerToken(partnerID string) string {
	// Token lifetime is validated against wall-clock time by the JWT
	// library, independent of the suite's frozen domain clock.
	claims := jwt.MapClaims{
		"sub":   partnerID,
		"scope": "handoff:read",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTKey))
	s.Require().NoError(err)
	return token
}
