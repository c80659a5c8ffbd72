package policy

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Issue is a single field-level rejection. A non-empty issue list always means
// "reject, explain why"; there is no partial success.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Issue codes.
const (
	CodeRequired     = "required"
	CodeFormat       = "invalid_format"
	CodeUnderage     = "underage"
	CodeOutOfRange   = "out_of_range"
	CodeExpired      = "expired"
	CodeHorizon      = "beyond_horizon"
	CodeUnknownValue = "unknown_value"
)

var (
	hexWalletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	// Bech32-style alternate wallet: human-readable part, separator, data part.
	altWalletPattern = regexp.MustCompile(`^[a-z]{2,8}1[a-z0-9]{8,80}$`)
	statePattern     = regexp.MustCompile(`^[A-Z]{2}$`)
	deaPattern       = regexp.MustCompile(`^[A-Za-z]{2}[0-9]{7}$`)
	noncePattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{12,128}$`)
	signaturePattern = regexp.MustCompile(`^0x[0-9a-fA-F]{130}$`)
	timestampPattern = regexp.MustCompile(`^[0-9]{10,16}$`)
)

// ValidWallet accepts either a hex EVM address or a bech32-style alternate
// wallet.
func ValidWallet(wallet string) bool {
	w := strings.TrimSpace(wallet)
	return hexWalletPattern.MatchString(w) || altWalletPattern.MatchString(strings.ToLower(w))
}

// LegalIdentity is the intake shape for doctor-side patient registration and
// patient-side approval requests.
type LegalIdentity struct {
	LegalName        string
	DOBISO           string
	State            string
	HealthCardNumber string
	PatientWallet    string
}

// ValidateLegalIdentity checks the legal-identity intake shape.
func ValidateLegalIdentity(in LegalIdentity, now time.Time) []Issue {
	var issues []Issue

	if strings.TrimSpace(in.LegalName) == "" {
		issues = append(issues, Issue{"legalName", CodeRequired, "legal name is required"})
	}

	dob, err := time.Parse("2006-01-02", strings.TrimSpace(in.DOBISO))
	if err != nil {
		issues = append(issues, Issue{"dob", CodeFormat, "dob must be an ISO calendar date (YYYY-MM-DD)"})
	} else if AgeAt(dob, now) < MinPatientAge {
		issues = append(issues, Issue{"dob", CodeUnderage, fmt.Sprintf("patient must be at least %d years old", MinPatientAge)})
	}

	if !statePattern.MatchString(strings.TrimSpace(in.State)) {
		issues = append(issues, Issue{"state", CodeFormat, "state must be exactly 2 uppercase letters"})
	}

	if len(strings.TrimSpace(in.HealthCardNumber)) < MinHealthCardLen {
		issues = append(issues, Issue{"healthCardNumber", CodeFormat,
			fmt.Sprintf("health card number must be at least %d characters", MinHealthCardLen)})
	}

	if !ValidWallet(in.PatientWallet) {
		issues = append(issues, Issue{"patientWallet", CodeFormat, "patient wallet must be a hex or bech32-style address"})
	}

	return issues
}

// Prescription is the intake shape for doctor-filed attestations.
type Prescription struct {
	MedicationCode string
	Schedule       string
	Quantity       float64
	QuantitySet    bool
	NPI            string
	DEA            string
	ValidUntilISO  string
}

// ValidatePrescription checks the prescription fields of a filing. The DEA
// identifier is required and pattern-checked only for controlled schedules.
func ValidatePrescription(in Prescription, now time.Time) []Issue {
	var issues []Issue

	if strings.TrimSpace(in.MedicationCode) == "" {
		issues = append(issues, Issue{"medicationCode", CodeRequired, "medication code is required"})
	}

	if strings.TrimSpace(in.NPI) == "" {
		issues = append(issues, Issue{"npi", CodeRequired, "prescriber NPI is required"})
	}

	schedule := strings.ToLower(strings.TrimSpace(in.Schedule))
	if schedule != ScheduleNonControlled {
		dea := strings.TrimSpace(in.DEA)
		if dea == "" {
			issues = append(issues, Issue{"dea", CodeRequired, "DEA identifier is required for controlled schedules"})
		} else if !deaPattern.MatchString(dea) {
			issues = append(issues, Issue{"dea", CodeFormat, "DEA identifier must be 2 letters followed by 7 digits"})
		}
	}

	if !in.QuantitySet || math.IsNaN(in.Quantity) || math.IsInf(in.Quantity, 0) ||
		in.Quantity < QuantityMin || in.Quantity > QuantityMax {
		issues = append(issues, Issue{"quantity", CodeOutOfRange,
			fmt.Sprintf("quantity must be a finite number between %d and %d", QuantityMin, QuantityMax)})
	}

	issues = append(issues, validateHorizon("validUntilIso", in.ValidUntilISO, now, MaxAttestationValidity)...)

	return issues
}

// ValidatePickupWindow checks a pharmacy pickup expiry against its horizon.
func ValidatePickupWindow(field, expiresISO string, now time.Time) []Issue {
	return validateHorizon(field, expiresISO, now, MaxPickupWindow)
}

func validateHorizon(field, iso string, now time.Time, horizon time.Duration) []Issue {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(iso))
	if err != nil {
		return []Issue{{field, CodeFormat, "must be an RFC 3339 timestamp"}}
	}
	if !ts.After(now) {
		return []Issue{{field, CodeExpired, "must be in the future"}}
	}
	if ts.Sub(now) > horizon {
		return []Issue{{field, CodeHorizon,
			fmt.Sprintf("must be within %d days", int(horizon/(24*time.Hour)))}}
	}
	return nil
}

// WalletProofShape is the structural view of a wallet proof, validated
// independently of the cryptographic check so requests die with a specific
// structural reason before any signature recovery work.
type WalletProofShape struct {
	Version          string
	SignerWallet     string
	RequestTimestamp string
	RequestNonce     string
	Signature        string
}

// ValidateWalletProofShape checks the structural fields of a wallet proof.
func ValidateWalletProofShape(in WalletProofShape) []Issue {
	var issues []Issue

	if strings.TrimSpace(in.Version) == "" {
		issues = append(issues, Issue{"version", CodeRequired, "proof version tag is required"})
	}
	if !ValidWallet(in.SignerWallet) {
		issues = append(issues, Issue{"signerWallet", CodeFormat, "signer wallet must be a hex or bech32-style address"})
	}
	if !timestampPattern.MatchString(strings.TrimSpace(in.RequestTimestamp)) {
		issues = append(issues, Issue{"requestTimestamp", CodeFormat, "request timestamp must be decimal milliseconds"})
	}
	if !noncePattern.MatchString(strings.TrimSpace(in.RequestNonce)) {
		issues = append(issues, Issue{"requestNonce", CodeFormat,
			fmt.Sprintf("request nonce must be %d-128 URL-safe characters", MinNonceLen)})
	}
	if !signaturePattern.MatchString(strings.TrimSpace(in.Signature)) {
		issues = append(issues, Issue{"signature", CodeFormat, "signature must be a 65-byte hex ECDSA signature"})
	}

	return issues
}

// AgeAt computes calendar-aware age: the year difference, minus one if the
// birthday has not yet occurred in now's year.
func AgeAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
