// Package policy holds compliance constants and the field-level intake
// validators. Validators are pure: they return issue lists and never panic,
// so every rejection reaches the caller as data it can explain.
package policy

import "time"

// Policy constants. These are product decisions, not tuning knobs; call sites
// must reference them instead of repeating the numbers.
const (
	// MinPatientAge gates all prescription intake shapes.
	MinPatientAge = 18

	// MaxAttestationValidity bounds the validity window a doctor may grant.
	MaxAttestationValidity = 90 * 24 * time.Hour

	// MaxPickupWindow bounds the pharmacy pickup window.
	MaxPickupWindow = 45 * 24 * time.Hour

	// QuantityMin and QuantityMax bound a prescription quantity (days supply
	// semantics: one year plus none).
	QuantityMin = 1
	QuantityMax = 365

	// MinHealthCardLen applies after trimming.
	MinHealthCardLen = 5

	// MinNonceLen matches the protocol authenticator's structural gate.
	MinNonceLen = 12
)

// ScheduleNonControlled is the tier that exempts a filing from the DEA
// identifier requirement.
const ScheduleNonControlled = "none"
