// Package catalog is the read-only medication reference source. The gateway
// treats it as external data; this implementation seeds a fixed set so the
// service and tests have a consistent catalog without a network dependency.
package catalog

import (
	"strings"

	"rxgateway/pkg/platform/sentinel"
)

// Medication is one catalog entry. Schedule uses the compliance tiers:
// "none" (non-controlled) or the controlled tiers "ii".."v".
type Medication struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
	Schedule    string `json:"schedule"`
	Form        string `json:"form"`
}

// Catalog looks up medications by code.
type Catalog struct {
	byCode []Medication
}

// New seeds the default catalog.
func New() *Catalog {
	return &Catalog{byCode: defaultMedications}
}

// GetByCode returns the medication for a code, or sentinel.ErrNotFound.
func (c *Catalog) GetByCode(code string) (Medication, error) {
	needle := strings.ToLower(strings.TrimSpace(code))
	for _, m := range c.byCode {
		if m.Code == needle {
			return m, nil
		}
	}
	return Medication{}, sentinel.ErrNotFound
}

// List returns all catalog entries.
func (c *Catalog) List() []Medication {
	out := make([]Medication, len(c.byCode))
	copy(out, c.byCode)
	return out
}

var defaultMedications = []Medication{
	{Code: "amoxicillin_500mg_capsule", DisplayName: "Amoxicillin 500mg", Schedule: "none", Form: "capsule"},
	{Code: "atorvastatin_20mg_tablet", DisplayName: "Atorvastatin 20mg", Schedule: "none", Form: "tablet"},
	{Code: "lisinopril_10mg_tablet", DisplayName: "Lisinopril 10mg", Schedule: "none", Form: "tablet"},
	{Code: "metformin_500mg_tablet", DisplayName: "Metformin 500mg", Schedule: "none", Form: "tablet"},
	{Code: "alprazolam_0_5mg_tablet", DisplayName: "Alprazolam 0.5mg", Schedule: "iv", Form: "tablet"},
	{Code: "zolpidem_10mg_tablet", DisplayName: "Zolpidem 10mg", Schedule: "iv", Form: "tablet"},
	{Code: "oxycodone_5mg_tablet", DisplayName: "Oxycodone 5mg", Schedule: "ii", Form: "tablet"},
	{Code: "tramadol_50mg_tablet", DisplayName: "Tramadol 50mg", Schedule: "iv", Form: "tablet"},
}
