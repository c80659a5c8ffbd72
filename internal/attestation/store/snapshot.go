package store

import (
	"encoding/json"
	"fmt"

	"rxgateway/internal/attestation/models"
)

// snapshotVersion is the only version this reader accepts. Anything else
// hydrates an empty store rather than failing startup.
const snapshotVersion = 1

// entry serializes one keyed record as a two-element JSON array, keeping the
// snapshot format stable regardless of Go map iteration order concerns.
type entry[T any] struct {
	Key   string
	Value T
}

func (e entry[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Key, e.Value})
}

func (e *entry[T]) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.Key); err != nil {
		return fmt.Errorf("snapshot entry key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Value); err != nil {
		return fmt.Errorf("snapshot entry value: %w", err)
	}
	return nil
}

// snapshot is the on-disk shape of the whole store.
type snapshot struct {
	Version                int                               `json:"version"`
	ComplianceRecords      []entry[models.ComplianceRecord]  `json:"complianceRecords"`
	DoctorAttestations     []entry[models.DoctorAttestation] `json:"doctorAttestations"`
	DoctorVerifiedPatients []entry[models.VerifiedPatient]   `json:"doctorVerifiedPatients"`
	DoctorApprovalRequests []entry[models.ApprovalRequest]   `json:"doctorApprovalRequests"`
}

func mapToEntries[T any](m map[string]T) []entry[T] {
	out := make([]entry[T], 0, len(m))
	for k, v := range m {
		out = append(out, entry[T]{Key: k, Value: v})
	}
	return out
}

func entriesToMap[T any](entries []entry[T]) map[string]T {
	out := make(map[string]T, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out
}
