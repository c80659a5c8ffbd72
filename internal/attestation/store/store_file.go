// Package store is the durable store for the attestation layer: four keyed
// collections persisted together as one versioned snapshot with
// write-temp-then-rename atomicity. A partially written snapshot is never
// visible to a reader.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rxgateway/internal/attestation/models"
	"rxgateway/internal/platform/metrics"
	"rxgateway/pkg/platform/sentinel"
)

// FileStore keeps the collections in memory and mirrors every write to the
// snapshot file. One store mutex makes each logical write atomic in-process;
// concurrent writers to the same key remain last-write-wins with no merge,
// which is accepted at this scale.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	compliance   map[string]models.ComplianceRecord
	attestations map[string]models.DoctorAttestation
	verified     map[string]models.VerifiedPatient
	requests     map[string]models.ApprovalRequest

	// byApprovalCode is a derived index, rebuilt on hydrate, never persisted.
	byApprovalCode map[string]string
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithMetrics records snapshot persist latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *FileStore) { s.metrics = m }
}

// Open hydrates a FileStore from path. A missing, malformed, or
// wrong-version snapshot hydrates empty; only I/O errors on an existing
// readable file propagate.
func Open(path string, logger *slog.Logger, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		path:           path,
		logger:         logger,
		compliance:     make(map[string]models.ComplianceRecord),
		attestations:   make(map[string]models.DoctorAttestation),
		verified:       make(map[string]models.VerifiedPatient),
		requests:       make(map[string]models.ApprovalRequest),
		byApprovalCode: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Warn("snapshot malformed, starting empty", "path", path, "error", err)
		return s, nil
	}
	if snap.Version != snapshotVersion {
		logger.Warn("snapshot version unsupported, starting empty", "path", path, "version", snap.Version)
		return s, nil
	}

	s.compliance = entriesToMap(snap.ComplianceRecords)
	s.attestations = entriesToMap(snap.DoctorAttestations)
	s.verified = entriesToMap(snap.DoctorVerifiedPatients)
	s.requests = entriesToMap(snap.DoctorApprovalRequests)
	for id, att := range s.attestations {
		s.byApprovalCode[att.ApprovalCode] = id
	}
	return s, nil
}

// persistLocked writes the snapshot atomically. Callers hold s.mu.
func (s *FileStore) persistLocked() error {
	start := time.Now()

	snap := snapshot{
		Version:                snapshotVersion,
		ComplianceRecords:      mapToEntries(s.compliance),
		DoctorAttestations:     mapToEntries(s.attestations),
		DoctorVerifiedPatients: mapToEntries(s.verified),
		DoctorApprovalRequests: mapToEntries(s.requests),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync snapshot temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotPersistMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}
	return nil
}

// PutAttestation inserts or replaces a doctor attestation.
func (s *FileStore) PutAttestation(att models.DoctorAttestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attestations[att.AttestationID] = att
	s.byApprovalCode[att.ApprovalCode] = att.AttestationID
	return s.persistLocked()
}

// GetAttestation looks up a doctor attestation by ID.
func (s *FileStore) GetAttestation(attestationID string) (models.DoctorAttestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.attestations[attestationID]
	if !ok {
		return models.DoctorAttestation{}, sentinel.ErrNotFound
	}
	return att, nil
}

// GetByApprovalCode looks up a doctor attestation by its approval code.
func (s *FileStore) GetByApprovalCode(approvalCode string) (models.DoctorAttestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byApprovalCode[strings.ToUpper(strings.TrimSpace(approvalCode))]
	if !ok {
		return models.DoctorAttestation{}, sentinel.ErrNotFound
	}
	att, ok := s.attestations[id]
	if !ok {
		return models.DoctorAttestation{}, sentinel.ErrNotFound
	}
	return att, nil
}

// ListAttestationsByPatient returns every attestation held by a patient
// wallet, case-insensitively.
func (s *FileStore) ListAttestationsByPatient(patientWallet string) []models.DoctorAttestation {
	needle := strings.ToLower(strings.TrimSpace(patientWallet))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DoctorAttestation
	for _, att := range s.attestations {
		if strings.ToLower(att.PatientWallet) == needle {
			out = append(out, att)
		}
	}
	return out
}

// PutVerifiedPatient inserts or replaces a registry record.
func (s *FileStore) PutVerifiedPatient(rec models.VerifiedPatient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[models.PairKey(rec.DoctorWallet, rec.PatientWallet)] = rec
	return s.persistLocked()
}

// GetVerifiedPatient looks up the registry record for a wallet pair.
func (s *FileStore) GetVerifiedPatient(doctorWallet, patientWallet string) (models.VerifiedPatient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.verified[models.PairKey(doctorWallet, patientWallet)]
	if !ok {
		return models.VerifiedPatient{}, sentinel.ErrNotFound
	}
	return rec, nil
}

// PutApprovalRequest inserts an approval request.
func (s *FileStore) PutApprovalRequest(req models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.RequestID] = req
	return s.persistLocked()
}

// GetApprovalRequest looks up an approval request by ID.
func (s *FileStore) GetApprovalRequest(requestID string) (models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return models.ApprovalRequest{}, sentinel.ErrNotFound
	}
	return req, nil
}

// ListRequestsByDoctor returns approval requests addressed to a doctor.
func (s *FileStore) ListRequestsByDoctor(doctorWallet string) []models.ApprovalRequest {
	needle := strings.ToLower(strings.TrimSpace(doctorWallet))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ApprovalRequest
	for _, req := range s.requests {
		if strings.ToLower(req.DoctorWallet) == needle {
			out = append(out, req)
		}
	}
	return out
}

// GetComplianceRecord looks up a legacy intake record by ID.
func (s *FileStore) GetComplianceRecord(recordID string) (models.ComplianceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.compliance[recordID]
	if !ok {
		return models.ComplianceRecord{}, sentinel.ErrNotFound
	}
	return rec, nil
}

// PutComplianceRecord inserts a legacy intake record. Exists for migration
// tooling and tests; new records are always doctor-filed attestations.
func (s *FileStore) PutComplianceRecord(rec models.ComplianceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compliance[rec.RecordID] = rec
	return s.persistLocked()
}

// Variant is the tagged union the handoff path resolves: exactly one of the
// two fields is set.
type Variant struct {
	DoctorFiled *models.DoctorAttestation
	Intake      *models.ComplianceRecord
}

// FindAttestationVariant resolves an ID against doctor-filed attestations
// first, then the legacy intake collection.
func (s *FileStore) FindAttestationVariant(id string) (Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if att, ok := s.attestations[id]; ok {
		return Variant{DoctorFiled: &att}, nil
	}
	if rec, ok := s.compliance[id]; ok {
		return Variant{Intake: &rec}, nil
	}
	return Variant{}, sentinel.ErrNotFound
}

// MigratePatientWallet moves the registry record from (doctor, oldWallet) to
// (doctor, newWallet) and rewrites PatientWallet on every attestation the
// doctor filed under the old wallet, all under one lock and one persist.
// Attestation signatures are NOT recomputed. Returns the migrated record and
// the number of attestations rewritten.
func (s *FileStore) MigratePatientWallet(doctorWallet, oldWallet, newWallet string) (models.VerifiedPatient, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldKey := models.PairKey(doctorWallet, oldWallet)
	rec, ok := s.verified[oldKey]
	if !ok {
		return models.VerifiedPatient{}, 0, sentinel.ErrNotFound
	}

	delete(s.verified, oldKey)
	rec.PatientWallet = newWallet
	s.verified[models.PairKey(doctorWallet, newWallet)] = rec

	doctor := strings.ToLower(strings.TrimSpace(doctorWallet))
	old := strings.ToLower(strings.TrimSpace(oldWallet))
	touched := 0
	for id, att := range s.attestations {
		if strings.ToLower(att.DoctorWallet) == doctor && strings.ToLower(att.PatientWallet) == old {
			att.PatientWallet = newWallet
			s.attestations[id] = att
			touched++
		}
	}

	if err := s.persistLocked(); err != nil {
		return models.VerifiedPatient{}, 0, err
	}
	return rec, touched, nil
}

// Flush forces a snapshot write. Used by lifecycle hooks.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Close flushes and releases the store.
func (s *FileStore) Close() error {
	return s.Flush()
}
