package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rxgateway/internal/attestation/models"
	"rxgateway/pkg/platform/sentinel"
)

type FileStoreSuite struct {
	suite.Suite
	dir  string
	path string
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreSuite))
}

func (s *FileStoreSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.path = filepath.Join(s.dir, "attestations.json")
}

func (s *FileStoreSuite) open() *FileStore {
	st, err := Open(s.path, slog.Default())
	s.Require().NoError(err)
	return st
}

func (s *FileStoreSuite) sampleAttestation(id, code, doctor, patient string) models.DoctorAttestation {
	return models.DoctorAttestation{
		AttestationID:  id,
		ApprovalCode:   code,
		DoctorWallet:   doctor,
		PatientWallet:  patient,
		MedicationCode: "amoxicillin_500mg_capsule",
		Schedule:       "none",
		Quantity:       30,
		IssuedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ValidUntil:     time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		CanPurchase:    true,
		Signature:      "deadbeef",
	}
}

func (s *FileStoreSuite) TestRoundTripThroughSnapshot() {
	st := s.open()
	att := s.sampleAttestation("att-1", "APC-AAA111", "0xd0c", "0xpat")
	s.Require().NoError(st.PutAttestation(att))
	s.Require().NoError(st.PutVerifiedPatient(models.VerifiedPatient{
		DoctorWallet:      "0xd0c",
		PatientWallet:     "0xpat",
		PatientToken:      "pat_000000000000000000000000",
		LegalIdentityHash: "abc123",
	}))
	s.Require().NoError(st.PutApprovalRequest(models.ApprovalRequest{
		RequestID:          "req-1",
		DoctorWallet:       "0xd0c",
		PatientWallet:      "0xpat",
		MedicationCode:     "amoxicillin_500mg_capsule",
		VerificationStatus: models.StatusRegistryVerified,
	}))

	// A second Open hydrates everything from disk.
	st2 := s.open()
	got, err := st2.GetAttestation("att-1")
	s.Require().NoError(err)
	s.Equal(att.ApprovalCode, got.ApprovalCode)

	byCode, err := st2.GetByApprovalCode("APC-AAA111")
	s.Require().NoError(err)
	s.Equal("att-1", byCode.AttestationID)

	_, err = st2.GetVerifiedPatient("0xD0C", "0xPAT")
	s.NoError(err, "pair lookup is case-insensitive")

	req, err := st2.GetApprovalRequest("req-1")
	s.Require().NoError(err)
	s.Equal(models.StatusRegistryVerified, req.VerificationStatus)
}

func (s *FileStoreSuite) TestSnapshotShape() {
	st := s.open()
	s.Require().NoError(st.PutAttestation(s.sampleAttestation("att-1", "APC-AAA111", "0xd0c", "0xpat")))

	raw, err := os.ReadFile(s.path)
	s.Require().NoError(err)

	var snap map[string]json.RawMessage
	s.Require().NoError(json.Unmarshal(raw, &snap))
	s.Contains(snap, "version")
	s.Contains(snap, "complianceRecords")
	s.Contains(snap, "doctorAttestations")
	s.Contains(snap, "doctorVerifiedPatients")
	s.Contains(snap, "doctorApprovalRequests")

	var entries [][]json.RawMessage
	s.Require().NoError(json.Unmarshal(snap["doctorAttestations"], &entries))
	s.Require().Len(entries, 1)
	s.Len(entries[0], 2, "each record persists as a [key, value] pair")
}

func (s *FileStoreSuite) TestMalformedSnapshotHydratesEmpty() {
	s.Require().NoError(os.WriteFile(s.path, []byte("{not json"), 0o600))
	st := s.open()
	_, err := st.GetAttestation("anything")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *FileStoreSuite) TestWrongVersionHydratesEmpty() {
	s.Require().NoError(os.WriteFile(s.path, []byte(`{"version":2,"doctorAttestations":[["x",{}]]}`), 0o600))
	st := s.open()
	_, err := st.GetAttestation("x")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *FileStoreSuite) TestNoTempFilesLeftBehind() {
	st := s.open()
	s.Require().NoError(st.PutAttestation(s.sampleAttestation("att-1", "APC-AAA111", "0xd0c", "0xpat")))
	s.Require().NoError(st.Flush())

	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Len(entries, 1, "only the snapshot itself should remain")
}

func (s *FileStoreSuite) TestMigratePatientWallet() {
	st := s.open()
	s.Require().NoError(st.PutVerifiedPatient(models.VerifiedPatient{
		DoctorWallet:      "0xd0c",
		PatientWallet:     "0xold",
		LegalIdentityHash: "hash-1",
	}))
	s.Require().NoError(st.PutAttestation(s.sampleAttestation("att-1", "APC-AAA111", "0xd0c", "0xold")))
	s.Require().NoError(st.PutAttestation(s.sampleAttestation("att-2", "APC-BBB222", "0xd0c", "0xold")))
	// Different doctor, same patient wallet: must not be touched.
	s.Require().NoError(st.PutAttestation(s.sampleAttestation("att-3", "APC-CCC333", "0xother", "0xold")))

	rec, touched, err := st.MigratePatientWallet("0xd0c", "0xold", "0xnew")
	s.Require().NoError(err)
	s.Equal(2, touched)
	s.Equal("0xnew", rec.PatientWallet)
	s.Equal("hash-1", rec.LegalIdentityHash, "rest of the record survives migration")

	_, err = st.GetVerifiedPatient("0xd0c", "0xold")
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = st.GetVerifiedPatient("0xd0c", "0xnew")
	s.NoError(err)

	att, err := st.GetAttestation("att-1")
	s.Require().NoError(err)
	s.Equal("0xnew", att.PatientWallet)

	other, err := st.GetAttestation("att-3")
	s.Require().NoError(err)
	s.Equal("0xold", other.PatientWallet)
}

func (s *FileStoreSuite) TestMigrateMissingPairFails() {
	st := s.open()
	_, _, err := st.MigratePatientWallet("0xd0c", "0xold", "0xnew")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *FileStoreSuite) TestFindAttestationVariant() {
	st := s.open()
	s.Require().NoError(st.PutAttestation(s.sampleAttestation("att-1", "APC-AAA111", "0xd0c", "0xpat")))
	s.Require().NoError(st.PutComplianceRecord(models.ComplianceRecord{
		RecordID:      "rec-legacy-1",
		PatientWallet: "0xpat",
	}))

	v, err := st.FindAttestationVariant("att-1")
	s.Require().NoError(err)
	s.NotNil(v.DoctorFiled)
	s.Nil(v.Intake)

	v, err = st.FindAttestationVariant("rec-legacy-1")
	s.Require().NoError(err)
	s.Nil(v.DoctorFiled)
	s.NotNil(v.Intake)

	_, err = st.FindAttestationVariant("missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
