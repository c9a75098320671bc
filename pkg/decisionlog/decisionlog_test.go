package decisionlog

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ransomeye/core/pkg/policy"
)

func TestRecord_InsertsPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewWithDB(db, DriverPostgres)
	mock.ExpectExec("INSERT INTO policy_decisions").WithArgs(
		"d1", "p1", "1.0.0", "allow", "[]", "[]", "ev-1", "because", "hash1", "2026-01-01T00:00:00Z",
	).WillReturnResult(sqlmock.NewResult(1, 1))

	d := &policy.Decision{
		DecisionID: "d1", PolicyID: "p1", PolicyVersion: "1.0.0", Action: policy.ActionAllow,
		EvidenceReference: "ev-1", Reasoning: "because", PolicySignatureHash: "hash1",
	}
	if err := store.Record("2026-01-01T00:00:00Z", d); err != nil {
		t.Fatalf("expected insert to succeed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestByEvidenceReference_ReturnsMatchingRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewWithDB(db, DriverSQLite)
	rows := sqlmock.NewRows([]string{
		"decision_id", "policy_id", "policy_version", "action", "evidence_reference",
		"reasoning", "policy_signature_hash", "recorded_at",
	}).AddRow("d1", "p1", "1.0.0", "allow", "ev-1", "because", "hash1", "2026-01-01T00:00:00Z")
	mock.ExpectQuery("SELECT decision_id").WithArgs("ev-1").WillReturnRows(rows)

	entries, err := store.ByEvidenceReference("ev-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].DecisionID != "d1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
