// Package decisionlog is the secondary, queryable store for policy
// decisions (§4.4): downstream of the authoritative hash-chained audit
// log, indexed for operator lookups ("what did we decide for alert X")
// that the append-only chain is not shaped for. It is never the source
// of truth — a decision missing here is an operational gap, not a
// security incident; a decision missing from the audit chain is.
package decisionlog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ransomeye/core/pkg/policy"
	"github.com/ransomeye/core/pkg/rerrors"
)

// Driver names the backend the store is opened against.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// ConnectionConfig describes how to reach the decision log backend.
type ConnectionConfig struct {
	Driver Driver
	DSN    string // postgres: "host=... user=... dbname=..."; sqlite: a file path or ":memory:"
}

const schema = `
CREATE TABLE IF NOT EXISTS policy_decisions (
	decision_id           TEXT PRIMARY KEY,
	policy_id             TEXT NOT NULL,
	policy_version        TEXT NOT NULL,
	action                TEXT NOT NULL,
	allowed_actions       TEXT NOT NULL,
	required_approvals    TEXT NOT NULL,
	evidence_reference    TEXT NOT NULL,
	reasoning             TEXT NOT NULL,
	policy_signature_hash TEXT NOT NULL,
	recorded_at           TEXT NOT NULL
)`

// Store is the decision log handle.
type Store struct {
	db     *sql.DB
	driver Driver
}

// Open connects to the configured backend and ensures the schema exists.
func Open(cfg ConnectionConfig) (*Store, error) {
	driverName := "postgres"
	if cfg.Driver == DriverSQLite {
		driverName = "sqlite"
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, rerrors.New("decisionlog.Open", rerrors.TrustStoreError, err)
	}
	if err := db.Ping(); err != nil {
		return nil, rerrors.New("decisionlog.Open", rerrors.TrustStoreError, err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, rerrors.New("decisionlog.Open", rerrors.TrustStoreError, err)
	}
	return &Store{db: db, driver: cfg.Driver}, nil
}

// NewWithDB wraps an already-open handle (tests inject a sqlmock here).
func NewWithDB(db *sql.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Record appends a policy decision to the secondary log. This is purely
// additive bookkeeping — the audit chain append in pkg/policy is what
// makes the decision authoritative; a failure here is logged by the
// caller but must never block or reverse the policy decision already
// recorded to the chain.
func (s *Store) Record(recordedAtRFC3339 string, d *policy.Decision) error {
	actionList := d.AllowedActions
	if actionList == nil {
		actionList = []policy.Action{}
	}
	approvalList := d.RequiredApprovals
	if approvalList == nil {
		approvalList = []string{}
	}
	allowed, err := json.Marshal(actionList)
	if err != nil {
		return rerrors.New("decisionlog.Store.Record", rerrors.AuditWriteFailed, err)
	}
	approvals, err := json.Marshal(approvalList)
	if err != nil {
		return rerrors.New("decisionlog.Store.Record", rerrors.AuditWriteFailed, err)
	}

	query := fmt.Sprintf(`INSERT INTO policy_decisions
		(decision_id, policy_id, policy_version, action, allowed_actions, required_approvals,
		 evidence_reference, reasoning, policy_signature_hash, recorded_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
		s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10))

	_, err = s.db.Exec(query,
		d.DecisionID, d.PolicyID, d.PolicyVersion, string(d.Action), string(allowed), string(approvals),
		d.EvidenceReference, d.Reasoning, d.PolicySignatureHash, recordedAtRFC3339)
	if err != nil {
		return rerrors.New("decisionlog.Store.Record", rerrors.AuditWriteFailed, err)
	}
	return nil
}

// Entry is a row read back from the decision log.
type Entry struct {
	DecisionID          string
	PolicyID            string
	PolicyVersion       string
	Action              string
	EvidenceReference   string
	Reasoning           string
	PolicySignatureHash string
	RecordedAt          string
}

// ByEvidenceReference finds every decision recorded against a given
// evidence_reference (the typical operator lookup: "what did we decide
// for this detection").
func (s *Store) ByEvidenceReference(evidenceReference string) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT decision_id, policy_id, policy_version, action, evidence_reference,
		reasoning, policy_signature_hash, recorded_at FROM policy_decisions WHERE evidence_reference = %s`,
		s.placeholder(1))
	rows, err := s.db.Query(query, evidenceReference)
	if err != nil {
		return nil, rerrors.New("decisionlog.Store.ByEvidenceReference", rerrors.TrustStoreError, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.DecisionID, &e.PolicyID, &e.PolicyVersion, &e.Action, &e.EvidenceReference,
			&e.Reasoning, &e.PolicySignatureHash, &e.RecordedAt); err != nil {
			return nil, rerrors.New("decisionlog.Store.ByEvidenceReference", rerrors.TrustStoreError, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
