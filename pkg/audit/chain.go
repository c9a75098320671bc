// Package audit implements the append-only, hash-chained, fsync'd audit
// log (§4.1, §8): genesis uses the fixed constant RANSOMEYE_AUDIT_GENESIS,
// each record's hash commits to the previous hash and the record's own
// canonical bytes, and each record is additionally signed with the
// writing component's Ed25519 key. Writes are serialized through a single
// mutex spanning hash-compute, write, fsync, and previous-hash update, per
// the concurrency model in §5.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/rerrors"
)

// GenesisHash is the fixed previous-hash value for the first record in
// the chain.
const GenesisHash = "RANSOMEYE_AUDIT_GENESIS"

// Record is one line of the audit log (§3).
type Record struct {
	RecordID     string          `json:"record_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Component    string          `json:"component"`
	EventType    string          `json:"event_type"`
	Actor        string          `json:"actor"`
	Host         string          `json:"host"`
	PreviousHash string          `json:"previous_hash"`
	Hash         string          `json:"hash"`
	Signature    string          `json:"signature"`
	Data         json.RawMessage `json:"data"`
}

// bodyView is the subset of fields hashed/signed: every field of a
// record except hash and signature, which are never part of what they
// themselves cover.
type bodyView struct {
	RecordID     string          `json:"record_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Component    string          `json:"component"`
	EventType    string          `json:"event_type"`
	Actor        string          `json:"actor"`
	Host         string          `json:"host"`
	PreviousHash string          `json:"previous_hash"`
	Data         json.RawMessage `json:"data"`
}

type hashedView struct {
	bodyView
	Hash string `json:"hash"`
}

// ComponentSigner resolves the Ed25519 signer this process should use
// when appending audit records on behalf of a named component.
type ComponentSigner func(component string) (*crypto.Ed25519Signer, error)

// ComponentVerifier resolves the Ed25519 verifier for a component named in
// an already-written record, for chain verification.
type ComponentVerifier func(component string) (*crypto.Ed25519Verifier, error)

// Chain is the single writer for one audit log file.
type Chain struct {
	mu   sync.Mutex
	file *os.File
	path string

	previousHash string

	signerFor   ComponentSigner
	verifierFor ComponentVerifier
}

// Open opens (creating if needed) the audit log at path for append, and
// recovers previousHash from the last line if the file is non-empty.
func Open(path string, signerFor ComponentSigner, verifierFor ComponentVerifier) (*Chain, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, rerrors.New("audit.Open", rerrors.AuditWriteFailed, err)
	}
	c := &Chain{file: f, path: path, previousHash: GenesisHash, signerFor: signerFor, verifierFor: verifierFor}

	last, err := readLastRecord(path)
	if err != nil {
		f.Close()
		return nil, rerrors.New("audit.Open", rerrors.AuditWriteFailed, err)
	}
	if last != nil {
		c.previousHash = last.Hash
	}
	return c, nil
}

func readLastRecord(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last *Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue // trailing HASH: lines or partial writes are skipped, not authoritative
		}
		rc := r
		last = &rc
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return last, nil
}

// Close releases the underlying file handle.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// Append writes one new record, signed by component's signing key, and
// fsyncs before returning. An audit write failure is fatal to the
// originating operation per §7 — callers must not proceed past an error.
func (c *Chain) Append(component, eventType, actor, host string, data interface{}) (*Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, rerrors.New("audit.Chain.Append", rerrors.AuditWriteFailed, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recordID := uuid.NewString()
	body := bodyView{
		RecordID:     recordID,
		Timestamp:    time.Now().UTC(),
		Component:    component,
		EventType:    eventType,
		Actor:        actor,
		Host:         host,
		PreviousHash: c.previousHash,
		Data:         raw,
	}
	bodyBytes, err := canonicalize.JCS(body)
	if err != nil {
		return nil, rerrors.New("audit.Chain.Append", rerrors.AuditWriteFailed, err)
	}

	digest := sha256.Sum256(append([]byte(c.previousHash), bodyBytes...))
	hash := hex.EncodeToString(digest[:])

	signBytes, err := canonicalize.JCS(hashedView{bodyView: body, Hash: hash})
	if err != nil {
		return nil, rerrors.New("audit.Chain.Append", rerrors.AuditWriteFailed, err)
	}

	signer, err := c.signerFor(component)
	if err != nil {
		return nil, rerrors.New("audit.Chain.Append", rerrors.AuditWriteFailed, err)
	}
	sig, err := signer.Sign(signBytes)
	if err != nil {
		return nil, rerrors.New("audit.Chain.Append", rerrors.AuditWriteFailed, err)
	}

	record := &Record{
		RecordID:     recordID,
		Timestamp:    body.Timestamp,
		Component:    body.Component,
		EventType:    body.EventType,
		Actor:        body.Actor,
		Host:         body.Host,
		PreviousHash: body.PreviousHash,
		Hash:         hash,
		Signature:    hex.EncodeToString(sig),
		Data:         raw,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return nil, rerrors.New("audit.Chain.Append", rerrors.AuditWriteFailed, err)
	}
	line = append(line, '\n')
	if _, err := c.file.Write(line); err != nil {
		return nil, rerrors.New("audit.Chain.Append", rerrors.AuditWriteFailed, err)
	}
	if err := c.file.Sync(); err != nil {
		return nil, rerrors.New("audit.Chain.Append", rerrors.AuditWriteFailed, err)
	}

	c.previousHash = hash
	return record, nil
}

// VerifyChain replays the whole log from genesis, recomputing each hash
// and signature. It returns the index of the first mismatching record, or
// -1 if the whole chain verifies.
func (c *Chain) VerifyChain() (int, error) {
	records, err := ReadAll(c.path)
	if err != nil {
		return -1, rerrors.New("audit.Chain.VerifyChain", rerrors.AuditWriteFailed, err)
	}
	return VerifyRecords(records, c.verifierFor)
}

// ReadAll parses every record line in an audit log file, in file order.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// VerifyRecords re-derives each record's hash and signature against the
// record before it, failing at the first mismatch.
func VerifyRecords(records []Record, verifierFor ComponentVerifier) (int, error) {
	previousHash := GenesisHash
	for i, r := range records {
		if r.PreviousHash != previousHash {
			return i, fmt.Errorf("record %d: previous_hash mismatch: got %s want %s", i, r.PreviousHash, previousHash)
		}
		body := bodyView{
			RecordID:     r.RecordID,
			Timestamp:    r.Timestamp,
			Component:    r.Component,
			EventType:    r.EventType,
			Actor:        r.Actor,
			Host:         r.Host,
			PreviousHash: r.PreviousHash,
			Data:         r.Data,
		}
		bodyBytes, err := canonicalize.JCS(body)
		if err != nil {
			return i, fmt.Errorf("record %d: canonicalize: %w", i, err)
		}
		digest := sha256.Sum256(append([]byte(previousHash), bodyBytes...))
		wantHash := hex.EncodeToString(digest[:])
		if r.Hash != wantHash {
			return i, fmt.Errorf("record %d: hash mismatch: got %s want %s", i, r.Hash, wantHash)
		}

		signBytes, err := canonicalize.JCS(hashedView{bodyView: body, Hash: r.Hash})
		if err != nil {
			return i, fmt.Errorf("record %d: canonicalize: %w", i, err)
		}
		sig, err := hex.DecodeString(r.Signature)
		if err != nil {
			return i, fmt.Errorf("record %d: signature decode: %w", i, err)
		}
		verifier, err := verifierFor(r.Component)
		if err != nil {
			return i, fmt.Errorf("record %d: %w", i, err)
		}
		if err := verifier.Verify(signBytes, sig); err != nil {
			return i, fmt.Errorf("record %d: signature invalid: %w", i, err)
		}

		previousHash = r.Hash
	}
	return -1, nil
}
