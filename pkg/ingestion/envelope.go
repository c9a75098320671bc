// Package ingestion implements the 9-stage admission chain event
// envelopes pass through before correlation ever sees them (§4.2):
// authenticate, signature, schema, rate limit, backpressure, buffer
// capacity, ordering, replay/freshness, dispatch. Every stage is
// fail-closed and every rejection is audited.
package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/rerrors"
)

// Envelope is the wire form sensors produce (§3). Given the same
// (producer_id, sequence_number), envelopes are byte-identical.
type Envelope struct {
	EventID        string          `json:"event_id"`
	ProducerID     string          `json:"producer_id"`
	ComponentType  string          `json:"component_type"`
	SchemaVersion  string          `json:"schema_version"`
	Timestamp      time.Time       `json:"timestamp"`
	SequenceNumber uint64          `json:"sequence_number"`
	Nonce          string          `json:"nonce"`
	EventData      json.RawMessage `json:"event_data"`
	IntegrityHash  string          `json:"integrity_hash"`
	Signature      string          `json:"signature"`
}

// canonicalFields is everything that is hashed and signed — integrity_hash
// and signature are excluded, since neither can cover itself.
type canonicalFields struct {
	EventID        string          `json:"event_id"`
	ProducerID     string          `json:"producer_id"`
	ComponentType  string          `json:"component_type"`
	SchemaVersion  string          `json:"schema_version"`
	Timestamp      time.Time       `json:"timestamp"`
	SequenceNumber uint64          `json:"sequence_number"`
	Nonce          string          `json:"nonce"`
	EventData      json.RawMessage `json:"event_data"`
}

func (e *Envelope) canonical() canonicalFields {
	return canonicalFields{
		EventID:        e.EventID,
		ProducerID:     e.ProducerID,
		ComponentType:  e.ComponentType,
		SchemaVersion:  e.SchemaVersion,
		Timestamp:      e.Timestamp,
		SequenceNumber: e.SequenceNumber,
		Nonce:          e.Nonce,
		EventData:      e.EventData,
	}
}

// canonicalHash returns the hex-encoded SHA-256 digest of e's canonical
// signing fields. A producer computes the same value to populate
// integrity_hash before signing.
func canonicalHash(e *Envelope) (string, error) {
	return canonicalize.CanonicalHash(e.canonical())
}

// verifySignature recomputes the integrity hash over the envelope's
// canonical bytes, rejects on mismatch, then verifies the stated signature
// over that same hash.
func verifySignature(e *Envelope, verifier crypto.Verifier) error {
	hash, err := canonicalHash(e)
	if err != nil {
		return rerrors.New("ingestion.verifySignature", rerrors.SignatureInvalid, err)
	}
	if hash != e.IntegrityHash {
		return rerrors.New("ingestion.verifySignature", rerrors.SignatureInvalid, nil)
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return rerrors.New("ingestion.verifySignature", rerrors.SignatureInvalid, err)
	}
	if err := verifier.Verify([]byte(hash), sig); err != nil {
		return rerrors.New("ingestion.verifySignature", rerrors.SignatureInvalid, err)
	}
	return nil
}
