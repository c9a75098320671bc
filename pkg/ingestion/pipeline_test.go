package ingestion

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/ransomeye/core/pkg/acl"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/ratelimit"
	"github.com/ransomeye/core/pkg/replay"
	"github.com/ransomeye/core/pkg/rerrors"
	"github.com/ransomeye/core/pkg/schema"
)

const testProcessSchema = `{
  "type": "object",
  "required": ["pid"],
  "properties": {"pid": {"type": "integer"}}
}`

type fakeTrustStore struct {
	verifiers map[string]*crypto.Ed25519Verifier
}

func (f *fakeTrustStore) ProducerVerifier(producerID string) (*crypto.Ed25519Verifier, error) {
	v, ok := f.verifiers[producerID]
	if !ok {
		return nil, rerrors.New("fakeTrustStore.ProducerVerifier", rerrors.TrustStoreError, nil)
	}
	return v, nil
}

func newTestPipeline(t *testing.T, producerID string) (*Pipeline, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	trust := &fakeTrustStore{verifiers: map[string]*crypto.Ed25519Verifier{
		producerID: crypto.NewEd25519Verifier(pub),
	}}

	schemas := schema.NewRegistry()
	if err := schemas.Register("dpi-process", "v1", testProcessSchema); err != nil {
		t.Fatal(err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		GlobalLimit: 1000, ProducerLimit: 1000, ComponentLimit: 1000, Window: time.Minute,
	})
	protector := replay.New(30*time.Second, 5*time.Minute, 5*time.Minute, nil)

	p := New(Config{
		Trust:          trust,
		RoleOf:         func(string) acl.Role { return acl.RoleDPI },
		Schemas:        schemas,
		Limiter:        limiter,
		Replay:         protector,
		BufferCapacity: 4,
	})
	return p, priv
}

func signEnvelope(t *testing.T, priv ed25519.PrivateKey, producerID string, seq uint64, nonce string) *Envelope {
	t.Helper()
	e := &Envelope{
		EventID:        "evt-" + nonce,
		ProducerID:     producerID,
		ComponentType:  "dpi-process",
		SchemaVersion:  "v1",
		Timestamp:      time.Now().UTC(),
		SequenceNumber: seq,
		Nonce:          nonce,
		EventData:      json.RawMessage(`{"pid":1234}`),
	}
	hash, err := canonicalHash(e)
	if err != nil {
		t.Fatal(err)
	}
	e.IntegrityHash = hash
	sig := ed25519.Sign(priv, []byte(hash))
	e.Signature = hex.EncodeToString(sig)
	return e
}

func TestAdmit_AcceptsValidEnvelope(t *testing.T) {
	p, priv := newTestPipeline(t, "dpi1")
	e := signEnvelope(t, priv, "dpi1", 1, "nonce-1")
	result := p.Admit(context.Background(), e, "dpi1", ratelimit.PriorityInfo)
	if result.Response != Accepted {
		t.Fatalf("expected ACCEPTED, got %s (%s)", result.Response, result.Reason)
	}
}

func TestAdmit_RejectsTransportIdentityMismatch(t *testing.T) {
	p, priv := newTestPipeline(t, "dpi1")
	e := signEnvelope(t, priv, "dpi1", 1, "nonce-1")
	result := p.Admit(context.Background(), e, "someone-else", ratelimit.PriorityInfo)
	if result.Response != Rejected || result.Reason != rerrors.AuthenticationFailed {
		t.Fatalf("expected REJECTED/AuthenticationFailed, got %s/%s", result.Response, result.Reason)
	}
}

func TestAdmit_RejectsBadSignature(t *testing.T) {
	p, priv := newTestPipeline(t, "dpi1")
	e := signEnvelope(t, priv, "dpi1", 1, "nonce-1")
	e.EventData = json.RawMessage(`{"pid":9999}`) // mutated after signing
	result := p.Admit(context.Background(), e, "dpi1", ratelimit.PriorityInfo)
	if result.Response != Rejected || result.Reason != rerrors.SignatureInvalid {
		t.Fatalf("expected REJECTED/SignatureInvalid, got %s/%s", result.Response, result.Reason)
	}
}

func TestAdmit_RejectsSchemaViolation(t *testing.T) {
	p, priv := newTestPipeline(t, "dpi1")
	e := &Envelope{
		EventID:        "evt-bad-schema",
		ProducerID:     "dpi1",
		ComponentType:  "dpi-process",
		SchemaVersion:  "v1",
		Timestamp:      time.Now().UTC(),
		SequenceNumber: 1,
		Nonce:          "nonce-1",
		EventData:      json.RawMessage(`{}`), // missing required "pid"
	}
	hash, _ := canonicalHash(e)
	e.IntegrityHash = hash
	e.Signature = hex.EncodeToString(ed25519.Sign(priv, []byte(hash)))

	result := p.Admit(context.Background(), e, "dpi1", ratelimit.PriorityInfo)
	if result.Response != Rejected || result.Reason != rerrors.SchemaInvalid {
		t.Fatalf("expected REJECTED/SchemaInvalid, got %s/%s", result.Response, result.Reason)
	}
}

func TestAdmit_SequenceRegressionIsOrderingViolation(t *testing.T) {
	p, priv := newTestPipeline(t, "ag1")
	first := signEnvelope(t, priv, "ag1", 10, "nonce-a")
	if r := p.Admit(context.Background(), first, "ag1", ratelimit.PriorityInfo); r.Response != Accepted {
		t.Fatalf("expected first event accepted, got %s", r.Response)
	}
	second := signEnvelope(t, priv, "ag1", 5, "nonce-b")
	r := p.Admit(context.Background(), second, "ag1", ratelimit.PriorityInfo)
	if r.Response != OrderingViolation {
		t.Fatalf("expected ORDERING_VIOLATION, got %s", r.Response)
	}
}

func TestAdmit_DuplicateNonceIsRejected(t *testing.T) {
	p, priv := newTestPipeline(t, "dpi1")
	first := signEnvelope(t, priv, "dpi1", 10, "nonce-dup")
	if r := p.Admit(context.Background(), first, "dpi1", ratelimit.PriorityInfo); r.Response != Accepted {
		t.Fatalf("expected first event accepted, got %s", r.Response)
	}
	second := signEnvelope(t, priv, "dpi1", 11, "nonce-dup")
	r := p.Admit(context.Background(), second, "dpi1", ratelimit.PriorityInfo)
	if r.Response != Rejected || r.Reason != rerrors.ReplayDetected {
		t.Fatalf("expected REJECTED/ReplayDetected, got %s/%s", r.Response, r.Reason)
	}
}

func TestAdmit_BufferFullSetsBackpressureForSubsequentEvents(t *testing.T) {
	p, priv := newTestPipeline(t, "dpi1")
	// capacity is 4 and nothing drains the buffer in this test, so the
	// 5th distinct event should overflow it.
	for i := uint64(1); i <= 4; i++ {
		e := signEnvelope(t, priv, "dpi1", i, "nonce-fill")
		e.Nonce = e.Nonce + string(rune('a'+i))
		e.IntegrityHash, _ = canonicalHash(e)
		e.Signature = hex.EncodeToString(ed25519.Sign(priv, []byte(e.IntegrityHash)))
		if r := p.Admit(context.Background(), e, "dpi1", ratelimit.PriorityInfo); r.Response != Accepted {
			t.Fatalf("expected event %d accepted, got %s", i, r.Response)
		}
	}
	overflow := signEnvelope(t, priv, "dpi1", 5, "nonce-overflow")
	r := p.Admit(context.Background(), overflow, "dpi1", ratelimit.PriorityInfo)
	if r.Response != BufferFull {
		t.Fatalf("expected BUFFER_FULL, got %s", r.Response)
	}

	// Backpressure is now set for dpi1: even a well-formed next event is
	// rejected at stage 5 before reaching the buffer again.
	next := signEnvelope(t, priv, "dpi1", 6, "nonce-after-overflow")
	r = p.Admit(context.Background(), next, "dpi1", ratelimit.PriorityInfo)
	if r.Response != BackpressureActive {
		t.Fatalf("expected BACKPRESSURE_ACTIVE, got %s", r.Response)
	}
}

func TestAdmit_ACLViolationForDisallowedRole(t *testing.T) {
	p, priv := newTestPipeline(t, "ui1")
	p.roleOf = func(string) acl.Role { return acl.RoleUI }
	e := signEnvelope(t, priv, "ui1", 1, "nonce-1")
	r := p.Admit(context.Background(), e, "ui1", ratelimit.PriorityInfo)
	if r.Response != ACLViolation {
		t.Fatalf("expected ACL_VIOLATION, got %s", r.Response)
	}
}
