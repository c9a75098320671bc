package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/ransomeye/core/pkg/crypto"
)

func testKeyring(t *testing.T) (ComponentSigner, ComponentVerifier) {
	t.Helper()
	keys := map[string]ed25519.PrivateKey{}
	pubs := map[string]ed25519.PublicKey{}
	mk := func(component string) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		keys[component] = priv
		pubs[component] = pub
	}
	mk("ingestion")
	mk("correlation")

	signerFor := func(component string) (*crypto.Ed25519Signer, error) {
		priv, ok := keys[component]
		if !ok {
			pub, p, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return nil, err
			}
			keys[component] = p
			pubs[component] = pub
			priv = p
		}
		return crypto.NewEd25519Signer(component, priv), nil
	}
	verifierFor := func(component string) (*crypto.Ed25519Verifier, error) {
		pub, ok := pubs[component]
		if !ok {
			return nil, errNotFound(component)
		}
		return crypto.NewEd25519Verifier(pub), nil
	}
	return signerFor, verifierFor
}

type notFoundErr string

func (e notFoundErr) Error() string { return "unknown component: " + string(e) }
func errNotFound(component string) error { return notFoundErr(component) }

func TestChainAppendAndVerify(t *testing.T) {
	dir := t.TempDir()
	signerFor, verifierFor := testKeyring(t)

	chain, err := Open(filepath.Join(dir, "audit.jsonl"), signerFor, verifierFor)
	if err != nil {
		t.Fatal(err)
	}
	defer chain.Close()

	first, err := chain.Append("ingestion", "EventAccepted", "dpi1", "host-1", map[string]string{"event_id": "e1"})
	if err != nil {
		t.Fatal(err)
	}
	if first.PreviousHash != GenesisHash {
		t.Fatalf("expected genesis previous hash, got %s", first.PreviousHash)
	}

	second, err := chain.Append("correlation", "DetectionEmitted", "core", "host-1", map[string]string{"entity_id": "ent1"})
	if err != nil {
		t.Fatal(err)
	}
	if second.PreviousHash != first.Hash {
		t.Fatalf("expected chained previous hash")
	}

	idx, err := chain.VerifyChain()
	if err != nil || idx != -1 {
		t.Fatalf("expected clean verification, got idx=%d err=%v", idx, err)
	}
}

func TestChainVerifyDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	signerFor, verifierFor := testKeyring(t)

	path := filepath.Join(dir, "audit.jsonl")
	chain, err := Open(path, signerFor, verifierFor)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := chain.Append("ingestion", "EventAccepted", "dpi1", "host-1", map[string]string{"event_id": "e1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := chain.Append("ingestion", "EventAccepted", "dpi1", "host-1", map[string]string{"event_id": "e2"}); err != nil {
		t.Fatal(err)
	}
	chain.Close()

	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	records[0].Actor = "tampered"

	idx, err := VerifyRecords(records, verifierFor)
	if err == nil {
		t.Fatal("expected tamper to be detected")
	}
	if idx != 0 {
		t.Fatalf("expected mismatch at index 0, got %d", idx)
	}
}
