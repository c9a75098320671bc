package dispatcher

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
)

func TestDirective_SignProducesVerifiableSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer := crypto.NewEd25519Signer("dispatcher-key", priv)
	verifier := crypto.NewEd25519Verifier(pub)

	d := &Directive{
		DirectiveID: "d1",
		TargetScope: TargetScope{AgentIDs: []string{"a1"}},
		Action:      "isolate",
		Parameters:  map[string]interface{}{"playbook_id": "pb-1"},
	}
	if err := d.sign(signer); err != nil {
		t.Fatalf("expected sign to succeed, got %v", err)
	}
	if d.Signature == "" {
		t.Fatal("expected a non-empty signature")
	}

	sigBytes, err := hex.DecodeString(d.Signature)
	if err != nil {
		t.Fatal(err)
	}
	canonicalBytes, err := canonicalize.JCS(d.canonicalBody())
	if err != nil {
		t.Fatal(err)
	}
	if err := verifier.Verify(canonicalBytes, sigBytes); err != nil {
		t.Fatalf("expected signature to verify, got %v", err)
	}
}

func TestDirective_SignatureChangesWithBody(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer := crypto.NewEd25519Signer("dispatcher-key", priv)

	d1 := &Directive{DirectiveID: "d1", Action: "isolate", Parameters: map[string]interface{}{}}
	d2 := &Directive{DirectiveID: "d2", Action: "isolate", Parameters: map[string]interface{}{}}
	if err := d1.sign(signer); err != nil {
		t.Fatal(err)
	}
	if err := d2.sign(signer); err != nil {
		t.Fatal(err)
	}
	if d1.Signature == d2.Signature {
		t.Fatal("expected different directive IDs to produce different signatures")
	}
}
