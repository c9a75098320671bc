package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer := NewEd25519Signer("k1", priv)
	verifier := NewEd25519Verifier(pub)

	msg := []byte(`{"a":1}`)
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := verifier.Verify(msg, sig); err != nil {
		t.Fatalf("expected valid signature to verify: %v", err)
	}

	mutated := append([]byte(nil), msg...)
	mutated[0] = '['
	if err := verifier.Verify(mutated, sig); err == nil {
		t.Fatal("expected mutated message to fail verification")
	}
}

func TestRSASignVerifyRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := NewRSASigner("policy-key-1", priv)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := NewRSAVerifier(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte(`{"id":"P1","priority":100}`)
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := verifier.Verify(msg, sig); err != nil {
		t.Fatalf("expected valid signature to verify: %v", err)
	}

	mutated := append([]byte(nil), msg...)
	mutated[len(mutated)-1] = 'x'
	if err := verifier.Verify(mutated, sig); err == nil {
		t.Fatal("expected mutated message to fail verification")
	}
}

func TestRSAKeySizeOutsideAcceptedRangeRejected(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRSASigner("too-small", priv); err == nil {
		t.Fatal("expected 1024-bit RSA key to be rejected")
	}
}
