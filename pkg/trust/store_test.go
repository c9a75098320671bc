package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSelfSignedCert(t *testing.T, path string, pub ed25519.PublicKey, priv ed25519.PrivateKey) {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestStoreLoadAndImmutability(t *testing.T) {
	root := t.TempDir()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	writeSelfSignedCert(t, filepath.Join(root, "root_ca.pem"), pub, priv)

	if err := os.Mkdir(filepath.Join(root, "producers"), 0755); err != nil {
		t.Fatal(err)
	}
	prodPub, prodPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	writeSelfSignedCert(t, filepath.Join(root, "producers", "dpi1.pem"), prodPub, prodPriv)

	store := New()
	if err := store.Load(root, LoadOptions{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := store.ProducerVerifier("dpi1"); err != nil {
		t.Fatalf("expected known producer to resolve: %v", err)
	}
	if _, err := store.ProducerVerifier("unknown"); err == nil {
		t.Fatal("expected unknown producer to fail")
	}

	if err := store.Load(root, LoadOptions{}); err == nil {
		t.Fatal("expected second Load call to fail (immutability)")
	}
}

func TestSealedSigningKeyRoundTrip(t *testing.T) {
	root := t.TempDir()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	writeSelfSignedCert(t, filepath.Join(root, "root_ca.pem"), pub, priv)

	signingDir := filepath.Join(root, "signing_keys")
	if err := os.Mkdir(signingDir, 0755); err != nil {
		t.Fatal(err)
	}

	_, componentPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	var sealKey [32]byte
	copy(sealKey[:], []byte("0123456789abcdef0123456789abcdef"))
	var nonce [nonceSize]byte
	copy(nonce[:], []byte("abcdefghijklmnopqrstuvwx"))
	sealed := SealSigningKey(componentPriv, &sealKey, &nonce)
	if err := os.WriteFile(filepath.Join(signingDir, "ingestion.sealed"), sealed, 0600); err != nil {
		t.Fatal(err)
	}

	store := New()
	if err := store.Load(root, LoadOptions{SealKey: &sealKey}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	signer, err := store.ComponentSigner("ingestion")
	if err != nil {
		t.Fatalf("expected ingestion signer to load: %v", err)
	}
	if _, err := signer.Sign([]byte("hello")); err != nil {
		t.Fatal(err)
	}
}
