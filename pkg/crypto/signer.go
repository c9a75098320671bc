// Package crypto implements the two signing algorithms the trust plane
// pins per artifact class: Ed25519 for events and audit records, RSA
// PKCS#1 v1.5 with SHA-256 for policies and playbooks. Mixed algorithms
// are never accepted for a given artifact class — callers ask for a
// specific algorithm's Signer/Verifier rather than getting one that
// auto-detects from the key.
package crypto

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/ransomeye/core/pkg/rerrors"
)

// Class names an artifact class for the purpose of algorithm pinning.
type Class string

const (
	ClassEvent  Class = "event"  // Ed25519
	ClassAudit  Class = "audit"  // Ed25519
	ClassPolicy Class = "policy" // RSA PKCS1v15+SHA256
	// ClassPlaybook shares the policy class's algorithm.
	ClassPlaybook Class = "playbook" // RSA PKCS1v15+SHA256
)

// AlgorithmFor returns the pinned algorithm name for a class.
func AlgorithmFor(c Class) string {
	switch c {
	case ClassEvent, ClassAudit:
		return "ed25519"
	case ClassPolicy, ClassPlaybook:
		return "rsa-pkcs1v15-sha256"
	default:
		return "unknown"
	}
}

const (
	rsaMinBits = 2048
	rsaMaxBits = 8192
)

// Signer produces a signature over already-canonical bytes.
type Signer interface {
	Sign(canonicalBytes []byte) ([]byte, error)
	Algorithm() string
	KeyID() string
}

// Verifier checks a signature against already-canonical bytes.
type Verifier interface {
	Verify(canonicalBytes, signature []byte) error
	Algorithm() string
}

// Ed25519Signer signs events and audit records.
type Ed25519Signer struct {
	keyID string
	priv  ed25519.PrivateKey
}

func NewEd25519Signer(keyID string, priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{keyID: keyID, priv: priv}
}

func (s *Ed25519Signer) Sign(canonicalBytes []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, canonicalBytes), nil
}

func (s *Ed25519Signer) Algorithm() string { return "ed25519" }
func (s *Ed25519Signer) KeyID() string     { return s.keyID }
func (s *Ed25519Signer) Public() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Ed25519Verifier verifies events and audit records.
type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

func NewEd25519Verifier(pub ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{pub: pub}
}

func (v *Ed25519Verifier) Algorithm() string { return "ed25519" }

func (v *Ed25519Verifier) Verify(canonicalBytes, signature []byte) error {
	if len(v.pub) != ed25519.PublicKeySize {
		return rerrors.New("crypto.Ed25519Verifier.Verify", rerrors.SignatureInvalid,
			fmt.Errorf("public key has wrong size %d", len(v.pub)))
	}
	if len(signature) != ed25519.SignatureSize {
		return rerrors.New("crypto.Ed25519Verifier.Verify", rerrors.SignatureInvalid,
			fmt.Errorf("signature has wrong size %d", len(signature)))
	}
	if !ed25519.Verify(v.pub, canonicalBytes, signature) {
		return rerrors.New("crypto.Ed25519Verifier.Verify", rerrors.SignatureInvalid, nil)
	}
	return nil
}

// RSASigner signs policies and playbooks.
type RSASigner struct {
	keyID string
	priv  *rsa.PrivateKey
}

func NewRSASigner(keyID string, priv *rsa.PrivateKey) (*RSASigner, error) {
	bits := priv.N.BitLen()
	if bits < rsaMinBits || bits > rsaMaxBits {
		return nil, rerrors.New("crypto.NewRSASigner", rerrors.TrustStoreError,
			fmt.Errorf("rsa key size %d bits outside accepted range [%d,%d]", bits, rsaMinBits, rsaMaxBits))
	}
	return &RSASigner{keyID: keyID, priv: priv}, nil
}

func (s *RSASigner) Sign(canonicalBytes []byte) ([]byte, error) {
	digest := sha256.Sum256(canonicalBytes)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, rerrors.New("crypto.RSASigner.Sign", rerrors.SignatureInvalid, err)
	}
	return sig, nil
}

func (s *RSASigner) Algorithm() string { return "rsa-pkcs1v15-sha256" }
func (s *RSASigner) KeyID() string     { return s.keyID }

// RSAVerifier verifies policies and playbooks.
type RSAVerifier struct {
	pub *rsa.PublicKey
}

func NewRSAVerifier(pub *rsa.PublicKey) (*RSAVerifier, error) {
	bits := pub.N.BitLen()
	if bits < rsaMinBits || bits > rsaMaxBits {
		return nil, rerrors.New("crypto.NewRSAVerifier", rerrors.TrustStoreError,
			fmt.Errorf("rsa key size %d bits outside accepted range [%d,%d]", bits, rsaMinBits, rsaMaxBits))
	}
	return &RSAVerifier{pub: pub}, nil
}

func (v *RSAVerifier) Algorithm() string { return "rsa-pkcs1v15-sha256" }

func (v *RSAVerifier) Verify(canonicalBytes, signature []byte) error {
	digest := sha256.Sum256(canonicalBytes)
	if err := rsa.VerifyPKCS1v15(v.pub, crypto.SHA256, digest[:], signature); err != nil {
		return rerrors.New("crypto.RSAVerifier.Verify", rerrors.SignatureInvalid, err)
	}
	return nil
}
