// Package trust implements the directory-based trust store: loaded once at
// boot, immutable for the process lifetime, any later injection attempt
// fails with a TrustStoreError rather than silently succeeding.
//
// Expected directory layout under the configured root:
//
//	root_ca.pem              x509 root CA certificate (mTLS anchor)
//	producers/*.pem          one x509 cert per producer_id (file stem)
//	policy_keys/*.pem        RSA public keys, file stem is the key_id
//	playbook_keys/*.pem      RSA public keys, file stem is the key_id
//	model_keys/*.pem         Ed25519 public keys, optional (MODEL_PUBLIC_KEY_PATH)
//	signing_keys/*.sealed    secretbox-sealed Ed25519 private keys, file
//	                         stem is the component name, mode 0600
package trust

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/rerrors"
)

// Store is the boot-time-loaded, then-immutable trust store.
type Store struct {
	mu          sync.RWMutex
	initialized bool

	rootCA *x509.Certificate

	producerCerts map[string]*x509.Certificate
	policyKeys    map[string]*rsa.PublicKey
	playbookKeys  map[string]*rsa.PublicKey
	modelKeys     map[string]ed25519.PublicKey

	signingKeys map[string]ed25519.PrivateKey
}

// New returns an unloaded Store. Call Load exactly once.
func New() *Store {
	return &Store{
		producerCerts: make(map[string]*x509.Certificate),
		policyKeys:    make(map[string]*rsa.PublicKey),
		playbookKeys:  make(map[string]*rsa.PublicKey),
		modelKeys:     make(map[string]ed25519.PublicKey),
		signingKeys:   make(map[string]ed25519.PrivateKey),
	}
}

// LoadOptions controls optional load behavior.
type LoadOptions struct {
	// ModelKeysPath enables AI-artifact verification when set (§6,
	// MODEL_PUBLIC_KEY_PATH). Empty means models are not verifiable and
	// any attempt to verify one fails closed.
	ModelKeysPath string
	// SealKey unseals signing_keys/*.sealed files. Required if that
	// directory is non-empty.
	SealKey *[32]byte
}

// Load reads the trust store directory exactly once. A second call
// returns a TrustStoreError without mutating anything — this is the
// "any attempt to inject a key at runtime fails with an internal error"
// requirement.
func (s *Store) Load(root string, opts LoadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return rerrors.New("trust.Store.Load", rerrors.TrustStoreError,
			fmt.Errorf("trust store already initialized; runtime key injection is forbidden"))
	}

	rootCAPath := filepath.Join(root, "root_ca.pem")
	rootCA, err := loadCertificate(rootCAPath)
	if err != nil {
		return rerrors.New("trust.Store.Load", rerrors.TrustStoreError,
			fmt.Errorf("root CA: %w", err))
	}
	s.rootCA = rootCA

	if err := s.loadProducerCerts(filepath.Join(root, "producers")); err != nil {
		return err
	}
	if err := s.loadRSAKeyDir(filepath.Join(root, "policy_keys"), s.policyKeys); err != nil {
		return err
	}
	if err := s.loadRSAKeyDir(filepath.Join(root, "playbook_keys"), s.playbookKeys); err != nil {
		return err
	}
	if opts.ModelKeysPath != "" {
		if err := s.loadEd25519KeyDir(opts.ModelKeysPath, s.modelKeys); err != nil {
			return err
		}
	}
	signingDir := filepath.Join(root, "signing_keys")
	if entries, err := os.ReadDir(signingDir); err == nil && len(entries) > 0 {
		if opts.SealKey == nil {
			return rerrors.New("trust.Store.Load", rerrors.TrustStoreError,
				fmt.Errorf("signing_keys present but no seal key supplied"))
		}
		if err := s.loadSigningKeys(signingDir, opts.SealKey); err != nil {
			return err
		}
	}

	s.initialized = true
	return nil
}

// RootCA returns the trust anchor certificate, for mTLS configuration.
func (s *Store) RootCA() *x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootCA
}

// ProducerVerifier returns an Ed25519 verifier for an ingestion producer's
// identity, or TrustStoreError if the producer is unknown.
func (s *Store) ProducerVerifier(producerID string) (*crypto.Ed25519Verifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.producerCerts[producerID]
	if !ok {
		return nil, rerrors.New("trust.Store.ProducerVerifier", rerrors.TrustStoreError,
			fmt.Errorf("unknown producer_id %q", producerID))
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, rerrors.New("trust.Store.ProducerVerifier", rerrors.TrustStoreError,
			fmt.Errorf("producer %q certificate is not ed25519", producerID))
	}
	return crypto.NewEd25519Verifier(pub), nil
}

// ProducerCertificate exposes the raw certificate for expiry/mTLS checks.
func (s *Store) ProducerCertificate(producerID string) (*x509.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.producerCerts[producerID]
	return cert, ok
}

// PolicyVerifier returns the RSA verifier for a policy signing key_id.
func (s *Store) PolicyVerifier(keyID string) (*crypto.RSAVerifier, error) {
	return s.rsaVerifier(s.policyKeys, "PolicyVerifier", keyID)
}

// PlaybookVerifier returns the RSA verifier for a playbook signing key_id.
func (s *Store) PlaybookVerifier(keyID string) (*crypto.RSAVerifier, error) {
	return s.rsaVerifier(s.playbookKeys, "PlaybookVerifier", keyID)
}

func (s *Store) rsaVerifier(set map[string]*rsa.PublicKey, op, keyID string) (*crypto.RSAVerifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := set[keyID]
	if !ok {
		return nil, rerrors.New("trust.Store."+op, rerrors.TrustStoreError,
			fmt.Errorf("unknown key_id %q", keyID))
	}
	return crypto.NewRSAVerifier(pub)
}

// ModelVerifier returns an Ed25519 verifier for AI-artifact key_id. Fails
// closed (TrustStoreError) if MODEL_PUBLIC_KEY_PATH was never configured.
func (s *Store) ModelVerifier(keyID string) (*crypto.Ed25519Verifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.modelKeys[keyID]
	if !ok {
		return nil, rerrors.New("trust.Store.ModelVerifier", rerrors.TrustStoreError,
			fmt.Errorf("unknown or unconfigured model key_id %q", keyID))
	}
	return crypto.NewEd25519Verifier(pub), nil
}

// ComponentSigner returns this process's unsealed signing key for a named
// component (e.g. "ingestion", "dispatcher", "audit").
func (s *Store) ComponentSigner(component string) (*crypto.Ed25519Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	priv, ok := s.signingKeys[component]
	if !ok {
		return nil, rerrors.New("trust.Store.ComponentSigner", rerrors.TrustStoreError,
			fmt.Errorf("no signing key loaded for component %q", component))
	}
	return crypto.NewEd25519Signer(component, priv), nil
}

func (s *Store) loadProducerCerts(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rerrors.New("trust.Store.loadProducerCerts", rerrors.TrustStoreError, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		cert, err := loadCertificate(filepath.Join(dir, e.Name()))
		if err != nil {
			return rerrors.New("trust.Store.loadProducerCerts", rerrors.TrustStoreError,
				fmt.Errorf("%s: %w", e.Name(), err))
		}
		producerID := strings.TrimSuffix(e.Name(), ".pem")
		s.producerCerts[producerID] = cert
	}
	return nil
}

func (s *Store) loadRSAKeyDir(dir string, into map[string]*rsa.PublicKey) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rerrors.New("trust.Store.loadRSAKeyDir", rerrors.TrustStoreError, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		pub, err := loadRSAPublicKey(filepath.Join(dir, e.Name()))
		if err != nil {
			return rerrors.New("trust.Store.loadRSAKeyDir", rerrors.TrustStoreError,
				fmt.Errorf("%s: %w", e.Name(), err))
		}
		keyID := strings.TrimSuffix(e.Name(), ".pem")
		into[keyID] = pub
	}
	return nil
}

func (s *Store) loadEd25519KeyDir(dir string, into map[string]ed25519.PublicKey) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return rerrors.New("trust.Store.loadEd25519KeyDir", rerrors.TrustStoreError, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		pub, err := loadEd25519PublicKey(filepath.Join(dir, e.Name()))
		if err != nil {
			return rerrors.New("trust.Store.loadEd25519KeyDir", rerrors.TrustStoreError,
				fmt.Errorf("%s: %w", e.Name(), err))
		}
		keyID := strings.TrimSuffix(e.Name(), ".pem")
		into[keyID] = pub
	}
	return nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	_ = info
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	switch block.Type {
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%s is not an RSA public key", path)
		}
		return rsaPub, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaPub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%s certificate is not RSA", path)
		}
		return rsaPub, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q in %s", block.Type, path)
	}
}

func loadEd25519PublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s is not an ed25519 public key", path)
	}
	return edPub, nil
}
