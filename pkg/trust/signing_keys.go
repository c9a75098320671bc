package trust

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/ransomeye/core/pkg/rerrors"
)

const nonceSize = 24

// SealSigningKey seals an Ed25519 private key with secretbox under key,
// for writing to a signing_keys/<component>.sealed file with mode 0600.
// Used by the operator tooling that provisions a component's signing
// identity, not by the process at runtime.
func SealSigningKey(priv ed25519.PrivateKey, key *[32]byte, nonce *[nonceSize]byte) []byte {
	return secretbox.Seal(nonce[:], priv, nonce, key)
}

func (s *Store) loadSigningKeys(dir string, sealKey *[32]byte) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return rerrors.New("trust.Store.loadSigningKeys", rerrors.TrustStoreError, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sealed") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			return rerrors.New("trust.Store.loadSigningKeys", rerrors.TrustStoreError, err)
		}
		if info.Mode().Perm() != 0600 {
			return rerrors.New("trust.Store.loadSigningKeys", rerrors.TrustStoreError,
				fmt.Errorf("%s must be mode 0600, got %o", path, info.Mode().Perm()))
		}
		sealed, err := os.ReadFile(path)
		if err != nil {
			return rerrors.New("trust.Store.loadSigningKeys", rerrors.TrustStoreError, err)
		}
		priv, err := unsealSigningKey(sealed, sealKey)
		if err != nil {
			return rerrors.New("trust.Store.loadSigningKeys", rerrors.TrustStoreError,
				fmt.Errorf("%s: %w", e.Name(), err))
		}
		component := strings.TrimSuffix(e.Name(), ".sealed")
		s.signingKeys[component] = priv
	}
	return nil
}

func unsealSigningKey(sealed []byte, key *[32]byte) (ed25519.PrivateKey, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed key too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	opened, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("secretbox open failed: wrong seal key or tampered file")
	}
	if len(opened) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("unsealed key has wrong size %d", len(opened))
	}
	return ed25519.PrivateKey(opened), nil
}
