package policy

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/rerrors"
)

// Verifier resolves the RSA verifier for a policy's key_id. Satisfied by
// *trust.Store.
type Verifier interface {
	PolicyVerifier(keyID string) (*crypto.RSAVerifier, error)
}

// LoadFailure records why one policy file was refused.
type LoadFailure struct {
	Path string
	Err  error
}

// LoadResult is the outcome of loading a policy directory: the policies
// that passed verification, sorted by precedence, plus every refusal —
// an unsigned or tampered file never aborts the whole load on its own
// (§4.4); only ending up with zero valid policies does.
type LoadResult struct {
	Rules    []*Rule
	Failures []LoadFailure
}

// Load reads every *.yaml/*.yml file in dir, verifies its signature
// against verifier, and returns the valid subset sorted by precedence.
// Zero valid policies after scanning the directory is a fatal
// configuration error (§4.4: "refuse to start").
func Load(dir string, verifier Verifier) (*LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, rerrors.New("policy.Load", rerrors.TrustStoreError, err)
	}

	result := &LoadResult{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		rule, err := loadOne(path, verifier)
		if err != nil {
			result.Failures = append(result.Failures, LoadFailure{Path: path, Err: err})
			continue
		}
		result.Rules = append(result.Rules, rule)
	}

	if len(result.Rules) == 0 {
		return result, rerrors.New("policy.Load", rerrors.TrustStoreError,
			fmt.Errorf("no valid signed policies loaded from %s", dir))
	}

	sortByPrecedence(result.Rules)
	return result, nil
}

func loadOne(path string, verifier Verifier) (*Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	if p.Signature == "" {
		return nil, fmt.Errorf("policy %s is not signed", p.ID)
	}
	sigBytes, err := hex.DecodeString(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("policy %s: malformed signature encoding: %w", p.ID, err)
	}

	rsaVerifier, err := verifier.PolicyVerifier(p.KeyID)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.ID, err)
	}

	if err := p.verify(rsaVerifier, sigBytes); err != nil {
		return nil, err
	}

	if !p.Enabled {
		return nil, fmt.Errorf("policy %s is disabled", p.ID)
	}

	bodyHash, err := p.CanonicalHash()
	if err != nil {
		return nil, err
	}
	return toRule(&p, bodyHash)
}

// sortByPrecedence orders rules highest priority first, ties broken by
// specificity (more match conditions first), ties broken by id (§4.4).
func sortByPrecedence(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if rules[i].Specificity() != rules[j].Specificity() {
			return rules[i].Specificity() > rules[j].Specificity()
		}
		return rules[i].ID < rules[j].ID
	})
}
