package dispatcher

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/policy"
	"github.com/ransomeye/core/pkg/rerrors"
)

// Binding maps one policy outcome (optionally narrowed by severity and
// kill_chain_stage) to a playbook (§4.5).
type Binding struct {
	PolicyOutcome  string `yaml:"policy_outcome" json:"policy_outcome"`
	Severity       string `yaml:"severity,omitempty" json:"severity,omitempty"`
	KillChainStage string `yaml:"kill_chain_stage,omitempty" json:"kill_chain_stage,omitempty"`
	PlaybookID     string `yaml:"playbook_id" json:"playbook_id"`
	Priority       int    `yaml:"priority" json:"priority"`
}

func (b Binding) matches(outcome policy.Action, severity, killChainStage string) bool {
	if b.PolicyOutcome != string(outcome) {
		return false
	}
	if b.Severity != "" && b.Severity != severity {
		return false
	}
	if b.KillChainStage != "" && b.KillChainStage != killChainStage {
		return false
	}
	return true
}

// bindingFile is the on-disk signed artifact: a list of bindings plus
// the shared signing envelope.
type bindingFile struct {
	Bindings []Binding `yaml:"bindings" json:"bindings"`

	KeyID         string `yaml:"key_id,omitempty" json:"-"`
	Signature     string `yaml:"signature,omitempty" json:"-"`
	SignatureHash string `yaml:"signature_hash,omitempty" json:"-"`
}

type bindingBody struct {
	Bindings []Binding `json:"bindings"`
}

func (f *bindingFile) canonicalBody() bindingBody {
	return bindingBody{Bindings: f.Bindings}
}

// BindingSet is the loaded, priority-sorted binding table.
type BindingSet struct {
	bindings []Binding
}

// Resolve returns the highest-priority binding matching outcome,
// severity and killChainStage, or ("", false) for "no action"
// (§4.5's fail-closed default when nothing matches).
func (s *BindingSet) Resolve(outcome policy.Action, severity, killChainStage string) (string, bool) {
	for _, b := range s.bindings {
		if b.matches(outcome, severity, killChainStage) {
			return b.PlaybookID, true
		}
	}
	return "", false
}

// BindingVerifier is the subset of trust.Store the binding loader needs.
type BindingVerifier interface {
	PlaybookVerifier(keyID string) (*crypto.RSAVerifier, error)
}

// LoadBindings reads, verifies and validates the single signed binding
// file at path. Every playbook_id referenced must already be known to
// playbooks; an unresolved reference fails the whole load (§4.5 — unlike
// individual policy files, a binding file is one atomic signed unit).
func LoadBindings(path string, verifier BindingVerifier, playbooks *PlaybookRegistry) (*BindingSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, rerrors.New("dispatcher.LoadBindings", rerrors.TrustStoreError, err)
	}

	var f bindingFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, rerrors.New("dispatcher.LoadBindings", rerrors.SchemaInvalid, err)
	}
	if f.Signature == "" {
		return nil, rerrors.New("dispatcher.LoadBindings", rerrors.SignatureInvalid,
			fmt.Errorf("binding file %s is unsigned", path))
	}

	sigBytes, err := hex.DecodeString(f.Signature)
	if err != nil {
		return nil, rerrors.New("dispatcher.LoadBindings", rerrors.SignatureInvalid, err)
	}
	rsaVerifier, err := verifier.PlaybookVerifier(f.KeyID)
	if err != nil {
		return nil, rerrors.New("dispatcher.LoadBindings", rerrors.TrustStoreError, err)
	}
	canonicalBytes, err := canonicalize.JCS(f.canonicalBody())
	if err != nil {
		return nil, rerrors.New("dispatcher.LoadBindings", rerrors.SignatureInvalid, err)
	}
	if f.SignatureHash != "" {
		if canonicalize.HashBytes(canonicalBytes) != f.SignatureHash {
			return nil, rerrors.New("dispatcher.LoadBindings", rerrors.SignatureInvalid,
				fmt.Errorf("binding file %s: body hash mismatch, file tampered", path))
		}
	}
	if err := rsaVerifier.Verify(canonicalBytes, sigBytes); err != nil {
		return nil, rerrors.New("dispatcher.LoadBindings", rerrors.SignatureInvalid, err)
	}

	for _, b := range f.Bindings {
		if !playbooks.Has(b.PlaybookID) {
			return nil, rerrors.New("dispatcher.LoadBindings", rerrors.SchemaInvalid,
				fmt.Errorf("binding references unknown playbook %q", b.PlaybookID))
		}
	}

	sorted := make([]Binding, len(f.Bindings))
	copy(sorted, f.Bindings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	return &BindingSet{bindings: sorted}, nil
}
