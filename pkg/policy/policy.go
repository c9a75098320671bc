// Package policy implements the signed-policy trust plane (§4.4): YAML
// policies loaded from disk, each individually RSA-signature-verified
// before it is admitted to memory, matched against a decision context
// with a fixed operator set, and resolved deterministically when more
// than one policy matches.
package policy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/rerrors"
)

// Action is one of the fixed decision outcomes a policy can produce.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionQuarantine      Action = "quarantine"
	ActionIsolate         Action = "isolate"
	ActionBlock           Action = "block"
	ActionMonitor         Action = "monitor"
	ActionEscalate        Action = "escalate"
	ActionRequireApproval Action = "require_approval"
)

func parseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionAllow, ActionDeny, ActionQuarantine, ActionIsolate, ActionBlock, ActionMonitor, ActionEscalate, ActionRequireApproval:
		return Action(s), nil
	default:
		return "", fmt.Errorf("policy: unknown action %q", s)
	}
}

// MatchCondition is one field/operator/value test against a Context.
type MatchCondition struct {
	Field    string      `yaml:"field" json:"field"`
	Operator string      `yaml:"operator" json:"operator"`
	Value    interface{} `yaml:"value" json:"value"`
}

// DecisionRule is the action a matching policy produces.
type DecisionRule struct {
	Action         string   `yaml:"action" json:"action"`
	AllowedActions []string `yaml:"allowed_actions" json:"allowed_actions"`
	Reasoning      string   `yaml:"reasoning" json:"reasoning"`
}

// Policy is the on-disk signed artifact shape (§6: YAML, ordered keys).
// Signature, SignatureHash and KeyID are the signing envelope; the
// remaining fields are the canonical body the signature covers.
type Policy struct {
	ID                string           `yaml:"id" json:"id"`
	Version           string           `yaml:"version" json:"version"`
	Name              string           `yaml:"name" json:"name"`
	Description       string           `yaml:"description" json:"description"`
	Enabled           bool             `yaml:"enabled" json:"enabled"`
	Priority          int              `yaml:"priority" json:"priority"`
	MatchConditions   []MatchCondition `yaml:"match_conditions" json:"match_conditions"`
	Decision          DecisionRule     `yaml:"decision" json:"decision"`
	RequiredApprovals []string         `yaml:"required_approvals" json:"required_approvals"`

	KeyID         string `yaml:"key_id,omitempty" json:"-"`
	Signature     string `yaml:"signature,omitempty" json:"-"`
	SignatureHash string `yaml:"signature_hash,omitempty" json:"-"`
}

// body is the subset of Policy the signature actually covers: everything
// except key_id, signature and signature_hash themselves (§6).
type body struct {
	ID                string           `json:"id"`
	Version           string           `json:"version"`
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	Enabled           bool             `json:"enabled"`
	Priority          int              `json:"priority"`
	MatchConditions   []MatchCondition `json:"match_conditions"`
	Decision          DecisionRule     `json:"decision"`
	RequiredApprovals []string         `json:"required_approvals"`
}

func (p *Policy) canonicalBody() body {
	// Nil and empty lists canonicalize alike, so a policy signed in memory
	// still verifies after a YAML round trip turns its nil lists into [].
	conditions, decision, approvals := p.MatchConditions, p.Decision, p.RequiredApprovals
	if conditions == nil {
		conditions = []MatchCondition{}
	}
	if decision.AllowedActions == nil {
		decision.AllowedActions = []string{}
	}
	if approvals == nil {
		approvals = []string{}
	}
	return body{
		ID:                p.ID,
		Version:           p.Version,
		Name:              p.Name,
		Description:       p.Description,
		Enabled:           p.Enabled,
		Priority:          p.Priority,
		MatchConditions:   conditions,
		Decision:          decision,
		RequiredApprovals: approvals,
	}
}

// CanonicalHash returns the hex SHA-256 of the policy's canonical body.
func (p *Policy) CanonicalHash() (string, error) {
	return canonicalize.CanonicalHash(p.canonicalBody())
}

// verify checks the policy's signature against verifier and, when a
// signature_hash is present, that it matches the recomputed body hash —
// the tamper check independent of signature validity (§8 scenario 5).
func (p *Policy) verify(verifier crypto.Verifier, signatureBytes []byte) error {
	canonicalBytes, err := canonicalize.JCS(p.canonicalBody())
	if err != nil {
		return rerrors.New("policy.Policy.verify", rerrors.SignatureInvalid, err)
	}

	if p.SignatureHash != "" {
		hash := canonicalize.HashBytes(canonicalBytes)
		if hash != p.SignatureHash {
			return rerrors.New("policy.Policy.verify", rerrors.SignatureInvalid,
				fmt.Errorf("policy %s: body hash mismatch, file tampered", p.ID))
		}
	}

	if err := verifier.Verify(canonicalBytes, signatureBytes); err != nil {
		return rerrors.New("policy.Policy.verify", rerrors.SignatureInvalid, err)
	}
	return nil
}

// Rule is the parsed, validated, in-memory form of a Policy used during
// evaluation — decision and allowed_actions are resolved to the closed
// Action set once at load time rather than re-parsed on every match.
type Rule struct {
	ID                string
	Version           string
	Priority          int
	MatchConditions   []MatchCondition
	Decision          Action
	AllowedActions    []Action
	RequiredApprovals []string
	Reasoning         string
	SignatureHash     string
}

// validateVersion rejects a non-semver version string. Only the format is
// checked: versions are not compared across loads or reloads, so an older
// signed version replacing a newer one is not detected.
func validateVersion(p *Policy) error {
	if _, err := semver.NewVersion(p.Version); err != nil {
		return fmt.Errorf("policy %s: version %q is not valid semver: %w", p.ID, p.Version, err)
	}
	return nil
}

func toRule(p *Policy, bodyHash string) (*Rule, error) {
	if err := validateVersion(p); err != nil {
		return nil, err
	}
	decision, err := parseAction(p.Decision.Action)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.ID, err)
	}
	allowed := make([]Action, 0, len(p.Decision.AllowedActions))
	for _, a := range p.Decision.AllowedActions {
		parsed, err := parseAction(a)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		allowed = append(allowed, parsed)
	}
	return &Rule{
		ID:                p.ID,
		Version:           p.Version,
		Priority:          p.Priority,
		MatchConditions:   p.MatchConditions,
		Decision:          decision,
		AllowedActions:    allowed,
		RequiredApprovals: p.RequiredApprovals,
		Reasoning:         p.Decision.Reasoning,
		SignatureHash:     bodyHash,
	}, nil
}

// Specificity is the number of match conditions, used as the first
// precedence tie-break after priority (§4.4).
func (r *Rule) Specificity() int {
	return len(r.MatchConditions)
}
