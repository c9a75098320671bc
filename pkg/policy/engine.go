package policy

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ransomeye/core/pkg/audit"
	"github.com/ransomeye/core/pkg/rerrors"
)

const (
	defaultMaxDepth        = 10
	defaultRateLimitPerSec = 1000
	defaultRateLimitBurst  = 1000 // approximates the 60s sliding window's burst allowance
)

// Decision is the evaluation outcome (§3: Policy Decision).
type Decision struct {
	DecisionID          string   `json:"decision_id"`
	PolicyID            string   `json:"policy_id"`
	PolicyVersion       string   `json:"policy_version"`
	Action              Action   `json:"decision"`
	AllowedActions      []Action `json:"allowed_actions"`
	RequiredApprovals   []string `json:"required_approvals"`
	EvidenceReference   string   `json:"evidence_reference"`
	Reasoning           string   `json:"reasoning"`
	PolicySignatureHash string   `json:"policy_signature_hash"`
}

// AuditChain is the subset of *audit.Chain the engine needs.
type AuditChain interface {
	Append(component, eventType, actor, host string, data interface{}) (*audit.Record, error)
}

// Engine evaluates a loaded, precedence-sorted policy set against
// decision contexts (§4.4). One Engine is the process-wide singleton for
// policy evaluation per §9: its rate limiter is the only mutable global
// state besides the audit-chain writer.
type Engine struct {
	rules      []*Rule
	maxDepth   int
	limiter    *rate.Limiter
	auditChain AuditChain
}

// Config configures a new Engine. Zero MaxDepth/RateLimitPerSec fall
// back to the spec defaults (10, 1000/s).
type Config struct {
	Rules           []*Rule
	MaxDepth        int
	RateLimitPerSec int
	AuditChain      AuditChain
}

func NewEngine(cfg Config) *Engine {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	ratePerSec := cfg.RateLimitPerSec
	if ratePerSec <= 0 {
		ratePerSec = defaultRateLimitPerSec
	}
	return &Engine{
		rules:      cfg.Rules,
		maxDepth:   maxDepth,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), defaultRateLimitBurst),
		auditChain: cfg.AuditChain,
	}
}

// Evaluate is the exposed evaluate(context, depth) operation (§4.4). It
// is a pure function of (ctx, the loaded rule set) except for the
// rate-limit counter and the audit append, neither of which feeds back
// into the decision (§4.4 Determinism), and except for DecisionID, which
// is a fresh random UUID on every call.
func (e *Engine) Evaluate(ctx Context, depth int) (*Decision, error) {
	if depth > e.maxDepth {
		return nil, rerrors.New("policy.Engine.Evaluate", rerrors.InvariantViolation,
			fmt.Errorf("recursion depth %d exceeds maximum %d", depth, e.maxDepth))
	}
	if !e.limiter.Allow() {
		return nil, rerrors.New("policy.Engine.Evaluate", rerrors.RateLimitExceeded, nil)
	}
	if err := ctx.Validate(); err != nil {
		return nil, err
	}

	var matches []*Rule
	for _, r := range e.rules {
		if r.Matches(ctx) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, rerrors.New("policy.Engine.Evaluate", rerrors.NoMatchingPolicy, nil)
	}

	winner, conflicts := resolve(matches)
	if winner == nil {
		e.auditConflict(ctx, conflicts)
		return nil, rerrors.New("policy.Engine.Evaluate", rerrors.PolicyAmbiguity,
			fmt.Errorf("unresolvable conflict among %d matching policies", len(matches)))
	}

	decision := &Decision{
		DecisionID:          uuid.NewString(),
		PolicyID:            winner.ID,
		PolicyVersion:       winner.Version,
		Action:              winner.Decision,
		AllowedActions:      winner.AllowedActions,
		RequiredApprovals:   winner.RequiredApprovals,
		EvidenceReference:   stringField(ctx, "evidence_reference"),
		Reasoning:           winner.Reasoning,
		PolicySignatureHash: winner.SignatureHash,
	}

	if len(conflicts) > 0 {
		e.auditConflict(ctx, conflicts)
	}
	e.auditDecision(decision)
	return decision, nil
}

func stringField(ctx Context, field string) string {
	v, ok := ctx[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (e *Engine) auditDecision(d *Decision) {
	if e.auditChain == nil {
		return
	}
	_, _ = e.auditChain.Append("policy", "PolicyDecision", d.PolicyID, "", d)
}

func (e *Engine) auditConflict(ctx Context, conflicts []Conflict) {
	if e.auditChain == nil {
		return
	}
	ids := make([]string, 0, len(conflicts)*2)
	for _, c := range conflicts {
		ids = append(ids, c.PolicyID[0], c.PolicyID[1])
	}
	_, _ = e.auditChain.Append("policy", "PolicyAmbiguity", stringField(ctx, "alert_id"), "", map[string]interface{}{
		"conflicting_policy_ids": ids,
	})
}
