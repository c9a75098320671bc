package policy

import (
	"testing"

	"github.com/ransomeye/core/pkg/rerrors"
)

func ruleFor(id string, priority int, action Action, conditions ...MatchCondition) *Rule {
	return &Rule{ID: id, Priority: priority, Decision: action, MatchConditions: conditions, SignatureHash: "h-" + id}
}

func TestEvaluate_NoMatchingPolicy(t *testing.T) {
	e := NewEngine(Config{Rules: []*Rule{
		ruleFor("p1", 100, ActionAllow, MatchCondition{Field: "alert_severity", Operator: "equals", Value: "low"}),
	}})
	_, err := e.Evaluate(baseContext(), 0)
	if !rerrors.Is(err, rerrors.NoMatchingPolicy) {
		t.Fatalf("expected NoMatchingPolicy, got %v", err)
	}
}

func TestEvaluate_SingleMatchReturnsDecision(t *testing.T) {
	e := NewEngine(Config{Rules: []*Rule{
		ruleFor("p1", 100, ActionAllow, MatchCondition{Field: "alert_severity", Operator: "equals", Value: "high"}),
	}})
	d, err := e.Evaluate(baseContext(), 0)
	if err != nil {
		t.Fatalf("expected a decision, got %v", err)
	}
	if d.Action != ActionAllow || d.PolicyID != "p1" {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestEvaluate_PolicyConflictExplicitDenyWins(t *testing.T) {
	cond := MatchCondition{Field: "alert_severity", Operator: "equals", Value: "high"}
	allow := ruleFor("P1", 100, ActionAllow, cond)
	deny := ruleFor("P2", 50, ActionDeny, cond)
	e := NewEngine(Config{Rules: []*Rule{allow, deny}})
	d, err := e.Evaluate(baseContext(), 0)
	if err != nil {
		t.Fatalf("expected explicit deny to resolve the conflict, got %v", err)
	}
	if d.Action != ActionDeny {
		t.Fatalf("expected deny to win, got %s", d.Action)
	}
}

// TestEvaluate_SamePriorityContradictoryActionsDenyWins is the worked
// example from the spec's conflict-resolution section: two same-priority
// policies with contradictory actions (allow vs deny) still resolve via
// the explicit-deny rule rather than surfacing as unresolvable ambiguity.
func TestEvaluate_SamePriorityContradictoryActionsDenyWins(t *testing.T) {
	cond := MatchCondition{Field: "alert_severity", Operator: "equals", Value: "high"}
	a := ruleFor("P1", 100, ActionAllow, cond)
	b := ruleFor("P2", 100, ActionDeny, cond)
	e := NewEngine(Config{Rules: []*Rule{a, b}})
	d, err := e.Evaluate(baseContext(), 0)
	if err != nil {
		t.Fatalf("expected explicit deny to resolve the same-priority conflict, got %v", err)
	}
	if d.Action != ActionDeny {
		t.Fatalf("expected deny to win, got %s", d.Action)
	}
}

// TestEvaluate_SamePriorityNonContradictoryAmbiguity covers the case with
// no precedence rule to break the tie: same priority, same specificity,
// and actions that are not in the contradictory-pair table (so there is
// no explicit-deny escape), which must surface as unresolvable ambiguity.
func TestEvaluate_SamePriorityNonContradictoryAmbiguity(t *testing.T) {
	cond := MatchCondition{Field: "alert_severity", Operator: "equals", Value: "high"}
	a := ruleFor("P1", 100, ActionMonitor, cond)
	b := ruleFor("P2", 100, ActionEscalate, cond)
	e := NewEngine(Config{Rules: []*Rule{a, b}})
	_, err := e.Evaluate(baseContext(), 0)
	if !rerrors.Is(err, rerrors.PolicyAmbiguity) {
		t.Fatalf("expected PolicyAmbiguity for same-priority overlapping matches, got %v", err)
	}
}

func TestEvaluate_RejectsDepthBeyondMaximum(t *testing.T) {
	e := NewEngine(Config{Rules: []*Rule{ruleFor("p1", 1, ActionAllow)}, MaxDepth: 3})
	_, err := e.Evaluate(baseContext(), 4)
	if !rerrors.Is(err, rerrors.InvariantViolation) {
		t.Fatalf("expected InvariantViolation for depth overrun, got %v", err)
	}
}

func TestEvaluate_RejectsMalformedContext(t *testing.T) {
	e := NewEngine(Config{Rules: []*Rule{ruleFor("p1", 1, ActionAllow)}})
	ctx := baseContext()
	delete(ctx, "alert_id")
	_, err := e.Evaluate(ctx, 0)
	if !rerrors.Is(err, rerrors.SchemaInvalid) {
		t.Fatalf("expected SchemaInvalid for malformed context, got %v", err)
	}
}

func TestEvaluate_RateLimitEnforced(t *testing.T) {
	e := NewEngine(Config{Rules: []*Rule{ruleFor("p1", 1, ActionAllow)}, RateLimitPerSec: 1})
	// The burst is the fixed defaultRateLimitBurst, not the 1/s rate, so
	// drain all of it before evaluating.
	for i := 0; i < defaultRateLimitBurst+1; i++ {
		e.limiter.Allow()
	}
	_, err := e.Evaluate(baseContext(), 0)
	if !rerrors.Is(err, rerrors.RateLimitExceeded) {
		t.Fatalf("expected RateLimitExceeded once the limiter is exhausted, got %v", err)
	}
}
