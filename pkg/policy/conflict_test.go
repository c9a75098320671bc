package policy

import "testing"

func TestResolve_SinglePolicyWins(t *testing.T) {
	r := &Rule{ID: "P1", Priority: 100, Decision: ActionAllow}
	winner, conflicts := resolve([]*Rule{r})
	if winner != r || conflicts != nil {
		t.Fatal("expected the lone match to win outright")
	}
}

func TestResolve_SamePriorityOverlappingScopeIsAmbiguous(t *testing.T) {
	a := &Rule{ID: "P1", Priority: 100, Decision: ActionAllow}
	b := &Rule{ID: "P2", Priority: 100, Decision: ActionMonitor}
	winner, conflicts := resolve([]*Rule{a, b})
	if winner != nil {
		t.Fatal("expected same-priority conflict to be unresolvable")
	}
	if len(conflicts) != 1 || conflicts[0].Kind != ConflictSamePriority {
		t.Fatalf("expected one SamePriority conflict, got %+v", conflicts)
	}
}

func TestResolve_ContradictoryActionsExplicitDenyWins(t *testing.T) {
	allow := &Rule{ID: "P1", Priority: 100, Decision: ActionAllow}
	deny := &Rule{ID: "P2", Priority: 50, Decision: ActionDeny}
	winner, conflicts := resolve([]*Rule{allow, deny})
	if winner != deny {
		t.Fatalf("expected explicit deny to win, got %+v", winner)
	}
	if len(conflicts) != 1 || conflicts[0].Kind != ConflictContradictoryAction {
		t.Fatalf("expected the conflict pair recorded even though deny resolved it, got %+v", conflicts)
	}
}

func TestResolve_SamePriorityContradictoryActionsExplicitDenyWins(t *testing.T) {
	allow := &Rule{ID: "P1", Priority: 100, Decision: ActionAllow}
	deny := &Rule{ID: "P2", Priority: 100, Decision: ActionDeny}
	winner, conflicts := resolve([]*Rule{allow, deny})
	if winner != deny {
		t.Fatalf("expected explicit deny to win even at equal priority, got %+v", winner)
	}
	if len(conflicts) != 1 || conflicts[0].Kind != ConflictContradictoryAction {
		t.Fatalf("expected the conflict pair recorded, got %+v", conflicts)
	}
}

func TestResolve_ContradictoryActionsWithoutDenyIsAmbiguous(t *testing.T) {
	allow := &Rule{ID: "P1", Priority: 100, Decision: ActionAllow}
	isolate := &Rule{ID: "P2", Priority: 50, Decision: ActionIsolate}
	winner, conflicts := resolve([]*Rule{allow, isolate})
	if winner != nil {
		t.Fatal("expected allow-vs-isolate without a deny to be unresolvable")
	}
	if len(conflicts) != 1 || conflicts[0].Kind != ConflictContradictoryAction {
		t.Fatalf("expected one ContradictoryActions conflict, got %+v", conflicts)
	}
}

func TestResolve_NonConflictingMatchesResolveByPrecedence(t *testing.T) {
	high := &Rule{ID: "P1", Priority: 100, Decision: ActionMonitor}
	low := &Rule{ID: "P2", Priority: 10, Decision: ActionEscalate}
	// Pre-sorted by precedence as Load() would leave them.
	winner, conflicts := resolve([]*Rule{high, low})
	if winner != high || conflicts != nil {
		t.Fatalf("expected highest-priority non-conflicting match to win, got %+v / %+v", winner, conflicts)
	}
}
