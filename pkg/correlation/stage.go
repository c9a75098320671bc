// Package correlation implements the per-entity ransomware kill-chain
// state machine (§4.3): a bounded entity table, strict stage monotonicity
// with a narrow evidence-gated jump allowlist, decayed confidence
// accounting, and a dedicated invariant enforcer.
package correlation

// Stage is one of the ten ordered kill-chain stages. Index is fixed;
// regression is forbidden (I4).
type Stage int

const (
	InitialAccess Stage = iota
	Execution
	Persistence
	PrivilegeEscalation
	LateralMovement
	CredentialAccess
	Discovery
	EncryptionPreparation
	EncryptionExecution
	Impact
	stageCount
)

func (s Stage) String() string {
	names := [...]string{
		"InitialAccess", "Execution", "Persistence", "PrivilegeEscalation",
		"LateralMovement", "CredentialAccess", "Discovery",
		"EncryptionPreparation", "EncryptionExecution", "Impact",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// jumpEdges lists the only advancing transitions permitted outside the
// "stay" and "next index" moves, and only with an evidence flag set.
// Narrower than the kill-chain edge set this is modeled on: spec.md names
// exactly these edges, so no other jump is honored here even though a
// broader allowlist exists elsewhere in this domain.
var jumpEdges = map[Stage]map[Stage]bool{
	Execution:           {EncryptionExecution: true},
	Discovery:           {EncryptionExecution: true},
	Persistence:         {EncryptionExecution: true},
	PrivilegeEscalation: {EncryptionExecution: true},
	LateralMovement:     {EncryptionExecution: true},
	CredentialAccess:    {EncryptionExecution: true},
}

// TransitionAllowed reports whether to is reachable from, given whether
// evidence was supplied for this transition. The initial admissible stage
// from "no stage yet" is handled by the caller (InitialAccess only).
func TransitionAllowed(from, to Stage, hasEvidence bool) bool {
	if to < from {
		return false // regression is always forbidden
	}
	if to == from {
		return true // staying with new evidence
	}
	if to == from+1 {
		return true // advancing one step
	}
	if hasEvidence && jumpEdges[from][to] {
		return true
	}
	return false
}
