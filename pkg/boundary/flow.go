package boundary

import "strings"

// isForbiddenFlow implements the four named forbidden flows of §4.6.
// Source and target are already known planes by the time this is
// called — the unknown-component case is handled by the caller before
// planes are even classified, since there is no plane to check it
// against. Any flow between two known planes that does not match one
// of the four named cases is allowed; §4.6 names forbidden flows, not
// an exhaustive allow-list, so this does not fail closed on a novel
// but unlisted plane pair.
func isForbiddenFlow(source, target Plane, operation string) bool {
	switch {
	case source == PlaneIntelligence && target == PlaneControl:
		// AI must never influence enforcement.
		return true
	case source == PlaneData && target == PlaneControl && isPolicyOrEnforcementOp(operation):
		// Sensors must never directly invoke policy or enforcement.
		return true
	case source == PlaneManagement && target == PlaneData:
		// No direct management of sensors; it goes via Control.
		return true
	default:
		return false
	}
}

func isPolicyOrEnforcementOp(operation string) bool {
	op := strings.ToLower(operation)
	return strings.Contains(op, "policy") || strings.Contains(op, "enforcement")
}
