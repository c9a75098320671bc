package policy

// ConflictKind names why two matched policies collide.
type ConflictKind string

const (
	ConflictSamePriority        ConflictKind = "SamePriority"
	ConflictContradictoryAction ConflictKind = "ContradictoryActions"
)

// Conflict records one colliding pair among the matched rules, for the
// audit record named in §4.4.
type Conflict struct {
	Kind     ConflictKind
	PolicyID [2]string
}

var contradictoryPairs = map[[2]Action]bool{
	{ActionAllow, ActionDeny}:    true,
	{ActionDeny, ActionAllow}:    true,
	{ActionAllow, ActionIsolate}: true,
	{ActionIsolate, ActionAllow}: true,
}

func contradictory(a, b Action) bool {
	return contradictoryPairs[[2]Action{a, b}]
}

// resolve applies §4.4's conflict rules to a set of rules that all
// matched the same context (so their scope necessarily overlaps for
// this evaluation — there is no notion of "overlapping scope" narrower
// than "both matched the same input"). Returns the winning rule and any
// conflicts worth an audit record (non-nil even when resolved, for the
// explicit-deny case), or a nil rule with the conflicts that made the
// outcome unresolvably ambiguous.
func resolve(matches []*Rule) (*Rule, []Conflict) {
	if len(matches) == 1 {
		return matches[0], nil
	}

	// Contradictory-action pairs are checked first: an explicit deny
	// resolves the conflict regardless of whether the pair also shares a
	// priority (§8 testable property 4 — same-priority allow/deny still
	// resolves to deny, it does not fall through to unresolvable
	// ambiguity). Only pairs with no explicit-deny side are left
	// unresolved.
	var contradictions []Conflict
	var explicitDeny *Rule
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if contradictory(matches[i].Decision, matches[j].Decision) {
				contradictions = append(contradictions, Conflict{
					Kind:     ConflictContradictoryAction,
					PolicyID: [2]string{matches[i].ID, matches[j].ID},
				})
				if matches[i].Decision == ActionDeny {
					explicitDeny = matches[i]
				}
				if matches[j].Decision == ActionDeny {
					explicitDeny = matches[j]
				}
			}
		}
	}
	if len(contradictions) > 0 {
		if explicitDeny != nil {
			// Resolved, but still audit-worthy: the caller records one
			// conflict entry naming the colliding pair even though the
			// explicit-deny rule broke the tie.
			return explicitDeny, contradictions
		}
		return nil, contradictions
	}

	// No contradictory pair. A same-priority tie among non-contradictory
	// (or identical-action) policies has no precedence rule to break it.
	var samePriority []Conflict
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[i].Priority == matches[j].Priority {
				samePriority = append(samePriority, Conflict{
					Kind:     ConflictSamePriority,
					PolicyID: [2]string{matches[i].ID, matches[j].ID},
				})
			}
		}
	}
	if len(samePriority) > 0 {
		return nil, samePriority
	}

	// No same-priority tie, no contradictory pair: matches is already
	// sorted by precedence (priority, then specificity, then id), so the
	// first entry is the unambiguous winner.
	return matches[0], nil
}
