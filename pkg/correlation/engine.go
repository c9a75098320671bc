package correlation

import (
	"time"

	"github.com/google/uuid"

	"github.com/ransomeye/core/pkg/rerrors"
)

// StageConfig carries the per-stage knobs the engine needs: decay rate
// and the minimum signal set required before a detection is emitted for
// that stage (DetectionWithoutMinimumSignalSet).
type StageConfig struct {
	ConfidenceDecayPerHour float64
	RequiredSignalKinds    []string
}

// Admission is one signal arriving for an entity, proposing a stage.
type Admission struct {
	EntityID        string
	ProposedStage   Stage
	Signal          Signal
	HasEvidenceFlag bool // set by the caller when this admission carries an explicit jump-edge evidence bundle
}

// Detection is emitted when an admission or re-score crosses a threshold
// (§4.3's Output).
type Detection struct {
	EntityID          string
	Stage             Stage
	Confidence        float64
	SignalsUsed       []Signal
	TransitionHistory []Transition
	ExplanationRef    string
}

// Violation is one of the four hard invariant violations. Any violation
// aborts the current correlation step and returns an error. A stage skip is
// caught before the entity's stage, signals or confidence change. A
// ConfidenceIncreaseWithoutNewSignal is caught after any stage transition
// has been recorded, and a DetectionWithoutMinimumSignalSet after the
// transition and the new signal have been recorded; neither rolls those
// back, and both leave the entity's confidence at its prior value.
type Violation string

const (
	StageSkipWithoutEvidence           Violation = "StageSkipWithoutEvidence"
	ConfidenceIncreaseWithoutNewSignal Violation = "ConfidenceIncreaseWithoutNewSignal"
	DetectionWithoutMinimumSignalSet   Violation = "DetectionWithoutMinimumSignalSet"
	StateExplosionWithoutEviction      Violation = "StateExplosionWithoutEviction"
)

// AuditFunc records an invariant violation or a detection emission.
type AuditFunc func(eventType string, detail map[string]string)

// Engine runs the kill-chain state machine over a bounded entity table.
type Engine struct {
	table        *Table
	stageConfigs map[Stage]StageConfig
	threshold    float64
	clock        func() time.Time
	audit        AuditFunc
}

// NewEngine builds an Engine. detectionThreshold is the confidence level
// a stage must cross to emit a Detection.
func NewEngine(table *Table, stageConfigs map[Stage]StageConfig, detectionThreshold float64, audit AuditFunc) *Engine {
	return &Engine{
		table:        table,
		stageConfigs: stageConfigs,
		threshold:    detectionThreshold,
		clock:        time.Now,
		audit:        audit,
	}
}

// WithClock overrides the clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

func (e *Engine) recordViolation(v Violation, entityID string) error {
	if e.audit != nil {
		e.audit("InvariantViolation", map[string]string{
			"violation": string(v),
			"entity_id": entityID,
		})
	}
	return rerrors.New("correlation.Engine.Admit", rerrors.InvariantViolation, nil)
}

// Admit processes one signal admission for an entity, enforcing I4/I5/I6
// and the four named invariants, and returns a Detection if this
// admission crosses the stage's confidence threshold.
func (e *Engine) Admit(a Admission) (*Detection, error) {
	if a.EntityID == "" {
		return nil, rerrors.New("correlation.Engine.Admit", rerrors.InvariantViolation, nil)
	}

	// StateExplosionWithoutEviction is enforced structurally by Table:
	// GetOrCreate always runs TTL-then-LRU eviction before growing past
	// maxEntities, so an insert here can never push the table over cap.
	state := e.table.GetOrCreate(a.EntityID)
	if max := e.table.maxEntities; max > 0 && e.table.Len() > max {
		return nil, e.recordViolation(StateExplosionWithoutEviction, a.EntityID)
	}

	now := e.clock()
	prevHadStage, prevStage, prevConfidence := state.HasStage, state.CurrentStage, state.Confidence

	if !state.HasStage {
		if a.ProposedStage != InitialAccess {
			return nil, e.recordViolation(StageSkipWithoutEvidence, a.EntityID)
		}
		state.HasStage = true
		state.CurrentStage = InitialAccess
	} else if a.ProposedStage != state.CurrentStage {
		if !TransitionAllowed(state.CurrentStage, a.ProposedStage, a.HasEvidenceFlag) {
			return nil, e.recordViolation(StageSkipWithoutEvidence, a.EntityID)
		}
		state.appendTransition(Transition{
			From: state.CurrentStage, To: a.ProposedStage, At: now, HadEvidence: a.HasEvidenceFlag,
		})
		state.CurrentStage = a.ProposedStage
	}

	newSignalArrived := a.Signal.SignalID != ""
	if newSignalArrived {
		state.appendSignal(a.Signal)
	}

	var newSignal *Signal
	if newSignalArrived {
		newSignal = &a.Signal
	}
	proposedConfidence := e.score(state, now, newSignal)
	if proposedConfidence > state.Confidence && !newSignalArrived {
		return nil, e.recordViolation(ConfidenceIncreaseWithoutNewSignal, a.EntityID)
	}
	state.Confidence = proposedConfidence
	state.LastUpdated = now

	// A Detection is emitted only when this admission crosses the threshold:
	// confidence rises from below it, or an entity already at or above it
	// moves to a new stage. Staying above it at the same stage emits nothing.
	crossed := !prevHadStage || prevStage != state.CurrentStage || prevConfidence < e.threshold
	if state.Confidence < e.threshold || !crossed {
		return nil, nil
	}

	if !e.hasMinimumSignalSet(state.CurrentStage, state) {
		state.Confidence = prevConfidence
		return nil, e.recordViolation(DetectionWithoutMinimumSignalSet, a.EntityID)
	}

	detection := &Detection{
		EntityID:          a.EntityID,
		Stage:             state.CurrentStage,
		Confidence:        state.Confidence,
		SignalsUsed:       append([]Signal(nil), state.SignalHistory...),
		TransitionHistory: append([]Transition(nil), state.TransitionHistory...),
		ExplanationRef:    uuid.NewString(),
	}
	if e.audit != nil {
		e.audit("DetectionEmitted", map[string]string{
			"entity_id": a.EntityID,
			"stage":     state.CurrentStage.String(),
		})
	}
	return detection, nil
}

// score decays the existing confidence by elapsed time and, only if a new
// signal arrived this admission, allows it to rise to that signal's
// confidence. With newSignal nil the result can never exceed the prior
// confidence, which is what makes I5 hold structurally rather than by a
// caller remembering to check it.
func (e *Engine) score(state *EntityState, now time.Time, newSignal *Signal) float64 {
	decayed := state.Confidence
	if !state.LastUpdated.IsZero() {
		cfg := e.stageConfigs[state.CurrentStage]
		hours := now.Sub(state.LastUpdated).Hours()
		if hours > 0 && cfg.ConfidenceDecayPerHour > 0 {
			decayed -= cfg.ConfidenceDecayPerHour * hours
		}
	}
	if decayed < 0 {
		decayed = 0
	}

	result := decayed
	if newSignal != nil && newSignal.Confidence > result {
		result = newSignal.Confidence
	}
	if result > 1 {
		result = 1
	}
	return result
}

func (e *Engine) hasMinimumSignalSet(stage Stage, state *EntityState) bool {
	cfg, ok := e.stageConfigs[stage]
	if !ok || len(cfg.RequiredSignalKinds) == 0 {
		return true
	}
	seen := make(map[string]bool, len(state.SignalHistory))
	for _, s := range state.SignalHistory {
		seen[s.Kind] = true
	}
	for _, required := range cfg.RequiredSignalKinds {
		if !seen[required] {
			return false
		}
	}
	return true
}
