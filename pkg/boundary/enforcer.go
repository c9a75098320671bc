package boundary

import (
	"fmt"
	"os"

	"github.com/ransomeye/core/pkg/audit"
)

// ExitBoundaryViolation is the dedicated nonzero exit status used on a
// boundary violation, distinct from ordinary failure exit codes so a
// process supervisor can tell the two apart (§4.6, §6).
const ExitBoundaryViolation = 78

// AuditChain is the subset of audit.Chain the enforcer needs.
type AuditChain interface {
	Append(component, eventType, actor, host string, data interface{}) (*audit.Record, error)
}

// Terminator aborts the process. Production wiring uses os.Exit;
// tests substitute a recording stub so a violation can be asserted
// without actually killing the test binary.
type Terminator func(code int)

// Enforcer checks every inter-component call against the plane
// classification and forbidden-flow table, and terminates the process
// on a violation. There is no enforce/audit mode switch — a violation
// is always fatal.
type Enforcer struct {
	classifier *Classifier
	identity   *IdentityVerifier
	auditChain AuditChain
	host       string
	terminate  Terminator
}

type Config struct {
	Classifier *Classifier
	Identity   *IdentityVerifier
	AuditChain AuditChain
	Host       string
	Terminate  Terminator
}

func NewEnforcer(cfg Config) *Enforcer {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	terminate := cfg.Terminate
	if terminate == nil {
		terminate = os.Exit
	}
	return &Enforcer{
		classifier: classifier,
		identity:   cfg.Identity,
		auditChain: cfg.AuditChain,
		host:       cfg.Host,
		terminate:  terminate,
	}
}

// EnforceCrossing checks a call from source to target. token, if
// non-empty, is a component identity token verified before the plane
// check; an invalid token is itself a violation. An unknown source or
// target, or a forbidden plane pair, is handled identically: write a
// SECURITY audit record, revoke the caller's identity if one was
// presented, and terminate the process (§4.6). EnforceCrossing never
// returns an error for a violation — by the time it would return, the
// process is already exiting. It always returns nil: a failure to write
// the audit record for a violation is not reported, and the process is
// still terminated.
func (e *Enforcer) EnforceCrossing(source, target, operation, token string) error {
	var claims *IdentityClaims
	if token != "" && e.identity != nil {
		c, err := e.identity.Verify(token)
		if err != nil {
			e.violate(source, target, operation, "INVALID_IDENTITY_TOKEN", nil,
				fmt.Errorf("identity token rejected: %w", err))
			return nil
		}
		claims = c
		if claims.Component != source {
			e.violate(source, target, operation, "IDENTITY_COMPONENT_MISMATCH", claims,
				fmt.Errorf("token asserts %s, call claims %s", claims.Component, source))
			return nil
		}
	}

	sourcePlane, ok := e.classifier.Classify(source)
	if !ok {
		e.violate(source, target, operation, "UNKNOWN_SOURCE_COMPONENT", claims,
			fmt.Errorf("unknown source component %s", source))
		return nil
	}
	targetPlane, ok := e.classifier.Classify(target)
	if !ok {
		e.violate(source, target, operation, "UNKNOWN_TARGET_COMPONENT", claims,
			fmt.Errorf("unknown target component %s", target))
		return nil
	}

	if isForbiddenFlow(sourcePlane, targetPlane, operation) {
		e.violate(source, target, operation,
			fmt.Sprintf("FORBIDDEN_FLOW_%s_TO_%s", sourcePlane, targetPlane), claims,
			fmt.Errorf("%s (plane %s) attempted %q against %s (plane %s)", source, sourcePlane, operation, target, targetPlane))
		return nil
	}

	return nil
}

func (e *Enforcer) violate(source, target, operation, violationType string, claims *IdentityClaims, cause error) {
	if e.auditChain != nil {
		_, _ = e.auditChain.Append("boundary", "SECURITY", source, e.host, map[string]interface{}{
			"violation_type": violationType,
			"source":         source,
			"target":         target,
			"operation":      operation,
			"detail":         cause.Error(),
		})
	}
	if claims != nil && e.identity != nil {
		e.identity.Revoke(claims.ID)
	}
	fmt.Fprintf(os.Stderr, "BOUNDARY_VIOLATION: %s -> %s: %v\n", source, target, cause)
	e.terminate(ExitBoundaryViolation)
}
