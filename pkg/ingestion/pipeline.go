package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ransomeye/core/pkg/acl"
	"github.com/ransomeye/core/pkg/audit"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/ratelimit"
	"github.com/ransomeye/core/pkg/replay"
	"github.com/ransomeye/core/pkg/rerrors"
	"github.com/ransomeye/core/pkg/schema"
)

// Response is the fixed small vocabulary returned to a producer. Internal
// error detail never leaks past this set — callers needing the reason get
// it out-of-band via the audit record, not the response itself.
type Response string

const (
	Accepted           Response = "ACCEPTED"
	RateLimitExceeded  Response = "RATE_LIMIT_EXCEEDED"
	BackpressureActive Response = "BACKPRESSURE_ACTIVE"
	BufferFull         Response = "BUFFER_FULL"
	OrderingViolation  Response = "ORDERING_VIOLATION"
	ACLViolation       Response = "ACL_VIOLATION"
	Rejected           Response = "REJECTED"
)

// Result is what Admit returns: the fixed-vocabulary response plus the
// specific kind for audit/logging, never exposed to the producer.
type Result struct {
	Response Response
	Reason   rerrors.Kind
}

// TrustStore is the subset of pkg/trust.Store the pipeline depends on.
type TrustStore interface {
	ProducerVerifier(producerID string) (*crypto.Ed25519Verifier, error)
}

// RoleResolver maps a producer_id to the ACL role it publishes under.
// Sensor producers are Agent or DPI; this is deployment configuration, not
// something the trust store's certificate format encodes.
type RoleResolver func(producerID string) acl.Role

// Dispatch hands an admitted event to the next pipeline stage
// (correlation). A Dispatch error is treated as an admission failure: the
// event is not considered accepted until Dispatch succeeds.
type Dispatch func(ctx context.Context, e *Envelope) error

const defaultAdmissionBudget = 200 * time.Millisecond

// Pipeline implements the 9-stage admission chain.
type Pipeline struct {
	trust      TrustStore
	roleOf     RoleResolver
	schemas    *schema.Registry
	limiter    *ratelimit.Limiter
	replay     *replay.Protector
	auditChain *audit.Chain
	dispatch   Dispatch

	bufferCap int
	buffer    chan *Envelope

	mu           sync.Mutex
	backpressure map[string]bool

	admissionBudget time.Duration
}

// Config wires a Pipeline's dependencies.
type Config struct {
	Trust           TrustStore
	RoleOf          RoleResolver
	Schemas         *schema.Registry
	Limiter         *ratelimit.Limiter
	Replay          *replay.Protector
	AuditChain      *audit.Chain
	Dispatch        Dispatch
	BufferCapacity  int
	AdmissionBudget time.Duration
}

func New(cfg Config) *Pipeline {
	budget := cfg.AdmissionBudget
	if budget <= 0 {
		budget = defaultAdmissionBudget
	}
	bufCap := cfg.BufferCapacity
	if bufCap <= 0 {
		bufCap = 1024
	}
	return &Pipeline{
		trust:           cfg.Trust,
		roleOf:          cfg.RoleOf,
		schemas:         cfg.Schemas,
		limiter:         cfg.Limiter,
		replay:          cfg.Replay,
		auditChain:      cfg.AuditChain,
		dispatch:        cfg.Dispatch,
		bufferCap:       bufCap,
		buffer:          make(chan *Envelope, bufCap),
		backpressure:    make(map[string]bool),
		admissionBudget: budget,
	}
}

// Drain returns the channel Admit enqueues onto, for a worker pool to
// pull from and call Dispatch out-of-band. Admit itself only enforces
// admission; whatever reads Drain is responsible for actually advancing
// events into correlation if Dispatch is nil.
func (p *Pipeline) Drain() <-chan *Envelope {
	return p.buffer
}

func (p *Pipeline) setBackpressure(producerID string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backpressure[producerID] = active
}

func (p *Pipeline) underBackpressure(producerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backpressure[producerID]
}

// Admit runs the 9-stage chain against one envelope, submitted by
// transportProducerID (the identity mutual TLS authenticated at the
// connection level) at the given priority.
func (p *Pipeline) Admit(ctx context.Context, e *Envelope, transportProducerID string, priority ratelimit.Priority) Result {
	ctx, cancel := context.WithTimeout(ctx, p.admissionBudget)
	defer cancel()

	// 1. Authenticate: transport identity must match the envelope's claim.
	if transportProducerID != e.ProducerID {
		return p.reject(ctx, e, rerrors.AuthenticationFailed, "producer_id mismatch with transport identity")
	}

	// ACL: sensor-class producers publish Telemetry; a mismatch here is a
	// SECURITY-level event, not an ordinary rejection.
	role := acl.RoleAgent
	if p.roleOf != nil {
		role = p.roleOf(e.ProducerID)
	}
	if err := acl.Check(role, acl.Telemetry); err != nil {
		p.auditSecurity(e, fmt.Sprintf("ACL violation: role=%s message_type=Telemetry", role))
		return Result{Response: ACLViolation, Reason: rerrors.ACLViolation}
	}

	// 2. Signature.
	verifier, err := p.trust.ProducerVerifier(e.ProducerID)
	if err != nil {
		return p.reject(ctx, e, rerrors.SignatureInvalid, "unknown producer")
	}
	if err := verifySignature(e, verifier); err != nil {
		return p.reject(ctx, e, rerrors.SignatureInvalid, "signature verification failed")
	}

	// 3. Schema.
	if err := p.schemas.Validate(e.ComponentType, e.SchemaVersion, e.EventData); err != nil {
		return p.reject(ctx, e, rerrors.SchemaInvalid, "schema validation failed")
	}

	// 4. Rate limit.
	if err := p.limiter.Check(e.ProducerID, e.ComponentType, priority); err != nil {
		p.audit(e, "AdmissionRejected", string(rerrors.RateLimitExceeded))
		return Result{Response: RateLimitExceeded, Reason: rerrors.RateLimitExceeded}
	}

	// 5. Backpressure: a previous buffer-full event on this producer.
	if p.underBackpressure(e.ProducerID) {
		p.audit(e, "AdmissionRejected", string(rerrors.BackpressureActive))
		return Result{Response: BackpressureActive, Reason: rerrors.BackpressureActive}
	}

	// 6. Buffer capacity: non-blocking enqueue; full sets backpressure for
	// this producer so subsequent events short-circuit at stage 5.
	select {
	case p.buffer <- e:
	default:
		p.setBackpressure(e.ProducerID, true)
		p.audit(e, "AdmissionRejected", string(rerrors.BufferFull))
		return Result{Response: BufferFull, Reason: rerrors.BufferFull}
	}

	// 7/8. Ordering, replay, and freshness. These are enforced together by
	// a single locked check so a sequence-accepted, nonce-duplicate event
	// (or vice versa) can never slip through a race between the two.
	if err := p.replay.CheckFreshness(e.Timestamp); err != nil {
		p.drainOne(e)
		return p.reject(ctx, e, rerrors.StaleEvent, "timestamp outside freshness tolerance")
	}
	if err := p.replay.CheckAndRecord(ctx, e.ProducerID, e.Nonce, e.SequenceNumber); err != nil {
		p.drainOne(e)
		if rerrors.Is(err, rerrors.OrderingViolation) {
			p.audit(e, "AdmissionRejected", string(rerrors.OrderingViolation))
			return Result{Response: OrderingViolation, Reason: rerrors.OrderingViolation}
		}
		return p.reject(ctx, e, rerrors.ReplayDetected, "duplicate (producer_id, nonce)")
	}

	// 9. Dispatch. A downstream stage rejecting the event is treated as
	// backpressure from that stage, not a distinct failure mode.
	if p.dispatch != nil {
		if err := p.dispatch(ctx, e); err != nil {
			p.setBackpressure(e.ProducerID, true)
			p.audit(e, "AdmissionRejected", string(rerrors.BackpressureActive))
			return Result{Response: BackpressureActive, Reason: rerrors.BackpressureActive}
		}
	}

	p.audit(e, "EventAccepted", "")
	return Result{Response: Accepted}
}

// drainOne removes the envelope just enqueued in stage 6 when a later
// stage rejects it, so the buffer slot is freed immediately rather than
// waiting for a consumer that will never see this event.
func (p *Pipeline) drainOne(e *Envelope) {
	select {
	case drained := <-p.buffer:
		if drained != e {
			// Another event was pulled by a concurrent consumer first; put
			// it back so it is not lost.
			p.buffer <- drained
		}
	default:
	}
}

func (p *Pipeline) reject(_ context.Context, e *Envelope, reason rerrors.Kind, detail string) Result {
	p.audit(e, "AdmissionRejected", fmt.Sprintf("%s: %s", reason, detail))
	return Result{Response: Rejected, Reason: reason}
}

func (p *Pipeline) audit(e *Envelope, eventType, detail string) {
	if p.auditChain == nil {
		return
	}
	_, _ = p.auditChain.Append("ingestion", eventType, e.ProducerID, e.ProducerID, map[string]string{
		"event_id": e.EventID,
		"detail":   detail,
	})
}

func (p *Pipeline) auditSecurity(e *Envelope, detail string) {
	if p.auditChain == nil {
		return
	}
	_, _ = p.auditChain.Append("ingestion", "SECURITY", e.ProducerID, e.ProducerID, map[string]string{
		"event_id": e.EventID,
		"detail":   detail,
	})
}
