// Package replay implements replay protection keyed by (producer_id,
// nonce): a sliding dedupe window (default 30s) and a longer expiry
// window (default 5m) bound memory while enforcing I2/I3. CheckAndRecord
// drops the producer's expired entries before inserting a new one, so the
// cache never grows unbounded under sustained load.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/ransomeye/core/pkg/rerrors"
)

// Protector enforces nonce uniqueness and sequence monotonicity per
// producer.
type Protector struct {
	mu            sync.Mutex
	nonces        map[string]map[string]time.Time // producer_id -> nonce -> seen-at
	sequences     map[string]uint64                // producer_id -> last accepted sequence_number
	dedupeWindow  time.Duration
	expiryWindow  time.Duration
	clockTolerance time.Duration
	clock         func() time.Time

	shared SharedCache // optional Redis-backed cache; nil means in-process only
}

// SharedCache lets a multi-instance ingestion deployment share nonce
// state across processes (REPLAY_CACHE_REDIS_ADDR).
type SharedCache interface {
	// SeenRecently returns true if (producerID, nonce) was already recorded
	// and still within the dedupe window.
	SeenRecently(ctx context.Context, producerID, nonce string, dedupeWindow time.Duration) (bool, error)
	// Record marks (producerID, nonce) seen, to expire after expiryWindow.
	Record(ctx context.Context, producerID, nonce string, expiryWindow time.Duration) error
}

// New builds a Protector with the given windows and tolerance (§4.1).
func New(dedupeWindow, expiryWindow, clockTolerance time.Duration, shared SharedCache) *Protector {
	return &Protector{
		nonces:         make(map[string]map[string]time.Time),
		sequences:      make(map[string]uint64),
		dedupeWindow:   dedupeWindow,
		expiryWindow:   expiryWindow,
		clockTolerance: clockTolerance,
		clock:          time.Now,
		shared:         shared,
	}
}

// WithClock overrides the clock for deterministic tests.
func (p *Protector) WithClock(clock func() time.Time) *Protector {
	p.clock = clock
	return p
}

// CheckFreshness enforces I3: |now - timestamp| <= clockTolerance.
func (p *Protector) CheckFreshness(timestamp time.Time) error {
	diff := p.clock().Sub(timestamp)
	if diff < 0 {
		diff = -diff
	}
	if diff > p.clockTolerance {
		return rerrors.New("replay.Protector.CheckFreshness", rerrors.StaleEvent, nil)
	}
	return nil
}

// CheckAndRecord enforces I1 (strict sequence monotonicity per producer)
// and I2 (no (producer_id, nonce) reuse within the window). On success the
// nonce and sequence number are recorded; on failure nothing is mutated.
func (p *Protector) CheckAndRecord(ctx context.Context, producerID, nonce string, sequenceNumber uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cleanupLocked(producerID)

	if last, ok := p.sequences[producerID]; ok && sequenceNumber <= last {
		return rerrors.New("replay.Protector.CheckAndRecord", rerrors.OrderingViolation, nil)
	}

	if _, ok := p.nonces[producerID]; !ok {
		p.nonces[producerID] = make(map[string]time.Time)
	}
	if _, ok := p.nonces[producerID][nonce]; ok {
		return rerrors.New("replay.Protector.CheckAndRecord", rerrors.ReplayDetected, nil)
	}
	if p.shared != nil {
		seen, err := p.shared.SeenRecently(ctx, producerID, nonce, p.dedupeWindow)
		if err != nil {
			return rerrors.New("replay.Protector.CheckAndRecord", rerrors.ReplayDetected, err)
		}
		if seen {
			return rerrors.New("replay.Protector.CheckAndRecord", rerrors.ReplayDetected, nil)
		}
		if err := p.shared.Record(ctx, producerID, nonce, p.expiryWindow); err != nil {
			return rerrors.New("replay.Protector.CheckAndRecord", rerrors.ReplayDetected, err)
		}
	}

	p.nonces[producerID][nonce] = p.clock()
	p.sequences[producerID] = sequenceNumber
	return nil
}

// cleanupLocked evicts nonces older than expiryWindow for producerID.
// Callers must hold p.mu.
func (p *Protector) cleanupLocked(producerID string) {
	bucket, ok := p.nonces[producerID]
	if !ok {
		return
	}
	now := p.clock()
	for nonce, seenAt := range bucket {
		if now.Sub(seenAt) > p.expiryWindow {
			delete(bucket, nonce)
		}
	}
}
