package correlation

import (
	"container/list"
	"sync"
	"time"
)

// Signal is one contributing observation toward a stage's confidence.
type Signal struct {
	SignalID   string
	Kind       string
	Confidence float64
	ObservedAt time.Time
}

// Transition is one recorded stage move, kept for audit/explanation.
type Transition struct {
	From        Stage
	To          Stage
	At          time.Time
	HadEvidence bool
}

const (
	maxSignalHistory     = 256
	maxTransitionHistory = 128
)

// EntityState is one tracked entity's kill-chain progress (§3). It is
// never resurrected with its prior confidence after eviction — a new
// entity_id insert after eviction always starts fresh.
type EntityState struct {
	EntityID          string
	HasStage          bool
	CurrentStage      Stage
	Confidence        float64
	LastUpdated       time.Time
	LastSignalAt      time.Time
	SignalHistory     []Signal
	TransitionHistory []Transition

	lastScoredAtSignal time.Time // not assigned anywhere; always the zero time
}

func (e *EntityState) appendSignal(s Signal) {
	e.SignalHistory = append(e.SignalHistory, s)
	if len(e.SignalHistory) > maxSignalHistory {
		e.SignalHistory = e.SignalHistory[len(e.SignalHistory)-maxSignalHistory:]
	}
	if s.ObservedAt.After(e.LastSignalAt) {
		e.LastSignalAt = s.ObservedAt
	}
}

func (e *EntityState) appendTransition(t Transition) {
	e.TransitionHistory = append(e.TransitionHistory, t)
	if len(e.TransitionHistory) > maxTransitionHistory {
		e.TransitionHistory = e.TransitionHistory[len(e.TransitionHistory)-maxTransitionHistory:]
	}
}

// Table is the bounded per-entity state table: TTL eviction runs first,
// then LRU, whenever an insert would exceed maxEntities (I6).
type Table struct {
	mu          sync.Mutex
	maxEntities int
	ttl         time.Duration
	clock       func() time.Time

	entries map[string]*list.Element // entity_id -> lru element
	lru     *list.List               // front = most recently used
}

type tableEntry struct {
	entityID  string
	state     *EntityState
	touchedAt time.Time
}

// NewTable builds a Table with the given capacity and TTL.
func NewTable(maxEntities int, ttl time.Duration) *Table {
	return &Table{
		maxEntities: maxEntities,
		ttl:         ttl,
		clock:       time.Now,
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
	}
}

// WithClock overrides the clock for deterministic tests.
func (t *Table) WithClock(clock func() time.Time) *Table {
	t.clock = clock
	return t
}

// Len returns the current number of tracked entities.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// evictExpiredLocked removes every entry whose last touch is older than
// ttl. Callers must hold t.mu.
func (t *Table) evictExpiredLocked() int {
	if t.ttl <= 0 {
		return 0
	}
	now := t.clock()
	evicted := 0
	for el := t.lru.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*tableEntry)
		if now.Sub(entry.touchedAt) > t.ttl {
			t.lru.Remove(el)
			delete(t.entries, entry.entityID)
			evicted++
		}
		el = prev
	}
	return evicted
}

// evictLRULocked removes the single least-recently-used entry. Callers
// must hold t.mu.
func (t *Table) evictLRULocked() bool {
	el := t.lru.Back()
	if el == nil {
		return false
	}
	entry := el.Value.(*tableEntry)
	t.lru.Remove(el)
	delete(t.entries, entry.entityID)
	return true
}

// GetOrCreate returns the entity's state, creating a fresh one if absent.
// If creating would exceed maxEntities, TTL eviction runs first, then LRU,
// enforcing StateExplosionWithoutEviction: an insert never proceeds
// without first making room.
func (t *Table) GetOrCreate(entityID string) *EntityState {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	if el, ok := t.entries[entityID]; ok {
		t.lru.MoveToFront(el)
		entry := el.Value.(*tableEntry)
		entry.touchedAt = now
		return entry.state
	}

	if t.maxEntities > 0 && t.lru.Len() >= t.maxEntities {
		if t.evictExpiredLocked() == 0 {
			t.evictLRULocked()
		}
	}

	state := &EntityState{EntityID: entityID, LastUpdated: now}
	entry := &tableEntry{entityID: entityID, state: state, touchedAt: now}
	el := t.lru.PushFront(entry)
	t.entries[entityID] = el
	return state
}

// Get returns the entity's state without creating one, and whether it
// exists.
func (t *Table) Get(entityID string) (*EntityState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.entries[entityID]
	if !ok {
		return nil, false
	}
	t.lru.MoveToFront(el)
	entry := el.Value.(*tableEntry)
	entry.touchedAt = t.clock()
	return entry.state, true
}
