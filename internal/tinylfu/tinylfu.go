// Package tinylfu implements the admission filter and window/main-LRU
// eviction pipeline described in spec.md §4.5: a count-min frequency
// sketch gates which candidate keys are worth admitting over the item
// they would displace, a doorkeeper bloom filter breaks ties in favor of
// keys already seen in the current epoch, and two LRU segments
// (a small recency window, a larger frequency-weighted main segment)
// hold the actual admission/eviction order.
package tinylfu

import "time"

// Evictor is the polymorphic eviction policy consulted by a ShardStore.
// It is intentionally narrow — record_access / admit / evict_victim, per
// spec.md §9's "tagged variant, not a general plugin system" guidance —
// rather than a pluggable multi-strategy interface.
type Evictor interface {
	// RecordAccess registers a read or write touch of key for frequency
	// tracking and promotes it within whichever LRU segment it occupies.
	RecordAccess(key string)

	// Insert registers a brand-new key (the store has already confirmed
	// key is absent). It runs the window→main admission cascade and
	// returns the key the store must evict as a side effect, if any.
	Insert(key string) (evicted string, ok bool)

	// Forget removes key from internal segment bookkeeping. Called after
	// the store deletes key explicitly or via TTL expiry.
	Forget(key string)

	// EvictVictim nominates a victim for purely capacity-driven eviction
	// (the store is over its byte budget). It does not remove the victim
	// from policy bookkeeping — the caller runs Admit(candidate, victim)
	// first and only calls Forget once it actually removes the victim
	// from the store. Returns ok=false when the policy has nothing left
	// to nominate.
	EvictVictim() (key string, ok bool)

	// Admit implements the classic TinyLFU rule: does candidate deserve
	// to displace victim? Exposed directly (not just used internally by
	// Insert) so callers and tests can exercise the rule in isolation, as
	// spec.md §4.5 names it as a standalone operation.
	Admit(candidateKey, victimKey string) bool
}

// Config tunes sketch/window/main sizing. Zero values fall back to the
// spec.md §4.5 defaults.
type Config struct {
	// CapacityItems is the total number of items the shard may hold; the
	// window gets WindowRatio of it and main gets the remainder.
	CapacityItems int
	// WindowRatio is the fraction of CapacityItems assigned to the window
	// LRU. Default 0.01 (1%).
	WindowRatio float64
	// SketchDepth is the count-min sketch row count. Default 4.
	SketchDepth int
	// ResetInterval ages the sketch/doorkeeper on this cadence in
	// addition to the sample-size-based aging the sketch does on its own.
	// Zero disables the time-based trigger (sample-size aging still
	// applies).
	ResetInterval time.Duration
}

func (c Config) normalized() Config {
	if c.CapacityItems <= 0 {
		c.CapacityItems = 1
	}
	if c.WindowRatio <= 0 {
		c.WindowRatio = 0.01
	}
	if c.SketchDepth <= 0 {
		c.SketchDepth = 4
	}
	return c
}

// TinyLFU is the default Evictor: a window LRU feeding a main LRU, gated
// by a count-min sketch and doorkeeper.
type TinyLFU struct {
	cfg Config

	window *lruList
	main   *lruList

	windowCap int
	mainCap   int

	sketch *countMinSketch
	door   *doorkeeper

	lastAge  time.Time
	nowFn    func() time.Time
}

// New constructs a TinyLFU evictor sized from cfg.
func New(cfg Config) *TinyLFU {
	cfg = cfg.normalized()

	windowCap := int(float64(cfg.CapacityItems) * cfg.WindowRatio)
	if windowCap < 1 {
		windowCap = 1
	}
	mainCap := cfg.CapacityItems - windowCap
	if mainCap < 1 {
		mainCap = 1
	}

	width := uint64(mainCap) * 4
	t := &TinyLFU{
		cfg:       cfg,
		window:    newLRUList(),
		main:      newLRUList(),
		windowCap: windowCap,
		mainCap:   mainCap,
		sketch:    newCountMinSketch(cfg.SketchDepth, width),
		door:      newDoorkeeper(width*8, cfg.SketchDepth),
		nowFn:     time.Now,
	}
	t.sketch.onAge = t.door.Reset
	return t
}

var _ Evictor = (*TinyLFU)(nil)

// RecordAccess bumps the frequency sketch and promotes key within its
// current segment (window or main), as spec.md §4.5 requires on every
// read and write touch.
func (t *TinyLFU) RecordAccess(key string) {
	t.sketch.Increment(key)
	t.door.Set(key)
	t.maybeAge()

	if t.window.Contains(key) {
		t.window.MoveToFront(key)
		return
	}
	if t.main.Contains(key) {
		t.main.MoveToFront(key)
	}
}

// Insert implements spec.md §4.5's "Insertion flow in put" for a brand-new
// key: place it at MRU of the window; if the window overflows, decide via
// the classic TinyLFU rule whether its LRU displaces main's LRU or is
// itself discarded.
func (t *TinyLFU) Insert(key string) (string, bool) {
	t.sketch.Increment(key)
	t.door.Set(key)
	t.maybeAge()

	t.window.PushFront(key)
	if t.window.Len() <= t.windowCap {
		return "", false
	}

	windowVictim, ok := t.window.PopBack()
	if !ok {
		return "", false
	}

	if t.main.Len() < t.mainCap {
		t.main.PushFront(windowVictim)
		return "", false
	}

	mainVictim, ok := t.main.Back()
	if !ok {
		// Main has no capacity at all; the window victim cannot be housed.
		return windowVictim, true
	}

	if t.Admit(windowVictim, mainVictim) {
		t.main.Remove(mainVictim)
		t.main.PushFront(windowVictim)
		return mainVictim, true
	}
	return windowVictim, true
}

// Admit is the classic TinyLFU rule: admit candidate over victim iff its
// estimated frequency is strictly greater, with ties broken in favor of
// the candidate only when it has already been seen this epoch
// (doorkeeper-gated). A victim still resident in the window segment is
// recency-protected, not frequency-protected, and is always surrendered
// without a frequency contest — the rule only guards the main segment,
// mirroring how Insert's own cascade never nominates a window key as the
// frequency-gated victim.
func (t *TinyLFU) Admit(candidateKey, victimKey string) bool {
	if t.window.Contains(victimKey) {
		return true
	}
	cf := t.sketch.Estimate(candidateKey)
	vf := t.sketch.Estimate(victimKey)
	if cf > vf {
		return true
	}
	if cf == vf && t.door.Has(candidateKey) {
		return true
	}
	return false
}

// Forget removes key from whichever segment holds it.
func (t *TinyLFU) Forget(key string) {
	if t.window.Remove(key) {
		return
	}
	t.main.Remove(key)
}

// EvictVictim nominates the current main LRU (falling back to the window
// LRU if main is empty) for capacity-driven eviction independent of the
// frequency cascade — used when the store is over its byte budget. The
// nomination is a peek: the caller must call Forget once it commits to
// actually removing the victim.
func (t *TinyLFU) EvictVictim() (string, bool) {
	if k, ok := t.main.Back(); ok {
		return k, true
	}
	if k, ok := t.window.Back(); ok {
		return k, true
	}
	return "", false
}

// maybeAge ages the sketch (and, through its onAge hook, resets the
// doorkeeper) once ResetInterval has passed since the last interval-driven
// age; it does nothing when ResetInterval is unset. Aging on the sketch's
// own sample-size threshold happens inside the sketch, not here.
func (t *TinyLFU) maybeAge() {
	if t.cfg.ResetInterval <= 0 {
		return
	}
	now := t.nowFn()
	if t.lastAge.IsZero() {
		t.lastAge = now
		return
	}
	if now.Sub(t.lastAge) >= t.cfg.ResetInterval {
		t.sketch.Age() // onAge hook resets the doorkeeper too
		t.lastAge = now
	}
}

// Len reports total tracked keys across both segments, for tests asserting
// the policy never grows past CapacityItems.
func (t *TinyLFU) Len() int {
	return t.window.Len() + t.main.Len()
}
