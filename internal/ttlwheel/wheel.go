// Package ttlwheel implements the per-shard hashed timer wheel that drives
// TTL expiration. It only decides *when* a key is next checked for expiry;
// the ground truth for whether an item has actually expired lives in the
// item's own expires_at_ms field in the owning store.
package ttlwheel

import "sync"

// DefaultSlots and DefaultGranularitySeconds match spec.md's defaults: a
// 3600-slot, 1-second-granularity wheel gives a 1-hour horizon.
const (
	DefaultSlots              = 3600
	DefaultGranularitySeconds = 1
)

// Wheel is a hashed timer wheel mapping string keys to expiry slots.
// Every method takes the wheel's own mutex, so it is safe for concurrent
// use; in practice the owning shard worker is its only caller.
type Wheel struct {
	mu sync.Mutex

	slots       []map[string]struct{}
	keyToSlot   map[string]int
	currentSlot int
	granularity int64 // seconds per slot
}

// New constructs a wheel with slots slots of granularitySeconds each.
func New(slots int, granularitySeconds int64) *Wheel {
	if slots <= 0 {
		slots = DefaultSlots
	}
	if granularitySeconds <= 0 {
		granularitySeconds = DefaultGranularitySeconds
	}
	w := &Wheel{
		slots:       make([]map[string]struct{}, slots),
		keyToSlot:   make(map[string]int),
		granularity: granularitySeconds,
	}
	for i := range w.slots {
		w.slots[i] = make(map[string]struct{})
	}
	return w
}

// Horizon returns the maximum TTL, in seconds, this wheel can represent
// before saturation kicks in (S*G from spec.md §4.3).
func (w *Wheel) Horizon() int64 {
	return int64(len(w.slots)) * w.granularity
}

// Add arms key to expire after ttlSeconds, measured from nowSeconds. TTLs
// exceeding the wheel's horizon are saturated to the horizon slot rather
// than rejected — see the TTL horizon decision in DESIGN.md. The wheel does
// not store the original TTL; the owning store keeps the true
// expires_at_ms and re-arms on tick if the wheel fires early due to
// saturation.
func (w *Wheel) Add(key string, nowSeconds, ttlSeconds int64) {
	if ttlSeconds < 0 {
		ttlSeconds = 0
	}
	// A TTL of a full horizon would wrap around to the current slot, so the
	// furthest slot that can be armed is one granularity step short of it.
	horizon := w.Horizon()
	if ttlSeconds >= horizon {
		ttlSeconds = horizon - w.granularity
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(key)

	slot := w.slotFor(nowSeconds, ttlSeconds)
	w.slots[slot][key] = struct{}{}
	w.keyToSlot[key] = slot
}

func (w *Wheel) slotFor(nowSeconds, ttlSeconds int64) int {
	steps := (nowSeconds + ttlSeconds) / w.granularity
	n := int64(len(w.slots))
	slot := steps % n
	if slot < 0 {
		slot += n
	}
	return int(slot)
}

// Remove cancels any pending expiry for key, returning whether it was
// tracked.
func (w *Wheel) Remove(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removeLocked(key)
}

func (w *Wheel) removeLocked(key string) bool {
	slot, ok := w.keyToSlot[key]
	if !ok {
		return false
	}
	delete(w.slots[slot], key)
	delete(w.keyToSlot, key)
	return true
}

// Tick drains and returns all keys currently in the active slot, clears
// their tracking entries, and advances the active slot by one. It is
// called once per granularity-second interval by the owning shard worker.
func (w *Wheel) Tick() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur := w.slots[w.currentSlot]
	if len(cur) == 0 {
		w.currentSlot = (w.currentSlot + 1) % len(w.slots)
		return nil
	}

	keys := make([]string, 0, len(cur))
	for k := range cur {
		keys = append(keys, k)
		delete(w.keyToSlot, k)
	}
	w.slots[w.currentSlot] = make(map[string]struct{})
	w.currentSlot = (w.currentSlot + 1) % len(w.slots)
	return keys
}

// Len returns the number of keys currently tracked by the wheel, used by
// the |key_to_slot| == Σ|slots[i]| invariant check in tests.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keyToSlot)
}
