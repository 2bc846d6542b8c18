// Package store implements the single-shard hash table (spec.md §4.4,
// component L4): a key→Item map guarded by the single-writer discipline of
// its owning shard worker, a TTL wheel for expiry, and a pluggable
// admission/eviction policy that converts between the policy's item-count
// view and the store's byte-accounted capacity.
//
// Grounded on the teacher's cache/shard.go (map + intrusive list + padded
// hit/miss/eviction counters), generalized from generic K/V to the fixed
// []byte Item domain and from lock-protected shared state to exclusive
// single-writer state: spec.md §5 guarantees exactly one goroutine ever
// touches a given ShardStore, so the RWMutex the teacher needed is gone.
package store

import (
	"time"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/itemcodec"
	"github.com/RogerFelipeNsk/crabcache-sub001/internal/tinylfu"
	"github.com/RogerFelipeNsk/crabcache-sub001/internal/ttlwheel"
)

// PutOutcome reports the result of a Put call, per spec.md §4.4.
type PutOutcome int

const (
	// Inserted means a brand-new key was admitted.
	Inserted PutOutcome = iota
	// Replaced means an existing key's value was overwritten.
	Replaced
	// AdmissionRejected means the shard is memory-bound and the eviction
	// policy declined to sacrifice any resident item for the candidate.
	AdmissionRejected
	// CapacityExhausted means the item cannot fit even after evicting
	// every evictable resident item (e.g. the item alone exceeds the
	// shard's capacity).
	CapacityExhausted
)

// Stats is a snapshot of a shard's counters, per spec.md §4.4's stats().
type Stats struct {
	Entries             int
	MemoryUsedBytes      int64
	CapacityBytes        int64
	Hits                 uint64
	Misses               uint64
	Evictions            uint64
	AdmissionRejections  uint64
	ExpiredByWheel       uint64
}

// Clock abstracts wall-clock time so tests can control TTL expiry
// deterministically, mirroring the teacher's cache.Clock interface.
type Clock interface {
	NowUnixMilli() int64
}

type systemClock struct{}

func (systemClock) NowUnixMilli() int64 { return time.Now().UnixMilli() }

// ShardStore owns one partition of the key space: the item map, its TTL
// wheel, and its eviction policy. It is not safe for concurrent use; the
// owning shard worker is its only caller.
type ShardStore struct {
	items    map[string]itemcodec.Item
	wheel    *ttlwheel.Wheel
	evictor  tinylfu.Evictor
	capacity int64
	used     int64
	clock    Clock

	hits, misses, evictions, admissionRejections, expiredByWheel uint64
}

// ensureRoomResult distinguishes why ensureRoom failed to make space,
// since the method's bool return collapses both terminal cases.
type ensureRoomResult int

const (
	roomOK ensureRoomResult = iota
	roomAdmissionRejected
	roomCapacityExhausted
)

// Option configures a ShardStore at construction.
type Option func(*ShardStore)

// WithClock overrides the time source (for deterministic tests).
func WithClock(c Clock) Option {
	return func(s *ShardStore) { s.clock = c }
}

// WithTTLWheel overrides the default-sized TTL wheel.
func WithTTLWheel(w *ttlwheel.Wheel) Option {
	return func(s *ShardStore) { s.wheel = w }
}

// New constructs a ShardStore with the given byte capacity and eviction
// policy (tinylfu.New(...) or tinylfu.NoEviction{}).
func New(capacityBytes int64, evictor tinylfu.Evictor, opts ...Option) *ShardStore {
	s := &ShardStore{
		items:    make(map[string]itemcodec.Item),
		wheel:    ttlwheel.New(ttlwheel.DefaultSlots, ttlwheel.DefaultGranularitySeconds),
		evictor:  evictor,
		capacity: capacityBytes,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ShardStore) now() int64 { return s.clock.NowUnixMilli() }

// Put upserts key→value, arming an optional TTL (ttlSeconds, only
// meaningful when hasTTL is true). See spec.md §4.4 for outcome semantics.
func (s *ShardStore) Put(key, value []byte, hasTTL bool, ttlSeconds int64) PutOutcome {
	var expiresAtMs int64
	if hasTTL {
		expiresAtMs = s.now() + ttlSeconds*1000
	}
	return s.PutAbsolute(key, value, hasTTL, expiresAtMs)
}

// PutAbsolute is Put with the deadline already computed, so a caller that
// must persist the same expires_at_ms to the WAL before dispatching the
// mutation (the router, per spec.md §4.10) can guarantee the two agree
// exactly rather than each computing now()+ttl independently.
func (s *ShardStore) PutAbsolute(key, value []byte, hasExpiry bool, expiresAtMs int64) PutOutcome {
	k := string(key)
	newItem := itemcodec.Item{Key: key, Value: value, HasExpiry: hasExpiry, ExpiresAtMs: expiresAtMs}
	newSize := int64(newItem.SizeBytes())

	if existing, ok := s.items[k]; ok {
		oldSize := int64(existing.SizeBytes())
		// Exclude the item being replaced from the occupied total while
		// measuring room, since it will be overwritten in place, not
		// added alongside itself.
		s.used -= oldSize
		s.evictor.RecordAccess(k)
		if res := s.ensureRoom(k, newSize); res != roomOK {
			s.used += oldSize
			return outcomeOf(res)
		}
		s.items[k] = newItem
		s.used += newSize
		s.rearmTTL(k, newItem)
		return Replaced
	}

	// A brand-new key has no frequency estimate yet; register the attempt
	// before it competes for a capacity-driven eviction slot, otherwise it
	// would always lose to any resident key that has been touched at all.
	s.evictor.RecordAccess(k)
	if res := s.ensureRoom(k, newSize); res != roomOK {
		return outcomeOf(res)
	}

	s.items[k] = newItem
	s.used += newSize
	s.rearmTTL(k, newItem)

	if evicted, ok := s.evictor.Insert(k); ok {
		s.removeEvicted(evicted)
	}
	return Inserted
}

func outcomeOf(res ensureRoomResult) PutOutcome {
	if res == roomAdmissionRejected {
		return AdmissionRejected
	}
	return CapacityExhausted
}

// ensureRoom evicts resident items (by capacity-driven TinyLFU nomination)
// until s.used+needed fits within capacity, or decides the request must
// fail. Evictions already performed before a failure are kept — those
// items are genuinely gone from the store regardless of whether the
// candidate that triggered the search is ultimately admitted.
func (s *ShardStore) ensureRoom(candidateKey string, needed int64) ensureRoomResult {
	for s.used+needed > s.capacity {
		victim, ok := s.evictor.EvictVictim()
		if !ok || victim == candidateKey {
			return roomCapacityExhausted
		}
		if !s.evictor.Admit(candidateKey, victim) {
			s.admissionRejections++
			return roomAdmissionRejected
		}
		s.evictor.Forget(victim)
		if item, ok := s.items[victim]; ok {
			delete(s.items, victim)
			s.used -= int64(item.SizeBytes())
			s.wheel.Remove(victim)
			s.evictions++
		}
	}
	return roomOK
}

// removeEvicted deletes an evicted key from the map/wheel/counters. The
// caller has already told the evictor via Forget (or the evictor evicted
// it itself, as in Insert's cascade).
func (s *ShardStore) removeEvicted(key string) {
	item, ok := s.items[key]
	if !ok {
		return
	}
	delete(s.items, key)
	s.used -= int64(item.SizeBytes())
	s.wheel.Remove(key)
	s.evictions++
}

func (s *ShardStore) rearmTTL(key string, item itemcodec.Item) {
	s.wheel.Remove(key)
	if item.HasExpiry {
		nowS := s.now() / 1000
		ttlS := (item.ExpiresAtMs/1000 - nowS)
		if ttlS < 0 {
			ttlS = 0
		}
		s.wheel.Add(key, nowS, ttlS)
	}
}

// Get returns the value for key, lazily expiring it if its TTL has
// already passed.
func (s *ShardStore) Get(key []byte) ([]byte, bool) {
	k := string(key)
	item, ok := s.items[k]
	if !ok {
		s.misses++
		return nil, false
	}
	if item.HasExpiry && item.ExpiresAtMs < s.now() {
		s.removeExpired(k, item)
		s.misses++
		return nil, false
	}
	s.hits++
	s.evictor.RecordAccess(k)
	return item.Value, true
}

func (s *ShardStore) removeExpired(key string, item itemcodec.Item) {
	delete(s.items, key)
	s.used -= int64(item.SizeBytes())
	s.wheel.Remove(key)
	s.evictor.Forget(key)
	s.expiredByWheel++
}

// Del removes key, reporting whether a live entry existed.
func (s *ShardStore) Del(key []byte) bool {
	k := string(key)
	item, ok := s.items[k]
	if !ok {
		return false
	}
	if item.HasExpiry && item.ExpiresAtMs < s.now() {
		s.removeExpired(k, item)
		return false
	}
	delete(s.items, k)
	s.used -= int64(item.SizeBytes())
	s.wheel.Remove(k)
	s.evictor.Forget(k)
	return true
}

// Expire updates key's TTL to ttlSeconds from now, returning false if the
// key is absent or already expired.
func (s *ShardStore) Expire(key []byte, ttlSeconds int64) bool {
	return s.ExpireAbsolute(key, s.now()+ttlSeconds*1000)
}

// ExpireAbsolute is Expire with the deadline already computed, for the same
// WAL-agreement reason PutAbsolute exists.
func (s *ShardStore) ExpireAbsolute(key []byte, expiresAtMs int64) bool {
	k := string(key)
	item, ok := s.items[k]
	if !ok {
		return false
	}
	if item.HasExpiry && item.ExpiresAtMs < s.now() {
		s.removeExpired(k, item)
		return false
	}
	item.HasExpiry = true
	item.ExpiresAtMs = expiresAtMs
	s.items[k] = item
	s.rearmTTL(k, item)
	return true
}

// ApplyRecovered installs an item recovered from the WAL directly, without
// going through admission or TTL-relative computation: expiresAtMs (if
// hasExpiry) is the original absolute deadline recorded at the time of the
// original write, not now()+ttl. Used only by the recovery hook.
func (s *ShardStore) ApplyRecovered(item itemcodec.Item) {
	k := string(item.Key)
	if existing, ok := s.items[k]; ok {
		s.used -= int64(existing.SizeBytes())
	}
	s.items[k] = item
	s.used += int64(item.SizeBytes())
	if item.HasExpiry {
		nowS := s.now() / 1000
		ttlS := item.ExpiresAtMs/1000 - nowS
		if ttlS < 0 {
			ttlS = 0
		}
		s.wheel.Add(k, nowS, ttlS)
	} else {
		s.wheel.Remove(k)
	}
	s.evictor.RecordAccess(k)
}

// ApplyRecoveredDelete removes a key as instructed by a replayed DEL
// record.
func (s *ShardStore) ApplyRecoveredDelete(key []byte) {
	s.Del(key)
}

// ApplyRecoveredExpire re-arms an existing key's TTL to the original
// absolute deadline recorded by a replayed EXPIRE record, leaving its
// value untouched. A key absent at recovery time (e.g. an earlier DEL in
// the log already removed it) is a no-op, since replay is strictly in log
// order and a later DEL/expiry always wins.
func (s *ShardStore) ApplyRecoveredExpire(key []byte, expiresAtMs int64) {
	k := string(key)
	item, ok := s.items[k]
	if !ok {
		return
	}
	item.HasExpiry = true
	item.ExpiresAtMs = expiresAtMs
	s.items[k] = item
	s.rearmTTL(k, item)
}

// TickExpirations drains the TTL wheel's currently active slot and removes
// any keys found there, called once per wheel granularity interval by the
// owning shard worker.
func (s *ShardStore) TickExpirations() []string {
	expired := s.wheel.Tick()
	out := make([]string, 0, len(expired))
	for _, k := range expired {
		item, ok := s.items[k]
		if !ok {
			continue
		}
		if !item.HasExpiry || item.ExpiresAtMs >= s.now() {
			// The wheel fired early (TTL was saturated to the horizon);
			// the item's real deadline hasn't passed yet. Re-arm it for
			// its true remaining TTL instead of expiring it.
			s.rearmTTL(k, item)
			continue
		}
		delete(s.items, k)
		s.used -= int64(item.SizeBytes())
		s.evictor.Forget(k)
		s.expiredByWheel++
		out = append(out, k)
	}
	return out
}

// Stats returns a snapshot of shard counters.
func (s *ShardStore) Stats() Stats {
	return Stats{
		Entries:             len(s.items),
		MemoryUsedBytes:     s.used,
		CapacityBytes:       s.capacity,
		Hits:                s.hits,
		Misses:              s.misses,
		Evictions:           s.evictions,
		AdmissionRejections: s.admissionRejections,
		ExpiredByWheel:      s.expiredByWheel,
	}
}

// MemoryUsed returns the current byte accounting total, used by tests
// asserting the byte-accounting invariant from spec.md §8.
func (s *ShardStore) MemoryUsed() int64 { return s.used }

// Len returns the number of live items (no lazy-expiry check performed).
func (s *ShardStore) Len() int { return len(s.items) }
