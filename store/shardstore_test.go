package store

import (
	"testing"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/itemcodec"
	"github.com/RogerFelipeNsk/crabcache-sub001/internal/tinylfu"
)

// fakeClock lets tests advance time deterministically instead of sleeping.
type fakeClock struct{ ms int64 }

func (c *fakeClock) NowUnixMilli() int64 { return c.ms }

func itemOverhead(key, value []byte) int64 {
	it := itemcodec.Item{Key: key, Value: value}
	return int64(it.SizeBytes())
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	if outcome := s.Put([]byte("k"), []byte("v"), false, 0); outcome != Inserted {
		t.Fatalf("outcome = %v, want Inserted", outcome)
	}
	got, ok := s.Get([]byte("k"))
	if !ok || string(got) != "v" {
		t.Fatalf("Get = %q,%v want v,true", got, ok)
	}
}

func TestPutReplaceReportsReplaced(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	s.Put([]byte("k"), []byte("v1"), false, 0)
	outcome := s.Put([]byte("k"), []byte("v2-longer"), false, 0)
	if outcome != Replaced {
		t.Fatalf("outcome = %v, want Replaced", outcome)
	}
	got, _ := s.Get([]byte("k"))
	if string(got) != "v2-longer" {
		t.Fatalf("got = %q, want v2-longer", got)
	}
}

func TestGetMissIncrementsMisses(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	if _, ok := s.Get([]byte("absent")); ok {
		t.Fatal("expected miss")
	}
	if s.Stats().Misses != 1 {
		t.Fatalf("misses = %d, want 1", s.Stats().Misses)
	}
}

func TestDelRemovesKey(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	s.Put([]byte("k"), []byte("v"), false, 0)
	if !s.Del([]byte("k")) {
		t.Fatal("expected Del to report existing key")
	}
	if _, ok := s.Get([]byte("k")); ok {
		t.Fatal("key should be gone after Del")
	}
	if s.Del([]byte("k")) {
		t.Fatal("second Del should report false")
	}
}

// Byte-accounting invariant from spec.md §8: memory_used must equal the sum
// of resident items' size_bytes at all times.
func TestMemoryUsedMatchesSumOfSizes(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	keys := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	vals := [][]byte{[]byte("1"), []byte("22"), []byte("333")}
	var want int64
	for i := range keys {
		s.Put(keys[i], vals[i], false, 0)
		want += itemOverhead(keys[i], vals[i])
	}
	if got := s.MemoryUsed(); got != want {
		t.Fatalf("MemoryUsed = %d, want %d", got, want)
	}

	s.Del(keys[0])
	want -= itemOverhead(keys[0], vals[0])
	if got := s.MemoryUsed(); got != want {
		t.Fatalf("after Del, MemoryUsed = %d, want %d", got, want)
	}
}

func TestCapacityExhaustedWhenNoEvictionAndFull(t *testing.T) {
	t.Parallel()
	oneItem := itemOverhead([]byte("k0"), []byte("v0"))
	s := New(oneItem, tinylfu.NoEviction{})
	if outcome := s.Put([]byte("k0"), []byte("v0"), false, 0); outcome != Inserted {
		t.Fatalf("first put outcome = %v, want Inserted", outcome)
	}
	outcome := s.Put([]byte("k1"), []byte("v1"), false, 0)
	if outcome != CapacityExhausted {
		t.Fatalf("outcome = %v, want CapacityExhausted", outcome)
	}
	if s.Stats().Entries != 1 {
		t.Fatalf("entries = %d, want 1 (rejected put must not be admitted)", s.Stats().Entries)
	}
}

func TestItemLargerThanCapacityIsCapacityExhausted(t *testing.T) {
	t.Parallel()
	s := New(4, tinylfu.New(tinylfu.Config{CapacityItems: 10}))
	outcome := s.Put([]byte("k"), make([]byte, 1024), false, 0)
	if outcome != CapacityExhausted {
		t.Fatalf("outcome = %v, want CapacityExhausted", outcome)
	}
}

// A capacity-bound store backed by TinyLFU must evict resident items to
// admit a new one once full, never exceeding its byte capacity.
func TestCapacityBoundEvictsToAdmit(t *testing.T) {
	t.Parallel()
	perItem := itemOverhead([]byte("k0"), []byte("v0"))
	cap := perItem * 3
	s := New(cap, tinylfu.New(tinylfu.Config{CapacityItems: 100, WindowRatio: 0.5}))

	for i := 0; i < 3; i++ {
		k := []byte{'k', byte('0' + i)}
		if outcome := s.Put(k, []byte("v0"), false, 0); outcome != Inserted {
			t.Fatalf("put %d outcome = %v, want Inserted", i, outcome)
		}
	}
	if s.Stats().Entries != 3 {
		t.Fatalf("entries = %d, want 3", s.Stats().Entries)
	}

	outcome := s.Put([]byte("k3"), []byte("v0"), false, 0)
	if outcome != Inserted {
		t.Fatalf("outcome for k3 = %v, want Inserted (must evict to admit)", outcome)
	}
	if s.MemoryUsed() > cap {
		t.Fatalf("memory_used %d exceeds capacity %d", s.MemoryUsed(), cap)
	}
	if s.Stats().Entries > 3 {
		t.Fatalf("entries = %d, capacity only allows 3", s.Stats().Entries)
	}
	if s.Stats().Evictions == 0 {
		t.Fatal("expected at least one eviction")
	}
}

func TestTTLExpiryOnGet(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{ms: 1_000_000}
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}), WithClock(clock))
	s.Put([]byte("k"), []byte("v"), true, 10)

	clock.ms += 5_000
	if _, ok := s.Get([]byte("k")); !ok {
		t.Fatal("key should still be live before TTL elapses")
	}

	clock.ms += 6_000
	if _, ok := s.Get([]byte("k")); ok {
		t.Fatal("key should be expired after TTL elapses")
	}
	if s.Stats().ExpiredByWheel != 1 {
		t.Fatalf("ExpiredByWheel = %d, want 1", s.Stats().ExpiredByWheel)
	}
}

func TestExpireUpdatesTTL(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{ms: 0}
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}), WithClock(clock))
	s.Put([]byte("k"), []byte("v"), false, 0)

	if !s.Expire([]byte("k"), 5) {
		t.Fatal("Expire should report true for a live key")
	}
	clock.ms += 10_000
	if _, ok := s.Get([]byte("k")); ok {
		t.Fatal("key should have expired after new TTL elapsed")
	}
}

func TestExpireAbsentKeyReportsFalse(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	if s.Expire([]byte("missing"), 5) {
		t.Fatal("Expire on absent key should report false")
	}
}

func TestTickExpirationsDrainsExpiredKeys(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{ms: 0}
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}), WithClock(clock))
	s.Put([]byte("k"), []byte("v"), true, 1)

	clock.ms += 2_000
	// One tick per elapsed granularity second: slot 0 at t=1s, slot 1
	// (where k, due at t=1s, was armed) at t=2s.
	var expired []string
	for i := 0; i < 2; i++ {
		expired = append(expired, s.TickExpirations()...)
	}
	found := false
	for _, k := range expired {
		if k == "k" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected k among expired keys, got %v", expired)
	}
	if _, ok := s.Get([]byte("k")); ok {
		t.Fatal("k should be gone after TickExpirations drained it")
	}
}

// ApplyRecovered must install the item's own persisted ExpiresAtMs rather
// than recomputing now()+ttl, per spec.md §4.10's recovery-hook contract.
func TestApplyRecoveredPreservesOriginalDeadline(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{ms: 1_000_000}
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}), WithClock(clock))

	recovered := itemcodec.Item{
		Key:         []byte("k"),
		Value:       []byte("v"),
		HasExpiry:   true,
		ExpiresAtMs: 1_005_000,
	}
	s.ApplyRecovered(recovered)

	if _, ok := s.Get([]byte("k")); !ok {
		t.Fatal("recovered key should be live before its original deadline")
	}
	clock.ms = 1_006_000
	if _, ok := s.Get([]byte("k")); ok {
		t.Fatal("recovered key should expire at its original deadline, not a recomputed one")
	}
}

func TestApplyRecoveredDeleteRemovesKey(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	s.Put([]byte("k"), []byte("v"), false, 0)
	s.ApplyRecoveredDelete([]byte("k"))
	if _, ok := s.Get([]byte("k")); ok {
		t.Fatal("key should be gone after ApplyRecoveredDelete")
	}
}

func TestApplyRecoveredExpireRearmsWithoutTouchingValue(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{ms: 1_000_000}
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}), WithClock(clock))
	s.Put([]byte("k"), []byte("v"), false, 0)

	s.ApplyRecoveredExpire([]byte("k"), 1_005_000)

	got, ok := s.Get([]byte("k"))
	if !ok || string(got) != "v" {
		t.Fatalf("Get = %q,%v, want v,true", got, ok)
	}
	clock.ms = 1_006_000
	if _, ok := s.Get([]byte("k")); ok {
		t.Fatal("key should expire at the recovered absolute deadline")
	}
}

func TestApplyRecoveredExpireOnAbsentKeyIsNoOp(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	s.ApplyRecoveredExpire([]byte("missing"), 1_000)
	if _, ok := s.Get([]byte("missing")); ok {
		t.Fatal("expected key to remain absent")
	}
}

func TestStatsReflectsHitsAndMisses(t *testing.T) {
	t.Parallel()
	s := New(1<<20, tinylfu.New(tinylfu.Config{CapacityItems: 1000}))
	s.Put([]byte("k"), []byte("v"), false, 0)
	s.Get([]byte("k"))
	s.Get([]byte("missing"))
	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want Hits=1 Misses=1", stats)
	}
	if stats.Entries != 1 {
		t.Fatalf("entries = %d, want 1", stats.Entries)
	}
}
