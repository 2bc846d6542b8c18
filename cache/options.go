package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/RogerFelipeNsk/crabcache-sub001/router"
	"github.com/RogerFelipeNsk/crabcache-sub001/wal"
)

// EvictReason explains why an entry left a shard, for Metrics.Evict.
type EvictReason int

const (
	// EvictPolicy — removed by TinyLFU's admission/eviction decision.
	EvictPolicy EvictReason = iota
	// EvictTTL — expired by the TTL wheel.
	EvictTTL
)

// Metrics exposes engine-level observability hooks. NoopMetrics is used by
// default; metrics/prom.Adapter exports these to Prometheus.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, bytes int64)
}

// Clock provides wall-clock time in unix milliseconds; overridable for
// deterministic TTL tests. Satisfies router.Clock.
type Clock = router.Clock

// Options configures an Engine. Zero values are safe except Dir and
// CapacityBytes, which New requires.
type Options struct {
	// Dir is the write-ahead-log directory. Required.
	Dir string

	// CapacityBytes is the total resident-bytes budget, split evenly
	// (ceiling) across shards. Required, must be > 0.
	CapacityBytes int64

	// Shards is the number of ShardStores. <=0 picks an automatic value.
	Shards int

	// DisableEviction turns off TinyLFU admission/eviction in favor of a
	// hard capacity ceiling: once full, PUT reports CapacityExhausted
	// instead of evicting. Eviction is on by default.
	DisableEviction bool

	// WALPolicy controls fsync aggressiveness. The zero value is
	// wal.SyncNone.
	WALPolicy wal.SyncPolicy
	// WALEveryN is used when WALPolicy == wal.SyncEveryN; 0 => 1.
	WALEveryN uint32
	// WALAsyncInterval is used when WALPolicy == wal.SyncAsync.
	WALAsyncInterval time.Duration

	// Metrics receives Hit/Miss/Evict/Size signals. Nil => NoopMetrics.
	Metrics Metrics
	// Logger receives structured log lines for slow/rare events. Nil =>
	// zap.NewNop().
	Logger *zap.Logger
	// Clock overrides the time source (tests). Nil => system clock.
	Clock Clock
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) metrics() Metrics {
	if o.Metrics == nil {
		return NoopMetrics{}
	}
	return o.Metrics
}
