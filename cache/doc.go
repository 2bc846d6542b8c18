// Package cache is the public entry point for crabcache: a sharded,
// in-memory key/value cache with TinyLFU admission/eviction, TTL expiry,
// and write-ahead-log durability.
//
// Design
//
//   - Concurrency: the keyspace is split across shardmgr.Manager's
//     ShardStores, each owned by a single worker goroutine, rather than a
//     shared map guarded by a mutex. A mutating command is durable in the
//     write-ahead log before its effect is visible in any shard.
//
//   - Storage: each shard (store.ShardStore) keeps a map[string]Item with
//     admission/eviction decided by internal/tinylfu and expiry enforced by
//     internal/ttlwheel. All operations are O(1) expected.
//
//   - Durability: every PUT/DEL/EXPIRE is appended to the wal.Manager
//     before being applied to its shard. On restart, New replays the WAL
//     through the shard manager before accepting any command.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals,
//     sampled from aggregated shard stats. NoopMetrics is the default;
//     metrics/prom.Adapter exports them to Prometheus.
//
// Basic usage
//
//	eng, err := cache.New(cache.Options{
//	    Dir:           "/var/lib/crabcache",
//	    CapacityBytes: 1 << 30,
//	})
//	if err != nil { ... }
//	defer eng.Close()
//
//	resp := eng.Process(ctx, protocol.Command{Kind: protocol.KindPut, Key: []byte("a"), Value: []byte("1")})
//
// Exporting metrics (Prometheus adapter)
//
//	m := prom.New(nil, "crabcache", "engine", nil) // implements cache.Metrics
//	eng, _ := cache.New(cache.Options{Dir: dir, CapacityBytes: 1 << 30, Metrics: m})
//
// Thread-safety
//
// All Engine methods are safe for concurrent use.
package cache
