// Package xhash provides the stable 64-bit key hash used both for shard
// selection in the local engine and, by a higher layer, for consistent-hash
// ring placement. It is a thin wrapper over cespare/xxhash/v2 so that the
// hash is reproducible across processes and across nodes for the same
// compiled binary — no per-process seed is mixed in.
package xhash

import (
	"github.com/cespare/xxhash/v2"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/util"
)

// Sum64 hashes key with xxHash64. The result is stable across process
// restarts for the same key bytes.
func Sum64(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// ShardOf maps a precomputed hash to a shard index in [0, n). It is
// equivalent to hash mod n; when n is a power of two a masking fast path is
// used instead of a division.
func ShardOf(hash uint64, n int) int {
	return util.ShardIndex(hash, n)
}

// ShardForKey is a convenience wrapper combining Sum64 and ShardOf.
func ShardForKey(key []byte, n int) int {
	return ShardOf(Sum64(key), n)
}
