package router

import (
	"fmt"
	"strings"

	"github.com/RogerFelipeNsk/crabcache-sub001/store"
)

// formatStats renders the aggregated shard stats as a flat key=value line
// list, per the SPEC_FULL.md-supplemented STATS text shape: stable and
// greppable rather than a structured/nested format, the same flat-field
// demo-printout style original_source/examples/phase7_basic_demo.rs uses
// for its own stats dump.
func formatStats(shardStats []store.Stats) string {
	var agg store.Stats
	for _, s := range shardStats {
		agg.Entries += s.Entries
		agg.MemoryUsedBytes += s.MemoryUsedBytes
		agg.CapacityBytes += s.CapacityBytes
		agg.Hits += s.Hits
		agg.Misses += s.Misses
		agg.Evictions += s.Evictions
		agg.AdmissionRejections += s.AdmissionRejections
		agg.ExpiredByWheel += s.ExpiredByWheel
	}

	var b strings.Builder
	fmt.Fprintf(&b, "shards=%d ", len(shardStats))
	fmt.Fprintf(&b, "entries=%d ", agg.Entries)
	fmt.Fprintf(&b, "memory_used=%d ", agg.MemoryUsedBytes)
	fmt.Fprintf(&b, "capacity=%d ", agg.CapacityBytes)
	fmt.Fprintf(&b, "hits=%d ", agg.Hits)
	fmt.Fprintf(&b, "misses=%d ", agg.Misses)
	fmt.Fprintf(&b, "evictions=%d ", agg.Evictions)
	fmt.Fprintf(&b, "admission_rejections=%d ", agg.AdmissionRejections)
	fmt.Fprintf(&b, "expired_by_wheel=%d", agg.ExpiredByWheel)
	return b.String()
}
