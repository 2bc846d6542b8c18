package tinylfu

// NoEviction is the degenerate Evictor: it never proposes a victim, so a
// ShardStore configured with it returns CapacityExhausted once memory is
// full rather than silently evicting — the redesign flagged in spec.md §9:
// the source's NoEviction mode could violate capacity, this one cannot,
// because EvictVictim always reports nothing to evict.
type NoEviction struct{}

var _ Evictor = NoEviction{}

// RecordAccess is a no-op; NoEviction tracks no recency or frequency data.
func (NoEviction) RecordAccess(string) {}

// Insert never evicts — every new key is simply admitted by the store.
func (NoEviction) Insert(string) (string, bool) { return "", false }

// Forget is a no-op.
func (NoEviction) Forget(string) {}

// EvictVictim always reports no victim, forcing capacity-bound inserts to
// fail with CapacityExhausted instead of evicting.
func (NoEviction) EvictVictim() (string, bool) { return "", false }

// Admit always returns false: without recency/frequency tracking there is
// no basis to prefer the candidate over the victim.
func (NoEviction) Admit(string, string) bool { return false }
