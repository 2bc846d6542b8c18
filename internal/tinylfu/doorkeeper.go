package tinylfu

import (
	"github.com/cespare/xxhash/v2"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/util"
)

// doorkeeper is a bloom filter gating first-time admissions: a key must
// already have been seen within the current aging epoch before a tie in the
// admit() comparison favors it.
type doorkeeper struct {
	bits []uint64
	m    uint64 // number of bits, power of two
	k    int    // number of hash functions
}

func newDoorkeeper(m uint64, k int) *doorkeeper {
	m = util.NextPow2(m)
	if m == 0 {
		m = 1024
	}
	if k <= 0 {
		k = 4
	}
	return &doorkeeper{
		bits: make([]uint64, m/64+1),
		m:    m,
		k:    k,
	}
}

func (d *doorkeeper) indexes(key string) []uint64 {
	h1 := xxhash.Sum64String(key)
	h2 := h1>>32 | h1<<32
	idx := make([]uint64, d.k)
	for i := 0; i < d.k; i++ {
		idx[i] = (h1 + uint64(i)*h2) & (d.m - 1)
	}
	return idx
}

// Set marks key as seen in the current epoch.
func (d *doorkeeper) Set(key string) {
	for _, i := range d.indexes(key) {
		d.bits[i/64] |= 1 << (i % 64)
	}
}

// Has reports whether key was seen in the current epoch. False positives
// are possible (bloom filter); false negatives are not.
func (d *doorkeeper) Has(key string) bool {
	for _, i := range d.indexes(key) {
		if d.bits[i/64]&(1<<(i%64)) == 0 {
			return false
		}
	}
	return true
}

// Reset clears all bits, called when the sketch ages.
func (d *doorkeeper) Reset() {
	for i := range d.bits {
		d.bits[i] = 0
	}
}
