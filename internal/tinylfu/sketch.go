package tinylfu

import (
	"github.com/cespare/xxhash/v2"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/util"
)

// countMinSketch is a count-min sketch with saturating 4-bit counters,
// depth rows and width columns. Two counters share each byte. Frequency
// estimates are monotone non-decreasing in the true frequency and never
// below the true count until a counter saturates at 15 or is halved by
// aging — the power-of-two width keeps index arithmetic a mask
// instead of a modulo.
type countMinSketch struct {
	depth int
	width uint64 // power of two
	rows  [][]byte

	additions  uint64
	sampleSize uint64

	// onAge, when set, runs after every aging pass (sample-size triggered
	// or forced) so callers can keep companion state — the doorkeeper —
	// in sync with the sketch's epoch.
	onAge func()
}

const maxCounter = 15 // 4 bits

func newCountMinSketch(depth int, width uint64) *countMinSketch {
	if depth <= 0 {
		depth = 4
	}
	width = util.NextPow2(width)
	if width == 0 {
		width = 16
	}
	rows := make([][]byte, depth)
	for i := range rows {
		// two 4-bit counters per byte.
		rows[i] = make([]byte, (width+1)/2)
	}
	return &countMinSketch{
		depth:      depth,
		width:      width,
		rows:       rows,
		sampleSize: width * uint64(depth) * 8,
	}
}

func (s *countMinSketch) rowHash(row int, h uint64) uint64 {
	// Classic double-hashing: combine the base hash with a per-row seed so
	// each row samples a different slice of key space.
	salted := h + uint64(row)*0x9E3779B97F4A7C15
	salted ^= salted >> 33
	salted *= 0xff51afd7ed558ccd
	salted ^= salted >> 33
	return salted & (s.width - 1)
}

func (s *countMinSketch) get(row int, col uint64) uint8 {
	b := s.rows[row][col/2]
	if col%2 == 0 {
		return b & 0x0f
	}
	return b >> 4
}

func (s *countMinSketch) set(row int, col uint64, v uint8) {
	idx := col / 2
	if col%2 == 0 {
		s.rows[row][idx] = (s.rows[row][idx] & 0xf0) | (v & 0x0f)
	} else {
		s.rows[row][idx] = (s.rows[row][idx] & 0x0f) | (v << 4)
	}
}

// Increment bumps the estimated frequency of key, saturating at 15, and
// ages the sketch once sampleSize increments have accumulated.
func (s *countMinSketch) Increment(key string) {
	h := xxhash.Sum64String(key)
	for row := 0; row < s.depth; row++ {
		col := s.rowHash(row, h)
		v := s.get(row, col)
		if v < maxCounter {
			s.set(row, col, v+1)
		}
	}
	s.additions++
	if s.additions >= s.sampleSize {
		s.Age()
	}
}

// Estimate returns the minimum counter across all rows for key — the
// count-min sketch's frequency estimate.
func (s *countMinSketch) Estimate(key string) uint8 {
	h := xxhash.Sum64String(key)
	min := uint8(maxCounter)
	for row := 0; row < s.depth; row++ {
		col := s.rowHash(row, h)
		if v := s.get(row, col); v < min {
			min = v
		}
	}
	return min
}

// Age halves every counter (shift right 1), the periodic aging step that
// keeps frequency counts from saturating permanently.
func (s *countMinSketch) Age() {
	for row := range s.rows {
		r := s.rows[row]
		for i := range r {
			lo := (r[i] & 0x0f) >> 1
			hi := (r[i] >> 4) >> 1
			r[i] = (hi << 4) | lo
		}
	}
	s.additions = 0
	if s.onAge != nil {
		s.onAge()
	}
}
