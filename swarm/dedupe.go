package swarm

import (
	"crypto/sha256"

	"github.com/bits-and-blooms/bloom/v3"
)

// dedupeExpectedElements, dedupeFalsePositiveRate and dedupeResetAfter
// mirror the gossip
// deduplication parameters used elsewhere in the retrieved pack — a
// modestly sized filter reset periodically rather than grown unbounded.
const (
	dedupeExpectedElements  = 4096
	dedupeFalsePositiveRate = 0.01
	dedupeResetAfter        = 8192
)

// dedupeFilter suppresses repeat datagrams with a Bloom filter keyed on
// the SHA-256 of the raw datagram. It runs only on datagrams Decode has
// accepted and skips those the listener has already handed to its
// caller; a Bloom false positive (about 1% at these estimates) also
// skips a datagram that was never seen before.
type dedupeFilter struct {
	filter *bloom.BloomFilter
	count  int
}

func newDedupeFilter() *dedupeFilter {
	return &dedupeFilter{filter: bloom.NewWithEstimates(dedupeExpectedElements, dedupeFalsePositiveRate)}
}

func (d *dedupeFilter) seen(raw []byte) bool {
	if d.count >= dedupeResetAfter {
		d.filter = bloom.NewWithEstimates(dedupeExpectedElements, dedupeFalsePositiveRate)
		d.count = 0
	}
	sum := sha256.Sum256(raw)
	key := sum[:]
	if d.filter.Test(key) {
		return true
	}
	d.filter.Add(key)
	d.count++
	return false
}
