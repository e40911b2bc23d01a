package pool

import (
	"crypto/sha256"
	"fmt"
	"math/bits"

	"github.com/kolibri-swarm/kolibri/gene"
)

// diversityBitsetSize matches the teacher's bitset width; a 512-bit
// signature gives low collision odds for gene digit sequences up to
// gene.Capacity long.
const diversityBitsetSize = 512

const diversityHashSalt = "kolibri-diversity-v1"

// digitSignature hashes a gene's digits into a fixed-size bitset, one set
// bit per (position, value) feature, the same scheme the teacher used for
// antibody feature bitsets.
func digitSignature(g gene.Gene) []byte {
	bitset := make([]byte, diversityBitsetSize/8)
	hasher := sha256.New()
	for i, d := range g.Digits() {
		hasher.Reset()
		hasher.Write([]byte(diversityHashSalt))
		hasher.Write([]byte(fmt.Sprintf("%d:%d", i, d)))
		h := hasher.Sum(nil)
		setBitFromHash(bitset, h)
	}
	return bitset
}

func setBitFromHash(bitset []byte, h []byte) {
	if len(h) < 2 || len(bitset) == 0 {
		return
	}
	idx := (int(h[0])<<8 | int(h[1])) % diversityBitsetSize
	bitset[idx/8] |= 1 << (idx % 8)
}

func jaccardDistance(a, b []byte) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var intersection, union int
	for i := range a {
		intersection += bits.OnesCount8(a[i] & b[i])
		union += bits.OnesCount8(a[i] | b[i])
	}
	if union == 0 {
		return 0 // both empty signatures are identical, not diverse
	}
	return 1.0 - float64(intersection)/float64(union)
}

// DiversityIndex returns the mean pairwise Jaccard distance between the
// population's gene digit signatures. It is a read-only diagnostic: it
// affects no invariant, sort order, or fitness score.
func (p *Pool) DiversityIndex() float64 {
	n := len(p.population)
	if n < 2 {
		return 0
	}
	sigs := make([][]byte, n)
	for i, f := range p.population {
		sigs[i] = digitSignature(f.Gene)
	}
	var sum float64
	var pairs int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += jaccardDistance(sigs[i], sigs[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}
