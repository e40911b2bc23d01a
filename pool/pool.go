// Package pool implements the evolutionary search over fixed-length
// decimal genes: a fitness-sorted population, generational stepping with
// elitism and softmax parent selection, and teacher feedback.
package pool

import (
	"math"
	"math/rand"
	"sort"

	"github.com/kolibri-swarm/kolibri/gene"
)

// ErrorKind classifies why a pool call failed.
type ErrorKind int

const (
	// ErrCapacityExceeded means the example buffer is full.
	ErrCapacityExceeded ErrorKind = iota
	// ErrNotFound means feedback referenced a gene no longer in the population.
	ErrNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case ErrCapacityExceeded:
		return "capacity exceeded"
	case ErrNotFound:
		return "gene not found"
	default:
		return "unknown pool error"
	}
}

// Error is returned by pool operations.
type Error struct {
	Kind ErrorKind
}

func (e *Error) Error() string { return "pool: " + e.Kind.String() }

// Example is a single (input, target) training pair owned by the pool.
type Example struct {
	Input  int32
	Target int32
}

// Formula is a gene together with its cached fitness and accumulated
// teacher feedback.
type Formula struct {
	Gene     gene.Gene
	Fitness  float64
	Feedback float64
}

// Config bounds the pool's population, example capacity, and evolutionary
// constants. Defaults are produced by DefaultConfig.
type Config struct {
	PopulationSize  int
	ExampleCapacity int
	EliteCount      int
	Alpha           float64 // size-penalty coefficient
	MaxDigitLen     int     // upper bound for length-adjustment and init
	MutationRetries int
}

// DefaultConfig returns the constants used when a caller does not
// override them. Values are chosen to make small teaching examples
// converge quickly while keeping genes well inside gene.Capacity.
func DefaultConfig() Config {
	return Config{
		PopulationSize:  96,
		ExampleCapacity: 64,
		EliteCount:      4,
		Alpha:           0.01,
		MaxDigitLen:     16,
		MutationRetries: 8,
	}
}

// Pool is the fixed-capacity evolutionary population. The zero value is
// not valid; use New.
type Pool struct {
	cfg         Config
	population  []Formula
	examples    []Example
	rng         *rand.Rand
	generation  uint64
	temperature float64
	topK        int
}

// New constructs an empty, uninitialized pool. Call Init before Tick.
func New(cfg Config) *Pool {
	return &Pool{
		cfg:         cfg,
		temperature: 1.0,
		topK:        cfg.EliteCount,
	}
}

// Init fills the population with random valid genes from a deterministic
// PRNG seeded by seed. Pool invariants hold immediately: the (trivial,
// example-less) population is sorted and Best reports ok=false.
func (p *Pool) Init(seed uint64) {
	p.rng = rand.New(newSplitMix64(seed))
	p.examples = p.examples[:0]
	p.population = make([]Formula, p.cfg.PopulationSize)
	for i := range p.population {
		p.population[i] = Formula{Gene: p.randomGene()}
	}
	p.generation = 0
	p.scoreAndSort()
}

// Generation returns the number of evolutionary steps applied since Init.
func (p *Pool) Generation() uint64 { return p.generation }

// AddExample appends a training pair to the pool's example buffer.
func (p *Pool) AddExample(input, target int32) error {
	if len(p.examples) >= p.cfg.ExampleCapacity {
		return &Error{Kind: ErrCapacityExceeded}
	}
	p.examples = append(p.examples, Example{Input: input, Target: target})
	p.scoreAndSort()
	return nil
}

// ClearExamples drops all training pairs.
func (p *Pool) ClearExamples() {
	p.examples = p.examples[:0]
	p.scoreAndSort()
}

// Examples returns a copy of the current training pairs.
func (p *Pool) Examples() []Example {
	out := make([]Example, len(p.examples))
	copy(out, p.examples)
	return out
}

// Best returns the top-of-population formula. ok is false when the
// example buffer is empty (fitness is meaningless with no targets).
func (p *Pool) Best() (Formula, bool) {
	if len(p.examples) == 0 || len(p.population) == 0 {
		return Formula{}, false
	}
	return p.population[0], true
}

// Worst returns the bottom-of-population formula, used by callers (the
// node runtime) deciding whether an inbound gene is worth adopting.
func (p *Pool) Worst() (Formula, bool) {
	if len(p.population) == 0 {
		return Formula{}, false
	}
	return p.population[len(p.population)-1], true
}

// Population returns a copy of the current population, sorted by
// descending fitness.
func (p *Pool) Population() []Formula {
	out := make([]Formula, len(p.population))
	copy(out, p.population)
	return out
}

// SetSampling clamps temperature to [0.1,2.0] and topK to
// [1,population_size] before storing them.
func (p *Pool) SetSampling(temperature float64, topK int) {
	if temperature < 0.1 {
		temperature = 0.1
	}
	if temperature > 2.0 {
		temperature = 2.0
	}
	if topK < 1 {
		topK = 1
	}
	if topK > len(p.population) {
		topK = len(p.population)
	}
	p.temperature = temperature
	p.topK = topK
}

// Feedback locates the first population slot whose gene equals g, bumps
// its fitness by delta*|fitness| (clamped to >= 0), records the raw
// feedback delta, and re-sorts.
func (p *Pool) Feedback(g gene.Gene, delta float64) error {
	for i := range p.population {
		if p.population[i].Gene.Equal(g) {
			f := p.population[i].Fitness
			f = f + delta*math.Abs(f)
			if f < 0 {
				f = 0
			}
			p.population[i].Fitness = f
			p.population[i].Feedback += delta
			p.sortPopulation()
			return nil
		}
	}
	return &Error{Kind: ErrNotFound}
}

// ReplaceWorst overwrites the lowest-fitness slot with an externally
// supplied gene and fitness (used when adopting a gossiped MigrateRule),
// then re-sorts.
func (p *Pool) ReplaceWorst(g gene.Gene, fitness float64) {
	if len(p.population) == 0 {
		return
	}
	p.population[len(p.population)-1] = Formula{Gene: g, Fitness: fitness}
	p.sortPopulation()
}

// Tick runs generations evolutionary steps. It is a no-op when the
// example buffer is empty, per spec: fitness is undefined without a
// target to score against.
func (p *Pool) Tick(generations int) {
	if len(p.examples) == 0 {
		return
	}
	for i := 0; i < generations; i++ {
		p.step()
		p.generation++
	}
}

func (p *Pool) step() {
	elite := p.cfg.EliteCount
	if elite > len(p.population) {
		elite = len(p.population)
	}
	next := make([]Formula, 0, len(p.population))
	next = append(next, p.population[:elite]...)

	for len(next) < len(p.population) {
		parentA := p.selectParent()
		parentB := p.selectParent()
		child, ok := p.produceChild(parentA.Gene, parentB.Gene)
		if !ok {
			// bounded retries exhausted: fall back to a re-sampled parent.
			child = p.selectParent().Gene
		}
		next = append(next, Formula{Gene: child})
	}

	p.population = next
	p.scoreAndSort()
}

// selectParent picks one of the top-k population slots via softmax over
// fitness with inverse-temperature 1/tau, tie-broken by ascending index.
func (p *Pool) selectParent() Formula {
	k := p.topK
	if k > len(p.population) {
		k = len(p.population)
	}
	if k <= 0 {
		k = 1
	}
	weights := make([]float64, k)
	invTau := 1.0 / p.temperature
	maxFit := p.population[0].Fitness
	var sum float64
	for i := 0; i < k; i++ {
		w := math.Exp((p.population[i].Fitness - maxFit) * invTau)
		weights[i] = w
		sum += w
	}
	if sum <= 0 {
		return p.population[0]
	}
	r := p.rng.Float64() * sum
	var cum float64
	for i := 0; i < k; i++ {
		cum += weights[i]
		if r <= cum {
			return p.population[i]
		}
	}
	return p.population[k-1] // ascending-index tie-break / float slack fallback
}

func (p *Pool) produceChild(a, b gene.Gene) (gene.Gene, bool) {
	for attempt := 0; attempt < p.cfg.MutationRetries; attempt++ {
		var candidate gene.Gene
		switch p.rng.Intn(3) {
		case 0:
			candidate = p.mutateDigit(a)
		case 1:
			candidate = p.crossover(a, b)
		default:
			candidate = p.adjustLength(a)
		}
		if candidate.Length() > 0 {
			return candidate, true
		}
	}
	return gene.Gene{}, false
}

func (p *Pool) mutateDigit(g gene.Gene) gene.Gene {
	ds := g.Digits()
	if len(ds) == 0 {
		return g
	}
	idx := p.rng.Intn(len(ds))
	ds[idx] = uint8(p.rng.Intn(10))
	out, err := gene.New(ds)
	if err != nil {
		return g
	}
	return out
}

func (p *Pool) crossover(a, b gene.Gene) gene.Gene {
	da, db := a.Digits(), b.Digits()
	if len(da) == 0 || len(db) == 0 {
		return a
	}
	n := len(da)
	if len(db) < n {
		n = len(db)
	}
	if n < 2 {
		return a
	}
	i := p.rng.Intn(n)
	j := p.rng.Intn(n)
	if i > j {
		i, j = j, i
	}
	out := make([]uint8, len(da))
	copy(out, da)
	copy(out[i:j+1], db[i:j+1])
	g, err := gene.New(out)
	if err != nil {
		return a
	}
	return g
}

func (p *Pool) adjustLength(g gene.Gene) gene.Gene {
	ds := g.Digits()
	grow := p.rng.Intn(2) == 0
	if grow && len(ds) < p.cfg.MaxDigitLen && len(ds) < gene.Capacity {
		ds = append(ds, uint8(p.rng.Intn(10)))
	} else if len(ds) > 1 {
		ds = ds[:len(ds)-1]
	}
	out, err := gene.New(ds)
	if err != nil {
		return g
	}
	return out
}

func (p *Pool) randomGene() gene.Gene {
	n := 4 + p.rng.Intn(p.cfg.MaxDigitLen-3)
	if n > gene.Capacity {
		n = gene.Capacity
	}
	ds := make([]uint8, n)
	for i := range ds {
		ds[i] = uint8(p.rng.Intn(10))
	}
	g, err := gene.New(ds)
	if err != nil {
		// construction from digits in [0,9] within capacity cannot fail.
		panic(err)
	}
	return g
}

func (p *Pool) scoreAndSort() {
	for i := range p.population {
		p.population[i].Fitness = p.score(p.population[i].Gene, p.population[i].Feedback)
	}
	p.sortPopulation()
}

func (p *Pool) sortPopulation() {
	sort.SliceStable(p.population, func(i, j int) bool {
		return p.population[i].Fitness > p.population[j].Fitness
	})
}

// score computes the fitness of a gene against the current examples.
func (p *Pool) score(g gene.Gene, feedback float64) float64 {
	if len(p.examples) == 0 {
		return 0
	}
	var err float64
	for _, ex := range p.examples {
		y, evalErr := g.Eval(ex.Input)
		if evalErr != nil {
			err += largePenalty(len(p.examples))
			continue
		}
		diff := int64(y) - int64(ex.Target)
		if diff < 0 {
			diff = -diff
		}
		err += float64(diff)
	}
	sizePenalty := p.cfg.Alpha * float64(g.Length())
	raw := 1.0 / (1.0 + err + sizePenalty)
	fitness := raw + feedbackBonus(feedback)
	if fitness < 0 {
		fitness = 0
	}
	return fitness
}

// largePenalty returns an error contribution at least as large as any
// achievable saturating-arithmetic error for one example, so a DomainError
// is never preferable to a merely-bad numeric answer.
func largePenalty(numExamples int) float64 {
	return float64(math.MaxUint32) * float64(numExamples)
}

// feedbackBonus is bounded and monotonic in feedback: it lies in (-1,1),
// tending to +1 as feedback grows and to -1 as it falls.
func feedbackBonus(feedback float64) float64 {
	return feedback / (1 + math.Abs(feedback))
}
