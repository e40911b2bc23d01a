package pool

import (
	"testing"

	"github.com/kolibri-swarm/kolibri/gene"
)

func teachLinear(p *Pool) {
	p.AddExample(0, 1)
	p.AddExample(1, 3)
	p.AddExample(2, 5)
	p.AddExample(3, 7)
}

func TestInitIsDeterministic(t *testing.T) {
	p1 := New(DefaultConfig())
	p1.Init(2025)
	p2 := New(DefaultConfig())
	p2.Init(2025)

	pop1 := p1.Population()
	pop2 := p2.Population()
	if len(pop1) != len(pop2) {
		t.Fatalf("population size mismatch: %d vs %d", len(pop1), len(pop2))
	}
	for i := range pop1 {
		if !pop1[i].Gene.Equal(pop2[i].Gene) {
			t.Fatalf("slot %d differs between identically seeded pools", i)
		}
	}
}

func TestTickIsDeterministic(t *testing.T) {
	run := func() []gene.Gene {
		p := New(DefaultConfig())
		p.Init(2025)
		teachLinear(p)
		p.Tick(32)
		out := make([]gene.Gene, len(p.Population()))
		for i, f := range p.Population() {
			out[i] = f.Gene
		}
		return out
	}
	a := run()
	b := run()
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Fatalf("slot %d diverged across identical (seed, examples, ops)", i)
		}
	}
}

func TestSortInvariantHoldsAfterEveryOperation(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(1)
	checkSorted := func(label string) {
		t.Helper()
		pop := p.Population()
		for i := 0; i+1 < len(pop); i++ {
			if pop[i].Fitness < pop[i+1].Fitness {
				t.Fatalf("%s: population not sorted descending at %d: %v < %v", label, i, pop[i].Fitness, pop[i+1].Fitness)
			}
		}
	}
	checkSorted("after init")
	teachLinear(p)
	checkSorted("after add_example")
	p.Tick(4)
	checkSorted("after tick")
	best, ok := p.Best()
	if ok {
		p.Feedback(best.Gene, 0.2)
		checkSorted("after feedback")
	}
	p.ClearExamples()
	checkSorted("after clear_examples")
}

func TestBestEmptyWithNoExamples(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(7)
	if _, ok := p.Best(); ok {
		t.Fatal("expected Best() to report ok=false with no examples")
	}
}

func TestTickNoOpWithoutExamples(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(7)
	before := p.Generation()
	p.Tick(10)
	if p.Generation() != before {
		t.Fatalf("Tick advanced generation counter without examples: %d -> %d", before, p.Generation())
	}
}

func TestFeedbackNotFound(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(3)
	teachLinear(p)
	bogus, _ := gene.New([]uint8{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9})
	if err := p.Feedback(bogus, 0.5); err == nil {
		t.Fatal("expected NotFound error for a gene absent from the population")
	}
}

func TestFeedbackMonotonicity(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(2025)
	teachLinear(p)
	p.Tick(32)

	best, ok := p.Best()
	if !ok {
		t.Fatal("expected a best formula after tick")
	}
	baseline := best.Fitness

	if err := p.Feedback(best.Gene, 0.3); err != nil {
		t.Fatalf("Feedback(+): %v", err)
	}
	afterPositive, _ := p.Best()
	if afterPositive.Fitness < baseline {
		t.Fatalf("positive feedback decreased best fitness: %v -> %v", baseline, afterPositive.Fitness)
	}

	if err := p.Feedback(afterPositive.Gene, -0.8); err != nil {
		t.Fatalf("Feedback(-): %v", err)
	}
	afterNegative, ok := p.Best()
	if !ok || afterNegative.Fitness < 0 {
		t.Fatalf("negative feedback pushed fitness below zero: %v", afterNegative.Fitness)
	}
}

func TestSetSamplingClamps(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(1)
	p.SetSampling(-5, 0)
	if p.temperature != 0.1 {
		t.Fatalf("temperature not clamped to 0.1: got %v", p.temperature)
	}
	if p.topK != 1 {
		t.Fatalf("topK not clamped to 1: got %v", p.topK)
	}
	p.SetSampling(100, 10000)
	if p.temperature != 2.0 {
		t.Fatalf("temperature not clamped to 2.0: got %v", p.temperature)
	}
	if p.topK != len(p.population) {
		t.Fatalf("topK not clamped to population size: got %v", p.topK)
	}
}

func TestAddExampleCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExampleCapacity = 2
	p := New(cfg)
	p.Init(1)
	if err := p.AddExample(0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.AddExample(1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.AddExample(2, 2); err == nil {
		t.Fatal("expected CapacityExceeded on third example")
	}
}

func TestDiversityIndexRange(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(9)
	d := p.DiversityIndex()
	if d < 0 || d > 1 {
		t.Fatalf("DiversityIndex out of [0,1]: %v", d)
	}
}

// optimalLinearGene is the affine encoding of y = 2x+1: op selector 2,
// a-digit 7 (recenters to +2), b-digits 5,0,1 (recenter to +1). It is the
// shortest gene that reproduces teachLinear's four examples exactly:
// affine needs all 5 of its digits to carry a nonzero intercept, and no
// other opcode can hit zero error here at all (identity and constant
// can't fit four distinct points on a line with nonzero intercept,
// modular-step forces y=0 at x=0, and threshold/chain need more than 5
// digits before their extra parameters stop being zero-padded away). So
// it is this pool's unique global fitness maximum for this example set.
func optimalLinearGene(t *testing.T) gene.Gene {
	t.Helper()
	g, err := gene.New([]uint8{2, 7, 5, 0, 1})
	if err != nil {
		t.Fatalf("gene.New: %v", err)
	}
	return g
}

func TestOptimalLinearGeneIsExactAndMaximal(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(1)
	teachLinear(p)

	g := optimalLinearGene(t)
	if y, err := g.Eval(4); err != nil || y != 9 {
		t.Fatalf("Eval(4) = %d, %v, want 9, nil", y, err)
	}
	if got := g.Describe(); got != "y = 2·x + 1" {
		t.Fatalf("Describe() = %q, want %q", got, "y = 2·x + 1")
	}

	fitness := p.score(g, 0)
	const wantFitness = 1.0 / 1.05 // zero error, length-5 size penalty
	if diff := fitness - wantFitness; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("score(optimal gene) = %v, want %v", fitness, wantFitness)
	}
	for _, f := range p.Population() {
		if p.score(f.Gene, f.Feedback) > fitness+1e-9 {
			t.Fatalf("found a gene scoring above the analytic optimum: %+v", f)
		}
	}
}

// TestScenarioOneEvolutionaryProgressTowardGlobalOptimum runs the pinned
// scenario (seed 2025, y=2x+1, tick(64)) and checks what is provable
// about the search without re-deriving its exact RNG trajectory by hand:
// fitness never exceeds the analytic optimum from
// TestOptimalLinearGeneIsExactAndMaximal, and elitism keeps it from ever
// regressing generation over generation. Whether this seed actually lands
// on the optimal gene within 64 generations is recorded as an open
// question in DESIGN.md rather than asserted here, since nothing in this
// repo has executed the search to confirm it.
func TestScenarioOneEvolutionaryProgressTowardGlobalOptimum(t *testing.T) {
	p := New(DefaultConfig())
	p.Init(2025)
	teachLinear(p)

	optimalFitness := p.score(optimalLinearGene(t), 0)

	best, ok := p.Best()
	if !ok {
		t.Fatal("expected a best formula once examples are taught")
	}
	if best.Fitness > optimalFitness+1e-9 {
		t.Fatalf("generation 0 best fitness %v exceeds analytic optimum %v", best.Fitness, optimalFitness)
	}

	prev := best.Fitness
	for i := 0; i < 64; i++ {
		p.Tick(1)
		best, ok := p.Best()
		if !ok {
			t.Fatalf("generation %d: expected a best formula", i+1)
		}
		if best.Fitness < prev-1e-9 {
			t.Fatalf("generation %d: fitness regressed %v -> %v", i+1, prev, best.Fitness)
		}
		if best.Fitness > optimalFitness+1e-9 {
			t.Fatalf("generation %d: fitness %v exceeds analytic optimum %v", i+1, best.Fitness, optimalFitness)
		}
		prev = best.Fitness
	}
	if p.Generation() != 64 {
		t.Fatalf("Generation() = %d, want 64", p.Generation())
	}
	t.Logf("best fitness after 64 generations: %v (analytic optimum %v)", prev, optimalFitness)
}
