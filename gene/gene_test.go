package gene

import (
	"strings"
	"testing"
)

func mustNew(t *testing.T, ds []uint8) Gene {
	t.Helper()
	g, err := New(ds)
	if err != nil {
		t.Fatalf("New(%v): %v", ds, err)
	}
	return g
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty digits")
	}
	big := make([]uint8, Capacity+1)
	if _, err := New(big); err == nil {
		t.Fatal("expected error for over-capacity digits")
	}
	if _, err := New([]uint8{1, 2, 10}); err == nil {
		t.Fatal("expected error for out-of-range digit")
	}
}

func TestEvalIsTotal(t *testing.T) {
	// every op selector 0-9 must evaluate without panicking across a
	// spread of inputs, including the modulus-by-zero domain error.
	for op := 0; op < 10; op++ {
		ds := make([]uint8, 8)
		ds[0] = uint8(op)
		for i := 1; i < len(ds); i++ {
			ds[i] = uint8(i % 10)
		}
		g := mustNew(t, ds)
		for _, x := range []int32{-1000, -1, 0, 1, 1000} {
			_, err := g.Eval(x)
			if err != nil && err != ErrDomain {
				t.Fatalf("op %d: unexpected error %v", op, err)
			}
		}
	}
}

func TestModularStepDomainError(t *testing.T) {
	g := mustNew(t, []uint8{4, 0, 3})
	if _, err := g.Eval(7); err != ErrDomain {
		t.Fatalf("expected ErrDomain for modulus by zero, got %v", err)
	}
}

func TestIdentity(t *testing.T) {
	g := mustNew(t, []uint8{1})
	for _, x := range []int32{-5, 0, 42} {
		y, err := g.Eval(x)
		if err != nil || y != x {
			t.Fatalf("identity(%d) = %d, %v; want %d, nil", x, y, err, x)
		}
	}
}

func TestAffineEvalAndDescribe(t *testing.T) {
	// digit[0]=2 selects affine; digit[1]=7 -> a=2; digits[2:5]=5,0,1 -> b=1.
	g := mustNew(t, []uint8{2, 7, 5, 0, 1})
	for x := int32(-3); x <= 3; x++ {
		y, err := g.Eval(x)
		if err != nil {
			t.Fatalf("Eval(%d): %v", x, err)
		}
		want := 2*x + 1
		if y != want {
			t.Fatalf("Eval(%d) = %d, want %d", x, y, want)
		}
	}
	got := g.Describe()
	want := "y = 2·x + 1"
	if strings.TrimSpace(got) != want {
		t.Fatalf("Describe() = %q, want %q", got, want)
	}
}

func TestSaturatingArithmetic(t *testing.T) {
	// a=4 (digit 9), b=499 (digits 9,9,9): affine(x) for large x must
	// saturate rather than overflow/wrap.
	g := mustNew(t, []uint8{2, 9, 9, 9, 9})
	y, err := g.Eval(2147483647)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if y != 2147483647 {
		t.Fatalf("Eval(MaxInt32) = %d, want saturated MaxInt32", y)
	}
}

func TestChainEvaluatesBothStages(t *testing.T) {
	// op=5 (chain); the inner stage is selected by digit[1]=1 (identity)
	// and the outer stage by digit[2]=0 (constant, digits[3:6]=0,0,0 ->
	// -500), so x passes through identity and then becomes -500.
	ds := []uint8{5, 1, 0, 0, 0, 0, 0, 0, 2, 7, 5, 0, 1}
	g := mustNew(t, ds)
	y, err := g.Eval(4)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if y != -500 {
		t.Fatalf("Eval(4) = %d, want -500 (identity then constant)", y)
	}
}

func TestDescribeIsPureAndBounded(t *testing.T) {
	g := mustNew(t, []uint8{3, 1, 2, 3, 4, 5, 6, 7})
	a := g.Describe()
	b := g.Describe()
	if a != b {
		t.Fatalf("Describe is not pure: %q != %q", a, b)
	}
	if len(a) > 128 {
		t.Fatalf("Describe exceeded 128 bytes: %d", len(a))
	}
}

func TestEqual(t *testing.T) {
	a := mustNew(t, []uint8{1, 2, 3})
	b := mustNew(t, []uint8{1, 2, 3})
	c := mustNew(t, []uint8{1, 2, 4})
	if !a.Equal(b) {
		t.Fatal("expected equal genes to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected differing genes to compare unequal")
	}
}
