package digits

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0},
		{255},
		{1, 2, 3},
		[]byte("hello, kolibri"),
		{0, 255, 128, 64, 32, 16, 8, 4, 2, 1},
	}

	for _, b := range cases {
		ds, err := Encode(b, -1)
		if err != nil {
			t.Fatalf("Encode(%v): %v", b, err)
		}
		if len(ds) != DigitsForTextLen(len(b)) {
			t.Fatalf("Encode(%v) length = %d, want %d", b, len(ds), DigitsForTextLen(len(b)))
		}
		got, err := Decode(ds)
		if err != nil {
			t.Fatalf("Decode(%v): %v", ds, err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("round trip mismatch: got %v, want %v", got, b)
		}
	}
}

func TestEncodeCapacityExceeded(t *testing.T) {
	_, err := Encode([]byte{1, 2, 3, 4}, 9)
	if err == nil {
		t.Fatal("expected capacity error")
	}
	e, ok := err.(*Error)
	if !ok || e.Kind != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestDecodeNotMultipleOfThree(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	e, ok := err.(*Error)
	if !ok || e.Kind != ErrNotMultipleOfThree {
		t.Fatalf("expected ErrNotMultipleOfThree, got %v", err)
	}
}

func TestDecodeInvalidDigit(t *testing.T) {
	_, err := Decode([]byte{1, 2, 10})
	e, ok := err.(*Error)
	if !ok || e.Kind != ErrInvalidDigit {
		t.Fatalf("expected ErrInvalidDigit, got %v", err)
	}
}

func TestDecodeByteOverflow(t *testing.T) {
	_, err := Decode([]byte{9, 9, 9}) // 999 > 255
	e, ok := err.(*Error)
	if !ok || e.Kind != ErrByteOverflow {
		t.Fatalf("expected ErrByteOverflow, got %v", err)
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	data := []byte("payload")
	enc, err := EncodeASCII(data, -1)
	if err != nil {
		t.Fatalf("EncodeASCII: %v", err)
	}
	for _, c := range enc {
		if c < '0' || c > '9' {
			t.Fatalf("non-ASCII-digit byte in output: %q", c)
		}
	}
	dec, err := DecodeASCII(enc)
	if err != nil {
		t.Fatalf("DecodeASCII: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatalf("ASCII round trip mismatch: got %q, want %q", dec, data)
	}
}

func TestEncodeDecodeInverseOnDigits(t *testing.T) {
	// For all digit sequences of length divisible by 3 with valid triples,
	// encode(decode(D)) == D.
	ds := []byte{1, 2, 3, 0, 0, 0, 2, 5, 5}
	b, err := Decode(ds)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	back, err := Encode(b, -1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(back, ds) {
		t.Fatalf("inverse mismatch: got %v, want %v", back, ds)
	}
}
