package random

import (
	"math"
	"testing"
)

func TestFloat64IsStableForAddress(t *testing.T) {
	src := New(42)
	a := src.Float64(3, 17, TagInfection)
	b := src.Float64(3, 17, TagInfection)
	if a != b {
		t.Fatalf("Float64 = %v then %v, want identical draws", a, b)
	}
	if a < 0 || a >= 1 {
		t.Fatalf("Float64 = %v, want value in [0,1)", a)
	}
}

func TestFloat64DiffersAcrossAddressParts(t *testing.T) {
	src := New(42)
	base := src.Float64(3, 17, TagInfection)
	others := map[string]float64{
		"day":    src.Float64(4, 17, TagInfection),
		"entity": src.Float64(3, 18, TagInfection),
		"tag":    src.Float64(3, 17, TagStrain),
		"seed":   New(43).Float64(3, 17, TagInfection),
	}
	for name, v := range others {
		if v == base {
			t.Fatalf("changing %s produced the same draw %v", name, v)
		}
	}
}

func TestFloat64IsRoughlyUniform(t *testing.T) {
	src := New(7)
	const n = 20000
	var sum float64
	for i := 0; i < n; i++ {
		sum += src.Float64(0, uint64(i), TagInfection)
	}
	mean := sum / n
	if math.Abs(mean-0.5) > 0.02 {
		t.Fatalf("mean = %v, want about 0.5", mean)
	}
}

func TestRandIsReproducible(t *testing.T) {
	src := New(9)
	r1 := src.Rand(1, 2, TagShuffle)
	r2 := src.Rand(1, 2, TagShuffle)
	for i := 0; i < 10; i++ {
		if a, b := r1.Uint64(), r2.Uint64(); a != b {
			t.Fatalf("draw %d = %d and %d, want identical", i, a, b)
		}
	}
}

func TestBernoulliBounds(t *testing.T) {
	src := New(1)
	if src.Bernoulli(0, 0, TagTracing, 0) {
		t.Fatal("Bernoulli(p=0) = true, want false")
	}
	if !src.Bernoulli(0, 0, TagTracing, 1) {
		t.Fatal("Bernoulli(p=1) = false, want true")
	}
}

func TestStringEntityDistinguishesNames(t *testing.T) {
	if StringEntity("work") == StringEntity("leisure") {
		t.Fatal("StringEntity collided for work and leisure")
	}
	// Checkpointed keys depend on the exact hash.
	if got := StringEntity("a"); got != 0xaf63dc4c8601ec8c {
		t.Fatalf("StringEntity(a) = %#x, want FNV-1a %#x", got, uint64(0xaf63dc4c8601ec8c))
	}
}

func TestNewSeed(t *testing.T) {
	if _, err := NewSeed(); err != nil {
		t.Fatalf("NewSeed() error = %v", err)
	}
}
