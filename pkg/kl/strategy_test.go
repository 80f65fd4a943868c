package kl

import (
	"path/filepath"
	"testing"
)

func hillBuilder(t *testing.T) (*KernelBuilder, *TunableParam) {
	t.Helper()

	builder := NewKernelBuilder(InlineSource("k.cu", ""), "k")
	x, err := builder.Tune("x", TypeInt32, Ints(1, 2, 3, 4, 5, 6, 7, 8))
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	return builder, x.Param()
}

// oracle peaks at x=5 with performance 10.
func oracle(t *testing.T, p *TunableParam, config Config) float64 {
	t.Helper()
	v, err := config.At(p)
	if err != nil {
		t.Fatalf("config misses x: %v", err)
	}
	x, err := v.ToInt64()
	if err != nil {
		t.Fatalf("x is not an integer: %v", err)
	}
	d := x - 5
	if d < 0 {
		d = -d
	}
	return float64(10 - d)
}

func TestRandomStrategyCoversSpace(t *testing.T) {
	t.Parallel()
	builder, _ := hillBuilder(t)

	s := NewSeededRandomStrategy(3)
	config, ok, err := s.Init(builder)
	if err != nil || !ok {
		t.Fatalf("init: %v, %v", ok, err)
	}

	count := 1
	for {
		next, ok, err := s.Submit(1, config)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if !ok {
			break
		}
		config = next
		count++
	}
	if count != 8 {
		t.Fatalf("random strategy visited %d configurations, want 8", count)
	}
}

func TestLimitStrategyStopsEarly(t *testing.T) {
	t.Parallel()
	builder, _ := hillBuilder(t)

	s := NewLimitStrategy(3, NewSeededRandomStrategy(5))
	config, ok, err := s.Init(builder)
	if err != nil || !ok {
		t.Fatalf("init: %v, %v", ok, err)
	}

	submits := 0
	for {
		next, ok, err := s.Submit(1, config)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if !ok {
			break
		}
		config = next
		submits++
	}
	if submits != 3 {
		t.Fatalf("limit strategy allowed %d submits, want 3", submits)
	}
}

func TestHillClimbingFindsPeak(t *testing.T) {
	t.Parallel()
	builder, x := hillBuilder(t)

	s := NewHillClimbingStrategy(NewSeededRandomStrategy(11))
	config, ok, err := s.Init(builder)
	if err != nil || !ok {
		t.Fatalf("init: %v, %v", ok, err)
	}

	bestSeen := -1.0
	foundPeakAt := -1
	for i := 0; i < 40; i++ {
		perf := oracle(t, x, config)

		// Track the best performance seen so far.
		if perf > bestSeen {
			bestSeen = perf
		}
		if bestSeen == 10 && foundPeakAt < 0 {
			foundPeakAt = i
			break
		}

		next, ok, err := s.Submit(perf, config)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if !ok {
			t.Fatalf("hill climbing exhausted before reaching the peak")
		}
		config = next
	}

	if foundPeakAt < 0 {
		t.Fatalf("hill climbing did not reach x=5 within 40 submits (best %v)", bestSeen)
	}
}

func TestHillClimbingRespectsRestrictions(t *testing.T) {
	t.Parallel()

	builder := NewKernelBuilder(InlineSource("k.cu", ""), "k")
	a, err := builder.Tune("a", TypeInt32, Ints(1, 2, 3))
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	b, err := builder.Tune("b", TypeInt32, Ints(1, 2, 3))
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	builder.Restrict(Le(a, b))

	s := NewHillClimbingStrategy(NewSeededRandomStrategy(2))
	config, ok, err := s.Init(builder)
	if err != nil || !ok {
		t.Fatalf("init: %v, %v", ok, err)
	}

	for i := 0; i < 30; i++ {
		if valid, err := builder.IsValid(config); err != nil || !valid {
			t.Fatalf("strategy yielded invalid configuration %s (%v)", config, err)
		}
		next, ok, err := s.Submit(1, config)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if !ok {
			break
		}
		config = next
	}
}

func cachingDevice() DeviceInfo {
	return DeviceInfo{Name: "Fake GPU", Major: 8, Minor: 0, DriverVersion: 12000}
}

func TestCachingStrategyRecordsAndReplays(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tune.json")
	builder, x := hillBuilder(t)

	// First run: measure everything, limited to the full space.
	s := NewCachingStrategyForDevice(path, NewSeededRandomStrategy(9), cachingDevice())
	config, ok, err := s.Init(builder)
	if err != nil || !ok {
		t.Fatalf("init: %v, %v", ok, err)
	}
	measured := 0
	for {
		measured++
		next, ok, err := s.Submit(oracle(t, x, config), config)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if !ok {
			break
		}
		config = next
	}
	if measured != 8 {
		t.Fatalf("first run measured %d configurations, want 8", measured)
	}

	// Second run: the best config comes back first, and every other
	// configuration is served from the cache without re-measurement.
	s2 := NewCachingStrategyForDevice(path, NewSeededRandomStrategy(10), cachingDevice())
	best, ok, err := s2.Init(builder)
	if err != nil || !ok {
		t.Fatalf("reopen init: %v, %v", ok, err)
	}
	if v, _ := best.Get(x); v != IntValue(5) {
		t.Fatalf("cached best is %v, want x=5", v)
	}

	fresh := 0
	config = best
	for {
		next, ok, err := s2.Submit(oracle(t, x, config), config)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if !ok {
			break
		}
		config = next
		fresh++
	}
	if fresh != 0 {
		t.Fatalf("second run measured %d fresh configurations, want 0", fresh)
	}
}
