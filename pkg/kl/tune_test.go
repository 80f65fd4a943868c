package kl

import (
	"testing"

	"github.com/stijnh/kernel-launcher/internal/logger"
)

// tuneBuilder exposes the tuned parameter to the fake compiler as a define,
// so each variant's simulated launch cost can depend on the configuration.
func tuneBuilder(t *testing.T) *KernelBuilder {
	t.Helper()

	builder := NewKernelBuilder(InlineSource("k.cu", "__global__ void k() {}"), "k")
	if _, err := builder.TuneDefine("bs", Strings("slow", "fast")); err != nil {
		t.Fatalf("tune: %v", err)
	}
	return builder
}

func costByDefine(options []string) float64 {
	if v, ok := optionValue(options, "bs"); ok && v == "fast" {
		return 1e-4
	}
	return 1e-3
}

func newTuneKernelForTest(t *testing.T, compiler *fakeCompiler, driver *fakeDriver) *RawTuneKernel {
	t.Helper()

	results := NewKernelResultsPolicy(0, 3, 10.0, 1)
	k, err := NewRawTuneKernel(tuneBuilder(t), []Type{TypeFloatPtr}, TuneOptions{
		Strategy: NewSeededRandomStrategy(1),
		Compiler: compiler,
		Driver:   driver,
		Results:  &results,
		Logger:   logger.Discard(),
	})
	if err != nil {
		t.Fatalf("new tune kernel: %v", err)
	}
	return k
}

func TestTuneKernelRunsToCompletion(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	compiler := newFakeCompiler(driver)
	compiler.costFor = costByDefine

	k := newTuneKernelForTest(t, compiler, driver)

	problem := Dims(1024)
	for i := 0; i < 100 && k.state != stateFinished; i++ {
		if err := k.Launch(0, problem, nil); err != nil {
			t.Fatalf("launch %d: %v", i, err)
		}
	}

	if k.state != stateFinished {
		t.Fatalf("tuning did not finish, state = %s", k.state)
	}
	if compiler.compiles != 2 {
		t.Fatalf("compiled %d variants, want 2", compiler.compiles)
	}

	st := k.Status()
	if st.State != "finished" {
		t.Fatalf("status state = %q", st.State)
	}
	// The fast variant wins: 1024 elements / 1e-4 seconds.
	if st.BestPerformance < 1024/2e-4 {
		t.Fatalf("best performance = %v, expected the fast variant to win", st.BestPerformance)
	}

	// Launches after finishing still work and hit the best kernel.
	for i := 0; i < 5; i++ {
		if err := k.Launch(0, problem, nil); err != nil {
			t.Fatalf("post-finish launch: %v", err)
		}
	}
}

func TestTuneKernelFallbackNeverBlocks(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	compiler := newFakeCompiler(driver)
	compiler.costFor = costByDefine
	compiler.async = true

	k := newTuneKernelForTest(t, compiler, driver)

	// Let the first variant finish compiling, then measure it to completion
	// so a best kernel exists.
	if !compiler.resolveOne() {
		t.Fatalf("expected a pending compilation for the first variant")
	}
	problem := Dims(4096)
	for k.best == nil {
		if err := k.Launch(0, problem, nil); err != nil {
			t.Fatalf("launch: %v", err)
		}
	}

	if compiler.pendingCount() != 1 {
		t.Fatalf("second variant should be compiling, pending = %d", compiler.pendingCount())
	}

	// While the second variant compiles, every launch must fall back to the
	// best kernel instead of waiting. A blocking launch would hang here.
	for i := 0; i < 100; i++ {
		if err := k.Launch(0, problem, nil); err != nil {
			t.Fatalf("fallback launch %d: %v", i, err)
		}
	}
	if k.state != stateCompiling {
		t.Fatalf("machine should still be compiling, state = %s", k.state)
	}

	// Once the compile resolves, measurement resumes and tuning finishes.
	if !compiler.resolveOne() {
		t.Fatalf("expected the second variant to be pending")
	}
	for i := 0; i < 100 && k.state != stateFinished; i++ {
		if err := k.Launch(0, problem, nil); err != nil {
			t.Fatalf("launch: %v", err)
		}
	}
	if k.state != stateFinished {
		t.Fatalf("tuning did not finish after compile resolved, state = %s", k.state)
	}
}

func TestTuneKernelSkipsFailedCompile(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	compiler := newFakeCompiler(driver)
	compiler.costFor = costByDefine
	compiler.failNext = true

	k := newTuneKernelForTest(t, compiler, driver)

	problem := Dims(256)
	for i := 0; i < 100 && k.state != stateFinished; i++ {
		if err := k.Launch(0, problem, nil); err != nil {
			t.Fatalf("launch: %v", err)
		}
	}

	if k.state != stateFinished {
		t.Fatalf("tuning did not finish, state = %s", k.state)
	}
	if k.best == nil {
		t.Fatalf("the surviving variant should have become the best kernel")
	}
	// Both variants were submitted to the compiler; one failed, one ran.
	if compiler.compiles != 2 {
		t.Fatalf("compiled %d variants, want 2", compiler.compiles)
	}
}

func TestTuneKernelEmptySpaceFails(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	compiler := newFakeCompiler(driver)

	builder := NewKernelBuilder(InlineSource("k.cu", ""), "k")
	x, err := builder.Tune("x", TypeInt32, Ints(1, 2))
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	// Restriction rejects every point.
	builder.Restrict(Gt(x, 10))

	_, err = NewRawTuneKernel(builder, nil, TuneOptions{
		Strategy: NewSeededRandomStrategy(1),
		Compiler: compiler,
		Driver:   driver,
		Logger:   logger.Discard(),
	})
	if err == nil {
		t.Fatalf("an unsatisfiable space should fail initialization")
	}
}
