package kl

import (
	"errors"
	"slices"
	"testing"
)

func TestMangleSymbol(t *testing.T) {
	t.Parallel()

	symbol := MangleSymbol(
		"k",
		[]TemplateArg{TemplateType(TypeOf("int")), TemplateIntArg("int", 4)},
		[]Type{TypeOf("float*"), TypeOf("const int*")},
	)
	if symbol != "(void(*)(float*,const int*))k<int,(int)4>" {
		t.Fatalf("mangled symbol = %q", symbol)
	}

	plain := MangleSymbol("vector_add", nil, []Type{TypeOf("float*")})
	if plain != "(void(*)(float*))vector_add" {
		t.Fatalf("mangled symbol without template args = %q", plain)
	}
}

func TestBuilderCompileEvaluatesAttributes(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	compiler := newFakeCompiler(driver)

	builder := NewKernelBuilder(InlineSource("k.cu", "__global__ void k() {}"), "k")
	bs, err := builder.Tune("block_size_x", TypeUint32, Uints[uint32](64, 128, 256))
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	builder.BlockSize(bs)
	builder.SharedMemory(Mul(bs, 4))
	builder.TemplateArgs(TypeFloat, Cast(TypeInt32, bs))
	builder.CompilerFlags("-lineinfo")
	builder.Define("TILE", Div(bs, 64))

	config := NewConfig()
	config.Insert(bs.Param(), UintValue(uint32(128)))

	kernel, err := builder.Compile(config, []Type{TypeFloatPtr}, compiler, &driver.device)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if kernel.blockSize != (Dim3{X: 128, Y: 1, Z: 1}) {
		t.Fatalf("block size = %v", kernel.blockSize)
	}
	if kernel.gridDivisor != (Dim3{X: 128, Y: 1, Z: 1}) {
		t.Fatalf("grid divisor = %v", kernel.gridDivisor)
	}
	if kernel.sharedMem != 512 {
		t.Fatalf("shared memory = %d", kernel.sharedMem)
	}

	if len(compiler.lastTemplateArgs) != 2 ||
		compiler.lastTemplateArgs[0].Get() != "float" ||
		compiler.lastTemplateArgs[1].Get() != "(int)128" {
		t.Fatalf("template args = %v", compiler.lastTemplateArgs)
	}
	if !slices.Contains(compiler.lastOptions, "-lineinfo") {
		t.Fatalf("compiler flags missing: %v", compiler.lastOptions)
	}
	if v, ok := optionValue(compiler.lastOptions, "TILE"); !ok || v != "2" {
		t.Fatalf("define TILE = %q (%v) in %v", v, ok, compiler.lastOptions)
	}
}

func TestBuilderAssertionsRestrictSpace(t *testing.T) {
	t.Parallel()

	builder := NewKernelBuilder(InlineSource("k.cu", ""), "k")
	x, err := builder.Tune("x", TypeInt32, Ints(1, 2, 3, 4))
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	builder.Assertion(Eq(Rem(x, 2), 0))

	it, err := builder.Iterate()
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	count := 0
	for {
		config, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		v, _ := config.Get(x.Param())
		i, _ := v.ToInt64()
		if i%2 != 0 {
			t.Fatalf("iterator yielded config violating an assertion: %s", config)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("iterator yielded %d configs, want 2", count)
	}

	// Compiling a config that violates the assertion fails up front.
	driver := newFakeDriver()
	compiler := newFakeCompiler(driver)
	bad := NewConfig()
	bad.Insert(x.Param(), IntValue(3))
	if _, err := builder.Compile(bad, nil, compiler, &driver.device); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuilderTuneHelpers(t *testing.T) {
	t.Parallel()

	builder := NewKernelBuilder(InlineSource("k.cu", ""), "k")
	if _, err := builder.TuneBlockSize(Uints[uint32](32, 64), nil, nil); err != nil {
		t.Fatalf("tune block size: %v", err)
	}
	if _, err := builder.TuneDefine("UNROLL", Strings("1", "2", "4")); err != nil {
		t.Fatalf("tune define: %v", err)
	}
	if _, err := builder.TuneCompilerFlag("opt", Strings("-O2", "-O3")); err != nil {
		t.Fatalf("tune compiler flag: %v", err)
	}

	size, err := builder.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	// 2 * 1 * 1 block sizes, 3 defines, 2 flags.
	if size != 12 {
		t.Fatalf("size = %d, want 12", size)
	}

	driver := newFakeDriver()
	compiler := newFakeCompiler(driver)
	def, err := builder.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if _, err := builder.Compile(def, nil, compiler, &driver.device); err != nil {
		t.Fatalf("compile default: %v", err)
	}
	if v, ok := optionValue(compiler.lastOptions, "UNROLL"); !ok || v != "1" {
		t.Fatalf("UNROLL define = %q (%v)", v, ok)
	}
	if !slices.Contains(compiler.lastOptions, "-O2") {
		t.Fatalf("tuned compiler flag missing: %v", compiler.lastOptions)
	}
}

func TestBuildOptionsDefaults(t *testing.T) {
	t.Parallel()

	dev := &DeviceInfo{Major: 8, Minor: 6}
	opts := buildOptions([]string{"-I/usr/include"}, []string{"-lineinfo"}, dev)
	if !slices.Contains(opts, "-std=c++11") {
		t.Fatalf("default standard flag missing: %v", opts)
	}
	if !slices.Contains(opts, "--gpu-architecture=compute_86") {
		t.Fatalf("architecture flag missing: %v", opts)
	}

	opts = buildOptions(nil, []string{"-std=c++17"}, dev)
	if slices.Contains(opts, "-std=c++11") {
		t.Fatalf("explicit standard should suppress the default: %v", opts)
	}
}
