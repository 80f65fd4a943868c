package kl

import (
	"fmt"

	json "github.com/goccy/go-json"
)

type define struct {
	name  string
	value Expr
}

// KernelBuilder binds a kernel source and entry point to a configuration
// space, with every launch attribute (block size, grid divisors, shared
// memory, template arguments, compiler flags, defines) given as an
// expression over that space.
type KernelBuilder struct {
	ConfigSpace

	source     Source
	kernelName string

	blockSize    [3]Expr
	gridDivisors [3]Expr
	sharedMem    Expr

	templateArgs  []Expr
	compilerFlags []Expr
	defines       []define
	assertions    []Expr
}

func NewKernelBuilder(source Source, kernelName string) *KernelBuilder {
	return &KernelBuilder{
		source:       source,
		kernelName:   kernelName,
		blockSize:    [3]Expr{Lit(uint32(1)), Lit(uint32(1)), Lit(uint32(1))},
		gridDivisors: [3]Expr{Lit(uint32(1)), Lit(uint32(1)), Lit(uint32(1))},
		sharedMem:    Lit(uint32(0)),
	}
}

func (b *KernelBuilder) KernelName() string { return b.kernelName }
func (b *KernelBuilder) KernelSource() Source { return b.source }

// BlockSize sets the thread-block dimensions. Setting the block size also
// sets the grid divisors, so by default each thread handles one problem
// element.
func (b *KernelBuilder) BlockSize(dims ...any) *KernelBuilder {
	b.GridDivisors(dims...)
	for i, d := range dims {
		if i < 3 {
			b.blockSize[i] = toExpr(d)
		}
	}
	return b
}

// GridDivisors sets, per axis, how many problem elements one block covers.
// The grid size at launch is ceil(problem / divisor).
func (b *KernelBuilder) GridDivisors(dims ...any) *KernelBuilder {
	for i, d := range dims {
		if i < 3 {
			b.gridDivisors[i] = toExpr(d)
		}
	}
	return b
}

func (b *KernelBuilder) SharedMemory(bytes any) *KernelBuilder {
	b.sharedMem = toExpr(bytes)
	return b
}

// TemplateArgs appends template arguments; each may be a Type, a scalar, or
// an expression over the space.
func (b *KernelBuilder) TemplateArgs(args ...any) *KernelBuilder {
	for _, a := range args {
		b.templateArgs = append(b.templateArgs, toExpr(a))
	}
	return b
}

func (b *KernelBuilder) CompilerFlags(flags ...any) *KernelBuilder {
	for _, f := range flags {
		b.compilerFlags = append(b.compilerFlags, toExpr(f))
	}
	return b
}

// Define adds a preprocessor define whose value is evaluated per
// configuration.
func (b *KernelBuilder) Define(name string, value any) *KernelBuilder {
	for _, d := range b.defines {
		if d.name == name {
			panic(fmt.Sprintf("kl: macro already defined: %s", name))
		}
	}
	b.defines = append(b.defines, define{name: name, value: toExpr(value)})
	return b
}

// DefineParam defines a macro named after the parameter, bound to its value.
func (b *KernelBuilder) DefineParam(p ParamExpr) *KernelBuilder {
	return b.Define(p.Param().Name(), p)
}

// Assertion adds a predicate that doubles as a restriction on the space, so
// the iterator never yields a configuration violating it.
func (b *KernelBuilder) Assertion(pred Expr) *KernelBuilder {
	b.Restrict(pred)
	b.assertions = append(b.assertions, pred)
	return b
}

// TuneBlockSize adds block_size_{x,y,z} parameters and wires them as the
// block size. Missing axes default to a fixed 1.
func (b *KernelBuilder) TuneBlockSize(xs, ys, zs []Value) ([3]ParamExpr, error) {
	var out [3]ParamExpr
	if len(ys) == 0 {
		ys = Uints[uint32](1)
	}
	if len(zs) == 0 {
		zs = Uints[uint32](1)
	}

	var err error
	if out[0], err = b.Tune("block_size_x", TypeUint32, xs); err != nil {
		return out, err
	}
	if out[1], err = b.Tune("block_size_y", TypeUint32, ys); err != nil {
		return out, err
	}
	if out[2], err = b.Tune("block_size_z", TypeUint32, zs); err != nil {
		return out, err
	}
	b.BlockSize(out[0], out[1], out[2])
	return out, nil
}

// TuneCompilerFlag adds a parameter whose value is passed to the compiler as
// a flag.
func (b *KernelBuilder) TuneCompilerFlag(name string, values []Value) (ParamExpr, error) {
	p, err := b.Tune(name, TypeOf("string"), values)
	if err != nil {
		return ParamExpr{}, err
	}
	b.CompilerFlags(p)
	return p, nil
}

// TuneDefine adds a parameter exposed to the kernel as a preprocessor define
// of the same name.
func (b *KernelBuilder) TuneDefine(name string, values []Value) (ParamExpr, error) {
	p, err := b.Tune(name, TypeOf("string"), values)
	if err != nil {
		return ParamExpr{}, err
	}
	b.Define(name, p)
	return p, nil
}

func (b *KernelBuilder) evalUint32(e Expr, cfg Config) (uint32, error) {
	v, err := e.Eval(cfg)
	if err != nil {
		return 0, err
	}
	return v.ToUint32()
}

// Compile evaluates every launch attribute under the configuration and
// submits the kernel to the compiler. The returned RawKernel becomes
// launchable once its module resolves.
func (b *KernelBuilder) Compile(
	config Config,
	parameterTypes []Type,
	compiler Compiler,
	dev *DeviceInfo,
) (*RawKernel, error) {
	for _, a := range b.assertions {
		v, err := a.Eval(config)
		if err != nil {
			return nil, err
		}
		ok, err := v.ToBool()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: assertion failed: %s", ErrInvalidConfig, a)
		}
	}

	templateArgs := make([]TemplateArg, 0, len(b.templateArgs))
	for _, e := range b.templateArgs {
		v, err := e.Eval(config)
		if err != nil {
			return nil, err
		}
		arg, err := TemplateArgOf(v)
		if err != nil {
			return nil, err
		}
		templateArgs = append(templateArgs, arg)
	}

	options := make([]string, 0, len(b.compilerFlags)+2*len(b.defines))
	for _, e := range b.compilerFlags {
		v, err := e.Eval(config)
		if err != nil {
			return nil, err
		}
		options = append(options, v.String())
	}
	for _, d := range b.defines {
		v, err := d.value.Eval(config)
		if err != nil {
			return nil, err
		}
		options = append(options, "--define-macro", d.name+"="+v.String())
	}

	var block, gridDiv Dim3
	var err error
	if block.X, err = b.evalUint32(b.blockSize[0], config); err != nil {
		return nil, err
	}
	if block.Y, err = b.evalUint32(b.blockSize[1], config); err != nil {
		return nil, err
	}
	if block.Z, err = b.evalUint32(b.blockSize[2], config); err != nil {
		return nil, err
	}
	if gridDiv.X, err = b.evalUint32(b.gridDivisors[0], config); err != nil {
		return nil, err
	}
	if gridDiv.Y, err = b.evalUint32(b.gridDivisors[1], config); err != nil {
		return nil, err
	}
	if gridDiv.Z, err = b.evalUint32(b.gridDivisors[2], config); err != nil {
		return nil, err
	}

	sharedMem, err := b.evalUint32(b.sharedMem, config)
	if err != nil {
		return nil, err
	}

	pending, err := compiler.Compile(b.source, b.kernelName, templateArgs, parameterTypes, options, dev)
	if err != nil {
		return nil, err
	}

	return &RawKernel{
		pending:     pending,
		blockSize:   block,
		gridDivisor: gridDiv,
		sharedMem:   sharedMem,
	}, nil
}

// MarshalJSON renders the builder's space together with its launch
// attributes, the form embedded in tooling output.
func (b *KernelBuilder) MarshalJSON() ([]byte, error) {
	spaceJSON, err := b.ConfigSpace.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(spaceJSON, &obj); err != nil {
		return nil, err
	}

	obj["kernel_name"] = b.kernelName
	obj["kernel_source"] = b.source.FileName()
	obj["block_size"] = []any{b.blockSize[0].jsonForm(), b.blockSize[1].jsonForm(), b.blockSize[2].jsonForm()}
	obj["grid_divisors"] = []any{b.gridDivisors[0].jsonForm(), b.gridDivisors[1].jsonForm(), b.gridDivisors[2].jsonForm()}
	obj["shared_mem"] = b.sharedMem.jsonForm()

	targs := make([]any, 0, len(b.templateArgs))
	for _, e := range b.templateArgs {
		targs = append(targs, e.jsonForm())
	}
	obj["template_args"] = targs

	flags := make([]any, 0, len(b.compilerFlags))
	for _, e := range b.compilerFlags {
		flags = append(flags, e.jsonForm())
	}
	obj["compiler_flags"] = flags

	defines := make(map[string]any, len(b.defines))
	for _, d := range b.defines {
		defines[d.name] = d.value.jsonForm()
	}
	obj["defines"] = defines

	return json.Marshal(obj)
}
