package kl

// RawKernel is a compiled kernel descriptor: an awaitable module plus the
// launch attributes resolved from its configuration. It transitions from
// "compiling" to "ready" on the first successful await; launching is only
// possible in "ready".
type RawKernel struct {
	pending     *PendingModule
	module      Module
	ready       bool
	blockSize   Dim3
	gridDivisor Dim3
	sharedMem   uint32
}

// Ready reports whether the module can be taken without blocking.
func (k *RawKernel) Ready() bool {
	return k.ready || (k.pending != nil && k.pending.Ready())
}

// WaitReady blocks until compilation finishes and adopts the module.
func (k *RawKernel) WaitReady() error {
	if k.ready {
		return nil
	}
	mod, err := k.pending.Wait()
	if err != nil {
		return err
	}
	k.module = mod
	k.ready = true
	return nil
}

// PollReady adopts the module if compilation has finished, returning
// ErrNotReady otherwise.
func (k *RawKernel) PollReady() error {
	if k.ready {
		return nil
	}
	mod, err := k.pending.Poll()
	if err != nil {
		return err
	}
	k.module = mod
	k.ready = true
	return nil
}

// Launch waits for the module if needed, derives the grid from the problem
// size, and launches. The grid is ceil(problem/divisor) per axis.
func (k *RawKernel) Launch(stream Stream, problem Dim3, args []any) error {
	if err := k.WaitReady(); err != nil {
		return err
	}

	grid := Dim3{
		X: divCeil(problem.X, k.gridDivisor.X),
		Y: divCeil(problem.Y, k.gridDivisor.Y),
		Z: divCeil(problem.Z, k.gridDivisor.Z),
	}
	return k.module.Launch(grid, k.blockSize, k.sharedMem, stream, args)
}

// Unload releases the module if it was adopted.
func (k *RawKernel) Unload() error {
	if k.ready && k.module != nil {
		err := k.module.Unload()
		k.module = nil
		k.ready = false
		return err
	}
	return nil
}

// Kernel is a compiled kernel bound to its parameter types: compile once,
// launch many times.
type Kernel struct {
	raw            *RawKernel
	parameterTypes []Type
}

// CompileKernel compiles the builder under one concrete configuration.
func CompileKernel(
	builder *KernelBuilder,
	config Config,
	parameterTypes []Type,
	compiler Compiler,
	dev *DeviceInfo,
) (*Kernel, error) {
	raw, err := builder.Compile(config, parameterTypes, compiler, dev)
	if err != nil {
		return nil, err
	}
	return &Kernel{raw: raw, parameterTypes: parameterTypes}, nil
}

// Launch runs the kernel over the given problem size, waiting for
// compilation on the first call.
func (k *Kernel) Launch(stream Stream, problem Dim3, args ...any) error {
	return k.raw.Launch(stream, problem, args)
}

func (k *Kernel) Ready() bool { return k.raw.Ready() }

func (k *Kernel) Unload() error { return k.raw.Unload() }
