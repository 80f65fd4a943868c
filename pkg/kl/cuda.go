package kl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stijnh/kernel-launcher/internal/cuda"
	"github.com/stijnh/kernel-launcher/internal/nvrtc"
)

// cudaModule adapts an internal/cuda module to the engine's Module
// interface.
type cudaModule struct {
	mod *cuda.Module
}

func (m cudaModule) Launch(grid, block Dim3, sharedMem uint32, stream Stream, args []any) error {
	err := m.mod.Launch(
		grid.X, grid.Y, grid.Z,
		block.X, block.Y, block.Z,
		sharedMem,
		uintptr(stream),
		args,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return nil
}

func (m cudaModule) Unload() error {
	if err := m.mod.Unload(); err != nil {
		return fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return nil
}

type cudaEvent struct {
	ev *cuda.Event
}

func (e cudaEvent) Record(stream Stream) error {
	if err := e.ev.Record(uintptr(stream)); err != nil {
		return fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return nil
}

func (e cudaEvent) Synchronize() error {
	if err := e.ev.Synchronize(); err != nil {
		return fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return nil
}

func (e cudaEvent) SecondsSince(before Event) (float64, error) {
	b, ok := before.(cudaEvent)
	if !ok {
		return 0, fmt.Errorf("%w: mismatched event implementations", ErrDriver)
	}
	secs, err := e.ev.SecondsSince(b.ev)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return secs, nil
}

// CudaDriver is the production Driver backed by libcuda.
type CudaDriver struct{}

func (CudaDriver) LoadModule(image []byte, symbol string) (Module, error) {
	mod, err := cuda.LoadModule(image, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return cudaModule{mod: mod}, nil
}

func (CudaDriver) NewEvent() (Event, error) {
	ev, err := cuda.NewEvent()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return cudaEvent{ev: ev}, nil
}

func (CudaDriver) CurrentDevice() (DeviceInfo, error) {
	dev, err := cuda.CurrentDevice()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	name, err := dev.Name()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	major, minor, err := dev.ComputeCapability()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	version, err := cuda.DriverVersion()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return DeviceInfo{
		Ordinal:       int32(dev),
		Name:          name,
		Major:         major,
		Minor:         minor,
		DriverVersion: version,
	}, nil
}

func (CudaDriver) CurrentContext() (uintptr, error) {
	ctx, err := cuda.CurrentContext()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return ctx, nil
}

func (CudaDriver) SetContext(ctx uintptr) error {
	if err := cuda.SetContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return nil
}

var (
	defaultDriverOnce sync.Once
	defaultDriverErr  error
	defaultDriver     Driver
)

// DefaultDriver initializes libcuda once and returns the shared CUDA driver.
func DefaultDriver() (Driver, error) {
	defaultDriverOnce.Do(func() {
		if err := cuda.Init(); err != nil {
			defaultDriverErr = fmt.Errorf("%w: %v", ErrDriver, err)
			return
		}
		defaultDriver = CudaDriver{}
	})
	return defaultDriver, defaultDriverErr
}

// NvrtcCompiler compiles kernel sources synchronously with NVRTC and loads
// the result through the driver. The returned PendingModule is already
// resolved when Compile returns.
type NvrtcCompiler struct {
	driver        Driver
	globalOptions []string
}

func NewNvrtcCompiler(driver Driver) *NvrtcCompiler {
	return &NvrtcCompiler{driver: driver}
}

// AddOption appends a flag passed to every compilation.
func (c *NvrtcCompiler) AddOption(opt string) {
	c.globalOptions = append(c.globalOptions, opt)
}

func (c *NvrtcCompiler) Compile(
	source Source,
	kernelName string,
	templateArgs []TemplateArg,
	parameterTypes []Type,
	options []string,
	dev *DeviceInfo,
) (*PendingModule, error) {
	symbol := MangleSymbol(kernelName, templateArgs, parameterTypes)

	if dev == nil {
		current, err := c.driver.CurrentDevice()
		if err != nil {
			return nil, err
		}
		dev = &current
	}
	all := buildOptions(c.globalOptions, options, dev)

	content, err := source.Read()
	if err != nil {
		return nil, err
	}

	lowered, ptx, err := nvrtc.Compile(content, source.FileName(), symbol, all)
	if err != nil {
		var diag *nvrtc.CompilationError
		if errors.As(err, &diag) {
			return nil, fmt.Errorf("%w: %s: %s", ErrCompile, kernelName, diag.Log)
		}
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	mod, err := c.driver.LoadModule(ptx, lowered)
	if err != nil {
		return nil, err
	}
	return resolvedModule(mod, nil), nil
}
