package kl

import (
	"fmt"
	"strings"
)

// PendingModule is an awaitable handle to a module that may still be
// compiling. NvrtcCompiler resolves it before returning; AsyncCompiler
// resolves it from a background goroutine. Dropping a PendingModule detaches
// the work; a detached result is discarded.
type PendingModule struct {
	done chan struct{}
	mod  Module
	err  error
}

func newPendingModule() *PendingModule {
	return &PendingModule{done: make(chan struct{})}
}

// resolvedModule returns an already-completed handle.
func resolvedModule(mod Module, err error) *PendingModule {
	p := newPendingModule()
	p.resolve(mod, err)
	return p
}

func (p *PendingModule) resolve(mod Module, err error) {
	p.mod = mod
	p.err = err
	close(p.done)
}

// Ready reports whether the module has finished compiling (successfully or
// not) without blocking.
func (p *PendingModule) Ready() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until compilation finishes and returns the module.
func (p *PendingModule) Wait() (Module, error) {
	<-p.done
	return p.mod, p.err
}

// Poll returns the module if compilation finished, and ErrNotReady otherwise.
func (p *PendingModule) Poll() (Module, error) {
	select {
	case <-p.done:
		return p.mod, p.err
	default:
		return nil, ErrNotReady
	}
}

// Compiler turns kernel source plus a concrete instantiation into a loadable
// module. dev selects the target device; nil means the current device.
type Compiler interface {
	Compile(
		source Source,
		kernelName string,
		templateArgs []TemplateArg,
		parameterTypes []Type,
		options []string,
		dev *DeviceInfo,
	) (*PendingModule, error)
}

// MangleSymbol builds the name expression handed to the compiler:
// (void(*)(T1,T2,...))name<A1,A2,...>.
func MangleSymbol(kernelName string, templateArgs []TemplateArg, parameterTypes []Type) string {
	var sb strings.Builder
	sb.WriteString("(void(*)(")
	for i, t := range parameterTypes {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(t.Name())
	}
	sb.WriteString("))")
	sb.WriteString(kernelName)

	if len(templateArgs) > 0 {
		sb.WriteString("<")
		for i, a := range templateArgs {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(a.Get())
		}
		sb.WriteString(">")
	}
	return sb.String()
}

// buildOptions merges global flags, per-config flags, and the implied
// defaults: -std=c++11 unless a -std flag is present, plus the device
// architecture flag.
func buildOptions(global, options []string, dev *DeviceInfo) []string {
	all := make([]string, 0, len(global)+len(options)+2)
	mentionsStd := false
	for _, opt := range global {
		all = append(all, opt)
		mentionsStd = mentionsStd || strings.HasPrefix(opt, "-std") || strings.HasPrefix(opt, "--std")
	}
	for _, opt := range options {
		all = append(all, opt)
		mentionsStd = mentionsStd || strings.HasPrefix(opt, "-std") || strings.HasPrefix(opt, "--std")
	}
	if !mentionsStd {
		all = append(all, "-std=c++11")
	}
	if dev != nil {
		all = append(all, dev.ArchFlag())
	}
	return all
}

// AsyncCompiler wraps an inner compiler and runs each compilation on its own
// background goroutine. The caller's device context is captured at submit
// time and re-bound inside the goroutine, matching the driver's threading
// rules.
type AsyncCompiler struct {
	inner  Compiler
	driver Driver
}

func NewAsyncCompiler(inner Compiler, driver Driver) *AsyncCompiler {
	return &AsyncCompiler{inner: inner, driver: driver}
}

func (c *AsyncCompiler) Compile(
	source Source,
	kernelName string,
	templateArgs []TemplateArg,
	parameterTypes []Type,
	options []string,
	dev *DeviceInfo,
) (*PendingModule, error) {
	var ctx uintptr
	if c.driver != nil {
		var err error
		ctx, err = c.driver.CurrentContext()
		if err != nil {
			return nil, fmt.Errorf("capture device context: %w", err)
		}
	}

	pending := newPendingModule()
	go func() {
		if c.driver != nil {
			if err := c.driver.SetContext(ctx); err != nil {
				pending.resolve(nil, fmt.Errorf("bind device context: %w", err))
				return
			}
		}

		inner, err := c.inner.Compile(source, kernelName, templateArgs, parameterTypes, options, dev)
		if err != nil {
			pending.resolve(nil, err)
			return
		}
		pending.resolve(inner.Wait())
	}()
	return pending, nil
}
