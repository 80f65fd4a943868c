package kl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stijnh/kernel-launcher/internal/logger"
)

type tuneState int

const (
	stateUninitialized tuneState = iota
	stateCompiling
	stateTuning
	stateMeasuring
	stateFinished
)

func (s tuneState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateCompiling:
		return "compiling"
	case stateTuning:
		return "tuning"
	case stateMeasuring:
		return "measuring"
	case stateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// TuneOptions configures a tune kernel. Zero fields fall back to defaults:
// a random strategy, the asynchronous NVRTC compiler, the CUDA driver, and
// the default measurement policy.
type TuneOptions struct {
	Strategy Strategy
	Compiler Compiler
	Driver   Driver
	Results  *KernelResults
	Logger   logger.Logger
}

// TuneStatus is a point-in-time snapshot of a tuning run, safe to read from
// other goroutines.
type TuneStatus struct {
	Kernel          string
	State           string
	Evaluations     int
	BestPerformance float64
	BestConfig      string
	CurrentConfig   string
}

// RawTuneKernel multiplexes tuning against best-known execution: every host
// launch advances a state machine that overlaps compilation, measurement,
// and strategy advancement, while the best kernel found so far remains
// available as a non-blocking fallback.
type RawTuneKernel struct {
	state tuneState

	builder    *KernelBuilder
	strategy   Strategy
	compiler   Compiler
	driver     Driver
	device     DeviceInfo
	paramTypes []Type

	beforeEv Event
	afterEv  Event

	bestPerf float64
	best     *RawKernel

	curConfig  Config
	cur        *RawKernel
	curProblem Dim3

	agg KernelResults
	log logger.Logger

	kernelName string
	evals      int

	statusMu sync.Mutex
	status   TuneStatus
}

func NewRawTuneKernel(builder *KernelBuilder, parameterTypes []Type, opts TuneOptions) (*RawTuneKernel, error) {
	k := &RawTuneKernel{
		builder:    builder,
		strategy:   opts.Strategy,
		compiler:   opts.Compiler,
		driver:     opts.Driver,
		paramTypes: parameterTypes,
		agg:        NewKernelResults(),
		log:        opts.Logger,
		kernelName: builder.KernelName(),
		bestPerf:   -1,
	}
	if opts.Results != nil {
		k.agg = *opts.Results
	}
	if k.log == nil {
		k.log = logger.Default()
	}
	if k.strategy == nil {
		k.strategy = NewRandomStrategy()
	}

	if k.driver == nil {
		driver, err := DefaultDriver()
		if err != nil {
			return nil, err
		}
		k.driver = driver
	}
	dev, err := k.driver.CurrentDevice()
	if err != nil {
		return nil, err
	}
	k.device = dev

	if k.compiler == nil {
		k.compiler = NewAsyncCompiler(NewNvrtcCompiler(k.driver), k.driver)
	}

	if k.beforeEv, err = k.driver.NewEvent(); err != nil {
		return nil, err
	}
	if k.afterEv, err = k.driver.NewEvent(); err != nil {
		return nil, err
	}

	config, ok, err := k.strategy.Init(builder)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: search strategy failed to initialize", ErrInvalidConfig)
	}
	k.curConfig = config

	if err := k.nextConfiguration(); err != nil {
		return nil, err
	}
	return k, nil
}

// nextConfiguration submits the current configuration to the compiler. A
// synchronous compile failure skips the configuration and asks the strategy
// for the next one.
func (k *RawTuneKernel) nextConfiguration() error {
	for {
		k.agg.Reset()
		kernel, err := k.builder.Compile(k.curConfig, k.paramTypes, k.compiler, &k.device)
		if err == nil {
			k.cur = kernel
			k.state = stateCompiling
			k.publishStatus()
			return nil
		}
		if !errors.Is(err, ErrCompile) {
			return err
		}

		k.log.Warn("kernel variant failed to compile, skipping",
			"kernel", k.kernelName, "config", k.curConfig.String(), "error", err)
		if ok, err := k.skipCurrent(); err != nil || !ok {
			return err
		}
	}
}

// skipCurrent reports the current configuration as unusable and advances the
// strategy. It returns false once the machine entered the finished state.
func (k *RawTuneKernel) skipCurrent() (bool, error) {
	next, ok, err := k.strategy.Submit(0, k.curConfig)
	if err != nil {
		return false, err
	}
	if !ok {
		k.finish()
		return false, nil
	}
	k.curConfig = next
	return true, nil
}

func (k *RawTuneKernel) finish() {
	k.state = stateFinished
	k.builder = nil
	k.strategy = nil
	k.compiler = nil
	if k.cur != nil && k.cur != k.best {
		_ = k.cur.Unload()
	}
	k.cur = nil
	k.publishStatus()
	k.log.Info("tuning finished", "kernel", k.kernelName,
		"evaluations", k.evals, "best_performance", k.bestPerf)
}

// Launch steps the state machine once per host call. Once a best kernel
// exists no call blocks on compilation; before that, the call blocks only
// when there is nothing else to launch.
func (k *RawTuneKernel) Launch(stream Stream, problem Dim3, args []any) error {
	for {
		switch k.state {
		case stateFinished:
			if k.best == nil {
				return fmt.Errorf("%w: no kernel variant compiled successfully", ErrCompile)
			}
			return k.best.Launch(stream, problem, args)

		case stateMeasuring:
			if err := k.afterEv.Synchronize(); err != nil {
				return err
			}
			elapsed, err := k.afterEv.SecondsSince(k.beforeEv)
			if err != nil {
				return err
			}
			k.agg.Add(k.curProblem, elapsed)
			k.state = stateTuning

			perf, done := k.agg.Collect()
			if !done {
				continue
			}

			k.evals++
			if perf > k.bestPerf {
				if k.best != nil {
					_ = k.best.Unload()
				}
				k.best = k.cur
				k.bestPerf = perf
				k.setBestStatus()
			} else if k.cur != k.best {
				_ = k.cur.Unload()
			}
			k.cur = nil

			next, ok, err := k.strategy.Submit(perf, k.curConfig)
			if err != nil {
				return err
			}
			if !ok {
				k.finish()
				continue
			}
			k.curConfig = next
			if err := k.nextConfiguration(); err != nil {
				return err
			}

		case stateTuning:
			if err := k.beforeEv.Record(stream); err != nil {
				return err
			}
			if err := k.cur.Launch(stream, problem, args); err != nil {
				return err
			}
			if err := k.afterEv.Record(stream); err != nil {
				return err
			}
			k.curProblem = problem
			k.state = stateMeasuring
			k.publishStatus()
			return nil

		case stateCompiling:
			if k.cur.Ready() {
				if err := k.adoptCurrent(); err != nil {
					return err
				}
				continue
			}
			if k.best != nil {
				return k.best.Launch(stream, problem, args)
			}
			// No fallback yet; this is the only point where a host launch
			// may block on the compiler.
			if err := k.cur.WaitReady(); errors.Is(err, ErrCompile) {
				k.log.Warn("kernel variant failed to compile, skipping",
					"kernel", k.kernelName, "error", err)
				if ok, err := k.skipCurrent(); err != nil {
					return err
				} else if ok {
					if err := k.nextConfiguration(); err != nil {
						return err
					}
				}
			} else if err != nil {
				return err
			}

		default:
			return fmt.Errorf("kl: tune kernel has not been initialized")
		}
	}
}

// adoptCurrent resolves a ready compilation, skipping the configuration when
// the compiler rejected it.
func (k *RawTuneKernel) adoptCurrent() error {
	err := k.cur.PollReady()
	if err == nil {
		k.state = stateTuning
		k.publishStatus()
		return nil
	}
	if !errors.Is(err, ErrCompile) {
		return err
	}
	k.log.Warn("kernel variant failed to compile, skipping",
		"kernel", k.kernelName, "error", err)
	if ok, err := k.skipCurrent(); err != nil {
		return err
	} else if ok {
		return k.nextConfiguration()
	}
	return nil
}

func (k *RawTuneKernel) publishStatus() {
	k.statusMu.Lock()
	defer k.statusMu.Unlock()
	k.status.Kernel = k.kernelName
	k.status.State = k.state.String()
	k.status.Evaluations = k.evals
	k.status.CurrentConfig = k.curConfig.String()
}

func (k *RawTuneKernel) setBestStatus() {
	k.statusMu.Lock()
	defer k.statusMu.Unlock()
	k.status.BestPerformance = k.bestPerf
	k.status.BestConfig = k.curConfig.String()
}

// Status returns a snapshot of the tuning run; safe to call concurrently
// with Launch.
func (k *RawTuneKernel) Status() TuneStatus {
	k.statusMu.Lock()
	defer k.statusMu.Unlock()
	return k.status
}

// TuneKernel is the host-facing handle: construct once, then launch as if it
// were an ordinary kernel while tuning happens underneath.
type TuneKernel struct {
	raw *RawTuneKernel
}

func NewTuneKernel(builder *KernelBuilder, parameterTypes []Type, opts TuneOptions) (*TuneKernel, error) {
	raw, err := NewRawTuneKernel(builder, parameterTypes, opts)
	if err != nil {
		return nil, err
	}
	return &TuneKernel{raw: raw}, nil
}

func (k *TuneKernel) Launch(stream Stream, problem Dim3, args ...any) error {
	return k.raw.Launch(stream, problem, args)
}

func (k *TuneKernel) Status() TuneStatus {
	return k.raw.Status()
}
