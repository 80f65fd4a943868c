package kl

import (
	"fmt"
	"strings"
	"sync"
)

// The fakes below stand in for the GPU driver and the compiler so the state
// machine and strategies can be exercised deterministically: a virtual clock
// advances by each fake kernel's cost on launch, and events read that clock.

type fakeClock struct {
	mu  sync.Mutex
	now float64
}

func (c *fakeClock) advance(seconds float64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}

func (c *fakeClock) read() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeModule struct {
	clock    *fakeClock
	cost     float64
	launches int
	unloaded bool
}

func (m *fakeModule) Launch(grid, block Dim3, sharedMem uint32, stream Stream, args []any) error {
	if m.unloaded {
		return fmt.Errorf("%w: launch on unloaded module", ErrDriver)
	}
	m.launches++
	m.clock.advance(m.cost)
	return nil
}

func (m *fakeModule) Unload() error {
	m.unloaded = true
	return nil
}

type fakeEvent struct {
	clock *fakeClock
	at    float64
}

func (e *fakeEvent) Record(Stream) error {
	e.at = e.clock.read()
	return nil
}

func (e *fakeEvent) Synchronize() error { return nil }

func (e *fakeEvent) SecondsSince(before Event) (float64, error) {
	b, ok := before.(*fakeEvent)
	if !ok {
		return 0, fmt.Errorf("%w: mismatched event implementations", ErrDriver)
	}
	return e.at - b.at, nil
}

type fakeDriver struct {
	clock  *fakeClock
	device DeviceInfo
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		clock: &fakeClock{},
		device: DeviceInfo{
			Name:          "Fake GPU",
			Major:         8,
			Minor:         0,
			DriverVersion: 12000,
		},
	}
}

func (d *fakeDriver) LoadModule(image []byte, symbol string) (Module, error) {
	return &fakeModule{clock: d.clock, cost: 1e-3}, nil
}

func (d *fakeDriver) NewEvent() (Event, error) {
	return &fakeEvent{clock: d.clock}, nil
}

func (d *fakeDriver) CurrentDevice() (DeviceInfo, error) { return d.device, nil }
func (d *fakeDriver) CurrentContext() (uintptr, error)   { return 1, nil }
func (d *fakeDriver) SetContext(uintptr) error           { return nil }

// fakeCompiler produces fakeModules whose launch cost is derived from the
// compile options via costFor. When async is set, compilations stay pending
// until the test resolves them, oldest first, through resolveOne.
type fakeCompiler struct {
	driver  *fakeDriver
	costFor func(options []string) float64

	async   bool
	mu      sync.Mutex
	pending []*PendingModule
	costs   []float64

	compiles int
	failNext bool

	lastKernelName   string
	lastTemplateArgs []TemplateArg
	lastTypes        []Type
	lastOptions      []string
}

func newFakeCompiler(driver *fakeDriver) *fakeCompiler {
	return &fakeCompiler{
		driver:  driver,
		costFor: func([]string) float64 { return 1e-3 },
	}
}

func (c *fakeCompiler) Compile(
	source Source,
	kernelName string,
	templateArgs []TemplateArg,
	parameterTypes []Type,
	options []string,
	dev *DeviceInfo,
) (*PendingModule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compiles++
	c.lastKernelName = kernelName
	c.lastTemplateArgs = templateArgs
	c.lastTypes = parameterTypes
	c.lastOptions = options

	if c.failNext {
		c.failNext = false
		return nil, fmt.Errorf("%w: fake diagnostic", ErrCompile)
	}

	cost := c.costFor(options)
	if c.async {
		p := newPendingModule()
		c.pending = append(c.pending, p)
		c.costs = append(c.costs, cost)
		return p, nil
	}
	return resolvedModule(&fakeModule{clock: c.driver.clock, cost: cost}, nil), nil
}

// resolveOne completes the oldest pending compilation.
func (c *fakeCompiler) resolveOne() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return false
	}
	p, cost := c.pending[0], c.costs[0]
	c.pending = c.pending[1:]
	c.costs = c.costs[1:]
	p.resolve(&fakeModule{clock: c.driver.clock, cost: cost}, nil)
	return true
}

func (c *fakeCompiler) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// optionValue extracts the value of a --define-macro name=value pair from
// compile options.
func optionValue(options []string, name string) (string, bool) {
	for i, opt := range options {
		if opt == "--define-macro" && i+1 < len(options) {
			if v, ok := strings.CutPrefix(options[i+1], name+"="); ok {
				return v, true
			}
		}
	}
	return "", false
}
