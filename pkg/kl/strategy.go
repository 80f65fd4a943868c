package kl

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// Strategy produces configurations to evaluate, driven by measured
// performance. Performance is throughput: a positive scalar where larger is
// better. A false second return value means the strategy is exhausted; that
// is termination, not an error.
//
// Strategies compose: an outer strategy wraps an inner one and delegates.
type Strategy interface {
	// Init returns the first configuration to evaluate, or false when the
	// space holds no valid point.
	Init(builder *KernelBuilder) (Config, bool, error)

	// Submit consumes the measurement for the previously returned
	// configuration and produces the next one, or false to terminate.
	Submit(performance float64, last Config) (Config, bool, error)
}

// RandomStrategy walks the space in the randomized order of a
// ConfigIterator.
type RandomStrategy struct {
	seed    uint64
	hasSeed bool
	iter    *ConfigIterator
}

func NewRandomStrategy() *RandomStrategy {
	return &RandomStrategy{}
}

// NewSeededRandomStrategy pins the iteration order, which makes tuning runs
// reproducible.
func NewSeededRandomStrategy(seed uint64) *RandomStrategy {
	return &RandomStrategy{seed: seed, hasSeed: true}
}

func (s *RandomStrategy) Init(builder *KernelBuilder) (Config, bool, error) {
	var err error
	if s.hasSeed {
		s.iter, err = NewSeededConfigIterator(&builder.ConfigSpace, s.seed)
	} else {
		s.iter, err = NewConfigIterator(&builder.ConfigSpace)
	}
	if err != nil {
		return Config{}, false, err
	}
	return s.iter.Next()
}

func (s *RandomStrategy) Submit(_ float64, _ Config) (Config, bool, error) {
	return s.iter.Next()
}

// LimitStrategy terminates after maxEvals successful submissions even if the
// inner strategy is not exhausted.
type LimitStrategy struct {
	maxEvals uint64
	curr     uint64
	inner    Strategy
}

func NewLimitStrategy(maxEvals uint64, inner Strategy) *LimitStrategy {
	if inner == nil {
		inner = NewRandomStrategy()
	}
	return &LimitStrategy{maxEvals: maxEvals, inner: inner}
}

func (s *LimitStrategy) Init(builder *KernelBuilder) (Config, bool, error) {
	s.curr = 0
	return s.inner.Init(builder)
}

func (s *LimitStrategy) Submit(performance float64, last Config) (Config, bool, error) {
	next, ok, err := s.inner.Submit(performance, last)
	if err != nil || !ok {
		return Config{}, false, err
	}
	if s.curr >= s.maxEvals {
		return Config{}, false, nil
	}
	s.curr++
	return next, true, nil
}

type neighbor struct {
	param *TunableParam
	value Value
}

// HillClimbingStrategy greedily explores single-parameter mutations of the
// best configuration seen so far. When every neighbor of the current best
// has been attempted without improvement, it asks the inner strategy for a
// fresh restart point.
type HillClimbingStrategy struct {
	rng            *rand.Rand
	space          *ConfigSpace
	inner          Strategy
	neighbors      []neighbor
	attempted      []bool
	attemptedCount int
	bestPerf       float64
	bestConfig     Config
}

func NewHillClimbingStrategy(inner Strategy) *HillClimbingStrategy {
	if inner == nil {
		inner = NewRandomStrategy()
	}
	return &HillClimbingStrategy{inner: inner}
}

func (s *HillClimbingStrategy) updateBest(performance float64, config Config) {
	for i := range s.attempted {
		s.attempted[i] = false
	}
	s.attemptedCount = 0
	s.bestPerf = performance
	s.bestConfig = config.Clone()
}

func (s *HillClimbingStrategy) Init(builder *KernelBuilder) (Config, bool, error) {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return Config{}, false, err
	}
	seed := binary.LittleEndian.Uint64(buf[:])
	s.rng = rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))

	s.space = &builder.ConfigSpace
	s.neighbors = s.neighbors[:0]
	for _, p := range s.space.Params() {
		for _, v := range p.Values() {
			s.neighbors = append(s.neighbors, neighbor{param: p, value: v})
		}
	}
	s.attempted = make([]bool, len(s.neighbors))
	s.attemptedCount = 0

	config, ok, err := s.inner.Init(builder)
	if err != nil || !ok {
		return Config{}, false, err
	}
	s.updateBest(0, config)
	return config, true, nil
}

func (s *HillClimbingStrategy) Submit(performance float64, last Config) (Config, bool, error) {
	var working Config
	if performance > s.bestPerf {
		s.updateBest(performance, last)
		working = last.Clone()
	} else {
		working = s.bestConfig.Clone()
	}

	for s.attemptedCount < len(s.neighbors) {
		i := s.rng.IntN(len(s.neighbors))
		if s.attempted[i] {
			continue
		}
		s.attempted[i] = true
		s.attemptedCount++

		n := s.neighbors[i]
		oldVal, err := working.At(n.param)
		if err != nil {
			return Config{}, false, err
		}
		if oldVal == n.value {
			continue
		}

		working.Insert(n.param, n.value)
		valid, err := s.space.IsValid(working)
		if err != nil {
			return Config{}, false, err
		}
		if !valid {
			working.Insert(n.param, oldVal)
			continue
		}
		return working, true, nil
	}

	// Local optimum: every neighbor attempted. Restart from the inner
	// strategy.
	next, ok, err := s.inner.Submit(performance, working)
	if err != nil || !ok {
		return Config{}, false, err
	}
	s.updateBest(0, next)
	return next, true, nil
}

// CachingStrategy wraps an inner strategy with a persistent tuning cache.
// Previously measured configurations are skipped by replaying their recorded
// performance into the inner strategy, and every fresh measurement is
// appended to the cache file.
type CachingStrategy struct {
	path        string
	inner       Strategy
	cache       *TuningCache
	device      *DeviceInfo
	firstRun    bool
	firstConfig Config
}

func NewCachingStrategy(path string, inner Strategy) *CachingStrategy {
	if inner == nil {
		inner = NewRandomStrategy()
	}
	return &CachingStrategy{path: path, inner: inner}
}

// NewCachingStrategyForDevice pins the device identity recorded in the cache
// header instead of querying the driver.
func NewCachingStrategyForDevice(path string, inner Strategy, dev DeviceInfo) *CachingStrategy {
	s := NewCachingStrategy(path, inner)
	s.device = &dev
	return s
}

func (s *CachingStrategy) resolveDevice() (DeviceInfo, error) {
	if s.device != nil {
		return *s.device, nil
	}
	driver, err := DefaultDriver()
	if err != nil {
		return DeviceInfo{}, err
	}
	return driver.CurrentDevice()
}

// skipCached advances past configurations whose performance is already
// known, feeding the recorded value back into the inner strategy.
func (s *CachingStrategy) skipCached(config Config) (Config, bool, error) {
	for {
		perf, found := s.cache.Find(config)
		if !found {
			return config, true, nil
		}
		next, ok, err := s.inner.Submit(perf, config)
		if err != nil || !ok {
			return Config{}, false, err
		}
		config = next
	}
}

func (s *CachingStrategy) Init(builder *KernelBuilder) (Config, bool, error) {
	config, ok, err := s.inner.Init(builder)
	if err != nil || !ok {
		return Config{}, false, err
	}

	dev, err := s.resolveDevice()
	if err != nil {
		return Config{}, false, err
	}

	s.cache = NewTuningCache()
	best, hasBest, err := s.cache.Open(s.path, builder, dev)
	if err != nil {
		return Config{}, false, err
	}

	if hasBest {
		// Yield the best-known config first so the host immediately runs
		// at the cached optimum; the inner strategy's first pick is
		// replayed on the next submit.
		s.firstRun = true
		s.firstConfig = config
		return best, true, nil
	}

	s.firstRun = false
	return s.skipCached(config)
}

func (s *CachingStrategy) Submit(performance float64, last Config) (Config, bool, error) {
	var config Config
	if s.firstRun {
		s.firstRun = false
		config = s.firstConfig
	} else {
		s.cache.Append(last, performance)
		next, ok, err := s.inner.Submit(performance, last)
		if err != nil || !ok {
			return Config{}, false, err
		}
		config = next
	}
	return s.skipCached(config)
}
