package kl

import "fmt"

// Tune runs a synchronous, cache-backed tuning loop outside the launch path.
// The measure callback runs one configuration and reports its throughput.
// Previously cached results short-circuit measurement; every fresh result is
// appended to the cache. The best configuration is returned once the
// strategy is exhausted, or immediately when the cache already holds one.
func Tune(
	filename string,
	strategy Strategy,
	builder *KernelBuilder,
	dev DeviceInfo,
	measure func(Config) (float64, error),
) (Config, error) {
	cache := NewTuningCache()
	best, hasBest, err := cache.Open(filename, builder, dev)
	if err != nil {
		return Config{}, err
	}
	if hasBest {
		return best, nil
	}

	current, ok, err := strategy.Init(builder)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, fmt.Errorf("%w: search strategy failed to initialize", ErrInvalidConfig)
	}

	var (
		bestConfig Config
		bestPerf   = -1.0
		haveBest   bool
	)

	for {
		performance, found := cache.Find(current)
		if !found {
			performance, err = measure(current)
			if err != nil {
				return Config{}, err
			}
			cache.Append(current, performance)
		}

		if performance > bestPerf {
			bestPerf = performance
			bestConfig = current.Clone()
			haveBest = true
		}

		next, ok, err := strategy.Submit(performance, current)
		if err != nil {
			return Config{}, err
		}
		if !ok {
			break
		}
		current = next
	}

	if !haveBest {
		return Config{}, fmt.Errorf("%w: no configuration was measured", ErrInvalidConfig)
	}
	return bestConfig, nil
}
