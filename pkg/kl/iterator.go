package kl

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// ConfigIterator enumerates every valid configuration of a space exactly once
// in a pseudo-random order. After the space is exhausted, Next returns false
// forever. Given the same seed, the order is identical across runs.
//
// The iterator keeps a bitset over [0, size) of visited indices. Each step
// draws uniform random indices until it hits an unvisited one; once fewer
// than 1/8 of the indices remain it switches to a sequential scan of the
// unset bits, so late-phase draws stay cheap.
type ConfigIterator struct {
	space     *ConfigSpace
	size      uint64
	visited   []uint64
	remaining uint64
	rng       *rand.Rand
	seed      uint64
	hasSeed   bool
	scanPos   uint64
}

// NewConfigIterator creates an iterator seeded from a device-random source.
func NewConfigIterator(space *ConfigSpace) (*ConfigIterator, error) {
	it := &ConfigIterator{space: space}
	if err := it.Reset(); err != nil {
		return nil, err
	}
	return it, nil
}

// NewSeededConfigIterator creates an iterator with a pinned seed; Reset keeps
// reusing it, which makes the enumeration order reproducible.
func NewSeededConfigIterator(space *ConfigSpace, seed uint64) (*ConfigIterator, error) {
	it := &ConfigIterator{space: space, seed: seed, hasSeed: true}
	if err := it.Reset(); err != nil {
		return nil, err
	}
	return it, nil
}

// Reset restarts the enumeration. Unless the iterator was constructed with a
// pinned seed, a fresh seed is drawn from the system random source.
func (it *ConfigIterator) Reset() error {
	size, err := it.space.Size()
	if err != nil {
		return err
	}

	seed := it.seed
	if !it.hasSeed {
		var buf [8]byte
		if _, err := cryptorand.Read(buf[:]); err != nil {
			return err
		}
		seed = binary.LittleEndian.Uint64(buf[:])
	}

	it.size = size
	it.remaining = size
	it.visited = make([]uint64, (size+63)/64)
	it.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	it.scanPos = 0
	return nil
}

func (it *ConfigIterator) isVisited(i uint64) bool {
	return it.visited[i/64]&(1<<(i%64)) != 0
}

func (it *ConfigIterator) markVisited(i uint64) {
	it.visited[i/64] |= 1 << (i % 64)
	it.remaining--
}

// nextIndex picks an unvisited index uniformly, or sequentially once the
// space is mostly exhausted.
func (it *ConfigIterator) nextIndex() (uint64, bool) {
	if it.remaining == 0 {
		return 0, false
	}

	if it.remaining >= it.size/8 {
		for {
			i := it.rng.Uint64N(it.size)
			if !it.isVisited(i) {
				it.markVisited(i)
				return i, true
			}
		}
	}

	for it.scanPos < it.size {
		i := it.scanPos
		it.scanPos++
		if !it.isVisited(i) {
			it.markVisited(i)
			return i, true
		}
	}
	return 0, false
}

// Next yields the next valid configuration, or false once every index has
// been consumed.
func (it *ConfigIterator) Next() (Config, bool, error) {
	for {
		i, ok := it.nextIndex()
		if !ok {
			return Config{}, false, nil
		}

		config := NewConfig()
		valid, err := it.space.Get(i, &config)
		if err != nil {
			return Config{}, false, err
		}
		if valid {
			return config, true, nil
		}
	}
}
