package kl

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Config maps tunable parameters to concrete values. A config is complete for
// a space when every parameter of the space is bound to an in-domain value
// and every restriction holds.
type Config struct {
	values map[*TunableParam]Value
}

func NewConfig() Config {
	return Config{values: make(map[*TunableParam]Value)}
}

func (c *Config) Insert(p *TunableParam, v Value) {
	if c.values == nil {
		c.values = make(map[*TunableParam]Value)
	}
	c.values[p] = v
}

func (c Config) Len() int { return len(c.values) }

// Get returns the value bound to p, if any.
func (c Config) Get(p *TunableParam) (Value, bool) {
	v, ok := c.values[p]
	return v, ok
}

// At returns the value bound to p and fails when p is unbound.
func (c Config) At(p *TunableParam) (Value, error) {
	v, ok := c.values[p]
	if !ok {
		return Value{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, p.Name())
	}
	return v, nil
}

// Clone returns an independent copy of the config.
func (c Config) Clone() Config {
	out := Config{values: make(map[*TunableParam]Value, len(c.values))}
	for p, v := range c.values {
		out.values[p] = v
	}
	return out
}

// Equal reports whether both configs bind the same parameters to the same
// values. Parameter identity is reference identity.
func (c Config) Equal(that Config) bool {
	if len(c.values) != len(that.values) {
		return false
	}
	for p, v := range c.values {
		w, ok := that.values[p]
		if !ok || v != w {
			return false
		}
	}
	return true
}

// MarshalJSON renders the config as an object keyed by parameter name.
func (c Config) MarshalJSON() ([]byte, error) {
	obj := make(map[string]Value, len(c.values))
	for p, v := range c.values {
		obj[p.Name()] = v
	}
	return json.Marshal(obj)
}

func (c Config) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return "<invalid config>"
	}
	return string(b)
}
