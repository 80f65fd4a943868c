package kl

import (
	"fmt"
	"math"
	"math/rand/v2"

	json "github.com/goccy/go-json"
)

// ConfigSpace is the Cartesian product of parameter domains intersected with
// a list of boolean restrictions. Parameters keep their insertion order; that
// order defines the enumeration axes, with the first parameter as the least
// significant digit.
type ConfigSpace struct {
	params       []*TunableParam
	restrictions []Expr
}

func NewConfigSpace() *ConfigSpace {
	return &ConfigSpace{}
}

// Tune adds a parameter whose default is the first value of its domain and
// returns an expression referencing it.
func (s *ConfigSpace) Tune(name string, typ Type, values []Value) (ParamExpr, error) {
	if len(values) == 0 {
		return ParamExpr{}, fmt.Errorf("kl: parameter %q has an empty value domain", name)
	}
	return s.TuneWithDefault(name, typ, values, values[0])
}

// TuneWithDefault adds a parameter with an explicit default value.
func (s *ConfigSpace) TuneWithDefault(name string, typ Type, values []Value, defaultValue Value) (ParamExpr, error) {
	for _, p := range s.params {
		if p.Name() == name {
			return ParamExpr{}, fmt.Errorf("kl: duplicate parameter name %q", name)
		}
	}
	p, err := NewTunableParam(name, typ, values, defaultValue)
	if err != nil {
		return ParamExpr{}, err
	}
	s.params = append(s.params, p)
	return Param(p), nil
}

// Restrict appends a boolean predicate; IsValid requires all predicates to
// hold.
func (s *ConfigSpace) Restrict(pred Expr) {
	s.restrictions = append(s.restrictions, pred)
}

// Params returns the parameters in insertion order. Callers must not mutate
// the slice.
func (s *ConfigSpace) Params() []*TunableParam { return s.params }

// Restrictions returns the predicates. Callers must not mutate the slice.
func (s *ConfigSpace) Restrictions() []Expr { return s.restrictions }

// At looks a parameter up by name.
func (s *ConfigSpace) At(name string) (*TunableParam, error) {
	for _, p := range s.params {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("kl: parameter not found: %q", name)
}

// Size returns the cardinality of the unrestricted space and fails when the
// product overflows 64 bits.
func (s *ConfigSpace) Size() (uint64, error) {
	n := uint64(1)
	for _, p := range s.params {
		k := uint64(p.Len())
		if k == 0 {
			return 0, nil
		}
		if n > math.MaxUint64/k {
			return 0, fmt.Errorf("%w: configuration space size overflows 64 bits", ErrArithmetic)
		}
		n *= k
	}
	return n, nil
}

// Get decomposes index in little-endian mixed radix over the parameters,
// binds the resulting values into config, and reports whether the point
// satisfies every restriction.
func (s *ConfigSpace) Get(index uint64, config *Config) (bool, error) {
	for _, p := range s.params {
		n := uint64(p.Len())
		v, err := p.At(int(index % n))
		if err != nil {
			return false, err
		}
		index /= n
		config.Insert(p, v)
	}
	return s.IsValid(*config)
}

// IsValid evaluates every restriction against the config. A config that does
// not bind all referenced parameters is invalid.
func (s *ConfigSpace) IsValid(config Config) (bool, error) {
	for _, p := range s.params {
		v, ok := config.Get(p)
		if !ok || !p.Contains(v) {
			return false, nil
		}
	}
	for _, r := range s.restrictions {
		v, err := r.Eval(config)
		if err != nil {
			return false, err
		}
		ok, err := v.ToBool()
		if err != nil {
			return false, fmt.Errorf("restriction %s: %w", r, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// DefaultConfig binds every parameter to its declared default and fails when
// the restrictions reject the result.
func (s *ConfigSpace) DefaultConfig() (Config, error) {
	config := NewConfig()
	for _, p := range s.params {
		config.Insert(p, p.DefaultValue())
	}
	ok, err := s.IsValid(config)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, fmt.Errorf("%w: default configuration fails a restriction", ErrInvalidConfig)
	}
	return config, nil
}

// RandomConfig samples a uniformly random valid configuration. It fails when
// the space contains no valid point.
func (s *ConfigSpace) RandomConfig() (Config, error) {
	n, err := s.Size()
	if err != nil {
		return Config{}, err
	}
	if n == 0 {
		return Config{}, fmt.Errorf("%w: configuration space is empty", ErrInvalidConfig)
	}

	attempted := make(map[uint64]struct{})
	config := NewConfig()
	for uint64(len(attempted)) < n {
		i := rand.Uint64N(n)
		if _, seen := attempted[i]; seen {
			continue
		}
		attempted[i] = struct{}{}

		ok, err := s.Get(i, &config)
		if err != nil {
			return Config{}, err
		}
		if ok {
			return config, nil
		}
	}
	return Config{}, fmt.Errorf("%w: no valid configuration exists", ErrInvalidConfig)
}

// Iterate returns a fresh randomized iterator over all valid configurations.
func (s *ConfigSpace) Iterate() (*ConfigIterator, error) {
	return NewConfigIterator(s)
}

// LoadConfig rebuilds a configuration from its JSON object form, verifying
// that every parameter is present, every value lies in its domain, no extra
// keys appear, and all restrictions hold.
func (s *ConfigSpace) LoadConfig(data []byte) (Config, error) {
	var obj map[string]Value
	if err := json.Unmarshal(data, &obj); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	config := NewConfig()
	for _, p := range s.params {
		v, ok := obj[p.Name()]
		if !ok {
			return Config{}, fmt.Errorf("%w: missing parameter %q", ErrInvalidConfig, p.Name())
		}
		if !p.Contains(v) {
			return Config{}, fmt.Errorf("%w: value %s is not in the domain of %q", ErrInvalidConfig, v, p.Name())
		}
		config.Insert(p, v)
		delete(obj, p.Name())
	}
	for name := range obj {
		return Config{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, name)
	}

	ok, err := s.IsValid(config)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, fmt.Errorf("%w: configuration fails a restriction", ErrInvalidConfig)
	}
	return config, nil
}

// MarshalJSON renders the space as {"parameters": {...}, "restrictions": [...]}.
func (s *ConfigSpace) MarshalJSON() ([]byte, error) {
	params := make(map[string]any, len(s.params))
	for _, p := range s.params {
		params[p.Name()] = map[string]any{
			"type":    p.Type().Name(),
			"values":  p.Values(),
			"default": p.DefaultValue(),
		}
	}
	restrictions := make([]any, 0, len(s.restrictions))
	for _, r := range s.restrictions {
		restrictions = append(restrictions, r.jsonForm())
	}
	return json.Marshal(map[string]any{
		"parameters":   params,
		"restrictions": restrictions,
	})
}
