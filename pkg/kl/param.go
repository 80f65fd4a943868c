package kl

import "fmt"

// TunableParam is one axis of a configuration space: a name, a value type,
// an ordered non-empty domain, and a default. Parameters have reference
// identity: two handles are equal iff they point at the same record, even
// when their names collide.
type TunableParam struct {
	name         string
	typ          Type
	values       []Value
	defaultValue Value
}

func NewTunableParam(name string, typ Type, values []Value, defaultValue Value) (*TunableParam, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("kl: parameter %q has an empty value domain", name)
	}
	found := false
	for _, v := range values {
		if v == defaultValue {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("kl: default %s of parameter %q is not in its domain", defaultValue, name)
	}
	return &TunableParam{
		name:         name,
		typ:          typ,
		values:       values,
		defaultValue: defaultValue,
	}, nil
}

func (p *TunableParam) Name() string         { return p.name }
func (p *TunableParam) Type() Type           { return p.typ }
func (p *TunableParam) DefaultValue() Value  { return p.defaultValue }
func (p *TunableParam) Len() int             { return len(p.values) }

// Values returns the parameter's domain. Callers must not mutate it.
func (p *TunableParam) Values() []Value { return p.values }

func (p *TunableParam) At(i int) (Value, error) {
	if i < 0 || i >= len(p.values) {
		return Value{}, fmt.Errorf("kl: index %d out of range for parameter %q (%d values)", i, p.name, len(p.values))
	}
	return p.values[i], nil
}

// Contains reports whether v lies in the parameter's domain.
func (p *TunableParam) Contains(v Value) bool {
	for _, x := range p.values {
		if x == v {
			return true
		}
	}
	return false
}
