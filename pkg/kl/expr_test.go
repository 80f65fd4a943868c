package kl

import (
	"errors"
	"testing"
)

func exprSpace(t *testing.T) (*ConfigSpace, ParamExpr, ParamExpr, Config) {
	t.Helper()

	space := NewConfigSpace()
	foo, err := space.Tune("foo", TypeInt32, Ints(1, 2, 3))
	if err != nil {
		t.Fatalf("tune foo: %v", err)
	}
	bar, err := space.Tune("bar", TypeInt32, Ints(4, 5, 6))
	if err != nil {
		t.Fatalf("tune bar: %v", err)
	}

	config := NewConfig()
	config.Insert(foo.Param(), IntValue(2))
	config.Insert(bar.Param(), IntValue(5))
	return space, foo, bar, config
}

func evalOrFail(t *testing.T, e Expr, cfg Config) Value {
	t.Helper()
	v, err := e.Eval(cfg)
	if err != nil {
		t.Fatalf("eval %s: %v", e, err)
	}
	return v
}

func TestExprArithmetic(t *testing.T) {
	t.Parallel()
	_, foo, bar, cfg := exprSpace(t)

	if v := evalOrFail(t, Add(foo, Mul(2, bar)), cfg); v != IntValue(12) {
		t.Fatalf("foo + 2*bar = %v, want 12", v)
	}
	if v := evalOrFail(t, Sub(bar, foo), cfg); v != IntValue(3) {
		t.Fatalf("bar - foo = %v, want 3", v)
	}
	if v := evalOrFail(t, Rem(bar, foo), cfg); v != IntValue(1) {
		t.Fatalf("bar %% foo = %v, want 1", v)
	}
	if v := evalOrFail(t, Neg(foo), cfg); v != IntValue(-2) {
		t.Fatalf("-foo = %v, want -2", v)
	}
	if v := evalOrFail(t, Mul(FloatValue(0.5), bar), cfg); v != FloatValue(2.5) {
		t.Fatalf("0.5 * bar = %v, want 2.5", v)
	}
}

func TestExprDivisionByZero(t *testing.T) {
	t.Parallel()
	_, foo, _, cfg := exprSpace(t)

	if _, err := Div(foo, 0).Eval(cfg); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("division by zero should fail with ErrArithmetic, got %v", err)
	}
	if _, err := Rem(foo, 0).Eval(cfg); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("modulo by zero should fail with ErrArithmetic, got %v", err)
	}
}

func TestExprRelationalAndLogical(t *testing.T) {
	t.Parallel()
	_, foo, bar, cfg := exprSpace(t)

	if v := evalOrFail(t, Le(foo, bar), cfg); v != BoolValue(true) {
		t.Fatalf("foo <= bar = %v", v)
	}
	if v := evalOrFail(t, Gt(foo, bar), cfg); v != BoolValue(false) {
		t.Fatalf("foo > bar = %v", v)
	}
	if v := evalOrFail(t, Eq(foo, 2), cfg); v != BoolValue(true) {
		t.Fatalf("foo == 2 = %v", v)
	}
	if v := evalOrFail(t, And(Le(foo, bar), Not(Eq(foo, bar))), cfg); v != BoolValue(true) {
		t.Fatalf("logical combination = %v", v)
	}
	if v := evalOrFail(t, BitXor(foo, bar), cfg); v != IntValue(7) {
		t.Fatalf("foo ^ bar = %v, want 7", v)
	}
}

func TestExprTernaryAndSelect(t *testing.T) {
	t.Parallel()
	_, foo, bar, cfg := exprSpace(t)

	if v := evalOrFail(t, IfElse(Lt(foo, bar), "low", "high"), cfg); v != StringValue("low") {
		t.Fatalf("ternary = %v", v)
	}
	if v := evalOrFail(t, Select(Sub(foo, 1), 10, 20, 30), cfg); v != IntValue(20) {
		t.Fatalf("select = %v", v)
	}
	if _, err := Select(bar, 10, 20).Eval(cfg); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("out-of-range select should fail, got %v", err)
	}
}

func TestExprCast(t *testing.T) {
	t.Parallel()
	_, foo, bar, cfg := exprSpace(t)

	if v := evalOrFail(t, Cast(TypeUint32, Mul(foo, bar)), cfg); v != IntValue(10) {
		t.Fatalf("cast result = %v", v)
	}
	if _, err := Cast(TypeOf("unsigned char"), Mul(bar, 100)).Eval(cfg); !errors.Is(err, ErrCast) {
		t.Fatalf("500 does not fit unsigned char, got %v", err)
	}
	if _, err := Cast(TypeUint32, Neg(foo)).Eval(cfg); !errors.Is(err, ErrCast) {
		t.Fatalf("negative does not fit unsigned, got %v", err)
	}
}

func TestExprString(t *testing.T) {
	t.Parallel()
	_, foo, bar, _ := exprSpace(t)

	if s := Add(foo, Mul(2, bar)).String(); s != "($foo+(2*$bar))" {
		t.Fatalf("debug rendering = %q", s)
	}
	if s := IfElse(Lt(foo, 2), foo, bar).String(); s != "(($foo<2) ? $foo : $bar)" {
		t.Fatalf("ternary rendering = %q", s)
	}
	if s := Not(Eq(foo, bar)).String(); s != "(!($foo==$bar))" {
		t.Fatalf("not rendering = %q", s)
	}
}

func TestExprMissingParam(t *testing.T) {
	t.Parallel()
	_, foo, _, _ := exprSpace(t)

	empty := NewConfig()
	if _, err := Add(foo, 1).Eval(empty); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unbound parameter should fail with ErrInvalidConfig, got %v", err)
	}
}

func TestDivCeil(t *testing.T) {
	t.Parallel()
	_, foo, bar, cfg := exprSpace(t)

	// foo=2, bar=5: ceil(5/2) == 3.
	if v := evalOrFail(t, DivCeil(bar, foo), cfg); v != IntValue(3) {
		t.Fatalf("div_ceil(5,2) = %v, want 3", v)
	}
	if v := evalOrFail(t, DivCeil(4, 2), cfg); v != IntValue(2) {
		t.Fatalf("div_ceil(4,2) = %v, want 2", v)
	}
}
