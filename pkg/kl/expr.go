package kl

import (
	"fmt"
	"strings"
)

// Expr is a pure expression over tunable parameters and literals. Evaluation
// never mutates state; every operand is always evaluated (there is no
// short-circuiting).
type Expr interface {
	Eval(cfg Config) (Value, error)
	String() string

	// jsonForm renders the canonical serializable shape used to persist
	// restrictions: parameters by name, literals as scalars, operators as
	// {"operator": ..., "operands": [...]}.
	jsonForm() any
}

// ParamExpr references a tunable parameter. ConfigSpace.Tune returns one so
// that restrictions and launch attributes can be written directly against
// the parameter.
type ParamExpr struct {
	param *TunableParam
}

func Param(p *TunableParam) ParamExpr {
	return ParamExpr{param: p}
}

func (e ParamExpr) Param() *TunableParam { return e.param }

func (e ParamExpr) Eval(cfg Config) (Value, error) {
	return cfg.At(e.param)
}

func (e ParamExpr) String() string {
	return "$" + e.param.Name()
}

func (e ParamExpr) jsonForm() any {
	return e.param.Name()
}

// LitExpr is a constant.
type LitExpr struct {
	value Value
}

func Lit(v any) LitExpr {
	return LitExpr{value: ValueOf(v)}
}

func (e LitExpr) Eval(Config) (Value, error) {
	return e.value, nil
}

func (e LitExpr) String() string {
	return e.value.String()
}

func (e LitExpr) jsonForm() any {
	return e.value
}

// toExpr coerces a native scalar, Value, or Expr into an Expr.
func toExpr(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Lit(v)
}

// UnaryExpr applies "!", "~", or "neg" to one operand.
type UnaryExpr struct {
	op      string
	operand Expr
}

func (e UnaryExpr) Eval(cfg Config) (Value, error) {
	v, err := e.operand.Eval(cfg)
	if err != nil {
		return Value{}, err
	}
	return applyUnary(e.op, v)
}

func (e UnaryExpr) String() string {
	sym := e.op
	if sym == "neg" {
		sym = "-"
	}
	return "(" + sym + e.operand.String() + ")"
}

func (e UnaryExpr) jsonForm() any {
	return map[string]any{"operator": e.op, "operands": []any{e.operand.jsonForm()}}
}

// BinaryExpr applies an arithmetic, bitwise, or relational operator.
type BinaryExpr struct {
	op          string
	left, right Expr
}

func (e BinaryExpr) Eval(cfg Config) (Value, error) {
	l, err := e.left.Eval(cfg)
	if err != nil {
		return Value{}, err
	}
	r, err := e.right.Eval(cfg)
	if err != nil {
		return Value{}, err
	}
	return applyBinary(e.op, l, r)
}

func (e BinaryExpr) String() string {
	return "(" + e.left.String() + e.op + e.right.String() + ")"
}

func (e BinaryExpr) jsonForm() any {
	return map[string]any{
		"operator": e.op,
		"operands": []any{e.left.jsonForm(), e.right.jsonForm()},
	}
}

// CondExpr is the ternary conditional. Both branches are evaluated before the
// condition picks one.
type CondExpr struct {
	cond, then, els Expr
}

func (e CondExpr) Eval(cfg Config) (Value, error) {
	c, err := e.cond.Eval(cfg)
	if err != nil {
		return Value{}, err
	}
	cond, err := c.ToBool()
	if err != nil {
		return Value{}, err
	}
	t, err := e.then.Eval(cfg)
	if err != nil {
		return Value{}, err
	}
	f, err := e.els.Eval(cfg)
	if err != nil {
		return Value{}, err
	}
	if cond {
		return t, nil
	}
	return f, nil
}

func (e CondExpr) String() string {
	return "(" + e.cond.String() + " ? " + e.then.String() + " : " + e.els.String() + ")"
}

func (e CondExpr) jsonForm() any {
	return map[string]any{
		"operator": "?:",
		"operands": []any{e.cond.jsonForm(), e.then.jsonForm(), e.els.jsonForm()},
	}
}

// CastExpr narrows its operand to a target type, failing when the value does
// not fit.
type CastExpr struct {
	target  Type
	operand Expr
}

func (e CastExpr) Eval(cfg Config) (Value, error) {
	v, err := e.operand.Eval(cfg)
	if err != nil {
		return Value{}, err
	}
	return castValue(v, e.target)
}

func (e CastExpr) String() string {
	return e.operand.String()
}

func (e CastExpr) jsonForm() any {
	return map[string]any{
		"operator": "cast",
		"type":     e.target.Name(),
		"operands": []any{e.operand.jsonForm()},
	}
}

// SelectExpr indexes a fixed list of alternatives with a computed index.
type SelectExpr struct {
	options []Expr
	index   Expr
}

func (e SelectExpr) Eval(cfg Config) (Value, error) {
	iv, err := e.index.Eval(cfg)
	if err != nil {
		return Value{}, err
	}
	i, err := iv.ToInt64()
	if err != nil {
		return Value{}, err
	}
	if i < 0 || i >= int64(len(e.options)) {
		return Value{}, fmt.Errorf("%w: select index %d out of range (%d options)", ErrArithmetic, i, len(e.options))
	}
	return e.options[i].Eval(cfg)
}

func (e SelectExpr) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, opt := range e.options {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(opt.String())
	}
	sb.WriteString("}[")
	sb.WriteString(e.index.String())
	sb.WriteString("]")
	return sb.String()
}

func (e SelectExpr) jsonForm() any {
	operands := make([]any, 0, len(e.options)+1)
	operands = append(operands, e.index.jsonForm())
	for _, opt := range e.options {
		operands = append(operands, opt.jsonForm())
	}
	return map[string]any{"operator": "select", "operands": operands}
}

// Expression constructors. Arguments may be Exprs, Values, or native scalars.

func Add(l, r any) Expr { return BinaryExpr{op: "+", left: toExpr(l), right: toExpr(r)} }
func Sub(l, r any) Expr { return BinaryExpr{op: "-", left: toExpr(l), right: toExpr(r)} }
func Mul(l, r any) Expr { return BinaryExpr{op: "*", left: toExpr(l), right: toExpr(r)} }
func Div(l, r any) Expr { return BinaryExpr{op: "/", left: toExpr(l), right: toExpr(r)} }
func Rem(l, r any) Expr { return BinaryExpr{op: "%", left: toExpr(l), right: toExpr(r)} }

func BitOr(l, r any) Expr  { return BinaryExpr{op: "|", left: toExpr(l), right: toExpr(r)} }
func BitAnd(l, r any) Expr { return BinaryExpr{op: "&", left: toExpr(l), right: toExpr(r)} }
func BitXor(l, r any) Expr { return BinaryExpr{op: "^", left: toExpr(l), right: toExpr(r)} }

func Eq(l, r any) Expr { return BinaryExpr{op: "==", left: toExpr(l), right: toExpr(r)} }
func Ne(l, r any) Expr { return BinaryExpr{op: "!=", left: toExpr(l), right: toExpr(r)} }
func Lt(l, r any) Expr { return BinaryExpr{op: "<", left: toExpr(l), right: toExpr(r)} }
func Gt(l, r any) Expr { return BinaryExpr{op: ">", left: toExpr(l), right: toExpr(r)} }
func Le(l, r any) Expr { return BinaryExpr{op: "<=", left: toExpr(l), right: toExpr(r)} }
func Ge(l, r any) Expr { return BinaryExpr{op: ">=", left: toExpr(l), right: toExpr(r)} }

// And and Or are the non-short-circuiting logical connectives; they evaluate
// both sides and combine booleans.
func And(l, r any) Expr { return BinaryExpr{op: "&", left: toExpr(l), right: toExpr(r)} }
func Or(l, r any) Expr  { return BinaryExpr{op: "|", left: toExpr(l), right: toExpr(r)} }

func Not(e any) Expr    { return UnaryExpr{op: "!", operand: toExpr(e)} }
func BitNot(e any) Expr { return UnaryExpr{op: "~", operand: toExpr(e)} }
func Neg(e any) Expr    { return UnaryExpr{op: "neg", operand: toExpr(e)} }

func IfElse(cond, then, els any) Expr {
	return CondExpr{cond: toExpr(cond), then: toExpr(then), els: toExpr(els)}
}

func Cast(target Type, e any) Expr {
	return CastExpr{target: target, operand: toExpr(e)}
}

// Select builds an expression that picks options[index].
func Select(index any, options ...any) Expr {
	opts := make([]Expr, len(options))
	for i, o := range options {
		opts[i] = toExpr(o)
	}
	return SelectExpr{options: opts, index: toExpr(index)}
}

// DivCeil is (l / r) + (l % r != 0), the rounded-up division used to derive
// grid sizes from problem sizes.
func DivCeil(l, r any) Expr {
	le, re := toExpr(l), toExpr(r)
	return Add(Div(le, re), IfElse(Ne(Rem(le, re), 0), 1, 0))
}

// numeric promotion for mixed-kind operands: booleans widen to integers,
// integers widen to floats when paired with a float.
func promotePair(l, r Value) (Value, Value, error) {
	widen := func(v Value) Value {
		if v.kind == KindBool {
			if v.b {
				return IntValue(1)
			}
			return IntValue(0)
		}
		return v
	}
	l, r = widen(l), widen(r)

	if l.kind == r.kind {
		return l, r, nil
	}
	if l.kind == KindInt && r.kind == KindFloat {
		return FloatValue(float64(l.i)), r, nil
	}
	if l.kind == KindFloat && r.kind == KindInt {
		return l, FloatValue(float64(r.i)), nil
	}
	return Value{}, Value{}, fmt.Errorf("%w: operands %s and %s have incompatible kinds", ErrCast, l, r)
}

func applyBinary(op string, l, r Value) (Value, error) {
	switch op {
	case "==":
		eq, err := valuesEqual(l, r)
		return BoolValue(eq), err
	case "!=":
		eq, err := valuesEqual(l, r)
		return BoolValue(!eq), err
	case "<", ">", "<=", ">=":
		return compareValues(op, l, r)
	}

	// Booleans combine logically under & | ^.
	if l.kind == KindBool && r.kind == KindBool {
		switch op {
		case "&":
			return BoolValue(l.b && r.b), nil
		case "|":
			return BoolValue(l.b || r.b), nil
		case "^":
			return BoolValue(l.b != r.b), nil
		}
	}

	pl, pr, err := promotePair(l, r)
	if err != nil {
		return Value{}, err
	}

	if pl.kind == KindFloat {
		switch op {
		case "+":
			return FloatValue(pl.f + pr.f), nil
		case "-":
			return FloatValue(pl.f - pr.f), nil
		case "*":
			return FloatValue(pl.f * pr.f), nil
		case "/":
			if pr.f == 0 {
				return Value{}, fmt.Errorf("%w: division by zero", ErrArithmetic)
			}
			return FloatValue(pl.f / pr.f), nil
		default:
			return Value{}, fmt.Errorf("%w: operator %q is not defined for floats", ErrCast, op)
		}
	}

	if pl.kind != KindInt {
		return Value{}, fmt.Errorf("%w: operator %q is not defined for %s values", ErrCast, op, pl.kind)
	}

	switch op {
	case "+":
		return IntValue(pl.i + pr.i), nil
	case "-":
		return IntValue(pl.i - pr.i), nil
	case "*":
		return IntValue(pl.i * pr.i), nil
	case "/":
		if pr.i == 0 {
			return Value{}, fmt.Errorf("%w: division by zero", ErrArithmetic)
		}
		return IntValue(pl.i / pr.i), nil
	case "%":
		if pr.i == 0 {
			return Value{}, fmt.Errorf("%w: modulo by zero", ErrArithmetic)
		}
		return IntValue(pl.i % pr.i), nil
	case "|":
		return IntValue(pl.i | pr.i), nil
	case "&":
		return IntValue(pl.i & pr.i), nil
	case "^":
		return IntValue(pl.i ^ pr.i), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown operator %q", ErrCast, op)
	}
}

func valuesEqual(l, r Value) (bool, error) {
	if l.kind == r.kind {
		return l == r, nil
	}
	pl, pr, err := promotePair(l, r)
	if err != nil {
		// Values of incomparable kinds are simply unequal.
		return false, nil
	}
	return pl == pr, nil
}

func compareValues(op string, l, r Value) (Value, error) {
	var less, eq bool
	if l.kind == KindString && r.kind == KindString {
		less, eq = *l.s < *r.s, l.s == r.s
	} else {
		pl, pr, err := promotePair(l, r)
		if err != nil {
			return Value{}, err
		}
		less, eq = pl.Less(pr), pl == pr
	}

	switch op {
	case "<":
		return BoolValue(less), nil
	case ">":
		return BoolValue(!less && !eq), nil
	case "<=":
		return BoolValue(less || eq), nil
	case ">=":
		return BoolValue(!less), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown comparison %q", ErrCast, op)
	}
}

func applyUnary(op string, v Value) (Value, error) {
	switch op {
	case "!":
		b, err := v.ToBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(!b), nil
	case "~":
		if v.kind != KindInt {
			return Value{}, fmt.Errorf("%w: operator ~ requires an integer, got %s", ErrCast, v.kind)
		}
		return IntValue(^v.i), nil
	case "neg":
		switch v.kind {
		case KindInt:
			return IntValue(-v.i), nil
		case KindFloat:
			return FloatValue(-v.f), nil
		}
		return Value{}, fmt.Errorf("%w: operator - requires a number, got %s", ErrCast, v.kind)
	default:
		return Value{}, fmt.Errorf("%w: unknown operator %q", ErrCast, op)
	}
}

// castValue narrows v to the C type named by target, failing when the value
// does not fit losslessly.
func castValue(v Value, target Type) (Value, error) {
	switch target.Name() {
	case "bool":
		b, err := v.ToBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case "char", "signed char":
		i, err := v.ToInt8()
		if err != nil {
			return Value{}, err
		}
		return IntValue(i), nil
	case "unsigned char":
		i, err := v.ToUint8()
		if err != nil {
			return Value{}, err
		}
		return UintValue(i), nil
	case "short":
		i, err := v.ToInt16()
		if err != nil {
			return Value{}, err
		}
		return IntValue(i), nil
	case "unsigned short":
		i, err := v.ToUint16()
		if err != nil {
			return Value{}, err
		}
		return UintValue(i), nil
	case "int":
		i, err := v.ToInt32()
		if err != nil {
			return Value{}, err
		}
		return IntValue(i), nil
	case "unsigned int":
		i, err := v.ToUint32()
		if err != nil {
			return Value{}, err
		}
		return UintValue(i), nil
	case "long", "long long", "int64":
		i, err := v.ToInt64()
		if err != nil {
			return Value{}, err
		}
		return IntValue(i), nil
	case "unsigned long", "unsigned long long", "uint64":
		i, err := v.ToUint64()
		if err != nil {
			return Value{}, err
		}
		return UintValue(i), nil
	case "float", "double":
		f, err := v.ToFloat64()
		if err != nil {
			return Value{}, err
		}
		return FloatValue(f), nil
	case "string", "const char*":
		return StringValue(v.String()), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported cast target %q", ErrCast, target.Name())
	}
}
