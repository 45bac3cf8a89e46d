package expr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBudgetExceeded indicates evaluation hit the step budget. The budget
// keeps expressions total even on adversarial inputs.
var ErrBudgetExceeded = errors.New("expression evaluation budget exceeded")

// maxEvalSteps bounds tree-walk steps per Eval call. The tree is finite so
// this only trips on pathological container sizes; it keeps the CPU budget
// well under the 10ms contract.
const maxEvalSteps = 100_000

// Env resolves root identifiers to values. Allowed roots are inputs, vars,
// globals, node, and loop-scoped bindings such as item.
type Env interface {
	Root(name string) (any, bool)
}

// MapEnv is an Env backed by a plain map.
type MapEnv map[string]any

// Root implements Env.
func (m MapEnv) Root(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

type evaluator struct {
	env   Env
	steps int
}

func (ev *evaluator) step() error {
	ev.steps++
	if ev.steps > maxEvalSteps {
		return ErrBudgetExceeded
	}
	return nil
}

// Eval evaluates the expression against the environment. Missing path tails
// resolve to null; an unknown root is an error.
func (e *Expr) Eval(env Env) (any, error) {
	ev := &evaluator{env: env}
	return ev.eval(e.root)
}

// EvalBool evaluates the expression and coerces the result to a boolean:
// null and zero values are false, everything else is true.
func (e *Expr) EvalBool(env Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy reports the boolean coercion of a value.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func (ev *evaluator) eval(n node) (any, error) {
	if err := ev.step(); err != nil {
		return nil, err
	}

	switch t := n.(type) {
	case numberLit:
		return t.val, nil
	case stringLit:
		return t.val, nil
	case boolLit:
		return t.val, nil
	case nullLit:
		return nil, nil
	case pathRef:
		return ev.resolvePath(t)
	case unaryOp:
		return ev.evalUnary(t)
	case binaryOp:
		return ev.evalBinary(t)
	case call:
		return ev.evalCall(t)
	}
	return nil, fmt.Errorf("unknown expression node %T", n)
}

func (ev *evaluator) resolvePath(p pathRef) (any, error) {
	root := p.segments[0].field
	cur, ok := ev.env.Root(root)
	if !ok {
		return nil, fmt.Errorf("unknown reference %q", root)
	}

	for _, seg := range p.segments[1:] {
		if err := ev.step(); err != nil {
			return nil, err
		}
		switch {
		case seg.index != nil:
			list, ok := cur.([]any)
			if !ok {
				return nil, nil
			}
			if *seg.index < 0 || *seg.index >= len(list) {
				return nil, nil
			}
			cur = list[*seg.index]

		default:
			key := seg.field
			if seg.key != nil {
				key = *seg.key
			}
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, nil
			}
			cur = m[key]
		}
	}
	return cur, nil
}

func (ev *evaluator) evalUnary(u unaryOp) (any, error) {
	v, err := ev.eval(u.operand)
	if err != nil {
		return nil, err
	}
	switch u.op {
	case "!":
		return !Truthy(v), nil
	case "-":
		num, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", v)
		}
		return -num, nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", u.op)
}

func (ev *evaluator) evalBinary(b binaryOp) (any, error) {
	// short-circuit boolean connectives
	switch b.op {
	case "&&":
		left, err := ev.eval(b.left)
		if err != nil {
			return nil, err
		}
		if !Truthy(left) {
			return false, nil
		}
		right, err := ev.eval(b.right)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case "||":
		left, err := ev.eval(b.left)
		if err != nil {
			return nil, err
		}
		if Truthy(left) {
			return true, nil
		}
		right, err := ev.eval(b.right)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	left, err := ev.eval(b.left)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(b.right)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(b.op, left, right)
	case "+", "-", "*", "/", "%":
		return arith(b.op, left, right)
	}
	return nil, fmt.Errorf("unknown operator %q", b.op)
}

func (ev *evaluator) evalCall(c call) (any, error) {
	args := make([]any, len(c.args))
	for i, a := range c.args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch c.fn {
	case "len":
		switch t := args[0].(type) {
		case string:
			return float64(len(t)), nil
		case []any:
			return float64(len(t)), nil
		case map[string]any:
			return float64(len(t)), nil
		case nil:
			return float64(0), nil
		}
		return nil, fmt.Errorf("len: unsupported type %T", args[0])

	case "is_null":
		return args[0] == nil, nil

	case "contains":
		switch t := args[0].(type) {
		case string:
			needle, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("contains: needle must be a string")
			}
			return strings.Contains(t, needle), nil
		case []any:
			for _, e := range t {
				if equal(e, args[1]) {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, fmt.Errorf("contains: unsupported type %T", args[0])
	}
	return nil, fmt.Errorf("unknown function %q", c.fn)
}

func equal(a, b any) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}

func compare(op string, a, b any) (any, error) {
	if an, aok := toNumber(a); aok {
		bn, bok := toNumber(b)
		if !bok {
			return nil, fmt.Errorf("cannot compare number with %T", b)
		}
		switch op {
		case "<":
			return an < bn, nil
		case "<=":
			return an <= bn, nil
		case ">":
			return an > bn, nil
		case ">=":
			return an >= bn, nil
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case "<":
			return as < bs, nil
		case "<=":
			return as <= bs, nil
		case ">":
			return as > bs, nil
		case ">=":
			return as >= bs, nil
		}
	}
	return nil, fmt.Errorf("cannot order %T and %T", a, b)
}

func arith(op string, a, b any) (any, error) {
	if op == "+" {
		// string concatenation
		if as, ok := a.(string); ok {
			if bs, ok := b.(string); ok {
				return as + bs, nil
			}
		}
	}
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if !aok || !bok {
		return nil, fmt.Errorf("arithmetic on non-numbers %T and %T", a, b)
	}
	switch op {
	case "+":
		return an + bn, nil
	case "-":
		return an - bn, nil
	case "*":
		return an * bn, nil
	case "/":
		if bn == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return an / bn, nil
	case "%":
		if bn == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return float64(int64(an) % int64(bn)), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	}
	return 0, false
}
