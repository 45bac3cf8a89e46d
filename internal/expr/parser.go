// Package expr implements the workflow expression sublanguage: a safe,
// total, side-effect-free boolean/arithmetic language over the run context.
// The grammar is closed by design; evaluation is deterministic and bounded.
package expr

import (
	"fmt"
	"strconv"
)

// Expr is a parsed expression tree.
type Expr struct {
	root node
	src  string
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.src }

type node interface{}

type (
	numberLit struct{ val float64 }
	stringLit struct{ val string }
	boolLit   struct{ val bool }
	nullLit   struct{}

	// pathRef is a reference like inputs.user.email, vars.count,
	// node[a1].outputs.id, or items[0].
	pathRef struct {
		segments []pathSeg
	}

	unaryOp struct {
		op      string // "!" or "-"
		operand node
	}

	binaryOp struct {
		op          string
		left, right node
	}

	call struct {
		fn   string
		args []node
	}
)

// pathSeg is one step of a path: a field name or a literal index.
type pathSeg struct {
	field string
	index *int // non-nil for [N]
	key   *string
}

type parser struct {
	lex  *lexer
	cur  token
	peek *token
}

// Parse parses an expression. Parse errors are reported with byte offsets.
func Parse(input string) (*Expr, error) {
	p := &parser{lex: &lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", p.cur.text, p.cur.pos)
	}
	return &Expr{root: root, src: input}, nil
}

func (p *parser) advance() error {
	if p.peek != nil {
		p.cur = *p.peek
		p.peek = nil
		return nil
	}
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOp && p.cur.text == "||" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryOp{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOp && p.cur.text == "&&" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binaryOp{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokOp {
		switch p.cur.text {
		case "==", "!=", "<", "<=", ">", ">=":
			op := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return binaryOp{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOp && (p.cur.text == "+" || p.cur.text == "-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binaryOp{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOp && (p.cur.text == "*" || p.cur.text == "/" || p.cur.text == "%") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryOp{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.cur.kind == tokOp && (p.cur.text == "!" || p.cur.text == "-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryOp{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

// builtins maps function names to their arity.
var builtins = map[string]int{
	"len":      1,
	"is_null":  1,
	"contains": 2,
}

func (p *parser) parsePrimary() (node, error) {
	switch p.cur.kind {
	case tokNumber:
		val, err := strconv.ParseFloat(p.cur.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", p.cur.text, p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return numberLit{val: val}, nil

	case tokString:
		val := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return stringLit{val: val}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch name {
		case "true":
			return boolLit{val: true}, nil
		case "false":
			return boolLit{val: false}, nil
		case "null":
			return nullLit{}, nil
		}
		if arity, ok := builtins[name]; ok && p.cur.kind == tokLParen {
			return p.parseCall(name, arity)
		}
		return p.parsePath(name)
	}

	return nil, fmt.Errorf("unexpected %q at %d", p.cur.text, p.cur.pos)
}

func (p *parser) parseCall(fn string, arity int) (node, error) {
	if err := p.advance(); err != nil { // consume (
		return nil, err
	}
	var args []node
	for p.cur.kind != tokRParen {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.advance(); err != nil { // consume )
		return nil, err
	}
	if len(args) != arity {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", fn, arity, len(args))
	}
	return call{fn: fn, args: args}, nil
}

func (p *parser) parsePath(first string) (node, error) {
	segs := []pathSeg{{field: first}}
	for {
		switch {
		case p.cur.kind == tokDot:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tokIdent {
				return nil, fmt.Errorf("expected field name at %d", p.cur.pos)
			}
			segs = append(segs, pathSeg{field: p.cur.text})
			if err := p.advance(); err != nil {
				return nil, err
			}

		case p.cur.kind == tokLBracket:
			if err := p.advance(); err != nil {
				return nil, err
			}
			switch p.cur.kind {
			case tokNumber:
				idx, err := strconv.Atoi(p.cur.text)
				if err != nil {
					return nil, fmt.Errorf("invalid index %q at %d", p.cur.text, p.cur.pos)
				}
				segs = append(segs, pathSeg{index: &idx})
			case tokString, tokIdent:
				key := p.cur.text
				segs = append(segs, pathSeg{key: &key})
			default:
				return nil, fmt.Errorf("expected index or key at %d", p.cur.pos)
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tokRBracket {
				return nil, fmt.Errorf("expected ] at %d", p.cur.pos)
			}
			if err := p.advance(); err != nil {
				return nil, err
			}

		default:
			return pathRef{segments: segs}, nil
		}
	}
}

// Roots returns the root identifiers referenced by the expression, used by
// validation to restrict references to the allowed namespaces.
func (e *Expr) Roots() []string {
	seen := map[string]bool{}
	var out []string
	var walk func(n node)
	walk = func(n node) {
		switch t := n.(type) {
		case pathRef:
			if len(t.segments) > 0 && !seen[t.segments[0].field] {
				seen[t.segments[0].field] = true
				out = append(out, t.segments[0].field)
			}
		case unaryOp:
			walk(t.operand)
		case binaryOp:
			walk(t.left)
			walk(t.right)
		case call:
			for _, a := range t.args {
				walk(a)
			}
		}
	}
	walk(e.root)
	return out
}

// NodeRefs returns the node ids referenced via node[<id>] paths, used by
// validation to verify they exist in the graph.
func (e *Expr) NodeRefs() []string {
	seen := map[string]bool{}
	var out []string
	var walk func(n node)
	walk = func(n node) {
		switch t := n.(type) {
		case pathRef:
			if len(t.segments) >= 2 && t.segments[0].field == "node" {
				seg := t.segments[1]
				id := seg.field
				if seg.key != nil {
					id = *seg.key
				}
				if id != "" && !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		case unaryOp:
			walk(t.operand)
		case binaryOp:
			walk(t.left)
			walk(t.right)
		case call:
			for _, a := range t.args {
				walk(a)
			}
		}
	}
	walk(e.root)
	return out
}
