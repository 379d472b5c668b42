package sequencer

import (
	"fmt"
	"strconv"
	"strings"
)

type parser struct {
	src  string
	toks []token
	pos  int
}

// Parse parses one macro line into statements separated by ';'.
// A blank line or comment yields no statements.
func Parse(src string) ([]Stmt, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	stmts, err := p.stmts(tokEOF)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokEOF); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s, found %s", kind, describe(t))
	}
	return t, nil
}

func (p *parser) expectWord(word string) error {
	t := p.next()
	if t.kind != tokIdent || t.text != word {
		return p.errorf(t, "expected '%s', found %s", word, describe(t))
	}
	return nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func describe(t token) string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return fmt.Sprintf("%q", t.text)
}

// stmts parses a ';'-separated list up to (not including) end.
func (p *parser) stmts(end tokenKind) ([]Stmt, error) {
	var out []Stmt
	for {
		if p.peek().kind == end {
			return out, nil
		}
		st, err := p.stmt(end)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
		if p.peek().kind != tokSemi {
			return out, nil
		}
		p.next()
	}
}

func (p *parser) stmt(end tokenKind) (Stmt, error) {
	t := p.peek()
	if t.kind == tokIdent {
		switch {
		case t.text == "def":
			return p.def(end)
		case t.text == "for":
			return p.forLoop()
		case p.peekAt(1).kind == tokAssign:
			p.next()
			p.next()
			value, err := p.expr()
			if err != nil {
				return nil, err
			}
			return &AssignStmt{Name: t.text, Value: value}, nil
		}
	}

	x, err := p.expr()
	if err != nil {
		return nil, err
	}
	call, ok := x.(*CallExpr)
	if !ok {
		return nil, p.errorf(t, "expected a call or assignment")
	}
	return &CallStmt{Call: call}, nil
}

// def parses "def name(params) -> body". The body runs to end, so a def
// swallows the rest of its line or block.
func (p *parser) def(end tokenKind) (Stmt, error) {
	p.next()
	name, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if isKeyword(name.text) {
		return nil, p.errorf(name, "'%s' is reserved", name.text)
	}
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}

	var params []string
	seen := make(map[string]bool)
	for p.peek().kind != tokRParen {
		if len(params) > 0 {
			if _, err := p.expect(tokComma); err != nil {
				return nil, err
			}
		}
		param, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		if seen[param.text] {
			return nil, p.errorf(param, "duplicate parameter '%s'", param.text)
		}
		seen[param.text] = true
		params = append(params, param.text)
	}
	p.next()

	arrow, err := p.expect(tokArrow)
	if err != nil {
		return nil, err
	}
	body, err := p.stmts(end)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, p.errorf(p.peek(), "function '%s' has an empty body", name.text)
	}
	source := strings.TrimSpace(p.src[arrow.pos+2 : p.peek().pos])
	return &DefStmt{Name: name.text, Params: params, Body: body, Source: source}, nil
}

// forLoop parses "for x in range(a[, b[, step]]) { body }".
func (p *parser) forLoop() (Stmt, error) {
	p.next()
	v, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if err := p.expectWord("in"); err != nil {
		return nil, err
	}
	if err := p.expectWord("range"); err != nil {
		return nil, err
	}
	open, err := p.expect(tokLParen)
	if err != nil {
		return nil, err
	}
	args, err := p.args()
	if err != nil {
		return nil, err
	}
	if len(args) < 1 || len(args) > 3 {
		return nil, p.errorf(open, "range takes 1 to 3 arguments")
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	body, err := p.stmts(tokRBrace)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return &ForStmt{Var: v.text, Range: args, Body: body}, nil
}

// args parses a call's argument list after '(' through ')'.
func (p *parser) args() ([]Expr, error) {
	var out []Expr
	for p.peek().kind != tokRParen {
		if len(out) > 0 {
			if _, err := p.expect(tokComma); err != nil {
				return nil, err
			}
		}
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	p.next()
	return out, nil
}

func (p *parser) expr() (Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: t.text[0], Left: left, Right: right}
	}
}

func (p *parser) term() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return &StringLit{Value: t.text}, nil

	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "bad number %q", t.text)
		}
		return &NumberLit{Value: f}, nil

	case tokMinus:
		x, err := p.term()
		if err != nil {
			return nil, err
		}
		return &NegExpr{X: x}, nil

	case tokLParen:
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return x, nil

	case tokIdent:
		if isKeyword(t.text) {
			return nil, p.errorf(t, "unexpected '%s'", t.text)
		}
		if p.peek().kind != tokLParen {
			return &Ident{Name: t.text}, nil
		}
		p.next()
		args, err := p.args()
		if err != nil {
			return nil, err
		}
		return &CallExpr{Name: t.text, Args: args}, nil

	default:
		return nil, p.errorf(t, "unexpected %s", describe(t))
	}
}

func isKeyword(s string) bool {
	return s == "def" || s == "for" || s == "in"
}
