package sequencer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Stmt is a macro statement.
type Stmt interface{ stmtNode() }

// Expr is a macro expression.
type Expr interface{ exprNode() }

// DefStmt declares (or replaces) a user function.
type DefStmt struct {
	Name   string
	Params []string
	Body   []Stmt
	Source string
}

// AssignStmt sets a global variable.
type AssignStmt struct {
	Name  string
	Value Expr
}

// CallStmt runs a call for its side effects.
type CallStmt struct {
	Call *CallExpr
}

// ForStmt runs Body once per value of range(Range...).
type ForStmt struct {
	Var   string
	Range []Expr
	Body  []Stmt
}

func (*DefStmt) stmtNode()    {}
func (*AssignStmt) stmtNode() {}
func (*CallStmt) stmtNode()   {}
func (*ForStmt) stmtNode()    {}

// StringLit is a quoted string.
type StringLit struct{ Value string }

// NumberLit is a numeric literal.
type NumberLit struct{ Value float64 }

// Ident reads a parameter or global.
type Ident struct{ Name string }

// NegExpr is unary minus.
type NegExpr struct{ X Expr }

// BinaryExpr is a + or - expression.
type BinaryExpr struct {
	Op          byte
	Left, Right Expr
}

// CallExpr calls a builtin or user function.
type CallExpr struct {
	Name string
	Args []Expr
}

func (*StringLit) exprNode()  {}
func (*NumberLit) exprNode()  {}
func (*Ident) exprNode()      {}
func (*NegExpr) exprNode()    {}
func (*BinaryExpr) exprNode() {}
func (*CallExpr) exprNode()   {}

type valueKind uint8

const (
	kindNone valueKind = iota
	kindString
	kindNumber
)

// Value is a runtime value: a string, a number, or nothing.
type Value struct {
	kind valueKind
	str  string
	num  float64
}

// None is the result of calls that produce nothing.
var None = Value{}

// Str returns a string value.
func Str(s string) Value { return Value{kind: kindString, str: s} }

// Num returns a numeric value.
func Num(f float64) Value { return Value{kind: kindNumber, num: f} }

// IsString reports whether v holds a string.
func (v Value) IsString() bool { return v.kind == kindString }

// String formats v. Whole numbers print without a fraction.
func (v Value) String() string {
	switch v.kind {
	case kindString:
		return v.str
	case kindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	default:
		return "None"
	}
}

// Number converts v to a float, parsing strings.
func (v Value) Number() (float64, error) {
	switch v.kind {
	case kindNumber:
		return v.num, nil
	case kindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrBadArguments, v.str)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: None is not a number", ErrBadArguments)
	}
}

// Int converts v to an integer, truncating fractions.
func (v Value) Int() (int, error) {
	f, err := v.Number()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
