// Package predicate models the boolean expressions whose selectivity is
// estimated. It plays the part of the host engine's expression tree: every
// node can be classified, decomposed into operands and rendered as text.
package predicate

import (
	"math/bits"
	"strconv"
	"strings"
)

// Kind classifies an expression node.
type Kind int

const (
	KindOther Kind = iota
	KindConstant
	KindField
	KindEq
	KindIn
	KindMultiEq
	KindAnd
	KindOr
)

var kindNames = [...]string{
	KindOther:    "other",
	KindConstant: "constant",
	KindField:    "field",
	KindEq:       "equality",
	KindIn:       "in-list",
	KindMultiEq:  "multi-equality",
	KindAnd:      "conjunction",
	KindOr:       "disjunction",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// TableMap is a bitmap of the tables an expression references, one bit per
// table ordinal.
type TableMap uint64

// Lowest isolates the lowest set bit.
func (m TableMap) Lowest() TableMap {
	return m & -m
}

// Len returns the number of tables in the map.
func (m TableMap) Len() int {
	return bits.OnesCount64(uint64(m))
}

// Expr is a node of a boolean predicate.
type Expr interface {
	Kind() Kind
	// IsConstant reports whether the expression can be evaluated without
	// reading any row.
	IsConstant() bool
	// ConstantTruth is the value of a constant expression. It is only
	// meaningful when IsConstant returns true.
	ConstantTruth() bool
	Operands() []Expr
	String() string
	Tables() TableMap
}

// Bool is a TRUE or FALSE literal.
type Bool bool

func (b Bool) Kind() Kind          { return KindConstant }
func (b Bool) IsConstant() bool    { return true }
func (b Bool) ConstantTruth() bool { return bool(b) }
func (b Bool) Operands() []Expr    { return nil }
func (b Bool) Tables() TableMap    { return 0 }

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Literal is a constant value rendered as it appears in SQL, including any
// quotes: 'abc', 42, 1.5.
type Literal struct {
	Raw string
}

// String literal helper; the value is wrapped in single quotes.
func Str(s string) Literal {
	return Literal{Raw: "'" + s + "'"}
}

// Num literal helper.
func Num(n int64) Literal {
	return Literal{Raw: strconv.FormatInt(n, 10)}
}

func (l Literal) Kind() Kind       { return KindConstant }
func (l Literal) IsConstant() bool { return true }
func (l Literal) Operands() []Expr { return nil }
func (l Literal) String() string   { return l.Raw }
func (l Literal) Tables() TableMap { return 0 }

// ConstantTruth follows SQL's numeric coercion: a literal is true when it
// converts to a non-zero number.
func (l Literal) ConstantTruth() bool {
	f, err := strconv.ParseFloat(Unquote(l.Raw), 64)
	return err == nil && f != 0
}

// Unquote strips one pair of wrapping single or double quotes.
func Unquote(s string) string {
	if len(s) >= 2 {
		if q := s[0]; (q == '\'' || q == '"') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Field is a column reference. Ordinal is the position of the table in the
// query and selects its bit in TableMap.
type Field struct {
	Table   string
	Column  string
	Ordinal int
}

func (f Field) Kind() Kind          { return KindField }
func (f Field) IsConstant() bool    { return false }
func (f Field) ConstantTruth() bool { return false }
func (f Field) Operands() []Expr    { return nil }
func (f Field) Tables() TableMap    { return TableMap(1) << uint(f.Ordinal) }

func (f Field) String() string {
	if f.Table == "" {
		return f.Column
	}
	return f.Table + "." + f.Column
}

// Eq is left = right.
type Eq struct {
	Left, Right Expr
}

func (e Eq) Kind() Kind       { return KindEq }
func (e Eq) Operands() []Expr { return []Expr{e.Left, e.Right} }
func (e Eq) String() string   { return e.Left.String() + " = " + e.Right.String() }
func (e Eq) Tables() TableMap { return e.Left.Tables() | e.Right.Tables() }

func (e Eq) IsConstant() bool {
	return e.Left.IsConstant() && e.Right.IsConstant()
}

func (e Eq) ConstantTruth() bool {
	return constantEqual(e.Left, e.Right)
}

// In is Left IN (List...).
type In struct {
	Left Expr
	List []Expr
}

func (e In) Kind() Kind { return KindIn }

func (e In) Operands() []Expr {
	return append([]Expr{e.Left}, e.List...)
}

func (e In) String() string {
	return e.Left.String() + " in (" + join(e.List, ",") + ")"
}

func (e In) Tables() TableMap {
	return tablesOf(e.Operands())
}

func (e In) IsConstant() bool {
	return allConstant(e.Operands())
}

func (e In) ConstantTruth() bool {
	for _, item := range e.List {
		if constantEqual(e.Left, item) {
			return true
		}
	}
	return false
}

// MultiEq is an equivalence class of fields that must all be equal, the
// result of expanding chains like a = b AND b = c.
type MultiEq struct {
	Fields []Field
}

func (e MultiEq) Kind() Kind          { return KindMultiEq }
func (e MultiEq) IsConstant() bool    { return false }
func (e MultiEq) ConstantTruth() bool { return false }

func (e MultiEq) Operands() []Expr {
	ops := make([]Expr, len(e.Fields))
	for i, f := range e.Fields {
		ops[i] = f
	}
	return ops
}

func (e MultiEq) String() string {
	return "multiple equal(" + join(e.Operands(), ", ") + ")"
}

func (e MultiEq) Tables() TableMap {
	return tablesOf(e.Operands())
}

// And is a conjunction.
type And struct {
	Args []Expr
}

func (e And) Kind() Kind       { return KindAnd }
func (e And) Operands() []Expr { return e.Args }
func (e And) Tables() TableMap { return tablesOf(e.Args) }
func (e And) IsConstant() bool { return allConstant(e.Args) }

func (e And) String() string {
	return "(" + join(e.Args, " and ") + ")"
}

func (e And) ConstantTruth() bool {
	for _, a := range e.Args {
		if !a.ConstantTruth() {
			return false
		}
	}
	return true
}

// Or is a disjunction.
type Or struct {
	Args []Expr
}

func (e Or) Kind() Kind       { return KindOr }
func (e Or) Operands() []Expr { return e.Args }
func (e Or) Tables() TableMap { return tablesOf(e.Args) }
func (e Or) IsConstant() bool { return allConstant(e.Args) }

func (e Or) String() string {
	return "(" + join(e.Args, " or ") + ")"
}

func (e Or) ConstantTruth() bool {
	for _, a := range e.Args {
		if a.ConstantTruth() {
			return true
		}
	}
	return false
}

// Cmp is any comparison other than equality: <, <=, >, >=, !=, like.
type Cmp struct {
	Op          string
	Left, Right Expr
}

func (e Cmp) Kind() Kind          { return KindOther }
func (e Cmp) IsConstant() bool    { return false }
func (e Cmp) ConstantTruth() bool { return false }
func (e Cmp) Operands() []Expr    { return []Expr{e.Left, e.Right} }
func (e Cmp) String() string      { return e.Left.String() + " " + e.Op + " " + e.Right.String() }
func (e Cmp) Tables() TableMap    { return e.Left.Tables() | e.Right.Tables() }

// Opaque is an expression the estimator cannot look into, such as a
// function call. Text is its rendering; Refs the tables it touches.
type Opaque struct {
	Text string
	Refs TableMap
}

func (e Opaque) Kind() Kind          { return KindOther }
func (e Opaque) IsConstant() bool    { return false }
func (e Opaque) ConstantTruth() bool { return false }
func (e Opaque) Operands() []Expr    { return nil }
func (e Opaque) String() string      { return e.Text }
func (e Opaque) Tables() TableMap    { return e.Refs }

func constantEqual(a, b Expr) bool {
	if !a.IsConstant() || !b.IsConstant() {
		return false
	}
	x, y := Unquote(a.String()), Unquote(b.String())
	if x == y {
		return true
	}
	fx, errx := strconv.ParseFloat(x, 64)
	fy, erry := strconv.ParseFloat(y, 64)
	return errx == nil && erry == nil && fx == fy
}

func allConstant(exprs []Expr) bool {
	for _, e := range exprs {
		if !e.IsConstant() {
			return false
		}
	}
	return true
}

func tablesOf(exprs []Expr) TableMap {
	var m TableMap
	for _, e := range exprs {
		m |= e.Tables()
	}
	return m
}

func join(exprs []Expr, sep string) string {
	var sb strings.Builder
	for i, e := range exprs {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(e.String())
	}
	return sb.String()
}
