package predicate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendering(t *testing.T) {
	a := Field{Table: "t1", Column: "a"}
	b := Field{Table: "t2", Column: "b", Ordinal: 1}
	c := Field{Table: "t3", Column: "c", Ordinal: 2}

	require.Equal(t, "t1.a = t2.b", Eq{Left: a, Right: b}.String())
	require.Equal(t, "t1.a in ('x','y')", In{Left: a, List: []Expr{Str("x"), Str("y")}}.String())
	require.Equal(t, "multiple equal(t1.a, t2.b, t3.c)", MultiEq{Fields: []Field{a, b, c}}.String())
	require.Equal(t, "(t1.a = 1 and t2.b < 3)",
		And{Args: []Expr{Eq{Left: a, Right: Num(1)}, Cmp{Op: "<", Left: b, Right: Num(3)}}}.String())
	require.Equal(t, "x", Field{Column: "x"}.String())
}

func TestTables(t *testing.T) {
	a := Field{Table: "t1", Column: "a"}
	c := Field{Table: "t3", Column: "c", Ordinal: 2}
	m := Eq{Left: c, Right: a}.Tables()
	require.Equal(t, TableMap(0b101), m)
	require.Equal(t, TableMap(0b001), m.Lowest())
	require.Equal(t, 2, m.Len())
	require.Equal(t, TableMap(0), Eq{Left: Num(1), Right: Num(2)}.Tables())
}

func TestConstantFolding(t *testing.T) {
	require.True(t, Bool(true).IsConstant())
	require.True(t, Bool(true).ConstantTruth())
	require.False(t, Bool(false).ConstantTruth())

	require.True(t, Literal{Raw: "1"}.ConstantTruth())
	require.False(t, Literal{Raw: "0"}.ConstantTruth())
	require.False(t, Str("abc").ConstantTruth())

	eq := Eq{Left: Num(1), Right: Literal{Raw: "1.0"}}
	require.True(t, eq.IsConstant())
	require.True(t, eq.ConstantTruth())
	require.False(t, Eq{Left: Str("a"), Right: Str("b")}.ConstantTruth())

	in := In{Left: Str("b"), List: []Expr{Str("a"), Str("b")}}
	require.True(t, in.IsConstant())
	require.True(t, in.ConstantTruth())

	f := Field{Table: "t", Column: "x"}
	require.False(t, Eq{Left: f, Right: Num(1)}.IsConstant())
	require.False(t, And{Args: []Expr{Bool(true), Eq{Left: f, Right: Num(1)}}}.IsConstant())
	require.True(t, Or{Args: []Expr{Bool(false), Bool(true)}}.ConstantTruth())
}

func TestUnquote(t *testing.T) {
	require.Equal(t, "abc", Unquote("'abc'"))
	require.Equal(t, "abc", Unquote(`"abc"`))
	require.Equal(t, "'abc", Unquote("'abc"))
	require.Equal(t, "it's", Unquote("'it's'"))
	require.Equal(t, "", Unquote("''"))
	require.Equal(t, "'", Unquote("'"))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "equality", KindEq.String())
	require.Equal(t, "in-list", KindIn.String())
	require.Equal(t, "Kind(42)", Kind(42).String())
}

func TestDefaultFilter(t *testing.T) {
	var f DefaultFilter
	a := Field{Table: "t1", Column: "a"}
	b := Field{Table: "t2", Column: "b", Ordinal: 1}

	require.Equal(t, 0.1, f.FilteringEffect(Eq{Left: a, Right: b}, 1, 2, 1000))
	require.Equal(t, 0.25, f.FilteringEffect(Eq{Left: a, Right: Num(1)}, 1, 0, 4))
	require.InDelta(t, 0.2, f.FilteringEffect(In{Left: a, List: []Expr{Num(1), Num(2)}}, 1, 0, 1000), 1e-12)
	require.Equal(t, 0.5, f.FilteringEffect(In{Left: a, List: []Expr{Num(1), Num(2), Num(3), Num(4), Num(5), Num(6)}}, 1, 0, 1000))
	require.InDelta(t, 0.01, f.FilteringEffect(And{Args: []Expr{Eq{Left: a, Right: Num(1)}, Eq{Left: b, Right: Num(2)}}}, 1, 0, 1000), 1e-12)
	require.InDelta(t, 0.19, f.FilteringEffect(Or{Args: []Expr{Eq{Left: a, Right: Num(1)}, Eq{Left: a, Right: Num(2)}}}, 1, 0, 1000), 1e-12)
	require.InDelta(t, 1.0/3, f.FilteringEffect(Opaque{Text: "f(t1.a)", Refs: 1}, 1, 0, 1000), 1e-12)
	require.Equal(t, 1.0, f.FilteringEffect(Bool(true), 0, 0, 1000))
	require.Equal(t, 0.0, f.FilteringEffect(Bool(false), 0, 0, 1000))
}
