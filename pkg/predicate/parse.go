package predicate

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/vitess/go/vt/sqlparser"
)

// Scope assigns table ordinals in order of first appearance. A Scope can be
// shared across several Parse calls so that the same table keeps its bit.
type Scope struct {
	ordinals map[string]int
	names    []string
}

func NewScope(tables ...string) *Scope {
	s := &Scope{ordinals: make(map[string]int)}
	for _, t := range tables {
		s.ordinal(t)
	}
	return s
}

func (s *Scope) ordinal(table string) int {
	key := strings.ToLower(table)
	if o, ok := s.ordinals[key]; ok {
		return o
	}
	o := len(s.names)
	s.ordinals[key] = o
	s.names = append(s.names, table)
	return o
}

// Tables lists the tables seen so far in ordinal order.
func (s *Scope) Tables() []string {
	return append([]string(nil), s.names...)
}

// Parse parses a SQL boolean expression such as
//
//	t1.a = t2.b and t1.c in ('x', 'y')
//
// into an Expr. Equalities, IN lists, AND/OR, comparisons, literals and
// column references map onto their own node types; anything else becomes
// Opaque.
func Parse(text string) (Expr, error) {
	return NewScope().Parse(text)
}

func (s *Scope) Parse(text string) (Expr, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty predicate")
	}
	stmt, err := sqlparser.Parse("select 1 from dual where " + text)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing predicate %q", text)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return nil, errors.Newf("predicate %q is not a boolean expression", text)
	}
	return s.convert(sel.Where.Expr)
}

func (s *Scope) convert(node sqlparser.Expr) (Expr, error) {
	switch n := node.(type) {
	case *sqlparser.ParenExpr:
		return s.convert(n.Expr)

	case sqlparser.BoolVal:
		return Bool(bool(n)), nil

	case *sqlparser.SQLVal:
		if n.Type == sqlparser.StrVal {
			return Str(string(n.Val)), nil
		}
		return Literal{Raw: string(n.Val)}, nil

	case *sqlparser.ColName:
		f := Field{Column: n.Name.String()}
		if table := n.Qualifier.Name.String(); table != "" {
			f.Table = table
			f.Ordinal = s.ordinal(table)
		}
		return f, nil

	case *sqlparser.AndExpr:
		var args []Expr
		if err := s.conjuncts(n, &args); err != nil {
			return nil, err
		}
		args = mergeEqualities(args)
		if len(args) == 1 {
			return args[0], nil
		}
		return And{Args: args}, nil

	case *sqlparser.OrExpr:
		l, err := s.convert(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := s.convert(n.Right)
		if err != nil {
			return nil, err
		}
		return Or{Args: flatten(KindOr, l, r)}, nil

	case *sqlparser.ComparisonExpr:
		return s.comparison(n)
	}

	return s.opaque(node), nil
}

// conjuncts appends the converted operands of a chain of ANDs to out, left
// to right, looking through parentheses.
func (s *Scope) conjuncts(node sqlparser.Expr, out *[]Expr) error {
	switch n := node.(type) {
	case *sqlparser.AndExpr:
		if err := s.conjuncts(n.Left, out); err != nil {
			return err
		}
		return s.conjuncts(n.Right, out)
	case *sqlparser.ParenExpr:
		if _, ok := n.Expr.(*sqlparser.AndExpr); ok {
			return s.conjuncts(n.Expr, out)
		}
	}
	e, err := s.convert(node)
	if err != nil {
		return err
	}
	*out = append(*out, e)
	return nil
}

// mergeEqualities replaces the field = field conjuncts that connect three
// or more fields with one MultiEq per equivalence class, placed where the
// first of them stood. Classes of two fields stay plain equalities.
func mergeEqualities(args []Expr) []Expr {
	parent := make(map[string]string)
	var find func(k string) string
	find = func(k string) string {
		if p := parent[k]; p != k {
			parent[k] = find(p)
		}
		return parent[k]
	}
	var order []string
	fields := make(map[string]Field)
	add := func(f Field) string {
		k := strings.ToLower(f.String())
		if _, ok := parent[k]; !ok {
			parent[k] = k
			fields[k] = f
			order = append(order, k)
		}
		return k
	}
	pairs := make(map[int][2]string)
	for i, a := range args {
		if l, r, ok := fieldEquality(a); ok {
			lk, rk := add(l), add(r)
			pairs[i] = [2]string{lk, rk}
			if lr, rr := find(lk), find(rk); lr != rr {
				parent[rr] = lr
			}
		}
	}

	classes := make(map[string][]Field)
	for _, k := range order {
		root := find(k)
		classes[root] = append(classes[root], fields[k])
	}

	out := make([]Expr, 0, len(args))
	emitted := make(map[string]bool)
	for i, a := range args {
		pair, ok := pairs[i]
		if !ok {
			out = append(out, a)
			continue
		}
		root := find(pair[0])
		if len(classes[root]) < 3 {
			out = append(out, a)
			continue
		}
		if !emitted[root] {
			emitted[root] = true
			out = append(out, MultiEq{Fields: classes[root]})
		}
	}
	return out
}

func fieldEquality(e Expr) (Field, Field, bool) {
	eq, ok := e.(Eq)
	if !ok {
		return Field{}, Field{}, false
	}
	l, lok := eq.Left.(Field)
	r, rok := eq.Right.(Field)
	return l, r, lok && rok
}

func (s *Scope) comparison(n *sqlparser.ComparisonExpr) (Expr, error) {
	left, err := s.convert(n.Left)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(n.Operator) {
	case sqlparser.EqualStr:
		right, err := s.convert(n.Right)
		if err != nil {
			return nil, err
		}
		return Eq{Left: left, Right: right}, nil

	case sqlparser.InStr:
		tuple, ok := n.Right.(sqlparser.ValTuple)
		if !ok {
			return s.opaque(n), nil
		}
		list := make([]Expr, 0, len(tuple))
		for _, item := range tuple {
			e, err := s.convert(item)
			if err != nil {
				return nil, err
			}
			list = append(list, e)
		}
		return In{Left: left, List: list}, nil
	}

	right, err := s.convert(n.Right)
	if err != nil {
		return nil, err
	}
	return Cmp{Op: strings.ToLower(n.Operator), Left: left, Right: right}, nil
}

func (s *Scope) opaque(node sqlparser.SQLNode) Expr {
	var refs TableMap
	_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
		if col, ok := n.(*sqlparser.ColName); ok {
			if table := col.Qualifier.Name.String(); table != "" {
				refs |= TableMap(1) << uint(s.ordinal(table))
			}
		}
		return true, nil
	}, node)
	return Opaque{Text: sqlparser.String(node), Refs: refs}
}

func flatten(kind Kind, l, r Expr) []Expr {
	var args []Expr
	for _, e := range []Expr{l, r} {
		if e.Kind() == kind {
			args = append(args, e.Operands()...)
		} else {
			args = append(args, e)
		}
	}
	return args
}
