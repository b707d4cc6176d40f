package predicate

import (
	"math"
)

// Heuristic selectivities used when nothing is known about the data.
const (
	EqualitySelectivity   = 0.1
	InItemSelectivity     = 0.1
	MaxInSelectivity      = 0.5
	InequalitySelectivity = 1.0 / 3.0
	LikeSelectivity       = 0.2
	UnknownSelectivity    = 1.0 / 3.0
)

// DefaultFilter is a statistics-free filtering-effect estimator. It answers
// for any predicate and always returns a value in [0, 1].
type DefaultFilter struct{}

// FilteringEffect estimates the fraction of rows of thisTable passing p,
// given that the tables in joined are already available. rowsInTable is the
// assumed cardinality of thisTable.
func (DefaultFilter) FilteringEffect(p Expr, thisTable, joined TableMap, rowsInTable float64) float64 {
	return clampUnit(filteringEffect(p, rowsInTable))
}

func filteringEffect(p Expr, rows float64) float64 {
	if p.IsConstant() {
		if p.ConstantTruth() {
			return 1
		}
		return 0
	}
	switch e := p.(type) {
	case Eq, MultiEq:
		return equality(rows)
	case In:
		return math.Min(float64(len(e.List))*InItemSelectivity, MaxInSelectivity)
	case And:
		sel := 1.0
		for _, a := range e.Args {
			sel *= filteringEffect(a, rows)
		}
		return sel
	case Or:
		sel := 0.0
		for _, a := range e.Args {
			s := filteringEffect(a, rows)
			sel = sel + s - sel*s
		}
		return sel
	case Cmp:
		switch e.Op {
		case "!=", "<>":
			return 1 - equality(rows)
		case "like":
			return LikeSelectivity
		case "not like":
			return 1 - LikeSelectivity
		}
		return InequalitySelectivity
	}
	return UnknownSelectivity
}

// equality never estimates fewer than one matching row.
func equality(rows float64) float64 {
	if rows > 0 && 1/rows > EqualitySelectivity {
		return 1 / rows
	}
	return EqualitySelectivity
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 1
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
