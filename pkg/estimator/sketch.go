package estimator

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/predicate"
	"github.com/sahithikokkula/selest/pkg/registry"
)

// sketchSelectivity handles field = field, field = constant and
// field IN (constants...). Anything else, or a missing sketch, is
// inapplicable.
func (e *Estimator) sketchSelectivity(p predicate.Expr, trace *strings.Builder) float64 {
	switch x := p.(type) {
	case predicate.Eq:
		l, lok := x.Left.(predicate.Field)
		r, rok := x.Right.(predicate.Field)
		switch {
		case lok && rok:
			return e.joinSelectivity(l, r, trace)
		case lok && x.Right.IsConstant():
			return e.valueSelectivity(l, []predicate.Expr{x.Right})
		case rok && x.Left.IsConstant():
			return e.valueSelectivity(r, []predicate.Expr{x.Left})
		}
	case predicate.In:
		f, ok := x.Left.(predicate.Field)
		if !ok || len(x.List) == 0 {
			return inapplicable
		}
		for _, item := range x.List {
			if !item.IsConstant() {
				return inapplicable
			}
		}
		return e.valueSelectivity(f, x.List)
	}
	return inapplicable
}

// valueSelectivity sums the estimated frequency of every value and divides
// by the sketch total. Colliding values are counted once each and the sum
// is not capped, so an IN list can exceed 1.
func (e *Estimator) valueSelectivity(f predicate.Field, values []predicate.Expr) float64 {
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = predicate.Unquote(v.String())
	}
	est, total, ok := e.reg.EstimateValues(f.Table, f.Column, keys)
	if !ok || total <= 0 {
		return inapplicable
	}
	return float64(est) / float64(total)
}

func (e *Estimator) joinSelectivity(l, r predicate.Field, trace *strings.Builder) float64 {
	lk, rk := registry.MakeKey(l.Table, l.Column), registry.MakeKey(r.Table, r.Column)
	est, ok, err := e.reg.EstimateJoin(lk, rk)
	if !ok {
		return inapplicable
	}
	if err != nil {
		e.logger.Warn("cannot join sketches",
			zap.Stringer("left", lk), zap.Stringer("right", rk), zap.Error(err))
		return inapplicable
	}
	denom := float64(est.LeftTotal) * float64(est.RightTotal)
	if !(denom > 0) {
		return inapplicable
	}
	sel := est.Corrected / denom
	tracef(trace, " - sketch join %s = %s: min dot product %.0f (selectivity %.10f), corrected %.2f (selectivity %.10f)\n",
		lk, rk, est.MinDotProduct, est.MinDotProduct/denom, est.Corrected, sel)
	return sel
}
