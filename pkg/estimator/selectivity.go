// Package estimator turns a predicate into a selectivity in [0, 1].
//
// Strategies are tried in a fixed order and the first one producing a
// non-negative value wins:
//
//  1. constant folding
//  2. Count-Min sketches (Options.AutoStatistics)
//  3. the override table (Options.HardcodedSelectivities)
//  4. index statistics for field = field
//  5. index statistics for multiple equalities
//  6. the host's generic filtering-effect estimator
package estimator

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/catalog"
	"github.com/sahithikokkula/selest/pkg/overrides"
	"github.com/sahithikokkula/selest/pkg/predicate"
	"github.com/sahithikokkula/selest/pkg/registry"
)

// DefaultRowsInTable is the table cardinality handed to the fallback filter.
const DefaultRowsInTable = 1000.0

// inapplicable is returned by a strategy that has nothing to say.
const inapplicable = -1.0

// Filter is the host's general-purpose filtering-effect estimator. thisTable
// is the driving table, joined the tables assumed to be available already.
type Filter interface {
	FilteringEffect(p predicate.Expr, thisTable, joined predicate.TableMap, rowsInTable float64) float64
}

// Strategy names the step of the chain that produced an estimate.
type Strategy int

const (
	StrategyConstant Strategy = iota
	StrategySketch
	StrategyOverride
	StrategyIndex
	StrategyMultiEquality
	StrategyFallback
)

var strategyNames = [...]string{
	StrategyConstant:      "constant",
	StrategySketch:        "sketch",
	StrategyOverride:      "override",
	StrategyIndex:         "index",
	StrategyMultiEquality: "multi_equality",
	StrategyFallback:      "fallback",
}

func (s Strategy) String() string {
	if s >= 0 && int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// MarshalText renders the strategy name in JSON output.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Strategies lists every strategy in chain order.
func Strategies() []Strategy {
	return []Strategy{StrategyConstant, StrategySketch, StrategyOverride, StrategyIndex, StrategyMultiEquality, StrategyFallback}
}

// Recorder observes which strategy answered each estimate.
type Recorder interface {
	Observe(s Strategy)
}

type Options struct {
	// AutoStatistics enables the sketch strategy.
	AutoStatistics bool
	// HardcodedSelectivities enables the override table.
	HardcodedSelectivities bool
	// RowsInTable is passed to the fallback filter. Zero means
	// DefaultRowsInTable.
	RowsInTable float64
	Recorder    Recorder
}

// Result is an estimate together with how it was reached.
type Result struct {
	Selectivity float64  `json:"selectivity"`
	Strategy    Strategy `json:"strategy"`
	Trace       string   `json:"trace,omitempty"`
}

// Estimator is safe for concurrent use as long as its collaborators are:
// the registry locks internally, the override table and the catalog are
// read-only once built.
type Estimator struct {
	reg       *registry.Registry
	overrides *overrides.Table
	catalog   catalog.Catalog
	filter    Filter
	opts      Options
	logger    *zap.Logger
}

// New builds an Estimator. Any collaborator may be nil: a nil registry or
// catalog knows nothing, a nil override table matches nothing and a nil
// filter is replaced by predicate.DefaultFilter.
func New(
	reg *registry.Registry,
	table *overrides.Table,
	cat catalog.Catalog,
	filter Filter,
	opts Options,
	logger *zap.Logger,
) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = registry.New(logger)
	}
	if cat == nil {
		cat = catalog.NewMemory()
	}
	if filter == nil {
		filter = predicate.DefaultFilter{}
	}
	if !(opts.RowsInTable > 0) {
		opts.RowsInTable = DefaultRowsInTable
	}
	return &Estimator{
		reg:       reg,
		overrides: table,
		catalog:   cat,
		filter:    filter,
		opts:      opts,
		logger:    logger,
	}
}

func (e *Estimator) Options() Options { return e.opts }

// EstimateSelectivity returns the selectivity of p, a finite value in
// [0, 1] for everything but the sketch strategy, which is returned
// unclamped. When trace is non-nil a line per decision is appended to it.
func (e *Estimator) EstimateSelectivity(p predicate.Expr, trace *strings.Builder) float64 {
	sel, _ := e.estimate(p, trace)
	return sel
}

// Explain is EstimateSelectivity with the trace and the winning strategy.
func (e *Estimator) Explain(p predicate.Expr) Result {
	var sb strings.Builder
	sel, s := e.estimate(p, &sb)
	return Result{Selectivity: sel, Strategy: s, Trace: sb.String()}
}

func (e *Estimator) estimate(p predicate.Expr, trace *strings.Builder) (float64, Strategy) {
	sel, s := e.chain(p, trace)
	if e.opts.Recorder != nil {
		e.opts.Recorder.Observe(s)
	}
	e.logger.Debug("estimated selectivity",
		zap.Stringer("predicate", p),
		zap.Stringer("strategy", s),
		zap.Float64("selectivity", sel))
	return sel, s
}

func (e *Estimator) chain(p predicate.Expr, trace *strings.Builder) (float64, Strategy) {
	if p.IsConstant() {
		if p.ConstantTruth() {
			return 1, StrategyConstant
		}
		return 0, StrategyConstant
	}

	if e.opts.AutoStatistics {
		if sel := e.sketchSelectivity(p, trace); sel >= 0 {
			tracef(trace, " - used estimated selectivity for %s, selectivity = %.10f\n", p, sel)
			return sel, StrategySketch
		}
	}

	// A bare field is neither a function nor a compound condition.
	if e.opts.HardcodedSelectivities && p.Kind() != predicate.KindField {
		if sel, ok := e.overrides.Lookup(p); ok {
			tracef(trace, " - used hardcoded selectivity for %s, selectivity = %.10f\n", p, sel)
			return sel, StrategyOverride
		}
	}

	switch x := p.(type) {
	case predicate.Eq:
		l, lok := x.Left.(predicate.Field)
		r, rok := x.Right.(predicate.Field)
		if lok && rok {
			sel := math.Max(e.fieldSelectivity(l, trace), e.fieldSelectivity(r, trace))
			if sel >= 0 {
				tracef(trace, " - used an index for %s, selectivity = %.10f\n", p, sel)
				return sel, StrategyIndex
			}
		}
	case predicate.MultiEq:
		sel := inapplicable
		for _, f := range x.Fields {
			sel = math.Max(sel, e.fieldSelectivity(f, trace))
		}
		if sel >= 0 {
			tracef(trace, " - used an index for %s, selectivity = %.10f\n", p, sel)
			return sel, StrategyMultiEquality
		}
	}

	return e.fallback(p, trace), StrategyFallback
}

// fieldSelectivity is the largest records_per_key/rows over the indexes
// led by f, capped at 1 since the two statistics can be collected at
// different times.
func (e *Estimator) fieldSelectivity(f predicate.Field, trace *strings.Builder) float64 {
	rows, ok := e.catalog.TableRows(f.Table)
	if !ok || !(rows > 0) {
		return inapplicable
	}
	sel := inapplicable
	for _, idx := range e.catalog.Indexes(f.Table) {
		if !idx.HasRecordsPerKey || !strings.EqualFold(idx.LeadingColumn(), f.Column) {
			continue
		}
		candidate := idx.RecordsPerKey / rows
		if math.IsNaN(candidate) || candidate < 0 {
			continue
		}
		tracef(trace, " - found candidate index %s with selectivity %.10f\n", idx.Name, candidate)
		sel = math.Max(sel, candidate)
	}
	return math.Min(sel, 1)
}

func (e *Estimator) fallback(p predicate.Expr, trace *strings.Builder) float64 {
	used := p.Tables()
	this := used.Lowest()
	sel := e.filter.FilteringEffect(p, this, used&^this, e.opts.RowsInTable)
	switch {
	case math.IsNaN(sel):
		sel = 1
	case sel < 0:
		sel = 0
	case sel > 1:
		sel = 1
	}
	tracef(trace, " - fallback selectivity for %s = %.10f\n", p, sel)
	return sel
}

func tracef(trace *strings.Builder, format string, args ...interface{}) {
	if trace != nil {
		fmt.Fprintf(trace, format, args...)
	}
}
