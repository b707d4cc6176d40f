// Package registry maps (table, column) pairs to the Count-Min sketches that
// summarize them, together with each table's known row count.
//
// A Registry is bulk loaded before estimation starts. Readers may run
// concurrently; Update takes the write lock so online maintenance does not
// race with estimators reading counters.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/sketches"
)

// Key identifies a column. Names are compared case-insensitively.
type Key struct {
	Table  string
	Column string
}

func MakeKey(table, column string) Key {
	return Key{Table: strings.ToLower(table), Column: strings.ToLower(column)}
}

func (k Key) String() string {
	return k.Table + "." + k.Column
}

type Registry struct {
	mu       sync.RWMutex
	sketches map[Key]*sketches.CountMinSketch
	rows     map[string]int64
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sketches: make(map[Key]*sketches.CountMinSketch),
		rows:     make(map[string]int64),
		logger:   logger,
	}
}

// Register stores cms under (table, column), replacing any previous sketch.
// The registry takes ownership of cms.
func (r *Registry) Register(table, column string, cms *sketches.CountMinSketch) {
	k := MakeKey(table, column)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sketches[k]; ok {
		r.logger.Debug("replacing sketch", zap.Stringer("key", k))
	}
	r.sketches[k] = cms
}

// Lookup returns the sketch for (table, column). The sketch must not be
// read while another goroutine calls Update; use the Estimate helpers for
// that.
func (r *Registry) Lookup(table, column string) (*sketches.CountMinSketch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cms, ok := r.sketches[MakeKey(table, column)]
	return cms, ok
}

// Drop removes the sketch for (table, column).
func (r *Registry) Drop(table, column string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sketches, MakeKey(table, column))
}

func (r *Registry) SetTableRows(table string, rows int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[strings.ToLower(table)] = rows
}

func (r *Registry) TableRows(table string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, ok := r.rows[strings.ToLower(table)]
	return rows, ok
}

// Keys returns every registered key, sorted.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.sketches))
	for k := range r.sketches {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Table != keys[j].Table {
			return keys[i].Table < keys[j].Table
		}
		return keys[i].Column < keys[j].Column
	})
	return keys
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sketches)
}

// Update adds weight to value in the sketch of (table, column). It reports
// false when no such sketch exists.
func (r *Registry) Update(table, column, value string, weight int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cms, ok := r.sketches[MakeKey(table, column)]
	if !ok {
		return false
	}
	cms.UpdateString(value, weight)
	return true
}

// ErrNoSketch is returned when a column has no registered sketch.
var ErrNoSketch = errors.New("no sketch registered")

// NewBatch returns an empty sketch compatible with the one registered for
// (table, column). Updates accumulated in it are applied with Merge.
func (r *Registry) NewBatch(table, column string) (*sketches.CountMinSketch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cms, ok := r.sketches[MakeKey(table, column)]
	if !ok {
		return nil, false
	}
	return cms.EmptyCopy(), true
}

// Merge adds batch into the sketch of (table, column) and returns the
// merged sketch serialized, so the caller can persist it.
func (r *Registry) Merge(table, column string, batch *sketches.CountMinSketch) ([]byte, error) {
	k := MakeKey(table, column)
	r.mu.Lock()
	defer r.mu.Unlock()
	cms, ok := r.sketches[k]
	if !ok {
		return nil, errors.Wrapf(ErrNoSketch, "merging into %s", k)
	}
	if err := cms.Merge(batch); err != nil {
		return nil, errors.Wrapf(err, "merging into %s", k)
	}
	r.logger.Debug("merged sketch batch", zap.Stringer("key", k), zap.Int64("weight", batch.TotalCount()))
	return cms.Serialize(), nil
}

// EstimateValue returns the estimated frequency of value in (table, column)
// and the sketch total.
func (r *Registry) EstimateValue(table, column, value string) (est, total int64, ok bool) {
	return r.EstimateValues(table, column, []string{value})
}

// EstimateValues returns the sum of the estimated frequencies of values.
// Values that collide in the sketch are counted once per occurrence.
func (r *Registry) EstimateValues(table, column string, values []string) (est, total int64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cms, ok := r.sketches[MakeKey(table, column)]
	if !ok {
		return 0, 0, false
	}
	for _, v := range values {
		est += cms.EstimateString(v)
	}
	return est, cms.TotalCount(), true
}

// EstimateJoin estimates the equi-join size of two registered columns. ok is
// false when either sketch is missing.
func (r *Registry) EstimateJoin(left, right Key) (est sketches.JoinEstimate, ok bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, lok := r.sketches[left]
	rt, rok := r.sketches[right]
	if !lok || !rok {
		return sketches.JoinEstimate{}, false, nil
	}
	est, err = sketches.EstimateJoin(l, rt)
	return est, true, err
}

// CheckTotals cross-checks every sketch total against its table's known row
// count and returns an error describing each mismatch.
func (r *Registry) CheckTotals() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var err error
	for k, cms := range r.sketches {
		rows, ok := r.rows[k.Table]
		if !ok {
			continue
		}
		if cms.TotalCount() != rows {
			err = errors.CombineErrors(err, errors.Newf(
				"sketch %s has total %d but table %s has %d rows", k, cms.TotalCount(), k.Table, rows))
		}
	}
	return err
}
