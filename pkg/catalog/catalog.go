// Package catalog exposes the table and index statistics the estimator
// falls back on when no sketch applies.
package catalog

import (
	"sort"
	"strings"
	"sync"
)

// Index describes one index of a table. RecordsPerKey is the average number
// of rows sharing a value of the leading key column; it is only meaningful
// when HasRecordsPerKey is set.
type Index struct {
	Name             string   `json:"name"`
	Columns          []string `json:"columns"`
	RecordsPerKey    float64  `json:"records_per_key,omitempty"`
	HasRecordsPerKey bool     `json:"has_records_per_key"`
}

// LeadingColumn returns the first key column, or "" for an empty index.
func (idx Index) LeadingColumn() string {
	if len(idx.Columns) == 0 {
		return ""
	}
	return idx.Columns[0]
}

// Catalog supplies table cardinalities and index statistics.
type Catalog interface {
	TableRows(table string) (float64, bool)
	Indexes(table string) []Index
}

// Memory is an in-memory Catalog. Table names are case-insensitive.
type Memory struct {
	mu      sync.RWMutex
	rows    map[string]float64
	indexes map[string][]Index
}

var _ Catalog = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		rows:    make(map[string]float64),
		indexes: make(map[string][]Index),
	}
}

func (m *Memory) SetTableRows(table string, rows float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[strings.ToLower(table)] = rows
}

func (m *Memory) TableRows(table string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.rows[strings.ToLower(table)]
	return rows, ok
}

// AddIndex adds idx to table, replacing an index of the same name.
func (m *Memory) AddIndex(table string, idx Index) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(table)
	list := m.indexes[key]
	for i := range list {
		if list[i].Name == idx.Name {
			list[i] = idx
			return
		}
	}
	m.indexes[key] = append(list, idx)
}

func (m *Memory) Indexes(table string) []Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Index(nil), m.indexes[strings.ToLower(table)]...)
}

// Tables lists every table with a known row count or index.
func (m *Memory) Tables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for t := range m.rows {
		seen[t] = struct{}{}
	}
	for t := range m.indexes {
		seen[t] = struct{}{}
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
