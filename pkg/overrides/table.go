// Package overrides holds hand-supplied selectivities for known predicates.
//
// Rows are read from a plain text file, one per line:
//
//	left,operator,right,selectivity
//
// Fields are split on every comma; there is no quoting or escaping, so a
// left or right fragment cannot itself contain a comma. In structural mode
// the right fragment of an IN row lists its items separated by ';'.
package overrides

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/sahithikokkula/selest/pkg/predicate"
)

// MatchMode selects how a predicate is matched against rows.
type MatchMode int

const (
	// MatchSubstring matches the first row whose left and right fragments
	// both occur anywhere in the rendered predicate. One predicate's text
	// can contain another's, so this mode can return false positives.
	MatchSubstring MatchMode = iota
	// MatchStructural matches an equality or IN predicate whose operand
	// renderings and operator equal the row's exactly.
	MatchStructural
)

// ParseMatchMode accepts "substring" or "structural".
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "substring":
		return MatchSubstring, nil
	case "structural":
		return MatchStructural, nil
	}
	return 0, errors.Newf("unknown match mode %q", s)
}

func (m MatchMode) String() string {
	if m == MatchStructural {
		return "structural"
	}
	return "substring"
}

// Row is one override.
type Row struct {
	Left        string  `json:"left"`
	Operator    string  `json:"operator"`
	Right       string  `json:"right"`
	Selectivity float64 `json:"selectivity"`
}

// Table is an ordered, immutable list of overrides.
type Table struct {
	rows []Row
	mode MatchMode
}

func New(rows ...Row) *Table {
	return &Table{rows: append([]Row(nil), rows...)}
}

// WithMode returns a copy of t that matches predicates using mode.
func (t *Table) WithMode(mode MatchMode) *Table {
	return &Table{rows: t.rows, mode: mode}
}

func (t *Table) Mode() MatchMode { return t.mode }

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

// Load reads the override file at path. See Parse for error semantics; an
// unreadable file yields an empty table and the error.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return New(), errors.Wrapf(err, "opening overrides %s", path)
	}
	defer f.Close()
	t, err := Parse(f)
	return t, errors.Wrapf(err, "loading overrides %s", path)
}

// Parse reads rows from r. Blank lines are ignored. Malformed lines are
// skipped: the returned table holds every valid row and the error names
// each skipped line.
func Parse(r io.Reader) (*Table, error) {
	t := New()
	var bad []string
	sc := bufio.NewScanner(r)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		row, err := parseRow(line)
		if err != nil {
			bad = append(bad, "line "+strconv.Itoa(lineNo)+": "+err.Error())
			continue
		}
		t.rows = append(t.rows, row)
	}
	var errs error
	if len(bad) > 0 {
		errs = errors.Newf("skipped %d malformed line(s): %s", len(bad), strings.Join(bad, "; "))
	}
	if err := sc.Err(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return t, errs
}

func parseRow(line string) (Row, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Row{}, errors.Newf("expected 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if fields[0] == "" || fields[2] == "" {
		return Row{}, errors.New("empty left or right expression")
	}
	sel, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Row{}, errors.Newf("invalid selectivity %q", fields[3])
	}
	if !(sel >= 0 && sel <= 1) {
		return Row{}, errors.Newf("selectivity %v outside [0, 1]", sel)
	}
	return Row{Left: fields[0], Operator: fields[1], Right: fields[2], Selectivity: sel}, nil
}

// Lookup returns the selectivity of the first row matching p.
func (t *Table) Lookup(p predicate.Expr) (float64, bool) {
	if t == nil || len(t.rows) == 0 {
		return 0, false
	}
	if t.mode == MatchStructural {
		return t.lookupStructural(p)
	}
	text := p.String()
	for _, row := range t.rows {
		if strings.Contains(text, row.Left) && strings.Contains(text, row.Right) {
			return row.Selectivity, true
		}
	}
	return 0, false
}

func (t *Table) lookupStructural(p predicate.Expr) (float64, bool) {
	var op, left string
	var rights []string
	switch e := p.(type) {
	case predicate.Eq:
		op, left, rights = "=", e.Left.String(), []string{e.Right.String()}
	case predicate.In:
		op, left = "in", e.Left.String()
		for _, item := range e.List {
			rights = append(rights, item.String())
		}
	default:
		return 0, false
	}
	right := strings.Join(rights, ";")

	for _, row := range t.rows {
		if !strings.EqualFold(row.Operator, op) {
			continue
		}
		if row.Left == left && row.Right == right {
			return row.Selectivity, true
		}
		// equality is symmetric
		if op == "=" && row.Left == right && row.Right == left {
			return row.Selectivity, true
		}
	}
	return 0, false
}
