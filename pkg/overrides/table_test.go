package overrides

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"

	"github.com/sahithikokkula/selest/pkg/predicate"
)

func TestLookup(t *testing.T) {
	var tbl *Table
	datadriven.RunTest(t, "testdata/lookup", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "load":
			var err error
			tbl, err = Parse(strings.NewReader(d.Input))
			out := fmt.Sprintf("rows=%d", tbl.Len())
			if err != nil {
				out += "\nerror: " + err.Error()
			}
			return out

		case "lookup":
			mode := "substring"
			if d.HasArg("mode") {
				d.ScanArgs(t, "mode", &mode)
			}
			m, err := ParseMatchMode(mode)
			if err != nil {
				d.Fatalf(t, "%v", err)
			}
			p, err := predicate.Parse(d.Input)
			if err != nil {
				return "error: " + err.Error()
			}
			sel, ok := tbl.WithMode(m).Lookup(p)
			if !ok {
				return "not found"
			}
			return strconv.FormatFloat(sel, 'g', -1, 64)
		}
		d.Fatalf(t, "unknown command %s", d.Cmd)
		return ""
	})
}

func TestParseBlankLines(t *testing.T) {
	tbl, err := Parse(strings.NewReader("\n  t1.a , = , t2.b , 0.25  \n\n"))
	require.NoError(t, err)
	require.Equal(t, []Row{{Left: "t1.a", Operator: "=", Right: "t2.b", Selectivity: 0.25}}, tbl.Rows())
}

func TestLoad(t *testing.T) {
	tbl, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	require.NotNil(t, tbl)
	require.Equal(t, 0, tbl.Len())
	_, ok := tbl.Lookup(predicate.Eq{Left: predicate.Field{Table: "t1", Column: "a"}, Right: predicate.Field{Table: "t2", Column: "b"}})
	require.False(t, ok)

	path := filepath.Join(t.TempDir(), "overrides.csv")
	require.NoError(t, os.WriteFile(path, []byte("t1.a,=,t2.b,0.25\n"), 0o644))
	tbl, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
}

func TestNilTable(t *testing.T) {
	var tbl *Table
	_, ok := tbl.Lookup(predicate.Bool(true))
	require.False(t, ok)
}

func TestMatchMode(t *testing.T) {
	m, err := ParseMatchMode("Structural")
	require.NoError(t, err)
	require.Equal(t, MatchStructural, m)
	require.Equal(t, "structural", m.String())

	m, err = ParseMatchMode("")
	require.NoError(t, err)
	require.Equal(t, MatchSubstring, m)

	_, err = ParseMatchMode("fuzzy")
	require.Error(t, err)

	tbl := New(Row{Left: "a", Operator: "=", Right: "b", Selectivity: 1})
	require.Equal(t, MatchSubstring, tbl.Mode())
	require.Equal(t, MatchStructural, tbl.WithMode(MatchStructural).Mode())
}
