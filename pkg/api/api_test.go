package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/selest/pkg/catalog"
	"github.com/sahithikokkula/selest/pkg/collector"
	"github.com/sahithikokkula/selest/pkg/estimator"
	"github.com/sahithikokkula/selest/pkg/metrics"
	"github.com/sahithikokkula/selest/pkg/overrides"
	"github.com/sahithikokkula/selest/pkg/registry"
	"github.com/sahithikokkula/selest/pkg/sketches"
	"github.com/sahithikokkula/selest/pkg/storage"
)

type fixture struct {
	router *mux.Router
	db     *sql.DB
	cat    *catalog.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.EnsureMetaTables(ctx, db))

	_, err = db.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, x TEXT)`)
	require.NoError(t, err)
	for i, v := range []string{"a", "a", "b", "c", "c", "c", "c", "c", "c", "c"} {
		_, err = db.ExecContext(ctx, `INSERT INTO t(id, x) VALUES (?, ?)`, i+1, v)
		require.NoError(t, err)
	}

	logger := zap.NewNop()
	reg := registry.New(logger)
	cat := catalog.NewMemory()
	m := metrics.New()
	table := overrides.New(overrides.Row{Left: "abs(t.id)", Operator: ">", Right: "3", Selectivity: 0.4})
	est := estimator.New(reg, table, cat, nil, estimator.Options{
		AutoStatistics:         true,
		HardcodedSelectivities: true,
		Recorder:               m,
	}, logger)
	coll, err := collector.New(db, collector.Options{Epsilon: 0.05, Gamma: 0.01, Seeding: sketches.FixedSeed(1)}, logger)
	require.NoError(t, err)

	h, err := NewHandler(Deps{
		DB: db, Estimator: est, Registry: reg, Catalog: cat, Overrides: table,
		Collector: coll, Metrics: m, Logger: logger, CacheSize: 16,
	})
	require.NoError(t, err)
	r := mux.NewRouter()
	RegisterRoutes(r, h)
	return &fixture{router: r, db: db, cat: cat}
}

func newServer(t *testing.T) *mux.Router {
	return newFixture(t).router
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	var out map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndTables(t *testing.T) {
	r := newServer(t)
	rec, out := do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", out["status"])

	_, out = do(t, r, http.MethodGet, "/tables", nil)
	tables := out["tables"].([]any)
	require.Len(t, tables, 1)
	require.Equal(t, "t", tables[0].(map[string]any)["name"])
}

func TestEstimateFlow(t *testing.T) {
	r := newServer(t)

	// no sketch yet: generic fallback
	rec, out := do(t, r, http.MethodPost, "/estimate", EstimateRequest{Predicate: "t.x = 'a'"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "fallback", out["strategy"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, out = do(t, r, http.MethodPost, "/sketches/create", JSON{"table": "t", "column": "x"})
	require.Equal(t, http.StatusOK, rec.Code, out)
	require.Equal(t, "countmin", out["sketch_type"])

	// the new sketch answers and the stale cache entry is gone
	_, out = do(t, r, http.MethodPost, "/estimate", EstimateRequest{Predicate: "t.x = 'a'", Trace: true})
	require.Equal(t, "sketch", out["strategy"])
	require.InDelta(t, 0.2, out["selectivity"].(float64), 1e-9)
	require.Contains(t, out["trace"], "used estimated selectivity for t.x = 'a'")
	require.Equal(t, false, out["cached"])

	// traced requests are computed afresh but still fill the cache
	_, out = do(t, r, http.MethodPost, "/estimate", EstimateRequest{Predicate: "t.x = 'a'"})
	require.Equal(t, true, out["cached"])
	require.Equal(t, "sketch", out["strategy"])
	require.Nil(t, out["trace"])

	_, out = do(t, r, http.MethodPost, "/estimate", EstimateRequest{Predicate: "t.x in ('a', 'b')"})
	require.InDelta(t, 0.3, out["selectivity"].(float64), 1e-9)

	_, out = do(t, r, http.MethodPost, "/estimate", EstimateRequest{Predicate: "abs(t.id) > 3"})
	require.Equal(t, "override", out["strategy"])

	_, out = do(t, r, http.MethodPost, "/estimate", EstimateRequest{Predicate: "true"})
	require.Equal(t, "constant", out["strategy"])
	require.Equal(t, 1.0, out["selectivity"])

	_, out = do(t, r, http.MethodGet, "/sketches?table=t", nil)
	listing := out["sketches"].([]any)
	require.Len(t, listing, 1)
	require.NotEmpty(t, listing[0].(map[string]any)["size"])

	rec, _ = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `selest_estimates_total{strategy="sketch"} 2`)
	require.Contains(t, rec.Body.String(), "selest_estimate_cache_hits_total 1")
}

func TestEstimateBadRequests(t *testing.T) {
	r := newServer(t)
	rec, _ := do(t, r, http.MethodPost, "/estimate", "{")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := do(t, r, http.MethodPost, "/estimate", EstimateRequest{Predicate: "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "predicate required", out["error"])

	rec, _ = do(t, r, http.MethodPost, "/estimate", EstimateRequest{Predicate: "t.x = = 1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSketchErrors(t *testing.T) {
	r := newServer(t)
	rec, _ := do(t, r, http.MethodPost, "/sketches/create", JSON{"table": "t"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/sketches/create", JSON{"table": "t", "column": "x", "sketch_type": "bloom"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := do(t, r, http.MethodPost, "/sketches/create", JSON{"table": "t", "column": "x", "sketch_type": "hyperloglog"})
	require.Equal(t, http.StatusOK, rec.Code, out)

	rec, _ = do(t, r, http.MethodPost, "/sketches/create", JSON{"table": "missing", "column": "x"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOverrides(t *testing.T) {
	r := newServer(t)
	_, out := do(t, r, http.MethodGet, "/overrides", nil)
	require.Equal(t, true, out["enabled"])
	require.Equal(t, "substring", out["mode"])
	require.Len(t, out["rows"], 1)
}

func TestCreateSketchRefreshesRowCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, out := do(t, f.router, http.MethodPost, "/sketches/create", JSON{"table": "t", "column": "x"})
	require.Equal(t, http.StatusOK, rec.Code, out)
	require.Equal(t, 10.0, out["rows"])
	require.Equal(t, 10.0, out["total"])
	require.InDelta(t, 0.99, out["confidence"], 1e-9)
	require.NotEmpty(t, out["memory"])

	_, err := f.db.ExecContext(ctx, `INSERT INTO t(id, x) VALUES (11, 'b'), (12, 'b')`)
	require.NoError(t, err)
	rec, out = do(t, f.router, http.MethodPost, "/sketches/create", JSON{"table": "t", "column": "x"})
	require.Equal(t, http.StatusOK, rec.Code, out)
	require.Equal(t, 12.0, out["rows"])

	_, out = do(t, f.router, http.MethodGet, "/tables", nil)
	require.Equal(t, 12.0, out["tables"].([]any)[0].(map[string]any)["rows"])
	rows, ok := f.cat.TableRows("t")
	require.True(t, ok)
	require.Equal(t, 12.0, rows)

	counts, err := storage.TableRowCounts(ctx, f.db)
	require.NoError(t, err)
	require.Equal(t, int64(12), counts["t"])

	_, out = do(t, f.router, http.MethodPost, "/estimate", EstimateRequest{Predicate: "t.x = 'b'"})
	require.InDelta(t, 3.0/12, out["selectivity"].(float64), 1e-9)

	rec, out = do(t, f.router, http.MethodPost, "/sketches/create", JSON{"table": "t", "column": "x", "sketch_type": "hyperloglog"})
	require.Equal(t, http.StatusOK, rec.Code, out)
	require.InDelta(t, 3.0, out["distinct"].(float64), 0.5)
	require.NotNil(t, out["standard_error"])
}

func TestUpdateSketch(t *testing.T) {
	f := newFixture(t)

	rec, _ := do(t, f.router, http.MethodPost, "/sketches/update", JSON{"table": "t", "column": "x", "values": JSON{"a": 1}})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, f.router, http.MethodPost, "/sketches/create", JSON{"table": "t", "column": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	_, out := do(t, f.router, http.MethodPost, "/estimate", EstimateRequest{Predicate: "t.x = 'a'"})
	require.InDelta(t, 0.2, out["selectivity"].(float64), 1e-9)

	rec, out = do(t, f.router, http.MethodPost, "/sketches/update", JSON{"table": "t", "column": "x", "values": JSON{"a": 8}})
	require.Equal(t, http.StatusOK, rec.Code, out)
	require.Equal(t, 8.0, out["added"])

	// the cache was purged and the merged sketch answers
	_, out = do(t, f.router, http.MethodPost, "/estimate", EstimateRequest{Predicate: "t.x = 'a'"})
	require.Equal(t, false, out["cached"])
	require.InDelta(t, 10.0/18, out["selectivity"].(float64), 1e-9)

	data, _, err := storage.GetSketch(context.Background(), f.db, "t", "x", storage.CountMinSketchType)
	require.NoError(t, err)
	stored, err := sketches.DeserializeCountMinSketch(data)
	require.NoError(t, err)
	require.Equal(t, int64(18), stored.TotalCount())

	rec, _ = do(t, f.router, http.MethodPost, "/sketches/update", JSON{"table": "t", "column": "x", "values": JSON{"a": -1}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, f.router, http.MethodPost, "/sketches/update", JSON{"table": "t", "column": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEstimateMultiEquality(t *testing.T) {
	f := newFixture(t)
	f.cat.SetTableRows("t", 10)
	f.cat.AddIndex("t", catalog.Index{Name: "PRIMARY", Columns: []string{"id"}, RecordsPerKey: 1, HasRecordsPerKey: true})
	f.cat.SetTableRows("u", 100)
	f.cat.AddIndex("u", catalog.Index{Name: "u_tid", Columns: []string{"tid"}, RecordsPerKey: 4, HasRecordsPerKey: true})

	_, out := do(t, f.router, http.MethodPost, "/estimate",
		EstimateRequest{Predicate: "t.id = u.tid and u.tid = v.tid", Trace: true})
	require.Equal(t, "multi_equality", out["strategy"], out["trace"])
	require.InDelta(t, 0.1, out["selectivity"].(float64), 1e-12)
	require.Equal(t, "multiple equal(t.id, u.tid, v.tid)", out["predicate"])
	require.Contains(t, out["trace"], "found candidate index u_tid with selectivity 0.0400000000")
}
