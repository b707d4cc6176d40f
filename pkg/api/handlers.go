package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/estimator"
	"github.com/sahithikokkula/selest/pkg/overrides"
	"github.com/sahithikokkula/selest/pkg/predicate"
	"github.com/sahithikokkula/selest/pkg/sketches"
	"github.com/sahithikokkula/selest/pkg/storage"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "sketches": h.reg.Len()})
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'selest_%' ORDER BY 1`)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}
	defer rows.Close()
	var tables []JSON
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		t := JSON{"name": name}
		if n, ok := h.reg.TableRows(name); ok {
			t["rows"] = n
		}
		tables = append(tables, t)
	}
	writeJSON(w, http.StatusOK, JSON{"tables": tables})
}

type EstimateRequest struct {
	Predicate string `json:"predicate"`
	// Tables fixes the table ordinals; tables not listed are numbered in
	// order of first appearance after these.
	Tables []string `json:"tables,omitempty"`
	Trace  bool     `json:"trace"`
}

type EstimateResponse struct {
	RequestID   string             `json:"request_id"`
	Predicate   string             `json:"predicate"`
	Selectivity float64            `json:"selectivity"`
	Strategy    estimator.Strategy `json:"strategy"`
	Trace       string             `json:"trace,omitempty"`
	Cached      bool               `json:"cached"`
}

func (h *Handler) PostEstimate(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json", "request_id": requestID})
		return
	}
	req.Predicate = strings.TrimSpace(req.Predicate)
	if req.Predicate == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "predicate required", "request_id": requestID})
		return
	}

	p, err := predicate.NewScope(req.Tables...).Parse(req.Predicate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": err.Error(), "request_id": requestID})
		return
	}

	resp := EstimateResponse{RequestID: requestID, Predicate: p.String()}
	key := strings.ToLower(strings.Join(req.Tables, ",")) + "|" + p.String()
	var res estimator.Result
	if cached, ok := h.cacheGet(key, req.Trace); ok {
		res, resp.Cached = cached, true
		h.metrics.CacheHit()
	} else {
		res = h.est.Explain(p)
		if h.cache != nil {
			h.cache.Add(key, res)
		}
	}
	resp.Selectivity, resp.Strategy = res.Selectivity, res.Strategy
	if req.Trace {
		resp.Trace = res.Trace
	}

	h.logger.Info("estimate",
		zap.String("request_id", requestID),
		zap.String("predicate", resp.Predicate),
		zap.Stringer("strategy", resp.Strategy),
		zap.Float64("selectivity", resp.Selectivity),
		zap.Bool("cached", resp.Cached))
	writeJSON(w, http.StatusOK, resp)
}

// cacheGet never answers traced requests, whose trace must be produced
// afresh.
func (h *Handler) cacheGet(key string, trace bool) (estimator.Result, bool) {
	if h.cache == nil || trace {
		return estimator.Result{}, false
	}
	return h.cache.Get(key)
}

func (h *Handler) PostCreateSketch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Table      string             `json:"table"`
		Column     string             `json:"column"`
		SketchType storage.SketchType `json:"sketch_type"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	if req.Table == "" || req.Column == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "table and column required"})
		return
	}
	if req.SketchType == "" {
		req.SketchType = storage.CountMinSketchType
	}
	if h.collector == nil {
		writeJSON(w, http.StatusServiceUnavailable, JSON{"error": "sketch collection disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var sk sketches.Sketch
	params := h.collector.Params()
	resp := JSON{"status": "ok", "sketch_type": req.SketchType}
	switch req.SketchType {
	case storage.CountMinSketchType:
		cms, err := h.collector.CountMin(ctx, req.Table, req.Column)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
			return
		}
		rows, err := h.collector.RowCount(ctx, req.Table)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
			return
		}
		if err := storage.UpsertTableRowCount(ctx, h.db, req.Table, rows); err != nil {
			writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
			return
		}
		h.reg.Register(req.Table, req.Column, cms)
		h.reg.SetTableRows(req.Table, rows)
		if h.catalog != nil {
			h.catalog.SetTableRows(req.Table, float64(rows))
		}
		if h.cache != nil {
			h.cache.Purge()
		}
		sk = cms
		resp["rows"] = rows
		resp["memory"] = humanize.Bytes(cms.SizeBytes())
	case storage.HyperLogLogType:
		hll, err := h.collector.HyperLogLog(ctx, req.Table, req.Column)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
			return
		}
		sk = hll
		params = storage.SketchParams{Bits: hll.Precision()}
	default:
		writeJSON(w, http.StatusBadRequest, JSON{"error": "unsupported sketch type"})
		return
	}
	describe(sk, resp)

	data := sk.Serialize()
	if err := storage.UpsertSketch(ctx, h.db, req.Table, req.Column, storage.SketchType(sk.Type()), data, params); err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}
	h.logger.Info("created sketch",
		zap.String("table", req.Table), zap.String("column", req.Column),
		zap.String("type", string(req.SketchType)), zap.Int("bytes", len(data)))

	resp["size_bytes"] = len(data)
	resp["size"] = humanize.Bytes(uint64(len(data)))
	writeJSON(w, http.StatusOK, resp)
}

// describe adds the accuracy guarantees of sk to resp.
func describe(sk sketches.Sketch, resp JSON) {
	switch s := sk.(type) {
	case sketches.FrequencySketch:
		resp["total"] = s.TotalCount()
		resp["error_bound"] = s.ErrorBound()
		resp["confidence"] = s.Confidence()
	case sketches.CardinalitySketch:
		resp["distinct"] = s.Count()
		resp["standard_error"] = s.StandardError()
	}
}

// PostUpdateSketch applies a batch of value counts to a registered
// Count-Min sketch and persists the result. Table row counts are left
// alone.
func (h *Handler) PostUpdateSketch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Table  string           `json:"table"`
		Column string           `json:"column"`
		Values map[string]int64 `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	if req.Table == "" || req.Column == "" || len(req.Values) == 0 {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "table, column and values required"})
		return
	}

	batch, ok := h.reg.NewBatch(req.Table, req.Column)
	if !ok {
		writeJSON(w, http.StatusNotFound, JSON{"error": "no sketch for " + req.Table + "." + req.Column})
		return
	}
	for value, n := range req.Values {
		if n < 0 {
			writeJSON(w, http.StatusBadRequest, JSON{"error": "counts must not be negative"})
			return
		}
		batch.UpdateString(value, n)
	}

	data, err := h.reg.Merge(req.Table, req.Column, batch)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}
	if h.cache != nil {
		h.cache.Purge()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	params := storage.SketchParams{Epsilon: batch.Epsilon(), Gamma: batch.Gamma(), Width: batch.Width(), Depth: batch.Depth()}
	if _, stored, err := storage.GetSketch(ctx, h.db, req.Table, req.Column, storage.CountMinSketchType); err == nil {
		params = stored
	}
	if err := storage.UpsertSketch(ctx, h.db, req.Table, req.Column, storage.CountMinSketchType, data, params); err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}
	h.logger.Info("updated sketch",
		zap.String("table", req.Table), zap.String("column", req.Column),
		zap.Int64("weight", batch.TotalCount()))
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "added": batch.TotalCount()})
}

type sketchListing struct {
	storage.SketchInfo
	Size    string `json:"size"`
	Created string `json:"created"`
}

func (h *Handler) GetSketches(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	infos, err := storage.ListSketches(ctx, h.db, table)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}

	out := make([]sketchListing, len(infos))
	for i, info := range infos {
		out[i] = sketchListing{
			SketchInfo: info,
			Size:       humanize.Bytes(uint64(info.SizeBytes)),
			Created:    humanize.Time(time.Unix(info.CreatedAt, 0)),
		}
	}
	writeJSON(w, http.StatusOK, JSON{"sketches": out})
}

func (h *Handler) GetOverrides(w http.ResponseWriter, r *http.Request) {
	rows := []overrides.Row{}
	mode := overrides.MatchSubstring
	if h.overrides != nil {
		rows = h.overrides.Rows()
		mode = h.overrides.Mode()
	}
	writeJSON(w, http.StatusOK, JSON{
		"enabled": h.est.Options().HardcodedSelectivities,
		"mode":    mode.String(),
		"rows":    rows,
	})
}
