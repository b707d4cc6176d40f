package api

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/catalog"
	"github.com/sahithikokkula/selest/pkg/collector"
	"github.com/sahithikokkula/selest/pkg/estimator"
	"github.com/sahithikokkula/selest/pkg/metrics"
	"github.com/sahithikokkula/selest/pkg/overrides"
	"github.com/sahithikokkula/selest/pkg/registry"
)

type JSON map[string]any

// Deps are the collaborators a Handler serves. Collector may be nil, which
// disables sketch creation. Catalog, when set, receives the row counts of
// tables whose sketches are rebuilt.
type Deps struct {
	DB        *sql.DB
	Estimator *estimator.Estimator
	Registry  *registry.Registry
	Catalog   *catalog.Memory
	Overrides *overrides.Table
	Collector *collector.Collector
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	// CacheSize bounds the estimate cache; zero disables it.
	CacheSize int
}

type Handler struct {
	db        *sql.DB
	est       *estimator.Estimator
	reg       *registry.Registry
	catalog   *catalog.Memory
	overrides *overrides.Table
	collector *collector.Collector
	metrics   *metrics.Metrics
	cache     *lru.Cache[string, estimator.Result]
	logger    *zap.Logger
}

func NewHandler(d Deps) (*Handler, error) {
	h := &Handler{
		db:        d.DB,
		est:       d.Estimator,
		reg:       d.Registry,
		catalog:   d.Catalog,
		overrides: d.Overrides,
		collector: d.Collector,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}
	if h.reg == nil {
		h.reg = registry.New(h.logger)
	}
	if h.est == nil {
		h.est = estimator.New(h.reg, h.overrides, nil, nil, estimator.Options{Recorder: h.metrics}, h.logger)
	}
	if d.CacheSize > 0 {
		cache, err := lru.New[string, estimator.Result](d.CacheSize)
		if err != nil {
			return nil, err
		}
		h.cache = cache
	}
	return h, nil
}

func RegisterRoutes(r *mux.Router, h *Handler) {
	handle := func(path, name string, fn http.HandlerFunc, method string) {
		r.Handle(path, h.metrics.Instrument(name, fn)).Methods(method)
	}

	// Core endpoints
	handle("/health", "health", h.Health, http.MethodGet)
	handle("/tables", "tables", h.ListTables, http.MethodGet)
	handle("/estimate", "estimate", h.PostEstimate, http.MethodPost)

	// Statistics endpoints
	handle("/sketches", "sketches", h.GetSketches, http.MethodGet)
	handle("/sketches/create", "sketches_create", h.PostCreateSketch, http.MethodPost)
	handle("/sketches/update", "sketches_update", h.PostUpdateSketch, http.MethodPost)
	handle("/overrides", "overrides", h.GetOverrides, http.MethodGet)

	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
