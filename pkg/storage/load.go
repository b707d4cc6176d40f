package storage

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/catalog"
	"github.com/sahithikokkula/selest/pkg/registry"
	"github.com/sahithikokkula/selest/pkg/sketches"
)

// LoadRegistry registers every stored Count-Min sketch in reg and records
// each table's row count. Sketches that fail to decode are skipped and
// reported in the returned error; the others are still loaded.
func LoadRegistry(ctx context.Context, db *sql.DB, reg *registry.Registry, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	counts, err := TableRowCounts(ctx, db)
	if err != nil {
		return 0, err
	}
	for table, n := range counts {
		reg.SetTableRows(table, n)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT table_name, column_name, sketch_data FROM selest_sketches
		WHERE sketch_type = ?`, string(CountMinSketchType))
	if err != nil {
		return 0, errors.Wrap(err, "loading sketches")
	}
	defer rows.Close()

	var loaded int
	var errs error
	for rows.Next() {
		var table, column string
		var data []byte
		if err := rows.Scan(&table, &column, &data); err != nil {
			return loaded, err
		}
		cms, err := sketches.DeserializeCountMinSketch(data)
		if err != nil {
			logger.Warn("skipping unreadable sketch",
				zap.String("table", table), zap.String("column", column), zap.Error(err))
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "sketch %s.%s", table, column))
			continue
		}
		reg.Register(table, column, cms)
		loaded++
	}
	if err := rows.Err(); err != nil {
		return loaded, err
	}
	if err := reg.CheckTotals(); err != nil {
		logger.Warn("sketch totals disagree with row counts", zap.Error(err))
	}
	logger.Info("loaded sketches", zap.Int("sketches", loaded), zap.Int("tables", len(counts)))
	return loaded, errs
}

// LoadCatalog builds an in-memory catalog from the stored row counts and
// index statistics.
func LoadCatalog(ctx context.Context, db *sql.DB) (*catalog.Memory, error) {
	cat := catalog.NewMemory()
	counts, err := TableRowCounts(ctx, db)
	if err != nil {
		return nil, err
	}
	for table, n := range counts {
		cat.SetTableRows(table, float64(n))
	}
	stats, err := ListIndexStats(ctx, db)
	if err != nil {
		return nil, err
	}
	for _, s := range stats {
		idx := catalog.Index{Name: s.Index, Columns: s.Columns}
		if s.RecordsPerKey != nil {
			idx.RecordsPerKey = *s.RecordsPerKey
			idx.HasRecordsPerKey = true
		}
		cat.AddIndex(s.Table, idx)
	}
	return cat, nil
}
