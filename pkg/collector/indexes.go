package collector

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/storage"
)

// PrimaryIndex names the implicit index of an INTEGER PRIMARY KEY, which
// SQLite does not list among a table's indexes.
const PrimaryIndex = "PRIMARY"

// Indexes describes every index of table. RecordsPerKey is the table row
// count divided by the distinct values of the leading column; it is left
// unset for expression indexes and for empty tables.
func (c *Collector) Indexes(ctx context.Context, table string, rowCount int64) ([]storage.IndexStat, error) {
	cols, err := c.columns(ctx, table)
	if err != nil {
		return nil, err
	}

	var stats []storage.IndexStat
	var pk []column
	for _, col := range cols {
		if col.pk > 0 {
			pk = append(pk, col)
		}
	}
	if len(pk) == 1 && strings.EqualFold(pk[0].typ, "INTEGER") {
		one := 1.0
		stats = append(stats, storage.IndexStat{Table: table, Index: PrimaryIndex, Columns: []string{pk[0].name}, RecordsPerKey: &one})
	}

	names, err := c.indexNames(ctx, table)
	if err != nil {
		return nil, err
	}
	distinct := make(map[string]uint64)
	for _, name := range names {
		keyCols, err := c.indexColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		stat := storage.IndexStat{Table: table, Index: name, Columns: keyCols}
		if len(keyCols) > 0 && keyCols[0] != "" && rowCount > 0 {
			lead := strings.ToLower(keyCols[0])
			ndv, ok := distinct[lead]
			if !ok {
				hll, err := c.HyperLogLog(ctx, table, keyCols[0])
				if err != nil {
					return nil, err
				}
				ndv = hll.Count()
				distinct[lead] = ndv
			}
			if ndv > 0 {
				rpk := float64(rowCount) / float64(ndv)
				stat.RecordsPerKey = &rpk
			}
		}
		c.logger.Debug("found index",
			zap.String("table", table), zap.String("index", name), zap.Strings("columns", keyCols))
		stats = append(stats, stat)
	}
	return stats, nil
}

func (c *Collector) indexNames(ctx context.Context, table string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "PRAGMA index_list("+quoteIdent(table)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "listing indexes of %s", table)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// indexColumns returns the key columns of an index in key order. An
// expression key is reported as "".
func (c *Collector) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "PRAGMA index_info("+quoteIdent(index)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "describing index %s", index)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		cols = append(cols, name.String)
	}
	return cols, rows.Err()
}

// Summary reports what Collect stored for one table.
type Summary struct {
	Table   string   `json:"table"`
	Rows    int64    `json:"rows"`
	Columns []string `json:"columns"`
	Indexes int      `json:"indexes"`
	Bytes   int      `json:"bytes"`
}

// Collect counts the rows of table, sketches the given columns (every
// column when none are given) and records its index statistics.
func (c *Collector) Collect(ctx context.Context, table string, columns ...string) (Summary, error) {
	sum := Summary{Table: table}
	if len(columns) == 0 {
		var err error
		if columns, err = c.Columns(ctx, table); err != nil {
			return sum, err
		}
	}

	rows, err := c.RowCount(ctx, table)
	if err != nil {
		return sum, err
	}
	sum.Rows = rows
	if err := storage.UpsertTableRowCount(ctx, c.db, table, rows); err != nil {
		return sum, err
	}

	for _, col := range columns {
		cms, err := c.CountMin(ctx, table, col)
		if err != nil {
			return sum, err
		}
		data := cms.Serialize()
		if err := storage.UpsertSketch(ctx, c.db, table, col, storage.CountMinSketchType, data, c.Params()); err != nil {
			return sum, err
		}
		sum.Columns = append(sum.Columns, col)
		sum.Bytes += len(data)
	}

	stats, err := c.Indexes(ctx, table, rows)
	if err != nil {
		return sum, err
	}
	for _, s := range stats {
		if err := storage.UpsertIndexStat(ctx, c.db, s); err != nil {
			return sum, err
		}
	}
	sum.Indexes = len(stats)

	c.logger.Info("collected statistics",
		zap.String("table", table),
		zap.Int64("rows", rows),
		zap.Int("sketches", len(sum.Columns)),
		zap.Int("indexes", sum.Indexes))
	return sum, nil
}

// CollectAll runs Collect on every user table.
func (c *Collector) CollectAll(ctx context.Context) ([]Summary, error) {
	tables, err := c.Tables(ctx)
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, t := range tables {
		s, err := c.Collect(ctx, t)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}
