// Package storage persists sketches, table row counts and index statistics
// in SQLite next to the data they describe.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

func EnsureMetaTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS selest_table_stats (
			table_name TEXT PRIMARY KEY,
			row_count INTEGER DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS selest_sketches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			sketch_type TEXT NOT NULL,
			sketch_data BLOB NOT NULL,
			parameters TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(table_name, column_name, sketch_type)
		);`,
		`CREATE TABLE IF NOT EXISTS selest_index_stats (
			table_name TEXT NOT NULL,
			index_name TEXT NOT NULL,
			columns TEXT NOT NULL,
			records_per_key REAL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(table_name, index_name)
		);`,
		`CREATE TABLE IF NOT EXISTS selest_hash_families (
			width INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			hashes TEXT NOT NULL,
			seed INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(width, depth)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "creating meta tables")
		}
	}
	return nil
}

// UpsertTableRowCount sets the row_count for a table.
func UpsertTableRowCount(ctx context.Context, db *sql.DB, table string, count int64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO selest_table_stats(table_name,row_count,updated_at)
		VALUES(?,?,CURRENT_TIMESTAMP)
		ON CONFLICT(table_name) DO UPDATE SET row_count=excluded.row_count, updated_at=CURRENT_TIMESTAMP`,
		strings.ToLower(table), count)
	return errors.Wrapf(err, "storing row count of %s", table)
}

// TableRowCounts returns every recorded row count keyed by table name.
func TableRowCounts(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT table_name, row_count FROM selest_table_stats`)
	if err != nil {
		return nil, errors.Wrap(err, "listing row counts")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var table string
		var n int64
		if err := rows.Scan(&table, &n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, rows.Err()
}

// SketchParams is stored as JSON alongside each sketch.
type SketchParams struct {
	Epsilon float64 `json:"epsilon,omitempty"`
	Gamma   float64 `json:"gamma,omitempty"`
	Width   int     `json:"width,omitempty"`
	Depth   int     `json:"depth,omitempty"`
	Seed    *int64  `json:"seed,omitempty"`
	Bits    uint8   `json:"bits,omitempty"`
}

// UpsertSketch stores or updates a sketch
func UpsertSketch(ctx context.Context, db *sql.DB, table, column string, sketchType SketchType, data []byte, params SketchParams) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO selest_sketches(table_name, column_name, sketch_type, sketch_data, parameters, created_at)
		VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(table_name, column_name, sketch_type)
		DO UPDATE SET sketch_data=excluded.sketch_data, parameters=excluded.parameters, created_at=CURRENT_TIMESTAMP`,
		strings.ToLower(table), strings.ToLower(column), string(sketchType), data, string(encoded))
	return errors.Wrapf(err, "storing %s sketch of %s.%s", sketchType, table, column)
}

// GetSketch retrieves a sketch. It returns sql.ErrNoRows, possibly wrapped,
// when none is stored.
func GetSketch(ctx context.Context, db *sql.DB, table, column string, sketchType SketchType) ([]byte, SketchParams, error) {
	var data []byte
	var raw sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT sketch_data, parameters FROM selest_sketches
		WHERE table_name = ? AND column_name = ? AND sketch_type = ?`,
		strings.ToLower(table), strings.ToLower(column), string(sketchType)).Scan(&data, &raw)
	if err != nil {
		return nil, SketchParams{}, errors.Wrapf(err, "loading %s sketch of %s.%s", sketchType, table, column)
	}
	params, err := decodeParams(raw)
	return data, params, err
}

// DeleteSketch removes a stored sketch; deleting a missing one is not an
// error.
func DeleteSketch(ctx context.Context, db *sql.DB, table, column string, sketchType SketchType) error {
	_, err := db.ExecContext(ctx, `DELETE FROM selest_sketches
		WHERE table_name = ? AND column_name = ? AND sketch_type = ?`,
		strings.ToLower(table), strings.ToLower(column), string(sketchType))
	return errors.Wrapf(err, "deleting %s sketch of %s.%s", sketchType, table, column)
}

// ListSketches returns stored sketch metadata, for one table or for all
// tables when table is empty.
func ListSketches(ctx context.Context, db *sql.DB, table string) ([]SketchInfo, error) {
	query := `
		SELECT table_name, column_name, sketch_type, parameters, length(sketch_data),
		       CAST(strftime('%s', created_at) AS INTEGER)
		FROM selest_sketches`
	var args []interface{}
	if table != "" {
		query += ` WHERE table_name = ?`
		args = append(args, strings.ToLower(table))
	}
	query += ` ORDER BY table_name, column_name, sketch_type`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing sketches")
	}
	defer rows.Close()

	var infos []SketchInfo
	for rows.Next() {
		var info SketchInfo
		var sketchType string
		var raw sql.NullString
		if err := rows.Scan(&info.Table, &info.Column, &sketchType, &raw, &info.SizeBytes, &info.CreatedAt); err != nil {
			return nil, err
		}
		info.Type = SketchType(sketchType)
		if info.Parameters, err = decodeParams(raw); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func decodeParams(raw sql.NullString) (SketchParams, error) {
	var params SketchParams
	if !raw.Valid || raw.String == "" {
		return params, nil
	}
	err := json.Unmarshal([]byte(raw.String), &params)
	return params, errors.Wrap(err, "decoding sketch parameters")
}

// SketchInfo contains metadata about a sketch
type SketchInfo struct {
	Type       SketchType   `json:"type"`
	Table      string       `json:"table"`
	Column     string       `json:"column"`
	SizeBytes  int64        `json:"size_bytes"`
	CreatedAt  int64        `json:"created_at"`
	Parameters SketchParams `json:"parameters"`
}

// SketchType represents the type of sketch
type SketchType string

const (
	HyperLogLogType    SketchType = "hyperloglog"
	CountMinSketchType SketchType = "countmin"
)

// IndexStat is the persisted form of one index and its records-per-key.
type IndexStat struct {
	Table         string   `json:"table"`
	Index         string   `json:"index"`
	Columns       []string `json:"columns"`
	RecordsPerKey *float64 `json:"records_per_key,omitempty"`
}

func UpsertIndexStat(ctx context.Context, db *sql.DB, stat IndexStat) error {
	var rpk sql.NullFloat64
	if stat.RecordsPerKey != nil {
		rpk = sql.NullFloat64{Float64: *stat.RecordsPerKey, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO selest_index_stats(table_name, index_name, columns, records_per_key, updated_at)
		VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(table_name, index_name)
		DO UPDATE SET columns=excluded.columns, records_per_key=excluded.records_per_key, updated_at=CURRENT_TIMESTAMP`,
		strings.ToLower(stat.Table), stat.Index, strings.ToLower(strings.Join(stat.Columns, ",")), rpk)
	return errors.Wrapf(err, "storing index %s of %s", stat.Index, stat.Table)
}

func ListIndexStats(ctx context.Context, db *sql.DB) ([]IndexStat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name, index_name, columns, records_per_key
		FROM selest_index_stats ORDER BY table_name, index_name`)
	if err != nil {
		return nil, errors.Wrap(err, "listing index stats")
	}
	defer rows.Close()

	var stats []IndexStat
	for rows.Next() {
		var s IndexStat
		var cols string
		var rpk sql.NullFloat64
		if err := rows.Scan(&s.Table, &s.Index, &cols, &rpk); err != nil {
			return nil, err
		}
		if cols != "" {
			s.Columns = strings.Split(cols, ",")
		}
		if rpk.Valid {
			v := rpk.Float64
			s.RecordsPerKey = &v
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
