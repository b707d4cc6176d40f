// Package collector scans SQLite tables to build the statistics the
// estimator reads: Count-Min sketches per column, table row counts and
// records-per-key for every index.
package collector

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/sketches"
	"github.com/sahithikokkula/selest/pkg/storage"
)

// nullKey stands for SQL NULL in a sketch. No SQL literal renders to it, so
// NULLs count towards the total without matching any value.
const nullKey = "\x00"

// DefaultHLLBits is the HyperLogLog precision used for distinct counts.
const DefaultHLLBits = 12

type Options struct {
	Epsilon float64
	Gamma   float64
	Seeding sketches.Seeding
	HLLBits uint8
}

// Collector builds statistics. Every sketch it builds shares one hash
// family, so any two of them can be joined.
type Collector struct {
	db     *sql.DB
	opts   Options
	hashes []sketches.HashPair
	width  int
	depth  int
	// seeded is set when hashes came from opts.Seeding's fixed seed.
	seeded bool
	logger *zap.Logger
}

// New returns a collector with a hash family drawn from opts.Seeding. Its
// sketches can only be joined with each other; use Open to share a family
// with sketches already stored in db.
func New(db *sql.DB, opts Options, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	width, depth, err := sketches.Dimensions(opts.Epsilon, opts.Gamma)
	if err != nil {
		return nil, err
	}
	if opts.HLLBits == 0 {
		opts.HLLBits = DefaultHLLBits
	}
	return &Collector{
		db:     db,
		opts:   opts,
		hashes: sketches.GenerateHashes(depth, opts.Seeding),
		width:  width,
		depth:  depth,
		seeded: opts.Seeding.Mode == sketches.SeedFixed,
		logger: logger,
	}, nil
}

// Open returns a collector that uses the hash family stored in db for its
// sketch dimensions, storing a new one drawn from opts.Seeding when there is
// none. Sketches built by any two collectors opened on the same db with the
// same epsilon and gamma can be joined.
func Open(ctx context.Context, db *sql.DB, opts Options, logger *zap.Logger) (*Collector, error) {
	c, err := New(db, opts, logger)
	if err != nil {
		return nil, err
	}
	var seed *int64
	if c.seeded {
		s := opts.Seeding.Seed
		seed = &s
	}
	stored, err := storage.PutHashFamily(ctx, db, c.width, c.hashes, seed)
	if err != nil {
		return nil, err
	}
	if !sameHashes(stored, c.hashes) {
		if c.seeded {
			c.logger.Warn("stored hash family differs from the configured seed; using the stored one",
				zap.Int64("seed", opts.Seeding.Seed), zap.Int("width", c.width), zap.Int("depth", c.depth))
		}
		c.hashes, c.seeded = stored, false
	}
	return c, nil
}

func sameHashes(a, b []sketches.HashPair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Params describes the sketches this collector builds.
func (c *Collector) Params() storage.SketchParams {
	p := storage.SketchParams{Epsilon: c.opts.Epsilon, Gamma: c.opts.Gamma, Width: c.width, Depth: c.depth}
	if c.seeded {
		seed := c.opts.Seeding.Seed
		p.Seed = &seed
	}
	return p
}

// quoteIdent quotes a SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CountMin builds a sketch of table.column from grouped counts.
func (c *Collector) CountMin(ctx context.Context, table, column string) (*sketches.CountMinSketch, error) {
	if table == "" || column == "" {
		return nil, errors.New("table and column required")
	}
	cms, err := sketches.NewCountMinSketchWithHashes(c.opts.Epsilon, c.opts.Gamma, c.hashes)
	if err != nil {
		return nil, err
	}

	col := quoteIdent(column)
	query := "SELECT CAST(" + col + " AS TEXT), COUNT(*) FROM " + quoteIdent(table) + " GROUP BY " + col
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s.%s", table, column)
	}
	defer rows.Close()

	for rows.Next() {
		var key sql.NullString
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		if !key.Valid {
			key.String = nullKey
		}
		cms.UpdateString(key.String, count)
	}
	return cms, errors.Wrapf(rows.Err(), "scanning %s.%s", table, column)
}

// HyperLogLog estimates the distinct non-NULL values of table.column.
func (c *Collector) HyperLogLog(ctx context.Context, table, column string) (*sketches.HyperLogLog, error) {
	if column == "" {
		return nil, errors.New("column required for HyperLogLog")
	}
	hll, err := sketches.NewHyperLogLog(c.opts.HLLBits)
	if err != nil {
		return nil, err
	}
	col := quoteIdent(column)
	query := "SELECT CAST(" + col + " AS TEXT) FROM " + quoteIdent(table) + " WHERE " + col + " IS NOT NULL"
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s.%s", table, column)
	}
	defer rows.Close()

	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		hll.AddString(value)
	}
	return hll, errors.Wrapf(rows.Err(), "scanning %s.%s", table, column)
}

func (c *Collector) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	return n, errors.Wrapf(err, "counting rows of %s", table)
}

// Tables lists user tables, skipping SQLite's and our own.
func (c *Collector) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'selest_%' ORDER BY 1`)
	if err != nil {
		return nil, errors.Wrap(err, "listing tables")
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

type column struct {
	name string
	typ  string
	pk   int
}

func (c *Collector) columns(ctx context.Context, table string) ([]column, error) {
	rows, err := c.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "describing %s", table)
	}
	defer rows.Close()
	var cols []column
	for rows.Next() {
		var cid, notNull int
		var col column
		var dflt sql.NullString
		if err := rows.Scan(&cid, &col.name, &col.typ, &notNull, &dflt, &col.pk); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.Newf("table %s not found", table)
	}
	return cols, nil
}

// Columns lists the column names of table in declaration order.
func (c *Collector) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := c.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.name
	}
	return names, nil
}
