package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/sahithikokkula/selest/pkg/sketches"
)

// GetHashFamily returns the hash coefficients stored for sketches of the
// given dimensions. It returns sql.ErrNoRows, possibly wrapped, when none
// is stored.
func GetHashFamily(ctx context.Context, db *sql.DB, width, depth int) ([]sketches.HashPair, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT hashes FROM selest_hash_families WHERE width = ? AND depth = ?`,
		width, depth).Scan(&raw)
	if err != nil {
		return nil, errors.Wrapf(err, "loading hash family %dx%d", depth, width)
	}
	var hashes []sketches.HashPair
	if err := json.Unmarshal([]byte(raw), &hashes); err != nil {
		return nil, errors.Wrapf(err, "decoding hash family %dx%d", depth, width)
	}
	if len(hashes) != depth {
		return nil, errors.Newf("hash family %dx%d has %d pairs", depth, width, len(hashes))
	}
	return hashes, nil
}

// PutHashFamily stores hashes for sketches of the given dimensions unless a
// family is already stored, and returns whichever family is stored
// afterwards. Every sketch built from the returned family can be joined
// with every other sketch of the same dimensions in db.
func PutHashFamily(ctx context.Context, db *sql.DB, width int, hashes []sketches.HashPair, seed *int64) ([]sketches.HashPair, error) {
	encoded, err := json.Marshal(hashes)
	if err != nil {
		return nil, err
	}
	var s sql.NullInt64
	if seed != nil {
		s = sql.NullInt64{Int64: *seed, Valid: true}
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO selest_hash_families(width, depth, hashes, seed, created_at)
		VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(width, depth) DO NOTHING`,
		width, len(hashes), string(encoded), s); err != nil {
		return nil, errors.Wrapf(err, "storing hash family %dx%d", len(hashes), width)
	}
	return GetHashFamily(ctx, db, width, len(hashes))
}
