package seed

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Run(ctx, db, Options{Sales: 1000, Seed: 1}))
	// reseeding replaces the tables
	require.NoError(t, Run(ctx, db, Options{Sales: 1000, Seed: 1}))

	counts := map[string]int{}
	for _, table := range Tables {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		counts[table] = n
	}
	require.Equal(t, map[string]int{"customers": 51, "large_sales": 1000, "small_products": 21}, counts)

	// every sale references an existing customer and product
	var orphans int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM large_sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		LEFT JOIN small_products p ON p.id = s.product_id
		WHERE c.id IS NULL OR p.id IS NULL`).Scan(&orphans))
	require.Zero(t, orphans)
}
