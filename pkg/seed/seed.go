// Package seed fills a SQLite database with demo tables whose columns have
// skewed, joinable value distributions.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Options struct {
	// Sales is the number of large_sales rows; the other tables scale
	// from it.
	Sales  int
	// Seed makes the generated data reproducible.
	Seed   int64
	Logger *zap.Logger
}

// Tables lists the tables Run creates.
var Tables = []string{"customers", "large_sales", "small_products"}

var (
	regions        = []string{"North America", "Europe", "Asia", "South America", "Africa", "Oceania"}
	categories     = []string{"Electronics", "Clothing", "Home & Garden", "Sports", "Books", "Beauty"}
	paymentMethods = []string{"Credit Card", "Debit Card", "PayPal", "Bank Transfer", "Cash"}
	countries      = []string{"US", "IN", "DE", "FR", "GB", "BR", "CA", "AU", "JP", "MX"}
	products       = []string{
		"Wireless Headphones", "Bluetooth Speaker", "Phone Case", "Laptop Stand",
		"Coffee Mug", "Water Bottle", "Notebook", "Pen Set", "Mouse Pad",
		"USB Cable", "Power Bank", "Desk Lamp", "Phone Charger", "Backpack",
	}
)

// Run drops and recreates the demo tables.
func Run(ctx context.Context, db *sql.DB, opts Options) error {
	if opts.Sales <= 0 {
		opts.Sales = 50000
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	stmts := []string{
		`DROP TABLE IF EXISTS large_sales`,
		`DROP TABLE IF EXISTS small_products`,
		`DROP TABLE IF EXISTS customers`,
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			country TEXT NOT NULL,
			segment TEXT NOT NULL
		)`,
		`CREATE TABLE small_products (
			id INTEGER PRIMARY KEY,
			product_name TEXT NOT NULL,
			category TEXT NOT NULL,
			price REAL NOT NULL,
			supplier_id INTEGER
		)`,
		`CREATE TABLE large_sales (
			id INTEGER PRIMARY KEY,
			customer_id INTEGER NOT NULL,
			product_id INTEGER NOT NULL,
			order_date DATE NOT NULL,
			amount REAL NOT NULL,
			region TEXT NOT NULL,
			product_category TEXT NOT NULL,
			payment_method TEXT
		)`,
		`CREATE INDEX large_sales_customer ON large_sales(customer_id)`,
		`CREATE INDEX large_sales_product ON large_sales(product_id, order_date)`,
		`CREATE INDEX small_products_category ON small_products(category)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "creating demo tables")
		}
	}

	customers := opts.Sales/20 + 1
	productCount := opts.Sales/50 + 1

	err := insert(ctx, db, `INSERT INTO customers(id, country, segment) VALUES (?, ?, ?)`, customers,
		func(i int) []any {
			// a few countries hold most customers
			c := countries[zipf(rng, len(countries))]
			segment := "consumer"
			if rng.Float64() < 0.2 {
				segment = "business"
			}
			return []any{i + 1, c, segment}
		})
	if err != nil {
		return errors.Wrap(err, "seeding customers")
	}

	err = insert(ctx, db, `INSERT INTO small_products(id, product_name, category, price, supplier_id) VALUES (?, ?, ?, ?, ?)`, productCount,
		func(i int) []any {
			name := fmt.Sprintf("%s #%d", products[rng.Intn(len(products))], rng.Intn(1000))
			return []any{i + 1, name, categories[rng.Intn(len(categories))], float64(rng.Intn(500)) + 5, rng.Intn(50) + 1}
		})
	if err != nil {
		return errors.Wrap(err, "seeding small_products")
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err = insert(ctx, db, `INSERT INTO large_sales(id, customer_id, product_id, order_date, amount, region, product_category, payment_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, opts.Sales,
		func(i int) []any {
			if i%10000 == 0 && i > 0 {
				logger.Info("seeding large_sales", zap.Int("inserted", i), zap.Int("total", opts.Sales))
			}
			var amount float64
			switch r := rng.Float64(); {
			case r < 0.7:
				amount = float64(rng.Intn(500)) + 10
			case r < 0.9:
				amount = float64(rng.Intn(2000)) + 500
			default:
				amount = float64(rng.Intn(5000)) + 2000
			}
			return []any{
				i + 1,
				zipf(rng, customers) + 1,
				rng.Intn(productCount) + 1,
				start.AddDate(0, 0, rng.Intn(365)).Format("2006-01-02"),
				amount,
				regions[zipf(rng, len(regions))],
				categories[rng.Intn(len(categories))],
				paymentMethods[rng.Intn(len(paymentMethods))],
			}
		})
	if err != nil {
		return errors.Wrap(err, "seeding large_sales")
	}

	logger.Info("seeded demo tables",
		zap.Int("customers", customers), zap.Int("products", productCount), zap.Int("sales", opts.Sales))
	return nil
}

// zipf draws from [0, n), heavily skewed towards small values.
func zipf(rng *rand.Rand, n int) int {
	if n <= 1 {
		return 0
	}
	z := rand.NewZipf(rng, 1.1, 1, uint64(n-1))
	return int(z.Uint64())
}

func insert(ctx context.Context, db *sql.DB, query string, n int, row func(i int) []any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return errors.Wrapf(err, "row %d", i)
		}
	}
	return tx.Commit()
}
