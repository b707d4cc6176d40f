package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sahithikokkula/selest/pkg/estimator"
	"github.com/sahithikokkula/selest/pkg/overrides"
	"github.com/sahithikokkula/selest/pkg/predicate"
	"github.com/sahithikokkula/selest/pkg/registry"
	"github.com/sahithikokkula/selest/pkg/storage"
)

var estimateOpts struct {
	trace  bool
	tables []string
}

var estimateCmd = &cobra.Command{
	Use:   "estimate <predicate>",
	Short: "estimate the selectivity of a predicate",
	Long: `
Estimates the selectivity of a SQL boolean expression such as

  selest estimate "large_sales.customer_id = customers.id"

using the statistics stored by collect and the configured override table.
`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	f := estimateCmd.Flags()
	f.BoolVar(&estimateOpts.trace, "trace", false, "print how the estimate was reached")
	f.StringSliceVar(&estimateOpts.tables, "tables", nil, "table order; the first table is the driving one")
}

func runEstimate(cmd *cobra.Command, args []string) error {
	p, err := predicate.NewScope(estimateOpts.tables...).Parse(args[0])
	if err != nil {
		return err
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg, logger := cliContext.cfg, cliContext.logger
	reg := registry.New(logger)
	if _, err := storage.LoadRegistry(cmd.Context(), db, reg, logger); err != nil {
		logger.Warn("some sketches were not loaded", zap.Error(err))
	}
	cat, err := storage.LoadCatalog(cmd.Context(), db)
	if err != nil {
		return err
	}
	table := overrides.New()
	if path := cfg.Estimator.OverridesPath; path != "" {
		if table, err = overrides.Load(path); err != nil {
			logger.Warn("override table loaded with errors", zap.Error(err))
		}
	}

	est := estimator.New(reg, table.WithMode(cfg.MatchMode()), cat, nil, estimator.Options{
		AutoStatistics:         cfg.Estimator.AutoStatistics,
		HardcodedSelectivities: cfg.Estimator.HardcodedSelectivities,
		RowsInTable:            cfg.Estimator.RowsInTable,
	}, logger)
	res := est.Explain(p)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\nselectivity = %.10f (%s)\n", p, res.Selectivity, res.Strategy)
	if estimateOpts.trace {
		fmt.Fprint(out, strings.TrimRight(res.Trace, "\n")+"\n")
	}
	return nil
}
