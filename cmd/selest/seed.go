package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sahithikokkula/selest/pkg/seed"
)

var seedOpts seed.Options

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "create demo tables",
	Long: `
Drops and recreates the customers, small_products and large_sales demo
tables with skewed value distributions.
`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedOpts.Sales, "sales", 50000, "number of large_sales rows")
	seedCmd.Flags().Int64Var(&seedOpts.Seed, "seed", 42, "random seed for the generated data")
}

func runSeed(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	seedOpts.Logger = cliContext.logger
	if err := seed.Run(cmd.Context(), db, seedOpts); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Seed done.")
	return nil
}
