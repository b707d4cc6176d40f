package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sahithikokkula/selest/pkg/collector"
)

var collectColumns []string

var collectCmd = &cobra.Command{
	Use:   "collect [table...]",
	Short: "build sketches and index statistics",
	Long: `
Counts rows, builds a Count-Min sketch per column and records index
statistics for the named tables, or for every table when none are named.
Sketches of the same dimensions reuse the hash coefficients stored in the
database, so sketches from separate runs can be joined with each other.
`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().StringSliceVar(&collectColumns, "columns", nil, "only sketch these columns")
}

func runCollect(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := cliContext.cfg
	c, err := collector.Open(cmd.Context(), db, collector.Options{
		Epsilon: cfg.Sketch.Epsilon,
		Gamma:   cfg.Sketch.Gamma,
		Seeding: cfg.Seeding(),
		HLLBits: cfg.Sketch.HLLBits,
	}, cliContext.logger)
	if err != nil {
		return err
	}

	var sums []collector.Summary
	if len(args) == 0 {
		if sums, err = c.CollectAll(cmd.Context()); err != nil {
			return err
		}
	} else {
		for _, table := range args {
			s, err := c.Collect(cmd.Context(), table, collectColumns...)
			if err != nil {
				return err
			}
			sums = append(sums, s)
		}
	}

	out := cmd.OutOrStdout()
	for _, s := range sums {
		fmt.Fprintf(out, "%s: %s rows, %d sketches (%s) on %s, %d indexes\n",
			s.Table, humanize.Comma(s.Rows), len(s.Columns), humanize.Bytes(uint64(s.Bytes)),
			strings.Join(s.Columns, ", "), s.Indexes)
	}
	return nil
}
