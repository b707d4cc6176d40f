package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sahithikokkula/selest/pkg/overrides"
	"github.com/sahithikokkula/selest/pkg/predicate"
)

var overridesMode string

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "inspect override tables",
}

var overridesCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "list the rows of an override file and report malformed lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runOverridesCheck,
}

var overridesLookupCmd = &cobra.Command{
	Use:   "lookup <file> <predicate>",
	Short: "show which override row a predicate matches",
	Args:  cobra.ExactArgs(2),
	RunE:  runOverridesLookup,
}

func init() {
	overridesLookupCmd.Flags().StringVar(&overridesMode, "mode", "substring", "match mode: substring or structural")
	overridesCmd.AddCommand(overridesCheckCmd, overridesLookupCmd)
}

func runOverridesCheck(cmd *cobra.Command, args []string) error {
	table, loadErr := overrides.Load(args[0])
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "LEFT\tOP\tRIGHT\tSELECTIVITY")
	for _, row := range table.Rows() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\n", row.Left, row.Operator, row.Right, row.Selectivity)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return loadErr
}

func runOverridesLookup(cmd *cobra.Command, args []string) error {
	mode, err := overrides.ParseMatchMode(overridesMode)
	if err != nil {
		return err
	}
	table, err := overrides.Load(args[0])
	if err != nil {
		cliContext.logger.Sugar().Warnf("override table loaded with errors: %v", err)
	}
	p, err := predicate.Parse(args[1])
	if err != nil {
		return err
	}
	sel, ok := table.WithMode(mode).Lookup(p)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", p)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %g\n", p, sel)
	return nil
}
