// Command selest seeds demo data, collects statistics and runs selectivity
// estimates against a SQLite database without starting the server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/selest/pkg/config"
	"github.com/sahithikokkula/selest/pkg/storage"
)

// cliContext holds state shared by every command, filled in before any of
// them runs.
var cliContext struct {
	cfg         config.Config
	logger      *zap.Logger
	dbPath      string
	profileType string
	stopProfile func()
}

var rootCmd = &cobra.Command{
	Use:           "selest",
	Short:         "sketch-backed selectivity estimation",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cliContext.dbPath != "" {
			cfg.DBPath = cliContext.dbPath
		}
		logger, err := cfg.Logger()
		if err != nil {
			return err
		}
		cliContext.cfg, cliContext.logger = cfg, logger
		stop, err := startProfiling(cliContext.profileType)
		if err != nil {
			return err
		}
		cliContext.stopProfile = stop
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cliContext.stopProfile != nil {
			cliContext.stopProfile()
		}
		_ = cliContext.logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cliContext.dbPath, "db", "", "SQLite database path (defaults to SELEST_DB_PATH)")
	pf.StringVar(&cliContext.profileType, "profile", "", "profile the command: cpu, mem, block or trace")

	rootCmd.AddCommand(seedCmd, collectCmd, estimateCmd, overridesCmd)
}

func startProfiling(profileType string) (func(), error) {
	switch profileType {
	case "":
		return nil, nil
	case "cpu":
		return profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop, nil
	case "mem":
		return profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop, nil
	case "block":
		return profile.Start(profile.BlockProfile, profile.ProfilePath(".")).Stop, nil
	case "trace":
		return profile.Start(profile.TraceProfile, profile.ProfilePath(".")).Stop, nil
	}
	return nil, errors.Newf("unexpected profile type %q", profileType)
}

// openDB opens the configured database and makes sure the statistics
// tables exist.
func openDB(cmd *cobra.Command) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cliContext.cfg.DBPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", cliContext.cfg.DBPath)
	}
	if err := storage.EnsureMetaTables(cmd.Context(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
