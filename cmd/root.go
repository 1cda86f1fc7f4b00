// =============================================================================
// BI Recon Engine - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands (like 'clean', 'merge') are
// attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (birecon)
//   ├── cleanCmd (birecon clean <pipeline>)
//   ├── mergeCmd (birecon merge)
//   ├── serveCmd (birecon serve)
//   └── versionCmd (birecon version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading the configuration and building the logger for subcommands
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mkfinops/bi-recon-engine/internal/config"
	"github.com/mkfinops/bi-recon-engine/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
// This can be overridden using the --config flag.
var cfgFile string

// verbose enables verbose logging when set to true.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use: "birecon",

	Short: "BI Recon Engine - Clean, convert and reconcile department spreadsheets",

	Long: `BI Recon Engine ingests the monthly spreadsheet exports of the finance
department (sales, order entry, period expense, headcount, vendor line items,
working capital), normalizes them into BI-ready artifacts with currency
conversion, and reconciles the results against the Hyperion truth extracts.

Key Features:
  - Six department pipelines driven by filename conventions
  - Currency normalization from the monthly rate workbook
  - Hyperion reconciliation with a per-run discrepancy workbook
  - Group-level merging of per-entity artifacts with duplicate removal
  - A session-scoped HTTP service for analysts without a shell

Example Usage:
  birecon clean sales                    # Clean every sales export in the input directory
  birecon clean vendor --period 09-2025  # Vendor analysis for September 2025
  birecon merge --dedupe                 # Merge per-entity outputs and drop duplicates
  birecon serve                          # Start the HTTP session service`,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// SHARED RUNTIME
// =============================================================================

// loadRuntime loads the configuration and builds the logger every subcommand
// runs with.
func loadRuntime() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.LogLevel, verbose), nil
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	// Persistent flags are available to this command and all subcommands.
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}
