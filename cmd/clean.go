// =============================================================================
// BI Recon Engine - Clean Command
// =============================================================================
//
// This file defines the 'clean' command, which runs one department pipeline
// over the input directory and writes the cleaned artifacts plus the
// discrepancy workbook to the output directory.
//
// COMMAND USAGE:
//   birecon clean <pipeline> [flags]
//
// PIPELINES:
//   sales           Sales exports (Sales_<UNIT>_<COMPNO>_<MM>_<YYYY>.xlsx)
//   orderentry      Order-entry exports, one artifact per entity
//   pex             Period-expense exports plus their headcount extracts
//   vendor          Paired-year KSB1 vendor line items (needs --period)
//   workingcapital  Overhead or DSO summaries (needs --period)
//
// FLAGS:
//   --input    : Override the configured input directory
//   --output   : Override the configured output directory
//   --grouped  : Order entry only: defer adjustments to the group merge
//   --analysis : Vendor only: To Period window, mom or qtd
//   --metric   : Working capital only: overhead or dso
//   --period   : Accounting month as MM-YYYY (vendor and working capital)
//
// PROCESSING PIPELINE:
//   1. Load configuration, company directory and rate workbook
//   2. Discover input files by the pipeline's filename pattern
//   3. Clean, convert and reconcile each file concurrently
//   4. Write the per-run discrepancy workbook
//   5. Print a per-file summary
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkfinops/bi-recon-engine/internal/pipeline"
	"github.com/mkfinops/bi-recon-engine/internal/types"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// inputDir overrides the configured input directory when set.
var inputDir string

// outputDir overrides the configured output directory when set.
var outputDir string

// grouped defers order-entry adjustments to the group merge.
var grouped bool

// analysis selects the vendor To Period window, mom or qtd.
var analysis string

// metric selects the working-capital summary, overhead or dso.
var metric string

// periodFlag is the accounting month as MM-YYYY.
var periodFlag string

// =============================================================================
// CLEAN COMMAND DEFINITION
// =============================================================================

// cleanCmd represents the 'clean' command.
var cleanCmd = &cobra.Command{
	Use:   "clean <pipeline>",
	Short: "Run one department pipeline over the input directory",
	Long: `The clean command scans the input directory for the spreadsheet exports of
one department pipeline, normalizes them into BI-ready artifacts with currency
conversion, reconciles the results against the Hyperion truth workbooks, and
writes everything to the output directory.

Files are processed concurrently. A file that does not match the pipeline's
filename pattern, or whose sheet does not match the expected layout, is
skipped with a logged reason; the batch always continues. Only a missing or
malformed reference workbook (company directory, currency rates, cost-element
groups) aborts the run.`,

	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"sales", "orderentry", "pex", "vendor", "workingcapital"},

	RunE: func(cmd *cobra.Command, args []string) error {
		return runClean(args[0])
	},
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringVar(&inputDir, "input", "", "Override the configured input directory")
	cleanCmd.Flags().StringVar(&outputDir, "output", "", "Override the configured output directory")
	cleanCmd.Flags().BoolVar(&grouped, "grouped", false, "Order entry: defer adjustments to the group merge")
	cleanCmd.Flags().StringVar(&analysis, "analysis", pipeline.AnalysisMonthOverMonth, "Vendor: To Period window (mom or qtd)")
	cleanCmd.Flags().StringVar(&metric, "metric", pipeline.MetricOverhead, "Working capital: summary to build (overhead or dso)")
	cleanCmd.Flags().StringVar(&periodFlag, "period", "", "Accounting month as MM-YYYY (vendor and working capital)")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// runClean runs the named pipeline and prints the per-file summary.
func runClean(name string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	in, out := cfg.InputDir, cfg.OutputDir
	if inputDir != "" {
		in = inputDir
	}
	if outputDir != "" {
		out = outputDir
	}

	deps, err := pipeline.NewDeps(cfg, log)
	if err != nil {
		return err
	}

	fmt.Println("=== BI Recon Engine ===")
	fmt.Printf("Pipeline:  %s\n", name)
	fmt.Printf("Input:     %s\n", in)
	fmt.Printf("Output:    %s\n\n", out)

	var results []types.Result
	switch name {
	case "sales":
		results, err = pipeline.NewSales(deps).Run(in, out)
	case "orderentry":
		results, err = pipeline.NewOrderEntry(deps, grouped).Run(in, out)
	case "pex":
		results, err = pipeline.NewPeriodExpense(deps).Run(in, out)
	case "vendor":
		period, perr := parsePeriodFlag()
		if perr != nil {
			return perr
		}
		results, err = pipeline.NewVendor(deps, analysis).Run(in, out, period)
	case "workingcapital":
		period, perr := parsePeriodFlag()
		if perr != nil {
			return perr
		}
		var r types.Result
		r, err = pipeline.NewWorkingCapital(deps).Run(in, out, metric, period)
		results = []types.Result{r}
	default:
		return fmt.Errorf("unknown pipeline %q (expected sales, orderentry, pex, vendor or workingcapital)", name)
	}

	printSummary(results)
	return err
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// parsePeriodFlag parses the required --period flag as MM-YYYY.
func parsePeriodFlag() (types.Period, error) {
	if periodFlag == "" {
		return types.Period{}, fmt.Errorf("this pipeline needs --period MM-YYYY")
	}
	var month, year int
	if _, err := fmt.Sscanf(periodFlag, "%d-%d", &month, &year); err != nil ||
		month < 1 || month > 12 || year < 2000 || year > 2100 {
		return types.Period{}, fmt.Errorf("invalid --period %q, expected MM-YYYY", periodFlag)
	}
	return types.Period{Month: month, Year: year}, nil
}

// printSummary prints one line per input file plus the run totals.
func printSummary(results []types.Result) {
	var processed, skippedCount, failedCount int
	for _, r := range results {
		base := filepath.Base(r.InputFile)
		switch {
		case r.Success:
			processed++
			outputs := make([]string, 0, len(r.OutputFiles))
			for _, o := range r.OutputFiles {
				outputs = append(outputs, filepath.Base(o))
			}
			fmt.Printf("  ✓ %s -> %s (%d rows, %s)\n",
				base, strings.Join(outputs, ", "), r.RowCount, r.Duration.Round(time.Millisecond))
		case r.Skipped:
			skippedCount++
			fmt.Printf("  - %s: skipped (%s)\n", base, r.SkipReason)
		default:
			failedCount++
			fmt.Printf("  ✗ %s: %v\n", base, r.Error)
		}
	}

	fmt.Println("\n=== Processing Complete ===")
	fmt.Printf("Total files:     %d\n", len(results))
	fmt.Printf("Processed:       %d\n", processed)
	fmt.Printf("Skipped:         %d\n", skippedCount)
	fmt.Printf("Errors:          %d\n", failedCount)
}
