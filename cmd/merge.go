// =============================================================================
// BI Recon Engine - Merge Command
// =============================================================================
//
// This file defines the 'merge' command, which rolls the per-entity artifacts
// of the output directory up to group level. Entities are grouped by the
// company directory; each group's member files are concatenated into one
// group artifact and the members are removed on success.
//
// COMMAND USAGE:
//   birecon merge [flags]
//
// FLAGS:
//   --output  : Override the configured output directory
//   --dedupe  : Also remove content-identical artifacts after merging
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkfinops/bi-recon-engine/internal/directory"
	"github.com/mkfinops/bi-recon-engine/internal/merge"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// mergeOutputDir overrides the configured output directory when set.
var mergeOutputDir string

// dedupe also removes content-identical artifacts after merging.
var dedupe bool

// =============================================================================
// MERGE COMMAND DEFINITION
// =============================================================================

// mergeCmd represents the 'merge' command.
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge per-entity artifacts up to group level",
	Long: `The merge command scans the output directory for processed per-entity
artifacts (sales and order-entry CSVs, period-expense, headcount and vendor
workbooks), groups them by the grouping unit of the company directory, and
concatenates each group's members into one group artifact. Member files are
removed once their group artifact is written; a group that fails to merge
keeps its members untouched.

Order-entry artifacts cleaned with --grouped receive their Hyperion
adjustment rows here, against the merged group totals.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runMerge()
	},
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeOutputDir, "output", "", "Override the configured output directory")
	mergeCmd.Flags().BoolVar(&dedupe, "dedupe", false, "Remove content-identical artifacts after merging")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runMerge() error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	out := cfg.OutputDir
	if mergeOutputDir != "" {
		out = mergeOutputDir
	}

	dir, err := directory.Load(cfg.DirectoryFile, log)
	if err != nil {
		return err
	}
	files, err := utils.ListFiles(out)
	if err != nil {
		return err
	}

	fmt.Println("=== BI Recon Engine ===")
	fmt.Printf("Merging:   %s (%d files)\n\n", out, len(files))

	m := merge.New(dir, cfg.Truth.OrderEntryDir, log)
	var mergedNames []string
	mergedNames = append(mergedNames, m.MergeSales(out, files)...)
	mergedNames = append(mergedNames, m.MergeOrderEntry(out, files)...)
	mergedNames = append(mergedNames, m.MergePEXAndHeadcount(out, files)...)
	mergedNames = append(mergedNames, m.MergeVendor(out, files)...)

	for _, name := range mergedNames {
		fmt.Printf("  ✓ %s\n", name)
	}

	if dedupe {
		remaining, err := utils.ListFiles(out)
		if err != nil {
			return err
		}
		kept := m.RemoveDuplicates(out, remaining)
		fmt.Printf("\nDuplicates removed: %d\n", len(remaining)-len(kept))
	}

	fmt.Println("\n=== Merge Complete ===")
	fmt.Printf("Group artifacts: %d\n", len(mergedNames))
	return nil
}
