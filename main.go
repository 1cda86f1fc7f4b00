// =============================================================================
// BI Recon Engine - Main Entry Point
// =============================================================================
//
// This is the main entry point for the BI Recon Engine CLI application.
// It initializes the Cobra CLI framework and delegates command execution to
// the cmd package.
//
// USAGE:
//   birecon clean <pipeline>  - Run one department pipeline over the input directory
//   birecon merge             - Merge per-entity artifacts up to group level
//   birecon serve             - Start the HTTP session service
//   birecon version           - Display the application version
//
// ARCHITECTURE:
//   This application follows a modular design where:
//   - cmd/           : Contains all CLI command definitions (Cobra)
//   - internal/      : Contains core business logic (not for external import)
//   - pkg/           : Contains shared utilities
//   - reference/     : Contains the company directory, rate and mapping workbooks
//
// =============================================================================

package main

import (
	"github.com/mkfinops/bi-recon-engine/cmd"
)

// main is the entry point of the application.
// It simply calls the Execute function from the cmd package, which
// initializes and runs the Cobra CLI.
func main() {
	cmd.Execute()
}
