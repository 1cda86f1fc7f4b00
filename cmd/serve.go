// =============================================================================
// BI Recon Engine - Serve Command
// =============================================================================
//
// This file defines the 'serve' command, which starts the HTTP session
// service. Analysts create a session, upload their department workbooks,
// trigger pipelines and download the artifacts over plain HTTP.
//
// COMMAND USAGE:
//   birecon serve [flags]
//
// FLAGS:
//   --addr : Override the configured listen address
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mkfinops/bi-recon-engine/internal/server"
)

// addr overrides the configured listen address when set.
var addr string

// serveCmd represents the 'serve' command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP session service",
	Long: `The serve command starts the HTTP session service. Each session is an
isolated upload/output directory pair under the configured work root with its
own rate cache; concurrent sessions never see each other's files.

Endpoints:
  POST /sessions                        Create a session
  POST /sessions/:id/files              Upload workbooks (multipart "files")
  POST /sessions/:id/clean/:pipeline    Run a pipeline over the uploads
  POST /sessions/:id/merge              Merge artifacts up to group level
  POST /sessions/:id/dedupe             Remove content-identical artifacts
  GET  /sessions/:id/files              List uploads and outputs
  GET  /sessions/:id/files/:name        Download one artifact
  GET  /sessions/:id/archive            Download all artifacts as a zip`,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		if addr != "" {
			cfg.ServerAddr = addr
		}
		return server.New(cfg, log).Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&addr, "addr", "", "Override the configured listen address")
}
