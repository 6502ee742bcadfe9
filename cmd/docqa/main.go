// Docqa answers questions about uploaded PDF documents.
//
// Usage:
//
//	# Start the HTTP API
//	docqa serve
//
//	# Index documents without the server
//	docqa ingest report.pdf appendix.pdf
//
//	# Ask one question from the terminal
//	docqa ask "What was the revenue in 2023?"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Conversational question answering over PDF documents",
	Long: `docqa indexes uploaded PDFs into a vector store and answers questions about
them with a tool-using agent that remembers earlier turns per session.

Configuration is read from docqa.yaml (or --config) and DOCQA_* environment
variables.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "docqa by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
