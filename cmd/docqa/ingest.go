package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>...",
	Short: "Index PDF files without starting the server",
	Long: `Index PDF files into the configured vector store.

Files are read in place; they are not copied into the upload directory.
Every run appends new entries, so ingesting a file twice duplicates it.

Examples:
  docqa ingest report.pdf
  docqa ingest --config prod.yaml reports/*.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	out := cmd.OutOrStdout()
	var failed []error
	for _, path := range args {
		res, err := a.ingest.IngestFile(ctx, path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			failed = append(failed, fmt.Errorf("%s: %w", path, err))
			continue
		}
		fmt.Fprintf(out, "%s: %d pages, %d chunks indexed (document %s)\n",
			path, res.Pages, res.Entries, res.DocumentID)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed: %w", len(failed), len(args), errors.Join(failed...))
	}
	return nil
}
