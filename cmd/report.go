package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fscwatch/harvester/internal/manifest"
)

func newReportCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Prints the upload completeness report",
		Long: `Partitions the current upload candidates by manifest state and
prints how many are confirmed uploaded, failed, or were never attempted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the report as JSON")
	return cmd
}

func runReport(cmd *cobra.Command, jsonOut bool) error {
	man, err := manifest.Load(cfg.Upload.ManifestPath, logger.Named("manifest"))
	if err != nil {
		return err
	}

	candidates, err := filepath.Glob(filepath.Join(cfg.Upload.DocsDir, cfg.Upload.Pattern))
	if err != nil {
		return fmt.Errorf("glob candidates: %w", err)
	}
	report := man.BuildReport(candidates)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Upload report for %s (%d candidates)\n", cfg.Upload.DocsDir, report.Total())
	fmt.Fprintf(out, "  successful: %d\n", len(report.Successful))
	fmt.Fprintf(out, "  failed:     %d\n", len(report.Failed))
	fmt.Fprintf(out, "  pending:    %d\n", len(report.Pending))
	for _, path := range report.Failed {
		entry, _ := man.Get(path)
		fmt.Fprintf(out, "  FAILED %s: %s\n", path, entry.Error)
	}
	for _, path := range report.Pending {
		fmt.Fprintf(out, "  PENDING %s\n", path)
	}
	return nil
}
