package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/clock/system"
	"github.com/fscwatch/harvester/internal/docstore"
	"github.com/fscwatch/harvester/internal/docstore/memory"
	"github.com/fscwatch/harvester/internal/docstore/rest"
	"github.com/fscwatch/harvester/internal/fetch"
	"github.com/fscwatch/harvester/internal/manifest"
	"github.com/fscwatch/harvester/internal/metrics"
	"github.com/fscwatch/harvester/internal/uploader"
)

func newUploadCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Uploads rendered documents to the document store",
		Long: `Ships the rendered documents to the external document store.
Progress is tracked in the upload manifest, so an interrupted or failed
run resumes where it left off: confirmed successes are skipped, failures
are retried.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpload(cmd, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "upload into an in-process store instead of the real one")
	return cmd
}

func runUpload(cmd *cobra.Command, dryRun bool) error {
	ctx := cmd.Context()

	set := metrics.New(prometheus.NewRegistry())
	man, err := manifest.Load(cfg.Upload.ManifestPath, logger.Named("manifest"))
	if err != nil {
		return err
	}

	store, err := buildDocStore(dryRun, set)
	if err != nil {
		return err
	}

	up := uploader.New(store, man, system.New(), uploader.Config{
		StoreName:     cfg.Upload.StoreName,
		SkipExisting:  cfg.Upload.SkipExisting,
		Delay:         cfg.Upload.Delay(),
		SettleDelay:   cfg.Upload.SettleDelay(),
		MaxRetries:    cfg.HTTP.MaxRetries,
		BackoffFactor: cfg.HTTP.BackoffFactor,
	}, logger.Named("uploader"), set)

	report, err := up.UploadDirectory(ctx, cfg.Upload.DocsDir, cfg.Upload.Pattern)
	if err != nil {
		return fmt.Errorf("upload batch: %w", err)
	}

	stats := up.Stats()
	logger.Info("upload complete",
		zap.Int("total", stats.TotalFiles),
		zap.Int("uploaded", stats.UploadedFiles),
		zap.Int("skipped", stats.SkippedFiles),
		zap.Int("failed", stats.FailedFiles),
		zap.Int64("bytes", stats.TotalBytes))

	if len(report.Failed) > 0 {
		for path, entry := range up.FailedUploads() {
			logger.Warn("upload failed",
				zap.String("path", path),
				zap.String("error", entry.Error))
		}
		return fmt.Errorf("%d of %d uploads failed", len(report.Failed), report.Total())
	}
	return nil
}

// buildDocStore returns the document store client. The uploader owns
// the retry policy for upload and register, so the REST transport runs
// with a single attempt per call.
func buildDocStore(dryRun bool, set *metrics.Set) (docstore.Store, error) {
	if dryRun {
		return memory.New(), nil
	}
	if cfg.DocStore.BaseURL == "" {
		return nil, fmt.Errorf("docstore.base_url is required")
	}
	var headers map[string]string
	if cfg.DocStore.APIKey != "" {
		headers = map[string]string{"X-Api-Key": cfg.DocStore.APIKey}
	}
	transport := fetch.New(fetch.Config{
		Timeout:       cfg.HTTP.Timeout(),
		MaxRetries:    1,
		BackoffFactor: cfg.HTTP.BackoffFactor,
		UserAgent:     cfg.HTTP.UserAgent,
		Headers:       headers,
	}, logger.Named("fetch"), set)
	return rest.New(cfg.DocStore.BaseURL, transport, logger.Named("docstore")), nil
}
