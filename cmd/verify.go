package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/manifest"
	"github.com/fscwatch/harvester/internal/metrics"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Checks the manifest against the document store listing",
		Long: `Lists the files registered in the document store and compares
them against the manifest's successful entries. Reports entries the
store has lost and files the store holds that the manifest does not
know about.`,
		RunE: runVerify,
	}
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	set := metrics.New(prometheus.NewRegistry())
	man, err := manifest.Load(cfg.Upload.ManifestPath, logger.Named("manifest"))
	if err != nil {
		return err
	}

	store, err := buildDocStore(false, set)
	if err != nil {
		return err
	}
	storeID, err := store.GetOrCreateStore(ctx, cfg.Upload.StoreName)
	if err != nil {
		return fmt.Errorf("resolve store %q: %w", cfg.Upload.StoreName, err)
	}
	files, err := store.ListFiles(ctx, storeID)
	if err != nil {
		return fmt.Errorf("list store files: %w", err)
	}

	remote := make(map[string]bool, len(files))
	for _, f := range files {
		remote[f.DisplayName] = true
	}

	var missing []string
	matched := 0
	for path := range man.SuccessfulEntries() {
		if remote[filepath.Base(path)] {
			matched++
		} else {
			missing = append(missing, path)
		}
	}
	sort.Strings(missing)

	logger.Info("verification finished",
		zap.String("store_id", storeID),
		zap.Int("manifest_successful", matched+len(missing)),
		zap.Int("present_in_store", matched),
		zap.Int("missing_from_store", len(missing)),
		zap.Int("store_total", len(files)))

	for _, path := range missing {
		logger.Warn("manifest success missing from store", zap.String("path", path))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d uploaded documents missing from the store", len(missing))
	}
	return nil
}
