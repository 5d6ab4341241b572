// Package uploader ships locally-rendered documents to the external
// document store, skipping confirmed successes, retrying failures, and
// producing an auditable completeness report.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/docstore"
	"github.com/fscwatch/harvester/internal/fetch"
	"github.com/fscwatch/harvester/internal/harvest"
	"github.com/fscwatch/harvester/internal/manifest"
	"github.com/fscwatch/harvester/internal/metrics"
)

// ErrMissingFile marks an upload candidate that no longer exists
// locally. It is terminal: retrying cannot conjure a missing file.
var ErrMissingFile = errors.New("local file missing")

// Config controls one upload batch.
type Config struct {
	// StoreName is the external container the documents land in.
	StoreName string
	// SkipExisting consults the manifest to avoid re-uploading files
	// already marked successful.
	SkipExisting bool
	// Delay is the fixed spacing between items.
	Delay time.Duration
	// SettleDelay is the wait between uploading a file and registering
	// its handle; the external store may need time before the handle
	// is importable.
	SettleDelay time.Duration
	// MaxRetries bounds attempts for the upload and register steps
	// individually.
	MaxRetries int
	// BackoffFactor feeds the exponential backoff between attempts.
	BackoffFactor float64
}

// Stats are the per-batch counters.
type Stats struct {
	TotalFiles    int
	UploadedFiles int
	FailedFiles   int
	SkippedFiles  int
	TotalBytes    int64
}

// Uploader runs sequential, manifest-resumable batches. Single-writer
// against its manifest by design; the manifest entry for an item is
// durably recorded before the next item is attempted.
type Uploader struct {
	store    docstore.Store
	manifest *manifest.Store
	clock    harvest.Clock
	logger   *zap.Logger
	metrics  *metrics.Set
	cfg      Config

	stats Stats
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs an Uploader. The metrics set may be nil.
func New(store docstore.Store, man *manifest.Store, clock harvest.Clock, cfg Config, logger *zap.Logger, set *metrics.Set) *Uploader {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}
	return &Uploader{
		store:    store,
		manifest: man,
		clock:    clock,
		logger:   logger,
		metrics:  set,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

// UploadDirectory globs pattern under dir and uploads the matches in
// sorted (directory-listing) order.
func (u *Uploader) UploadDirectory(ctx context.Context, dir, pattern string) (manifest.Report, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return manifest.Report{}, fmt.Errorf("glob %s/%s: %w", dir, pattern, err)
	}
	if len(matches) == 0 {
		u.logger.Warn("no upload candidates found",
			zap.String("dir", dir),
			zap.String("pattern", pattern))
	}
	sort.Strings(matches)
	return u.UploadBatch(ctx, matches)
}

// UploadBatch ships the given files. Every attempt's outcome is
// recorded in the manifest before the next file is touched, so an
// interrupted batch resumes at file granularity. The returned report
// covers exactly the candidate set.
func (u *Uploader) UploadBatch(ctx context.Context, paths []string) (manifest.Report, error) {
	u.stats = Stats{TotalFiles: len(paths)}

	storeID, err := u.store.GetOrCreateStore(ctx, u.cfg.StoreName)
	if err != nil {
		return manifest.Report{}, fmt.Errorf("get or create store %q: %w", u.cfg.StoreName, err)
	}

	var toUpload []string
	for _, path := range paths {
		if u.cfg.SkipExisting && u.manifest.Succeeded(path) {
			u.stats.SkippedFiles++
			if u.metrics != nil {
				u.metrics.UploadsSkipped.Inc()
			}
			u.logger.Info("already uploaded, skipping", zap.String("path", path))
			continue
		}
		toUpload = append(toUpload, path)
	}

	u.logger.Info("upload batch starting",
		zap.String("store_id", storeID),
		zap.Int("total", len(paths)),
		zap.Int("to_upload", len(toUpload)),
		zap.Int("skipped", u.stats.SkippedFiles))

	for i, path := range toUpload {
		if ctx.Err() != nil {
			// Graceful stop: already-recorded entries stay valid, the
			// rest shows up as pending in the report.
			u.logger.Warn("upload batch interrupted", zap.Int("remaining", len(toUpload)-i))
			return u.manifest.BuildReport(paths), ctx.Err()
		}

		u.processFile(ctx, storeID, path)

		if i < len(toUpload)-1 {
			if err := u.sleep(ctx, u.cfg.Delay); err != nil {
				return u.manifest.BuildReport(paths), err
			}
		}
	}

	report := u.manifest.BuildReport(paths)
	u.logger.Info("upload batch finished",
		zap.Int("successful", len(report.Successful)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("pending", len(report.Pending)))
	return report, nil
}

// processFile runs one file through upload + register and records the
// outcome in the manifest before returning.
func (u *Uploader) processFile(ctx context.Context, storeID, path string) {
	displayName := filepath.Base(path)

	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		// Terminal per-item failure; not retried.
		u.recordFailure(path, displayName, err)
		return
	}

	fileID, err := u.withRetry(ctx, "upload", displayName, func() (string, error) {
		return u.store.UploadBytes(ctx, payload, displayName)
	})
	if err != nil {
		// The register step is not attempted when upload exhausted.
		u.recordFailure(path, displayName, err)
		return
	}

	if err := u.sleep(ctx, u.cfg.SettleDelay); err != nil {
		u.recordFailure(path, displayName, err)
		return
	}

	if _, err := u.withRetry(ctx, "register", displayName, func() (string, error) {
		return "", u.store.AddToStore(ctx, storeID, fileID)
	}); err != nil {
		u.recordFailure(path, displayName, err)
		return
	}

	u.stats.UploadedFiles++
	u.stats.TotalBytes += int64(len(payload))
	if u.metrics != nil {
		u.metrics.UploadsTotal.Inc()
		u.metrics.UploadedBytes.Add(float64(len(payload)))
	}
	u.logger.Info("document uploaded",
		zap.String("path", path),
		zap.String("file_id", fileID))

	if err := u.manifest.RecordAttempt(path, manifest.Entry{
		Status:      manifest.StatusSuccess,
		ExternalID:  fileID,
		DisplayName: displayName,
		Timestamp:   u.clock.Now(),
	}); err != nil {
		u.logger.Error("manifest write failed", zap.String("path", path), zap.Error(err))
	}
}

// withRetry runs one step up to MaxRetries times with exponential
// backoff, returning the last error when exhausted.
func (u *Uploader) withRetry(ctx context.Context, step, displayName string, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < u.cfg.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < u.cfg.MaxRetries-1 {
			wait := fetch.Backoff(u.cfg.BackoffFactor, attempt)
			u.logger.Warn("step failed, retrying",
				zap.String("step", step),
				zap.String("document", displayName),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(err))
			if sleepErr := u.sleep(ctx, wait); sleepErr != nil {
				break
			}
		}
	}
	return "", fmt.Errorf("%s %s failed after %d attempts: %w", step, displayName, u.cfg.MaxRetries, lastErr)
}

func (u *Uploader) recordFailure(path, displayName string, cause error) {
	u.stats.FailedFiles++
	if u.metrics != nil {
		u.metrics.UploadErrorsTotal.Inc()
	}
	u.logger.Error("document upload failed",
		zap.String("path", path),
		zap.Error(cause))
	if err := u.manifest.RecordAttempt(path, manifest.Entry{
		Status:      manifest.StatusFailed,
		DisplayName: displayName,
		Timestamp:   u.clock.Now(),
		Error:       cause.Error(),
	}); err != nil {
		u.logger.Error("manifest write failed", zap.String("path", path), zap.Error(err))
	}
}

// Stats returns the counters for the most recent batch.
func (u *Uploader) Stats() Stats {
	return u.stats
}

// FailedUploads exposes the manifest's failed entries so a caller can
// re-drive just the failures.
func (u *Uploader) FailedUploads() map[string]manifest.Entry {
	return u.manifest.FailedEntries()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithSleep overrides the delay/backoff sleep, for tests.
func (u *Uploader) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Uploader {
	u.sleep = fn
	return u
}
