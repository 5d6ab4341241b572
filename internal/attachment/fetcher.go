// Package attachment materializes a record's binary attachments as
// local files with bounded size and recorded provenance.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/fetch"
	"github.com/fscwatch/harvester/internal/harvest"
	"github.com/fscwatch/harvester/internal/metrics"
)

// ErrTooLarge marks an attachment whose declared size exceeds the
// configured ceiling. It is terminal: retrying cannot shrink the file.
var ErrTooLarge = errors.New("attachment exceeds size ceiling")

// Config controls download policy.
type Config struct {
	// AllowedTypes is the extension allow-list; attachments of other
	// types are skipped entirely, not errored.
	AllowedTypes []string
	// MaxSizeMB caps the declared and actual download size.
	MaxSizeMB int
	// BaseDir is the root under which per-record directories land.
	BaseDir string
	// MaxRetries bounds whole-download attempts.
	MaxRetries int
	// BackoffFactor feeds the exponential backoff between attempts.
	BackoffFactor float64
}

// Streamer is the transport surface the fetcher consumes; satisfied by
// *fetch.Client. Each Stream call is one non-retried attempt, so the
// fetcher can retry at whole-download granularity from byte 0.
type Streamer interface {
	Stream(ctx context.Context, target string) (*fetch.StreamResponse, error)
	Pause(ctx context.Context)
}

// FileHasher computes integrity digests for downloaded files.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// Fetcher downloads attachments sequentially, one record at a time.
type Fetcher struct {
	client  Streamer
	hasher  FileHasher
	logger  *zap.Logger
	metrics *metrics.Set
	cfg     Config

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Fetcher. The metrics set and hasher may be nil.
func New(client Streamer, hasher FileHasher, cfg Config, logger *zap.Logger, set *metrics.Set) *Fetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	return &Fetcher{
		client:  client,
		hasher:  hasher,
		logger:  logger,
		metrics: set,
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

// FetchAll downloads the attachments for one record into a directory
// derived from the record ID, so re-runs land in the same place.
// Disallowed types are dropped from the returned slice; failed
// downloads stay in it with a populated DownloadError. The owning
// record is never invalidated by attachment failures.
func (f *Fetcher) FetchAll(ctx context.Context, recordID string, atts []harvest.Attachment) []harvest.Attachment {
	if len(atts) == 0 {
		return nil
	}
	dir := filepath.Join(f.cfg.BaseDir, recordID)

	kept := make([]harvest.Attachment, 0, len(atts))
	seq := 0
	for _, att := range atts {
		if !f.typeAllowed(att.Type) {
			f.logger.Debug("attachment type not allowed, skipping",
				zap.String("record", recordID),
				zap.String("name", att.Name),
				zap.String("type", att.Type))
			continue
		}
		seq++
		kept = append(kept, f.download(ctx, dir, seq, att))
	}
	return kept
}

func (f *Fetcher) typeAllowed(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range f.cfg.AllowedTypes {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (f *Fetcher) download(ctx context.Context, dir string, seq int, att harvest.Attachment) harvest.Attachment {
	filename := fmt.Sprintf("attachment_%d.%s", seq, strings.ToLower(strings.TrimPrefix(att.Type, ".")))
	finalPath := filepath.Join(dir, filename)

	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		err := f.attempt(ctx, finalPath, att.URL)
		if err == nil {
			info, statErr := os.Stat(finalPath)
			if statErr != nil {
				lastErr = statErr
				break
			}
			att.Downloaded = true
			att.LocalPath = finalPath
			att.SizeBytes = info.Size()
			att.DownloadError = ""
			if f.hasher != nil {
				if sum, hashErr := f.hasher.HashFile(finalPath); hashErr == nil {
					att.Checksum = sum
				}
			}
			if f.metrics != nil {
				f.metrics.AttachmentsDownloaded.Inc()
			}
			f.logger.Info("attachment downloaded",
				zap.String("path", finalPath),
				zap.Int64("size_bytes", att.SizeBytes))
			return att
		}

		lastErr = err
		if errors.Is(err, ErrTooLarge) || ctx.Err() != nil {
			break
		}
		if attempt < f.cfg.MaxRetries-1 {
			wait := fetch.Backoff(f.cfg.BackoffFactor, attempt)
			f.logger.Warn("attachment download failed, retrying",
				zap.String("url", att.URL),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(err))
			if sleepErr := f.sleep(ctx, wait); sleepErr != nil {
				break
			}
		}
	}

	att.Downloaded = false
	att.LocalPath = ""
	att.SizeBytes = 0
	att.DownloadError = lastErr.Error()
	if f.metrics != nil {
		f.metrics.AttachmentErrors.Inc()
	}
	f.logger.Error("attachment download failed",
		zap.String("url", att.URL),
		zap.Error(lastErr))
	return att
}

// attempt performs one whole download: stream to a temp file, then
// rename into place. The final path only ever holds a complete file.
func (f *Fetcher) attempt(ctx context.Context, finalPath, target string) error {
	resp, err := f.client.Stream(ctx, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer f.client.Pause(ctx)

	ceiling := int64(f.cfg.MaxSizeMB) << 20
	if resp.ContentLength > ceiling {
		return fmt.Errorf("%w: declared %.1f MB > %d MB",
			ErrTooLarge, float64(resp.ContentLength)/(1<<20), f.cfg.MaxSizeMB)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o750); err != nil {
		return fmt.Errorf("create attachment dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	// Content-Length can lie; bound the actual bytes as well.
	written, err := io.Copy(tmp, io.LimitReader(resp.Body, ceiling+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("stream attachment: %w", err)
	}
	if written > ceiling {
		return fmt.Errorf("%w: body exceeds %d MB", ErrTooLarge, f.cfg.MaxSizeMB)
	}

	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return fmt.Errorf("finalize attachment: %w", err)
	}
	return nil
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

// WithSleep overrides the backoff sleep, for tests.
func (f *Fetcher) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Fetcher {
	f.sleep = fn
	return f
}
