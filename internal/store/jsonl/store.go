// Package jsonl implements a local filesystem record store. Each source
// gets an append-only JSON Lines dataset plus a small metadata sidecar.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/harvest"
	"github.com/fscwatch/harvester/internal/hash/sha256"
)

// Lines hold full record payloads including body text, so the scanner
// needs far more than the default 64KB token limit.
const maxLineBytes = 16 << 20

var validSourceName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Metadata is the per-source sidecar describing the dataset.
type Metadata struct {
	Source       string    `json:"source"`
	TotalRecords int       `json:"total_records"`
	LastAppended time.Time `json:"last_appended"`
}

// Store persists records as one JSONL file per source under a data
// directory. Cross-run deduplication happens here: Append drops records
// whose ID already exists in the dataset.
type Store struct {
	dataDir string
	clock   harvest.Clock
	logger  *zap.Logger
}

// New creates the data directory if needed and verifies it is writable.
func New(dataDir string, clock harvest.Clock, logger *zap.Logger) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	probe := filepath.Join(dataDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("data directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Store{dataDir: dataDir, clock: clock, logger: logger}, nil
}

func (s *Store) dataPath(source string) string {
	return filepath.Join(s.dataDir, source+".jsonl")
}

func (s *Store) metaPath(source string) string {
	return filepath.Join(s.dataDir, source+".meta.json")
}

// ReadAll returns every record in the source's dataset in append order.
// An absent dataset yields an empty slice. Malformed lines are logged
// and skipped so one bad write cannot strand the whole dataset.
func (s *Store) ReadAll(ctx context.Context, source string) ([]harvest.Record, error) {
	if err := validateSource(source); err != nil {
		return nil, err
	}
	f, err := os.Open(s.dataPath(source))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open dataset %s: %w", source, err)
	}
	defer f.Close()

	var records []harvest.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec harvest.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Warn("skipping malformed dataset line",
				zap.String("source", source),
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dataset %s: %w", source, err)
	}
	return records, nil
}

// Append writes the records not already present and returns how many
// were written. Presence is judged by ID; records that never got an ID
// fall back to their title, date and detail URL.
func (s *Store) Append(ctx context.Context, source string, records []harvest.Record) (int, error) {
	if err := validateSource(source); err != nil {
		return 0, err
	}
	existing, err := s.ReadAll(ctx, source)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[dedupKey(rec)] = struct{}{}
	}

	f, err := os.OpenFile(s.dataPath(source), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open dataset %s: %w", source, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	appended := 0
	for _, rec := range records {
		key := dedupKey(rec)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		data, err := json.Marshal(rec)
		if err != nil {
			return appended, fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return appended, fmt.Errorf("append record %s: %w", rec.ID, err)
		}
		appended++
	}
	if err := w.Flush(); err != nil {
		return appended, fmt.Errorf("flush dataset %s: %w", source, err)
	}
	if err := f.Sync(); err != nil {
		return appended, fmt.Errorf("sync dataset %s: %w", source, err)
	}

	if err := s.writeMetadata(source, len(existing)+appended); err != nil {
		return appended, err
	}
	s.logger.Info("dataset updated",
		zap.String("source", source),
		zap.Int("appended", appended),
		zap.Int("duplicates", len(records)-appended),
		zap.Int("total", len(existing)+appended))
	return appended, nil
}

// Meta reads the source's metadata sidecar.
func (s *Store) Meta(source string) (Metadata, error) {
	if err := validateSource(source); err != nil {
		return Metadata{}, err
	}
	data, err := os.ReadFile(s.metaPath(source))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{Source: source}, nil
		}
		return Metadata{}, fmt.Errorf("read metadata %s: %w", source, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata %s: %w", source, err)
	}
	return meta, nil
}

func (s *Store) writeMetadata(source string, total int) error {
	meta := Metadata{
		Source:       source,
		TotalRecords: total,
		LastAppended: s.clock.Now(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata %s: %w", source, err)
	}
	tmp := s.metaPath(source) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write metadata %s: %w", source, err)
	}
	if err := os.Rename(tmp, s.metaPath(source)); err != nil {
		return fmt.Errorf("replace metadata %s: %w", source, err)
	}
	return nil
}

func validateSource(source string) error {
	if !validSourceName.MatchString(source) {
		return fmt.Errorf("invalid source name %q", source)
	}
	return nil
}

func dedupKey(rec harvest.Record) string {
	if rec.ID != "" {
		return rec.ID
	}
	return sha256.Fingerprint(rec.Title + "\x1f" + rec.Date + "\x1f" + rec.DetailURL)
}

var _ harvest.RecordStore = (*Store)(nil)
