// Package manifest provides durable, idempotent bookkeeping of upload
// attempts. The manifest file is the sole source of truth for what has
// been shipped to the external store; deleting it forces a full
// re-upload.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Entry status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry is one row per upload attempt, keyed by source file path.
// Re-running upload overwrites the prior entry: last attempt wins.
type Entry struct {
	Status      string    `json:"status"`
	ExternalID  string    `json:"external_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error,omitempty"`
}

// Report is a derived, read-only view over the manifest for one
// candidate file set.
type Report struct {
	Successful []string `json:"successful"`
	Failed     []string `json:"failed"`
	Pending    []string `json:"pending"`
}

// Total returns the candidate count the report covers.
func (r Report) Total() int {
	return len(r.Successful) + len(r.Failed) + len(r.Pending)
}

// Store persists Entry rows write-through: every RecordAttempt rewrites
// the whole file before returning. Single-writer by design.
type Store struct {
	path    string
	logger  *zap.Logger
	entries map[string]Entry
}

// Load reads the manifest at path. An absent file yields an empty
// manifest; a corrupt file is logged and treated as empty rather than
// failing the run.
func Load(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	s := &Store{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("manifest absent, starting empty", zap.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		logger.Error("manifest corrupt, resetting to empty",
			zap.String("path", path),
			zap.Error(err))
		s.entries = make(map[string]Entry)
	}
	return s, nil
}

// RecordAttempt upserts one entry and immediately persists the manifest.
// A crash after any single attempt loses at most the pending write,
// never prior entries.
func (s *Store) RecordAttempt(path string, entry Entry) error {
	s.entries[path] = entry
	return s.persist()
}

// Succeeded reports whether path has a success entry, which is what the
// uploader's skip-existing policy consults.
func (s *Store) Succeeded(path string) bool {
	entry, ok := s.entries[path]
	return ok && entry.Status == StatusSuccess
}

// Get returns the entry for path, if any.
func (s *Store) Get(path string) (Entry, bool) {
	entry, ok := s.entries[path]
	return entry, ok
}

// Len returns the number of manifest entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// FailedEntries returns the paths with a failed entry, with their
// entries, so a caller can re-drive just the failures.
func (s *Store) FailedEntries() map[string]Entry {
	return s.entriesWithStatus(StatusFailed)
}

// SuccessfulEntries returns the paths confirmed uploaded, with their
// entries, which is what verification compares against the store.
func (s *Store) SuccessfulEntries() map[string]Entry {
	return s.entriesWithStatus(StatusSuccess)
}

func (s *Store) entriesWithStatus(status string) map[string]Entry {
	out := make(map[string]Entry)
	for path, entry := range s.entries {
		if entry.Status == status {
			out[path] = entry
		}
	}
	return out
}

// BuildReport partitions the candidate paths by manifest state. Pending
// is candidates with no entry at all; non-empty pending indicates the
// process was killed mid-batch.
func (s *Store) BuildReport(candidates []string) Report {
	var report Report
	for _, path := range candidates {
		entry, ok := s.entries[path]
		switch {
		case !ok:
			report.Pending = append(report.Pending, path)
		case entry.Status == StatusSuccess:
			report.Successful = append(report.Successful, path)
		default:
			report.Failed = append(report.Failed, path)
		}
	}
	sort.Strings(report.Successful)
	sort.Strings(report.Failed)
	sort.Strings(report.Pending)
	return report
}

func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
