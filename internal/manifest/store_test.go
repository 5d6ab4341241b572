package manifest_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/manifest"
)

func load(t *testing.T, path string) *manifest.Store {
	t.Helper()
	s, err := manifest.Load(path, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestLoadAbsentFileYieldsEmpty(t *testing.T) {
	s := load(t, filepath.Join(t.TempDir(), "manifest.json"))
	assert.Zero(t, s.Len())
}

func TestLoadCorruptFileResetsToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := load(t, path)
	assert.Zero(t, s.Len())
}

func TestRecordAttemptIsDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	s := load(t, path)

	entry := manifest.Entry{
		Status:      manifest.StatusSuccess,
		ExternalID:  "files/abc123",
		DisplayName: "doc.md",
		Timestamp:   time.Date(2025, 11, 12, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.RecordAttempt("/docs/doc.md", entry))

	// Reloading from disk yields exactly what was recorded.
	reloaded := load(t, path)
	got, ok := reloaded.Get("/docs/doc.md")
	require.True(t, ok)
	assert.Equal(t, entry, got)
	assert.True(t, reloaded.Succeeded("/docs/doc.md"))
}

func TestLastAttemptWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	s := load(t, path)

	require.NoError(t, s.RecordAttempt("/docs/a.md", manifest.Entry{
		Status: manifest.StatusFailed,
		Error:  "network down",
	}))
	assert.False(t, s.Succeeded("/docs/a.md"))

	require.NoError(t, s.RecordAttempt("/docs/a.md", manifest.Entry{
		Status:     manifest.StatusSuccess,
		ExternalID: "files/retry-ok",
	}))

	reloaded := load(t, path)
	assert.True(t, reloaded.Succeeded("/docs/a.md"))
	assert.Equal(t, 1, reloaded.Len(), "at most one entry per path")
	assert.Empty(t, reloaded.FailedEntries())
}

func TestFailedEntries(t *testing.T) {
	s := load(t, filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, s.RecordAttempt("/docs/ok.md", manifest.Entry{Status: manifest.StatusSuccess}))
	require.NoError(t, s.RecordAttempt("/docs/bad.md", manifest.Entry{Status: manifest.StatusFailed, Error: "500"}))

	failed := s.FailedEntries()
	require.Len(t, failed, 1)
	assert.Equal(t, "500", failed["/docs/bad.md"].Error)
}

func TestBuildReport(t *testing.T) {
	s := load(t, filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, s.RecordAttempt("/d/a.md", manifest.Entry{Status: manifest.StatusSuccess}))
	require.NoError(t, s.RecordAttempt("/d/b.md", manifest.Entry{Status: manifest.StatusFailed, Error: "x"}))

	report := s.BuildReport([]string{"/d/a.md", "/d/b.md", "/d/c.md"})
	assert.Equal(t, []string{"/d/a.md"}, report.Successful)
	assert.Equal(t, []string{"/d/b.md"}, report.Failed)
	assert.Equal(t, []string{"/d/c.md"}, report.Pending)
	assert.Equal(t, 3, report.Total())
}
