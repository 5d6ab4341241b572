package attachment_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/attachment"
	"github.com/fscwatch/harvester/internal/fetch"
	"github.com/fscwatch/harvester/internal/harvest"
	hashsha "github.com/fscwatch/harvester/internal/hash/sha256"
)

// fakeStreamer serves canned bodies keyed by URL; failures[url] counts
// down transient errors before success.
type fakeStreamer struct {
	bodies   map[string]string
	declared map[string]int64
	failures map[string]int
	attempts map[string]int
}

func (f *fakeStreamer) Stream(_ context.Context, target string) (*fetch.StreamResponse, error) {
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[target]++
	if f.failures[target] > 0 {
		f.failures[target]--
		return nil, errors.New("connection reset")
	}
	body, ok := f.bodies[target]
	if !ok {
		return nil, errors.New("not found")
	}
	length := int64(len(body))
	if declared, has := f.declared[target]; has {
		length = declared
	}
	return &fetch.StreamResponse{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: length,
		StatusCode:    200,
	}, nil
}

func (f *fakeStreamer) Pause(context.Context) {}

func noSleep(context.Context, time.Duration) error { return nil }

func newFetcher(t *testing.T, streamer *fakeStreamer, cfg attachment.Config) *attachment.Fetcher {
	t.Helper()
	if cfg.AllowedTypes == nil {
		cfg.AllowedTypes = []string{"pdf", "doc", "docx"}
	}
	return attachment.New(streamer, hashsha.New(), cfg, zap.NewNop(), nil).WithSleep(noSleep)
}

func att(name, url, typ string) harvest.Attachment {
	return harvest.Attachment{Name: name, URL: url, Type: typ}
}

func TestDownloadSuccess(t *testing.T) {
	dir := t.TempDir()
	streamer := &fakeStreamer{bodies: map[string]string{"https://x/a.pdf": "pdf bytes"}}
	f := newFetcher(t, streamer, attachment.Config{BaseDir: dir, MaxSizeMB: 1, MaxRetries: 3})

	got := f.FetchAll(context.Background(), "fsc_ann_20250101_0001", []harvest.Attachment{
		att("a", "https://x/a.pdf", "pdf"),
	})

	require.Len(t, got, 1)
	assert.True(t, got[0].Downloaded)
	assert.Equal(t, filepath.Join(dir, "fsc_ann_20250101_0001", "attachment_1.pdf"), got[0].LocalPath)
	assert.EqualValues(t, len("pdf bytes"), got[0].SizeBytes)
	assert.NotEmpty(t, got[0].Checksum)
	assert.Empty(t, got[0].DownloadError)

	data, err := os.ReadFile(got[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))
}

func TestDisallowedTypeSkipped(t *testing.T) {
	streamer := &fakeStreamer{bodies: map[string]string{}}
	f := newFetcher(t, streamer, attachment.Config{BaseDir: t.TempDir(), MaxSizeMB: 1, MaxRetries: 1})

	got := f.FetchAll(context.Background(), "rec", []harvest.Attachment{
		att("exe", "https://x/a.exe", "exe"),
		att("zip", "https://x/a.zip", "zip"),
	})

	// Skipped entirely, not marked as errors.
	assert.Empty(t, got)
	assert.Empty(t, streamer.attempts)
}

func TestOversizeDeclaredNeverWritten(t *testing.T) {
	dir := t.TempDir()
	streamer := &fakeStreamer{
		bodies:   map[string]string{"https://x/big.pdf": "tiny"},
		declared: map[string]int64{"https://x/big.pdf": 100 << 20},
	}
	f := newFetcher(t, streamer, attachment.Config{BaseDir: dir, MaxSizeMB: 50, MaxRetries: 3})

	got := f.FetchAll(context.Background(), "rec", []harvest.Attachment{
		att("big", "https://x/big.pdf", "pdf"),
	})

	require.Len(t, got, 1)
	assert.False(t, got[0].Downloaded)
	assert.Contains(t, got[0].DownloadError, "size ceiling")
	// Terminal: no retries for an oversize declaration.
	assert.Equal(t, 1, streamer.attempts["https://x/big.pdf"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file may reach disk")
}

func TestRetryThenSuccess(t *testing.T) {
	dir := t.TempDir()
	streamer := &fakeStreamer{
		bodies:   map[string]string{"https://x/a.pdf": "ok"},
		failures: map[string]int{"https://x/a.pdf": 2},
	}
	f := newFetcher(t, streamer, attachment.Config{BaseDir: dir, MaxSizeMB: 1, MaxRetries: 3})

	got := f.FetchAll(context.Background(), "rec", []harvest.Attachment{
		att("a", "https://x/a.pdf", "pdf"),
	})

	require.Len(t, got, 1)
	assert.True(t, got[0].Downloaded)
	assert.Equal(t, 3, streamer.attempts["https://x/a.pdf"])
}

func TestExhaustedRetriesRecordError(t *testing.T) {
	streamer := &fakeStreamer{
		bodies:   map[string]string{},
		failures: map[string]int{"https://x/gone.pdf": 99},
	}
	f := newFetcher(t, streamer, attachment.Config{BaseDir: t.TempDir(), MaxSizeMB: 1, MaxRetries: 3})

	got := f.FetchAll(context.Background(), "rec", []harvest.Attachment{
		att("gone", "https://x/gone.pdf", "pdf"),
	})

	require.Len(t, got, 1)
	assert.False(t, got[0].Downloaded)
	assert.Equal(t, "connection reset", got[0].DownloadError)
	assert.Empty(t, got[0].LocalPath)
	assert.Equal(t, 3, streamer.attempts["https://x/gone.pdf"])
}

func TestRerunLandsInSamePlace(t *testing.T) {
	dir := t.TempDir()
	streamer := &fakeStreamer{bodies: map[string]string{"https://x/a.pdf": "v1"}}
	f := newFetcher(t, streamer, attachment.Config{BaseDir: dir, MaxSizeMB: 1, MaxRetries: 1})

	first := f.FetchAll(context.Background(), "rec-1", []harvest.Attachment{att("a", "https://x/a.pdf", "pdf")})
	streamer.bodies["https://x/a.pdf"] = "v2"
	second := f.FetchAll(context.Background(), "rec-1", []harvest.Attachment{att("a", "https://x/a.pdf", "pdf")})

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].LocalPath, second[0].LocalPath)

	data, err := os.ReadFile(second[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}
