package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/harvest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, fixedClock{now: time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)}, zap.NewNop())
	require.NoError(t, err)
	return s, dir
}

func rec(id, title string) harvest.Record {
	return harvest.Record{
		ID:    id,
		Title: title,
		Date:  "2025-03-15",
		Content: harvest.Content{
			Text: "body of " + title,
		},
	}
}

func TestReadAllAbsentDataset(t *testing.T) {
	s, _ := newTestStore(t)
	records, err := s.ReadAll(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppendAndReadBack(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.Append(ctx, "announcements", []harvest.Record{
		rec("fsc_ann_20250315_0001", "first"),
		rec("fsc_ann_20250315_0002", "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.ReadAll(ctx, "announcements")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Title)
	assert.Equal(t, "body of second", got[1].Content.Text)
}

func TestAppendDeduplicatesAcrossRuns(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "penalties", []harvest.Record{
		rec("fsc_pen_20250315_0001", "first"),
	})
	require.NoError(t, err)

	// A fresh store over the same directory models a new process.
	s2, err := New(dir, fixedClock{now: time.Now()}, zap.NewNop())
	require.NoError(t, err)
	n, err := s2.Append(ctx, "penalties", []harvest.Record{
		rec("fsc_pen_20250315_0001", "first"),
		rec("fsc_pen_20250315_0002", "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the new record should be written")

	got, err := s2.ReadAll(ctx, "penalties")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAppendDeduplicatesWithinBatch(t *testing.T) {
	s, _ := newTestStore(t)
	n, err := s.Append(context.Background(), "laws", []harvest.Record{
		rec("fsc_law_20250315_0001", "dup"),
		rec("fsc_law_20250315_0001", "dup"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmptyIDFallsBackToContentKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	undated := harvest.Record{Title: "undated notice", DetailURL: "https://fsc.example/d/9"}
	n, err := s.Append(ctx, "announcements", []harvest.Record{undated})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Append(ctx, "announcements", []harvest.Record{undated})
	require.NoError(t, err)
	assert.Zero(t, n, "same undated record should not be written twice")

	moved := harvest.Record{Title: "undated notice", DetailURL: "https://fsc.example/d/10"}
	n, err = s.Append(ctx, "announcements", []harvest.Record{moved})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a different detail URL is a different record")
}

func TestMalformedLineIsSkipped(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "announcements", []harvest.Record{
		rec("fsc_ann_20250315_0001", "good"),
	})
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dir, "announcements.jsonl"), os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := s.ReadAll(ctx, "announcements")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Title)
}

func TestMetadataSidecar(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Append(context.Background(), "announcements", []harvest.Record{
		rec("fsc_ann_20250315_0001", "first"),
	})
	require.NoError(t, err)

	meta, err := s.Meta("announcements")
	require.NoError(t, err)
	assert.Equal(t, "announcements", meta.Source)
	assert.Equal(t, 1, meta.TotalRecords)
	assert.Equal(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC), meta.LastAppended)
}

func TestInvalidSourceName(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.ReadAll(context.Background(), "../escape")
	require.Error(t, err)
	_, err = s.Append(context.Background(), "Bad Name", nil)
	require.Error(t, err)
}
