package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/harvest"
)

func TestAppendInsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "records", zap.NewNop())
	require.NoError(t, err)

	rec := harvest.Record{
		ID:        "fsc_ann_20250315_0001",
		Title:     "capital adequacy ruling",
		Date:      "2025-03-15",
		DetailURL: "https://fsc.example/detail/1",
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO records").
		WithArgs(rec.ID, "announcements", rec.Title, rec.Date, rec.DetailURL, payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.Append(context.Background(), "announcements", []harvest.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendCountsOnlyNewRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "records", zap.NewNop())
	require.NoError(t, err)

	fresh := harvest.Record{ID: "fsc_pen_20250315_0001", Title: "new"}
	dup := harvest.Record{ID: "fsc_pen_20250314_0002", Title: "seen before"}

	mock.ExpectExec("INSERT INTO records").
		WithArgs(fresh.ID, "penalties", fresh.Title, "", "", mustJSON(t, fresh)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO records").
		WithArgs(dup.ID, "penalties", dup.Title, "", "", mustJSON(t, dup)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	n, err := store.Append(context.Background(), "penalties", []harvest.Record{fresh, dup})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "conflicting row must not count as appended")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSkipsRecordsWithoutID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "records", zap.NewNop())
	require.NoError(t, err)

	n, err := store.Append(context.Background(), "announcements", []harvest.Record{
		{Title: "undated notice"},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadAllUnmarshalsPayloads(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "records", zap.NewNop())
	require.NoError(t, err)

	rec := harvest.Record{
		ID:    "fsc_law_20250301_0001",
		Title: "interpretation letter",
		Content: harvest.Content{
			Text: "full body text",
		},
	}

	mock.ExpectQuery("SELECT payload FROM records").
		WithArgs("laws").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(mustJSON(t, rec)))

	got, err := store.ReadAll(context.Background(), "laws")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, "full body text", got[0].Content.Text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "records; drop table", zap.NewNop())
	require.Error(t, err)
}

func mustJSON(t *testing.T, rec harvest.Record) []byte {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return data
}
