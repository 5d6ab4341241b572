// Package postgres provides a Postgres-backed record store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RecordStore writes harvested records into Postgres. The ID column is
// the primary key, so duplicate inserts across runs are rejected by the
// database rather than tracked in memory.
type RecordStore struct {
	pool   querier
	table  string
	logger *zap.Logger
}

// New creates a Postgres-backed RecordStore using the provided config.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table, logger: logger}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string, logger *zap.Logger) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ReadAll returns every stored record for the source in ID order.
func (s *RecordStore) ReadAll(ctx context.Context, source string) ([]harvest.Record, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE source = $1 ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var records []harvest.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec harvest.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("parse record payload: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Append inserts the records and returns how many rows were actually
// written. Conflicting IDs are left untouched, which is what makes
// re-running a harvest idempotent. Records without an ID are skipped.
func (s *RecordStore) Append(ctx context.Context, source string, records []harvest.Record) (int, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (id, source, title, date, detail_url, payload)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING`, s.table)

	appended := 0
	for _, rec := range records {
		if rec.ID == "" {
			s.logger.Warn("skipping record without id", zap.String("title", rec.Title))
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return appended, fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		tag, err := s.pool.Exec(ctx, query, rec.ID, source, rec.Title, rec.Date, rec.DetailURL, payload)
		if err != nil {
			return appended, fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
		appended += int(tag.RowsAffected())
	}
	return appended, nil
}

var _ harvest.RecordStore = (*RecordStore)(nil)
