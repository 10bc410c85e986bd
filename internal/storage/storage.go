package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/errors"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"

	_ "github.com/mattn/go-sqlite3"
)

// Stats summarizes what the store currently holds
type Stats struct {
	RawCount        int64
	AggregatedCount int64
	SizeBytes       int64
	OldestTimestamp time.Time
	NewestTimestamp time.Time
}

// Repository persists raw and aggregated metrics in SQLite. Writes are
// serialized through a single mutex; the backing store is single-writer.
type Repository struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

func NewRepository(cfg Config) (*Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", cfg.DBPath).Msg("Time-series storage initialized")

	return &Repository{
		db:   db,
		path: cfg.DBPath,
	}, nil
}

// StoreRaw inserts a batch of raw metrics in one transaction. On any write
// error the transaction is rolled back and 0 is returned alongside the error.
func (r *Repository) StoreRaw(ctx context.Context, batch []metric.Metric) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertRawSQL)
	if err != nil {
		rollback(tx)
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, m := range batch {
		tags, metadata, err := encodeAttrs(m.Tags, m.Metadata)
		if err != nil {
			rollback(tx)
			return 0, errFactory.Wrap(ErrStorageAccess, err)
		}
		if _, err := stmt.ExecContext(ctx,
			m.Timestamp.UnixNano(),
			m.Name,
			m.Value,
			m.Unit,
			string(m.Kind),
			m.Source,
			tags,
			metadata,
		); err != nil {
			rollback(tx)
			return 0, errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	return len(batch), nil
}

// StoreAggregated inserts a batch of aggregated metrics in one transaction,
// with the same rollback-and-return-zero semantics as StoreRaw.
func (r *Repository) StoreAggregated(ctx context.Context, batch []metric.Aggregated) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertAggregatedSQL)
	if err != nil {
		rollback(tx)
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, a := range batch {
		tags, metadata, err := encodeAttrs(a.Tags, a.Metadata)
		if err != nil {
			rollback(tx)
			return 0, errFactory.Wrap(ErrStorageAccess, err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.Timestamp.UnixNano(),
			a.Name,
			a.Source,
			string(a.Level),
			a.Count,
			a.Min,
			a.Max,
			a.Avg,
			a.Sum,
			a.StdDev,
			tags,
			metadata,
		); err != nil {
			rollback(tx)
			return 0, errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	return len(batch), nil
}

// QueryRaw returns raw metrics in [start, end), optionally filtered by name
// and source, ordered by timestamp then insertion order.
func (r *Repository) QueryRaw(ctx context.Context, start, end time.Time, name, source string) ([]metric.Metric, error) {
	errFactory := errors.New()

	var sb strings.Builder
	sb.WriteString(`SELECT timestamp, name, value, unit, type, source, tags_json, metadata_json
        FROM raw_metrics WHERE timestamp >= ? AND timestamp < ?`)
	args := []any{start.UnixNano(), end.UnixNano()}

	if name != "" {
		sb.WriteString(" AND name = ?")
		args = append(args, name)
	}
	if source != "" {
		sb.WriteString(" AND source = ?")
		args = append(args, source)
	}
	sb.WriteString(" ORDER BY timestamp ASC, id ASC")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []metric.Metric
	for rows.Next() {
		var (
			ts             int64
			m              metric.Metric
			kind           string
			tags, metadata sql.NullString
		)
		if err := rows.Scan(&ts, &m.Name, &m.Value, &m.Unit, &kind, &m.Source, &tags, &metadata); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		m.Timestamp = time.Unix(0, ts)
		m.Kind = metric.Kind(kind)
		m.Tags, m.Metadata = decodeAttrs(tags, metadata)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	return out, nil
}

// QueryAggregated returns aggregated metrics for one level in [start, end),
// optionally filtered by name and source.
func (r *Repository) QueryAggregated(ctx context.Context, start, end time.Time, level metric.Level, name, source string) ([]metric.Aggregated, error) {
	errFactory := errors.New()

	var sb strings.Builder
	sb.WriteString(`SELECT timestamp, name, source, aggregation_level,
        count, min_value, max_value, avg_value, sum_value, std_dev, tags_json, metadata_json
        FROM aggregated_metrics WHERE timestamp >= ? AND timestamp < ? AND aggregation_level = ?`)
	args := []any{start.UnixNano(), end.UnixNano(), string(level)}

	if name != "" {
		sb.WriteString(" AND name = ?")
		args = append(args, name)
	}
	if source != "" {
		sb.WriteString(" AND source = ?")
		args = append(args, source)
	}
	sb.WriteString(" ORDER BY timestamp ASC, id ASC")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []metric.Aggregated
	for rows.Next() {
		var (
			ts             int64
			a              metric.Aggregated
			lvl            string
			stdDev         sql.NullFloat64
			tags, metadata sql.NullString
		)
		if err := rows.Scan(&ts, &a.Name, &a.Source, &lvl,
			&a.Count, &a.Min, &a.Max, &a.Avg, &a.Sum, &stdDev, &tags, &metadata); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		a.Timestamp = time.Unix(0, ts)
		a.Level = metric.Level(lvl)
		a.StdDev = stdDev.Float64
		a.Tags, a.Metadata = decodeAttrs(tags, metadata)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	return out, nil
}

// Cleanup deletes rows older than the retention horizon from both tables and
// reclaims freed pages. Calling it twice in a row deletes nothing the second
// time.
func (r *Repository) Cleanup(ctx context.Context, retentionDays int) (rawDeleted, aggDeleted int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixNano()

	rawRes, err := r.db.ExecContext(ctx, "DELETE FROM raw_metrics WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, 0, errFactory.Wrap(ErrRetention, err)
	}
	rawDeleted, _ = rawRes.RowsAffected()

	aggRes, err := r.db.ExecContext(ctx, "DELETE FROM aggregated_metrics WHERE timestamp < ?", cutoff)
	if err != nil {
		return rawDeleted, 0, errFactory.Wrap(ErrRetention, err)
	}
	aggDeleted, _ = aggRes.RowsAffected()

	if _, err := r.db.ExecContext(ctx, "PRAGMA incremental_vacuum"); err != nil {
		logger.Debug().Err(err).Msg("Incremental vacuum failed")
	}

	return rawDeleted, aggDeleted, nil
}

// Stats reports row counts, database size on disk and the covered time range
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	errFactory := errors.New()
	var stats Stats

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM raw_metrics").Scan(&stats.RawCount); err != nil {
		return stats, errFactory.Wrap(ErrStorageAccess, err)
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM aggregated_metrics").Scan(&stats.AggregatedCount); err != nil {
		return stats, errFactory.Wrap(ErrStorageAccess, err)
	}

	var oldest, newest sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		"SELECT MIN(timestamp), MAX(timestamp) FROM raw_metrics").Scan(&oldest, &newest)
	if err != nil {
		return stats, errFactory.Wrap(ErrStorageAccess, err)
	}
	if oldest.Valid {
		stats.OldestTimestamp = time.Unix(0, oldest.Int64)
	}
	if newest.Valid {
		stats.NewestTimestamp = time.Unix(0, newest.Int64)
	}

	if info, err := os.Stat(r.path); err == nil {
		stats.SizeBytes = info.Size()
	}

	return stats, nil
}

// Close checkpoints the WAL and closes the database
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Debug().Err(err).Msg("WAL checkpoint failed on close")
	}
	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Debug().Err(err).Msg("Failed to roll back transaction")
	}
}

func encodeAttrs(tags map[string]string, metadata map[string]any) (tagsJSON, metadataJSON any, err error) {
	tagsJSON, metadataJSON = nil, nil
	if len(tags) > 0 {
		b, err := json.Marshal(tags)
		if err != nil {
			return nil, nil, err
		}
		tagsJSON = string(b)
	}
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, nil, err
		}
		metadataJSON = string(b)
	}
	return tagsJSON, metadataJSON, nil
}

func decodeAttrs(tags, metadata sql.NullString) (map[string]string, map[string]any) {
	var outTags map[string]string
	var outMeta map[string]any
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &outTags); err != nil {
			logger.Debug().Err(err).Msg("Failed to decode tags column")
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &outMeta); err != nil {
			logger.Debug().Err(err).Msg("Failed to decode metadata column")
		}
	}
	return outTags, outMeta
}
