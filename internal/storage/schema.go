package storage

import (
	"database/sql"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/errors"
)

const (
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS raw_metrics (
	       id            INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp     INTEGER NOT NULL,
	       name          TEXT NOT NULL,
	       value         REAL NOT NULL,
	       unit          TEXT NOT NULL DEFAULT '',
	       type          TEXT NOT NULL,
	       source        TEXT NOT NULL,
	       tags_json     TEXT,
	       metadata_json TEXT,
	       created_at    TEXT NOT NULL DEFAULT (datetime('now'))
	   );
	   CREATE INDEX IF NOT EXISTS idx_raw_timestamp ON raw_metrics(timestamp);
	   CREATE INDEX IF NOT EXISTS idx_raw_name ON raw_metrics(name);
	   CREATE INDEX IF NOT EXISTS idx_raw_source ON raw_metrics(source);

	   CREATE TABLE IF NOT EXISTS aggregated_metrics (
	       id                INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp         INTEGER NOT NULL,
	       name              TEXT NOT NULL,
	       source            TEXT NOT NULL,
	       aggregation_level TEXT NOT NULL,
	       count             INTEGER NOT NULL,
	       min_value         REAL NOT NULL,
	       max_value         REAL NOT NULL,
	       avg_value         REAL NOT NULL,
	       sum_value         REAL NOT NULL,
	       std_dev           REAL,
	       tags_json         TEXT,
	       metadata_json     TEXT,
	       created_at        TEXT NOT NULL DEFAULT (datetime('now'))
	   );
	   CREATE INDEX IF NOT EXISTS idx_agg_timestamp ON aggregated_metrics(timestamp);
	   CREATE INDEX IF NOT EXISTS idx_agg_name ON aggregated_metrics(name);
	   CREATE INDEX IF NOT EXISTS idx_agg_source ON aggregated_metrics(source);
	   CREATE INDEX IF NOT EXISTS idx_agg_level ON aggregated_metrics(aggregation_level);`

	insertRawSQL = `
    INSERT INTO raw_metrics (
        timestamp, name, value, unit, type, source, tags_json, metadata_json
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertAggregatedSQL = `
    INSERT INTO aggregated_metrics (
        timestamp, name, source, aggregation_level,
        count, min_value, max_value, avg_value, sum_value, std_dev,
        tags_json, metadata_json
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// initSchema creates both metric tables and their indices
func initSchema(db *sql.DB) error {
	errFactory := errors.New()

	if _, err := db.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	return nil
}
