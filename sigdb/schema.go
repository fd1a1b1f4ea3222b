package sigdb

import (
	"context"

	"github.com/pkg/errors"
)

// Schema bootstrap. Statements are idempotent so every replica can run them
// at startup. The segment tuple uniqueness relies on NULLS NOT DISTINCT and
// therefore needs PostgreSQL 15 or later.
var schemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS config`,
	`CREATE SCHEMA IF NOT EXISTS loader`,
	`CREATE SCHEMA IF NOT EXISTS signals`,

	`CREATE TABLE IF NOT EXISTS config.source_database (
		db_code      VARCHAR(64) PRIMARY KEY,
		db_type      TEXT NOT NULL,
		host         TEXT NOT NULL,
		port         INT NOT NULL,
		db_name      TEXT NOT NULL,
		username     TEXT NOT NULL,
		password_enc TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS loader.loader (
		loader_code                  VARCHAR(64) PRIMARY KEY,
		source_db_code               VARCHAR(64) NOT NULL REFERENCES config.source_database (db_code),
		loader_sql_enc               TEXT NOT NULL,
		min_interval_seconds         BIGINT NOT NULL,
		max_interval_seconds         BIGINT,
		max_query_period_seconds     BIGINT NOT NULL,
		max_parallel_executions      INT NOT NULL DEFAULT 1,
		source_tz_offset_hours       INT,
		aggregation_period_seconds   BIGINT,
		purge_strategy               TEXT NOT NULL DEFAULT 'NONE',
		enabled                      BOOLEAN NOT NULL DEFAULT false,
		approval_status              TEXT NOT NULL DEFAULT 'DRAFT',
		load_status                  TEXT NOT NULL DEFAULT 'IDLE',
		last_load_timestamp          TIMESTAMPTZ,
		failed_since                 TIMESTAMPTZ,
		consecutive_zero_record_runs INT NOT NULL DEFAULT 0,
		created_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS loader.load_history (
		id               BIGSERIAL PRIMARY KEY,
		loader_code      VARCHAR(64) NOT NULL,
		source_db_code   VARCHAR(64) NOT NULL,
		status           TEXT NOT NULL,
		start_time       TIMESTAMPTZ NOT NULL,
		end_time         TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION,
		query_from_time  TIMESTAMPTZ NOT NULL,
		query_to_time    TIMESTAMPTZ NOT NULL,
		actual_from_time TIMESTAMPTZ,
		actual_to_time   TIMESTAMPTZ,
		records_loaded   BIGINT,
		records_ingested BIGINT,
		error_message    TEXT,
		stack_trace      TEXT,
		replica_name     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS load_history_loader_idx ON loader.load_history (loader_code, start_time DESC)`,
	`CREATE INDEX IF NOT EXISTS load_history_start_idx ON loader.load_history (start_time)`,
	`CREATE INDEX IF NOT EXISTS load_history_status_idx ON loader.load_history (status)`,

	`CREATE TABLE IF NOT EXISTS loader.loader_execution_lock (
		id           BIGSERIAL PRIMARY KEY,
		loader_code  VARCHAR(64) NOT NULL,
		lock_id      UUID NOT NULL UNIQUE,
		replica_name TEXT NOT NULL,
		acquired_at  TIMESTAMPTZ NOT NULL,
		released     BOOLEAN NOT NULL DEFAULT false,
		released_at  TIMESTAMPTZ
	)`,
	// At most one unreleased lock per loader. Released rows stay for audit.
	`CREATE UNIQUE INDEX IF NOT EXISTS loader_execution_lock_live_idx
		ON loader.loader_execution_lock (loader_code) WHERE NOT released`,
	`CREATE INDEX IF NOT EXISTS loader_execution_lock_released_idx
		ON loader.loader_execution_lock (released_at) WHERE released`,

	`CREATE TABLE IF NOT EXISTS signals.segment_combination (
		loader_code  VARCHAR(64) NOT NULL,
		segment_code BIGINT NOT NULL,
		segment1     TEXT,
		segment2     TEXT,
		segment3     TEXT,
		segment4     TEXT,
		segment5     TEXT,
		segment6     TEXT,
		segment7     TEXT,
		segment8     TEXT,
		segment9     TEXT,
		segment10    TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (loader_code, segment_code),
		CONSTRAINT segment_combination_tuple_key UNIQUE NULLS NOT DISTINCT
			(loader_code, segment1, segment2, segment3, segment4, segment5,
			 segment6, segment7, segment8, segment9, segment10)
	)`,

	`CREATE TABLE IF NOT EXISTS signals.signals_history (
		id              BIGSERIAL PRIMARY KEY,
		loader_code     VARCHAR(64) NOT NULL,
		load_time_stamp TIMESTAMPTZ NOT NULL,
		segment_code    TEXT NOT NULL,
		rec_count       BIGINT,
		max_val         DOUBLE PRECISION,
		min_val         DOUBLE PRECISION,
		avg_val         DOUBLE PRECISION,
		sum_val         DOUBLE PRECISION,
		created_at      TIMESTAMPTZ NOT NULL,
		load_history_id BIGINT REFERENCES loader.load_history (id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS signals_history_loader_ts_idx ON signals.signals_history (loader_code, load_time_stamp)`,
	`CREATE INDEX IF NOT EXISTS signals_history_history_idx ON signals.signals_history (load_history_id)`,
}

func bootstrapSchema(ctx context.Context, q Querier) error {
	for _, ddl := range schemaDDL {
		if _, err := q.Exec(ctx, ddl); err != nil {
			return errors.Wrap(err, "bootstrapping store schema")
		}
	}
	return nil
}
