package database

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS work_items (
		id                TEXT PRIMARY KEY,
		user_id           TEXT        NOT NULL,
		filename          TEXT        NOT NULL,
		processing_status TEXT        NOT NULL DEFAULT 'pending',
		last_error        TEXT,
		result_path       TEXT,
		analysis          JSONB,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_user_status ON work_items (user_id, processing_status)`,
	`CREATE TABLE IF NOT EXISTS processing_runs (
		id                     TEXT PRIMARY KEY,
		user_id                TEXT        NOT NULL,
		run_type               TEXT        NOT NULL,
		status                 TEXT        NOT NULL DEFAULT 'pending',
		video_ids              JSONB       NOT NULL DEFAULT '[]',
		current_video_id       TEXT,
		current_video_filename TEXT,
		current_progress       DOUBLE PRECISION,
		current_status_message TEXT,
		total_videos           INTEGER     NOT NULL DEFAULT 0,
		videos_processed       INTEGER     NOT NULL DEFAULT 0,
		videos_failed          INTEGER     NOT NULL DEFAULT 0,
		started_at             TIMESTAMPTZ,
		completed_at           TIMESTAMPTZ,
		last_heartbeat         TIMESTAMPTZ,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		logs                   JSONB       NOT NULL DEFAULT '[]',
		errors                 JSONB       NOT NULL DEFAULT '[]',
		benchmarks             JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_runs_status ON processing_runs (status, last_heartbeat)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_runs_user ON processing_runs (user_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		id         BIGSERIAL PRIMARY KEY,
		run_id     TEXT        NOT NULL,
		kind       TEXT        NOT NULL,
		detail     TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events (run_id, id)`,
}

// sqlite only maps declared DATETIME columns back to time.Time
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS work_items (
		id                TEXT PRIMARY KEY,
		user_id           TEXT     NOT NULL,
		filename          TEXT     NOT NULL,
		processing_status TEXT     NOT NULL DEFAULT 'pending',
		last_error        TEXT,
		result_path       TEXT,
		analysis          TEXT,
		created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_user_status ON work_items (user_id, processing_status)`,
	`CREATE TABLE IF NOT EXISTS processing_runs (
		id                     TEXT PRIMARY KEY,
		user_id                TEXT     NOT NULL,
		run_type               TEXT     NOT NULL,
		status                 TEXT     NOT NULL DEFAULT 'pending',
		video_ids              TEXT     NOT NULL DEFAULT '[]',
		current_video_id       TEXT,
		current_video_filename TEXT,
		current_progress       REAL,
		current_status_message TEXT,
		total_videos           INTEGER  NOT NULL DEFAULT 0,
		videos_processed       INTEGER  NOT NULL DEFAULT 0,
		videos_failed          INTEGER  NOT NULL DEFAULT 0,
		started_at             DATETIME,
		completed_at           DATETIME,
		last_heartbeat         DATETIME,
		created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		logs                   TEXT     NOT NULL DEFAULT '[]',
		errors                 TEXT     NOT NULL DEFAULT '[]',
		benchmarks             TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_runs_status ON processing_runs (status, last_heartbeat)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_runs_user ON processing_runs (user_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT     NOT NULL,
		kind       TEXT     NOT NULL,
		detail     TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events (run_id, id)`,
}
