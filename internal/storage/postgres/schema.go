package postgres

// schemaVersion mirrors internal/storage/sqlite's migration stamp; the two
// adapters are versioned in lockstep so a deployment can switch drivers
// without a schema mismatch.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS repositories (
	id           TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	display_name TEXT NOT NULL,
	project_type TEXT,
	framework    TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	parent_task_id      TEXT REFERENCES tasks(id),
	repository_id       TEXT NOT NULL REFERENCES repositories(id),
	user_request        TEXT NOT NULL,
	title               TEXT,
	status              TEXT NOT NULL,
	current_phase_role  TEXT,
	current_step        INTEGER NOT NULL DEFAULT 0,
	plan                JSONB,
	retry_count         INTEGER NOT NULL DEFAULT 0,
	fix_depth           INTEGER NOT NULL DEFAULT 0,
	requires_review     BOOLEAN NOT NULL DEFAULT FALSE,
	error_kind          TEXT,
	error_message       TEXT,
	definition_of_done  TEXT,
	heartbeat           TIMESTAMPTZ NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	completed_at        TIMESTAMPTZ,
	paused_from_status  TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_repo ON tasks(repository_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status_heartbeat ON tasks(status, heartbeat);

CREATE TABLE IF NOT EXISTS agent_runs (
	id               TEXT PRIMARY KEY,
	task_id          TEXT NOT NULL REFERENCES tasks(id),
	step             INTEGER NOT NULL,
	role             TEXT NOT NULL,
	title            TEXT NOT NULL,
	subtitle         TEXT,
	reasoning        TEXT,
	tool_invocations JSONB,
	confidence       DOUBLE PRECISION NOT NULL,
	requires_review  BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms      BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_runs_task_step ON agent_runs(task_id, step, created_at);

CREATE TABLE IF NOT EXISTS verified_file_events (
	id               TEXT PRIMARY KEY,
	task_id          TEXT NOT NULL REFERENCES tasks(id),
	step             INTEGER NOT NULL,
	path             TEXT NOT NULL,
	action           TEXT NOT NULL,
	byte_size        BIGINT NOT NULL,
	quality_checks   JSONB,
	quality_warnings JSONB,
	unified_diff     TEXT,
	timestamp        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vfe_task ON verified_file_events(task_id, timestamp);

CREATE TABLE IF NOT EXISTS change_sets (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL REFERENCES tasks(id),
	path          TEXT NOT NULL,
	action        TEXT NOT NULL,
	unified_diff  TEXT,
	lines_added   INTEGER NOT NULL DEFAULT 0,
	lines_removed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_events (
	task_id   TEXT NOT NULL,
	seq       BIGINT NOT NULL,
	kind      TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	payload   JSONB,
	PRIMARY KEY (task_id, seq)
);
`
