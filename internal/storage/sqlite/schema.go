package sqlite

// schemaVersion is bumped whenever the DDL below changes; Migrate refuses
// to proceed on a database stamped with a newer version than this binary
// understands, per §6.4's "the core requires the current version before
// accepting writes."
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
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
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
	plan                TEXT,
	retry_count         INTEGER NOT NULL DEFAULT 0,
	fix_depth           INTEGER NOT NULL DEFAULT 0,
	requires_review     INTEGER NOT NULL DEFAULT 0,
	error_kind          TEXT,
	error_message       TEXT,
	definition_of_done  TEXT,
	heartbeat           TIMESTAMP NOT NULL,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL,
	completed_at        TIMESTAMP,
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
	tool_invocations TEXT,
	confidence       REAL NOT NULL,
	requires_review  INTEGER NOT NULL DEFAULT 0,
	duration_ms      INTEGER NOT NULL,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_runs_task_step ON agent_runs(task_id, step, created_at);

CREATE TABLE IF NOT EXISTS verified_file_events (
	id               TEXT PRIMARY KEY,
	task_id          TEXT NOT NULL REFERENCES tasks(id),
	step             INTEGER NOT NULL,
	path             TEXT NOT NULL,
	action           TEXT NOT NULL,
	byte_size        INTEGER NOT NULL,
	quality_checks   TEXT,
	quality_warnings TEXT,
	unified_diff     TEXT,
	timestamp        TIMESTAMP NOT NULL
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
	seq       INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	payload   TEXT,
	PRIMARY KEY (task_id, seq)
);
`
