package storage

// schema is the declarative database definition. Every statement is
// "IF NOT EXISTS" so applying it at each startup is a no-op on an
// already-initialized database.
//
// JSON columns (session_metadata, tool_calls, tool_results, message_metadata
// and all lab_context collections) are nullable TEXT: NULL means the field
// was never set, which is distinct from a stored empty collection.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id       TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL DEFAULT 'default_user',
	session_name     TEXT,
	lab_environment  TEXT,
	lab_target       TEXT,
	lab_objective    TEXT,
	status           TEXT NOT NULL DEFAULT 'active',
	session_metadata TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	last_active      TEXT NOT NULL,
	is_archived      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	message_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	role             TEXT NOT NULL,
	content          TEXT NOT NULL,
	tool_calls       TEXT,
	tool_results     TEXT,
	message_metadata TEXT,
	timestamp        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lab_context (
	context_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	phase       TEXT NOT NULL DEFAULT 'reconnaissance',
	findings        TEXT,
	open_ports      TEXT,
	services        TEXT,
	vulnerabilities TEXT,
	credentials     TEXT,
	flags           TEXT,
	notes           TEXT,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_lab_context_session_id ON lab_context(session_id);
`
