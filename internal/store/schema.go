package store

// The schema is embedded and applied at open. The local inventory is the
// source of truth the push adapter synchronizes outward; the change
// queue itself is deliberately not persisted, so a crash loses queued
// but undelivered changes. push_log keeps a durable trail of completed
// push cycles instead.
const schema = `
CREATE TABLE IF NOT EXISTS stations (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	operator_id TEXT NOT NULL,
	address     TEXT NOT NULL DEFAULT '',
	city        TEXT NOT NULL DEFAULT '',
	country     TEXT NOT NULL DEFAULT '',
	latitude    REAL NOT NULL DEFAULT 0,
	longitude   REAL NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS connectors (
	id           TEXT PRIMARY KEY,
	station_id   TEXT NOT NULL REFERENCES stations(id) ON DELETE CASCADE,
	standard     TEXT NOT NULL DEFAULT '',
	max_power_kw REAL NOT NULL DEFAULT 0,
	status       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_connectors_station ON connectors(station_id);

CREATE TABLE IF NOT EXISTS session_records (
	session_id   TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	station_id   TEXT NOT NULL,
	started_at   TIMESTAMP NOT NULL,
	ended_at     TIMESTAMP NOT NULL,
	energy_wh    INTEGER NOT NULL DEFAULT 0,
	auth_ref     TEXT NOT NULL DEFAULT '',
	uploaded_at  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS push_log (
	id        TEXT PRIMARY KEY,
	operation TEXT NOT NULL,
	code      TEXT NOT NULL,
	attempted INTEGER NOT NULL,
	failed    INTEGER NOT NULL,
	runtime_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

func (db *DB) applySchema() error {
	_, err := db.Exec(schema)
	return err
}
