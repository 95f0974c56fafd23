package persistence

// casesSchemaSQL is the device-side snapshot table. History, amendments and
// the pre-amendment snapshot are stored as JSON documents; list filters only
// ever touch the scalar columns.
const casesSchemaSQL = `
CREATE TABLE IF NOT EXISTS cases (
	id                  TEXT    PRIMARY KEY,
	reference_number    TEXT    NOT NULL,
	client_token        TEXT    NOT NULL UNIQUE,
	country             TEXT    NOT NULL,
	hospital            TEXT    NOT NULL,
	department          TEXT    NOT NULL,
	date_of_surgery     TEXT    NOT NULL,
	procedure_type      TEXT    NOT NULL,
	doctor_name         TEXT    NOT NULL,
	time_of_procedure   TEXT    NOT NULL,
	special_instruction TEXT    NOT NULL DEFAULT '',
	status              TEXT    NOT NULL,
	submitted_by        TEXT    NOT NULL,
	submitted_at        INTEGER NOT NULL,
	status_history      BLOB    NOT NULL,
	amendment_history   BLOB    NOT NULL,
	original_values     BLOB,
	amended             INTEGER NOT NULL DEFAULT 0,
	needs_sync          INTEGER NOT NULL DEFAULT 0,
	updated_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cases_country_status ON cases (country, status);
CREATE INDEX IF NOT EXISTS idx_cases_needs_sync ON cases (needs_sync);
CREATE INDEX IF NOT EXISTS idx_cases_submitted_by ON cases (submitted_by);
`
