package sqlite

import (
	"database/sql"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	_ "modernc.org/sqlite"

	"github.com/Dipanshu-verma/profilesync/adapters/sqlstore"
)

// Open creates a SQLite connection configured for a single writer.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database", j.MKV{"path": path})
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to set pragma", j.MKV{"pragma": pragma})
		}
	}

	// Writes are serialised by SQLite anyway and a single connection avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// InitSchema creates the run and profile tables if they do not exist.
func InitSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS ` + sqlstore.DefaultRunsTable + ` (
    id          TEXT NOT NULL PRIMARY KEY,
    subject_id  TEXT NOT NULL,
    status      INTEGER NOT NULL,
    wake_at     INTEGER NOT NULL DEFAULT 0,
    version     INTEGER NOT NULL,
    object      BLOB NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_subject_id
    ON ` + sqlstore.DefaultRunsTable + ` (subject_id);
CREATE INDEX IF NOT EXISTS idx_runs_status_wake_at
    ON ` + sqlstore.DefaultRunsTable + ` (status, wake_at);

CREATE TABLE IF NOT EXISTS ` + sqlstore.DefaultProfilesTable + ` (
    email         TEXT NOT NULL PRIMARY KEY,
    first_name    TEXT NOT NULL,
    last_name     TEXT NOT NULL,
    phone_number  TEXT NOT NULL DEFAULT '',
    city          TEXT NOT NULL DEFAULT '',
    pincode       TEXT NOT NULL DEFAULT '',
    version       INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);`

	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "init schema")
	}

	return nil
}

// NewRunStore returns a RunStore over the default runs table. Reflex run events are not supported on SQLite.
func NewRunStore(db *sql.DB, opts ...sqlstore.Option) *sqlstore.RunStore {
	return sqlstore.NewRunStore(db, db, sqlstore.DefaultRunsTable, opts...)
}

func NewProfileStore(db *sql.DB, opts ...sqlstore.ProfileOption) *sqlstore.ProfileStore {
	return sqlstore.NewProfileStore(db, db, sqlstore.DefaultProfilesTable, opts...)
}
