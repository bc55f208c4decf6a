package journal

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version.
//
//	0  events and snapshots without outcomes
//	1  events.outcome plus the partial unique index on event_id
const schemaVersion = 1

// WAL lets replay read while a session appends.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// migration upgrades a database from version-1 to version.
type migration struct {
	version int
	apply   func(*sql.DB) error
}

var migrations = []migration{
	{version: 1, apply: addOutcomeColumn},
}

// Journal is the local durable log of reconciled events and resync
// snapshots, backed by a single SQLite file.
type Journal struct {
	db *sql.DB
}

// Open opens the journal at path, creating and upgrading it as needed.
// Opening an up-to-date journal again changes nothing.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway, and pragmas are
	// per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func prepare(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return migrate(db)
}

// migrate runs pending migrations, then the idempotent schema, then
// records the current version.
func migrate(db *sql.DB) error {
	var have int
	if err := db.QueryRow("PRAGMA user_version").Scan(&have); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if have >= m.version {
			continue
		}
		if err := m.apply(db); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// addOutcomeColumn upgrades a v0 events table. Every v0 row was an
// applied event. Fresh databases skip this and get the column from the
// schema.
func addOutcomeColumn(db *sql.DB) error {
	var tables int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'events'`).Scan(&tables)
	if err != nil || tables == 0 {
		return err
	}

	var cols int
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('events') WHERE name = 'outcome'`).Scan(&cols)
	if err != nil || cols > 0 {
		return err
	}

	_, err = db.Exec(`ALTER TABLE events ADD COLUMN outcome TEXT NOT NULL DEFAULT 'applied'`)
	return err
}

// Close releases the database. Safe on a zero Journal.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// verifyPragma reports whether PRAGMA name reads back as want.
func (j *Journal) verifyPragma(name, want string) error {
	var got string
	if err := j.db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("%s is %q, want %q", name, got, want)
	}
	return nil
}
