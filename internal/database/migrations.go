package database

import (
	"database/sql"
	"strings"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx, d dialect) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "events, event details and event updates",
		Up: func(tx *sql.Tx, d dialect) error {
			_, err := tx.Exec(ddl(d, `
CREATE TABLE IF NOT EXISTS events (
    id {{serial}},
    title TEXT NOT NULL,
    query TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT '',
    last_updated TEXT,
    incident_date TEXT,
    summary TEXT,
    tags TEXT,
    image_url TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_details (
    id {{serial}},
    event_id BIGINT UNIQUE NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    headline TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    details TEXT NOT NULL,
    accused TEXT NOT NULL,
    victims TEXT NOT NULL,
    timeline TEXT NOT NULL,
    sources TEXT NOT NULL,
    images TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_updates (
    id {{serial}},
    event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    update_date TEXT NOT NULL,
    relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    key_insights TEXT,
    summary TEXT,
    sources TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_last_updated ON events(last_updated);
CREATE INDEX IF NOT EXISTS idx_event_updates_event ON event_updates(event_id, update_date);
`))
			return err
		},
	},
	{
		Version:     2,
		Description: "event detail slugs",
		Up: func(tx *sql.Tx, d dialect) error {
			if _, err := tx.Exec(`ALTER TABLE event_details ADD COLUMN slug TEXT`); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_event_details_slug ON event_details(slug)`)
			return err
		},
	},
}

func ddl(d dialect, schema string) string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == postgresDialect {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(schema, "{{serial}}", serial)
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
