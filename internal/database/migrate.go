package database

import (
	"database/sql"
	"fmt"
)

// getSchemaVersion reads the applied schema version. SQLite keeps it in
// PRAGMA user_version; Postgres in the schema_migrations table.
func getSchemaVersion(conn *sql.DB, d dialect) (int, error) {
	var version int
	if d == postgresDialect {
		if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)`); err != nil {
			return 0, fmt.Errorf("creating schema_migrations: %w", err)
		}
		if err := conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
			return 0, fmt.Errorf("reading schema version: %w", err)
		}
		return version, nil
	}
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(conn *sql.DB, d dialect, version int) error {
	if d == postgresDialect {
		_, err := conn.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version)
		return err
	}
	// PRAGMA cannot be parameterized.
	_, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	return err
}

// migrate brings the database schema up to the latest version.
func migrate(conn *sql.DB, d dialect) error {
	current, err := getSchemaVersion(conn, d)
	if err != nil {
		return err
	}

	if current >= latestVersion() {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx, d); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// Set the version outside the transaction (modernc/sqlite requirement).
		if err := setSchemaVersion(conn, d, m.Version); err != nil {
			return fmt.Errorf("setting version %d: %w", m.Version, err)
		}
	}

	return nil
}
