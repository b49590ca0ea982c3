package sqlitestore

import "database/sql"

// migrate creates the schema if it doesn't exist.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS memories (
			id   TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS memory_index (
			id          TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
			memory_type TEXT NOT NULL,
			timestamp   TEXT NOT NULL,
			importance  REAL NOT NULL,
			metadata    TEXT NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS memory_index_type ON memory_index(memory_type);
	`
	_, err := db.Exec(schema)
	return err
}
