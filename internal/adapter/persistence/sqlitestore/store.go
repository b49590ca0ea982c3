// Package sqlitestore persists long-term memory in a single SQLite file. The
// entry document and its index row are written in one transaction.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"conductor/internal/domain"
)

// Store implements domain.PersistenceAdapter on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrMemoryStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrMemoryStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrMemoryStore, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Name() string { return "sqlite" }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, id string, data []byte, index domain.IndexRecord) error {
	meta, err := json.Marshal(index.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", domain.ErrMemoryIndex, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrMemoryStore, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		id, data,
	); err != nil {
		return fmt.Errorf("%w: insert entry: %v", domain.ErrMemoryStore, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_index (id, memory_type, timestamp, importance, metadata)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			memory_type = excluded.memory_type,
			timestamp   = excluded.timestamp,
			importance  = excluded.importance,
			metadata    = excluded.metadata`,
		id, index.MemoryType, index.Timestamp.UTC().Format(time.RFC3339Nano), index.Importance, string(meta),
	); err != nil {
		return fmt.Errorf("%w: insert index: %v", domain.ErrMemoryIndex, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrMemoryStore, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM memories WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: load: %v", domain.ErrMemoryStore, err)
	}
	return data, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("%w: delete: %v", domain.ErrMemoryStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete: %v", domain.ErrMemoryStore, err)
	}
	return n > 0, nil
}

func (s *Store) ListIndex(ctx context.Context) ([]domain.IndexRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, memory_type, timestamp, importance, metadata FROM memory_index ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", domain.ErrMemoryIndex, err)
	}
	defer rows.Close()

	var out []domain.IndexRecord
	for rows.Next() {
		var (
			rec  domain.IndexRecord
			ts   string
			meta string
		)
		if err := rows.Scan(&rec.ID, &rec.MemoryType, &ts, &rec.Importance, &meta); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrMemoryIndex, err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("%w: timestamp for %s: %v", domain.ErrMemoryIndex, rec.ID, err)
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata for %s: %v", domain.ErrMemoryIndex, rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ domain.PersistenceAdapter = (*Store)(nil)
