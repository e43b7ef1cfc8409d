package connpool

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modelgate/modelgate/internal/json"
)

// SQLiteStore persists connection bookkeeping (locks, backoff, refreshed
// tokens) across restarts. Records are whole-row JSON keyed by id; the
// pool's in-memory state stays authoritative while the process runs.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open connection store: %w", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			record TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate connection store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts one connection record. Last write wins.
func (s *SQLiteStore) Save(conn Connection) error {
	raw, err := json.Marshal(conn)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO connections (id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`, conn.ID, string(raw), time.Now())
	return err
}

// Load returns every persisted connection record, for rehydrating runtime
// state at boot.
func (s *SQLiteStore) Load() ([]Connection, error) {
	rows, err := s.db.Query(`SELECT record FROM connections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var conn Connection
		if err := json.Unmarshal([]byte(raw), &conn); err != nil {
			continue
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
