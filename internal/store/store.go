// internal/store/store.go

// Package store is the persistence service's storage layer, backed by an
// embedded SQLite database. All mutations are serialized behind one mutex so
// every request observes a consistent snapshot.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors mapped to wire error kinds by the persistence service.
var (
	ErrNotFound           = errors.New("record not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Schema defines the SQLite structure. AUTOINCREMENT keeps ids monotonic and
// never reused; NOCASE on email enforces case-insensitive uniqueness.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	last_login_at DATETIME
);

CREATE TABLE IF NOT EXISTS rooms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	host_user_id INTEGER NOT NULL,
	visibility TEXT NOT NULL CHECK(visibility IN ('public', 'private')),
	invite_list TEXT NOT NULL DEFAULT '[]',
	members TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL CHECK(status IN ('idle', 'playing')),
	created_at DATETIME NOT NULL,
	FOREIGN KEY (host_user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS game_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	match_id TEXT NOT NULL,
	room_id INTEGER NOT NULL,
	users TEXT NOT NULL,
	start_at DATETIME NOT NULL,
	end_at DATETIME NOT NULL,
	results TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rooms_visibility ON rooms(visibility);
CREATE INDEX IF NOT EXISTS idx_game_logs_match ON game_logs(match_id);
`

// Store wraps the database handle. The mutex serializes mutations; reads run
// under it as well since SQLite gains nothing from concurrent readers on a
// single connection.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	// A single connection keeps ":memory:" stores coherent and makes the
	// mutex the only serialization point.
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
