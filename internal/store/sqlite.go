package store

import (
	"database/sql"
)

// Store wraps the SQLite database holding observations, the model version
// catalog, prediction logs and drift reports. All four tables are
// append-mostly and deliberately unlinked by foreign keys so retention can
// differ per table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}
