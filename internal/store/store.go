// Package store implements §4.A of the session-memory store: opening a
// schema-managed, extension-augmented sqlite database and applying
// forward-only numbered migrations, gated on runtime capabilities.
//
// Grounded on vthunder/bud2's internal/graph.Open / runMigrations, with
// the ad hoc version-threshold `if version < N` chain generalised into a
// declarative migration list and the ambient environment-variable test
// guard centralised onto Config.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// Store wraps the sqlite connection pool plus vector-capability state.
type Store struct {
	db   *sql.DB
	cfg  Config

	vecMu        sync.RWMutex
	vecAvailable bool
	vecDim       int // 0 = not yet determined
}

// Open opens or creates the database at cfg's path, applying migrations.
// In TestMode, opening the well-known default path fails with
// ErrTestAccessViolation unless AllowProdDBInTests is set (spec.md §4.A
// "Production-database guard").
func Open(cfg Config) (*Store, error) {
	if cfg.TestMode && cfg.isDefaultProdPath() && !cfg.AllowProdDBInTests {
		return nil, ErrTestAccessViolation
	}

	dbPath := cfg.dbPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set synchronous mode: %w", err)
	}

	s := &Store{db: db, cfg: cfg}

	if err := s.loadVec(cfg.VecLoadPolicy); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	if s.vecAvailable {
		if err := s.initVecTableFromExisting(); err != nil {
			log.Printf("[store] vec init warning: %v", err)
		}
	}

	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pooled *sql.DB for repositories in sibling packages.
// Repositories hold a *Store (not a *sql.DB) so they can observe vector
// capability state (IsVecLoaded) without a second round of plumbing.
func (s *Store) DB() *sql.DB {
	return s.db
}

// IsVecLoaded answers "is the vector function set resolvable?" (spec.md §4.A).
func (s *Store) IsVecLoaded() bool {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()
	return s.vecAvailable
}

// VecDim returns the embedding dimension the vec table is configured for,
// or 0 if not yet established.
func (s *Store) VecDim() int {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()
	return s.vecDim
}
