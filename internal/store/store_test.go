package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestStore opens a store against a fresh temp-dir database with vec
// skipped (the sqlite-vec extension binding is not assumed available in
// plain `go test` environments, matching spec.md's optional-capability
// design).
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}

	s, err := Open(Config{
		DBPath:        filepath.Join(tmpDir, "brain.db"),
		VecLoadPolicy: VecSkipped,
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open store: %v", err)
	}

	return s, func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestOpenAppliesBaseSchema(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	var name string
	err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'nodes'`).Scan(&name)
	if err != nil {
		t.Fatalf("expected nodes table to exist: %v", err)
	}
}

func TestOpenRecordsSkippedVecMigration(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	var desc string
	err := s.DB().QueryRow(`SELECT description FROM schema_version WHERE version = 2`).Scan(&desc)
	if err != nil {
		t.Fatalf("expected migration 2 to be recorded: %v", err)
	}
	if !strings.Contains(desc, "skipped") {
		t.Errorf("expected skipped marker in description, got %q", desc)
	}
	if s.IsVecLoaded() {
		t.Errorf("expected vec to be unloaded under VecSkipped")
	}
}

func TestOpenRejectsDefaultPathInTestMode(t *testing.T) {
	_, err := Open(Config{TestMode: true, VecLoadPolicy: VecSkipped})
	if err != ErrTestAccessViolation {
		t.Fatalf("expected ErrTestAccessViolation, got %v", err)
	}
}
