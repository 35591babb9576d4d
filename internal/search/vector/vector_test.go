package vector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/pi-brain/internal/filter"
	"github.com/vthunder/pi-brain/internal/indexer"
	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/internal/store"
)

func setupTestVector(t *testing.T) (*store.Store, *nodestore.Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "vector-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	s, err := store.Open(store.Config{
		DBPath:        filepath.Join(tmpDir, "brain.db"),
		VecLoadPolicy: store.VecSkipped,
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open store: %v", err)
	}
	return s, nodestore.New(s), func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}
}

// TestSearchDegradesWhenVecUnloaded covers the graceful-degradation
// precondition: with the vector extension skipped, Search must return a nil
// result and no error rather than attempting the KNN query.
func TestSearchDegradesWhenVecUnloaded(t *testing.T) {
	s, _, cleanup := setupTestVector(t)
	defer cleanup()

	hits, err := Search(s, []float32{0.1, 0.2, 0.3}, filter.Filters{}, 10, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hits != nil {
		t.Errorf("expected nil hits when vec extension unloaded, got %v", hits)
	}
}

func TestFindSimilarNodesDegradesWhenVecUnloaded(t *testing.T) {
	s, repo, cleanup := setupTestVector(t)
	defer cleanup()

	n := &model.Node{ID: "node-1", Type: model.NodeTypeCoding, Project: "pi-brain", Timestamp: time.Now()}
	if err := repo.CreateNode(n); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if err := indexer.IndexNode(s, n, nil, ""); err != nil {
		t.Fatalf("index node: %v", err)
	}

	hits, err := FindSimilarNodes(s, "node-1", filter.Filters{}, 5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hits != nil {
		t.Errorf("expected nil hits when vec extension unloaded, got %v", hits)
	}
}

func TestFindSimilarNodesUnknownNodeReturnsNil(t *testing.T) {
	s, _, cleanup := setupTestVector(t)
	defer cleanup()

	hits, err := FindSimilarNodes(s, "does-not-exist", filter.Filters{}, 5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hits != nil {
		t.Errorf("expected nil hits for unknown node, got %v", hits)
	}
}
