package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/internal/store"
)

func setupTestBridge(t *testing.T) (*nodestore.Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "bridge-test-*")
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
	return nodestore.New(s), func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}
}

func mustNode(t *testing.T, repo *nodestore.Repository, id, project string) {
	t.Helper()
	n := &model.Node{ID: id, Type: model.NodeTypeCoding, Project: project, Timestamp: time.Now()}
	if err := repo.CreateNode(n); err != nil {
		t.Fatalf("create node %s: %v", id, err)
	}
}

func mustEdge(t *testing.T, repo *nodestore.Repository, id, from, to string, confidence *float64) {
	t.Helper()
	e := &model.Edge{
		ID: id, SourceNodeID: from, TargetNodeID: to, Type: model.EdgeRelatesTo,
		CreatedBy: model.CreatedByDaemon, CreatedAt: time.Now(), Confidence: confidence,
	}
	if err := repo.CreateEdge(e); err != nil {
		t.Fatalf("create edge %s: %v", id, err)
	}
}

func floatPtr(f float64) *float64 { return &f }

// seed -> mid -> target, with high-confidence edges throughout.
func buildBridgeChain(t *testing.T, repo *nodestore.Repository) {
	mustNode(t, repo, "seed", "alpha")
	mustNode(t, repo, "mid", "beta")
	mustNode(t, repo, "target", "gamma")
	mustEdge(t, repo, "edg-1", "seed", "mid", floatPtr(0.9))
	mustEdge(t, repo, "edg-2", "mid", "target", floatPtr(0.9))
}

func TestDiscoverFindsMultiHopPath(t *testing.T) {
	repo, cleanup := setupTestBridge(t)
	defer cleanup()
	buildBridgeChain(t, repo)

	discoveries, err := Discover(repo, nil, []string{"seed"}, Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	found := false
	for _, d := range discoveries {
		if len(d.NodeIDs) == 3 && d.NodeIDs[0] == "seed" && d.NodeIDs[2] == "target" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 3-node discovery seed->mid->target, got %+v", discoveries)
	}
}

func TestDiscoverRespectsMinScore(t *testing.T) {
	repo, cleanup := setupTestBridge(t)
	defer cleanup()
	mustNode(t, repo, "seed", "alpha")
	mustNode(t, repo, "weak", "beta")
	mustEdge(t, repo, "edg-weak", "seed", "weak", floatPtr(0.05))

	discoveries, err := Discover(repo, nil, []string{"seed"}, Options{MinScore: 0.5})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	for _, d := range discoveries {
		for _, id := range d.NodeIDs {
			if id == "weak" {
				t.Error("expected low-confidence edge pruned by MinScore")
			}
		}
	}
}

func TestDiscoverDescriptionFallsBackToProjectBasename(t *testing.T) {
	repo, cleanup := setupTestBridge(t)
	defer cleanup()
	buildBridgeChain(t, repo)

	discoveries, err := Discover(repo, nil, []string{"seed"}, Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(discoveries) == 0 {
		t.Fatal("expected at least one discovery")
	}
	if discoveries[0].Description == "" {
		t.Error("expected a non-empty description")
	}
	// No summary reader: seed->mid (score 0.81) ranks first and renders
	// its nodes by project basename.
	if want := "alpha relates to beta"; discoveries[0].Description != want {
		t.Errorf("expected description %q, got %q", want, discoveries[0].Description)
	}
}

func TestDiscoverSortedDescendingByScore(t *testing.T) {
	repo, cleanup := setupTestBridge(t)
	defer cleanup()
	buildBridgeChain(t, repo)
	mustNode(t, repo, "other", "delta")
	mustEdge(t, repo, "edg-3", "seed", "other", floatPtr(0.3))

	discoveries, err := Discover(repo, nil, []string{"seed"}, Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	for i := 1; i < len(discoveries); i++ {
		if discoveries[i].Score > discoveries[i-1].Score {
			t.Errorf("expected descending score order, got %v", discoveries)
		}
	}
}
