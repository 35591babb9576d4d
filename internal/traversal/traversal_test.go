package traversal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/internal/store"
)

func setupTestTraversal(t *testing.T) (*nodestore.Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "traversal-test-*")
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

func mustNode(t *testing.T, repo *nodestore.Repository, id string, ts time.Time) {
	t.Helper()
	n := &model.Node{ID: id, Type: model.NodeTypeCoding, Project: "pi-brain", Timestamp: ts}
	if err := repo.CreateNode(n); err != nil {
		t.Fatalf("create node %s: %v", id, err)
	}
}

func mustEdge(t *testing.T, repo *nodestore.Repository, id, from, to string, typ model.EdgeType) {
	t.Helper()
	e := &model.Edge{ID: id, SourceNodeID: from, TargetNodeID: to, Type: typ, CreatedBy: model.CreatedByDaemon, CreatedAt: time.Now()}
	if err := repo.CreateEdge(e); err != nil {
		t.Fatalf("create edge %s: %v", id, err)
	}
}

// a -> b -> c, a -> d
func buildLinearGraph(t *testing.T, repo *nodestore.Repository) {
	now := time.Now()
	mustNode(t, repo, "a", now.Add(-3*time.Hour))
	mustNode(t, repo, "b", now.Add(-2*time.Hour))
	mustNode(t, repo, "c", now.Add(-1*time.Hour))
	mustNode(t, repo, "d", now)
	mustEdge(t, repo, "edg-ab", "a", "b", model.EdgeRelatesTo)
	mustEdge(t, repo, "edg-bc", "b", "c", model.EdgeRelatesTo)
	mustEdge(t, repo, "edg-ad", "a", "d", model.EdgeLeadsTo)
}

func TestGetConnectedNodesExcludesRootAndRespectsDepth(t *testing.T) {
	repo, cleanup := setupTestTraversal(t)
	defer cleanup()
	buildLinearGraph(t, repo)

	connected, err := GetConnectedNodes(repo, "a", Options{Depth: 1, Direction: DirectionOutgoing})
	if err != nil {
		t.Fatalf("get connected: %v", err)
	}
	if len(connected) != 2 {
		t.Fatalf("expected 2 nodes at depth 1, got %d", len(connected))
	}
	for _, c := range connected {
		if c.Node.ID == "a" {
			t.Error("expected root excluded from results")
		}
	}

	connectedDepth2, err := GetConnectedNodes(repo, "a", Options{Depth: 2, Direction: DirectionOutgoing})
	if err != nil {
		t.Fatalf("get connected depth 2: %v", err)
	}
	found := false
	for _, c := range connectedDepth2 {
		if c.Node.ID == "c" {
			found = true
			if c.HopDistance != 2 {
				t.Errorf("expected hop distance 2 for c, got %d", c.HopDistance)
			}
		}
	}
	if !found {
		t.Error("expected c reachable at depth 2")
	}
}

func TestGetConnectedNodesFiltersByEdgeType(t *testing.T) {
	repo, cleanup := setupTestTraversal(t)
	defer cleanup()
	buildLinearGraph(t, repo)

	connected, err := GetConnectedNodes(repo, "a", Options{Depth: 1, Direction: DirectionOutgoing, EdgeTypes: []model.EdgeType{model.EdgeLeadsTo}})
	if err != nil {
		t.Fatalf("get connected: %v", err)
	}
	if len(connected) != 1 || connected[0].Node.ID != "d" {
		t.Fatalf("expected only d via LEADS_TO, got %+v", connected)
	}
}

func TestGetSubgraphUnionsAndDedupsEdges(t *testing.T) {
	repo, cleanup := setupTestTraversal(t)
	defer cleanup()
	buildLinearGraph(t, repo)

	sub, err := GetSubgraph(repo, []string{"a", "b"}, Options{Depth: 2, Direction: DirectionOutgoing})
	if err != nil {
		t.Fatalf("get subgraph: %v", err)
	}
	nodeIDs := map[string]bool{}
	for _, n := range sub.Nodes {
		nodeIDs[n.ID] = true
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		if !nodeIDs[want] {
			t.Errorf("expected node %s in subgraph, got %v", want, nodeIDs)
		}
	}
	edgeIDs := map[string]int{}
	for _, e := range sub.Edges {
		edgeIDs[e.ID]++
	}
	for id, count := range edgeIDs {
		if count != 1 {
			t.Errorf("expected edge %s deduped to 1 occurrence, got %d", id, count)
		}
	}
}

func TestFindPathReturnsShortestRoute(t *testing.T) {
	repo, cleanup := setupTestTraversal(t)
	defer cleanup()
	buildLinearGraph(t, repo)

	path, err := FindPath(repo, "a", "c", PathOptions{})
	if err != nil {
		t.Fatalf("find path: %v", err)
	}
	if path == nil {
		t.Fatal("expected a path from a to c")
	}
	want := []string{"a", "b", "c"}
	if len(path.NodeIDs) != len(want) {
		t.Fatalf("expected path %v, got %v", want, path.NodeIDs)
	}
	for i, id := range want {
		if path.NodeIDs[i] != id {
			t.Errorf("expected path %v, got %v", want, path.NodeIDs)
			break
		}
	}
}

func TestFindPathNoRouteReturnsNil(t *testing.T) {
	repo, cleanup := setupTestTraversal(t)
	defer cleanup()
	mustNode(t, repo, "isolated-1", time.Now())
	mustNode(t, repo, "isolated-2", time.Now())

	path, err := FindPath(repo, "isolated-1", "isolated-2", PathOptions{})
	if err != nil {
		t.Fatalf("find path: %v", err)
	}
	if path != nil {
		t.Errorf("expected nil path for disconnected nodes, got %+v", path)
	}
}

func TestPathOptionsMaxDepthClampedToRange(t *testing.T) {
	cases := []struct {
		name string
		opts PathOptions
		want int
	}{
		{"zero value defaults to 10", PathOptions{}, 10},
		{"negative clamped to default", PathOptions{MaxDepth: -5}, 10},
		{"within range passed through", PathOptions{MaxDepth: 15}, 15},
		{"at upper bound passed through", PathOptions{MaxDepth: 20}, 20},
		{"above upper bound clamped to 20", PathOptions{MaxDepth: 1000}, 20},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.opts.maxDepth(); got != c.want {
				t.Errorf("maxDepth() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestFindPathRespectsMaxDepthUpperBound(t *testing.T) {
	repo, cleanup := setupTestTraversal(t)
	defer cleanup()
	buildLinearGraph(t, repo)

	path, err := FindPath(repo, "a", "c", PathOptions{MaxDepth: 1000})
	if err != nil {
		t.Fatalf("find path: %v", err)
	}
	if path == nil {
		t.Fatal("expected a path from a to c even with an out-of-range MaxDepth")
	}
}

func TestGetAncestorsAndDescendants(t *testing.T) {
	repo, cleanup := setupTestTraversal(t)
	defer cleanup()
	buildLinearGraph(t, repo)

	descendants, err := GetDescendants(repo, "a", 0)
	if err != nil {
		t.Fatalf("get descendants: %v", err)
	}
	if len(descendants) != 3 {
		t.Fatalf("expected 3 descendants (b, c, d), got %d", len(descendants))
	}

	ancestors, err := GetAncestors(repo, "c", 0)
	if err != nil {
		t.Fatalf("get ancestors: %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("expected 2 ancestors (a, b), got %d", len(ancestors))
	}
}
