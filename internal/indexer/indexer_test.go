package indexer_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vthunder/pi-brain/internal/indexer"
	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/internal/store"
)

func setupTestIndex(t *testing.T) (*store.Store, *nodestore.Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "indexer-test-*")
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

func TestBuildEmbeddingTextComposesDecisionsAndLessonsInOrder(t *testing.T) {
	n := &model.Node{
		Type:      model.NodeTypeDebugging,
		Project:   "pi-brain",
		Decisions: []model.Decision{{What: "use sqlite-vec", Why: "avoid external service"}},
		Lessons: []model.Lesson{
			{Level: model.LevelTool, Summary: "retry flaky tool calls"},
			{Level: model.LevelProject, Summary: "keep migrations additive"},
		},
	}

	text := indexer.BuildEmbeddingText(n)
	if !indexer.IsRichEmbeddingFormat(text) {
		t.Fatalf("expected rich format, got:\n%s", text)
	}

	wantOrder := []string{"keep migrations additive", "retry flaky tool calls"}
	var lastIdx int
	for _, w := range wantOrder {
		idx := strings.Index(text, w)
		if idx < 0 {
			t.Fatalf("expected %q in text:\n%s", w, text)
		}
		if idx < lastIdx {
			t.Errorf("expected canonical level order (project before tool), got:\n%s", text)
		}
		lastIdx = idx
	}
}

func TestIsRichEmbeddingFormatFalseForPlainText(t *testing.T) {
	if indexer.IsRichEmbeddingFormat("just a plain summary with no structure") {
		t.Error("expected plain text to not be rich format")
	}
}

func TestIndexNodeWritesFTSRow(t *testing.T) {
	s, repo, cleanup := setupTestIndex(t)
	defer cleanup()

	n := &model.Node{
		ID:        "node-1",
		Type:      model.NodeTypeCoding,
		Project:   "pi-brain",
		Timestamp: time.Now(),
		Tags:      []string{"go"},
		Decisions: []model.Decision{{What: "use blake3", Why: "fast hashing"}},
	}
	if err := repo.CreateNode(n); err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := indexer.IndexNode(s, n, nil, ""); err != nil {
		t.Fatalf("index node: %v", err)
	}

	var summary, decisions string
	err := s.DB().QueryRow(`SELECT summary, decisions FROM nodes_fts WHERE node_id = ?`, "node-1").Scan(&summary, &decisions)
	if err != nil {
		t.Fatalf("query fts row: %v", err)
	}
	if summary != n.Summary() {
		t.Errorf("expected summary %q, got %q", n.Summary(), summary)
	}
	if !strings.Contains(decisions, "use blake3") {
		t.Errorf("expected decisions text to contain 'use blake3', got %q", decisions)
	}
}

func TestIndexNodeReplacesPriorFTSRow(t *testing.T) {
	s, repo, cleanup := setupTestIndex(t)
	defer cleanup()

	n := &model.Node{ID: "node-2", Type: model.NodeTypeCoding, Project: "alpha", Timestamp: time.Now()}
	if err := repo.CreateNode(n); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if err := indexer.IndexNode(s, n, nil, ""); err != nil {
		t.Fatalf("index node: %v", err)
	}

	n.Project = "beta"
	n.IndexedSummary = "beta project work"
	if err := indexer.IndexNode(s, n, nil, ""); err != nil {
		t.Fatalf("reindex node: %v", err)
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM nodes_fts WHERE node_id = ?`, "node-2").Scan(&count); err != nil {
		t.Fatalf("count fts rows: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly 1 fts row after reindex, got %d", count)
	}
}
