package fts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vthunder/pi-brain/internal/filter"
	"github.com/vthunder/pi-brain/internal/indexer"
	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/internal/store"
)

func setupTestSearch(t *testing.T) (*store.Store, *nodestore.Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "fts-test-*")
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

func indexNode(t *testing.T, s *store.Store, repo *nodestore.Repository, id, summary string) {
	t.Helper()
	n := &model.Node{
		ID:             id,
		Type:           model.NodeTypeCoding,
		Project:        "pi-brain",
		Timestamp:      time.Now(),
		IndexedSummary: summary,
	}
	if err := repo.CreateNode(n); err != nil {
		t.Fatalf("create node %s: %v", id, err)
	}
	if err := indexer.IndexNode(s, n, nil, ""); err != nil {
		t.Fatalf("index node %s: %v", id, err)
	}
}

// TestFTSQuotingScenario is the concrete scenario from spec.md §8 item 1:
// a multi-word query over two dissimilar summaries returns only the match.
func TestFTSQuotingScenario(t *testing.T) {
	s, repo, cleanup := setupTestSearch(t)
	defer cleanup()

	indexNode(t, s, repo, "node-auth", "Implemented authentication with JWT tokens")
	indexNode(t, s, repo, "node-db", "Fixed database connection pooling")

	hits, total, err := Search(s, "authentication JWT", nil, filter.Filters{}, 20, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(hits) != 1 {
		t.Fatalf("expected exactly 1 hit, got total=%d len=%d", total, len(hits))
	}
	if hits[0].Node.ID != "node-auth" {
		t.Errorf("expected node-auth, got %s", hits[0].Node.ID)
	}
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	s, repo, cleanup := setupTestSearch(t)
	defer cleanup()
	indexNode(t, s, repo, "node-1", "anything at all")

	hits, total, err := Search(s, "", nil, filter.Filters{}, 20, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 0 || len(hits) != 0 {
		t.Fatalf("expected empty result for empty query, got total=%d len=%d", total, len(hits))
	}
}

func TestPrepareQueryQuotesAndRestrictsFields(t *testing.T) {
	got := PrepareQuery(`hello "world"`, []string{"summary", "tags"})
	want := `{summary tags}:"hello" {summary tags}:"""world"""`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestHighlightWrapsMatchAndTruncates(t *testing.T) {
	text := "This is a very long piece of text that mentions authentication somewhere in the middle of it all, going on for a while."
	got := highlight(text, []string{"authentication"})
	if !strings.Contains(got, "<mark>authentication</mark>") {
		t.Errorf("expected marked occurrence, got %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Errorf("expected truncation markers, got %q", got)
	}
}
