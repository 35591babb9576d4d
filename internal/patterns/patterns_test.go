package patterns

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/internal/store"
)

func setupTestPatterns(t *testing.T) (*store.Store, *nodestore.Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "patterns-test-*")
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

func TestListFailurePatternsOrdering(t *testing.T) {
	s, _, cleanup := setupTestPatterns(t)
	defer cleanup()

	now := time.Now()
	_, err := s.DB().Exec(`INSERT INTO failure_patterns (pattern, occurrences, last_seen) VALUES (?, ?, ?), (?, ?, ?)`,
		"low freq", 1, now, "high freq", 9, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, err := ListFailurePatterns(s, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got total=%d len=%d", page.Total, len(page.Items))
	}
	if page.Items[0].Pattern != "high freq" {
		t.Errorf("expected higher-occurrence pattern first, got %s", page.Items[0].Pattern)
	}
}

func TestListLessonsFiltersByLevelAndTag(t *testing.T) {
	s, repo, cleanup := setupTestPatterns(t)
	defer cleanup()

	n := &model.Node{
		ID: "n1", Type: model.NodeTypeCoding, Project: "pi-brain", Timestamp: time.Now(),
		Lessons: []model.Lesson{
			{Level: model.LevelProject, Summary: "lesson a", Tags: []string{"go"}},
			{Level: model.LevelTool, Summary: "lesson b", Tags: []string{"python"}},
		},
	}
	if err := repo.CreateNode(n); err != nil {
		t.Fatalf("create node: %v", err)
	}

	page, err := ListLessons(s, LessonFilters{Level: model.LevelProject}, 10, 0)
	if err != nil {
		t.Fatalf("list lessons: %v", err)
	}
	if page.Total != 1 || page.Items[0].Summary != "lesson a" {
		t.Fatalf("expected only the project-level lesson, got %+v", page.Items)
	}

	tagPage, err := ListLessons(s, LessonFilters{Tags: []string{"go"}}, 10, 0)
	if err != nil {
		t.Fatalf("list lessons by tag: %v", err)
	}
	if tagPage.Total != 1 || tagPage.Items[0].Summary != "lesson a" {
		t.Fatalf("expected only the go-tagged lesson, got %+v", tagPage.Items)
	}
}

func TestGetLessonsByLevelCoversAllCanonicalLevels(t *testing.T) {
	s, repo, cleanup := setupTestPatterns(t)
	defer cleanup()

	n := &model.Node{
		ID: "n1", Type: model.NodeTypeCoding, Project: "pi-brain", Timestamp: time.Now(),
		Lessons: []model.Lesson{{Level: model.LevelSkill, Summary: "practice the craft"}},
	}
	if err := repo.CreateNode(n); err != nil {
		t.Fatalf("create node: %v", err)
	}

	buckets, err := GetLessonsByLevel(s, 5)
	if err != nil {
		t.Fatalf("get lessons by level: %v", err)
	}
	if len(buckets) != len(model.CanonicalLessonLevels) {
		t.Fatalf("expected %d buckets, got %d", len(model.CanonicalLessonLevels), len(buckets))
	}
	if buckets[model.LevelSkill].Count != 1 {
		t.Errorf("expected 1 skill-level lesson, got %d", buckets[model.LevelSkill].Count)
	}
	if buckets[model.LevelTask].Count != 0 {
		t.Errorf("expected 0 task-level lessons, got %d", buckets[model.LevelTask].Count)
	}
}

func TestListAggregatedInsightsAttachesEffectiveness(t *testing.T) {
	s, _, cleanup := setupTestPatterns(t)
	defer cleanup()

	res, err := s.DB().Exec(`INSERT INTO aggregated_insights (kind, examples) VALUES (?, ?)`, "retry-backoff", `["a","b"]`)
	if err != nil {
		t.Fatalf("insert insight: %v", err)
	}
	insightID, _ := res.LastInsertId()
	_, err = s.DB().Exec(`INSERT INTO prompt_effectiveness (insight_id, prompt_version, improvement, significant) VALUES (?, ?, ?, ?)`,
		insightID, "v2", 0.12, 1)
	if err != nil {
		t.Fatalf("insert effectiveness: %v", err)
	}

	page, err := ListAggregatedInsights(s, "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected 1 insight, got %d", page.Total)
	}
	if len(page.Items[0].PromptEffectiveness) != 1 {
		t.Fatalf("expected 1 effectiveness row attached, got %d", len(page.Items[0].PromptEffectiveness))
	}
	if !page.Items[0].PromptEffectiveness[0].Significant {
		t.Error("expected significant=true")
	}
}
