// Package indexer implements §4.D: on every node create/update, project
// the node into its three representations (FTS row, rich embedding text,
// vector row). The FTS row is written in its own transaction; the
// embedding rows are written after it commits, outside that transaction.
//
// Grounded on the teacher's trigger-based `trace_fts` sync (migration
// v17/v20 in internal/graph/db.go) and its `ensureVecTable` backfill, but
// generalised from SQLite triggers to an explicit transactional
// projection step — this store needs the rich multi-field FTS document
// and explicit row-id pairing between node_embeddings and
// node_embeddings_vec that a bare trigger can't express cleanly.
package indexer

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/store"
	"github.com/vthunder/pi-brain/pkg/embedding"
)

const embeddingFormatMarker = "[emb:v2]"

// IndexNode projects n into nodes_fts (always) and, if vec != nil, into
// node_embeddings/node_embeddings_vec. Only the nodes_fts write is
// transactional; the embedding rows are written after that transaction
// commits, so a failure there leaves the new FTS row in place. Callers
// invoke this immediately after nodestore.CreateNode/UpdateNode commits.
func IndexNode(s *store.Store, n *model.Node, vec []float32, embeddingModel string) error {
	tx, err := s.DB().Begin()
	if err != nil {
		return fmt.Errorf("indexer: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = indexFTSRow(tx, n); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("indexer: commit fts row: %w", err)
	}

	if vec == nil {
		return nil
	}

	inputText := BuildEmbeddingText(n)
	if err := storeEmbeddingWithVec(s, n.ID, vec, embeddingModel, inputText); err != nil {
		return err
	}
	return nil
}

// indexFTSRow removes any prior row for n.ID then inserts the composed
// document (spec.md §4.D point 1).
func indexFTSRow(tx *sql.Tx, n *model.Node) error {
	if _, err := tx.Exec(`DELETE FROM nodes_fts WHERE node_id = ?`, n.ID); err != nil {
		return fmt.Errorf("indexer: clear fts row: %w", err)
	}

	_, err := tx.Exec(`
		INSERT INTO nodes_fts (node_id, summary, decisions, lessons, tags, topics)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.Summary(), composeDecisions(n), composeLessons(n), composeTags(n), composeTopics(n))
	if err != nil {
		return fmt.Errorf("indexer: insert fts row: %w", err)
	}
	return nil
}

func composeDecisions(n *model.Node) string {
	parts := make([]string, 0, len(n.Decisions))
	for _, d := range n.Decisions {
		parts = append(parts, strings.TrimSpace(d.What+" "+d.Why))
	}
	return strings.Join(parts, " ")
}

func composeLessons(n *model.Node) string {
	parts := make([]string, 0, len(n.Lessons))
	for _, l := range n.Lessons {
		parts = append(parts, strings.TrimSpace(l.Summary+" "+l.Details))
	}
	return strings.Join(parts, " ")
}

// composeTags unions node-level and lesson-level tags, deduplicated, space-joined.
func composeTags(n *model.Node) string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range n.Tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, l := range n.Lessons {
		for _, t := range l.Tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return strings.Join(out, " ")
}

func composeTopics(n *model.Node) string {
	return strings.Join(n.Topics, " ")
}

// BuildEmbeddingText composes the §4.D point 2 rich embedding text:
// "[<type>] <summary>", then an optional Decisions: block, then an
// optional Lessons: block in canonical level order, then a trailing
// version marker.
func BuildEmbeddingText(n *model.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", n.Type, n.Summary())

	if len(n.Decisions) > 0 {
		b.WriteString("\n\nDecisions:")
		for _, d := range n.Decisions {
			if d.Why != "" {
				fmt.Fprintf(&b, "\n- %s (why: %s)", d.What, d.Why)
			} else {
				fmt.Fprintf(&b, "\n- %s", d.What)
			}
		}
	}

	if len(n.Lessons) > 0 {
		byLevel := make(map[model.LessonLevel][]model.Lesson)
		for _, l := range n.Lessons {
			byLevel[l.Level] = append(byLevel[l.Level], l)
		}
		var lines []string
		for _, level := range model.CanonicalLessonLevels {
			for _, l := range byLevel[level] {
				lines = append(lines, l.Summary)
			}
		}
		if len(lines) > 0 {
			b.WriteString("\n\nLessons:")
			for _, s := range lines {
				fmt.Fprintf(&b, "\n- %s", s)
			}
		}
	}

	b.WriteString("\n\n" + embeddingFormatMarker)
	return b.String()
}

// IsRichEmbeddingFormat reports whether text looks like BuildEmbeddingText's
// output: either it carries the version marker outright, or (for text
// predating the marker) it has a leading "[...]" tag plus both a
// Decisions: and Lessons: block.
func IsRichEmbeddingFormat(text string) bool {
	if strings.Contains(text, embeddingFormatMarker) {
		return true
	}
	hasTag := strings.HasPrefix(text, "[") && strings.Contains(text, "] ")
	hasDecisions := strings.Contains(text, "\n\nDecisions:\n-")
	hasLessons := strings.Contains(text, "\n\nLessons:\n-")
	return hasTag && hasDecisions && hasLessons
}

// storeEmbeddingWithVec upserts the binary blob row (§4.D point 3), then
// fetches its row-id and upserts the vec0 row keyed by the same id.
// Dimension mismatch against the existing vec table is recoverable (the
// store logs and skips); any other failure propagates.
func storeEmbeddingWithVec(s *store.Store, nodeID string, vec []float32, embeddingModel, inputText string) error {
	blob := embedding.Serialize(vec)

	_, err := s.DB().Exec(`
		INSERT INTO node_embeddings (node_id, embedding, embedding_model, input_text)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model,
			input_text = excluded.input_text
	`, nodeID, blob, embeddingModel, inputText)
	if err != nil {
		return fmt.Errorf("indexer: upsert node_embeddings: %w", err)
	}

	if !s.IsVecLoaded() {
		return nil
	}

	if err := s.EnsureVecTable(len(vec)); err != nil {
		return fmt.Errorf("indexer: ensure vec table: %w", err)
	}
	if s.VecDim() != len(vec) {
		// Dimension mismatch against the established table: logged and
		// skipped upstream by ensureVecTable; nothing further to do here.
		return nil
	}

	var rowID int64
	if err := s.DB().QueryRow(`SELECT rowid FROM node_embeddings WHERE node_id = ?`, nodeID).Scan(&rowID); err != nil {
		return fmt.Errorf("indexer: fetch embedding rowid: %w", err)
	}

	serialized, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("indexer: serialize vector: %w", err)
	}

	if _, err := s.DB().Exec(`DELETE FROM node_embeddings_vec WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("indexer: clear vec row: %w", err)
	}
	if _, err := s.DB().Exec(`INSERT INTO node_embeddings_vec(rowid, embedding) VALUES (?, ?)`, rowID, serialized); err != nil {
		return fmt.Errorf("indexer: insert vec row: %w", err)
	}
	return nil
}
