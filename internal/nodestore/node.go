// Package nodestore implements the node/edge repositories of §4.C: CRUD
// plus the versioning policy (a node "update" inserts a new (id, version)
// row and appends to previous_versions rather than overwriting).
//
// Grounded on vthunder/bud2's internal/graph.AddTrace/GetTrace/DeleteTrace,
// generalised from the single-version trace table to the versioned nodes
// table and the richer side-table set SPEC_FULL.md's data model adds.
package nodestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/vthunder/pi-brain/internal/filter"
	"github.com/vthunder/pi-brain/internal/indexer"
	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/store"
	"github.com/vthunder/pi-brain/pkg/embedding"
	"github.com/zeebo/blake3"
)

// Repository provides node CRUD over a *store.Store.
type Repository struct {
	store          *store.Store
	embedder       embedding.Provider
	embeddingModel string
}

func New(s *store.Store) *Repository {
	return &Repository{store: s}
}

// WithEmbedder attaches the embedding provider the repository uses to
// populate the vector index on create/update. Without one (the default),
// node writes still populate the FTS index but leave node_embeddings/
// node_embeddings_vec untouched, matching spec.md §1's boundary that this
// module only consumes an embedding.Provider rather than owning one.
func (r *Repository) WithEmbedder(p embedding.Provider, embeddingModel string) *Repository {
	r.embedder = p
	r.embeddingModel = embeddingModel
	return r
}

// generateShortID derives an 8-hex-character short id from the node id,
// the same blake3-short-hash idiom the teacher uses for trace short ids.
func generateShortID(id string) string {
	sum := blake3.Sum256([]byte(id))
	return fmt.Sprintf("%x", sum[:4])
}

// CreateNode inserts a brand new node (version 1 if unset) along with its
// side-table rows, all inside one transaction, then projects it into the
// FTS/vector indexes. A segment already on record under the same
// (sessionFile, segmentStart, segmentEnd) tuple is treated as a repeat
// ingest of the same content and skipped rather than re-inserted; nodes
// with an empty sessionFile are not checked.
func (r *Repository) CreateNode(n *model.Node) error {
	if n.ID == "" {
		return fmt.Errorf("nodestore: node id is required")
	}

	dup, err := r.contentDuplicate(n.ID, n.SessionFile, n.SegmentStart, n.SegmentEnd)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	if n.Version == 0 {
		n.Version = 1
	}
	if n.ShortID == "" {
		n.ShortID = generateShortID(n.ID)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}

	tx, err := r.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("nodestore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = insertNodeRow(tx, n); err != nil {
		return err
	}
	if err = replaceSideTables(tx, n); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("nodestore: commit: %w", err)
	}

	return r.index(n)
}

// contentDuplicate reports whether a node other than excludeID already
// carries this exact (sessionFile, segmentStart, segmentEnd) triple — the
// content-identity dedup guard (spec.md §6 supplements), which treats a
// repeat ingest of the same session segment as a no-op rather than a new
// node. A node with no session file names no segment, so it is never a
// duplicate.
func (r *Repository) contentDuplicate(excludeID, sessionFile string, segmentStart, segmentEnd int) (bool, error) {
	if sessionFile == "" {
		return false, nil
	}
	var existingID string
	err := r.store.DB().QueryRow(`
		SELECT id FROM nodes WHERE session_file = ? AND segment_start = ? AND segment_end = ? LIMIT 1
	`, sessionFile, segmentStart, segmentEnd).Scan(&existingID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("nodestore: content dedup lookup: %w", err)
	}
	return existingID != excludeID, nil
}

// index projects n into the FTS and (if an embedder is attached) vector
// indexes. An embedding failure degrades to FTS-only indexing rather than
// failing the write, matching the store's vec-unavailable degradation
// policy elsewhere in the tree.
func (r *Repository) index(n *model.Node) error {
	var vec []float32
	if r.embedder != nil {
		v, embedErr := r.embedder.Embed(indexer.BuildEmbeddingText(n))
		if embedErr != nil {
			log.Printf("[nodestore] embed node %s: %v", n.ID, embedErr)
		} else {
			vec = v
		}
	}
	if err := indexer.IndexNode(r.store, n, vec, r.embeddingModel); err != nil {
		return fmt.Errorf("nodestore: index node: %w", err)
	}
	return nil
}

// UpdateNode implements the §4.C versioning policy: the prior latest
// version for n.ID must exist (ErrNodeMissing otherwise); the new row is
// inserted at prior.version+1, with previous_versions extended by
// "{id}-v{prior.version}".
func (r *Repository) UpdateNode(n *model.Node) error {
	prior, err := r.GetNode(n.ID)
	if err != nil {
		return err
	}
	if prior == nil {
		return store.ErrNodeMissing
	}

	n.Version = prior.Version + 1
	n.PreviousVersions = append(append([]string{}, prior.PreviousVersions...),
		fmt.Sprintf("%s-v%d", n.ID, prior.Version))
	if n.ShortID == "" {
		n.ShortID = prior.ShortID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = prior.CreatedAt
	}
	n.UpdatedAt = time.Now()

	tx, err := r.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("nodestore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = insertNodeRow(tx, n); err != nil {
		return err
	}
	if err = replaceSideTables(tx, n); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("nodestore: commit: %w", err)
	}

	return r.index(n)
}

func insertNodeRow(tx *sql.Tx, n *model.Node) error {
	signals := n.Signals
	previousVersions, err := json.Marshal(n.PreviousVersions)
	if err != nil {
		return fmt.Errorf("nodestore: marshal previous_versions: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO nodes (
			id, version, short_id, session_file, segment_start, segment_end,
			computer, type, project, is_new_project, had_clear_goal, outcome,
			tokens_used, cost, duration_minutes, user_messages, assistant_messages,
			clarifying_questions, prompted_questions, timestamp, analyzed_at,
			analyzer_version, data_file, signals, previous_versions,
			relevance_score, last_accessed, archived, importance,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.Version, n.ShortID, n.SessionFile, n.SegmentStart, n.SegmentEnd,
		n.Computer, string(n.Type), n.Project, boolToInt(n.IsNewProject), boolToInt(n.HadClearGoal), string(n.Outcome),
		n.TokensUsed, n.Cost, n.DurationMinutes, n.UserMessages, n.AssistantMessages,
		n.ClarifyingQuestions, n.PromptedQuestions, n.Timestamp, nullableTime(n.AnalyzedAt),
		n.AnalyzerVersion, n.DataFile, signals, string(previousVersions),
		nullableFloat(n.RelevanceScore), nullableTimePtr(n.LastAccessed), boolToInt(n.Archived), nullableFloat(n.Importance),
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("nodestore: insert node: %w", err)
	}
	return nil
}

// replaceSideTables deletes and reinserts every side-table row owned by
// n.ID, keyed on the node identity (not the version), matching the
// teacher's DELETE-then-INSERT idiom in ensureVecTable's backfill.
func replaceSideTables(tx *sql.Tx, n *model.Node) error {
	for _, stmt := range []string{
		`DELETE FROM tags WHERE node_id = ?`,
		`DELETE FROM topics WHERE node_id = ?`,
		`DELETE FROM decisions WHERE node_id = ?`,
		`DELETE FROM model_quirks WHERE node_id = ?`,
		`DELETE FROM tool_errors WHERE node_id = ?`,
		`DELETE FROM daemon_decisions WHERE node_id = ?`,
	} {
		if _, err := tx.Exec(stmt, n.ID); err != nil {
			return fmt.Errorf("nodestore: clear side table: %w", err)
		}
	}
	// lessons cascade lesson_tags via FK, but lessons themselves aren't
	// FK'd to nodes by a composite key here, so clear explicitly too.
	if _, err := tx.Exec(`DELETE FROM lessons WHERE node_id = ?`, n.ID); err != nil {
		return fmt.Errorf("nodestore: clear lessons: %w", err)
	}

	for _, tag := range n.Tags {
		if _, err := tx.Exec(`INSERT INTO tags (node_id, tag) VALUES (?, ?)`, n.ID, tag); err != nil {
			return fmt.Errorf("nodestore: insert tag: %w", err)
		}
	}
	for _, topic := range n.Topics {
		if _, err := tx.Exec(`INSERT INTO topics (node_id, topic) VALUES (?, ?)`, n.ID, topic); err != nil {
			return fmt.Errorf("nodestore: insert topic: %w", err)
		}
	}
	for _, d := range n.Decisions {
		if _, err := tx.Exec(`INSERT INTO decisions (node_id, what, why) VALUES (?, ?, ?)`, n.ID, d.What, d.Why); err != nil {
			return fmt.Errorf("nodestore: insert decision: %w", err)
		}
	}
	for _, q := range n.ModelQuirks {
		if _, err := tx.Exec(`INSERT INTO model_quirks (node_id, model, quirk, frequency) VALUES (?, ?, ?, ?)`,
			n.ID, q.Model, q.Quirk, q.Frequency); err != nil {
			return fmt.Errorf("nodestore: insert model quirk: %w", err)
		}
	}
	for _, te := range n.ToolErrors {
		if _, err := tx.Exec(`INSERT INTO tool_errors (node_id, tool, error, context) VALUES (?, ?, ?, ?)`,
			n.ID, te.Tool, te.Error, te.Context); err != nil {
			return fmt.Errorf("nodestore: insert tool error: %w", err)
		}
	}
	for _, dd := range n.DaemonDecisions {
		if _, err := tx.Exec(`INSERT INTO daemon_decisions (node_id, decision, reason, user_feedback) VALUES (?, ?, ?, ?)`,
			n.ID, dd.Decision, dd.Reason, dd.UserFeedback); err != nil {
			return fmt.Errorf("nodestore: insert daemon decision: %w", err)
		}
	}
	for _, l := range n.Lessons {
		res, err := tx.Exec(`INSERT INTO lessons (node_id, level, summary, details, confidence) VALUES (?, ?, ?, ?, ?)`,
			n.ID, string(l.Level), l.Summary, l.Details, l.Confidence)
		if err != nil {
			return fmt.Errorf("nodestore: insert lesson: %w", err)
		}
		lessonID, _ := res.LastInsertId()
		for _, tag := range l.Tags {
			if _, err := tx.Exec(`INSERT INTO lesson_tags (lesson_id, tag) VALUES (?, ?)`, lessonID, tag); err != nil {
				return fmt.Errorf("nodestore: insert lesson tag: %w", err)
			}
		}
	}
	return nil
}

// GetNode returns the latest version of the node with the given id, or
// nil if it does not exist (no rows, no error — matching scanTrace's
// sql.ErrNoRows-to-nil convention).
func (r *Repository) GetNode(id string) (*model.Node, error) {
	row := r.store.DB().QueryRow(`
		SELECT id, version, short_id, session_file, segment_start, segment_end, computer, type,
			project, is_new_project, had_clear_goal, outcome, tokens_used, cost, duration_minutes,
			user_messages, assistant_messages, clarifying_questions, prompted_questions, timestamp,
			analyzed_at, analyzer_version, data_file, signals, previous_versions,
			relevance_score, last_accessed, archived, importance, created_at, updated_at
		FROM nodes WHERE id = ? ORDER BY version DESC LIMIT 1
	`, id)
	n, err := scanNode(row)
	if err != nil || n == nil {
		return n, err
	}
	if err := r.loadSideTables(n); err != nil {
		return nil, err
	}
	return n, nil
}

// GetNodeVersion returns a specific (id, version) pair.
func (r *Repository) GetNodeVersion(id string, version int) (*model.Node, error) {
	row := r.store.DB().QueryRow(`
		SELECT id, version, short_id, session_file, segment_start, segment_end, computer, type,
			project, is_new_project, had_clear_goal, outcome, tokens_used, cost, duration_minutes,
			user_messages, assistant_messages, clarifying_questions, prompted_questions, timestamp,
			analyzed_at, analyzer_version, data_file, signals, previous_versions,
			relevance_score, last_accessed, archived, importance, created_at, updated_at
		FROM nodes WHERE id = ? AND version = ?
	`, id, version)
	n, err := scanNode(row)
	if err != nil || n == nil {
		return n, err
	}
	if err := r.loadSideTables(n); err != nil {
		return nil, err
	}
	return n, nil
}

// NodeExists reports whether id has any version on record.
func (r *Repository) NodeExists(id string) (bool, error) {
	var count int
	err := r.store.DB().QueryRow(`SELECT COUNT(*) FROM nodes WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteNode removes every version of id and its side tables. Ordinary
// side tables (tags/topics/decisions/lessons/edges/node_embeddings)
// cascade via FOREIGN KEY ... ON DELETE CASCADE, but nodes_fts and
// node_embeddings_vec are SQLite virtual tables (FTS5 / vec0), which
// can't carry a FOREIGN KEY clause at all — so their rows are deleted
// explicitly here, before the nodes row delete, to avoid leaving them
// orphaned (spec.md §8). Reports whether a node row was actually deleted.
func (r *Repository) DeleteNode(id string) (bool, error) {
	tx, err := r.store.DB().Begin()
	if err != nil {
		return false, fmt.Errorf("nodestore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var embeddingRowID int64
	err = tx.QueryRow(`SELECT rowid FROM node_embeddings WHERE node_id = ?`, id).Scan(&embeddingRowID)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("nodestore: find embedding rowid: %w", err)
	}
	if err == nil {
		if _, err = tx.Exec(`DELETE FROM node_embeddings_vec WHERE rowid = ?`, embeddingRowID); err != nil {
			return false, fmt.Errorf("nodestore: delete vec row: %w", err)
		}
	}
	err = nil

	if _, err = tx.Exec(`DELETE FROM nodes_fts WHERE node_id = ?`, id); err != nil {
		return false, fmt.Errorf("nodestore: delete fts row: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("nodestore: delete node: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("nodestore: commit: %w", err)
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ListNodes returns latest-version nodes matching f, newest first, paged.
func (r *Repository) ListNodes(f filter.Filters, limit, offset int) ([]*model.Node, error) {
	frag, params := filter.Build(f, "n")
	query := `
		SELECT n.id, n.version, n.short_id, n.session_file, n.segment_start, n.segment_end, n.computer, n.type,
			n.project, n.is_new_project, n.had_clear_goal, n.outcome, n.tokens_used, n.cost, n.duration_minutes,
			n.user_messages, n.assistant_messages, n.clarifying_questions, n.prompted_questions, n.timestamp,
			n.analyzed_at, n.analyzer_version, n.data_file, n.signals, n.previous_versions,
			n.relevance_score, n.last_accessed, n.archived, n.importance, n.created_at, n.updated_at
		FROM nodes n
		INNER JOIN (SELECT id, MAX(version) AS version FROM nodes GROUP BY id) latest
			ON latest.id = n.id AND latest.version = n.version
	`
	if frag != "" {
		query += " WHERE " + frag
	}
	query += " ORDER BY n.timestamp DESC LIMIT ? OFFSET ?"
	params = append(params, limit, offset)

	rows, err := r.store.DB().Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("nodestore: list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*model.Node
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (r *Repository) loadSideTables(n *model.Node) error {
	var err error
	if n.Tags, err = r.stringColumn("SELECT tag FROM tags WHERE node_id = ?", n.ID); err != nil {
		return err
	}
	if n.Topics, err = r.stringColumn("SELECT topic FROM topics WHERE node_id = ?", n.ID); err != nil {
		return err
	}

	rows, err := r.store.DB().Query(`SELECT what, why FROM decisions WHERE node_id = ?`, n.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var d model.Decision
		var why sql.NullString
		if err := rows.Scan(&d.What, &why); err == nil {
			d.Why = why.String
			n.Decisions = append(n.Decisions, d)
		}
	}
	rows.Close()

	lessonRows, err := r.store.DB().Query(`SELECT id, level, summary, details, confidence, created_at FROM lessons WHERE node_id = ?`, n.ID)
	if err != nil {
		return err
	}
	var lessons []model.Lesson
	for lessonRows.Next() {
		var l model.Lesson
		var details sql.NullString
		var confidence sql.NullFloat64
		if err := lessonRows.Scan(&l.ID, &l.Level, &l.Summary, &details, &confidence, &l.CreatedAt); err != nil {
			continue
		}
		l.NodeID = n.ID
		l.Details = details.String
		l.Confidence = confidence.Float64
		lessons = append(lessons, l)
	}
	lessonRows.Close()
	for i := range lessons {
		tags, err := r.stringColumn("SELECT tag FROM lesson_tags WHERE lesson_id = ?", lessons[i].ID)
		if err == nil {
			lessons[i].Tags = tags
		}
	}
	n.Lessons = lessons

	quirkRows, err := r.store.DB().Query(`SELECT id, model, quirk, frequency FROM model_quirks WHERE node_id = ?`, n.ID)
	if err != nil {
		return err
	}
	for quirkRows.Next() {
		var q model.ModelQuirk
		var freq sql.NullString
		if err := quirkRows.Scan(&q.ID, &q.Model, &q.Quirk, &freq); err == nil {
			q.NodeID = n.ID
			q.Frequency = freq.String
			n.ModelQuirks = append(n.ModelQuirks, q)
		}
	}
	quirkRows.Close()

	errRows, err := r.store.DB().Query(`SELECT id, tool, error, context FROM tool_errors WHERE node_id = ?`, n.ID)
	if err != nil {
		return err
	}
	for errRows.Next() {
		var te model.ToolError
		var ctx sql.NullString
		if err := errRows.Scan(&te.ID, &te.Tool, &te.Error, &ctx); err == nil {
			te.NodeID = n.ID
			te.Context = ctx.String
			n.ToolErrors = append(n.ToolErrors, te)
		}
	}
	errRows.Close()

	ddRows, err := r.store.DB().Query(`SELECT id, decision, reason, user_feedback FROM daemon_decisions WHERE node_id = ?`, n.ID)
	if err != nil {
		return err
	}
	for ddRows.Next() {
		var dd model.DaemonDecision
		var reason, feedback sql.NullString
		if err := ddRows.Scan(&dd.ID, &dd.Decision, &reason, &feedback); err == nil {
			dd.NodeID = n.ID
			dd.Reason = reason.String
			dd.UserFeedback = feedback.String
			n.DaemonDecisions = append(n.DaemonDecisions, dd)
		}
	}
	ddRows.Close()

	return nil
}

func (r *Repository) stringColumn(query, arg string) ([]string, error) {
	rows, err := r.store.DB().Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if rows.Scan(&s) == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row *sql.Row) (*model.Node, error) {
	return scanNodeCommon(row)
}

func scanNodeRow(rows *sql.Rows) (*model.Node, error) {
	return scanNodeCommon(rows)
}

func scanNodeCommon(row rowScanner) (*model.Node, error) {
	var n model.Node
	var typ, outcome string
	var analyzedAt sql.NullTime
	var previousVersions sql.NullString
	var relevanceScore, importance sql.NullFloat64
	var lastAccessed sql.NullTime

	err := row.Scan(
		&n.ID, &n.Version, &n.ShortID, &n.SessionFile, &n.SegmentStart, &n.SegmentEnd, &n.Computer, &typ,
		&n.Project, &n.IsNewProject, &n.HadClearGoal, &outcome, &n.TokensUsed, &n.Cost, &n.DurationMinutes,
		&n.UserMessages, &n.AssistantMessages, &n.ClarifyingQuestions, &n.PromptedQuestions, &n.Timestamp,
		&analyzedAt, &n.AnalyzerVersion, &n.DataFile, &n.Signals, &previousVersions,
		&relevanceScore, &lastAccessed, &n.Archived, &importance, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	n.Type = model.NodeType(typ)
	n.Outcome = model.Outcome(outcome)
	if analyzedAt.Valid {
		n.AnalyzedAt = analyzedAt.Time
	}
	if previousVersions.Valid && previousVersions.String != "" {
		json.Unmarshal([]byte(previousVersions.String), &n.PreviousVersions)
	}
	if relevanceScore.Valid {
		v := relevanceScore.Float64
		n.RelevanceScore = &v
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		n.LastAccessed = &t
	}
	if importance.Valid {
		v := importance.Float64
		n.Importance = &v
	}

	return &n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullableTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
