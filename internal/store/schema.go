package store

import "database/sql"

// migration is one forward-only numbered schema step. Requires lists the
// runtime capabilities (today only "sqlite-vec") the migration needs;
// Open re-evaluates unmet requirements on every call (spec.md §4.A rule 2).
//
// Most migrations are pure SQL (SQL field). The sqlite-vec migration is a
// Go function instead, because the vec0 virtual table's column dimension
// isn't known until the first embedding is written — the same reason the
// teacher's own migration v18 runs Go code (initVecTableFromTraces) rather
// than static DDL.
type migration struct {
	Version     int
	Description string
	Requires    []string
	SQL         string
	Apply       func(tx *sql.Tx) error
}

const capabilitySqliteVec = "sqlite-vec"

// migrations lists every schema file in declared (numeric-prefix) order.
// Applying one inserts (version, description) into schema_version inside
// the same transaction as its DDL (spec.md §4.A).
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: nodes, edges, side tables, fts",
		SQL: `
			CREATE TABLE IF NOT EXISTS nodes (
				id TEXT NOT NULL,
				version INTEGER NOT NULL,
				short_id TEXT DEFAULT '',
				session_file TEXT,
				segment_start INTEGER,
				segment_end INTEGER,
				computer TEXT,
				type TEXT NOT NULL,
				project TEXT,
				is_new_project INTEGER DEFAULT 0,
				had_clear_goal INTEGER DEFAULT 0,
				outcome TEXT,
				tokens_used INTEGER DEFAULT 0,
				cost REAL DEFAULT 0,
				duration_minutes REAL DEFAULT 0,
				user_messages INTEGER,
				assistant_messages INTEGER,
				clarifying_questions INTEGER,
				prompted_questions INTEGER,
				timestamp DATETIME NOT NULL,
				analyzed_at DATETIME,
				analyzer_version TEXT,
				data_file TEXT,
				signals TEXT,
				previous_versions TEXT,
				relevance_score REAL,
				last_accessed DATETIME,
				archived INTEGER DEFAULT 0,
				importance REAL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX IF NOT EXISTS idx_nodes_latest ON nodes(id, version DESC);
			CREATE INDEX IF NOT EXISTS idx_nodes_short_id ON nodes(short_id);
			CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project);
			CREATE INDEX IF NOT EXISTS idx_nodes_timestamp ON nodes(timestamp);
			CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
			CREATE INDEX IF NOT EXISTS idx_nodes_outcome ON nodes(outcome);
			CREATE INDEX IF NOT EXISTS idx_nodes_archived ON nodes(archived);

			CREATE TABLE IF NOT EXISTS tags (
				node_id TEXT NOT NULL,
				tag TEXT NOT NULL,
				FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_tags_node ON tags(node_id);
			CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

			CREATE TABLE IF NOT EXISTS topics (
				node_id TEXT NOT NULL,
				topic TEXT NOT NULL,
				FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_topics_node ON topics(node_id);
			CREATE INDEX IF NOT EXISTS idx_topics_topic ON topics(topic);

			CREATE TABLE IF NOT EXISTS decisions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				node_id TEXT NOT NULL,
				what TEXT NOT NULL,
				why TEXT,
				FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_decisions_node ON decisions(node_id);

			CREATE TABLE IF NOT EXISTS lessons (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				node_id TEXT NOT NULL,
				level TEXT NOT NULL,
				summary TEXT NOT NULL,
				details TEXT,
				confidence REAL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_lessons_node ON lessons(node_id);
			CREATE INDEX IF NOT EXISTS idx_lessons_level ON lessons(level);
			CREATE INDEX IF NOT EXISTS idx_lessons_created ON lessons(created_at);

			CREATE TABLE IF NOT EXISTS lesson_tags (
				lesson_id INTEGER NOT NULL,
				tag TEXT NOT NULL,
				FOREIGN KEY (lesson_id) REFERENCES lessons(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_lesson_tags_lesson ON lesson_tags(lesson_id);
			CREATE INDEX IF NOT EXISTS idx_lesson_tags_tag ON lesson_tags(tag);

			CREATE TABLE IF NOT EXISTS model_quirks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				node_id TEXT NOT NULL,
				model TEXT NOT NULL,
				quirk TEXT NOT NULL,
				frequency TEXT,
				FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_model_quirks_node ON model_quirks(node_id);
			CREATE INDEX IF NOT EXISTS idx_model_quirks_model ON model_quirks(model);

			CREATE TABLE IF NOT EXISTS tool_errors (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				node_id TEXT NOT NULL,
				tool TEXT NOT NULL,
				error TEXT NOT NULL,
				context TEXT,
				FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_tool_errors_node ON tool_errors(node_id);
			CREATE INDEX IF NOT EXISTS idx_tool_errors_tool ON tool_errors(tool);

			CREATE TABLE IF NOT EXISTS daemon_decisions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				node_id TEXT NOT NULL,
				decision TEXT NOT NULL,
				reason TEXT,
				user_feedback TEXT,
				FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_daemon_decisions_node ON daemon_decisions(node_id);

			CREATE TABLE IF NOT EXISTS edges (
				id TEXT PRIMARY KEY,
				source_node_id TEXT NOT NULL,
				target_node_id TEXT NOT NULL,
				type TEXT NOT NULL,
				metadata TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				created_by TEXT NOT NULL,
				confidence REAL,
				similarity REAL,
				FOREIGN KEY (source_node_id) REFERENCES nodes(id) ON DELETE CASCADE,
				FOREIGN KEY (target_node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_node_id);
			CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_node_id);
			CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(type);
			CREATE INDEX IF NOT EXISTS idx_edges_pending ON edges(source_node_id, target_node_id);

			CREATE TABLE IF NOT EXISTS node_embeddings (
				node_id TEXT PRIMARY KEY,
				embedding BLOB NOT NULL,
				embedding_model TEXT,
				input_text TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
			);

			CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
				node_id UNINDEXED,
				summary,
				decisions,
				lessons,
				tags,
				topics
			);

			CREATE TABLE IF NOT EXISTS failure_patterns (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				pattern TEXT NOT NULL,
				occurrences INTEGER DEFAULT 1,
				last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
				details TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_failure_patterns_occ ON failure_patterns(occurrences DESC, last_seen DESC);

			CREATE TABLE IF NOT EXISTS model_stats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				model TEXT NOT NULL,
				metric TEXT NOT NULL,
				value REAL,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS lesson_patterns (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				level TEXT NOT NULL,
				pattern TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS aggregated_insights (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				kind TEXT NOT NULL,
				examples TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS prompt_effectiveness (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				insight_id INTEGER NOT NULL,
				prompt_version TEXT NOT NULL,
				improvement REAL,
				significant INTEGER DEFAULT 0,
				measured_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (insight_id) REFERENCES aggregated_insights(id) ON DELETE CASCADE,
				UNIQUE (insight_id, prompt_version)
			);
			CREATE INDEX IF NOT EXISTS idx_effectiveness_insight ON prompt_effectiveness(insight_id);
			CREATE INDEX IF NOT EXISTS idx_effectiveness_measured_at ON prompt_effectiveness(measured_at);
			CREATE INDEX IF NOT EXISTS idx_effectiveness_significant ON prompt_effectiveness(significant);
			CREATE INDEX IF NOT EXISTS idx_effectiveness_improvement ON prompt_effectiveness(improvement);
		`,
	},
	{
		Version:     2,
		Description: "sqlite-vec ANN index for node embeddings (dimension deferred)",
		Requires:    []string{capabilitySqliteVec},
		// The node_embeddings_vec virtual table is created lazily by
		// ensureVecTable once the embedding dimension is known (first
		// embedding write, or at Open from any existing node_embeddings
		// rows via initVecTableFromExisting).
		// This migration only records that the capability gate passed;
		// see (*Store).ensureVecTable in vec.go.
		Apply: func(tx *sql.Tx) error { return nil },
	},
}
