// Package model defines the node/edge data model shared by every subsystem
// in the session-memory store: row repositories, the indexing pipeline, the
// three search algorithms, graph traversal and bridge discovery.
package model

import "time"

// NodeType is the closed enum of analyzed-session categories.
type NodeType string

const (
	NodeTypeCoding       NodeType = "coding"
	NodeTypeDebugging    NodeType = "debugging"
	NodeTypeResearch     NodeType = "research"
	NodeTypeReview       NodeType = "review"
	NodeTypePlanning     NodeType = "planning"
	NodeTypeRefactoring  NodeType = "refactoring"
	NodeTypeConfiguring  NodeType = "configuring"
	NodeTypeOther        NodeType = "other"
)

// Outcome is the closed enum describing how a session segment ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomePartial  Outcome = "partial"
	OutcomeFailed   Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// LessonLevel is the canonical ordering used for embedding text and
// GetLessonsByLevel.
type LessonLevel string

const (
	LevelProject  LessonLevel = "project"
	LevelTask     LessonLevel = "task"
	LevelUser     LessonLevel = "user"
	LevelModel    LessonLevel = "model"
	LevelTool     LessonLevel = "tool"
	LevelSkill    LessonLevel = "skill"
	LevelSubagent LessonLevel = "subagent"
)

// CanonicalLessonLevels is the fixed iteration order for lesson text
// composition (embedding rich text) and GetLessonsByLevel.
var CanonicalLessonLevels = []LessonLevel{
	LevelProject, LevelTask, LevelUser, LevelModel, LevelTool, LevelSkill, LevelSubagent,
}

// Decision is a single key decision captured during a session.
type Decision struct {
	What string `json:"what"`
	Why  string `json:"why"`
}

// Lesson is a node-owned lesson row, itself owning lesson_tags.
type Lesson struct {
	ID         int64       `json:"id,omitempty"`
	NodeID     string      `json:"node_id"`
	Level      LessonLevel `json:"level"`
	Summary    string      `json:"summary"`
	Details    string      `json:"details,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ModelQuirk records an observed quirk of a model during the session.
type ModelQuirk struct {
	ID        int64  `json:"id,omitempty"`
	NodeID    string `json:"node_id"`
	Model     string `json:"model"`
	Quirk     string `json:"quirk"`
	Frequency string `json:"frequency,omitempty"` // once|sometimes|often|always
}

// ToolError records a tool failure observed during the session.
type ToolError struct {
	ID      int64  `json:"id,omitempty"`
	NodeID  string `json:"node_id"`
	Tool    string `json:"tool"`
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}

// DaemonDecision records an automated decision made on behalf of the user.
type DaemonDecision struct {
	ID           int64  `json:"id,omitempty"`
	NodeID       string `json:"node_id"`
	Decision     string `json:"decision"`
	Reason       string `json:"reason,omitempty"`
	UserFeedback string `json:"user_feedback,omitempty"`
}

// Node is one version of an analyzed work segment.
type Node struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id,omitempty"`
	Version int    `json:"version"`

	SessionFile    string   `json:"session_file"`
	SegmentStart   int      `json:"segment_start"`
	SegmentEnd     int      `json:"segment_end"`
	Computer       string   `json:"computer"`
	Type           NodeType `json:"type"`
	Project        string   `json:"project"`
	IsNewProject   bool     `json:"is_new_project"`
	HadClearGoal   bool     `json:"had_clear_goal"`
	Outcome        Outcome  `json:"outcome"`

	TokensUsed       int     `json:"tokens_used"`
	Cost             float64 `json:"cost"`
	DurationMinutes  float64 `json:"duration_minutes"`
	UserMessages     int     `json:"user_messages,omitempty"`
	AssistantMessages int    `json:"assistant_messages,omitempty"`
	ClarifyingQuestions int  `json:"clarifying_questions,omitempty"`
	PromptedQuestions   int  `json:"prompted_questions,omitempty"`

	Timestamp      time.Time `json:"timestamp"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
	AnalyzerVersion string   `json:"analyzer_version"`
	DataFile       string    `json:"data_file"`

	Signals          string   `json:"signals,omitempty"`
	PreviousVersions []string `json:"previous_versions,omitempty"`

	// IndexedSummary is the node's summary text as supplied by the caller.
	// It is not stored in the nodes row: the indexing pipeline writes
	// Summary() into nodes_fts.summary. FTS search hits fill this field from
	// that column and vector search hits from node_embeddings.input_text;
	// nodes read through nodestore leave it empty.
	IndexedSummary string `json:"indexed_summary,omitempty"`

	RelevanceScore *float64   `json:"relevance_score,omitempty"`
	LastAccessed   *time.Time `json:"last_accessed,omitempty"`
	Archived       bool       `json:"archived,omitempty"`
	Importance     *float64   `json:"importance,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Side-table data, populated on full reads.
	Tags            []string         `json:"tags,omitempty"`
	Topics          []string         `json:"topics,omitempty"`
	Decisions       []Decision       `json:"decisions,omitempty"`
	Lessons         []Lesson         `json:"lessons,omitempty"`
	ModelQuirks     []ModelQuirk     `json:"model_quirks,omitempty"`
	ToolErrors      []ToolError      `json:"tool_errors,omitempty"`
	DaemonDecisions []DaemonDecision `json:"daemon_decisions,omitempty"`
}

// Summary returns a cheap, row-level text accessor used as the token
// source for the hybrid search "content" component, in place of the
// richer embedding text (see DESIGN.md's open-question decision on the
// content score). Prefers IndexedSummary; falls back to project, then
// session file, when it is empty.
func (n *Node) Summary() string {
	if n.IndexedSummary != "" {
		return n.IndexedSummary
	}
	if n.Project != "" {
		return n.Project
	}
	return n.SessionFile
}

// EffectiveImportance returns Importance, defaulting to 0.5 when unset.
func (n *Node) EffectiveImportance() float64 {
	if n.Importance == nil {
		return 0.5
	}
	return *n.Importance
}
