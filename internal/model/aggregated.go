package model

import "time"

// Embedding is the per-node vector record: the exact rich text that
// produced it, the model name, and the binary float32 payload.
type Embedding struct {
	NodeID         string    `json:"node_id"`
	Vector         []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model"`
	InputText      string    `json:"input_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// FailurePattern is an opaque aggregated record; the core only interprets
// its filter/pagination fields.
type FailurePattern struct {
	ID          int64     `json:"id"`
	Pattern     string    `json:"pattern"`
	Occurrences int       `json:"occurrences"`
	LastSeen    time.Time `json:"last_seen"`
	Details     string    `json:"details,omitempty"`
}

// ModelStat is an opaque aggregated record.
type ModelStat struct {
	ID        int64     `json:"id"`
	Model     string    `json:"model"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuirkFrequency is the closed ordering {once < sometimes < often < always}
// used by the minimum-frequency filter on quirk/pattern readers.
type QuirkFrequency string

const (
	FrequencyOnce      QuirkFrequency = "once"
	FrequencySometimes QuirkFrequency = "sometimes"
	FrequencyOften     QuirkFrequency = "often"
	FrequencyAlways    QuirkFrequency = "always"
)

var frequencyRank = map[QuirkFrequency]int{
	FrequencyOnce: 0, FrequencySometimes: 1, FrequencyOften: 2, FrequencyAlways: 3,
}

// AtLeast reports whether f ranks at or above min. An empty or unknown
// frequency never satisfies a minimum.
func (f QuirkFrequency) AtLeast(min QuirkFrequency) bool {
	fr, ok := frequencyRank[f]
	if !ok {
		return false
	}
	mr, ok := frequencyRank[min]
	if !ok {
		return true
	}
	return fr >= mr
}

// LessonPattern is an opaque aggregated record.
type LessonPattern struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Pattern   string    `json:"pattern"`
	CreatedAt time.Time `json:"created_at"`
}

// AggregatedInsight is an opaque aggregated record owning PromptEffectiveness rows.
type AggregatedInsight struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Examples  string     `json:"examples,omitempty"` // JSON array, opaque to the core
	CreatedAt time.Time `json:"created_at"`
}

// PromptEffectiveness cascades on AggregatedInsight delete; unique on
// (insight_id, prompt_version).
type PromptEffectiveness struct {
	ID            int64     `json:"id"`
	InsightID     int64     `json:"insight_id"`
	PromptVersion string    `json:"prompt_version"`
	Improvement   float64   `json:"improvement"`
	Significant   bool      `json:"significant"`
	MeasuredAt    time.Time `json:"measured_at"`
}

// Page is the uniform pagination envelope returned by the pattern/lesson readers.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ClampLimit clamps limit to [1, 500], defaulting to 20 when 0.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// ClampOffset clamps offset to >= 0.
func ClampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
