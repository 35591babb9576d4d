// Package patterns implements §4.K: uniform filtered, paginated readers
// over the aggregated tables (failure_patterns, model_stats,
// lesson_patterns, aggregated_insights/prompt_effectiveness) and the
// node-owned lessons table, plus the level-bucketed lesson summary.
//
// Grounded on the teacher's GetAllEntities(limit)/GetEntitiesByType
// readers in internal/graph/entities.go — fixed ORDER BY plus a LIMIT,
// generalised here to the (filters, limit, offset) -> Page[T] envelope.
package patterns

import (
	"fmt"

	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/store"
)

// LessonFilters restricts the lesson reader.
type LessonFilters struct {
	Level model.LessonLevel // "" => no filter
	Tags  []string          // AND-semantics, resolved via lesson_tags
}

// ListFailurePatterns returns failure_patterns ordered by
// occurrences DESC, last_seen DESC.
func ListFailurePatterns(s *store.Store, limit, offset int) (model.Page[model.FailurePattern], error) {
	limit = model.ClampLimit(limit)
	offset = model.ClampOffset(offset)

	var total int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM failure_patterns`).Scan(&total); err != nil {
		return model.Page[model.FailurePattern]{}, fmt.Errorf("patterns: count failure_patterns: %w", err)
	}

	rows, err := s.DB().Query(`
		SELECT id, pattern, occurrences, last_seen, details
		FROM failure_patterns
		ORDER BY occurrences DESC, last_seen DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return model.Page[model.FailurePattern]{}, fmt.Errorf("patterns: query failure_patterns: %w", err)
	}
	defer rows.Close()

	var items []model.FailurePattern
	for rows.Next() {
		var p model.FailurePattern
		var details *string
		if err := rows.Scan(&p.ID, &p.Pattern, &p.Occurrences, &p.LastSeen, &details); err != nil {
			continue
		}
		if details != nil {
			p.Details = *details
		}
		items = append(items, p)
	}
	return model.Page[model.FailurePattern]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// ListModelStats returns model_stats ordered by updated_at DESC.
func ListModelStats(s *store.Store, modelName string, limit, offset int) (model.Page[model.ModelStat], error) {
	limit = model.ClampLimit(limit)
	offset = model.ClampOffset(offset)

	where := ""
	args := []any{}
	if modelName != "" {
		where = " WHERE model = ?"
		args = append(args, modelName)
	}

	var total int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM model_stats`+where, args...).Scan(&total); err != nil {
		return model.Page[model.ModelStat]{}, fmt.Errorf("patterns: count model_stats: %w", err)
	}

	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.DB().Query(`
		SELECT id, model, metric, value, updated_at
		FROM model_stats`+where+`
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, queryArgs...)
	if err != nil {
		return model.Page[model.ModelStat]{}, fmt.Errorf("patterns: query model_stats: %w", err)
	}
	defer rows.Close()

	var items []model.ModelStat
	for rows.Next() {
		var m model.ModelStat
		if err := rows.Scan(&m.ID, &m.Model, &m.Metric, &m.Value, &m.UpdatedAt); err != nil {
			continue
		}
		items = append(items, m)
	}
	return model.Page[model.ModelStat]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Lesson is a flattened lesson row plus its tags, independent of any
// owning node's full side-table load (used for the cross-node reader).
type Lesson struct {
	model.Lesson
}

// ListLessons returns lessons ordered by created_at DESC, id DESC,
// filtered by level and/or an AND-semantics tag set.
func ListLessons(s *store.Store, f LessonFilters, limit, offset int) (model.Page[Lesson], error) {
	limit = model.ClampLimit(limit)
	offset = model.ClampOffset(offset)

	where := ""
	var args []any
	if f.Level != "" {
		where += " AND level = ?"
		args = append(args, string(f.Level))
	}
	for _, tag := range f.Tags {
		where += ` AND EXISTS (SELECT 1 FROM lesson_tags lt WHERE lt.lesson_id = lessons.id AND lt.tag = ?)`
		args = append(args, tag)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM lessons WHERE 1=1` + where
	if err := s.DB().QueryRow(countQuery, args...).Scan(&total); err != nil {
		return model.Page[Lesson]{}, fmt.Errorf("patterns: count lessons: %w", err)
	}

	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.DB().Query(`
		SELECT id, node_id, level, summary, details, confidence, created_at
		FROM lessons
		WHERE 1=1`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, queryArgs...)
	if err != nil {
		return model.Page[Lesson]{}, fmt.Errorf("patterns: query lessons: %w", err)
	}
	defer rows.Close()

	var items []Lesson
	for rows.Next() {
		var l model.Lesson
		var details *string
		var confidence *float64
		if err := rows.Scan(&l.ID, &l.NodeID, &l.Level, &l.Summary, &details, &confidence, &l.CreatedAt); err != nil {
			continue
		}
		if details != nil {
			l.Details = *details
		}
		if confidence != nil {
			l.Confidence = *confidence
		}
		l.Tags, _ = lessonTags(s, l.ID)
		items = append(items, Lesson{Lesson: l})
	}
	return model.Page[Lesson]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func lessonTags(s *store.Store, lessonID int64) ([]string, error) {
	rows, err := s.DB().Query(`SELECT tag FROM lesson_tags WHERE lesson_id = ?`, lessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// LevelBucket is one entry of getLessonsByLevel's response.
type LevelBucket struct {
	Count  int
	Recent []Lesson
}

// ListLessonPatterns returns lesson_patterns ordered by created_at DESC.
func ListLessonPatterns(s *store.Store, level model.LessonLevel, limit, offset int) (model.Page[model.LessonPattern], error) {
	limit = model.ClampLimit(limit)
	offset = model.ClampOffset(offset)

	where := ""
	var args []any
	if level != "" {
		where = " WHERE level = ?"
		args = append(args, string(level))
	}

	var total int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM lesson_patterns`+where, args...).Scan(&total); err != nil {
		return model.Page[model.LessonPattern]{}, fmt.Errorf("patterns: count lesson_patterns: %w", err)
	}

	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.DB().Query(`
		SELECT id, level, pattern, created_at
		FROM lesson_patterns`+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, queryArgs...)
	if err != nil {
		return model.Page[model.LessonPattern]{}, fmt.Errorf("patterns: query lesson_patterns: %w", err)
	}
	defer rows.Close()

	var items []model.LessonPattern
	for rows.Next() {
		var p model.LessonPattern
		if err := rows.Scan(&p.ID, &p.Level, &p.Pattern, &p.CreatedAt); err != nil {
			continue
		}
		items = append(items, p)
	}
	return model.Page[model.LessonPattern]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// AggregatedInsightWithEffectiveness pairs an insight with its
// prompt-effectiveness rows, read together since they're always
// presented as one unit to callers.
type AggregatedInsightWithEffectiveness struct {
	model.AggregatedInsight
	PromptEffectiveness []model.PromptEffectiveness
}

// ListAggregatedInsights returns aggregated_insights ordered by
// created_at DESC, each with its prompt_effectiveness rows attached.
func ListAggregatedInsights(s *store.Store, kind string, limit, offset int) (model.Page[AggregatedInsightWithEffectiveness], error) {
	limit = model.ClampLimit(limit)
	offset = model.ClampOffset(offset)

	where := ""
	var args []any
	if kind != "" {
		where = " WHERE kind = ?"
		args = append(args, kind)
	}

	var total int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM aggregated_insights`+where, args...).Scan(&total); err != nil {
		return model.Page[AggregatedInsightWithEffectiveness]{}, fmt.Errorf("patterns: count aggregated_insights: %w", err)
	}

	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.DB().Query(`
		SELECT id, kind, examples, created_at
		FROM aggregated_insights`+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, queryArgs...)
	if err != nil {
		return model.Page[AggregatedInsightWithEffectiveness]{}, fmt.Errorf("patterns: query aggregated_insights: %w", err)
	}
	defer rows.Close()

	var items []AggregatedInsightWithEffectiveness
	for rows.Next() {
		var ins model.AggregatedInsight
		var examples *string
		if err := rows.Scan(&ins.ID, &ins.Kind, &examples, &ins.CreatedAt); err != nil {
			continue
		}
		if examples != nil {
			ins.Examples = *examples
		}
		eff, err := promptEffectivenessFor(s, ins.ID)
		if err != nil {
			return model.Page[AggregatedInsightWithEffectiveness]{}, err
		}
		items = append(items, AggregatedInsightWithEffectiveness{AggregatedInsight: ins, PromptEffectiveness: eff})
	}
	return model.Page[AggregatedInsightWithEffectiveness]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func promptEffectivenessFor(s *store.Store, insightID int64) ([]model.PromptEffectiveness, error) {
	rows, err := s.DB().Query(`
		SELECT id, insight_id, prompt_version, improvement, significant, measured_at
		FROM prompt_effectiveness
		WHERE insight_id = ?
		ORDER BY measured_at DESC
	`, insightID)
	if err != nil {
		return nil, fmt.Errorf("patterns: query prompt_effectiveness: %w", err)
	}
	defer rows.Close()

	var items []model.PromptEffectiveness
	for rows.Next() {
		var e model.PromptEffectiveness
		var significant int
		if err := rows.Scan(&e.ID, &e.InsightID, &e.PromptVersion, &e.Improvement, &significant, &e.MeasuredAt); err != nil {
			continue
		}
		e.Significant = significant != 0
		items = append(items, e)
	}
	return items, nil
}

// GetLessonsByLevel returns, for each of the seven canonical lesson
// levels, its total count and up to recentLimit most-recent lessons.
func GetLessonsByLevel(s *store.Store, recentLimit int) (map[model.LessonLevel]LevelBucket, error) {
	if recentLimit <= 0 {
		recentLimit = 5
	}

	buckets := make(map[model.LessonLevel]LevelBucket, len(model.CanonicalLessonLevels))
	for _, level := range model.CanonicalLessonLevels {
		var count int
		if err := s.DB().QueryRow(`SELECT COUNT(*) FROM lessons WHERE level = ?`, string(level)).Scan(&count); err != nil {
			return nil, fmt.Errorf("patterns: count lessons for level %s: %w", level, err)
		}

		page, err := ListLessons(s, LessonFilters{Level: level}, recentLimit, 0)
		if err != nil {
			return nil, err
		}
		buckets[level] = LevelBucket{Count: count, Recent: page.Items}
	}
	return buckets, nil
}
