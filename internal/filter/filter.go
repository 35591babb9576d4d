// Package filter composes parameterised predicate fragments from a Filters
// record (spec.md §4.B), grounded on the ad hoc WHERE-fragment
// construction scattered through vthunder/bud2's internal/graph queries,
// generalised into a single immutable-record builder.
package filter

import (
	"fmt"
	"strings"
	"time"
)

// Filters is the full set of recognised predicate options (spec.md §4.B).
// Zero values mean "no constraint"; pointers distinguish "absent" from
// "false" for the boolean options.
type Filters struct {
	Project       string
	ExactProject  string
	Type          string
	Outcome       string
	From          time.Time
	To            time.Time
	Computer      string
	HadClearGoal  *bool
	IsNewProject  *bool
	SessionFile   string
	Tags          []string
	Topics        []string
}

// Build composes (fragment, params) for use inside a WHERE clause, with
// every column reference qualified by alias (e.g. "n" for a joined
// `nodes n`). Returns an empty fragment and nil params when no option is
// set. The fragment never begins with "WHERE" — callers splice it after
// their own fixed predicates with "AND".
func Build(f Filters, alias string) (string, []any) {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}

	var clauses []string
	var params []any

	if f.Project != "" {
		clauses = append(clauses, col("project")+" LIKE ?")
		params = append(params, "%"+f.Project+"%")
	}
	if f.ExactProject != "" {
		clauses = append(clauses, col("project")+" = ?")
		params = append(params, f.ExactProject)
	}
	if f.Type != "" {
		clauses = append(clauses, col("type")+" = ?")
		params = append(params, f.Type)
	}
	if f.Outcome != "" {
		clauses = append(clauses, col("outcome")+" = ?")
		params = append(params, f.Outcome)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, col("timestamp")+" >= ?")
		params = append(params, f.From)
	}
	if !f.To.IsZero() {
		clauses = append(clauses, col("timestamp")+" <= ?")
		params = append(params, f.To)
	}
	if f.Computer != "" {
		clauses = append(clauses, col("computer")+" = ?")
		params = append(params, f.Computer)
	}
	if f.HadClearGoal != nil {
		clauses = append(clauses, col("had_clear_goal")+" = ?")
		params = append(params, boolToInt(*f.HadClearGoal))
	}
	if f.IsNewProject != nil {
		clauses = append(clauses, col("is_new_project")+" = ?")
		params = append(params, boolToInt(*f.IsNewProject))
	}
	if f.SessionFile != "" {
		clauses = append(clauses, col("session_file")+" = ?")
		params = append(params, f.SessionFile)
	}

	// tags/topics: AND semantics — every requested tag/topic must be
	// present, combining node-level tags, lesson-level tags, and topics.
	for _, tag := range f.Tags {
		clauses = append(clauses, fmt.Sprintf(`(
			EXISTS (SELECT 1 FROM tags WHERE tags.node_id = %s AND tags.tag = ?)
			OR EXISTS (
				SELECT 1 FROM lesson_tags
				JOIN lessons ON lessons.id = lesson_tags.lesson_id
				WHERE lessons.node_id = %s AND lesson_tags.tag = ?
			)
		)`, col("id"), col("id")))
		params = append(params, tag, tag)
	}
	for _, topic := range f.Topics {
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM topics WHERE topics.node_id = %s AND topics.topic = ?)", col("id")))
		params = append(params, topic)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " AND "), params
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
