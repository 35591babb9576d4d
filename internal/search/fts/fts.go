// Package fts implements §4.E FTS search over nodes_fts: query
// preparation (quoting/field-restriction), rank + highlight extraction,
// and pagination.
//
// Grounded on the teacher's `trace_fts MATCH` queries (internal/graph/db.go
// migration v17/v20) generalised to the multi-field document and
// highlight-window extraction spec.md §4.E adds.
package fts

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/vthunder/pi-brain/internal/filter"
	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/store"
)

// Fields are the nodes_fts columns eligible for field restriction.
var Fields = []string{"summary", "decisions", "lessons", "tags", "topics"}

// Hit is one advanced-search result: the node row, its FTS rank (more
// negative is better), and per-field highlight snippets.
type Hit struct {
	Node       *model.Node
	Rank       float64
	Highlights map[string]string
}

// PrepareQuery tokenises q on whitespace, drops empty tokens, and wraps
// each as a quoted FTS5 term (doubling embedded quotes). When fields is
// non-empty, every term is prefixed with "{col1 col2}:" to restrict the
// match to those columns.
func PrepareQuery(q string, fields []string) string {
	tokens := strings.Fields(q)
	if len(tokens) == 0 {
		return ""
	}

	prefix := ""
	if len(fields) > 0 {
		prefix = "{" + strings.Join(fields, " ") + "}:"
	}

	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		quoted := strings.ReplaceAll(tok, `"`, `""`)
		terms = append(terms, prefix+`"`+quoted+`"`)
	}
	return strings.Join(terms, " ")
}

// Search runs an advanced FTS5 search, returning hits with rank and
// highlights, best-rank-first (most negative rank first). An empty
// query returns an empty result without touching the database.
func Search(s *store.Store, q string, fields []string, f filter.Filters, limit, offset int) ([]Hit, int, error) {
	ftsQuery := PrepareQuery(q, fields)
	if ftsQuery == "" {
		return nil, 0, nil
	}

	limit = model.ClampLimit(limit)
	offset = model.ClampOffset(offset)

	frag, params := filter.Build(f, "n")
	where := ""
	if frag != "" {
		where = " AND " + frag
	}

	countQuery := `
		SELECT COUNT(*)
		FROM nodes_fts
		JOIN nodes n ON n.id = nodes_fts.node_id
		INNER JOIN (SELECT id, MAX(version) AS version FROM nodes GROUP BY id) latest
			ON latest.id = n.id AND latest.version = n.version
		WHERE nodes_fts MATCH ?` + where

	countParams := append([]any{ftsQuery}, params...)
	var total int
	if err := s.DB().QueryRow(countQuery, countParams...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("fts: count: %w", err)
	}

	query := `
		SELECT n.id, n.version, n.type, n.project, n.timestamp, n.archived, n.importance,
			nodes_fts.summary, nodes_fts.decisions, nodes_fts.lessons, nodes_fts.tags, nodes_fts.topics, rank
		FROM nodes_fts
		JOIN nodes n ON n.id = nodes_fts.node_id
		INNER JOIN (SELECT id, MAX(version) AS version FROM nodes GROUP BY id) latest
			ON latest.id = n.id AND latest.version = n.version
		WHERE nodes_fts MATCH ?` + where + `
		ORDER BY rank
		LIMIT ? OFFSET ?`

	queryParams := append(countParams, limit, offset)
	rows, err := s.DB().Query(query, queryParams...)
	if err != nil {
		return nil, 0, fmt.Errorf("fts: search: %w", err)
	}
	defer rows.Close()

	lowerTokens := lowerWords(q)
	var hits []Hit
	for rows.Next() {
		var n model.Node
		var typ string
		var importance sql.NullFloat64
		var summary, decisions, lessons, tags, topics string
		var rank float64
		if err := rows.Scan(&n.ID, &n.Version, &typ, &n.Project, &n.Timestamp, &n.Archived, &importance,
			&summary, &decisions, &lessons, &tags, &topics, &rank); err != nil {
			continue
		}
		n.Type = model.NodeType(typ)
		if importance.Valid {
			v := importance.Float64
			n.Importance = &v
		}
		n.IndexedSummary = summary

		hits = append(hits, Hit{
			Node: &n,
			Rank: rank,
			Highlights: map[string]string{
				"summary":   highlight(summary, lowerTokens),
				"decisions": highlight(decisions, lowerTokens),
				"lessons":   highlight(lessons, lowerTokens),
				"tags":      highlight(tags, lowerTokens),
				"topics":    highlight(topics, lowerTokens),
			},
		})
	}
	return hits, total, nil
}

func lowerWords(q string) []string {
	fields := strings.Fields(q)
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.ToLower(f)
	}
	return out
}

// highlight finds the lowest-index occurrence of any query word
// (case-insensitive) in text, centres a ~100-char window on it snapped to
// word boundaries, wraps every query-word occurrence inside the window in
// <mark>, and prepends/appends "..." when the window doesn't reach the
// text's edges.
func highlight(text string, words []string) string {
	if text == "" || len(words) == 0 {
		return ""
	}
	lower := strings.ToLower(text)

	best := -1
	for _, w := range words {
		if w == "" {
			continue
		}
		idx := strings.Index(lower, w)
		if idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	if best < 0 {
		return text
	}

	const windowSize = 100
	start := best - windowSize/2
	if start < 0 {
		start = 0
	}
	end := best + windowSize/2
	if end > len(text) {
		end = len(text)
	}
	start = snapToWordStart(text, start)
	end = snapToWordEnd(text, end)

	window := text[start:end]
	marked := markOccurrences(window, words)

	if start > 0 {
		marked = "..." + marked
	}
	if end < len(text) {
		marked = marked + "..."
	}
	return marked
}

func snapToWordStart(text string, idx int) int {
	for idx > 0 && !unicode.IsSpace(rune(text[idx-1])) {
		idx--
	}
	return idx
}

func snapToWordEnd(text string, idx int) int {
	for idx < len(text) && !unicode.IsSpace(rune(text[idx])) {
		idx++
	}
	return idx
}

// markOccurrences wraps every case-insensitive occurrence of any word in
// <mark>...</mark>, scanning left to right and skipping past each match.
func markOccurrences(window string, words []string) string {
	lower := strings.ToLower(window)
	var b strings.Builder
	i := 0
	for i < len(window) {
		matchLen := 0
		for _, w := range words {
			if w == "" {
				continue
			}
			if strings.HasPrefix(lower[i:], w) && len(w) > matchLen {
				matchLen = len(w)
			}
		}
		if matchLen > 0 {
			b.WriteString("<mark>")
			b.WriteString(window[i : i+matchLen])
			b.WriteString("</mark>")
			i += matchLen
		} else {
			b.WriteByte(window[i])
			i++
		}
	}
	return b.String()
}
