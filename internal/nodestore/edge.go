package nodestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vthunder/pi-brain/internal/model"
)

// newEdgeID returns an `edg_` + 12 lowercase-hex id per spec.md §3,
// derived from a uuid with the dashes stripped and truncated.
func newEdgeID() string {
	return "edg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateEdge inserts e, generating an id via newEdgeID if unset. A pending
// edge (source == target, metadata.unresolvedTarget set) is stored exactly
// like any other edge — its pending-ness is a property of its fields, not
// a separate table (spec.md §4.J).
func (r *Repository) CreateEdge(e *model.Edge) error {
	if e.ID == "" {
		e.ID = newEdgeID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("nodestore: marshal edge metadata: %w", err)
	}

	_, err = r.store.DB().Exec(`
		INSERT INTO edges (id, source_node_id, target_node_id, type, metadata, created_at, created_by, confidence, similarity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SourceNodeID, e.TargetNodeID, string(e.Type), string(meta), e.CreatedAt, string(e.CreatedBy),
		nullableFloat(e.Confidence), nullableFloat(e.Similarity))
	if err != nil {
		return fmt.Errorf("nodestore: insert edge: %w", err)
	}
	return nil
}

// GetEdgesFrom returns every edge with source_node_id = id.
func (r *Repository) GetEdgesFrom(id string) ([]*model.Edge, error) {
	return r.queryEdges(`SELECT id, source_node_id, target_node_id, type, metadata, created_at, created_by, confidence, similarity
		FROM edges WHERE source_node_id = ?`, id)
}

// GetEdgesTo returns every edge with target_node_id = id.
func (r *Repository) GetEdgesTo(id string) ([]*model.Edge, error) {
	return r.queryEdges(`SELECT id, source_node_id, target_node_id, type, metadata, created_at, created_by, confidence, similarity
		FROM edges WHERE target_node_id = ?`, id)
}

// GetNodeEdges returns every edge touching id, in either direction.
func (r *Repository) GetNodeEdges(id string) ([]*model.Edge, error) {
	return r.queryEdges(`SELECT id, source_node_id, target_node_id, type, metadata, created_at, created_by, confidence, similarity
		FROM edges WHERE source_node_id = ? OR target_node_id = ?`, id, id)
}

// EdgeExists reports whether an edge with this exact (source, target, type)
// triple is already on record, used to avoid duplicate relation creation.
func (r *Repository) EdgeExists(source, target string, t model.EdgeType) (bool, error) {
	var count int
	err := r.store.DB().QueryRow(`
		SELECT COUNT(*) FROM edges WHERE source_node_id = ? AND target_node_id = ? AND type = ?
	`, source, target, string(t)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListAllEdges returns every edge in the store, used by relationship
// resolution queries that aren't scoped to a single node.
func (r *Repository) ListAllEdges() ([]*model.Edge, error) {
	return r.queryEdges(`SELECT id, source_node_id, target_node_id, type, metadata, created_at, created_by, confidence, similarity
		FROM edges`)
}

// DeleteEdge removes a single edge by id.
func (r *Repository) DeleteEdge(id string) (bool, error) {
	result, err := r.store.DB().Exec(`DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("nodestore: delete edge: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (r *Repository) queryEdges(query string, args ...any) ([]*model.Edge, error) {
	rows, err := r.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("nodestore: query edges: %w", err)
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		e, err := edgeRowToEdge(rows)
		if err != nil {
			continue
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func edgeRowToEdge(rows *sql.Rows) (*model.Edge, error) {
	var e model.Edge
	var typ, createdBy string
	var meta sql.NullString
	var confidence, similarity sql.NullFloat64

	err := rows.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &typ, &meta, &e.CreatedAt, &createdBy, &confidence, &similarity)
	if err != nil {
		return nil, err
	}
	e.Type = model.EdgeType(typ)
	e.CreatedBy = model.CreatedBy(createdBy)
	if meta.Valid && meta.String != "" {
		json.Unmarshal([]byte(meta.String), &e.Metadata)
	}
	if confidence.Valid {
		v := confidence.Float64
		e.Confidence = &v
	}
	if similarity.Valid {
		v := similarity.Float64
		e.Similarity = &v
	}
	return &e, nil
}
