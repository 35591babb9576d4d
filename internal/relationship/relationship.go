// Package relationship implements §4.J: validates analyzer-produced
// typed relationships and persists them either as a normal edge
// (resolved target) or a pending placeholder edge (unresolved target),
// plus later resolution of that placeholder.
//
// Grounded on the teacher's entity-relation valid_at/invalid_at/
// invalidated_by pattern (internal/graph — AddTraceRelation and the
// entity_relations resolution flow), generalised from the teacher's
// time-bounded validity window to this store's pending/resolved edge
// pair.
package relationship

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/pi-brain/internal/model"
	"github.com/vthunder/pi-brain/internal/nodestore"
	"github.com/vthunder/pi-brain/internal/store"
)

// Proposed is an analyzer-produced relationship awaiting validation and storage.
type Proposed struct {
	SourceNodeID      string
	Type              model.EdgeType
	Confidence        *float64
	Reason            string
	TargetNodeID      string // resolved case
	TargetDescription string // unresolved case
}

// Validate checks p against §4.J's rejection rules, returning an
// *store.InvalidRelationshipError describing the first violation found.
func Validate(p Proposed) error {
	if !p.Type.IsAutoMemEdgeType() {
		return &store.InvalidRelationshipError{Reason: fmt.Sprintf("unknown relationship type %q: must be an AutoMem type", p.Type)}
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		return &store.InvalidRelationshipError{Reason: fmt.Sprintf("confidence %v out of range [0,1]", *p.Confidence)}
	}
	if strings.TrimSpace(p.TargetNodeID) == "" && strings.TrimSpace(p.TargetDescription) == "" {
		return &store.InvalidRelationshipError{Reason: "neither targetNodeId nor targetDescription present"}
	}
	if strings.TrimSpace(p.Reason) == "" {
		return &store.InvalidRelationshipError{Reason: "reason is blank"}
	}
	return nil
}

// Store validates and persists p: a resolved target becomes a normal
// edge; an unresolved target becomes a pending placeholder edge
// (source == target == p.SourceNodeID).
func Store(repo *nodestore.Repository, p Proposed) (*model.Edge, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	e := &model.Edge{
		SourceNodeID: p.SourceNodeID,
		Type:         p.Type,
		CreatedBy:    model.CreatedByDaemon,
		CreatedAt:    time.Now(),
		Confidence:   p.Confidence,
		Metadata:     model.EdgeMetadata{Reason: p.Reason},
	}

	if strings.TrimSpace(p.TargetNodeID) != "" {
		e.TargetNodeID = p.TargetNodeID
	} else {
		e.TargetNodeID = p.SourceNodeID
		e.Metadata.UnresolvedTarget = p.TargetDescription
	}

	if err := repo.CreateEdge(e); err != nil {
		return nil, fmt.Errorf("relationship: create edge: %w", err)
	}
	return e, nil
}

// FindUnresolved returns every pending edge (source == target with a
// non-empty metadata.unresolvedTarget), optionally restricted to a
// single node.
func FindUnresolved(repo *nodestore.Repository, nodeID string) ([]*model.Edge, error) {
	var edges []*model.Edge
	var err error
	if nodeID != "" {
		edges, err = repo.GetNodeEdges(nodeID)
	} else {
		edges, err = repo.ListAllEdges()
	}
	if err != nil {
		return nil, fmt.Errorf("relationship: list edges: %w", err)
	}

	out := make([]*model.Edge, 0, len(edges))
	for _, e := range edges {
		if e.IsPending() && (nodeID == "" || e.SourceNodeID == nodeID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Resolve attaches newTarget to the pending edge edgeID: moves the
// unresolved description into metadata.resolvedFrom, stamps
// metadata.resolvedAt, and updates target_node_id. Returns false if
// edgeID doesn't exist.
func Resolve(s *store.Store, edgeID, newTarget string) (bool, error) {
	var metaJSON string
	err := s.DB().QueryRow(`SELECT metadata FROM edges WHERE id = ?`, edgeID).Scan(&metaJSON)
	if err != nil {
		return false, nil
	}

	var meta model.EdgeMetadata
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return false, fmt.Errorf("relationship: unmarshal metadata: %w", err)
		}
	}

	meta.ResolvedFrom = meta.UnresolvedTarget
	meta.UnresolvedTarget = ""
	meta.ResolvedAt = time.Now().UTC().Format(time.RFC3339)

	newMeta, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("relationship: marshal metadata: %w", err)
	}

	res, err := s.DB().Exec(`UPDATE edges SET target_node_id = ?, metadata = ? WHERE id = ?`, newTarget, string(newMeta), edgeID)
	if err != nil {
		return false, fmt.Errorf("relationship: update edge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("relationship: rows affected: %w", err)
	}
	return rows > 0, nil
}
