package store

import (
	"fmt"
	"log"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// loadVec resolves the sqlite-vec extension per policy (spec.md §4.A):
// required (default) fails Open on load error; optional tries and
// continues on failure; skipped never attempts to load.
func (s *Store) loadVec(policy VecLoadPolicy) error {
	if policy == VecSkipped {
		return nil
	}

	var version string
	err := s.db.QueryRow("SELECT vec_version()").Scan(&version)
	if err != nil {
		if policy == VecRequired {
			return fmt.Errorf("%w: %v", ErrVectorExtensionUnavailable, err)
		}
		log.Printf("[store] sqlite-vec not available: %v — vector search disabled", err)
		return nil
	}

	log.Printf("[store] sqlite-vec %s loaded", version)
	s.vecMu.Lock()
	s.vecAvailable = true
	s.vecMu.Unlock()
	return nil
}

// initVecTableFromExisting restores in-memory vecDim from an already
// materialised node_embeddings_vec table (handles process restarts where
// migration 2 already ran and ensureVecTable already created the table on
// a prior run) or, failing that, backfills it from node_embeddings.
func (s *Store) initVecTableFromExisting() error {
	var embBytes []byte
	err := s.db.QueryRow(`SELECT embedding FROM node_embeddings LIMIT 1`).Scan(&embBytes)
	if err != nil {
		return nil // no embeddings yet; defer to first write
	}
	dim := len(embBytes) / 4
	if dim == 0 {
		return nil
	}
	return s.ensureVecTable(dim)
}

// ensureVecTable creates the node_embeddings_vec virtual table for the
// given dimension (if not already created) and backfills it from
// node_embeddings. Idempotent for a fixed dimension; a later write at a
// different dimension is a recoverable DimensionMismatch (logged, vec
// write skipped — spec.md §4.D point 3) rather than a propagated error.
func (s *Store) ensureVecTable(dim int) error {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()

	if s.vecDim == dim {
		return nil
	}
	if s.vecDim != 0 && s.vecDim != dim {
		log.Printf("[store] embedding dim %d doesn't match vec table dim %d — vec skipped for this row", dim, s.vecDim)
		return nil
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS node_embeddings_vec USING vec0(
			embedding float[%d]
		)
	`, dim))
	if err != nil {
		return fmt.Errorf("store: create node_embeddings_vec(float[%d]): %w", dim, err)
	}
	s.vecDim = dim

	rows, err := s.db.Query(`SELECT rowid, node_id, embedding FROM node_embeddings`)
	if err != nil {
		return nil // backfill failure is non-fatal
	}
	defer rows.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return nil
	}
	var count int
	for rows.Next() {
		var rowid int64
		var nodeID string
		var emb []byte
		if err := rows.Scan(&rowid, &nodeID, &emb); err != nil {
			continue
		}
		if len(emb)/4 != dim {
			continue
		}
		vec := bytesToFloat32(emb)
		serialized, serErr := sqlite_vec.SerializeFloat32(vec)
		if serErr != nil {
			continue
		}
		tx.Exec(`DELETE FROM node_embeddings_vec WHERE rowid = ?`, rowid)
		if _, err := tx.Exec(`INSERT INTO node_embeddings_vec(rowid, embedding) VALUES (?, ?)`, rowid, serialized); err != nil {
			log.Printf("[store] vec backfill failed for %s: %v", nodeID, err)
			continue
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return nil
	}
	if count > 0 {
		log.Printf("[store] vec backfill: indexed %d nodes (dim=%d)", count, dim)
	}
	return nil
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// EnsureVecTable is used by the indexing pipeline (a sibling package) to
// create/extend the vec table before upserting a row.
func (s *Store) EnsureVecTable(dim int) error {
	return s.ensureVecTable(dim)
}
