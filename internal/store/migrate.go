package store

import (
	"fmt"
	"strings"
)

const schemaVersionDDL = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER UNIQUE,
		description TEXT,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
`

// runMigrations applies every migration in order, per spec.md §4.A rules:
//  1. version <= current and not previously skipped -> skip.
//  2. previously recorded as skipped -> re-evaluate; reapply if now
//     satisfied, else leave as-is.
//  3. requirements unsatisfied on first encounter -> insert a skipped row
//     and continue (not a failure).
//  4. apply in declared file order, never out of order.
func (s *Store) runMigrations() error {
	if _, err := s.db.Exec(schemaVersionDDL); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	applied := make(map[int]string) // version -> description
	rows, err := s.db.Query(`SELECT version, description FROM schema_version`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		var d string
		if err := rows.Scan(&v, &d); err != nil {
			rows.Close()
			return err
		}
		applied[v] = d
	}
	rows.Close()

	for _, m := range migrations {
		desc, seen := applied[m.Version]
		skipped, _ := parseSkipped(desc)

		switch {
		case seen && !skipped:
			continue // rule 1
		case seen && skipped:
			if s.requirementsSatisfied(m.Requires) {
				if _, err := s.db.Exec(`DELETE FROM schema_version WHERE version = ?`, m.Version); err != nil {
					return fmt.Errorf("migration %d: clear skipped marker: %w", m.Version, err)
				}
				if err := s.applyMigration(m); err != nil {
					return err
				}
			}
			// else: leave the skipped placeholder as-is.
		default:
			if !s.requirementsSatisfied(m.Requires) {
				skipDesc := fmt.Sprintf("%s (skipped: %s)", m.Description, unmetReason(m.Requires))
				if _, err := s.db.Exec(`INSERT INTO schema_version (version, description) VALUES (?, ?)`, m.Version, skipDesc); err != nil {
					return fmt.Errorf("migration %d: record skip: %w", m.Version, err)
				}
				continue // rule 3
			}
			if err := s.applyMigration(m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) requirementsSatisfied(reqs []string) bool {
	for _, r := range reqs {
		if r == capabilitySqliteVec && !s.IsVecLoaded() {
			return false
		}
	}
	return true
}

func unmetReason(reqs []string) string {
	return "requires " + strings.Join(reqs, ", ")
}

func parseSkipped(description string) (bool, string) {
	const marker = " (skipped: "
	idx := strings.Index(description, marker)
	if idx < 0 {
		return false, ""
	}
	reason := strings.TrimSuffix(description[idx+len(marker):], ")")
	return true, reason
}

// applyMigration runs a single migration's DDL (or Go Apply func) and
// records it, all inside one transaction (spec.md §4.A "single
// transaction", §5 "only one schema migration may run at a time").
func (s *Store) applyMigration(m migration) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if m.Apply != nil {
		if err = m.Apply(tx); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
	} else if m.SQL != "" {
		if _, err = tx.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
	}

	if _, err = tx.Exec(`INSERT INTO schema_version (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
		return fmt.Errorf("migration %d: record: %w", m.Version, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.Version, err)
	}
	return nil
}
