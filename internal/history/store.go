// Package history provides the append-only entity state history that graphs
// are built from.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hadash/internal/graph"
)

// Store persists entity states in SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new Store using the provided database connection
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendBatch stores states for one entity in a single transaction and bumps
// the entity's version. It returns the generated batch id.
func (s *Store) AppendBatch(entityID string, states []graph.RawState) (string, error) {
	if len(states) == 0 {
		return "", nil
	}
	batchID := uuid.NewString()
	now := time.Now().UTC().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO entity_history (entity_id, ts_ms, state, batch_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range states {
		if _, err := stmt.Exec(entityID, st.Timestamp, st.State, batchID); err != nil {
			return "", fmt.Errorf("failed to insert state: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO entity_version (entity_id, version, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			version = version + 1,
			updated_at = excluded.updated_at
	`, entityID, now)
	if err != nil {
		return "", fmt.Errorf("failed to bump version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit batch: %w", err)
	}

	log.Debug().
		Str("entity", entityID).
		Str("batch", batchID).
		Int("states", len(states)).
		Msg("History batch stored")

	return batchID, nil
}

// Since returns the states of an entity from fromMs on, in ascending
// timestamp order. The last state recorded before fromMs is included first so
// callers can tell what the entity was doing when the range began.
func (s *Store) Since(entityID string, fromMs int64) ([]graph.RawState, error) {
	rows, err := s.db.Query(`
		SELECT ts_ms, state FROM (
			SELECT id, ts_ms, state FROM (
				SELECT id, ts_ms, state FROM entity_history
				WHERE entity_id = ? AND ts_ms < ?
				ORDER BY ts_ms DESC, id DESC
				LIMIT 1
			)
			UNION ALL
			SELECT id, ts_ms, state FROM entity_history
			WHERE entity_id = ? AND ts_ms >= ?
		)
		ORDER BY ts_ms ASC, id ASC
	`, entityID, fromMs, entityID, fromMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var states []graph.RawState
	for rows.Next() {
		var st graph.RawState
		if err := rows.Scan(&st.Timestamp, &st.State); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		states = append(states, st)
	}

	return states, rows.Err()
}

// Versions returns the current version of every entity with history.
func (s *Store) Versions() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT entity_id, version FROM entity_version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]int64)
	for rows.Next() {
		var id string
		var version int64
		if err := rows.Scan(&id, &version); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions[id] = version
	}

	return versions, rows.Err()
}

// DeleteOlderThan removes states older than the retention period. The state
// with the latest timestamp of each entity is kept even when it is older, so a
// signal that has not changed for a long time still has a known value. Rows
// inserted out of time order (backfills) do not count as the latest state.
func (s *Store) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	result, err := s.db.Exec(`
		DELETE FROM entity_history
		WHERE ts_ms < ?
		AND id NOT IN (
			SELECT (
				SELECT l.id FROM entity_history l
				WHERE l.entity_id = e.entity_id
				ORDER BY l.ts_ms DESC, l.id DESC
				LIMIT 1
			)
			FROM (SELECT DISTINCT entity_id FROM entity_history) e
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old history: %w", err)
	}
	return result.RowsAffected()
}
