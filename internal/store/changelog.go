package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/vtkindex/internal/resource"
)

// logChange appends one change-log entry inside the caller's transaction.
func logChange(ctx context.Context, tx *sql.Tx, uri string, id resource.ID, isCollection bool, ct resource.ChangeType) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO changelog (uri, resource_id, is_collection, change_type)
		VALUES (?, ?, ?, ?)
	`, uri, id, isCollection, ct.String())
	if err != nil {
		return fmt.Errorf("log %s change: %w", ct, err)
	}
	return nil
}

// MostRecentChangeLogEntries returns the latest entry per resource, oldest
// first, bounded by the store's change batch limit.
//
// Returns an empty slice (not nil) when the log is empty.
func (s *Store) MostRecentChangeLogEntries(ctx context.Context) ([]resource.ChangeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.uri, c.resource_id, c.is_collection, c.change_type
		FROM changelog c
		JOIN (
			SELECT resource_id, MAX(id) AS max_id
			FROM changelog
			GROUP BY resource_id
		) latest ON c.id = latest.max_id
		ORDER BY c.id ASC
		LIMIT ?
	`, s.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	entries := []resource.ChangeLogEntry{}
	for rows.Next() {
		var e resource.ChangeLogEntry
		var changeType string
		if err := rows.Scan(&e.ChangeID, &e.URI, &e.ResourceID, &e.IsCollection, &changeType); err != nil {
			return nil, fmt.Errorf("scan change log entry: %w", err)
		}
		e.Type, err = resource.ParseChangeType(changeType)
		if err != nil {
			return nil, fmt.Errorf("change log entry %d: %w", e.ChangeID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change log: %w", err)
	}
	return entries, nil
}

// RemoveChangeLogEntries trims delivered entries. For each entry, every log
// row of the same resource up to and including its ChangeID is removed;
// rows logged after the poll are kept.
func (s *Store) RemoveChangeLogEntries(ctx context.Context, entries []resource.ChangeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM changelog WHERE resource_id = ? AND id <= ?`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.ResourceID, e.ChangeID); err != nil {
				return fmt.Errorf("delete entries for %d: %w", e.ResourceID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove change log entries: %w", err)
	}
	return nil
}

// PendingChanges returns the number of raw (uncoalesced) change-log rows.
func (s *Store) PendingChanges(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changelog`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count change log: %w", err)
	}
	return n, nil
}
