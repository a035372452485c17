package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
)

// PutConflict upserts a conflict record.
func (s *Store) PutConflict(ctx context.Context, c model.Conflict) error {
	localJSON, err := json.Marshal(c.Local)
	if err != nil {
		return fmt.Errorf("store: marshal local entry: %w", err)
	}

	remoteJSON, err := json.Marshal(c.Remote)
	if err != nil {
		return fmt.Errorf("store: marshal remote entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflicts (
			pair_id, path, local_entry, remote_entry, auto_resolution,
			detected_at, resolved_at, applied_resolution
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id, path) DO UPDATE SET
			local_entry = excluded.local_entry,
			remote_entry = excluded.remote_entry,
			auto_resolution = excluded.auto_resolution,
			detected_at = excluded.detected_at,
			resolved_at = excluded.resolved_at,
			applied_resolution = excluded.applied_resolution
	`, c.PairID.String(), c.Path, string(localJSON), string(remoteJSON), string(c.AutoResolution),
		c.DetectedAt, c.ResolvedAt, string(c.AppliedResolution))
	if err != nil {
		return fmt.Errorf("store: put conflict: %w", err)
	}

	return nil
}

// GetConflict returns the conflict for (pairID, path), or bdperr.ErrNotFound.
func (s *Store) GetConflict(ctx context.Context, pairID ids.PairID, path string) (*model.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pair_id, path, local_entry, remote_entry, auto_resolution,
		       detected_at, resolved_at, applied_resolution
		FROM conflicts WHERE pair_id = ? AND path = ?
	`, pairID.String(), path)

	return scanConflict(row)
}

// ListConflicts returns conflicts for pairID. When onlyUnresolved is true,
// only rows with resolved_at IS NULL are returned (backs the "conflicts by
// (pairId, resolvedAt)" index from spec.md §4.1).
func (s *Store) ListConflicts(ctx context.Context, pairID ids.PairID, onlyUnresolved bool) ([]model.Conflict, error) {
	query := `
		SELECT pair_id, path, local_entry, remote_entry, auto_resolution,
		       detected_at, resolved_at, applied_resolution
		FROM conflicts WHERE pair_id = ?`
	if onlyUnresolved {
		query += ` AND resolved_at IS NULL`
	}

	query += ` ORDER BY detected_at ASC`

	rows, err := s.db.QueryContext(ctx, query, pairID.String())
	if err != nil {
		return nil, fmt.Errorf("store: list conflicts: %w", err)
	}
	defer rows.Close()

	var out []model.Conflict

	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *c)
	}

	return out, rows.Err()
}

func scanConflict(row rowScanner) (*model.Conflict, error) {
	var (
		c                          model.Conflict
		pairID                     string
		localJSON, remoteJSON      string
		autoResolution, applied    string
		resolvedAt                 sql.NullInt64
	)

	err := row.Scan(&pairID, &c.Path, &localJSON, &remoteJSON, &autoResolution,
		&c.DetectedAt, &resolvedAt, &applied)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bdperr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scan conflict: %w", err)
	}

	parsed, err := ids.ParsePairID(pairID)
	if err != nil {
		return nil, err
	}

	c.PairID = parsed
	c.AutoResolution = model.Resolution(autoResolution)
	c.AppliedResolution = model.Resolution(applied)

	if resolvedAt.Valid {
		v := resolvedAt.Int64
		c.ResolvedAt = &v
	}

	if err := json.Unmarshal([]byte(localJSON), &c.Local); err != nil {
		return nil, fmt.Errorf("store: unmarshal local entry: %w", err)
	}

	if err := json.Unmarshal([]byte(remoteJSON), &c.Remote); err != nil {
		return nil, fmt.Errorf("store: unmarshal remote entry: %w", err)
	}

	return &c, nil
}
