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

// PutPair upserts a SyncPair configuration record.
func (s *Store) PutPair(ctx context.Context, p model.SyncPair) error {
	devices := make([]string, len(p.Devices))
	for i, d := range p.Devices {
		devices[i] = d.String()
	}

	devicesJSON, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("store: marshal devices: %w", err)
	}

	includeJSON, err := json.Marshal(p.IncludePatterns)
	if err != nil {
		return fmt.Errorf("store: marshal include patterns: %w", err)
	}

	excludeJSON, err := json.Marshal(p.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("store: marshal exclude patterns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pairs (
			pair_id, devices, direction, conflict_strategy,
			include_patterns, exclude_patterns, max_file_size_bytes, last_synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id) DO UPDATE SET
			devices = excluded.devices,
			direction = excluded.direction,
			conflict_strategy = excluded.conflict_strategy,
			include_patterns = excluded.include_patterns,
			exclude_patterns = excluded.exclude_patterns,
			max_file_size_bytes = excluded.max_file_size_bytes,
			last_synced_at = excluded.last_synced_at
	`, p.PairID.String(), string(devicesJSON), string(p.Direction), string(p.ConflictStrategy),
		string(includeJSON), string(excludeJSON), p.MaxFileSizeBytes, p.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("store: put pair: %w", err)
	}

	return nil
}

// GetPair returns the SyncPair configuration for id, or bdperr.ErrNotFound.
func (s *Store) GetPair(ctx context.Context, id ids.PairID) (*model.SyncPair, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pair_id, devices, direction, conflict_strategy,
		       include_patterns, exclude_patterns, max_file_size_bytes, last_synced_at
		FROM pairs WHERE pair_id = ?
	`, id.String())

	return scanPair(row)
}

// ListPairs returns every configured SyncPair.
func (s *Store) ListPairs(ctx context.Context) ([]model.SyncPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, devices, direction, conflict_strategy,
		       include_patterns, exclude_patterns, max_file_size_bytes, last_synced_at
		FROM pairs ORDER BY pair_id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list pairs: %w", err)
	}
	defer rows.Close()

	var out []model.SyncPair

	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *p)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPair(row rowScanner) (*model.SyncPair, error) {
	var (
		p                                       model.SyncPair
		pairID, direction, conflictStrategy     string
		devicesJSON, includeJSON, excludeJSON   string
	)

	err := row.Scan(&pairID, &devicesJSON, &direction, &conflictStrategy,
		&includeJSON, &excludeJSON, &p.MaxFileSizeBytes, &p.LastSyncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bdperr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scan pair: %w", err)
	}

	parsedID, err := ids.ParsePairID(pairID)
	if err != nil {
		return nil, err
	}

	p.PairID = parsedID
	p.Direction = model.Direction(direction)
	p.ConflictStrategy = model.ConflictStrategy(conflictStrategy)

	var deviceStrs []string
	if err := json.Unmarshal([]byte(devicesJSON), &deviceStrs); err != nil {
		return nil, fmt.Errorf("store: unmarshal devices: %w", err)
	}

	for _, ds := range deviceStrs {
		did, err := ids.ParseDeviceID(ds)
		if err != nil {
			return nil, err
		}

		p.Devices = append(p.Devices, did)
	}

	if err := json.Unmarshal([]byte(includeJSON), &p.IncludePatterns); err != nil {
		return nil, fmt.Errorf("store: unmarshal include patterns: %w", err)
	}

	if err := json.Unmarshal([]byte(excludeJSON), &p.ExcludePatterns); err != nil {
		return nil, fmt.Errorf("store: unmarshal exclude patterns: %w", err)
	}

	return &p, nil
}
