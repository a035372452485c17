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

// PutNode upserts a MerkleNode. Nodes with zero children should instead be
// removed via DeleteNode (spec.md §3 "a node exists iff it has >=1 child").
func (s *Store) PutNode(ctx context.Context, n model.MerkleNode) error {
	childJSON, err := json.Marshal(n.ChildHashes)
	if err != nil {
		return fmt.Errorf("store: marshal child hashes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO merkle_nodes (pair_id, node_path, hash, child_hashes, child_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pair_id, node_path) DO UPDATE SET
			hash = excluded.hash,
			child_hashes = excluded.child_hashes,
			child_count = excluded.child_count
	`, n.PairID.String(), n.NodePath, n.Hash, string(childJSON), n.ChildCount)
	if err != nil {
		return fmt.Errorf("store: put node: %w", err)
	}

	return nil
}

// GetNode returns the MerkleNode at nodePath, or bdperr.ErrNotFound.
func (s *Store) GetNode(ctx context.Context, pairID ids.PairID, nodePath string) (*model.MerkleNode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pair_id, node_path, hash, child_hashes, child_count
		FROM merkle_nodes WHERE pair_id = ? AND node_path = ?
	`, pairID.String(), nodePath)

	return scanNode(row)
}

// DeleteNode removes the node at nodePath (cascade deletion, spec.md §4.5).
func (s *Store) DeleteNode(ctx context.Context, pairID ids.PairID, nodePath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM merkle_nodes WHERE pair_id = ? AND node_path = ?`,
		pairID.String(), nodePath,
	)
	if err != nil {
		return fmt.Errorf("store: delete node: %w", err)
	}

	return nil
}

// AllNodes returns every MerkleNode for pairID, used by full tree rebuilds.
func (s *Store) AllNodes(ctx context.Context, pairID ids.PairID) ([]model.MerkleNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, node_path, hash, child_hashes, child_count
		FROM merkle_nodes WHERE pair_id = ?
	`, pairID.String())
	if err != nil {
		return nil, fmt.Errorf("store: all nodes: %w", err)
	}
	defer rows.Close()

	var out []model.MerkleNode

	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *n)
	}

	return out, rows.Err()
}

// DeleteAllNodes removes every node for pairID, used before a full rebuild.
func (s *Store) DeleteAllNodes(ctx context.Context, pairID ids.PairID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM merkle_nodes WHERE pair_id = ?`, pairID.String())
	if err != nil {
		return fmt.Errorf("store: delete all nodes: %w", err)
	}

	return nil
}

func scanNode(row rowScanner) (*model.MerkleNode, error) {
	var (
		n            model.MerkleNode
		pairID       string
		childJSON    string
	)

	if err := row.Scan(&pairID, &n.NodePath, &n.Hash, &childJSON, &n.ChildCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bdperr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scan node: %w", err)
	}

	parsed, err := ids.ParsePairID(pairID)
	if err != nil {
		return nil, err
	}

	n.PairID = parsed

	if err := json.Unmarshal([]byte(childJSON), &n.ChildHashes); err != nil {
		return nil, fmt.Errorf("store: unmarshal child hashes: %w", err)
	}

	return &n, nil
}

// GetIndexRoot returns the IndexRoot summary for pairID, or bdperr.ErrNotFound.
func (s *Store) GetIndexRoot(ctx context.Context, pairID ids.PairID) (*model.IndexRoot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pair_id, root_hash, entry_count, max_seq, index_id, computed_at, device_id
		FROM index_roots WHERE pair_id = ?
	`, pairID.String())

	var (
		r                model.IndexRoot
		pairIDStr, devID string
	)

	err := row.Scan(&pairIDStr, &r.RootHash, &r.EntryCount, &r.MaxSeq, &r.IndexID, &r.ComputedAt, &devID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bdperr.ErrNotFound
		}

		return nil, fmt.Errorf("store: get index root: %w", err)
	}

	parsed, err := ids.ParsePairID(pairIDStr)
	if err != nil {
		return nil, err
	}

	r.PairID = parsed

	if devID != "" {
		d, err := ids.ParseDeviceID(devID)
		if err != nil {
			return nil, err
		}

		r.DeviceID = d
	}

	return &r, nil
}

// PutIndexRoot upserts the IndexRoot summary for a pair.
func (s *Store) PutIndexRoot(ctx context.Context, r model.IndexRoot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_roots (pair_id, root_hash, entry_count, max_seq, index_id, computed_at, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id) DO UPDATE SET
			root_hash = excluded.root_hash,
			entry_count = excluded.entry_count,
			max_seq = excluded.max_seq,
			index_id = excluded.index_id,
			computed_at = excluded.computed_at,
			device_id = excluded.device_id
	`, r.PairID.String(), r.RootHash, r.EntryCount, r.MaxSeq, r.IndexID, r.ComputedAt, r.DeviceID.String())
	if err != nil {
		return fmt.Errorf("store: put index root: %w", err)
	}

	return nil
}
