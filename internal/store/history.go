package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
)

// AppendHistory records a completed sync session (spec.md §4.8 "Finalize").
func (s *Store) AppendHistory(ctx context.Context, h model.SyncHistory) error {
	statsJSON, err := json.Marshal(h.Stats)
	if err != nil {
		return fmt.Errorf("store: marshal stats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_history (id, pair_id, ts, peer_device_id, sync_type, stats, new_merkle_root)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.PairID.String(), h.TS, h.PeerDeviceID.String(), string(h.SyncType), string(statsJSON), h.NewMerkleRoot)
	if err != nil {
		return fmt.Errorf("store: append history: %w", err)
	}

	return nil
}

// ListHistory returns every SyncHistory row for pairID, most recent first.
func (s *Store) ListHistory(ctx context.Context, pairID ids.PairID) ([]model.SyncHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair_id, ts, peer_device_id, sync_type, stats, new_merkle_root
		FROM sync_history WHERE pair_id = ? ORDER BY ts DESC
	`, pairID.String())
	if err != nil {
		return nil, fmt.Errorf("store: list history: %w", err)
	}
	defer rows.Close()

	var out []model.SyncHistory

	for rows.Next() {
		var (
			h                       model.SyncHistory
			pairIDStr, peerDeviceID string
			syncType, statsJSON     string
		)

		if err := rows.Scan(&h.ID, &pairIDStr, &h.TS, &peerDeviceID, &syncType, &statsJSON, &h.NewMerkleRoot); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}

		parsedPair, err := ids.ParsePairID(pairIDStr)
		if err != nil {
			return nil, err
		}

		parsedDevice, err := ids.ParseDeviceID(peerDeviceID)
		if err != nil {
			return nil, err
		}

		h.PairID = parsedPair
		h.PeerDeviceID = parsedDevice
		h.SyncType = model.SyncType(syncType)

		if err := json.Unmarshal([]byte(statsJSON), &h.Stats); err != nil {
			return nil, fmt.Errorf("store: unmarshal stats: %w", err)
		}

		out = append(out, h)
	}

	return out, rows.Err()
}
