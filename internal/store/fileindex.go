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
	"github.com/butterflysync/bdp/internal/vectorclock"
)

// MaxSeq returns the highest seq currently stored for pairID, or 0 if the
// index is empty.
func (s *Store) MaxSeq(ctx context.Context, pairID ids.PairID) (uint64, error) {
	var maxSeq sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM file_index WHERE pair_id = ?`, pairID.String(),
	).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("store: max seq: %w", err)
	}

	if !maxSeq.Valid {
		return 0, nil
	}

	return uint64(maxSeq.Int64), nil
}

// PutEntry inserts or replaces a FileEntry. The caller is responsible for
// stamping Seq (index.putEntry does this per spec.md §4.3); PutEntry
// persists whatever Seq is set on e.
func (s *Store) PutEntry(ctx context.Context, e model.FileEntry) error {
	chunksJSON, err := json.Marshal(e.ChunkHashes)
	if err != nil {
		return fmt.Errorf("store: marshal chunk hashes: %w", err)
	}

	clockJSON, err := json.Marshal(e.VectorClock)
	if err != nil {
		return fmt.Errorf("store: marshal vector clock: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO file_index (
			pair_id, path, size, mtime, hash, chunk_hashes,
			tombstone, vector_clock, device_id, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id, path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			hash = excluded.hash,
			chunk_hashes = excluded.chunk_hashes,
			tombstone = excluded.tombstone,
			vector_clock = excluded.vector_clock,
			device_id = excluded.device_id,
			seq = excluded.seq
	`, e.PairID.String(), e.Path, e.Size, e.MtimeMS, e.Hash, string(chunksJSON),
		boolToInt(e.Tombstone), string(clockJSON), e.DeviceID.String(), e.Seq)
	if err != nil {
		return fmt.Errorf("store: put entry: %w", err)
	}

	return nil
}

// GetEntry returns the FileEntry for (pairID, path), or bdperr.ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, pairID ids.PairID, path string) (*model.FileEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pair_id, path, size, mtime, hash, chunk_hashes,
		       tombstone, vector_clock, device_id, seq
		FROM file_index WHERE pair_id = ? AND path = ?
	`, pairID.String(), path)

	return scanEntry(row)
}

// DeleteEntry hard-deletes the row for (pairID, path). Logical deletion
// should instead write a tombstoned FileEntry via PutEntry — DeleteEntry
// is for pair teardown (spec.md §3 "Lifecycle").
func (s *Store) DeleteEntry(ctx context.Context, pairID ids.PairID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_index WHERE pair_id = ? AND path = ?`,
		pairID.String(), path,
	)
	if err != nil {
		return fmt.Errorf("store: delete entry: %w", err)
	}

	return nil
}

// EntriesSince returns every entry for pairID with seq > sinceSeq, ordered
// by seq ascending. sinceSeq=0 returns every entry (full exchange).
func (s *Store) EntriesSince(ctx context.Context, pairID ids.PairID, sinceSeq uint64) ([]model.FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, path, size, mtime, hash, chunk_hashes,
		       tombstone, vector_clock, device_id, seq
		FROM file_index WHERE pair_id = ? AND seq > ?
		ORDER BY seq ASC
	`, pairID.String(), sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("store: entries since: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// AllEntries returns every entry for pairID (tombstoned and live), ordered
// by path.
func (s *Store) AllEntries(ctx context.Context, pairID ids.PairID) ([]model.FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, path, size, mtime, hash, chunk_hashes,
		       tombstone, vector_clock, device_id, seq
		FROM file_index WHERE pair_id = ?
		ORDER BY path ASC
	`, pairID.String())
	if err != nil {
		return nil, fmt.Errorf("store: all entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// LiveEntries returns every non-tombstoned entry for pairID.
func (s *Store) LiveEntries(ctx context.Context, pairID ids.PairID) ([]model.FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, path, size, mtime, hash, chunk_hashes,
		       tombstone, vector_clock, device_id, seq
		FROM file_index WHERE pair_id = ? AND tombstone = 0
		ORDER BY path ASC
	`, pairID.String())
	if err != nil {
		return nil, fmt.Errorf("store: live entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]model.FileEntry, error) {
	var out []model.FileEntry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *e)
	}

	return out, rows.Err()
}

func scanEntry(row rowScanner) (*model.FileEntry, error) {
	var (
		e                          model.FileEntry
		pairID, deviceID           string
		chunksJSON, clockJSON      string
		tombstone                  int
	)

	err := row.Scan(&pairID, &e.Path, &e.Size, &e.MtimeMS, &e.Hash, &chunksJSON,
		&tombstone, &clockJSON, &deviceID, &e.Seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bdperr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scan entry: %w", err)
	}

	parsedPair, err := ids.ParsePairID(pairID)
	if err != nil {
		return nil, err
	}

	e.PairID = parsedPair
	e.Tombstone = tombstone != 0

	if deviceID != "" {
		parsedDevice, err := ids.ParseDeviceID(deviceID)
		if err != nil {
			return nil, err
		}

		e.DeviceID = parsedDevice
	}

	if err := json.Unmarshal([]byte(chunksJSON), &e.ChunkHashes); err != nil {
		return nil, fmt.Errorf("store: unmarshal chunk hashes: %w", err)
	}

	var clock vectorclock.Clock
	if err := json.Unmarshal([]byte(clockJSON), &clock); err != nil {
		return nil, fmt.Errorf("store: unmarshal vector clock: %w", err)
	}

	e.VectorClock = clock

	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
