package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/model"
)

// GetChunkMeta returns CAS metadata for hash, or bdperr.ErrNotFound.
func (s *Store) GetChunkMeta(ctx context.Context, hash string) (*model.CASChunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, original_size, stored_size, stored_compressed, ref_count, created_at, last_accessed_at
		FROM cas_index WHERE hash = ?
	`, hash)

	return scanChunk(row)
}

// PutChunkMeta upserts CAS metadata for a chunk (C2 incRef/put bookkeeping).
func (s *Store) PutChunkMeta(ctx context.Context, c model.CASChunk) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cas_index (hash, original_size, stored_size, stored_compressed, ref_count, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			original_size = excluded.original_size,
			stored_size = excluded.stored_size,
			stored_compressed = excluded.stored_compressed,
			ref_count = excluded.ref_count,
			last_accessed_at = excluded.last_accessed_at
	`, c.Hash, c.OriginalSize, c.StoredSize, boolToInt(c.StoredCompressed), c.RefCount, c.CreatedAt, c.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("store: put chunk meta: %w", err)
	}

	return nil
}

// DeleteChunkMeta removes a chunk's metadata row (called once the blob has
// been removed from blob storage, spec.md §4.2 reclaim()).
func (s *Store) DeleteChunkMeta(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cas_index WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("store: delete chunk meta: %w", err)
	}

	return nil
}

// ZeroRefChunks returns every chunk hash with ref_count = 0, eligible for
// reclaim() (spec.md §4.2).
func (s *Store) ZeroRefChunks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM cas_index WHERE ref_count = 0`)
	if err != nil {
		return nil, fmt.Errorf("store: zero ref chunks: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("store: scan zero ref chunk: %w", err)
		}

		out = append(out, h)
	}

	return out, rows.Err()
}

func scanChunk(row rowScanner) (*model.CASChunk, error) {
	var (
		c         model.CASChunk
		compressed int
	)

	err := row.Scan(&c.Hash, &c.OriginalSize, &c.StoredSize, &compressed, &c.RefCount, &c.CreatedAt, &c.LastAccessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bdperr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scan chunk: %w", err)
	}

	c.StoredCompressed = compressed != 0

	return &c, nil
}
