// Package chunk implements C4's content chunking and hashing rules
// (spec.md §4.4): fixed-size chunks from offset 0, SHA-256 per chunk, and
// SHA-256 over the whole file for FileEntry.Hash. Grounded on the
// teacher's fixed-window upload chunking (internal/graph/upload.go, which
// splits a file into fixed-size ranges for resumable upload sessions) —
// BDP reuses the same "read fixed windows, hash each" shape for a
// different purpose (content addressing instead of resumable transfer).
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the fixed chunk size in bytes (spec.md §4.4, §6 default 64 KiB).
const Size = 64 * 1024

// EmptyHash is the SHA-256 of zero bytes, used for both the wholeHash and
// the single chunkHashes entry of an empty file (spec.md §4.4).
var EmptyHash = hashHex(nil)

// Result is the outcome of hashing a file's content (spec.md §6
// "hashChunks(content) -> { chunkHashes, wholeHash }").
type Result struct {
	ChunkHashes []string
	WholeHash   string
}

// Hash reads r to EOF, computing the ordered per-chunk SHA-256 list and the
// whole-file SHA-256 in a single pass. An empty input produces a
// single-entry ChunkHashes list holding EmptyHash (spec.md §4.4).
func Hash(r io.Reader) (Result, error) {
	whole := sha256.New()
	buf := make([]byte, Size)

	var chunks []string
	sawAny := false

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sawAny = true

			if _, werr := whole.Write(buf[:n]); werr != nil {
				return Result{}, fmt.Errorf("chunk: hashing whole file: %w", werr)
			}

			chunks = append(chunks, hashHex(buf[:n]))
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}

		if err != nil {
			return Result{}, fmt.Errorf("chunk: reading content: %w", err)
		}
	}

	if !sawAny {
		return Result{ChunkHashes: []string{EmptyHash}, WholeHash: EmptyHash}, nil
	}

	return Result{ChunkHashes: chunks, WholeHash: hex.EncodeToString(whole.Sum(nil))}, nil
}

// hashHex returns the lowercase hex SHA-256 of b.
func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
