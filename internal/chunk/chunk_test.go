package chunk

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashEmptyInput(t *testing.T) {
	res, err := Hash(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, []string{EmptyHash}, res.ChunkHashes)
	require.Equal(t, EmptyHash, res.WholeHash)
}

func TestHashSingleChunkUnderSize(t *testing.T) {
	data := []byte("hello world")

	res, err := Hash(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.ChunkHashes, 1)

	want := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(want[:]), res.ChunkHashes[0])
	require.Equal(t, hex.EncodeToString(want[:]), res.WholeHash)
}

func TestHashMultipleChunksExactBoundary(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, Size*2)

	res, err := Hash(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.ChunkHashes, 2)

	chunk1 := sha256.Sum256(data[:Size])
	chunk2 := sha256.Sum256(data[Size:])
	require.Equal(t, hex.EncodeToString(chunk1[:]), res.ChunkHashes[0])
	require.Equal(t, hex.EncodeToString(chunk2[:]), res.ChunkHashes[1])

	whole := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(whole[:]), res.WholeHash)
}

func TestHashLastChunkShorter(t *testing.T) {
	data := bytes.Repeat([]byte{'y'}, Size+100)

	res, err := Hash(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.ChunkHashes, 2)

	lastChunk := sha256.Sum256(data[Size:])
	require.Equal(t, hex.EncodeToString(lastChunk[:]), res.ChunkHashes[1])
}

func TestHashDeterministic(t *testing.T) {
	data := []byte(strings.Repeat("abc", 1000))

	r1, err := Hash(bytes.NewReader(data))
	require.NoError(t, err)

	r2, err := Hash(bytes.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, r1, r2)
}
