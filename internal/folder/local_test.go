package folder

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalSourceScanFindsFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0o644))

	src := NewLocalSource(root)

	entries, err := src.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	paths := map[string]int64{}
	for _, e := range entries {
		paths[e.Path] = e.Size
	}

	require.Equal(t, int64(5), paths["a.txt"])
	require.Equal(t, int64(5), paths["sub/b.txt"])
}

func TestLocalSourceOpenReadsContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	src := NewLocalSource(root)

	r, err := src.Open(context.Background(), "a.txt")
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestLocalSinkWriteDeleteList(t *testing.T) {
	root := t.TempDir()
	sink := NewLocalSink(root)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, "pair1", "a/b.txt", bytes.NewReader([]byte("data"))))

	entries, err := sink.List(ctx, "pair1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a/b.txt", entries[0].Path)

	require.NoError(t, sink.Delete(ctx, "pair1", "a/b.txt"))

	entries, err = sink.List(ctx, "pair1")
	require.NoError(t, err)
	require.Len(t, entries, 0)
}

func TestLocalSourceScanRejectsNosyncGuard(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, nosyncFileName), nil, 0o644))

	src := NewLocalSource(root)

	_, err := src.Scan(context.Background())
	require.Error(t, err)
}
