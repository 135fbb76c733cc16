package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFileStore_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "artifacts")
	_, err := NewFileStore(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = NewFileStore(" ")
	require.Error(t, err)
}

func TestFileStore_PutBlobAndNote(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	blobLoc, err := s.PutBlob(context.Background(), "juan-perez_20260304_150607.jpeg", []byte("img"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "juan-perez_20260304_150607.jpeg"), blobLoc)

	noteLoc, err := s.PutNote(context.Background(), "juan-perez_20260304_150607.txt", "fractura de tibia")
	require.NoError(t, err)

	got, err := os.ReadFile(blobLoc)
	require.NoError(t, err)
	require.Equal(t, []byte("img"), got)
	got, err = os.ReadFile(noteLoc)
	require.NoError(t, err)
	require.Equal(t, "fractura de tibia", string(got))
}

func TestFileStore_OverwriteIsLastWriteWins(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.PutNote(context.Background(), "p_1.txt", "first")
	require.NoError(t, err)
	loc, err := s.PutNote(context.Background(), "p_1.txt", "second")
	require.NoError(t, err)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(loc))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../evil.txt", "a/b.txt", ".."} {
		_, err := s.PutNote(context.Background(), key, "x")
		require.Error(t, err, "key=%q", key)
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.PutBlob(ctx, "p_1.png", []byte("img"), "image/png")
	require.ErrorIs(t, err, context.Canceled)
}
