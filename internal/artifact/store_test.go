package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func removeDBFile(dir string) error {
	return os.Remove(filepath.Join(dir, "database", "artifacts.db"))
}

func TestPutIsIdempotentOnDuplicateContent(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	payload := strings.Repeat("x", 1024)

	rec1, existed1, err := s.Put(ctx, strings.NewReader(payload), "a.bin")
	require.NoError(t, err)
	require.False(t, existed1)
	require.EqualValues(t, 1024, rec1.Size)

	rec2, existed2, err := s.Put(ctx, strings.NewReader(payload), "b.bin")
	require.NoError(t, err)
	require.True(t, existed2)
	require.Equal(t, rec1.SHA1, rec2.SHA1)
	require.Equal(t, "a.bin", rec2.Name) // first-writer's record wins

	_, data, err := s.Read(ctx, rec1.SHA1)
	require.NoError(t, err)
	require.Equal(t, payload, string(data))
}

func TestGetUnknownSHAIsNotFound(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(context.Background(), "deadbeef")
	require.Error(t, err)
}

func TestReconcileAdoptsOrphanBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	rec, _, err := s.Put(ctx, strings.NewReader("hello"), "hello.txt")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Simulate a crash that lost the DB row but kept the blob: reopening
	// over a fresh db file with the same blob directory should re-adopt it.
	require.NoError(t, removeDBFile(dir))

	s2, err := Open(dir, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, rec.SHA1)
	require.NoError(t, err)
	require.Equal(t, rec.SHA1, got.SHA1)
}
