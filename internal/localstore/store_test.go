package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "guestUserId")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "guestUserId", "g1"))
	require.NoError(t, s.Set(ctx, "guestUserId", "g2"))

	v, err := s.Get(ctx, "guestUserId")
	require.NoError(t, err)
	assert.Equal(t, "g2", v)

	require.NoError(t, s.Delete(ctx, "guestUserId"))
	require.NoError(t, s.Delete(ctx, "guestUserId"))

	_, err = s.Get(ctx, "guestUserId")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "console.db")
	s, err := NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.db")
	s, err := NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", "v"))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "etcd"}, zap.NewNop())
	assert.Error(t, err)
}
