package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "cfg"))

	_, err := s.Get(JWTSecretName)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(" JWT_Secret ", "hunter2"))
	v, err := s.Get(JWTSecretName)
	require.NoError(t, err)
	require.Equal(t, "hunter2", v)

	raw, err := os.ReadFile(filepath.Join(s.dir, fileName))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "hunter2")

	info, err := os.Stat(filepath.Join(s.dir, fileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.Delete(JWTSecretName))
	_, err = s.Get(JWTSecretName)
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, s.Put("  ", "x"))
}

func TestEnsureIsStable(t *testing.T) {
	s := NewStore(t.TempDir())
	first, err := s.Ensure(JWTSecretName)
	require.NoError(t, err)
	require.Len(t, first, 64)

	second, err := s.Ensure(JWTSecretName)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
