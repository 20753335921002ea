package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateSecretGeneratesOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	log := logrus.NewEntry(logrus.StandardLogger())

	secret, err := LoadOrCreateSecret(dir, log)
	require.NoError(t, err)
	require.Len(t, secret, secretSize)

	fi, err := os.Stat(filepath.Join(dir, "token_secret"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestLoadOrCreateSecretReadsExisting(t *testing.T) {
	dir := t.TempDir()
	log := logrus.NewEntry(logrus.StandardLogger())

	first, err := LoadOrCreateSecret(dir, log)
	require.NoError(t, err)

	second, err := LoadOrCreateSecret(dir, log)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestLoadOrCreateSecretMintedTokensVerify(t *testing.T) {
	dir := t.TempDir()
	log := logrus.NewEntry(logrus.StandardLogger())

	secret, err := LoadOrCreateSecret(dir, log)
	require.NoError(t, err)

	a, err := New(Config{Secret: secret, Store: newMemStore(), Log: log})
	require.NoError(t, err)

	tok, err := a.Mint("u-1", TypeAccess, 0)
	require.NoError(t, err)

	claims, err := a.Validate(tok, TypeAccess)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject)
}
