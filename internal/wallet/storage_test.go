package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

func TestMain(m *testing.M) {
	walletcrypto.SetScryptWorkFactor(10) // Fast for tests
	os.Exit(m.Run())
}

func newTestWallet(t *testing.T, storage *FileStorage, name string) []byte {
	t.Helper()

	w, err := NewWallet(name, "mainnet")
	require.NoError(t, err)
	seed, err := MnemonicToSeed(bip39TestVectors[0].mnemonic, "")
	require.NoError(t, err)
	require.NoError(t, storage.Save(w, seed, []byte("pw")))
	return seed
}

func TestStorage_SaveAndLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	storage := NewFileStorage(dir)
	seed := newTestWallet(t, storage, "w1")

	info, err := os.Stat(filepath.Join(dir, "w1.wallet"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	stateInfo, err := os.Stat(storage.StateDir("w1"))
	require.NoError(t, err)
	assert.True(t, stateInfo.IsDir())

	loaded, loadedSeed, err := storage.Load("w1", []byte("pw"))
	require.NoError(t, err)
	defer loadedSeed.Destroy()

	assert.Equal(t, "w1", loaded.Name)
	assert.Equal(t, "mainnet", loaded.Chain)
	assert.Equal(t, FormatVersion, loaded.Version)
	assert.Equal(t, seed, loadedSeed.Bytes())
}

func TestStorage_LoadWrongPassword(t *testing.T) {
	t.Parallel()
	storage := NewFileStorage(t.TempDir())
	newTestWallet(t, storage, "w1")

	_, _, err := storage.Load("w1", []byte("nope"))
	require.ErrorIs(t, err, bridgeerr.ErrAuth)
}

func TestStorage_LoadNotFound(t *testing.T) {
	t.Parallel()
	storage := NewFileStorage(t.TempDir())

	_, _, err := storage.Load("missing", []byte("pw"))
	require.ErrorIs(t, err, ErrWalletNotFound)

	_, err = storage.LoadMetadata("missing")
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestStorage_SaveOverwritePrevented(t *testing.T) {
	t.Parallel()
	storage := NewFileStorage(t.TempDir())
	newTestWallet(t, storage, "w1")

	w, err := NewWallet("w1", "mainnet")
	require.NoError(t, err)
	err = storage.Save(w, []byte("other seed"), []byte("pw2"))
	require.ErrorIs(t, err, ErrWalletExists)

	// original seed still loads with the original password
	_, seed, err := storage.Load("w1", []byte("pw"))
	require.NoError(t, err)
	seed.Destroy()
}

func TestStorage_ListAndDelete(t *testing.T) {
	t.Parallel()
	storage := NewFileStorage(t.TempDir())

	names, err := storage.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	newTestWallet(t, storage, "beta")
	newTestWallet(t, storage, "alpha")

	names, err = storage.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	require.NoError(t, os.WriteFile(filepath.Join(storage.StateDir("beta"), "outputs.json"), []byte("{}"), 0o600))
	require.NoError(t, storage.Delete("beta"))

	exists, err := storage.Exists("beta")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = os.Stat(storage.StateDir("beta"))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.ErrorIs(t, storage.Delete("beta"), ErrWalletNotFound)
}

func TestStorage_LoadMetadata(t *testing.T) {
	t.Parallel()
	storage := NewFileStorage(t.TempDir())
	newTestWallet(t, storage, "meta")

	w, err := storage.LoadMetadata("meta")
	require.NoError(t, err)
	assert.Equal(t, "meta", w.Name)
	assert.False(t, w.CreatedAt.IsZero())
}

func TestValidateWalletName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		valid bool
	}{
		{"main", true},
		{"my-wallet_01", true},
		{"", false},
		{"../escape", false},
		{"has space", false},
		{string(make([]byte, 65)), false},
	}

	for _, tc := range tests {
		err := ValidateWalletName(tc.name)
		if tc.valid {
			require.NoError(t, err, tc.name)
		} else {
			require.ErrorIs(t, err, bridgeerr.ErrInvalidInput, tc.name)
		}
	}
}
