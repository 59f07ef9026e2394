package backup_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/mwcbridge/internal/backup"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/wallet"
	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestMain(m *testing.M) {
	walletcrypto.SetScryptWorkFactor(10) // Fast for tests
	os.Exit(m.Run())
}

type fixture struct {
	storage *wallet.FileStorage
	svc     *backup.Service
	seed    []byte
}

// newFixture creates a wallet named "main" whose output store has advanced
// to key index 7.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	storage := wallet.NewFileStorage(filepath.Join(root, "wallets"))

	seed, err := wallet.MnemonicToSeed(testMnemonic, "")
	require.NoError(t, err)

	w, err := wallet.NewWallet("main", "mwc")
	require.NoError(t, err)
	require.NoError(t, storage.Save(w, seed, []byte("password123")))

	store := outputs.New(storage.StateDir("main"))
	store.AdvanceIndex(6)
	require.NoError(t, store.Save())

	return &fixture{
		storage: storage,
		svc:     backup.NewService(filepath.Join(root, "backups"), storage),
		seed:    seed,
	}
}

func TestCreateAndVerify(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	b, path, err := f.svc.Create("main", []byte("password123"))
	require.NoError(t, err)
	assert.Equal(t, backup.Extension, filepath.Ext(path))
	assert.Equal(t, "main", b.Manifest.WalletName)
	assert.Equal(t, "mwc", b.Manifest.Chain)
	assert.Equal(t, uint32(7), b.Manifest.NextIndex)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	m, err := f.svc.Verify(path)
	require.NoError(t, err)
	assert.Equal(t, b.Manifest.WalletName, m.WalletName)

	names, err := f.svc.List()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(path)}, names)

	// Bare file names resolve inside the backup directory.
	_, err = f.svc.Verify(filepath.Base(path))
	require.NoError(t, err)
}

func TestCreateWrongPassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, _, err := f.svc.Create("main", []byte("wrong-password"))
	require.Error(t, err)
	assert.Equal(t, "AUTH_FAILED", bridgeerr.Code(err))
}

func TestRestore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, path, err := f.svc.Create("main", []byte("password123"))
	require.NoError(t, err)

	t.Run("existing name is refused", func(t *testing.T) {
		_, err := f.svc.Restore(path, []byte("password123"), "")
		require.Error(t, err)
		assert.Equal(t, "WALLET_EXISTS", bridgeerr.Code(err))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.Restore(path, []byte("nope"), "copy")
		require.Error(t, err)
		assert.Equal(t, "AUTH_FAILED", bridgeerr.Code(err))
	})

	t.Run("new name", func(t *testing.T) {
		m, err := f.svc.Restore(path, []byte("password123"), "copy")
		require.NoError(t, err)
		assert.Equal(t, "copy", m.WalletName)

		w, seed, err := f.storage.Load("copy", []byte("password123"))
		require.NoError(t, err)
		defer seed.Destroy()
		assert.Equal(t, "copy", w.Name)
		assert.Equal(t, f.seed, seed.Bytes())

		store, err := outputs.Open(f.storage.StateDir("copy"))
		require.NoError(t, err)
		assert.Equal(t, uint32(7), store.NextIndex())
	})
}

func TestReadFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, path, err := f.svc.Create("main", []byte("password123"))
	require.NoError(t, err)

	data, err := os.ReadFile(path) //nolint:gosec // test file
	require.NoError(t, err)
	var doc backup.Backup
	require.NoError(t, json.Unmarshal(data, &doc))

	tampered := doc
	tampered.EncryptedData = append([]byte{}, doc.EncryptedData...)
	tampered.EncryptedData[0] ^= 0xff
	future := doc
	future.Version = backup.FormatVersion + 1

	write := func(t *testing.T, v any) string {
		t.Helper()
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		p := filepath.Join(t.TempDir(), "bad"+backup.Extension)
		require.NoError(t, os.WriteFile(p, raw, 0o600))
		return p
	}

	tests := []struct {
		name    string
		path    string
		code    string
		wantErr error
	}{
		{"missing file", filepath.Join(t.TempDir(), "gone.mwcbackup"), "NOT_FOUND", backup.ErrBackupNotFound},
		{"checksum mismatch", write(t, tampered), "INVALID_INPUT", backup.ErrBackupCorrupted},
		{"unknown version", write(t, future), "INVALID_INPUT", backup.ErrInvalidFormat},
		{"not json", write(t, json.RawMessage(`"text"`)), "INVALID_INPUT", backup.ErrInvalidFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Verify(tc.path)
			require.Error(t, err)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.code, bridgeerr.Code(err))
		})
	}
}

func TestListEmpty(t *testing.T) {
	t.Parallel()
	svc := backup.NewService(filepath.Join(t.TempDir(), "none"), wallet.NewFileStorage(t.TempDir()))
	names, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
