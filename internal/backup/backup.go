package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mrz1836/mwcbridge/internal/fileutil"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/wallet"
	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const (
	// Extension is the file extension of backups.
	Extension = ".mwcbackup"

	filePermissions = 0o600
)

// Service creates, verifies and restores backups of the wallets in storage.
type Service struct {
	dir     string
	storage wallet.Storage
}

// NewService returns a service writing backups to dir.
func NewService(dir string, storage wallet.Storage) *Service {
	return &Service{dir: dir, storage: storage}
}

// Dir returns the backup directory.
func (s *Service) Dir() string { return s.dir }

// Create writes a backup of the named wallet and returns it with its path.
// The password unlocks the wallet and encrypts the backup; the caller zeroes it.
func (s *Service) Create(name string, password []byte) (*Backup, string, error) {
	wlt, seed, err := s.storage.Load(name, password)
	if err != nil {
		return nil, "", err
	}
	defer seed.Destroy()

	store, err := outputs.Open(s.storage.StateDir(name))
	if err != nil {
		return nil, "", bridgeerr.Wrap(err, "reading output store")
	}
	snapshot := store.Snapshot()

	walletJSON, err := json.Marshal(wlt)
	if err != nil {
		return nil, "", fmt.Errorf("encoding wallet metadata: %w", err)
	}
	plain, err := json.Marshal(Payload{Seed: seed.Bytes(), Wallet: walletJSON, Outputs: snapshot})
	if err != nil {
		return nil, "", fmt.Errorf("encoding backup payload: %w", err)
	}
	defer walletcrypto.ZeroBytes(plain)

	encrypted, err := walletcrypto.Encrypt(plain, string(password))
	if err != nil {
		return nil, "", fmt.Errorf("encrypting backup: %w", err)
	}

	b := NewBackup(NewManifest(name, wlt.Chain, snapshot), encrypted)
	path, err := s.write(b)
	if err != nil {
		return nil, "", err
	}
	return b, path, nil
}

// Verify checks the integrity of a backup without decrypting it.
func (s *Service) Verify(path string) (*Manifest, error) {
	b, err := s.read(path)
	if err != nil {
		return nil, err
	}
	return &b.Manifest, nil
}

// Restore recreates the wallet in a backup under newName, or under its
// original name when newName is empty. It never overwrites an existing
// wallet.
func (s *Service) Restore(path string, password []byte, newName string) (*Manifest, error) {
	b, err := s.read(path)
	if err != nil {
		return nil, err
	}

	plain, err := walletcrypto.Decrypt(b.EncryptedData, string(password))
	if err != nil {
		if errors.Is(err, walletcrypto.ErrWrongPassword) {
			return nil, bridgeerr.WithDetails(bridgeerr.ErrAuth, map[string]string{"backup": path})
		}
		return nil, err
	}
	defer walletcrypto.ZeroBytes(plain)

	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, invalid(fmt.Errorf("%w: %w", ErrInvalidFormat, err))
	}
	defer walletcrypto.ZeroBytes(p.Seed)

	var wlt wallet.Wallet
	if err := json.Unmarshal(p.Wallet, &wlt); err != nil {
		return nil, invalid(fmt.Errorf("%w: wallet metadata: %w", ErrInvalidFormat, err))
	}
	if newName != "" {
		wlt.Name = newName
	}
	if err := s.storage.Save(&wlt, p.Seed, password); err != nil {
		return nil, err
	}

	if p.Outputs != nil {
		store := outputs.New(s.storage.StateDir(wlt.Name))
		store.Restore(p.Outputs)
		if err := store.Save(); err != nil {
			return nil, bridgeerr.Wrap(err, "writing restored output store")
		}
	}

	m := b.Manifest
	m.WalletName = wlt.Name
	return &m, nil
}

// List returns the backup file names in the backup directory.
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == Extension {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Path resolves a backup file name inside the backup directory. Paths with a
// directory component are returned unchanged.
func (s *Service) Path(name string) string {
	if filepath.Base(name) != name {
		return name
	}
	return filepath.Join(s.dir, name)
}

func (s *Service) write(b *Backup) (string, error) {
	if err := fileutil.EnsurePrivateDir(s.dir); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding backup: %w", err)
	}

	name := fmt.Sprintf("%s-%s%s", b.Manifest.WalletName, b.Manifest.CreatedAt.Format("2006-01-02-150405.000"), Extension)
	path := filepath.Join(s.dir, name)
	if err := fileutil.WriteAtomic(path, data, filePermissions); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return path, nil
}

// read loads and validates a backup file.
func (s *Service) read(path string) (*Backup, error) {
	data, err := os.ReadFile(s.Path(path)) //nolint:gosec // G304: user-chosen backup file
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bridgeerr.WithDetails(bridgeerr.Kind(bridgeerr.ErrNotFound, ErrBackupNotFound),
				map[string]string{"backup": path})
		}
		return nil, fmt.Errorf("reading backup: %w", err)
	}

	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, invalid(fmt.Errorf("%w: %w", ErrInvalidFormat, err))
	}
	if err := b.Validate(); err != nil {
		return nil, invalid(err)
	}
	return &b, nil
}

func invalid(err error) error {
	return bridgeerr.WithSuggestion(bridgeerr.Kind(bridgeerr.ErrInvalidInput, err),
		"the backup file is damaged; use another copy or recover from the recovery phrase")
}
