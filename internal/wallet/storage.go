package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mrz1836/mwcbridge/internal/fileutil"
	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// walletFileExtension is the extension for wallet files.
const walletFileExtension = ".wallet"

// Storage defines wallet persistence: metadata plus the encrypted seed.
type Storage interface {
	// Save encrypts and writes a new wallet. It never overwrites.
	Save(wallet *Wallet, seed, password []byte) error

	// Load reads a wallet and decrypts its seed into locked memory.
	Load(name string, password []byte) (*Wallet, *walletcrypto.SecureBytes, error)

	// Exists checks if a wallet exists.
	Exists(name string) (bool, error)

	// List returns all wallet names, sorted.
	List() ([]string, error)

	// Delete removes the wallet file and its state directory.
	Delete(name string) error

	// StateDir is the directory holding the wallet's output store and log.
	StateDir(name string) string
}

// walletFile represents the on-disk wallet structure.
type walletFile struct {
	Wallet        *Wallet `json:"wallet"`
	EncryptedSeed []byte  `json:"encrypted_seed"`
}

// FileStorage implements Storage using the filesystem:
//
//	<base>/<name>.wallet   metadata + age-encrypted seed
//	<base>/<name>/         per-wallet state
type FileStorage struct {
	basePath string
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates a new file-based storage.
func NewFileStorage(basePath string) *FileStorage {
	return &FileStorage{basePath: basePath}
}

// Save encrypts and writes a wallet to storage.
// The password should be zeroed by the caller after this call returns.
func (s *FileStorage) Save(wallet *Wallet, seed, password []byte) error {
	if err := ValidateWalletName(wallet.Name); err != nil {
		return err
	}

	exists, err := s.Exists(wallet.Name)
	if err != nil {
		return fmt.Errorf("checking wallet existence: %w", err)
	}
	if exists {
		return bridgeerr.WithDetails(ErrWalletExists, map[string]string{"wallet": wallet.Name})
	}

	if err := fileutil.EnsurePrivateDir(s.basePath); err != nil {
		return err
	}

	encryptedSeed, err := walletcrypto.Encrypt(seed, string(password))
	if err != nil {
		return fmt.Errorf("encrypting seed: %w", err)
	}

	data, err := json.MarshalIndent(walletFile{Wallet: wallet, EncryptedSeed: encryptedSeed}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling wallet: %w", err)
	}

	if err := fileutil.WriteAtomic(s.walletPath(wallet.Name), data, fileutil.PrivateFileMode); err != nil {
		return fmt.Errorf("writing wallet file: %w", err)
	}

	return fileutil.EnsurePrivateDir(s.StateDir(wallet.Name))
}

// Load reads and decrypts a wallet from storage.
// A wrong password is reported as an authentication error.
func (s *FileStorage) Load(name string, password []byte) (*Wallet, *walletcrypto.SecureBytes, error) {
	wf, err := s.readFile(name)
	if err != nil {
		return nil, nil, err
	}

	seed, err := walletcrypto.DecryptSecure(wf.EncryptedSeed, string(password))
	if err != nil {
		if errors.Is(err, walletcrypto.ErrWrongPassword) {
			return nil, nil, bridgeerr.WithDetails(bridgeerr.ErrAuth, map[string]string{"wallet": name})
		}
		return nil, nil, err
	}

	return wf.Wallet, seed, nil
}

// LoadMetadata reads wallet metadata without decrypting the seed.
func (s *FileStorage) LoadMetadata(name string) (*Wallet, error) {
	wf, err := s.readFile(name)
	if err != nil {
		return nil, err
	}
	return wf.Wallet, nil
}

// Exists checks if a wallet exists.
func (s *FileStorage) Exists(name string) (bool, error) {
	if err := ValidateWalletName(name); err != nil {
		return false, err
	}

	_, err := os.Stat(s.walletPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns all wallet names, sorted.
func (s *FileStorage) List() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading wallet directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), walletFileExtension); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// Delete removes the wallet file and its state directory.
func (s *FileStorage) Delete(name string) error {
	exists, err := s.Exists(name)
	if err != nil {
		return err
	}
	if !exists {
		return bridgeerr.WithDetails(ErrWalletNotFound, map[string]string{"wallet": name})
	}

	if err := os.Remove(s.walletPath(name)); err != nil {
		return fmt.Errorf("removing wallet file: %w", err)
	}
	return fileutil.RemoveIfExists(s.StateDir(name))
}

// StateDir returns <base>/<name>.
func (s *FileStorage) StateDir(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *FileStorage) readFile(name string) (*walletFile, error) {
	exists, err := s.Exists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, bridgeerr.WithDetails(ErrWalletNotFound, map[string]string{"wallet": name})
	}

	//nolint:gosec // G304: Path validated by ValidateWalletName
	data, err := os.ReadFile(s.walletPath(name))
	if err != nil {
		return nil, fmt.Errorf("reading wallet file: %w", err)
	}

	var wf walletFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing wallet file: %w", err)
	}
	if wf.Wallet == nil {
		return nil, fmt.Errorf("parsing wallet file: missing metadata")
	}

	return &wf, nil
}

// walletPath returns the wallet file path. Names are validated by
// ValidateWalletName before reaching here, so no traversal is possible.
func (s *FileStorage) walletPath(name string) string {
	return filepath.Join(s.basePath, name+walletFileExtension)
}
