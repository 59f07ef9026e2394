// Package backup writes and restores encrypted wallet backups. A backup holds
// the wallet seed, its metadata and a snapshot of its output store, so a
// restored wallet has its balance before the first chain scan.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mrz1836/mwcbridge/internal/outputs"
)

var (
	// ErrBackupNotFound indicates the backup file was not found.
	ErrBackupNotFound = errors.New("backup file not found")

	// ErrBackupCorrupted indicates the backup checksum failed.
	ErrBackupCorrupted = errors.New("backup corrupted: checksum mismatch")

	// ErrInvalidFormat indicates the backup format is invalid.
	ErrInvalidFormat = errors.New("invalid backup format")
)

// FormatVersion is the current backup format version.
const FormatVersion = 1

// Backup is the on-disk backup document.
type Backup struct {
	Version  int      `json:"version"`
	Manifest Manifest `json:"manifest"`

	// EncryptedData is the age scrypt encrypted Payload.
	EncryptedData []byte `json:"encrypted_data"`

	// Checksum is the hex SHA-256 of EncryptedData.
	Checksum string `json:"checksum"`
}

// Manifest describes a backup without decrypting it.
type Manifest struct {
	WalletName       string    `json:"wallet_name"`
	Chain            string    `json:"chain"`
	CreatedAt        time.Time `json:"created_at"`
	Outputs          int       `json:"outputs"`
	NextIndex        uint32    `json:"next_index"`
	EncryptionMethod string    `json:"encryption_method"`
}

// Payload is the decrypted content of a backup.
type Payload struct {
	Seed    []byte          `json:"seed"`
	Wallet  json.RawMessage `json:"wallet"`
	Outputs *outputs.File   `json:"outputs"`
}

// NewManifest describes a backup of walletName taken now.
func NewManifest(walletName, chain string, snapshot *outputs.File) Manifest {
	m := Manifest{
		WalletName:       walletName,
		Chain:            chain,
		CreatedAt:        time.Now().UTC(),
		EncryptionMethod: "age-scrypt",
	}
	if snapshot != nil {
		m.Outputs = len(snapshot.Outputs)
		m.NextIndex = snapshot.NextIndex
	}
	return m
}

// CalculateChecksum computes the hex SHA-256 of data.
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChecksum checks data against the expected checksum.
func VerifyChecksum(data []byte, expected string) error {
	if actual := CalculateChecksum(data); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrBackupCorrupted, expected, actual)
	}
	return nil
}

// NewBackup wraps encrypted data with its manifest and checksum.
func NewBackup(manifest Manifest, encryptedData []byte) *Backup {
	return &Backup{
		Version:       FormatVersion,
		Manifest:      manifest,
		EncryptedData: encryptedData,
		Checksum:      CalculateChecksum(encryptedData),
	}
}

// Validate checks the backup for consistency.
func (b *Backup) Validate() error {
	if b.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, b.Version)
	}
	if b.Manifest.WalletName == "" {
		return fmt.Errorf("%w: missing wallet name", ErrInvalidFormat)
	}
	if len(b.EncryptedData) == 0 {
		return fmt.Errorf("%w: no encrypted data", ErrInvalidFormat)
	}
	return VerifyChecksum(b.EncryptedData, b.Checksum)
}
