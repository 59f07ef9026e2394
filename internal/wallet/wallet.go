package wallet

import (
	"regexp"
	"time"

	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// FormatVersion is the current wallet file format version.
const FormatVersion = 1

var (
	// ErrWalletNotFound indicates the wallet does not exist.
	ErrWalletNotFound = bridgeerr.ErrWalletNotFound

	// ErrWalletExists indicates a wallet with that name already exists.
	ErrWalletExists = bridgeerr.ErrWalletExists

	// ErrInvalidWalletName indicates the wallet name is invalid.
	ErrInvalidWalletName = bridgeerr.WithSuggestion(bridgeerr.ErrInvalidInput, "wallet name must be 1-64 alphanumeric characters, underscores, or hyphens")

	// walletNameRegex validates wallet names: alphanumeric + underscore + hyphen, 1-64 chars.
	walletNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

// Wallet is the public metadata stored next to the encrypted seed.
type Wallet struct {
	Name      string    `json:"name"`
	Chain     string    `json:"chain"`
	CreatedAt time.Time `json:"created_at"`

	// Recovered is set for wallets rebuilt from a recovery phrase.
	Recovered bool `json:"recovered,omitempty"`

	Version int `json:"version"`
}

// NewWallet validates name and returns fresh metadata.
func NewWallet(name, chain string) (*Wallet, error) {
	if err := ValidateWalletName(name); err != nil {
		return nil, err
	}

	return &Wallet{
		Name:      name,
		Chain:     chain,
		CreatedAt: time.Now().UTC(),
		Version:   FormatVersion,
	}, nil
}

// ValidateWalletName checks if a wallet name is valid.
func ValidateWalletName(name string) error {
	if !walletNameRegex.MatchString(name) {
		return ErrInvalidWalletName
	}
	return nil
}
