package wallet

import (
	"github.com/tyler-smith/go-bip39"

	"github.com/mrz1836/mwcbridge/internal/shamir"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// SplitMnemonic splits the entropy behind a recovery phrase into n shares,
// any k of which rebuild the phrase with CombineShares.
func SplitMnemonic(mnemonic string, n, k int) ([]string, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	entropy, err := bip39.EntropyFromMnemonic(NormalizeMnemonicInput(mnemonic))
	if err != nil {
		return nil, bridgeerr.Kind(ErrInvalidMnemonic, err)
	}
	defer clear(entropy)

	shares, err := shamir.Split(entropy, n, k)
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidInput, err)
	}
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = s.String()
	}
	return out, nil
}

// CombineShares rebuilds a recovery phrase from its shares.
func CombineShares(texts []string) (string, error) {
	shares := make([]shamir.Share, 0, len(texts))
	for _, t := range texts {
		s, err := shamir.ParseShare(t)
		if err != nil {
			return "", bridgeerr.Kind(bridgeerr.ErrInvalidInput, err)
		}
		shares = append(shares, s)
	}

	entropy, err := shamir.Combine(shares)
	if err != nil {
		return "", bridgeerr.WithSuggestion(bridgeerr.Kind(bridgeerr.ErrInvalidInput, err),
			"supply at least the threshold number of shares from the same split")
	}
	defer clear(entropy)

	// Mixed or damaged shares of the right shape yield entropy of a valid
	// length but a phrase whose words do not match what was split.
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", bridgeerr.Kind(ErrInvalidMnemonic, err)
	}
	return mnemonic, nil
}
