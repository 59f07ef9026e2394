package query

import (
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/outputs"
)

// Balance is the balance breakdown of a wallet, in nanoMWC.
type Balance struct {
	outputs.Summary

	TipHeight        uint64 `json:"tip_height"`
	MinConfirmations uint64 `json:"min_confirmations"`

	// Refreshed is set when tracked outputs were re-synced with the node
	// before computing the balance.
	Refreshed bool `json:"refreshed"`
}

// FeeOption is the outcome of a dry-run selection with one strategy.
type FeeOption struct {
	Strategy outputs.Strategy `json:"strategy"`
	Fee      uint64           `json:"fee"`
	Inputs   int              `json:"inputs"`
	Total    uint64           `json:"total"`
	Change   uint64           `json:"change"`
}

// FeeEstimate lists the strategies that can pay an amount.
type FeeEstimate struct {
	Amount  uint64      `json:"amount"`
	Options []FeeOption `json:"options"`
}

// AddressValidation is the result of ValidateAddress.
type AddressValidation struct {
	Address string               `json:"address"`
	Valid   bool                 `json:"valid"`
	Kind    keychain.AddressKind `json:"kind,omitempty"`
	Domain  string               `json:"domain,omitempty"`
	Reason  string               `json:"reason,omitempty"`
}
