// Package outputs provides the persistent output set of a wallet session and
// the coin selection run over it.
package outputs

import (
	"time"

	"github.com/google/uuid"

	"github.com/mrz1836/mwcbridge/internal/keychain"
)

// Status is the lifecycle state of a wallet output.
type Status string

// Output statuses.
const (
	// StatusUnconfirmed is an output created by a slate that the chain has
	// not reported yet.
	StatusUnconfirmed Status = "unconfirmed"
	// StatusUnspent is an output the chain reports as unspent.
	StatusUnspent Status = "unspent"
	// StatusLocked is an unspent output reserved as input of a pending slate.
	StatusLocked Status = "locked"
	// StatusSpent is an output consumed by a finalized slate or missing from the chain.
	StatusSpent Status = "spent"
)

// Output is a wallet-owned commitment.
type Output struct {
	Commit   keychain.Point `json:"commit"`
	KeyIndex uint32         `json:"key_index"`
	Value    uint64         `json:"value"` // nanoMWC
	Height   uint64         `json:"height"`
	Coinbase bool           `json:"coinbase,omitempty"`
	Status   Status         `json:"status"`

	// SlateID is the slate that created an unconfirmed output or holds a lock
	// on an unspent one.
	SlateID uuid.UUID `json:"slate_id,omitzero"`

	// Finalized is set on unconfirmed outputs once their slate is finalized.
	Finalized bool `json:"finalized,omitempty"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

// Key returns the store key for this output (hex commitment).
func (o *Output) Key() string {
	return o.Commit.String()
}

// Confirmations returns the number of blocks including and above the one that
// confirmed the output. Unconfirmed outputs have none.
func (o *Output) Confirmations(tip uint64) uint64 {
	if o.Height == 0 || o.Height > tip {
		return 0
	}
	return tip - o.Height + 1
}

// Mature reports whether a coinbase output has passed the maturity window.
// Regular outputs are always mature.
func (o *Output) Mature(tip, maturity uint64) bool {
	return !o.Coinbase || o.Confirmations(tip) >= maturity
}

// Spendable reports whether the output may be selected as a transaction input.
func (o *Output) Spendable(tip, minConfirmations, maturity uint64) bool {
	if o.Status != StatusUnspent {
		return false
	}
	return o.Confirmations(tip) >= max(minConfirmations, 1) && o.Mature(tip, maturity)
}

// Summary is the balance breakdown of an output set, in nanoMWC.
type Summary struct {
	// Total is what the wallet owns once pending confirmations land:
	// spendable, awaiting confirmation and immature amounts.
	Total uint64 `json:"total"`

	Spendable            uint64 `json:"spendable"`
	AwaitingConfirmation uint64 `json:"awaiting_confirmation"`
	AwaitingFinalization uint64 `json:"awaiting_finalization"`
	Immature             uint64 `json:"immature"`
	Locked               uint64 `json:"locked"`
}

// Summarize computes the balance breakdown at tip. Unspent outputs below
// minConfirmations count as awaiting confirmation.
func Summarize(outs []Output, tip, minConfirmations, maturity uint64) Summary {
	var s Summary
	for i := range outs {
		o := &outs[i]
		switch o.Status {
		case StatusUnspent:
			switch {
			case !o.Mature(tip, maturity):
				s.Immature += o.Value
			case o.Spendable(tip, minConfirmations, maturity):
				s.Spendable += o.Value
			default:
				s.AwaitingConfirmation += o.Value
			}
		case StatusUnconfirmed:
			if o.Finalized {
				s.AwaitingConfirmation += o.Value
			} else {
				s.AwaitingFinalization += o.Value
			}
		case StatusLocked:
			s.Locked += o.Value
		case StatusSpent:
		}
	}
	s.Total = s.Spendable + s.AwaitingConfirmation + s.Immature
	return s
}
