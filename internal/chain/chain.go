// Package chain is the wallet's view of the MWC chain: a node oracle for the
// tip, output lookups and transaction submission, plus amount formatting.
package chain

import (
	"context"

	"github.com/mrz1836/mwcbridge/internal/keychain"
)

// Tip is the node's view of the chain head.
type Tip struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash,omitempty"`
}

// Output is an unspent output as reported by the node.
type Output struct {
	Commit   keychain.Point `json:"commit"`
	Proof    []byte         `json:"proof"`
	Height   uint64         `json:"height"`
	Coinbase bool           `json:"coinbase"`
}

// TxOutput is an output of a transaction being posted.
type TxOutput struct {
	Commit keychain.Point `json:"commit"`
	Proof  []byte         `json:"proof"`
}

// TxKernel is the signed kernel of a transaction being posted.
type TxKernel struct {
	Excess     keychain.Point  `json:"excess"`
	NonceSum   keychain.Point  `json:"nonce_sum"`
	Signature  keychain.Scalar `json:"signature"`
	Fee        uint64          `json:"fee"`
	LockHeight uint64          `json:"lock_height"`
}

// Transaction is a finalized transaction ready for the node.
type Transaction struct {
	Offset  keychain.Scalar  `json:"offset"`
	Inputs  []keychain.Point `json:"inputs"`
	Outputs []TxOutput       `json:"outputs"`
	Kernel  TxKernel         `json:"kernel"`
}

// Node is the chain oracle a wallet session talks to.
type Node interface {
	// Tip returns the current chain head.
	Tip(ctx context.Context) (Tip, error)

	// OutputsByHeight returns the unspent outputs created in heights [start, end).
	OutputsByHeight(ctx context.Context, start, end uint64) ([]Output, error)

	// OutputsByCommit returns the unspent outputs among commits. Commitments
	// the node does not know, or knows as spent, are omitted.
	OutputsByCommit(ctx context.Context, commits []keychain.Point) ([]Output, error)

	// PushTransaction submits a transaction to the node's pool. It is never retried.
	PushTransaction(ctx context.Context, tx Transaction) error
}
