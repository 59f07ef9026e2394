// Package chaintest provides an in-memory chain node for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/keychain"
)

var (
	// ErrDoubleSpend is returned when a pushed transaction spends an unknown output.
	ErrDoubleSpend = errors.New("input not in utxo set")

	// ErrDuplicateOutput is returned when a pushed transaction recreates an existing output.
	ErrDuplicateOutput = errors.New("duplicate output commitment")
)

// Node is an in-memory chain. Pushed transactions wait in a pool until Mine.
type Node struct {
	mu       sync.Mutex
	height   uint64
	unspent  map[keychain.Point]chain.Output
	pool     []chain.Transaction
	pushed   []chain.Transaction
	failures map[string]error
	calls    map[string]int
}

var _ chain.Node = (*Node)(nil)

// New returns an empty chain at height 0.
func New() *Node {
	return &Node{
		unspent:  make(map[keychain.Point]chain.Output),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Fund mints an output owned by k at the given key index and height, as a
// coinbase or a plain payment.
func (n *Node) Fund(k *keychain.Keychain, index uint32, value, height uint64, coinbase bool) (chain.Output, error) {
	commit, err := k.Commit(value, index)
	if err != nil {
		return chain.Output{}, err
	}
	proof, err := k.SealProof(commit, value, index)
	if err != nil {
		return chain.Output{}, err
	}
	out := chain.Output{Commit: commit, Proof: proof, Height: height, Coinbase: coinbase}
	n.AddOutput(out)
	return out, nil
}

// AddOutput inserts an unspent output, raising the tip to its height if needed.
func (n *Node) AddOutput(out chain.Output) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unspent[out.Commit] = out
	n.height = max(n.height, out.Height)
}

// Spend removes an output from the unspent set.
func (n *Node) Spend(commit keychain.Point) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.unspent, commit)
}

// SetHeight moves the tip.
func (n *Node) SetHeight(h uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.height = h
}

// Mine advances the tip by blocks, including every pooled transaction in the
// first new block.
func (n *Node) Mine(blocks uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if blocks == 0 {
		return
	}
	n.height++
	for _, tx := range n.pool {
		for _, in := range tx.Inputs {
			delete(n.unspent, in)
		}
		for _, out := range tx.Outputs {
			n.unspent[out.Commit] = chain.Output{Commit: out.Commit, Proof: out.Proof, Height: n.height}
		}
	}
	n.pool = nil
	n.height += blocks - 1
}

// Fail makes every call to method return err until cleared with a nil err.
func (n *Node) Fail(method string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.failures, method)
		return
	}
	n.failures[method] = err
}

// Calls reports how many times method was invoked.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// Pushed returns every accepted transaction in push order.
func (n *Node) Pushed() []chain.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]chain.Transaction(nil), n.pushed...)
}

// Unspent reports whether commit is in the unspent set.
func (n *Node) Unspent(commit keychain.Point) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.unspent[commit]
	return ok
}

func (n *Node) enter(ctx context.Context, method string) error {
	n.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.failures[method]
}

// Tip implements chain.Node.
func (n *Node) Tip(ctx context.Context) (chain.Tip, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enter(ctx, chain.MethodGetTip); err != nil {
		return chain.Tip{}, err
	}
	return chain.Tip{Height: n.height, Hash: fmt.Sprintf("%064x", n.height)}, nil
}

// OutputsByHeight implements chain.Node.
func (n *Node) OutputsByHeight(ctx context.Context, start, end uint64) ([]chain.Output, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enter(ctx, chain.MethodOutputsByHeight); err != nil {
		return nil, err
	}
	var outs []chain.Output
	for _, out := range n.unspent {
		if out.Height >= start && out.Height < end {
			outs = append(outs, out)
		}
	}
	sortOutputs(outs)
	return outs, nil
}

// OutputsByCommit implements chain.Node.
func (n *Node) OutputsByCommit(ctx context.Context, commits []keychain.Point) ([]chain.Output, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enter(ctx, chain.MethodOutputsByCommit); err != nil {
		return nil, err
	}
	var outs []chain.Output
	for _, c := range commits {
		if out, ok := n.unspent[c]; ok {
			outs = append(outs, out)
		}
	}
	sortOutputs(outs)
	return outs, nil
}

// PushTransaction implements chain.Node. Inputs must be unspent and not
// already claimed by a pooled transaction.
func (n *Node) PushTransaction(ctx context.Context, tx chain.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enter(ctx, chain.MethodPushTransaction); err != nil {
		return err
	}

	claimed := make(map[keychain.Point]bool)
	for _, pooled := range n.pool {
		for _, in := range pooled.Inputs {
			claimed[in] = true
		}
	}
	for _, in := range tx.Inputs {
		if _, ok := n.unspent[in]; !ok || claimed[in] {
			return fmt.Errorf("%w: %s", ErrDoubleSpend, in)
		}
	}
	for _, out := range tx.Outputs {
		if _, ok := n.unspent[out.Commit]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateOutput, out.Commit)
		}
	}

	n.pool = append(n.pool, tx)
	n.pushed = append(n.pushed, tx)
	return nil
}

func sortOutputs(outs []chain.Output) {
	sort.Slice(outs, func(i, j int) bool {
		if outs[i].Height != outs[j].Height {
			return outs[i].Height < outs[j].Height
		}
		return outs[i].Commit.String() < outs[j].Commit.String()
	})
}
