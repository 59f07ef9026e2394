package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/metrics"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Event kinds written by session operations.
const (
	EventCreated   = "wallet_created"
	EventRecovered = "wallet_recovered"
	EventScan      = "scan"
	EventRefresh   = "refresh"
)

// ScanOutputs rebuilds the output set from chain data over heights
// [start, start+count). A zero count scans to the tip. Outputs are identified
// by rewinding their proofs; running the same scan twice changes nothing.
func (s *Session) ScanOutputs(ctx context.Context, start, count uint64) (result outputs.ScanResult, err error) {
	defer func() { metrics.Global.RecordWalletOp("scan", err) }()

	if start == 0 {
		start = 1
	}
	end := start + count
	var tipHeight uint64
	if count == 0 {
		tip, err := s.Tip(ctx)
		if err != nil {
			return outputs.ScanResult{}, err
		}
		tipHeight = tip.Height
		end = tip.Height + 1
	}
	if end <= start {
		return outputs.ScanResult{}, bridgeerr.Kindf(bridgeerr.ErrInvalidInput, "empty scan range [%d, %d)", start, end)
	}

	batch := max(s.cfg.Wallet.ScanBatchSize, 1)
	var onChain []chain.Output
	for from := start; from < end; from += batch {
		outs, err := s.node.OutputsByHeight(ctx, from, min(from+batch, end))
		if err != nil {
			return outputs.ScanResult{}, networkError(err)
		}
		onChain = append(onChain, outs...)
	}

	err = s.Write(func(st *State) error {
		found, err := identify(st.Keys, onChain)
		if err != nil {
			return err
		}
		result = st.Outputs.Reconcile(start, end, found)
		if tipHeight > 0 {
			st.Outputs.SetTipHeight(tipHeight)
		}
		return st.Log.Append(txlog.Event{
			Kind:   EventScan,
			Detail: fmt.Sprintf("heights [%d, %d): found %d, new %d, spent %d", start, end, result.Found, result.New, result.NowSpent),
			At:     time.Now().UTC(),
		})
	})
	if err != nil {
		return outputs.ScanResult{}, err
	}

	s.log.WithField("start", start).WithField("end", end).
		WithField("found", result.Found).WithField("new", result.New).Info("output scan complete")
	return result, nil
}

// Refresh re-syncs every tracked output with the node and records its tip.
func (s *Session) Refresh(ctx context.Context) (result outputs.ScanResult, err error) {
	defer func() { metrics.Global.RecordWalletOp("refresh", err) }()

	tip, err := s.Tip(ctx)
	if err != nil {
		return outputs.ScanResult{}, err
	}

	var tracked []keychain.Point
	if err := s.Read(func(st *State) error {
		tracked = st.Outputs.Tracked()
		return nil
	}); err != nil {
		return outputs.ScanResult{}, err
	}

	var onChain []chain.Output
	if len(tracked) > 0 {
		if onChain, err = s.node.OutputsByCommit(ctx, tracked); err != nil {
			return outputs.ScanResult{}, networkError(err)
		}
	}

	err = s.Write(func(st *State) error {
		st.Outputs.SetTipHeight(tip.Height)
		if len(tracked) == 0 {
			return nil
		}
		found := make([]outputs.Output, 0, len(onChain))
		for _, c := range onChain {
			o, ok := st.Outputs.Get(c.Commit)
			if !ok {
				continue
			}
			o.Height = c.Height
			o.Coinbase = c.Coinbase
			found = append(found, o)
		}
		result = st.Outputs.Refresh(tracked, found)
		if result.Confirmed == 0 && result.NowSpent == 0 {
			return nil
		}
		return st.Log.Append(txlog.Event{
			Kind:   EventRefresh,
			Detail: fmt.Sprintf("confirmed %d, spent %d", result.Confirmed, result.NowSpent),
			At:     time.Now().UTC(),
		})
	})
	return result, err
}

// identify keeps the chain outputs whose proofs rewind with our keys.
func identify(keys *keychain.Keychain, onChain []chain.Output) ([]outputs.Output, error) {
	var found []outputs.Output
	for _, c := range onChain {
		value, index, err := keys.RewindProof(c.Commit, c.Proof)
		if errors.Is(err, keychain.ErrNotOurs) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, outputs.Output{
			Commit:   c.Commit,
			KeyIndex: index,
			Value:    value,
			Height:   c.Height,
			Coinbase: c.Coinbase,
		})
	}
	return found, nil
}
