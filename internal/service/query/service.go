// Package query answers read-only questions about a wallet session and the
// chain: balances, fees, addresses and the transaction log.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Canceller cancels a slate. The transaction service implements it.
type Canceller interface {
	Cancel(ctx context.Context, sess *session.Session, id uuid.UUID) (*slate.Slate, error)
}

// Service provides the wallet queries.
type Service struct {
	node   chain.Node
	txs    Canceller
	logger logrus.FieldLogger
}

// Config holds dependencies for the query service.
type Config struct {
	Node         chain.Node
	Transactions Canceller
	Logger       logrus.FieldLogger
}

// NewService creates a new query service.
func NewService(cfg *Config) *Service {
	s := &Service{node: cfg.Node, txs: cfg.Transactions, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = config.NullLogger()
	}
	return s
}

// Balances returns the balance breakdown of sess. With refresh the tracked
// outputs are re-synced with the node first. Without it the node is not
// contacted and confirmations count from the tip recorded by the last scan or
// refresh; only a wallet that never synced asks the node for its tip. A zero
// minConfirmations uses the configured default.
func (s *Service) Balances(ctx context.Context, sess *session.Session, refresh bool, minConfirmations uint64) (*Balance, error) {
	if minConfirmations == 0 {
		minConfirmations = sess.Config().Wallet.MinConfirmations
	}
	if refresh {
		if _, err := sess.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	var tipHeight uint64
	if err := sess.Read(func(st *session.State) error {
		tipHeight = st.Outputs.TipHeight()
		return nil
	}); err != nil {
		return nil, err
	}
	if tipHeight == 0 {
		tip, err := sess.Tip(ctx)
		if err != nil {
			return nil, err
		}
		tipHeight = tip.Height
	}

	b := &Balance{TipHeight: tipHeight, MinConfirmations: minConfirmations, Refreshed: refresh}
	err := sess.Read(func(st *session.State) error {
		b.Summary = outputs.Summarize(st.Outputs.All(), tipHeight, minConfirmations, sess.Config().Wallet.CoinbaseMaturity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ChainHeight returns the node's tip height. No session is needed.
func (s *Service) ChainHeight(ctx context.Context) (uint64, error) {
	if s.node == nil {
		return 0, bridgeerr.Kindf(bridgeerr.ErrConfigInvalid, "no chain node configured")
	}
	tip, err := s.node.Tip(ctx)
	if err != nil {
		var be *bridgeerr.BridgeError
		if errors.As(err, &be) {
			return 0, err
		}
		return 0, bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("chain node: %w", err))
	}
	return tip.Height, nil
}

// TxFees runs a selection for amount with every strategy without locking
// anything. Strategies that cannot pay are left out; if none can, the
// result is an insufficient funds error.
func (s *Service) TxFees(ctx context.Context, sess *session.Session, amount, minConfirmations uint64) (*FeeEstimate, error) {
	if amount == 0 {
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidAmount, "amount must be greater than zero")
	}
	if minConfirmations == 0 {
		minConfirmations = sess.Config().Wallet.MinConfirmations
	}
	tip, err := sess.Tip(ctx)
	if err != nil {
		return nil, err
	}

	est := &FeeEstimate{Amount: amount}
	var lastErr error
	err = sess.Read(func(st *session.State) error {
		outs := st.Outputs.All()
		for _, strategy := range []outputs.Strategy{outputs.StrategySmallest, outputs.StrategyAll} {
			sel, err := outputs.Select(outs, amount, sess.Policy(strategy, minConfirmations, tip.Height), sess.Fee())
			if err != nil {
				lastErr = err
				continue
			}
			est.Options = append(est.Options, FeeOption{
				Strategy: strategy,
				Fee:      sel.Fee,
				Inputs:   len(sel.Inputs),
				Total:    sel.Total,
				Change:   sel.Change,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(est.Options) == 0 {
		var insufficient *outputs.InsufficientFundsError
		if errors.As(lastErr, &insufficient) {
			return nil, bridgeerr.WithDetails(bridgeerr.Kind(bridgeerr.ErrInsufficientFunds, lastErr), map[string]string{
				"needed":    chain.FormatAmount(insufficient.Needed),
				"available": chain.FormatAmount(insufficient.Available),
			})
		}
		return nil, bridgeerr.Wrap(lastErr, "estimating fees")
	}
	return est, nil
}

// WalletAddress returns the relay address of sess at index, bound to the
// relay domain when one is configured.
func (s *Service) WalletAddress(sess *session.Session, index uint32, relay config.RelayConfig) (string, error) {
	if index > keychain.MaxKeyIndex {
		return "", bridgeerr.Kindf(bridgeerr.ErrInvalidInput, "address index %d out of range", index)
	}
	return sess.Address(index, relay.Domain)
}

// ValidateAddress classifies address without touching any wallet.
func ValidateAddress(address string) AddressValidation {
	info, err := keychain.ParseAddress(address)
	if err != nil {
		return AddressValidation{Address: address, Reason: err.Error()}
	}
	return AddressValidation{Address: address, Valid: true, Kind: info.Kind, Domain: info.Domain}
}

// Txs returns the transaction log of sess ordered by creation. With refresh
// the tracked outputs are re-synced with the node first.
func (s *Service) Txs(ctx context.Context, sess *session.Session, refresh bool) ([]txlog.Record, error) {
	if refresh {
		if _, err := sess.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	var recs []txlog.Record
	err := sess.Read(func(st *session.State) error {
		var err error
		recs, err = st.Log.List()
		return err
	})
	if err != nil {
		return nil, bridgeerr.Wrap(err, "reading transaction log")
	}
	return recs, nil
}

// Tx returns one transaction log record.
func (s *Service) Tx(sess *session.Session, id uuid.UUID) (txlog.Record, error) {
	var rec txlog.Record
	err := sess.Read(func(st *session.State) error {
		var err error
		rec, err = st.Log.Get(id)
		return err
	})
	if errors.Is(err, txlog.ErrNotFound) {
		return txlog.Record{}, bridgeerr.WithDetails(bridgeerr.ErrTransactionNotFound, map[string]string{"id": id.String()})
	}
	if err != nil {
		return txlog.Record{}, bridgeerr.Wrap(err, "reading transaction log")
	}
	return rec, nil
}

// TxCancel cancels a slate of sess.
func (s *Service) TxCancel(ctx context.Context, sess *session.Session, id uuid.UUID) (*slate.Slate, error) {
	if s.txs == nil {
		return nil, bridgeerr.Kindf(bridgeerr.ErrConfigInvalid, "no transaction service configured")
	}
	return s.txs.Cancel(ctx, sess, id)
}
