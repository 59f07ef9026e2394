// Package transaction drives slates through the interactive transaction
// protocol on behalf of an open wallet session: initiation, receive,
// finalization, posting and cancellation.
package transaction

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/metrics"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Event kinds appended to the transaction log.
const (
	eventSent      = "sent"
	eventReceived  = "received"
	eventFinalized = "finalized"
	eventPosted    = "posted"
	eventCancelled = "cancelled"
)

// Service provides the slate operations.
type Service struct {
	relay   Publisher
	foreign ForeignClient
	metrics Recorder
	logger  logrus.FieldLogger
}

// Config holds dependencies for the transaction service. Relay and Foreign
// may be nil when the relay or HTTP sends are not used.
type Config struct {
	Relay   Publisher
	Foreign ForeignClient
	Metrics Recorder
	Logger  logrus.FieldLogger
}

// NewService creates a new transaction service.
func NewService(cfg *Config) *Service {
	s := &Service{
		relay:   cfg.Relay,
		foreign: cfg.Foreign,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if s.metrics == nil {
		s.metrics = metrics.Global
	}
	if s.logger == nil {
		s.logger = config.NullLogger()
	}
	return s
}

func (s *Service) transition(sl *slate.Slate) {
	s.metrics.RecordTransition(string(sl.State))
	s.logger.WithFields(logrus.Fields{
		"slate_id": sl.ID,
		"state":    sl.State,
		"round":    sl.Round,
	}).Debug("slate transition")
}

// mapError turns the sentinels of the lower packages into bridge error kinds.
// Errors that already carry a kind pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var be *bridgeerr.BridgeError
	if errors.As(err, &be) {
		return err
	}

	var insufficient *outputs.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		return bridgeerr.WithDetails(bridgeerr.Kind(bridgeerr.ErrInsufficientFunds, err), map[string]string{
			"needed":    chain.FormatAmount(insufficient.Needed),
			"available": chain.FormatAmount(insufficient.Available),
		})
	case errors.Is(err, outputs.ErrZeroAmount):
		return bridgeerr.Kind(bridgeerr.ErrInvalidAmount, err)
	case errors.Is(err, outputs.ErrUnknownStrategy):
		return bridgeerr.Kind(bridgeerr.ErrInvalidInput, err)
	case errors.Is(err, outputs.ErrNotSpendable):
		return bridgeerr.Kind(bridgeerr.ErrInvalidState, err)
	case errors.Is(err, slate.ErrTerminal), errors.Is(err, slate.ErrIllegalTransition):
		return bridgeerr.Kind(bridgeerr.ErrInvalidState, err)
	case errors.Is(err, slate.ErrStaleRound), errors.Is(err, slate.ErrMismatch),
		errors.Is(err, slate.ErrMalformed), errors.Is(err, slate.ErrMissingParticipant):
		return bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	case errors.Is(err, keychain.ErrBadSignature):
		return bridgeerr.Kind(bridgeerr.ErrValidation, err)
	case errors.Is(err, txlog.ErrNotFound):
		return bridgeerr.Kind(bridgeerr.ErrTransactionNotFound, err)
	case errors.Is(err, txlog.ErrExists):
		return bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	case errors.Is(err, txlog.ErrClosed):
		return bridgeerr.Kind(bridgeerr.ErrSessionClosed, err)
	}
	return bridgeerr.Wrap(err, "transaction")
}
