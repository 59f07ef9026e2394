package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/relay"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/slatepack"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Create builds a slate for req.Amount, encrypts it to req.To as a slatepack
// signed with the address key at req.KeyIndex and publishes it over the
// relay. The slate is left Sent; the listener finalizes the response.
func (s *Service) Create(ctx context.Context, sess *session.Session, req CreateRequest) (*Result, error) {
	if s.relay == nil {
		return nil, bridgeerr.Kindf(bridgeerr.ErrConfigInvalid, "no relay configured")
	}
	info, err := keychain.ParseAddress(req.To)
	if err != nil || info.Kind == keychain.KindHTTP {
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidAddress, "relay recipient %q", req.To)
	}
	from, err := sess.Address(req.KeyIndex, req.Relay.Domain)
	if err != nil {
		return nil, err
	}

	sl, err := s.Init(ctx, sess, InitRequest{
		Amount:           req.Amount,
		MinConfirmations: req.Confirmations,
		Message:          req.Note,
	})
	if err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{"slate_id": sl.ID, "address": req.To})

	sl, err = s.sent(ctx, sess, sl, req.To)
	if err != nil {
		return nil, err
	}

	data, err := sl.Marshal()
	if err != nil {
		return nil, s.abort(ctx, sess, sl, fmt.Errorf("encoding slate: %w", err))
	}
	pack, err := slatepack.Encode(data, req.To, sess.KeySource(req.KeyIndex))
	if err != nil {
		return nil, s.abort(ctx, sess, sl, err)
	}

	if err := s.relay.Publish(ctx, relay.Message{From: from, To: req.To, Body: pack}); err != nil {
		log.WithError(err).Warn("publishing slatepack failed")
		return nil, s.abort(ctx, sess, sl, transportError(err))
	}

	log.Info("slatepack published")
	return &Result{Slate: sl, Slatepack: pack}, nil
}

// SendHTTP builds a slate, posts it to the recipient's foreign API, finalizes
// the countersigned response and posts the transaction. The foreign call is
// never retried; when it fails the slate is cancelled.
func (s *Service) SendHTTP(ctx context.Context, sess *session.Session, req SendHTTPRequest) (*Result, error) {
	if s.foreign == nil {
		return nil, bridgeerr.Kindf(bridgeerr.ErrConfigInvalid, "no foreign API client configured")
	}
	info, err := keychain.ParseAddress(req.URL)
	if err != nil || info.Kind != keychain.KindHTTP {
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidAddress, "foreign API url %q", req.URL)
	}

	sl, err := s.Init(ctx, sess, req.InitRequest)
	if err != nil {
		return nil, err
	}
	sl, err = s.sent(ctx, sess, sl, req.URL)
	if err != nil {
		return nil, err
	}

	data, err := sl.Marshal()
	if err != nil {
		return nil, s.abort(ctx, sess, sl, fmt.Errorf("encoding slate: %w", err))
	}
	response, err := s.foreign.ReceiveTx(ctx, req.URL, data)
	if err != nil {
		s.logger.WithField("slate_id", sl.ID).WithError(err).Warn("foreign API call failed")
		return nil, s.abort(ctx, sess, sl, transportError(err))
	}

	final, err := s.Finalize(ctx, sess, response)
	if err != nil {
		if final != nil {
			// Finalized but not posted: nothing to undo.
			return &Result{Slate: final}, err
		}
		return nil, s.abort(ctx, sess, sl, err)
	}
	return &Result{Slate: final, Posted: true}, nil
}

// sent marks sl Sent to address, cancelling it on failure.
func (s *Service) sent(ctx context.Context, sess *session.Session, sl *slate.Slate, address string) (*slate.Slate, error) {
	sent, err := s.markSent(sess, sl.ID, address)
	if err != nil {
		return nil, s.abort(ctx, sess, sl, err)
	}
	return sent, nil
}

// abort cancels sl after a failed send and returns cause.
func (s *Service) abort(ctx context.Context, sess *session.Session, sl *slate.Slate, cause error) error {
	if _, err := s.Cancel(ctx, sess, sl.ID); err != nil {
		s.logger.WithField("slate_id", sl.ID).WithError(err).Error("cancelling failed send")
	}
	return cause
}

// transportError keeps a rejection kind reported by the peer and marks
// anything else as a network failure.
func transportError(err error) error {
	var be *bridgeerr.BridgeError
	if errors.As(err, &be) {
		return err
	}
	return bridgeerr.Kind(bridgeerr.ErrNetwork, err)
}
