package listener

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mrz1836/mwcbridge/internal/relay"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/slatepack"
)

// handle processes one relay message and returns its outcome.
func (s *Service) handle(ctx context.Context, h *Handle, keyIndex uint32, msg relay.Message, log logrus.FieldLogger) string {
	log = log.WithField("from", msg.From)

	decoded, err := slatepack.Decode(msg.Body, h.sess.KeySource(keyIndex))
	if err != nil {
		log.WithError(err).Warn("dropping undecodable slatepack")
		return OutcomeDropped
	}
	sl, err := slate.Parse(decoded.SlateJSON)
	if err != nil {
		log.WithError(err).Warn("dropping malformed slate")
		return OutcomeDropped
	}
	log = log.WithFields(logrus.Fields{"slate_id": sl.ID, "state": sl.State})

	switch sl.State {
	case slate.StateSent:
		if decoded.Sender == "" {
			log.Warn("dropping unsigned slatepack: no address to answer")
			return OutcomeDropped
		}
		return s.receive(ctx, h, keyIndex, decoded, log)
	case slate.StateReceived:
		return s.finalize(ctx, h, decoded, log)
	default:
		log.Warn("dropping slate in unexpected state")
		return OutcomeDropped
	}
}

// receive countersigns a Sent slate and publishes the response to its sender.
func (s *Service) receive(ctx context.Context, h *Handle, keyIndex uint32, decoded *slatepack.Decoded, log logrus.FieldLogger) string {
	sl, err := s.txs.Receive(ctx, h.sess, decoded.SlateJSON)
	if err != nil {
		log.WithError(err).Warn("rejecting incoming slate")
		return OutcomeFailed
	}

	data, err := sl.Marshal()
	if err != nil {
		log.WithError(err).Error("encoding response slate")
		return OutcomeFailed
	}
	body, err := slatepack.Encode(data, decoded.Sender, h.sess.KeySource(keyIndex))
	if err != nil {
		log.WithError(err).Error("encoding response slatepack")
		return OutcomeFailed
	}
	err = s.relay.Publish(ctx, relay.Message{From: h.address, To: decoded.Sender, Body: body})
	if err != nil {
		// the sender can still fetch the response with a manual exchange
		log.WithError(err).Error("publishing response slatepack")
		return OutcomeFailed
	}

	log.WithField("amount", sl.Amount).Info("slate received and answered")
	return OutcomeReceived
}

// finalize completes a Received slate answering one of our sends.
func (s *Service) finalize(ctx context.Context, h *Handle, decoded *slatepack.Decoded, log logrus.FieldLogger) string {
	sl, err := s.txs.Finalize(ctx, h.sess, decoded.SlateJSON)
	if err != nil {
		if sl != nil {
			log = log.WithField("state", sl.State)
		}
		log.WithError(err).Warn("finalizing response slate")
		return OutcomeFailed
	}
	log.WithField("amount", sl.Amount).Info("slate finalized")
	return OutcomeFinalized
}
