package transaction

import (
	"context"
	"fmt"

	"github.com/mrz1836/mwcbridge/internal/foreign"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Receive countersigns an incoming Sent slate: it adds the receiver output,
// public data and partial signature, and returns the Received slate for the
// sender to finalize.
func (s *Service) Receive(_ context.Context, sess *session.Session, slateJSON []byte) (*slate.Slate, error) {
	sl, err := slate.Parse(slateJSON)
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	}
	if err := checkIncomingSend(sl); err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	}

	err = sess.Write(func(st *session.State) error {
		exists, err := st.Log.Has(sl.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", txlog.ErrExists, sl.ID)
		}

		idx := st.Outputs.ReserveIndex()
		out, proof, err := newOutput(st.Keys, sl.Amount, idx, sl.ID)
		if err != nil {
			return err
		}
		blind, err := st.Keys.Blind(idx)
		if err != nil {
			return err
		}
		participant, err := newParticipant(st.Keys, sl.ID, keychain.RoleReceiver, blind)
		if err != nil {
			return err
		}

		sl.Outputs = append(sl.Outputs, slate.Output{Commit: out.Commit, Proof: proof})
		sl.Participants = append(sl.Participants, participant)

		msg, err := sl.KernelMessage()
		if err != nil {
			return err
		}
		nonce, err := st.Keys.Nonce(sl.ID, keychain.RoleReceiver)
		if err != nil {
			return err
		}
		sig, err := keychain.PartialSign(msg, blind, nonce)
		if err != nil {
			return err
		}
		sl.Participants[1].PartialSig = &sig
		if err := sl.MarkReceived(); err != nil {
			return err
		}

		st.Outputs.Put(out)
		_, err = st.Log.Create(txlog.Record{
			SlateID:    sl.ID,
			Direction:  txlog.DirectionReceive,
			State:      sl.State,
			Amount:     sl.Amount,
			Fee:        sl.Fee,
			Message:    sl.Message(),
			Slate:      sl.Clone(),
			OutputKeys: []uint32{idx},
		})
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}

	s.transition(sl)
	return sl, nil
}

// checkIncomingSend verifies that sl is a sender's round-two slate carrying
// only the sender's public data.
func checkIncomingSend(sl *slate.Slate) error {
	switch {
	case sl.State != slate.StateSent:
		return fmt.Errorf("%w: expected a sent slate, got %s", slate.ErrMalformed, sl.State)
	case len(sl.Participants) != 1:
		return fmt.Errorf("%w: expected sender data only, got %d participants", slate.ErrMalformed, len(sl.Participants))
	case sl.Participants[0].PartialSig != nil:
		return fmt.Errorf("%w: sender signed before the receiver", slate.ErrMalformed)
	case len(sl.Inputs) == 0:
		return fmt.Errorf("%w: no inputs", slate.ErrMalformed)
	case sl.Kernel != nil:
		return fmt.Errorf("%w: slate already carries a kernel", slate.ErrMalformed)
	}
	return nil
}

// Receiver serves Receive for sess on the foreign API.
func (s *Service) Receiver(sess *session.Session) foreign.Receiver {
	return foreign.ReceiverFunc(func(ctx context.Context, slateJSON []byte) ([]byte, error) {
		sl, err := s.Receive(ctx, sess, slateJSON)
		if err != nil {
			return nil, err
		}
		return sl.Marshal()
	})
}
