package transaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Init selects inputs for req.Amount, locks them to a new slate, records the
// change output and returns the Initiated slate.
func (s *Service) Init(ctx context.Context, sess *session.Session, req InitRequest) (*slate.Slate, error) {
	if req.Amount == 0 {
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidAmount, "amount must be greater than zero")
	}

	tip, err := sess.Tip(ctx)
	if err != nil {
		return nil, err
	}
	policy := sess.Policy(req.Strategy, req.MinConfirmations, tip.Height)

	var sl *slate.Slate
	err = sess.Write(func(st *session.State) error {
		sel, err := outputs.Select(st.Outputs.All(), req.Amount, policy, sess.Fee())
		if err != nil {
			return err
		}

		offset, err := keychain.RandomScalar()
		if err != nil {
			return err
		}
		sl = slate.New(req.Amount, sel.Fee, 0, offset)

		inputKeys := make([]uint32, len(sel.Inputs))
		commits := make([]keychain.Point, len(sel.Inputs))
		for i, in := range sel.Inputs {
			inputKeys[i] = in.KeyIndex
			commits[i] = in.Commit
			sl.Inputs = append(sl.Inputs, slate.Input{Commit: in.Commit})
		}
		if err := st.Outputs.Lock(commits, sl.ID); err != nil {
			return err
		}

		var outputKeys []uint32
		if sel.Change > 0 {
			idx := st.Outputs.ReserveIndex()
			out, proof, err := newOutput(st.Keys, sel.Change, idx, sl.ID)
			if err != nil {
				return err
			}
			st.Outputs.Put(out)
			sl.Outputs = append(sl.Outputs, slate.Output{Commit: out.Commit, Proof: proof})
			outputKeys = append(outputKeys, idx)
		}

		secret, err := senderSecret(st.Keys, inputKeys, outputKeys, offset)
		if err != nil {
			return err
		}
		participant, err := newParticipant(st.Keys, sl.ID, keychain.RoleSender, secret)
		if err != nil {
			return err
		}
		participant.Message = req.Message
		sl.Participants = []slate.Participant{participant}

		_, err = st.Log.Create(txlog.Record{
			SlateID:    sl.ID,
			Direction:  txlog.DirectionSend,
			State:      sl.State,
			Amount:     sl.Amount,
			Fee:        sl.Fee,
			Message:    req.Message,
			Slate:      sl.Clone(),
			InputKeys:  inputKeys,
			OutputKeys: outputKeys,
		})
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}

	s.transition(sl)
	return sl, nil
}

// MarkSent moves an Initiated slate to Sent and returns the slate to hand to
// the recipient.
func (s *Service) MarkSent(_ context.Context, sess *session.Session, id uuid.UUID) (*slate.Slate, error) {
	return s.markSent(sess, id, "")
}

// markSent moves the slate to Sent and records the address it went to.
func (s *Service) markSent(sess *session.Session, id uuid.UUID, address string) (*slate.Slate, error) {
	var sl *slate.Slate
	err := sess.Write(func(st *session.State) error {
		rec, err := st.Log.Update(id, eventSent, func(r *txlog.Record) error {
			if r.Direction != txlog.DirectionSend {
				return fmt.Errorf("%w: %s is an incoming transaction", slate.ErrIllegalTransition, id)
			}
			if err := r.Slate.MarkSent(); err != nil {
				return err
			}
			r.State = r.Slate.State
			if address != "" {
				r.Address = address
			}
			return nil
		})
		if err != nil {
			return err
		}
		sl = rec.Slate
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	s.transition(sl)
	return sl, nil
}

// newOutput derives the commitment and proof of a new wallet output created
// by the slate id.
func newOutput(keys *keychain.Keychain, value uint64, index uint32, id uuid.UUID) (outputs.Output, []byte, error) {
	commit, err := keys.Commit(value, index)
	if err != nil {
		return outputs.Output{}, nil, fmt.Errorf("committing output %d: %w", index, err)
	}
	proof, err := keys.SealProof(commit, value, index)
	if err != nil {
		return outputs.Output{}, nil, fmt.Errorf("sealing proof for output %d: %w", index, err)
	}
	return outputs.Output{
		Commit:   commit,
		KeyIndex: index,
		Value:    value,
		Status:   outputs.StatusUnconfirmed,
		SlateID:  id,
	}, proof, nil
}

// senderSecret returns the sender's excess blind:
// Σ change blinds − Σ input blinds − offset.
func senderSecret(keys *keychain.Keychain, inputKeys, outputKeys []uint32, offset keychain.Scalar) (keychain.Scalar, error) {
	pos := make([]keychain.Scalar, 0, len(outputKeys))
	for _, idx := range outputKeys {
		b, err := keys.Blind(idx)
		if err != nil {
			return keychain.Scalar{}, err
		}
		pos = append(pos, b)
	}
	neg := make([]keychain.Scalar, 0, len(inputKeys)+1)
	for _, idx := range inputKeys {
		b, err := keys.Blind(idx)
		if err != nil {
			return keychain.Scalar{}, err
		}
		neg = append(neg, b)
	}
	neg = append(neg, offset)
	return keychain.AddScalars(pos, neg)
}

// newParticipant builds the public data for secret and the slate nonce of role.
func newParticipant(keys *keychain.Keychain, id uuid.UUID, role keychain.Role, secret keychain.Scalar) (slate.Participant, error) {
	nonce, err := keys.Nonce(id, role)
	if err != nil {
		return slate.Participant{}, err
	}
	excess, err := keychain.PublicKey(secret)
	if err != nil {
		return slate.Participant{}, fmt.Errorf("public excess: %w", err)
	}
	pubNonce, err := keychain.PublicKey(nonce)
	if err != nil {
		return slate.Participant{}, fmt.Errorf("public nonce: %w", err)
	}
	return slate.Participant{PublicExcess: excess, PublicNonce: pubNonce}, nil
}
