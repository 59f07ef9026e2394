package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Finalize completes a slate the receiver countersigned: it checks the
// incoming slate against the local record, verifies the receiver's partial
// signature, signs, aggregates, checks the balance equation, marks the
// inputs spent and posts the transaction.
//
// A post failure leaves the slate Finalized. The finalized slate is returned
// together with the network error so the caller can still hand it on; Post
// retries it.
func (s *Service) Finalize(ctx context.Context, sess *session.Session, slateJSON []byte) (*slate.Slate, error) {
	incoming, err := slate.Parse(slateJSON)
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	}

	var final *slate.Slate
	err = sess.Write(func(st *session.State) error {
		rec, err := st.Log.Get(incoming.ID)
		if err != nil {
			return err
		}
		if rec.Direction != txlog.DirectionSend {
			return fmt.Errorf("%w: %s was received, not sent", slate.ErrMismatch, incoming.ID)
		}
		if err := rec.Slate.CheckNext(incoming); err != nil {
			return err
		}
		if incoming.State != slate.StateReceived {
			return fmt.Errorf("%w: expected a received slate, got %s", slate.ErrMalformed, incoming.State)
		}

		final, err = sign(st.Keys, rec, incoming)
		if err != nil {
			return err
		}

		st.Outputs.Finalize(final.ID)
		_, err = st.Log.Update(final.ID, eventFinalized, func(r *txlog.Record) error {
			r.Slate = final.Clone()
			r.State = final.State
			return nil
		})
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}
	s.transition(final)

	if err := s.post(ctx, sess, final); err != nil {
		return final, bridgeerr.WithSuggestion(err, fmt.Sprintf("the slate is finalized; retry with `tx post %s`", final.ID))
	}
	return final, nil
}

// sign adds the sender's partial signature to incoming and aggregates the
// kernel. Any verification failure is a validation error.
func sign(keys *keychain.Keychain, rec txlog.Record, incoming *slate.Slate) (*slate.Slate, error) {
	if len(incoming.Participants) != 2 || incoming.Participants[1].PartialSig == nil {
		return nil, fmt.Errorf("%w: receiver signature", slate.ErrMissingParticipant)
	}
	sender, receiver := incoming.Participants[0], incoming.Participants[1]

	msg, err := incoming.KernelMessage()
	if err != nil {
		return nil, err
	}
	if err := keychain.VerifyPartial(msg, *receiver.PartialSig, receiver.PublicNonce, receiver.PublicExcess); err != nil {
		return nil, validation("receiver partial signature", err)
	}

	secret, err := senderSecret(keys, rec.InputKeys, rec.OutputKeys, incoming.Offset)
	if err != nil {
		return nil, err
	}
	nonce, err := keys.Nonce(incoming.ID, keychain.RoleSender)
	if err != nil {
		return nil, err
	}
	sig, err := keychain.PartialSign(msg, secret, nonce)
	if err != nil {
		return nil, err
	}
	if err := keychain.VerifyPartial(msg, sig, sender.PublicNonce, sender.PublicExcess); err != nil {
		return nil, validation("sender partial signature", err)
	}

	aggregate, err := keychain.AddScalars([]keychain.Scalar{sig, *receiver.PartialSig}, nil)
	if err != nil {
		return nil, err
	}
	if err := keychain.VerifyPartial(msg, aggregate, msg.NonceSum, msg.ExcessSum); err != nil {
		return nil, validation("aggregate signature", err)
	}
	err = keychain.VerifyBalance(incoming.OutputCommits(), incoming.InputCommits(), incoming.Fee, incoming.Offset, msg.ExcessSum)
	if err != nil {
		return nil, validation("balance", err)
	}

	final := incoming.Clone()
	final.Participants[0].PartialSig = &sig
	err = final.MarkFinalized(slate.Kernel{
		Excess:     msg.ExcessSum,
		NonceSum:   msg.NonceSum,
		Signature:  aggregate,
		Fee:        final.Fee,
		LockHeight: final.LockHeight,
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

func validation(what string, err error) error {
	return bridgeerr.Kindf(bridgeerr.ErrValidation, "%s: %w", what, err)
}

// Post pushes a finalized transaction to the node. Posting is never retried
// automatically.
func (s *Service) Post(ctx context.Context, sess *session.Session, id uuid.UUID) error {
	var sl *slate.Slate
	err := sess.Read(func(st *session.State) error {
		rec, err := st.Log.Get(id)
		if err != nil {
			return err
		}
		if rec.Slate.State != slate.StateFinalized {
			return fmt.Errorf("%w: %s is %s, not finalized", slate.ErrIllegalTransition, id, rec.Slate.State)
		}
		sl = rec.Slate
		return nil
	})
	if err != nil {
		return mapError(err)
	}
	return s.post(ctx, sess, sl)
}

func (s *Service) post(ctx context.Context, sess *session.Session, sl *slate.Slate) error {
	tx, err := transaction(sl)
	if err != nil {
		return mapError(err)
	}

	if err := sess.Node().PushTransaction(ctx, tx); err != nil {
		s.logger.WithField("slate_id", sl.ID).WithError(err).Warn("posting transaction failed")
		var be *bridgeerr.BridgeError
		if errors.As(err, &be) {
			return err
		}
		return bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("posting transaction: %w", err))
	}

	err = sess.Write(func(st *session.State) error {
		_, err := st.Log.Update(sl.ID, eventPosted, func(r *txlog.Record) error {
			r.Posted = true
			return nil
		})
		return err
	})
	if err != nil {
		return mapError(err)
	}
	s.logger.WithField("slate_id", sl.ID).Info("transaction posted")
	return nil
}

// transaction converts a finalized slate to the node's transaction form.
func transaction(sl *slate.Slate) (chain.Transaction, error) {
	if sl.Kernel == nil {
		return chain.Transaction{}, fmt.Errorf("%w: finalized slate has no kernel", slate.ErrMalformed)
	}
	tx := chain.Transaction{
		Offset: sl.Offset,
		Inputs: sl.InputCommits(),
		Kernel: chain.TxKernel{
			Excess:     sl.Kernel.Excess,
			NonceSum:   sl.Kernel.NonceSum,
			Signature:  sl.Kernel.Signature,
			Fee:        sl.Kernel.Fee,
			LockHeight: sl.Kernel.LockHeight,
		},
	}
	for _, o := range sl.Outputs {
		tx.Outputs = append(tx.Outputs, chain.TxOutput{Commit: o.Commit, Proof: o.Proof})
	}
	return tx, nil
}
