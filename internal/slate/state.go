package slate

import (
	"errors"
	"fmt"
	"slices"
)

// State is the protocol state of a slate.
type State string

// Slate states. Initiated, Sent, Received and Finalized follow each other;
// Cancelled is reachable from any non-terminal state.
const (
	StateInitiated State = "initiated"
	StateSent      State = "sent"
	StateReceived  State = "received"
	StateFinalized State = "finalized"
	StateCancelled State = "cancelled"
)

var (
	// ErrTerminal is returned for any transition out of Finalized or Cancelled.
	ErrTerminal = errors.New("slate is in a terminal state")

	// ErrIllegalTransition is returned for a transition the protocol does not allow.
	ErrIllegalTransition = errors.New("illegal slate transition")

	// ErrStaleRound is returned when an incoming slate is not exactly one round ahead.
	ErrStaleRound = errors.New("slate round is stale")

	// ErrMismatch is returned when an incoming slate changes fields fixed by the sender.
	ErrMismatch = errors.New("slate does not match the local record")

	// ErrMalformed is returned for a slate that fails structural validation.
	ErrMalformed = errors.New("malformed slate")

	// ErrMissingParticipant is returned when participant data is absent.
	ErrMissingParticipant = errors.New("missing participant data")
)

// Round returns the round counter a slate carries in this state.
// Cancelled has no round of its own.
func (s State) Round() uint32 {
	switch s {
	case StateInitiated:
		return 1
	case StateSent:
		return 2
	case StateReceived:
		return 3
	case StateFinalized:
		return 4
	case StateCancelled:
		return 0
	}
	return 0
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateInitiated, StateSent, StateReceived, StateFinalized, StateCancelled:
		return true
	}
	return false
}

func (s *Slate) advance(from, to State) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.State)
	}
	if s.State != from {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.State, to)
	}
	s.State = to
	s.Round = to.Round()
	return nil
}

// MarkSent moves an initiated slate to Sent.
func (s *Slate) MarkSent() error {
	return s.advance(StateInitiated, StateSent)
}

// MarkReceived moves a sent slate to Received. The receiver's output and
// signed participant data must already be attached.
func (s *Slate) MarkReceived() error {
	if len(s.Participants) != 2 || s.Participants[1].PartialSig == nil {
		return ErrMissingParticipant
	}
	return s.advance(StateSent, StateReceived)
}

// MarkFinalized moves a received slate to Finalized with its kernel.
func (s *Slate) MarkFinalized(k Kernel) error {
	if err := s.advance(StateReceived, StateFinalized); err != nil {
		return err
	}
	s.Kernel = &k
	return nil
}

// Cancel moves a non-terminal slate to Cancelled. The round is kept so a
// late delivery is still rejected as stale.
func (s *Slate) Cancel() error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.State)
	}
	s.State = StateCancelled
	return nil
}

// CheckNext verifies that incoming is the next round of the local slate s:
// s must be live, incoming exactly one round ahead, and every field the
// sender fixed at initiation unchanged.
func (s *Slate) CheckNext(incoming *Slate) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.State)
	}
	if incoming.ID != s.ID {
		return fmt.Errorf("%w: id", ErrMismatch)
	}
	if incoming.Round != s.Round+1 {
		return fmt.Errorf("%w: local round %d, incoming %d", ErrStaleRound, s.Round, incoming.Round)
	}

	switch {
	case incoming.Amount != s.Amount:
		return fmt.Errorf("%w: amount", ErrMismatch)
	case incoming.Fee != s.Fee:
		return fmt.Errorf("%w: fee", ErrMismatch)
	case incoming.LockHeight != s.LockHeight:
		return fmt.Errorf("%w: lock height", ErrMismatch)
	case incoming.Offset != s.Offset:
		return fmt.Errorf("%w: offset", ErrMismatch)
	case !slices.Equal(incoming.Inputs, s.Inputs):
		return fmt.Errorf("%w: inputs", ErrMismatch)
	case len(incoming.Participants) == 0 || len(s.Participants) == 0:
		return fmt.Errorf("%w: sender participant", ErrMismatch)
	case incoming.Participants[0].PublicExcess != s.Participants[0].PublicExcess,
		incoming.Participants[0].PublicNonce != s.Participants[0].PublicNonce:
		return fmt.Errorf("%w: sender participant", ErrMismatch)
	}

	for _, o := range s.Outputs {
		if !slices.ContainsFunc(incoming.Outputs, func(x Output) bool { return x.Commit == o.Commit }) {
			return fmt.Errorf("%w: outputs", ErrMismatch)
		}
	}
	return nil
}
