// Package slate defines the interactive transaction slate exchanged between
// sender and receiver, its state machine and the wallet fee rule.
package slate

import (
	"github.com/google/uuid"

	"github.com/mrz1836/mwcbridge/internal/keychain"
)

// Version is the slate format version written by this wallet.
const Version = 1

// Input references an output being spent.
type Input struct {
	Commit keychain.Point `json:"commit"`
}

// Output is a new commitment with its rewindable proof.
type Output struct {
	Commit keychain.Point `json:"commit"`
	Proof  []byte         `json:"proof"`
}

// Participant is the public data one party contributes to the kernel.
type Participant struct {
	PublicExcess keychain.Point   `json:"public_excess"`
	PublicNonce  keychain.Point   `json:"public_nonce"`
	PartialSig   *keychain.Scalar `json:"partial_sig,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// Kernel is the aggregated signature data of a finalized slate.
type Kernel struct {
	Excess     keychain.Point  `json:"excess"`
	NonceSum   keychain.Point  `json:"nonce_sum"`
	Signature  keychain.Scalar `json:"signature"`
	Fee        uint64          `json:"fee"`
	LockHeight uint64          `json:"lock_height"`
}

// Slate is a partial transaction moving between sender and receiver.
// The sender is always participant 0.
type Slate struct {
	Version      int             `json:"version"`
	ID           uuid.UUID       `json:"id"`
	Round        uint32          `json:"round"`
	State        State           `json:"state"`
	Amount       uint64          `json:"amount"`
	Fee          uint64          `json:"fee"`
	LockHeight   uint64          `json:"lock_height"`
	Offset       keychain.Scalar `json:"offset"`
	Inputs       []Input         `json:"inputs"`
	Outputs      []Output        `json:"outputs"`
	Participants []Participant   `json:"participants"`
	Kernel       *Kernel         `json:"kernel,omitempty"`
}

// New returns an initiated slate with a fresh id.
func New(amount, fee, lockHeight uint64, offset keychain.Scalar) *Slate {
	return &Slate{
		Version:    Version,
		ID:         uuid.New(),
		Round:      StateInitiated.Round(),
		State:      StateInitiated,
		Amount:     amount,
		Fee:        fee,
		LockHeight: lockHeight,
		Offset:     offset,
	}
}

// Clone returns a deep copy.
func (s *Slate) Clone() *Slate {
	c := *s
	c.Inputs = append([]Input(nil), s.Inputs...)
	c.Outputs = make([]Output, len(s.Outputs))
	for i, o := range s.Outputs {
		c.Outputs[i] = Output{Commit: o.Commit, Proof: append([]byte(nil), o.Proof...)}
	}
	c.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		c.Participants[i] = p
		if p.PartialSig != nil {
			sig := *p.PartialSig
			c.Participants[i].PartialSig = &sig
		}
	}
	if s.Kernel != nil {
		k := *s.Kernel
		c.Kernel = &k
	}
	return &c
}

// Message returns the sender's memo.
func (s *Slate) Message() string {
	if len(s.Participants) == 0 {
		return ""
	}
	return s.Participants[0].Message
}

// SignatureCount returns the number of partial signatures present.
func (s *Slate) SignatureCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.PartialSig != nil {
			n++
		}
	}
	return n
}

// InputCommits returns the commitments of all inputs.
func (s *Slate) InputCommits() []keychain.Point {
	commits := make([]keychain.Point, len(s.Inputs))
	for i, in := range s.Inputs {
		commits[i] = in.Commit
	}
	return commits
}

// OutputCommits returns the commitments of all outputs.
func (s *Slate) OutputCommits() []keychain.Point {
	commits := make([]keychain.Point, len(s.Outputs))
	for i, o := range s.Outputs {
		commits[i] = o.Commit
	}
	return commits
}

// KernelMessage returns the message both parties sign. It needs both
// participants.
func (s *Slate) KernelMessage() (keychain.KernelMessage, error) {
	if len(s.Participants) != 2 {
		return keychain.KernelMessage{}, ErrMissingParticipant
	}

	nonces := []keychain.Point{s.Participants[0].PublicNonce, s.Participants[1].PublicNonce}
	excesses := []keychain.Point{s.Participants[0].PublicExcess, s.Participants[1].PublicExcess}

	nonceSum, err := keychain.SumPoints(nonces, nil)
	if err != nil {
		return keychain.KernelMessage{}, err
	}
	excessSum, err := keychain.SumPoints(excesses, nil)
	if err != nil {
		return keychain.KernelMessage{}, err
	}

	return keychain.KernelMessage{
		NonceSum:   nonceSum,
		ExcessSum:  excessSum,
		Fee:        s.Fee,
		LockHeight: s.LockHeight,
	}, nil
}

// Fee returns the fee of a transaction: baseFee per weight unit, where weight
// is 4 per output plus 1 per kernel minus 1 per input, floored at 1.
func Fee(baseFee uint64, inputs, outputs, kernels int) uint64 {
	weight := 4*outputs + kernels - inputs
	if weight < 1 {
		weight = 1
	}
	return baseFee * uint64(weight)
}
