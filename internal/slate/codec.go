package slate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// maxParticipants is the number of parties in a two-party slate.
const maxParticipants = 2

// Marshal returns the compact JSON form of s.
func (s *Slate) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Parse decodes and validates a slate. Unknown fields are rejected.
func Parse(data []byte) (*Slate, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Slate
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Compact re-encodes slate JSON in canonical compact form.
func Compact(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return buf.Bytes(), nil
}

// Validate checks the structure of s: known version and state, a round that
// matches the state, and well-formed curve points.
func (s *Slate) Validate() error {
	switch {
	case s.Version != Version:
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, s.Version)
	case s.ID == uuid.Nil:
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case !s.State.Valid():
		return fmt.Errorf("%w: unknown state %q", ErrMalformed, s.State)
	case s.State != StateCancelled && s.Round != s.State.Round():
		return fmt.Errorf("%w: round %d does not match state %s", ErrMalformed, s.Round, s.State)
	case s.Amount == 0:
		return fmt.Errorf("%w: zero amount", ErrMalformed)
	case len(s.Participants) > maxParticipants:
		return fmt.Errorf("%w: %d participants", ErrMalformed, len(s.Participants))
	}

	for i, in := range s.Inputs {
		if err := in.Commit.Validate(); err != nil {
			return fmt.Errorf("%w: input %d: %w", ErrMalformed, i, err)
		}
	}
	for i, o := range s.Outputs {
		if err := o.Commit.Validate(); err != nil {
			return fmt.Errorf("%w: output %d: %w", ErrMalformed, i, err)
		}
	}
	for i, p := range s.Participants {
		if err := p.PublicExcess.Validate(); err != nil {
			return fmt.Errorf("%w: participant %d excess: %w", ErrMalformed, i, err)
		}
		if err := p.PublicNonce.Validate(); err != nil {
			return fmt.Errorf("%w: participant %d nonce: %w", ErrMalformed, i, err)
		}
	}
	return nil
}
