package slate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	t.Parallel()
	recv := receivedSlate(t, sentSlate(t))

	data, err := recv.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, recv, parsed)

	again, err := parsed.Marshal()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestCompact(t *testing.T) {
	t.Parallel()
	out, err := Compact([]byte("{\n  \"a\": 1\n}"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))
	assert.Equal(t, `{"a":1}`, string(out))

	_, err = Compact([]byte("{"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(s *Slate)
	}{
		{"version", func(s *Slate) { s.Version = 3 }},
		{"nil id", func(s *Slate) { s.ID = uuid.Nil }},
		{"state", func(s *Slate) { s.State = "pending" }},
		{"round mismatch", func(s *Slate) { s.Round = 3 }},
		{"zero amount", func(s *Slate) { s.Amount = 0 }},
		{"bad input point", func(s *Slate) { s.Inputs[0].Commit[0] = 0x07 }},
		{"bad output point", func(s *Slate) { s.Outputs[0].Commit[0] = 0x07 }},
		{"bad nonce", func(s *Slate) { s.Participants[0].PublicNonce[0] = 0x07 }},
		{"too many participants", func(s *Slate) {
			s.Participants = append(s.Participants, s.Participants[0], s.Participants[0])
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := sentSlate(t)
			tc.mutate(s)
			data, err := s.Marshal()
			require.NoError(t, err)

			_, err = Parse(data)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "not json", `{"version":1,"bogus":true}`, `{"version":1} {}`} {
		_, err := Parse([]byte(in))
		require.ErrorIs(t, err, ErrMalformed, in)
	}
}
