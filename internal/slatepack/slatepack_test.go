package slatepack

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/slate"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

var errNoKey = errors.New("no key")

type staticKey struct {
	priv ed25519.PrivateKey
	err  error
}

func (k staticKey) SlatepackKey() (ed25519.PrivateKey, error) {
	return k.priv, k.err
}

func newKey(seed byte) staticKey {
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	return staticKey{priv: ed25519.NewKeyFromSeed(s)}
}

func (k staticKey) address() string {
	pub, _ := k.priv.Public().(ed25519.PublicKey)
	return keychain.FormatAddress(pub, "mqs.example")
}

func (k staticKey) hexKey() string {
	pub, _ := k.priv.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}

func testSlateJSON(t *testing.T, sigs int, memo string) []byte {
	t.Helper()
	point := func(n byte) keychain.Point {
		p, err := keychain.PublicKey(keychain.Scalar{31: n})
		require.NoError(t, err)
		return p
	}

	s := slate.New(500, 8, 0, keychain.Scalar{31: 3})
	s.Inputs = []slate.Input{{Commit: point(1)}}
	s.Outputs = []slate.Output{{Commit: point(2), Proof: []byte("proof")}}
	for i := range 2 {
		p := slate.Participant{PublicExcess: point(byte(10 + i)), PublicNonce: point(byte(20 + i))}
		if i < sigs {
			sig := keychain.Scalar{31: byte(30 + i)}
			p.PartialSig = &sig
		}
		if i == 0 {
			p.Message = memo
		}
		s.Participants = append(s.Participants, p)
	}

	data, err := s.Marshal()
	require.NoError(t, err)
	return data
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	sender := newKey(1)
	receiver := newKey(2)
	data := testSlateJSON(t, 0, "coffee <&> tea")

	tests := []struct {
		name      string
		recipient string
		encodeKey KeySource
		decodeKey KeySource
		encrypted bool
		signed    bool
	}{
		{"plain", "", nil, nil, false, false},
		{"plain enhanced", "", sender, nil, false, true},
		{"encrypted", receiver.address(), nil, receiver, true, false},
		{"encrypted enhanced", receiver.address(), sender, receiver, true, true},
		{"encrypted to bare key", receiver.hexKey(), sender, receiver, true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			text, err := Encode(data, tc.recipient, tc.encodeKey)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(text, "BEGINSLATEPACK. "))
			assert.True(t, strings.HasSuffix(text, ". ENDSLATEPACK."))

			decoded, err := Decode(text, tc.decodeKey)
			require.NoError(t, err)
			assert.Equal(t, data, decoded.SlateJSON)
			assert.Equal(t, tc.encrypted, decoded.Encrypted)
			assert.Equal(t, PurposeSendInitial, decoded.Purpose)

			if tc.signed {
				assert.Equal(t, sender.hexKey(), decoded.Sender)
			} else {
				assert.Empty(t, decoded.Sender)
			}
			if tc.signed && tc.encrypted {
				assert.Equal(t, receiver.hexKey(), decoded.Recipient)
			} else {
				assert.Empty(t, decoded.Recipient)
			}
		})
	}
}

func TestEncodeCompactsInput(t *testing.T) {
	t.Parallel()
	data := testSlateJSON(t, 0, "")

	var pretty map[string]any
	require.NoError(t, json.Unmarshal(data, &pretty))
	indented, err := json.MarshalIndent(pretty, "", "    ")
	require.NoError(t, err)

	text, err := Encode(indented, "", nil)
	require.NoError(t, err)
	decoded, err := Decode(text, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(decoded.SlateJSON), "\n")
}

func TestPlainIsDeterministic(t *testing.T) {
	t.Parallel()
	data := testSlateJSON(t, 1, "")
	a, err := Encode(data, "", newKey(1))
	require.NoError(t, err)
	b, err := Encode(data, "", newKey(1))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPurpose(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sigs int
		want Purpose
	}{
		{0, PurposeSendInitial},
		{1, PurposeSendResponse},
		{2, PurposeFullSlate},
	}
	for _, tc := range tests {
		t.Run(string(tc.want), func(t *testing.T) {
			t.Parallel()
			text, err := Encode(testSlateJSON(t, tc.sigs, ""), "", nil)
			require.NoError(t, err)
			decoded, err := Decode(text, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, decoded.Purpose)
		})
	}
}

func TestDecodeEncryptedFailures(t *testing.T) {
	t.Parallel()
	receiver := newKey(2)
	text, err := Encode(testSlateJSON(t, 0, ""), receiver.address(), newKey(1))
	require.NoError(t, err)

	_, err = Decode(text, nil)
	require.ErrorIs(t, err, bridgeerr.ErrDecrypt)

	_, err = Decode(text, newKey(3))
	require.ErrorIs(t, err, bridgeerr.ErrDecrypt)

	_, err = Decode(text, staticKey{err: errNoKey})
	require.ErrorIs(t, err, errNoKey)
}

func TestDecodeRejectsForgedSignature(t *testing.T) {
	t.Parallel()
	data := testSlateJSON(t, 0, "")
	text, err := Encode(data, "", newKey(1))
	require.NoError(t, err)

	payload, err := dearmor(text)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(payload, &env))

	// swap in another slate under the original signature
	env.Payload = testSlateJSON(t, 0, "changed")
	forged, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = Decode(armor(forged), nil)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidSlate)
}

func TestEncodeRejects(t *testing.T) {
	t.Parallel()
	data := testSlateJSON(t, 0, "")

	_, err := Encode([]byte("{not json"), "", nil)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidSlate)

	_, err = Encode([]byte(`{"version":1}`), "", nil)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidSlate)

	_, err = Encode(data, "not-an-address", nil)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidAddress)

	_, err = Encode(data, "https://wallet.example/v2/foreign", nil)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidAddress)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()
	valid, err := Encode(testSlateJSON(t, 0, ""), "", nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no armor", "hello"},
		{"no body", "BEGINSLATEPACK. . ENDSLATEPACK."},
		{"bad checksum", strings.Replace(valid, valid[20:21], flip(valid[20]), 1)},
		{"not json", armor([]byte("nope"))},
		{"wrong version", armor([]byte(`{"version":9,"mode":"plain","payload":""}`))},
		{"unknown mode", armor([]byte(`{"version":1,"mode":"zip","payload":""}`))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.text, nil)
			require.ErrorIs(t, err, bridgeerr.ErrInvalidSlate)
		})
	}
}

// flip returns a different base58 character than c.
func flip(c byte) string {
	if c == '2' {
		return "3"
	}
	return "2"
}

func TestArmorLayout(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i)
	}
	text := armor(payload)

	body := strings.TrimSuffix(strings.TrimPrefix(text, armorHeader+" "), ". "+armorFooter)
	lines := strings.Split(body, "\n")
	require.Greater(t, len(lines), 1)
	for i, line := range lines {
		words := strings.Fields(line)
		if i < len(lines)-1 {
			assert.Len(t, words, wordsPerLine)
		}
		for j, w := range words {
			if i == len(lines)-1 && j == len(words)-1 {
				assert.LessOrEqual(t, len(w), wordLength)
				continue
			}
			assert.Len(t, w, wordLength)
		}
	}

	back, err := dearmor(text)
	require.NoError(t, err)
	assert.Equal(t, payload, back)
}
