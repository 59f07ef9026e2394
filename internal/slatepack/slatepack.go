// Package slatepack encodes slates as armored slatepacks and back. A
// slatepack is plain or age-encrypted to the recipient's address key, and
// when produced by a wallet session it also carries the sender's key and an
// ed25519 signature over the slate.
package slatepack

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/slate"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Version is the envelope version written by this package.
const Version = 1

// signingContext separates slatepack signatures from any other use of the
// address key.
const signingContext = "mwcbridge-slatepack-v1"

// maxPayload bounds a decrypted payload.
const maxPayload = 1 << 20

// Mode tells whether the envelope payload is encrypted.
type Mode string

// Envelope modes.
const (
	ModePlain     Mode = "plain"
	ModeEncrypted Mode = "encrypted"
)

// Purpose is the protocol step a slatepack carries, inferred from the number
// of partial signatures on the slate.
type Purpose string

// Purposes.
const (
	PurposeSendInitial  Purpose = "send_initial"
	PurposeSendResponse Purpose = "send_response"
	PurposeFullSlate    Purpose = "full_slate"
)

// KeySource supplies the address key a session encodes and decodes with.
type KeySource interface {
	SlatepackKey() (ed25519.PrivateKey, error)
}

// Decoded is the result of Decode.
type Decoded struct {
	SlateJSON []byte  `json:"slate_json"`
	Sender    string  `json:"sender,omitempty"`    // hex ed25519 key
	Recipient string  `json:"recipient,omitempty"` // hex ed25519 key
	Encrypted bool    `json:"encrypted"`
	Purpose   Purpose `json:"purpose"`
}

// envelope is the armored JSON document. Plain enhanced slatepacks carry the
// signature fields here, encrypted ones inside the ciphertext.
type envelope struct {
	Version int    `json:"version"`
	Mode    Mode   `json:"mode"`
	Payload []byte `json:"payload"`
	signature
}

// content is the plaintext of an encrypted payload.
type content struct {
	Slate []byte `json:"slate"`
	signature
}

type signature struct {
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

func (s signature) present() bool {
	return s.Sender != "" || len(s.Signature) > 0
}

// PurposeOf infers the purpose of a slate.
func PurposeOf(s *slate.Slate) Purpose {
	switch s.SignatureCount() {
	case 0:
		return PurposeSendInitial
	case 1:
		return PurposeSendResponse
	default:
		return PurposeFullSlate
	}
}

// Encode armors slateJSON. A non-empty recipient address encrypts it to that
// address. A non-nil key source makes it enhanced: the sender's key and
// signature are included.
func Encode(slateJSON []byte, recipient string, keys KeySource) (string, error) {
	compact, err := canonical(slateJSON)
	if err != nil {
		return "", err
	}

	var recipientKey ed25519.PublicKey
	if recipient != "" {
		info, err := keychain.ParseAddress(recipient)
		if err != nil || info.Kind == keychain.KindHTTP {
			return "", bridgeerr.Kindf(bridgeerr.ErrInvalidAddress, "slatepack recipient %q", recipient)
		}
		recipientKey = info.PublicKey
	}

	var sig signature
	if keys != nil {
		priv, err := keys.SlatepackKey()
		if err != nil {
			return "", bridgeerr.Wrap(err, "loading slatepack key")
		}
		sig = sign(priv, recipientKey, compact)
	}

	env := envelope{Version: Version, Mode: ModePlain}
	if recipientKey == nil {
		env.Payload = compact
		env.signature = sig
	} else {
		plain, err := json.Marshal(content{Slate: compact, signature: sig})
		if err != nil {
			return "", fmt.Errorf("encoding slatepack content: %w", err)
		}
		ciphertext, err := encrypt(plain, recipientKey)
		if err != nil {
			return "", err
		}
		env.Mode = ModeEncrypted
		env.Payload = ciphertext
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encoding slatepack envelope: %w", err)
	}
	return armor(data), nil
}

// Decode unarmors a slatepack. Encrypted slatepacks need a key source whose
// key the slatepack was encrypted to.
func Decode(text string, keys KeySource) (*Decoded, error) {
	data, err := dearmor(text)
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidSlate, "slatepack envelope: %w", err)
	}
	if env.Version != Version {
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidSlate, "unsupported slatepack version %d", env.Version)
	}

	out := &Decoded{}
	slateJSON := env.Payload
	sig := env.signature

	switch env.Mode {
	case ModePlain:
	case ModeEncrypted:
		if keys == nil {
			return nil, bridgeerr.Kindf(bridgeerr.ErrDecrypt, "slatepack is encrypted and no wallet session was given")
		}
		priv, err := keys.SlatepackKey()
		if err != nil {
			return nil, bridgeerr.Wrap(err, "loading slatepack key")
		}
		plain, err := decrypt(env.Payload, priv)
		if err != nil {
			return nil, err
		}
		var c content
		if err := json.Unmarshal(plain, &c); err != nil {
			return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidSlate, "slatepack content: %w", err)
		}
		slateJSON, sig = c.Slate, c.signature
		out.Encrypted = true
	default:
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidSlate, "unknown slatepack mode %q", env.Mode)
	}

	if sig.present() {
		if err := verify(sig, slateJSON); err != nil {
			return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
		}
		out.Sender = sig.Sender
		out.Recipient = sig.Recipient
	}

	s, err := slate.Parse(slateJSON)
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	}
	out.SlateJSON = slateJSON
	out.Purpose = PurposeOf(s)
	return out, nil
}

// canonical validates slate JSON and returns its compact form.
func canonical(slateJSON []byte) ([]byte, error) {
	compact, err := slate.Compact(slateJSON)
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	}
	if _, err := slate.Parse(compact); err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	}
	return compact, nil
}

func signedMessage(recipient ed25519.PublicKey, slateJSON []byte) []byte {
	msg := make([]byte, 0, len(signingContext)+len(recipient)+len(slateJSON))
	msg = append(msg, signingContext...)
	msg = append(msg, recipient...)
	return append(msg, slateJSON...)
}

func sign(priv ed25519.PrivateKey, recipient ed25519.PublicKey, slateJSON []byte) signature {
	pub, _ := priv.Public().(ed25519.PublicKey)
	s := signature{
		Sender:    hex.EncodeToString(pub),
		Signature: ed25519.Sign(priv, signedMessage(recipient, slateJSON)),
	}
	if recipient != nil {
		s.Recipient = hex.EncodeToString(recipient)
	}
	return s
}

var errBadSignature = errors.New("slatepack signature does not verify")

func verify(s signature, slateJSON []byte) error {
	sender, err := keychain.ParsePublicKey(s.Sender)
	if err != nil {
		return fmt.Errorf("slatepack sender: %w", err)
	}

	var recipient ed25519.PublicKey
	if s.Recipient != "" {
		if recipient, err = keychain.ParsePublicKey(s.Recipient); err != nil {
			return fmt.Errorf("slatepack recipient: %w", err)
		}
	}

	if !ed25519.Verify(sender, signedMessage(recipient, slateJSON), s.Signature) {
		return errBadSignature
	}
	return nil
}

func encrypt(plain []byte, to ed25519.PublicKey) ([]byte, error) {
	recipient, err := keychain.AgeRecipient(to)
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidAddress, err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("encrypting slatepack: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func decrypt(ciphertext []byte, priv ed25519.PrivateKey) ([]byte, error) {
	identity, err := keychain.AgeIdentity(priv)
	if err != nil {
		return nil, fmt.Errorf("deriving slatepack identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrDecrypt, err)
	}
	plain, err := io.ReadAll(io.LimitReader(r, maxPayload+1))
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrDecrypt, err)
	}
	if len(plain) > maxPayload {
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidSlate, "slatepack payload exceeds %d bytes", maxPayload)
	}
	return plain, nil
}
