package keychain

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

const proofPlaintextLen = 8 + 4 // value ‖ key index

// ErrNotOurs indicates a proof that this keychain cannot rewind.
var ErrNotOurs = errors.New("output does not belong to this wallet")

// SealProof returns the rewind proof attached to an output commitment. Only a
// keychain from the same seed can open it to recover value and key index.
func (k *Keychain) SealProof(commit Point, value uint64, index uint32) ([]byte, error) {
	aead, err := k.proofCipher(commit)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 0, proofPlaintextLen)
	msg = binary.BigEndian.AppendUint64(msg, value)
	msg = binary.BigEndian.AppendUint32(msg, index)

	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(nil, nonce, msg, commit[:]), nil
}

// RewindProof opens a proof sealed by SealProof and checks that the recovered
// value and key index reproduce the commitment.
func (k *Keychain) RewindProof(commit Point, proof []byte) (value uint64, index uint32, err error) {
	aead, err := k.proofCipher(commit)
	if err != nil {
		return 0, 0, err
	}

	nonce := make([]byte, aead.NonceSize())
	msg, err := aead.Open(nil, nonce, proof, commit[:])
	if err != nil || len(msg) != proofPlaintextLen {
		return 0, 0, ErrNotOurs
	}

	value = binary.BigEndian.Uint64(msg[:8])
	index = binary.BigEndian.Uint32(msg[8:])

	expected, err := k.Commit(value, index)
	if err != nil || expected != commit {
		return 0, 0, ErrNotOurs
	}
	return value, index, nil
}

func (k *Keychain) proofCipher(commit Point) (cipher.AEAD, error) {
	key := k.rewindKey.Bytes()
	if key == nil {
		return nil, ErrKeychainWiped
	}

	h, _ := blake2b.New256(key)
	h.Write(commit[:])
	return chacha20poly1305.New(h.Sum(nil))
}
