// Package walletcrypto protects wallet key material at rest and in memory.
package walletcrypto

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"filippo.io/age"
)

// defaultScryptWorkFactor is the age default (log2 of the scrypt N parameter).
const defaultScryptWorkFactor = 18

// ErrWrongPassword is returned by Decrypt when the password does not unlock the ciphertext.
var ErrWrongPassword = errors.New("wrong password or corrupted ciphertext")

//nolint:gochecknoglobals // tests lower the work factor once in TestMain
var scryptWorkFactor atomic.Int32

func init() { //nolint:gochecknoinits // default must be set before any Encrypt call
	scryptWorkFactor.Store(defaultScryptWorkFactor)
}

// SetScryptWorkFactor overrides the scrypt work factor used by Encrypt.
// Values outside 1..30 are ignored.
func SetScryptWorkFactor(logN int) {
	if logN < 1 || logN > 30 {
		return
	}
	scryptWorkFactor.Store(int32(logN)) //nolint:gosec // G115: bounded above
}

// Encrypt encrypts plaintext using age with a password-based recipient.
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(password)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(int(scryptWorkFactor.Load()))

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing encrypted data: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}

	return buf.Bytes(), nil
}

// Decrypt decrypts ciphertext using age with a password-based identity.
// Any failure to unwrap the file key is reported as ErrWrongPassword.
func Decrypt(ciphertext []byte, password string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(password)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	// Accept whatever work factor the file was written with.
	identity.SetMaxWorkFactor(30)

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrongPassword, err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted data: %w", err)
	}

	return plaintext, nil
}

// DecryptSecure decrypts ciphertext straight into SecureBytes.
func DecryptSecure(ciphertext []byte, password string) (*SecureBytes, error) {
	plaintext, err := Decrypt(ciphertext, password)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(plaintext)

	return SecureBytesFromSlice(plaintext), nil
}
