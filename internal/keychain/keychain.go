package keychain

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/blake2b"

	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
)

// Derivation branches under the master key.
const (
	branchOutputs   = 0
	branchAddresses = 1
)

// MaxKeyIndex bounds derivation indices to the hardened range.
const MaxKeyIndex = bip32.FirstHardenedChild - 1

// ErrKeychainWiped is returned after Wipe.
var ErrKeychainWiped = errors.New("keychain has been wiped")

// Role separates the sender and receiver nonces of one slate.
type Role string

// Nonce roles.
const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Keychain derives every wallet secret from the seed. Output blinding keys
// live at m/0'/i', relay address keys at m/1'/i'. Nonces and proof keys are
// keyed blake2b hashes of the master key, so they need no storage.
type Keychain struct {
	outputs   *bip32.Key
	addresses *bip32.Key
	nonceKey  *walletcrypto.SecureBytes
	rewindKey *walletcrypto.SecureBytes
}

// New builds a keychain from a BIP39 seed.
func New(seed []byte) (*Keychain, error) {
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}

	outputs, err := master.NewChildKey(bip32.FirstHardenedChild + branchOutputs)
	if err != nil {
		return nil, fmt.Errorf("deriving output branch: %w", err)
	}
	addresses, err := master.NewChildKey(bip32.FirstHardenedChild + branchAddresses)
	if err != nil {
		return nil, fmt.Errorf("deriving address branch: %w", err)
	}

	k := &Keychain{
		outputs:   outputs,
		addresses: addresses,
		nonceKey:  deriveSubkey(master.Key, "nonce"),
		rewindKey: deriveSubkey(master.Key, "rewind"),
	}
	walletcrypto.ZeroBytes(master.Key)
	return k, nil
}

func deriveSubkey(masterKey []byte, label string) *walletcrypto.SecureBytes {
	h, _ := blake2b.New256(masterKey) // key is 32 bytes, never too long
	h.Write([]byte(label))
	sum := h.Sum(nil)
	defer walletcrypto.ZeroBytes(sum)
	return walletcrypto.SecureBytesFromSlice(sum)
}

// Wipe zeroes all key material. The keychain is unusable afterwards.
func (k *Keychain) Wipe() {
	if k.outputs != nil {
		walletcrypto.ZeroBytes(k.outputs.Key)
		walletcrypto.ZeroBytes(k.outputs.ChainCode)
		k.outputs = nil
	}
	if k.addresses != nil {
		walletcrypto.ZeroBytes(k.addresses.Key)
		walletcrypto.ZeroBytes(k.addresses.ChainCode)
		k.addresses = nil
	}
	k.nonceKey.Destroy()
	k.rewindKey.Destroy()
}

func child(root *bip32.Key, index uint32) ([]byte, error) {
	if root == nil {
		return nil, ErrKeychainWiped
	}
	if index > MaxKeyIndex {
		return nil, fmt.Errorf("key index %d out of range", index)
	}
	c, err := root.NewChildKey(bip32.FirstHardenedChild + index)
	if err != nil {
		return nil, err
	}
	return c.Key, nil
}

// Blind returns the blinding factor of the output at index.
func (k *Keychain) Blind(index uint32) (Scalar, error) {
	key, err := child(k.outputs, index)
	if err != nil {
		return Scalar{}, err
	}
	defer walletcrypto.ZeroBytes(key)

	var s Scalar
	if len(key) > len(s) {
		key = key[len(key)-len(s):]
	}
	copy(s[len(s)-len(key):], key)
	if _, err := s.scalar(); err != nil {
		return Scalar{}, err
	}
	return s, nil
}

// Commit returns the commitment to value under the blind at index.
func (k *Keychain) Commit(value uint64, index uint32) (Point, error) {
	blind, err := k.Blind(index)
	if err != nil {
		return Point{}, err
	}
	return Commit(value, blind)
}

// Nonce returns the deterministic signing nonce for a slate and role.
// A slate id is used for one kernel message only, so nonces never repeat
// across different messages.
func (k *Keychain) Nonce(slateID uuid.UUID, role Role) (Scalar, error) {
	key := k.nonceKey.Bytes()
	if key == nil {
		return Scalar{}, ErrKeychainWiped
	}

	for ctr := uint32(0); ; ctr++ {
		h, _ := blake2b.New256(key)
		h.Write(slateID[:])
		h.Write([]byte(role))
		h.Write(binary.BigEndian.AppendUint32(nil, ctr))

		var s Scalar
		copy(s[:], h.Sum(nil))
		if v, err := s.scalar(); err == nil && !v.IsZero() {
			return s, nil
		}
	}
}

// AddressKey returns the ed25519 key of the relay address at index.
func (k *Keychain) AddressKey(index uint32) (ed25519.PrivateKey, error) {
	key, err := child(k.addresses, index)
	if err != nil {
		return nil, err
	}
	defer walletcrypto.ZeroBytes(key)

	seed := blake2b.Sum256(key)
	defer walletcrypto.ZeroBytes(seed[:])
	return ed25519.NewKeyFromSeed(seed[:]), nil
}

// Address returns the relay address at index, bound to domain if non-empty.
func (k *Keychain) Address(index uint32, domain string) (string, error) {
	priv, err := k.AddressKey(index)
	if err != nil {
		return "", err
	}
	pub, _ := priv.Public().(ed25519.PublicKey)
	return FormatAddress(pub, domain), nil
}
