package keychain

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"filippo.io/age"
	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
)

// ErrInvalidAddress indicates a string that is not a wallet address.
var ErrInvalidAddress = errors.New("invalid address")

// AddressKind classifies a parsed address.
type AddressKind string

// Address kinds.
const (
	// KindSlatepack is a bare public key, used for slatepack encryption.
	KindSlatepack AddressKind = "slatepack"
	// KindRelay is a public key bound to a relay domain: <key>@<domain>.
	KindRelay AddressKind = "relay"
	// KindHTTP is a recipient foreign API URL.
	KindHTTP AddressKind = "http"
)

// AddressInfo is the parsed form of an address.
type AddressInfo struct {
	Kind      AddressKind       `json:"kind"`
	PublicKey ed25519.PublicKey `json:"-"`
	Domain    string            `json:"domain,omitempty"`
	URL       string            `json:"url,omitempty"`
}

// PublicKeyHex returns the hex public key, or "" for http addresses.
func (a AddressInfo) PublicKeyHex() string {
	return hex.EncodeToString(a.PublicKey)
}

// FormatAddress renders a public key as an address, appending @domain when set.
func FormatAddress(pub ed25519.PublicKey, domain string) string {
	addr := hex.EncodeToString(pub)
	if domain != "" {
		addr += "@" + domain
	}
	return addr
}

// ParseAddress validates and classifies an address.
func ParseAddress(address string) (AddressInfo, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return AddressInfo{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		u, err := url.Parse(address)
		if err != nil || u.Host == "" {
			return AddressInfo{}, fmt.Errorf("%w: malformed url", ErrInvalidAddress)
		}
		return AddressInfo{Kind: KindHTTP, URL: address}, nil
	}

	keyPart, domain, hasDomain := strings.Cut(address, "@")
	if hasDomain && (domain == "" || strings.ContainsAny(domain, "@/ ")) {
		return AddressInfo{}, fmt.Errorf("%w: malformed relay domain", ErrInvalidAddress)
	}

	pub, err := ParsePublicKey(keyPart)
	if err != nil {
		return AddressInfo{}, err
	}

	info := AddressInfo{Kind: KindSlatepack, PublicKey: pub}
	if hasDomain {
		info.Kind = KindRelay
		info.Domain = domain
	}
	return info, nil
}

// ParsePublicKey decodes a hex ed25519 public key and checks it is on the curve.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: want %d-byte hex public key", ErrInvalidAddress, ed25519.PublicKeySize)
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: not a curve point", ErrInvalidAddress)
	}
	return ed25519.PublicKey(raw), nil
}

// AgeRecipient converts an ed25519 address key to the X25519 age recipient
// that slatepacks are encrypted to.
func AgeRecipient(pub ed25519.PublicKey) (*age.X25519Recipient, error) {
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: not a curve point", ErrInvalidAddress)
	}

	encoded, err := bech32Encode("age", p.BytesMontgomery())
	if err != nil {
		return nil, err
	}
	return age.ParseX25519Recipient(encoded)
}

// AgeIdentity converts an ed25519 address key to the matching X25519 age
// identity. X25519 clamps the scalar the same way ed25519 does, so the
// identity decrypts for AgeRecipient(priv.Public()).
func AgeIdentity(priv ed25519.PrivateKey) (*age.X25519Identity, error) {
	h := sha512.Sum512(priv.Seed())
	defer walletcrypto.ZeroBytes(h[:])

	encoded, err := bech32Encode("age-secret-key-", h[:32])
	if err != nil {
		return nil, err
	}
	return age.ParseX25519Identity(strings.ToUpper(encoded))
}

func bech32Encode(hrp string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}
