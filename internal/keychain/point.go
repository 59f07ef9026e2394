// Package keychain is the wallet's cryptographic capability: blinding keys,
// Pedersen commitments, aggregated Schnorr partial signatures, relay address
// keys and rewindable output proofs, all derived from the BIP39 seed.
package keychain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
)

var (
	// ErrInvalidPoint indicates bytes that do not encode a curve point.
	ErrInvalidPoint = errors.New("invalid curve point")

	// ErrInvalidScalar indicates bytes that are not a canonical scalar.
	ErrInvalidScalar = errors.New("invalid scalar")

	// ErrInfinity indicates a sum that collapsed to the point at infinity.
	ErrInfinity = errors.New("point at infinity")
)

// Point is a compressed secp256k1 point. Commitments, public excesses and
// public nonces all use it. It marshals as hex.
type Point [33]byte

// Scalar is a big-endian secp256k1 scalar. Partial signatures and kernel
// offsets use it. It marshals as hex.
type Scalar [32]byte

// MarshalText implements encoding.TextMarshaler.
func (p Point) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(p[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Point) UnmarshalText(text []byte) error {
	return decodeFixedHex(p[:], text, "point")
}

// String returns the hex form.
func (p Point) String() string {
	return hex.EncodeToString(p[:])
}

// IsZero reports whether p is unset.
func (p Point) IsZero() bool {
	return p == Point{}
}

// Validate checks that p decodes to a curve point.
func (p Point) Validate() error {
	_, err := p.jacobian()
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (s Scalar) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scalar) UnmarshalText(text []byte) error {
	return decodeFixedHex(s[:], text, "scalar")
}

// IsZero reports whether s is unset.
func (s Scalar) IsZero() bool {
	return s == Scalar{}
}

func decodeFixedHex(dst, text []byte, what string) error {
	if hex.DecodedLen(len(text)) != len(dst) {
		return fmt.Errorf("%s: want %d hex bytes, got %d chars", what, len(dst), len(text))
	}
	if _, err := hex.Decode(dst, text); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// scalar converts s to a ModNScalar, rejecting values >= N.
func (s Scalar) scalar() (*btcec.ModNScalar, error) {
	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(s[:]); overflow {
		return nil, ErrInvalidScalar
	}
	return &k, nil
}

// RandomScalar returns a uniformly random non-zero scalar.
func RandomScalar() (Scalar, error) {
	for {
		b, err := walletcrypto.RandomBytes(len(Scalar{}))
		if err != nil {
			return Scalar{}, fmt.Errorf("reading randomness: %w", err)
		}
		var k btcec.ModNScalar
		overflow := k.SetByteSlice(b)
		walletcrypto.ZeroBytes(b)
		if !overflow && !k.IsZero() {
			return scalarBytes(&k), nil
		}
	}
}

func scalarBytes(k *btcec.ModNScalar) Scalar {
	return Scalar(k.Bytes())
}

func (p Point) jacobian() (*btcec.JacobianPoint, error) {
	pub, err := btcec.ParsePubKey(p[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPoint, err)
	}
	var j btcec.JacobianPoint
	pub.AsJacobian(&j)
	return &j, nil
}

func isInfinity(j *btcec.JacobianPoint) bool {
	j.X.Normalize()
	j.Y.Normalize()
	j.Z.Normalize()
	return j.Z.IsZero() || (j.X.IsZero() && j.Y.IsZero())
}

func negate(j *btcec.JacobianPoint) {
	j.Y.Normalize()
	j.Y.Negate(1)
	j.Y.Normalize()
}

func serialize(j *btcec.JacobianPoint) (Point, error) {
	if isInfinity(j) {
		return Point{}, ErrInfinity
	}
	affine := *j
	affine.ToAffine()
	var p Point
	copy(p[:], btcec.NewPublicKey(&affine.X, &affine.Y).SerializeCompressed())
	return p, nil
}

// PublicKey returns x·G.
func PublicKey(x Scalar) (Point, error) {
	k, err := x.scalar()
	if err != nil {
		return Point{}, err
	}
	var j btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &j)
	return serialize(&j)
}

// SumPoints adds every point in pos and subtracts every point in neg.
func SumPoints(pos, neg []Point) (Point, error) {
	j, err := sumJacobian(pos, neg)
	if err != nil {
		return Point{}, err
	}
	return serialize(j)
}

func sumJacobian(pos, neg []Point) (*btcec.JacobianPoint, error) {
	var acc btcec.JacobianPoint // Z == 0: infinity
	for _, p := range pos {
		j, err := p.jacobian()
		if err != nil {
			return nil, err
		}
		addInto(&acc, j)
	}
	for _, p := range neg {
		j, err := p.jacobian()
		if err != nil {
			return nil, err
		}
		negate(j)
		addInto(&acc, j)
	}
	return &acc, nil
}

// generatorH is the value generator of the Pedersen commitments. Nobody knows
// its discrete log relative to G: it is the first hash-derived x coordinate
// that lands on the curve.
//
//nolint:gochecknoglobals // derived once, immutable afterwards
var generatorH = sync.OnceValue(func() btcec.JacobianPoint {
	var counter [4]byte
	for i := uint32(0); ; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		x := sha256.Sum256(append([]byte("mwcbridge/pedersen/H"), counter[:]...))
		pub, err := btcec.ParsePubKey(append([]byte{0x02}, x[:]...))
		if err != nil {
			continue
		}
		var j btcec.JacobianPoint
		pub.AsJacobian(&j)
		return j
	}
})

func valueScalar(v uint64) *btcec.ModNScalar {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	var k btcec.ModNScalar
	k.SetByteSlice(b[:])
	return &k
}

// valueTerm returns v·H.
func valueTerm(v uint64) *btcec.JacobianPoint {
	h := generatorH()
	var j btcec.JacobianPoint
	btcec.ScalarMultNonConst(valueScalar(v), &h, &j)
	return &j
}

// addInto sets acc = acc + p.
func addInto(acc, p *btcec.JacobianPoint) {
	var sum btcec.JacobianPoint
	btcec.AddNonConst(acc, p, &sum)
	*acc = sum
}
