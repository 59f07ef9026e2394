package keychain

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/blake2b"
)

// ErrBadSignature indicates a partial or aggregate signature that does not verify.
var ErrBadSignature = errors.New("signature does not verify")

// KernelMessage is what every participant signs: the aggregated nonce and
// excess plus the kernel features.
type KernelMessage struct {
	NonceSum   Point
	ExcessSum  Point
	Fee        uint64
	LockHeight uint64
}

// challenge returns e = H(R ‖ P ‖ fee ‖ lock_height) mod N.
func (m KernelMessage) challenge() *btcec.ModNScalar {
	buf := make([]byte, 0, 2*len(Point{})+16)
	buf = append(buf, m.NonceSum[:]...)
	buf = append(buf, m.ExcessSum[:]...)
	buf = binary.BigEndian.AppendUint64(buf, m.Fee)
	buf = binary.BigEndian.AppendUint64(buf, m.LockHeight)

	h := blake2b.Sum256(buf)
	var e btcec.ModNScalar
	e.SetByteSlice(h[:])
	return &e
}

// PartialSign returns s = nonce + e·secret.
func PartialSign(msg KernelMessage, secret, nonce Scalar) (Scalar, error) {
	x, err := secret.scalar()
	if err != nil {
		return Scalar{}, err
	}
	k, err := nonce.scalar()
	if err != nil {
		return Scalar{}, err
	}

	s := new(btcec.ModNScalar).Mul2(msg.challenge(), x)
	s.Add(k)
	return scalarBytes(s), nil
}

// VerifyPartial checks s·G == R_i + e·P_i for one participant. It also
// verifies aggregate signatures when given the sums.
func VerifyPartial(msg KernelMessage, sig Scalar, pubNonce, pubExcess Point) error {
	s, err := sig.scalar()
	if err != nil {
		return err
	}
	r, err := pubNonce.jacobian()
	if err != nil {
		return err
	}
	p, err := pubExcess.jacobian()
	if err != nil {
		return err
	}

	var lhs, eP, rhs btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(s, &lhs)
	btcec.ScalarMultNonConst(msg.challenge(), p, &eP)
	btcec.AddNonConst(r, &eP, &rhs)

	negate(&rhs)
	addInto(&lhs, &rhs)
	if !isInfinity(&lhs) {
		return ErrBadSignature
	}
	return nil
}
