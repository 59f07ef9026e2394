package keychain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Commit returns the Pedersen commitment blind·G + value·H.
func Commit(value uint64, blind Scalar) (Point, error) {
	r, err := blind.scalar()
	if err != nil {
		return Point{}, err
	}

	var rG btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(r, &rG)
	addInto(&rG, valueTerm(value))
	return serialize(&rG)
}

// VerifyBalance checks the Mimblewimble balance equation
//
//	Σoutputs − Σinputs + fee·H − offset·G == excess
//
// where excess is the aggregated public kernel excess.
func VerifyBalance(outputs, inputs []Point, fee uint64, offset Scalar, excess Point) error {
	k, err := offset.scalar()
	if err != nil {
		return fmt.Errorf("kernel offset: %w", err)
	}

	sum, err := sumJacobian(outputs, append(append([]Point(nil), inputs...), excess))
	if err != nil {
		return err
	}
	addInto(sum, valueTerm(fee))

	var offG btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &offG)
	negate(&offG)
	addInto(sum, &offG)

	if !isInfinity(sum) {
		return fmt.Errorf("commitments do not sum to the kernel excess")
	}
	return nil
}

// AddScalars returns the sum of pos minus the sum of neg, mod N.
func AddScalars(pos, neg []Scalar) (Scalar, error) {
	var acc btcec.ModNScalar
	for _, s := range pos {
		k, err := s.scalar()
		if err != nil {
			return Scalar{}, err
		}
		acc.Add(k)
	}
	for _, s := range neg {
		k, err := s.scalar()
		if err != nil {
			return Scalar{}, err
		}
		acc.Add(k.Negate())
	}
	return scalarBytes(&acc), nil
}
