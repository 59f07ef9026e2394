package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Decimals is the number of decimal places of one MWC.
	Decimals = 9

	// NanoPerMWC is the number of nanoMWC in one MWC.
	NanoPerMWC uint64 = 1_000_000_000
)

// ErrInvalidAmount indicates an amount string that is not a valid MWC value.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a decimal MWC amount such as "1.5" into nanoMWC.
// Negative values, more than nine decimals and values overflowing uint64 are rejected.
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}

	nano := d.Shift(Decimals)
	if !nano.Equal(nano.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than %d decimals", ErrInvalidAmount, Decimals)
	}
	bi := nano.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return bi.Uint64(), nil
}

// FormatAmount renders nanoMWC as a decimal MWC string without trailing zeros.
func FormatAmount(nano uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(nano), -Decimals).String()
}
