// Package shamir splits a secret into threshold shares over GF(2^8). Any k of
// the n shares rebuild the secret; fewer reveal nothing about it.
//
// A share is written as "mwcss1-<k>-<x>-<hex>" so it can be copied by hand.
package shamir

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	prefix = "mwcss1"

	// MaxShares is the largest number of shares a secret can be split into.
	MaxShares = 255
)

var (
	// ErrParams indicates an impossible threshold or share count.
	ErrParams = errors.New("invalid share parameters")

	// ErrShareFormat indicates a share that cannot be parsed.
	ErrShareFormat = errors.New("invalid share")

	// ErrMismatch indicates shares that come from different splits.
	ErrMismatch = errors.New("shares do not belong together")

	// ErrTooFewShares indicates fewer distinct shares than the threshold.
	ErrTooFewShares = errors.New("not enough shares")
)

// Share is one point on each of the per-byte polynomials.
type Share struct {
	Threshold int
	X         byte
	Y         []byte
}

// String encodes the share.
func (s Share) String() string {
	return fmt.Sprintf("%s-%d-%d-%s", prefix, s.Threshold, s.X, hex.EncodeToString(s.Y))
}

// ParseShare decodes a share produced by String. Surrounding whitespace and
// case are ignored.
func ParseShare(text string) (Share, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(text)), "-")
	if len(parts) != 4 || parts[0] != prefix {
		return Share{}, fmt.Errorf("%w: expected %s-<threshold>-<index>-<hex>", ErrShareFormat, prefix)
	}
	k, err := strconv.Atoi(parts[1])
	if err != nil || k < 2 || k > MaxShares {
		return Share{}, fmt.Errorf("%w: threshold %q", ErrShareFormat, parts[1])
	}
	x, err := strconv.Atoi(parts[2])
	if err != nil || x < 1 || x > MaxShares {
		return Share{}, fmt.Errorf("%w: index %q", ErrShareFormat, parts[2])
	}
	y, err := hex.DecodeString(parts[3])
	if err != nil || len(y) == 0 {
		return Share{}, fmt.Errorf("%w: bad share data", ErrShareFormat)
	}
	return Share{Threshold: k, X: byte(x), Y: y}, nil
}

// Split divides secret into n shares, any k of which rebuild it.
func Split(secret []byte, n, k int) ([]Share, error) {
	switch {
	case len(secret) == 0:
		return nil, fmt.Errorf("%w: empty secret", ErrParams)
	case k < 2:
		return nil, fmt.Errorf("%w: threshold must be at least 2", ErrParams)
	case n < k:
		return nil, fmt.Errorf("%w: %d shares cannot meet a threshold of %d", ErrParams, n, k)
	case n > MaxShares:
		return nil, fmt.Errorf("%w: at most %d shares", ErrParams, MaxShares)
	}

	// random holds k-1 coefficients for each secret byte.
	random := make([]byte, len(secret)*(k-1))
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("generating coefficients: %w", err)
	}
	defer clear(random)

	shares := make([]Share, n)
	for i := range shares {
		x := byte(i + 1)
		y := make([]byte, len(secret))
		for b, s := range secret {
			coeffs := random[b*(k-1) : (b+1)*(k-1)]
			// Horner's rule from the highest coefficient down.
			var acc byte
			for j := len(coeffs) - 1; j >= 0; j-- {
				acc = mul(acc, x) ^ coeffs[j]
			}
			y[b] = mul(acc, x) ^ s
		}
		shares[i] = Share{Threshold: k, X: x, Y: y}
	}
	return shares, nil
}

// Combine rebuilds the secret from at least Threshold distinct shares.
// Duplicate shares are ignored.
func Combine(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: none given", ErrTooFewShares)
	}
	k, size := shares[0].Threshold, len(shares[0].Y)

	seen := make(map[byte]bool, len(shares))
	points := make([]Share, 0, k)
	for _, s := range shares {
		if s.Threshold != k || len(s.Y) != size {
			return nil, ErrMismatch
		}
		if s.X == 0 || seen[s.X] {
			continue
		}
		seen[s.X] = true
		points = append(points, s)
		if len(points) == k {
			break
		}
	}
	if len(points) < k {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewShares, len(points), k)
	}

	// Lagrange basis at x = 0 is the same for every byte.
	basis := make([]byte, k)
	for i, pi := range points {
		w := byte(1)
		for j, pj := range points {
			if i != j {
				w = mul(w, div(pj.X, pj.X^pi.X))
			}
		}
		basis[i] = w
	}

	secret := make([]byte, size)
	for b := range secret {
		var v byte
		for i, p := range points {
			v ^= mul(p.Y[b], basis[i])
		}
		secret[b] = v
	}
	return secret, nil
}
