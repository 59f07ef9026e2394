package shamir

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldInverse(t *testing.T) {
	t.Parallel()
	for a := 1; a < 256; a++ {
		inv := div(1, byte(a))
		assert.Equal(t, byte(1), mul(byte(a), inv), "a=%d", a)
	}
	assert.Equal(t, byte(0x9b), mul(0x80, 3))
}

func TestSplitCombine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		size int
		n, k int
	}{
		{"12 word entropy", 16, 3, 2},
		{"24 word entropy", 32, 5, 3},
		{"threshold equals count", 32, 5, 5},
		{"max shares", 16, MaxShares, 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			secret := make([]byte, tc.size)
			_, err := rand.Read(secret)
			require.NoError(t, err)

			shares, err := Split(secret, tc.n, tc.k)
			require.NoError(t, err)
			require.Len(t, shares, tc.n)

			// The last k shares work as well as the first k.
			got, err := Combine(shares[tc.n-tc.k:])
			require.NoError(t, err)
			assert.Equal(t, secret, got)

			got, err = Combine(shares[:tc.k])
			require.NoError(t, err)
			assert.Equal(t, secret, got)

			_, err = Combine(shares[:tc.k-1])
			require.ErrorIs(t, err, ErrTooFewShares)
		})
	}
}

func TestCombineIgnoresDuplicates(t *testing.T) {
	t.Parallel()
	secret := []byte("recovery entropy")
	shares, err := Split(secret, 3, 2)
	require.NoError(t, err)

	_, err = Combine([]Share{shares[0], shares[0]})
	require.ErrorIs(t, err, ErrTooFewShares)

	got, err := Combine([]Share{shares[0], shares[0], shares[2]})
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestCombineMismatch(t *testing.T) {
	t.Parallel()
	a, err := Split([]byte("first secret...."), 3, 2)
	require.NoError(t, err)
	b, err := Split([]byte("second"), 3, 3)
	require.NoError(t, err)

	_, err = Combine([]Share{a[0], b[1]})
	require.ErrorIs(t, err, ErrMismatch)
}

func TestSplitParams(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		secret []byte
		n, k   int
	}{
		{"empty secret", nil, 3, 2},
		{"threshold one", []byte{1}, 3, 1},
		{"fewer shares than threshold", []byte{1}, 2, 3},
		{"too many shares", []byte{1}, MaxShares + 1, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Split(tc.secret, tc.n, tc.k)
			require.ErrorIs(t, err, ErrParams)
		})
	}
}

func TestParseShare(t *testing.T) {
	t.Parallel()
	shares, err := Split([]byte{0xde, 0xad}, 2, 2)
	require.NoError(t, err)

	text := shares[1].String()
	assert.Regexp(t, `^mwcss1-2-2-[0-9a-f]{4}$`, text)

	parsed, err := ParseShare("  " + text + "\n")
	require.NoError(t, err)
	assert.Equal(t, shares[1], parsed)

	for _, bad := range []string{
		"",
		"ssss-v1-2-1-abcd",
		"mwcss1-1-1-abcd",
		"mwcss1-2-0-abcd",
		"mwcss1-2-256-abcd",
		"mwcss1-2-1-xyz",
		"mwcss1-2-1-",
	} {
		_, err := ParseShare(bad)
		require.ErrorIs(t, err, ErrShareFormat, bad)
	}
}
