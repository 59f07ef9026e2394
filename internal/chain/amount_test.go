package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr bool
	}{
		{"whole", "1", NanoPerMWC, false},
		{"fraction", "1.5", 1_500_000_000, false},
		{"smallest unit", "0.000000001", 1, false},
		{"padded", "  2.0  ", 2 * NanoPerMWC, false},
		{"zero", "0", 0, false},
		{"empty", "", 0, true},
		{"negative", "-1", 0, true},
		{"too precise", "0.0000000001", 0, true},
		{"letters", "abc", 0, true},
		{"two dots", "1.2.3", 0, true},
		{"overflow", "18446744073.709551616", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAmount(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input uint64
		want  string
	}{
		{0, "0"},
		{1, "0.000000001"},
		{NanoPerMWC, "1"},
		{1_500_000_000, "1.5"},
		{123_456_789_012, "123.456789012"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, FormatAmount(tc.input))
		})
	}
}

func TestAmountRoundTrip(t *testing.T) {
	t.Parallel()
	for _, v := range []uint64{0, 1, 999, NanoPerMWC + 7, 18_446_744_073_709_551_615} {
		got, err := ParseAmount(FormatAmount(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
