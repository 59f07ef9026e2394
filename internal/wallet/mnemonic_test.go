package wallet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// BIP39 test vectors from https://github.com/trezor/python-mnemonic/blob/master/vectors.json
// (passphrase "TREZOR").
//
//nolint:gochecknoglobals // BIP39 test vectors from official specification
var bip39TestVectors = []struct {
	mnemonic string
	seed     string
}{
	{
		mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		seed:     "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04",
	},
	{
		mnemonic: "legal winner thank year wave sausage worth useful legal winner thank yellow",
		seed:     "2e8905819b8723fe2c1d161860e5ee1830318dbf49a83bd451cfb8440c28bd6fa457fe1296106559a3c80937a1c1069be3a3a5bd381ee6260e8d9739fce1f607",
	},
}

func TestGenerateMnemonic(t *testing.T) {
	t.Parallel()

	for _, words := range []int{12, 15, 18, 21, 24} {
		mnemonic, err := GenerateMnemonic(words)
		require.NoError(t, err)
		assert.Len(t, strings.Fields(mnemonic), words)
		require.NoError(t, ValidateMnemonic(mnemonic))
	}
}

func TestGenerateMnemonic_InvalidWordCount(t *testing.T) {
	t.Parallel()

	for _, words := range []int{0, 11, 13, 25} {
		_, err := GenerateMnemonic(words)
		require.ErrorIs(t, err, bridgeerr.ErrInvalidInput)
	}
}

func TestGenerateMnemonic_Randomness(t *testing.T) {
	t.Parallel()
	a, err := GenerateMnemonic(24)
	require.NoError(t, err)
	b, err := GenerateMnemonic(24)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValidateMnemonic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"vector", bip39TestVectors[0].mnemonic, true},
		{"uppercase and commas", "ABANDON, abandon, abandon, abandon, abandon, abandon, abandon, abandon, abandon, abandon, abandon, about", true},
		{"numbered list", "1. abandon\n2. abandon\n3. abandon\n4. abandon\n5. abandon\n6. abandon\n7. abandon\n8. abandon\n9. abandon\n10. abandon\n11. abandon\n12. about", true},
		{"empty", "", false},
		{"too short", "abandon abandon abandon", false},
		{"bad checksum", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", false},
		{"unknown word", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abuot", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateMnemonic(tc.input)
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, bridgeerr.ErrInvalidMnemonic)
		})
	}
}

func TestValidateMnemonic_TypoSuggestion(t *testing.T) {
	t.Parallel()
	err := ValidateMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abuot")

	var be *bridgeerr.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Suggestion, "word 12: 'abuot' - did you mean 'about'?")
}

func TestMnemonicToSeed_WithTestVectors(t *testing.T) {
	t.Parallel()

	for _, v := range bip39TestVectors {
		seed, err := MnemonicToSeed(v.mnemonic, "TREZOR")
		require.NoError(t, err)
		assert.Equal(t, v.seed, hex.EncodeToString(seed))
	}
}

func TestMnemonicToSeed_InvalidMnemonic(t *testing.T) {
	t.Parallel()
	_, err := MnemonicToSeed("not a mnemonic", "")
	require.ErrorIs(t, err, bridgeerr.ErrInvalidMnemonic)
}

func TestSuggestWord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"abandon", "abandon"},
		{"abandn", "abandon"},
		{"ZOO", "zoo"},
		{"qqqqqqqqqq", ""},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, SuggestWord(tc.input))
		})
	}
}

func TestDetectTypos(t *testing.T) {
	t.Parallel()
	assert.Empty(t, DetectTypos(bip39TestVectors[0].mnemonic))
	assert.Empty(t, DetectTypos(""))

	typos := DetectTypos("abandon qqqqqqqqqq abandn")
	require.Len(t, typos, 2)
	assert.Equal(t, 1, typos[0].Index)
	assert.Empty(t, typos[0].Suggestion)
	assert.Equal(t, "abandon", typos[1].Suggestion)
	assert.Equal(t,
		"word 2: 'qqqqqqqqqq' is not a valid BIP39 word\nword 3: 'abandn' - did you mean 'abandon'?",
		FormatTypoSuggestions(typos))
}
