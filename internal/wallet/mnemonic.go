// Package wallet provides wallet file storage and BIP39 mnemonic handling.
package wallet

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/tyler-smith/go-bip39"

	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

var (
	// ErrInvalidWordCount indicates an unsupported mnemonic length.
	ErrInvalidWordCount = bridgeerr.WithSuggestion(bridgeerr.ErrInvalidInput, "word count must be 12, 15, 18, 21 or 24")

	// ErrInvalidMnemonic indicates the mnemonic is not valid.
	ErrInvalidMnemonic = bridgeerr.ErrInvalidMnemonic

	// whitespaceRegex matches one or more whitespace characters.
	whitespaceRegex = regexp.MustCompile(`\s+`)

	// numberedListRegex matches numbered list prefixes like "1." "2)" "3:"
	numberedListRegex = regexp.MustCompile(`(?m)^\s*\d+[\.\)\:]\s*`)
)

// entropyBits maps supported word counts to BIP39 entropy sizes.
//
//nolint:gochecknoglobals // fixed lookup table
var entropyBits = map[int]int{12: 128, 15: 160, 18: 192, 21: 224, 24: 256}

// GenerateMnemonic creates a new BIP39 recovery phrase with wordCount words.
func GenerateMnemonic(wordCount int) (string, error) {
	bits, ok := entropyBits[wordCount]
	if !ok {
		return "", ErrInvalidWordCount
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", err
	}

	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic checks word count, word list membership and checksum.
// Misspelled words produce an error carrying suggestions.
func ValidateMnemonic(mnemonic string) error {
	normalized := NormalizeMnemonicInput(mnemonic)
	if normalized == "" {
		return ErrInvalidMnemonic
	}

	if _, ok := entropyBits[len(strings.Fields(normalized))]; !ok {
		return bridgeerr.WithSuggestion(ErrInvalidMnemonic, "a recovery phrase has 12, 15, 18, 21 or 24 words")
	}

	if typos := DetectTypos(normalized); len(typos) > 0 {
		return bridgeerr.WithSuggestion(ErrInvalidMnemonic, FormatTypoSuggestions(typos))
	}

	if _, err := bip39.MnemonicToByteArray(normalized); err != nil {
		return bridgeerr.WithSuggestion(ErrInvalidMnemonic, "checksum mismatch - check the word order")
	}

	return nil
}

// NormalizeMnemonicInput lowercases, strips list numbering and commas, and
// collapses whitespace.
func NormalizeMnemonicInput(input string) string {
	input = strings.ToLower(input)
	input = numberedListRegex.ReplaceAllString(input, " ")
	input = strings.ReplaceAll(input, ",", " ")
	input = whitespaceRegex.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// MnemonicToSeed validates the phrase and returns the 64-byte BIP39 seed.
// The returned seed should be zeroed after use.
func MnemonicToSeed(mnemonic, passphrase string) ([]byte, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	return bip39.NewSeed(NormalizeMnemonicInput(mnemonic), passphrase), nil
}

// MaxTypoDistance is the maximum Levenshtein distance to consider a suggestion.
const MaxTypoDistance = 2

// TypoInfo describes a word that is not in the BIP39 list.
type TypoInfo struct {
	Index      int    // 0-based word position
	Word       string // word as typed
	Suggestion string // closest list word, empty if none is close
}

// SuggestWord returns the closest BIP39 word to input, or "" when nothing is
// within MaxTypoDistance.
func SuggestWord(input string) string {
	input = strings.ToLower(input)

	minDist := math.MaxInt
	var suggestion string
	for _, word := range bip39.GetWordList() {
		dist := levenshtein.ComputeDistance(input, word)
		if dist == 0 {
			return word
		}
		if dist < minDist {
			minDist = dist
			suggestion = word
		}
	}

	if minDist <= MaxTypoDistance {
		return suggestion
	}
	return ""
}

// DetectTypos lists words of mnemonic that are not in the BIP39 word list.
func DetectTypos(mnemonic string) []TypoInfo {
	var typos []TypoInfo
	for i, word := range strings.Fields(NormalizeMnemonicInput(mnemonic)) {
		if _, ok := bip39.GetWordIndex(word); ok {
			continue
		}
		typos = append(typos, TypoInfo{Index: i, Word: word, Suggestion: SuggestWord(word)})
	}
	return typos
}

// FormatTypoSuggestions renders typos one per line, 1-indexed.
func FormatTypoSuggestions(typos []TypoInfo) string {
	lines := make([]string, 0, len(typos))
	for _, typo := range typos {
		line := "word " + strconv.Itoa(typo.Index+1) + ": '" + typo.Word + "'"
		if typo.Suggestion != "" {
			line += " - did you mean '" + typo.Suggestion + "'?"
		} else {
			line += " is not a valid BIP39 word"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
