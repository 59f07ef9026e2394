package slatepack

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const (
	armorHeader = "BEGINSLATEPACK."
	armorFooter = "ENDSLATEPACK."

	// armorVersion is the base58check version byte of the armored payload.
	armorVersion byte = 0x01

	wordLength   = 15
	wordsPerLine = 200
)

// ErrArmor indicates text that is not a well-formed slatepack.
var ErrArmor = errors.New("malformed slatepack armor")

// armor renders payload as "BEGINSLATEPACK. <words> . ENDSLATEPACK.".
func armor(payload []byte) string {
	encoded := base58.CheckEncode(payload, armorVersion)

	var b strings.Builder
	b.WriteString(armorHeader)
	b.WriteByte(' ')
	for i, word := 0, 0; i < len(encoded); i, word = i+wordLength, word+1 {
		if word > 0 {
			if word%wordsPerLine == 0 {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(encoded[i:min(i+wordLength, len(encoded))])
	}
	b.WriteString(". ")
	b.WriteString(armorFooter)
	return b.String()
}

// dearmor extracts and checks the payload of an armored slatepack.
// Whitespace inside the body is ignored.
func dearmor(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, armorHeader) || !strings.HasSuffix(text, armorFooter) {
		return nil, fmt.Errorf("%w: missing header or footer", ErrArmor)
	}

	body := strings.TrimSuffix(strings.TrimPrefix(text, armorHeader), armorFooter)
	body = strings.TrimSpace(body)
	body, ok := strings.CutSuffix(body, ".")
	if !ok {
		return nil, fmt.Errorf("%w: missing body terminator", ErrArmor)
	}
	body = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, body)
	if body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrArmor)
	}

	payload, version, err := base58.CheckDecode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArmor, err)
	}
	if version != armorVersion {
		return nil, fmt.Errorf("%w: unknown armor version %d", ErrArmor, version)
	}
	return payload, nil
}
