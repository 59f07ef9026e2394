package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const minPasswordLength = 8

// Prompt hooks, replaced in tests.
//
//nolint:gochecknoglobals // swapped by tests to avoid a terminal
var (
	promptPasswordFn    = promptPassword
	promptNewPasswordFn = promptNewPassword
	promptMnemonicFn    = promptMnemonic
)

// readPassword returns the wallet password from MWCBRIDGE_PASSWORD or a
// hidden prompt. The caller zeroes the returned bytes.
func readPassword(w io.Writer, prompt string) ([]byte, error) {
	if v, ok := os.LookupEnv(config.EnvPassword); ok {
		return []byte(v), nil
	}
	return promptPasswordFn(w, prompt)
}

// promptPassword prompts for a password with hidden input.
func promptPassword(w io.Writer, prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // G115: Fd() returns uintptr, safe conversion for term.ReadPassword
	if !term.IsTerminal(fd) {
		return nil, bridgeerr.WithSuggestion(
			bridgeerr.Kindf(bridgeerr.ErrInvalidInput, "no terminal to read the password from"),
			"set "+config.EnvPassword+" when running non-interactively")
	}
	_, _ = fmt.Fprint(w, prompt)
	password, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return password, nil
}

// promptNewPassword prompts for a new password twice.
func promptNewPassword(w io.Writer) ([]byte, error) {
	if v, ok := os.LookupEnv(config.EnvPassword); ok {
		return []byte(v), nil
	}
	password, err := promptPasswordFn(w, "New wallet password: ")
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		walletcrypto.ZeroBytes(password)
		return nil, bridgeerr.WithSuggestion(bridgeerr.ErrInvalidInput,
			fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	confirm, err := promptPasswordFn(w, "Confirm password: ")
	if err != nil {
		walletcrypto.ZeroBytes(password)
		return nil, err
	}
	defer walletcrypto.ZeroBytes(confirm)
	if string(password) != string(confirm) {
		walletcrypto.ZeroBytes(password)
		return nil, bridgeerr.WithSuggestion(bridgeerr.ErrInvalidInput, "passwords do not match")
	}
	return password, nil
}

// promptMnemonic reads a recovery phrase from one line of r.
func promptMnemonic(w io.Writer, r io.Reader) (string, error) {
	_, _ = fmt.Fprint(w, "Recovery phrase (all words on one line): ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading recovery phrase: %w", err)
	}
	phrase := strings.Join(strings.Fields(line), " ")
	if phrase == "" {
		return "", bridgeerr.WithSuggestion(bridgeerr.ErrInvalidMnemonic, "no recovery phrase entered")
	}
	return phrase, nil
}

// readShares reads recovery phrase shares from r, one per line, until EOF or
// a blank line after the first share.
func readShares(w io.Writer, r io.Reader) ([]string, error) {
	_, _ = fmt.Fprintln(w, "Enter shares, one per line, then an empty line:")
	var shares []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if len(shares) > 0 {
				break
			}
			continue
		}
		shares = append(shares, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading shares: %w", err)
	}
	if len(shares) == 0 {
		return nil, bridgeerr.WithSuggestion(bridgeerr.ErrInvalidInput, "no shares entered")
	}
	return shares, nil
}
