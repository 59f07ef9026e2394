package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/slatepack"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// maxInputSize caps slate and slatepack input read from files or stdin.
const maxInputSize = 4 << 20

// readInput reads the single optional file argument, or stdin when it is
// missing or "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0]) //nolint:gosec // user-supplied input file
		if err != nil {
			return "", bridgeerr.Kind(bridgeerr.ErrInvalidInput, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize))
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", bridgeerr.Kindf(bridgeerr.ErrInvalidInput, "no input")
	}
	return text, nil
}

func newSlatepackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "slatepack",
		Short:   "Encode and decode slatepacks",
		GroupID: "tx",
	}
	cmd.AddCommand(newSlatepackDecodeCmd(), newSlatepackEncodeCmd())
	return cmd
}

type decodedReport struct {
	ID        string            `json:"id"`
	State     slate.State       `json:"state"`
	Amount    uint64            `json:"amount"`
	Fee       uint64            `json:"fee"`
	Purpose   slatepack.Purpose `json:"purpose"`
	Encrypted bool              `json:"encrypted"`
	Sender    string            `json:"sender,omitempty"`
	Recipient string            `json:"recipient,omitempty"`
	Slate     json.RawMessage   `json:"slate"`
}

func newSlatepackDecodeCmd() *cobra.Command {
	var wallet string
	cmd := &cobra.Command{
		Use:   "decode [file|-]",
		Short: "Decode a slatepack and show the slate inside",
		Long: `Decode a slatepack read from a file or stdin. Encrypted slatepacks need
--wallet so the address key can decrypt them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			var keys slatepack.KeySource
			if wallet != "" {
				sess, err := openWallet(cmd, wallet)
				if err != nil {
					return err
				}
				keys = sess.KeySource(cc.Cfg.Relay.KeyIndex)
			}
			decoded, err := slatepack.Decode(text, keys)
			if err != nil {
				return err
			}
			sl, err := slate.Parse(decoded.SlateJSON)
			if err != nil {
				return bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
			}

			res := decodedReport{
				ID:        sl.ID.String(),
				State:     sl.State,
				Amount:    sl.Amount,
				Fee:       sl.Fee,
				Purpose:   decoded.Purpose,
				Encrypted: decoded.Encrypted,
				Sender:    decoded.Sender,
				Recipient: decoded.Recipient,
				Slate:     decoded.SlateJSON,
			}
			return cc.Fmt.Result(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Slate %s (%s, %s)\nAmount: %s MWC\nFee:    %s MWC\n",
					res.ID, res.State, res.Purpose, chain.FormatAmount(res.Amount), chain.FormatAmount(res.Fee))
				if err != nil {
					return err
				}
				if res.Sender != "" {
					_, err = fmt.Fprintf(w, "Signed by %s\n", res.Sender)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&wallet, "wallet", "w", "", "wallet whose address key decrypts the slatepack")
	return cmd
}

func newSlatepackEncodeCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "encode [file|-]",
		Short: "Armor slate JSON as a slatepack",
		Long: `Armor slate JSON read from a file or stdin. The result carries no sender
signature; with --to it is encrypted to that address.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			armored, err := slatepack.Encode([]byte(text), to, nil)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(map[string]string{"slatepack": armored}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, armored)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "encrypt to this address")
	return cmd
}
