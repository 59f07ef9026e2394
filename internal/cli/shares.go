package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/wallet"
)

func newWalletSharesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shares",
		Short: "Split a recovery phrase into threshold shares, or rebuild it",
		Long: `Split a recovery phrase into shares so that any threshold of them rebuild
it and fewer reveal nothing. Keep the shares in separate places. A wallet can
be recovered straight from shares with "wallet recover --from-shares".`,
	}
	cmd.AddCommand(newSharesSplitCmd(), newSharesCombineCmd())
	return cmd
}

func newSharesSplitCmd() *cobra.Command {
	var n, k int
	cmd := &cobra.Command{
		Use:     "split",
		Short:   "Split a recovery phrase read from stdin",
		Example: "  mwcbridge wallet shares split --shares 5 --threshold 3",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			mnemonic, err := promptMnemonicFn(cc.Err, cmd.InOrStdin())
			if err != nil {
				return err
			}
			shares, err := wallet.SplitMnemonic(mnemonic, n, k)
			if err != nil {
				return err
			}
			res := map[string]any{"threshold": k, "shares": shares}
			return cc.Fmt.Result(res, func(w io.Writer) error {
				if _, err := fmt.Fprintf(w, "Any %d of these %d shares rebuild the phrase:\n\n", k, n); err != nil {
					return err
				}
				for _, s := range shares {
					if _, err := fmt.Fprintln(w, s); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "shares", 3, "number of shares to create")
	cmd.Flags().IntVar(&k, "threshold", 2, "shares needed to rebuild the phrase")
	return cmd
}

func newSharesCombineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "combine",
		Short: "Rebuild a recovery phrase from shares read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			shares, err := readShares(cc.Err, cmd.InOrStdin())
			if err != nil {
				return err
			}
			mnemonic, err := wallet.CombineShares(shares)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(map[string]string{"mnemonic": mnemonic}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, mnemonic)
				return err
			})
		},
	}
}
