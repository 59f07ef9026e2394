package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/wallet"
	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const recoverTimeout = 30 * time.Minute

func newWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wallet",
		Short:   "Create, recover, list and delete wallets",
		GroupID: "wallet",
	}
	cmd.AddCommand(
		newWalletInitCmd(),
		newWalletRecoverCmd(),
		newWalletListCmd(),
		newWalletDeleteCmd(),
		newWalletMnemonicCmd(),
		newWalletBackupCmd(),
		newWalletRestoreBackupCmd(),
		newWalletBackupsCmd(),
		newWalletSharesCmd(),
	)
	return cmd
}

// walletFlag registers the --wallet flag every wallet-bound command takes.
func walletFlag(cmd *cobra.Command, name *string) {
	cmd.Flags().StringVarP(name, "wallet", "w", "", "wallet name (required)")
	_ = cmd.MarkFlagRequired("wallet")
}

// openWallet asks for the password and opens the named wallet.
func openWallet(cmd *cobra.Command, name string) (*session.Session, error) {
	cc := GetCmdContext(cmd)
	password, err := readPassword(cc.Err, fmt.Sprintf("Password for %q: ", name))
	if err != nil {
		return nil, err
	}
	defer walletcrypto.ZeroBytes(password)
	return cc.Registry().Open(name, password)
}

type walletCreated struct {
	Name     string `json:"name"`
	Mnemonic string `json:"mnemonic,omitempty"`
	Address  string `json:"address"`
}

func newWalletInitCmd() *cobra.Command {
	var words int
	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Create a wallet from a new recovery phrase",
		Long: `Create a wallet from a freshly generated recovery phrase and encrypt it
with a password. Write the phrase down: it is shown once and is the only way
to recover the funds.`,
		Example: "  mwcbridge wallet init main --words 24",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			mnemonic, err := cc.Registry().GenerateMnemonic(words)
			if err != nil {
				return err
			}
			password, err := promptNewPasswordFn(cc.Err)
			if err != nil {
				return err
			}
			defer walletcrypto.ZeroBytes(password)

			sess, err := cc.Registry().Init(mnemonic, password, args[0])
			if err != nil {
				return err
			}
			addr, err := sess.Address(cc.Cfg.Relay.KeyIndex, cc.Cfg.Relay.Domain)
			if err != nil {
				return err
			}

			res := walletCreated{Name: args[0], Mnemonic: mnemonic, Address: addr}
			return cc.Fmt.Result(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Wallet %q created.\n\nRecovery phrase:\n  %s\n\nAddress: %s\n", res.Name, res.Mnemonic, res.Address)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&words, "words", 24, "recovery phrase length: 12 or 24")
	return cmd
}

type walletRecovered struct {
	Name    string             `json:"name"`
	Address string             `json:"address"`
	Scan    outputs.ScanResult `json:"scan"`
}

func newWalletRecoverCmd() *cobra.Command {
	var fromShares bool
	cmd := &cobra.Command{
		Use:   "recover <name>",
		Short: "Restore a wallet from its recovery phrase and rescan the chain",
		Long: `Restore a wallet from its recovery phrase. The whole chain is scanned for
outputs the wallet owns. If the node is unreachable the wallet is still
created; run "mwcbridge scan" once the node is back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			mnemonic, err := readRecoveryPhrase(cmd, fromShares)
			if err != nil {
				return err
			}
			password, err := promptNewPasswordFn(cc.Err)
			if err != nil {
				return err
			}
			defer walletcrypto.ZeroBytes(password)

			ctx, cancel := contextWithTimeout(cmd, recoverTimeout)
			defer cancel()
			sess, result, err := cc.Registry().Recover(ctx, mnemonic, password, args[0])
			if err != nil {
				return err
			}
			addr, err := sess.Address(cc.Cfg.Relay.KeyIndex, cc.Cfg.Relay.Domain)
			if err != nil {
				return err
			}

			res := walletRecovered{Name: args[0], Address: addr, Scan: result}
			return cc.Fmt.Result(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Wallet %q recovered: %d outputs found.\nAddress: %s\n", res.Name, result.Found, res.Address)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&fromShares, "from-shares", false, "read recovery phrase shares instead of the phrase")
	return cmd
}

// readRecoveryPhrase reads the phrase itself or rebuilds it from shares.
func readRecoveryPhrase(cmd *cobra.Command, fromShares bool) (string, error) {
	cc := GetCmdContext(cmd)
	if !fromShares {
		return promptMnemonicFn(cc.Err, cmd.InOrStdin())
	}
	shares, err := readShares(cc.Err, cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return wallet.CombineShares(shares)
}

func newWalletListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			names, err := cc.Registry().ListWallets()
			if err != nil {
				return err
			}
			if names == nil {
				names = []string{}
			}
			return cc.Fmt.Result(map[string][]string{"wallets": names}, func(w io.Writer) error {
				if len(names) == 0 {
					_, err := fmt.Fprintln(w, "No wallets. Create one with: mwcbridge wallet init <name>")
					return err
				}
				for _, n := range names {
					if _, err := fmt.Fprintln(w, n); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newWalletDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a wallet and its local state",
		Long: `Delete a wallet file, its output store and its transaction log. The
password is required. Funds stay on chain and can be recovered with the
recovery phrase.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			if !yes {
				return bridgeerr.WithSuggestion(
					bridgeerr.Kindf(bridgeerr.ErrInvalidInput, "refusing to delete %q without --yes", args[0]),
					"make sure the recovery phrase is backed up, then pass --yes")
			}
			sess, err := openWallet(cmd, args[0])
			if err != nil {
				return err
			}
			if err := cc.Registry().Delete(sess); err != nil {
				return err
			}
			return cc.Fmt.Success("Wallet %q deleted.", args[0])
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newWalletMnemonicCmd() *cobra.Command {
	var words int
	cmd := &cobra.Command{
		Use:   "mnemonic",
		Short: "Generate a recovery phrase without creating a wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			mnemonic, err := cc.Registry().GenerateMnemonic(words)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(map[string]string{"mnemonic": mnemonic}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, mnemonic)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&words, "words", 24, "recovery phrase length: 12 or 24")
	return cmd
}
