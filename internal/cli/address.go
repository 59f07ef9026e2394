package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/output"
	"github.com/mrz1836/mwcbridge/internal/service/query"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

func newAddressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "address",
		Short:   "Show and validate wallet addresses",
		GroupID: "wallet",
	}
	cmd.AddCommand(newAddressShowCmd(), newAddressValidateCmd())
	return cmd
}

type addressReport struct {
	Wallet  string `json:"wallet"`
	Index   uint32 `json:"index"`
	Address string `json:"address"`
}

func newAddressShowCmd() *cobra.Command {
	var (
		wallet string
		index  uint32
		domain string
		qr     bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the receiving address of a key index",
		Long: `Show the address other wallets send to. Without a relay domain the
bare slatepack address is printed.`,
		Example: "  mwcbridge address show --wallet main --qr",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}

			relayCfg := cc.Cfg.Relay
			if cmd.Flags().Changed("domain") {
				relayCfg.Domain = domain
			}
			if !cmd.Flags().Changed("index") {
				index = relayCfg.KeyIndex
			}
			addr, err := cc.Queries().WalletAddress(sess, index, relayCfg)
			if err != nil {
				return err
			}

			res := addressReport{Wallet: wallet, Index: index, Address: addr}
			return cc.Fmt.Result(res, func(w io.Writer) error {
				if _, err := fmt.Fprintln(w, addr); err != nil {
					return err
				}
				if qr {
					if !output.CanRenderQR(w) {
						output.Warn(cc.Err, "QR output may not display correctly outside a terminal")
					}
					return output.RenderQR(w, addr)
				}
				return nil
			})
		},
	}
	walletFlag(cmd, &wallet)
	cmd.Flags().Uint32Var(&index, "index", 0, "address key index (default relay.key_index)")
	cmd.Flags().StringVar(&domain, "domain", "", "relay domain (default relay.domain, empty for a bare address)")
	cmd.Flags().BoolVar(&qr, "qr", false, "also print the address as a QR code")
	return cmd
}

func newAddressValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <address>",
		Short: "Check whether an address is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			res := query.ValidateAddress(args[0])
			err := cc.Fmt.Result(res, func(w io.Writer) error {
				if !res.Valid {
					return nil
				}
				if res.Domain != "" {
					_, err := fmt.Fprintf(w, "valid %s address on %s\n", res.Kind, res.Domain)
					return err
				}
				_, err := fmt.Fprintf(w, "valid %s address\n", res.Kind)
				return err
			})
			if err != nil {
				return err
			}
			if !res.Valid {
				return bridgeerr.WithDetails(
					bridgeerr.Kindf(bridgeerr.ErrInvalidAddress, "%s", res.Reason),
					map[string]string{"address": res.Address})
			}
			return nil
		},
	}
}
