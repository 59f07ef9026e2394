package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/output"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/service/query"
)

const (
	queryTimeout = 2 * time.Minute
	scanTimeout  = 30 * time.Minute
)

func newBalanceCmd() *cobra.Command {
	var (
		wallet  string
		refresh bool
		minConf uint64
	)
	cmd := &cobra.Command{
		Use:     "balance",
		Short:   "Show the wallet balance",
		GroupID: "wallet",
		Long: `Show the wallet balance split into spendable, awaiting confirmation,
awaiting finalization, immature and locked amounts. With --refresh the
tracked outputs are re-synced with the node first.`,
		Example: "  mwcbridge balance --wallet main --refresh",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, queryTimeout)
			defer cancel()

			bal, err := cc.Queries().Balances(ctx, sess, refresh, minConf)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(bal, func(w io.Writer) error { return writeBalance(w, bal) })
		},
	}
	walletFlag(cmd, &wallet)
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-sync tracked outputs with the node first")
	cmd.Flags().Uint64Var(&minConf, "min-confirmations", 0, "confirmations before an output is spendable (default from config)")
	return cmd
}

func writeBalance(w io.Writer, b *query.Balance) error {
	tbl := output.NewTable("", "MWC").AlignRight(1)
	tbl.AddRow("Total", chain.FormatAmount(b.Total))
	tbl.AddRow("Spendable", chain.FormatAmount(b.Spendable))
	tbl.AddRow("Awaiting confirmation", chain.FormatAmount(b.AwaitingConfirmation))
	tbl.AddRow("Awaiting finalization", chain.FormatAmount(b.AwaitingFinalization))
	tbl.AddRow("Immature", chain.FormatAmount(b.Immature))
	tbl.AddRow("Locked", chain.FormatAmount(b.Locked))
	if err := tbl.Render(w); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nChain height %d, %d confirmations required.\n", b.TipHeight, b.MinConfirmations)
	return err
}

func newScanCmd() *cobra.Command {
	var (
		wallet string
		start  uint64
		count  uint64
	)
	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Rescan the chain for wallet outputs",
		GroupID: "wallet",
		Long: `Scan blocks from --start for outputs owned by the wallet and reconcile
the local output store. A --count of zero scans up to the chain tip.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, scanTimeout)
			defer cancel()

			result, err := sess.ScanOutputs(ctx, start, count)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(result, func(w io.Writer) error { return writeScan(w, result) })
		},
	}
	walletFlag(cmd, &wallet)
	cmd.Flags().Uint64Var(&start, "start", 1, "first block height to scan")
	cmd.Flags().Uint64Var(&count, "count", 0, "number of blocks to scan, 0 for up to the tip")
	return cmd
}

func writeScan(w io.Writer, r outputs.ScanResult) error {
	_, err := fmt.Fprintf(w, "Found %d outputs (%d new, %d confirmed, %d now spent). Next key index %d.\n",
		r.Found, r.New, r.Confirmed, r.NowSpent, r.NextIndex)
	return err
}

func newFeesCmd() *cobra.Command {
	var (
		wallet  string
		amount  string
		minConf uint64
	)
	cmd := &cobra.Command{
		Use:     "fees",
		Short:   "Estimate the fee of sending an amount",
		GroupID: "tx",
		Example: "  mwcbridge fees --wallet main --amount 2.5",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			nano, err := parseAmount(amount)
			if err != nil {
				return err
			}
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, queryTimeout)
			defer cancel()

			est, err := cc.Queries().TxFees(ctx, sess, nano, minConf)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(est, func(w io.Writer) error {
				tbl := output.NewTable("STRATEGY", "INPUTS", "FEE", "TOTAL", "CHANGE").AlignRight(1, 2, 3, 4)
				for _, o := range est.Options {
					tbl.AddRow(string(o.Strategy), strconv.Itoa(o.Inputs),
						chain.FormatAmount(o.Fee), chain.FormatAmount(o.Total), chain.FormatAmount(o.Change))
				}
				return tbl.Render(w)
			})
		},
	}
	walletFlag(cmd, &wallet)
	cmd.Flags().StringVar(&amount, "amount", "", "amount in MWC (required)")
	cmd.Flags().Uint64Var(&minConf, "min-confirmations", 0, "confirmations before an output is spendable (default from config)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newHeightCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "height",
		Short:   "Show the chain height reported by the node",
		GroupID: "network",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			ctx, cancel := contextWithTimeout(cmd, queryTimeout)
			defer cancel()

			height, err := cc.Queries().ChainHeight(ctx)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(map[string]uint64{"height": height}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, height)
				return err
			})
		},
	}
}
