package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/output"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/service/transaction"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/slatepack"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const txTimeout = 2 * time.Minute

func newTxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Short:   "Build, exchange and inspect transactions",
		GroupID: "tx",
	}
	cmd.AddCommand(
		newTxSendCmd(),
		newTxInitCmd(),
		newTxReceiveCmd(),
		newTxFinalizeCmd(),
		newTxPostCmd(),
		newTxCancelCmd(),
		newTxListCmd(),
		newTxShowCmd(),
	)
	return cmd
}

// parseAmount parses a decimal MWC amount flag into nanoMWC.
func parseAmount(s string) (uint64, error) {
	nano, err := chain.ParseAmount(s)
	if err != nil {
		return 0, bridgeerr.WithSuggestion(bridgeerr.Kind(bridgeerr.ErrInvalidAmount, err),
			"give the amount in MWC, e.g. 1.5")
	}
	return nano, nil
}

func parseSlateID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, bridgeerr.WithDetails(
			bridgeerr.Kindf(bridgeerr.ErrInvalidInput, "invalid transaction id: %w", err),
			map[string]string{"id": s})
	}
	return id, nil
}

// spendFlags are the options shared by commands that build a slate.
type spendFlags struct {
	amount   string
	strategy string
	minConf  uint64
	message  string
}

func (f *spendFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount in MWC (required)")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "input selection: smallest or all (default from config)")
	cmd.Flags().Uint64Var(&f.minConf, "min-confirmations", 0, "confirmations before an output is spendable (default from config)")
	cmd.Flags().StringVar(&f.message, "message", "", "note stored with the transaction")
	_ = cmd.MarkFlagRequired("amount")
}

func (f *spendFlags) request() (transaction.InitRequest, error) {
	nano, err := parseAmount(f.amount)
	if err != nil {
		return transaction.InitRequest{}, err
	}
	return transaction.InitRequest{
		Amount:           nano,
		Strategy:         outputs.Strategy(f.strategy),
		MinConfirmations: f.minConf,
		Message:          f.message,
	}, nil
}

type sendReport struct {
	ID        uuid.UUID   `json:"id"`
	State     slate.State `json:"state"`
	Amount    uint64      `json:"amount"`
	Fee       uint64      `json:"fee"`
	To        string      `json:"to,omitempty"`
	Posted    bool        `json:"posted"`
	Slatepack string      `json:"slatepack,omitempty"`
}

func newSendReport(sl *slate.Slate, to, pack string, posted bool) sendReport {
	return sendReport{
		ID:        sl.ID,
		State:     sl.State,
		Amount:    sl.Amount,
		Fee:       sl.Fee,
		To:        to,
		Posted:    posted,
		Slatepack: pack,
	}
}

func writeSendReport(w io.Writer, r sendReport) error {
	_, err := fmt.Fprintf(w, "Transaction %s is %s.\nAmount: %s MWC\nFee:    %s MWC\n",
		r.ID, r.State, chain.FormatAmount(r.Amount), chain.FormatAmount(r.Fee))
	if err != nil {
		return err
	}
	if r.Posted {
		if _, err := fmt.Fprintln(w, "Posted to the chain."); err != nil {
			return err
		}
	}
	if r.Slatepack != "" {
		_, err = fmt.Fprintf(w, "\n%s\n", r.Slatepack)
	}
	return err
}

func newTxSendCmd() *cobra.Command {
	var (
		wallet string
		to     string
		spend  spendFlags
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send MWC to a relay address or a foreign API",
		Long: `Send MWC. An http(s) recipient is treated as the receiver's foreign API:
the slate is exchanged, finalized and posted in one step. Any other
recipient is a relay address: the slate is published as an encrypted
slatepack and finalized by "mwcbridge listen" when the answer arrives.`,
		Example: `  mwcbridge tx send --wallet main --amount 1.5 --to <key>@mqs.example.org
  mwcbridge tx send --wallet main --amount 1.5 --to https://wallet.example.org`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			req, err := spend.request()
			if err != nil {
				return err
			}
			info, err := keychain.ParseAddress(to)
			if err != nil {
				return bridgeerr.Kindf(bridgeerr.ErrInvalidAddress, "recipient %q: %w", to, err)
			}
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, txTimeout)
			defer cancel()

			var res *transaction.Result
			if info.Kind == keychain.KindHTTP {
				res, err = cc.Transactions().SendHTTP(ctx, sess, transaction.SendHTTPRequest{InitRequest: req, URL: to})
			} else {
				res, err = cc.Transactions().Create(ctx, sess, transaction.CreateRequest{
					Amount:        req.Amount,
					To:            to,
					KeyIndex:      cc.Cfg.Relay.KeyIndex,
					Relay:         cc.Cfg.Relay,
					Confirmations: req.MinConfirmations,
					Note:          req.Message,
				})
			}
			if err != nil {
				return err
			}

			report := newSendReport(res.Slate, to, "", res.Posted)
			return cc.Fmt.Result(report, func(w io.Writer) error { return writeSendReport(w, report) })
		},
	}
	walletFlag(cmd, &wallet)
	spend.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "recipient relay address or foreign API URL (required)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newTxInitCmd() *cobra.Command {
	var (
		wallet string
		to     string
		spend  spendFlags
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start a send and print the slatepack to hand over",
		Long: `Build a slate, mark it sent and print it as a slatepack signed with the
wallet's address key. With --to the slatepack is encrypted to that address.
Give the slatepack to the recipient and finalize their answer with
"mwcbridge tx finalize".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			req, err := spend.request()
			if err != nil {
				return err
			}
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, txTimeout)
			defer cancel()

			txs := cc.Transactions()
			sl, err := txs.Init(ctx, sess, req)
			if err != nil {
				return err
			}
			sl, err = txs.MarkSent(ctx, sess, sl.ID)
			if err != nil {
				return err
			}
			pack, err := encodeSlate(sess, cc.Cfg.Relay.KeyIndex, sl, to)
			if err != nil {
				return err
			}

			report := newSendReport(sl, to, pack, false)
			return cc.Fmt.Result(report, func(w io.Writer) error { return writeSendReport(w, report) })
		},
	}
	walletFlag(cmd, &wallet)
	spend.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "encrypt the slatepack to this address")
	return cmd
}

// encodeSlate armors sl signed with the address key at keyIndex.
func encodeSlate(sess *session.Session, keyIndex uint32, sl *slate.Slate, to string) (string, error) {
	data, err := sl.Marshal()
	if err != nil {
		return "", fmt.Errorf("encoding slate: %w", err)
	}
	return slatepack.Encode(data, to, sess.KeySource(keyIndex))
}

func newTxReceiveCmd() *cobra.Command {
	var wallet string
	cmd := &cobra.Command{
		Use:   "receive [file|-]",
		Short: "Countersign an incoming slatepack",
		Long: `Read a slatepack from a file or stdin, add this wallet's output and
signature, and print the response slatepack for the sender. When the
incoming slatepack is signed the response is encrypted to the sender.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			keyIndex := cc.Cfg.Relay.KeyIndex
			decoded, err := slatepack.Decode(text, sess.KeySource(keyIndex))
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, txTimeout)
			defer cancel()

			sl, err := cc.Transactions().Receive(ctx, sess, decoded.SlateJSON)
			if err != nil {
				return err
			}
			pack, err := encodeSlate(sess, keyIndex, sl, decoded.Sender)
			if err != nil {
				return err
			}

			report := newSendReport(sl, decoded.Sender, pack, false)
			return cc.Fmt.Result(report, func(w io.Writer) error { return writeSendReport(w, report) })
		},
	}
	walletFlag(cmd, &wallet)
	return cmd
}

func newTxFinalizeCmd() *cobra.Command {
	var wallet string
	cmd := &cobra.Command{
		Use:   "finalize [file|-]",
		Short: "Finalize a countersigned slatepack and post it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			decoded, err := slatepack.Decode(text, sess.KeySource(cc.Cfg.Relay.KeyIndex))
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, txTimeout)
			defer cancel()

			sl, err := cc.Transactions().Finalize(ctx, sess, decoded.SlateJSON)
			if err != nil {
				if sl != nil {
					cc.Log.WithField("slate_id", sl.ID).Warn("transaction finalized but not posted")
				}
				return err
			}
			report := newSendReport(sl, "", "", true)
			return cc.Fmt.Result(report, func(w io.Writer) error { return writeSendReport(w, report) })
		},
	}
	walletFlag(cmd, &wallet)
	return cmd
}

func newTxPostCmd() *cobra.Command {
	var wallet string
	cmd := &cobra.Command{
		Use:   "post <id>",
		Short: "Post a finalized transaction to the chain again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			id, err := parseSlateID(args[0])
			if err != nil {
				return err
			}
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, txTimeout)
			defer cancel()

			if err := cc.Transactions().Post(ctx, sess, id); err != nil {
				return err
			}
			return cc.Fmt.Success("Transaction %s posted.", id)
		},
	}
	walletFlag(cmd, &wallet)
	return cmd
}

func newTxCancelCmd() *cobra.Command {
	var wallet string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a transaction that is not finalized",
		Long: `Cancel a transaction and release the outputs it locked. Finalized
transactions cannot be cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			id, err := parseSlateID(args[0])
			if err != nil {
				return err
			}
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, txTimeout)
			defer cancel()

			sl, err := cc.Queries().TxCancel(ctx, sess, id)
			if err != nil {
				return err
			}
			report := newSendReport(sl, "", "", false)
			return cc.Fmt.Result(report, func(w io.Writer) error { return writeSendReport(w, report) })
		},
	}
	walletFlag(cmd, &wallet)
	return cmd
}

func newTxListCmd() *cobra.Command {
	var (
		wallet  string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the wallet's transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, cancel := contextWithTimeout(cmd, queryTimeout)
			defer cancel()

			recs, err := cc.Queries().Txs(ctx, sess, refresh)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []txlog.Record{}
			}
			return cc.Fmt.Result(recs, func(w io.Writer) error {
				if len(recs) == 0 {
					_, err := fmt.Fprintln(w, "No transactions.")
					return err
				}
				tbl := output.NewTable("ID", "DIRECTION", "STATE", "AMOUNT", "FEE", "CREATED").AlignRight(3, 4)
				for _, r := range recs {
					tbl.AddRow(r.SlateID.String(), string(r.Direction), string(r.State),
						chain.FormatAmount(r.Amount), chain.FormatAmount(r.Fee),
						r.CreatedAt.Local().Format(time.DateTime))
				}
				return tbl.Render(w)
			})
		},
	}
	walletFlag(cmd, &wallet)
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-sync tracked outputs with the node first")
	return cmd
}

func newTxShowCmd() *cobra.Command {
	var wallet string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := GetCmdContext(cmd)
			id, err := parseSlateID(args[0])
			if err != nil {
				return err
			}
			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			rec, err := cc.Queries().Tx(sess, id)
			if err != nil {
				return err
			}
			return cc.Fmt.Result(rec, func(w io.Writer) error {
				tbl := output.NewTable("FIELD", "VALUE")
				tbl.AddRow("ID", rec.SlateID.String())
				tbl.AddRow("Direction", string(rec.Direction))
				tbl.AddRow("State", string(rec.State))
				tbl.AddRow("Amount", chain.FormatAmount(rec.Amount)+" MWC")
				tbl.AddRow("Fee", chain.FormatAmount(rec.Fee)+" MWC")
				if rec.Address != "" {
					tbl.AddRow("Address", rec.Address)
				}
				if rec.Message != "" {
					tbl.AddRow("Message", rec.Message)
				}
				tbl.AddRow("Posted", fmt.Sprint(rec.Posted))
				tbl.AddRow("Created", rec.CreatedAt.Local().Format(time.DateTime))
				tbl.AddRow("Updated", rec.UpdatedAt.Local().Format(time.DateTime))
				return tbl.Render(w)
			})
		},
	}
	walletFlag(cmd, &wallet)
	return cmd
}
