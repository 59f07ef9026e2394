package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/listener"
	"github.com/mrz1836/mwcbridge/internal/metrics"
	"github.com/mrz1836/mwcbridge/internal/relay"
)

func newListenCmd() *cobra.Command {
	var (
		wallet      string
		foreignAddr string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:     "listen",
		Short:   "Receive and finalize slates until interrupted",
		GroupID: "network",
		Long: `Listen on the wallet's relay address: incoming sends are countersigned
and answered, answers to this wallet's sends are finalized and posted.
With a foreign API address the wallet also receives slates over HTTP.`,
		Example: "  mwcbridge listen --wallet main --foreign-addr 127.0.0.1:3415",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			opts := listener.ServeOptions{
				Relay:   cc.Cfg.Relay,
				HTTP:    cc.Cfg.Listener,
				Metrics: metrics.Global,
				Ready: func(h *listener.Handle) {
					_ = cc.Fmt.Printf("Listening on %s (press Ctrl+C to stop)\n", h.Address())
				},
			}
			if cmd.Flags().Changed("foreign-addr") {
				opts.HTTP.ForeignAddr = foreignAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				opts.HTTP.MetricsAddr = metricsAddr
			}

			sess, err := openWallet(cmd, wallet)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return cc.Listeners().Run(ctx, sess, opts)
		},
	}
	walletFlag(cmd, &wallet)
	cmd.Flags().StringVar(&foreignAddr, "foreign-addr", "", "serve the foreign API on this address (default listener.foreign_addr)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (default listener.metrics_addr)")
	return cmd
}

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Run a message relay",
		GroupID: "network",
	}
	cmd.AddCommand(newRelayServeCmd())
	return cmd
}

func newRelayServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory relay over websockets",
		Long: `Serve a relay that stores messages in memory until their recipient
subscribes. It is meant for local networks and testing: nothing survives a
restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := GetCmdContext(cmd)
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			srv := relay.NewServer(relay.NewBroker(), cc.Log)
			return srv.Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3420", "listen address")
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
