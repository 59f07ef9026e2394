// Package cli implements the mwcbridge command-line interface.
//
// Commands are built by constructor functions so a test can run a fresh
// tree against an in-memory chain. Shared dependencies travel in a
// CommandContext attached to the cobra command context.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/output"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	home    string
	output  string
	verbose bool
}

// NewRootCmd builds the command tree. A non-nil cc is used as is, which is
// how tests inject an in-memory node and relay; otherwise the configuration
// is loaded from the home directory before each command runs.
func NewRootCmd(cc *CommandContext) *cobra.Command {
	root, _ := newRoot(cc)
	return root
}

// rootState remembers the context a run built so Execute can render errors
// in the requested format and release it afterwards.
type rootState struct {
	cc *CommandContext
}

func newRoot(cc *CommandContext) (*cobra.Command, *rootState) {
	opts := &globalOptions{}
	state := &rootState{cc: cc}
	root := &cobra.Command{
		Use:   "mwcbridge",
		Short: "MWC wallet bridge",
		Long: `mwcbridge manages MWC Mimblewimble wallets: it creates and recovers
wallets, tracks their outputs against a node, builds and signs slates, and
exchanges them over an MQS relay, a foreign API or slatepack files.

Example:
  mwcbridge wallet init main
  mwcbridge balance --wallet main --refresh
  mwcbridge tx send --wallet main --to <address>@mqs.example.org --amount 1.5
  mwcbridge listen --wallet main`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if state.cc == nil {
				loaded, err := loadContext(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				state.cc = loaded
			}
			SetCmdContext(cmd, state.cc)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.home, "home", "", "data directory (default: ~/.mwcbridge)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "auto", "output format: text, json, auto")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddGroup(
		&cobra.Group{ID: "wallet", Title: "Wallet Commands:"},
		&cobra.Group{ID: "tx", Title: "Transaction Commands:"},
		&cobra.Group{ID: "network", Title: "Network Commands:"},
	)
	root.AddCommand(
		newWalletCmd(),
		newBalanceCmd(),
		newScanCmd(),
		newAddressCmd(),
		newTxCmd(),
		newFeesCmd(),
		newHeightCmd(),
		newListenCmd(),
		newRelayCmd(),
		newSlatepackCmd(),
		newVersionCmd(),
	)
	return root, state
}

// Execute runs the command line and prints any error to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, state := newRoot(nil)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	format := output.FormatText
	if state.cc != nil {
		format = state.cc.Fmt.Format()
		state.cc.Close()
	}
	if err != nil {
		_ = output.FormatError(stderr, err, format)
	}
	return err
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	return bridgeerr.ExitCode(err)
}

// loadContext reads the config file under the home directory, applies
// environment and flag overrides and builds the logger and formatter.
func loadContext(opts *globalOptions, stdout, stderr io.Writer) (*CommandContext, error) {
	home := opts.home
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	cfg, err := config.Load(config.Path(home))
	switch {
	case err == nil:
	case os.IsNotExist(err):
		cfg = config.Defaults()
	default:
		return nil, err
	}
	cfg.Home = home
	config.ApplyEnvironment(cfg)
	if opts.home != "" {
		cfg.Home = opts.home
	}
	if cfg.Logging.File == config.Defaults().Logging.File {
		cfg.Logging.File = filepath.Join(cfg.Home, "mwcbridge.log")
	}
	if opts.verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if opts.output != "" && opts.output != string(output.FormatAuto) {
		cfg.Output.DefaultFormat = opts.output
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		logger = config.NullLogger()
	}
	formatter := output.NewFormatter(output.ParseFormat(cfg.Output.DefaultFormat), stdout)
	return NewCommandContext(cfg, logger, formatter).WithErr(stderr), nil
}
