package cli

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/mwcbridge/internal/backup"
	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/foreign"
	"github.com/mrz1836/mwcbridge/internal/listener"
	"github.com/mrz1836/mwcbridge/internal/metrics"
	"github.com/mrz1836/mwcbridge/internal/output"
	"github.com/mrz1836/mwcbridge/internal/relay"
	"github.com/mrz1836/mwcbridge/internal/service/query"
	"github.com/mrz1836/mwcbridge/internal/service/transaction"
	"github.com/mrz1836/mwcbridge/internal/session"
)

// CommandContext holds dependencies for CLI commands. Services are built on
// first use so commands that never touch the node do not dial it.
type CommandContext struct {
	Cfg   *config.Config
	Log   *config.Logger
	Fmt   *output.Formatter
	Err   io.Writer
	Node  chain.Node
	Relay relay.Relay

	once      sync.Once
	registry  *session.Registry
	txs       *transaction.Service
	queries   *query.Service
	listeners *listener.Service
}

// NewCommandContext creates a context with the given dependencies.
func NewCommandContext(cfg *config.Config, logger *config.Logger, formatter *output.Formatter) *CommandContext {
	return &CommandContext{Cfg: cfg, Log: logger, Fmt: formatter, Err: os.Stderr}
}

// WithNode sets the chain node instead of dialing node.url.
func (c *CommandContext) WithNode(n chain.Node) *CommandContext {
	c.Node = n
	return c
}

// WithRelay sets the relay instead of dialing relay.url.
func (c *CommandContext) WithRelay(r relay.Relay) *CommandContext {
	c.Relay = r
	return c
}

// WithErr sets where prompts and warnings go.
func (c *CommandContext) WithErr(w io.Writer) *CommandContext {
	c.Err = w
	return c
}

func (c *CommandContext) build() {
	c.once.Do(func() {
		if c.Node == nil {
			c.Node = chain.NewHTTPNode(chain.HTTPNodeOptions{
				URL:               c.Cfg.Node.URL,
				APISecret:         c.Cfg.Node.APISecret,
				Timeout:           c.Cfg.Node.Timeout(),
				RequestsPerSecond: c.Cfg.Node.RequestsPerSecond,
				Burst:             c.Cfg.Node.Burst,
				Retry:             retryConfig(c.Cfg.Node.RetryAttempts),
				Logger:            c.Log,
			})
		}
		if c.Relay == nil && c.Cfg.Relay.URL != "" {
			c.Relay = relay.NewWebsocketRelay(c.Cfg.Relay.URL, c.Log)
		}

		c.registry = session.NewRegistry(c.Cfg, c.Node, c.Log)
		c.txs = transaction.NewService(&transaction.Config{
			Relay:   c.Relay,
			Foreign: foreign.NewClient(c.Cfg.Node.Timeout(), c.Log),
			Metrics: metrics.Global,
			Logger:  c.Log,
		})
		c.queries = query.NewService(&query.Config{Node: c.Node, Transactions: c.txs, Logger: c.Log})
		c.listeners = listener.NewService(&listener.Config{
			Relay:        c.Relay,
			Transactions: c.txs,
			Metrics:      metrics.Global,
			Logger:       c.Log,
		})
	})
}

// Registry returns the wallet registry.
func (c *CommandContext) Registry() *session.Registry {
	c.build()
	return c.registry
}

// Transactions returns the transaction service.
func (c *CommandContext) Transactions() *transaction.Service {
	c.build()
	return c.txs
}

// Queries returns the query service.
func (c *CommandContext) Queries() *query.Service {
	c.build()
	return c.queries
}

// Listeners returns the listener service.
func (c *CommandContext) Listeners() *listener.Service {
	c.build()
	return c.listeners
}

// Backups returns the backup service over the registry's wallet storage.
func (c *CommandContext) Backups() *backup.Service {
	c.build()
	return backup.NewService(c.Cfg.BackupsDir(), c.registry.Storage())
}

// Close closes every open session and the log file.
func (c *CommandContext) Close() {
	if c.registry != nil {
		c.registry.CloseAll()
	}
	if c.Log != nil {
		_ = c.Log.Close()
	}
}

// retryConfig keeps the default backoff and overrides the attempt count.
func retryConfig(attempts int) chain.RetryConfig {
	rc := chain.DefaultRetryConfig()
	if attempts > 0 {
		rc.MaxAttempts = attempts
	}
	return rc
}

type cmdContextKey struct{}

// SetCmdContext attaches cc to cmd.
func SetCmdContext(cmd *cobra.Command, cc *CommandContext) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	cmd.SetContext(context.WithValue(base, cmdContextKey{}, cc))
}

// GetCmdContext returns the CommandContext attached to cmd.
func GetCmdContext(cmd *cobra.Command) *CommandContext {
	cc, _ := cmd.Context().Value(cmdContextKey{}).(*CommandContext)
	return cc
}

// contextWithTimeout returns a timeout context rooted in the command context.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, d)
}
