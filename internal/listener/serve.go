package listener

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/foreign"
	"github.com/mrz1836/mwcbridge/internal/session"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const shutdownTimeout = 5 * time.Second

// MetricsServer exposes collected metrics over HTTP until ctx is done.
type MetricsServer interface {
	Serve(ctx context.Context, addr string) error
}

// ServeOptions selects the HTTP surfaces Run starts next to the relay
// listener. Empty addresses are skipped.
type ServeOptions struct {
	Relay   config.RelayConfig
	HTTP    config.ListenerConfig
	Metrics MetricsServer

	// Ready, when set, receives the handle once the relay subscription is up.
	Ready func(*Handle)
}

// Run starts a relay listener for sess plus the configured foreign API and
// metrics servers, and blocks until ctx is done or one of them fails. The
// listener is cancelled and joined before Run returns.
func (s *Service) Run(ctx context.Context, sess *session.Session, opts ServeOptions) error {
	h, err := s.Start(ctx, sess, opts.Relay)
	if err != nil {
		return err
	}
	defer h.Cancel()
	if opts.Ready != nil {
		opts.Ready(h)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-h.Done():
			if err := h.Err(); err != nil {
				return err
			}
			return bridgeerr.Kindf(bridgeerr.ErrSessionClosed, "listener stopped")
		}
	})
	if addr := opts.HTTP.ForeignAddr; addr != "" {
		handler := foreign.NewHandler(s.txs.Receiver(sess), s.logger)
		g.Go(func() error { return serveHTTP(gctx, addr, handler) })
		s.logger.WithField("addr", addr).Info("foreign api listening")
	}
	if addr := opts.HTTP.MetricsAddr; addr != "" && opts.Metrics != nil {
		g.Go(func() error { return opts.Metrics.Serve(gctx, addr) })
		s.logger.WithField("addr", addr).Info("metrics listening")
	}

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// serveHTTP runs handler on addr until ctx is done. The foreign API answers
// on every path so a sender may use any endpoint URL on this host.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: shutdownTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return bridgeerr.Kind(bridgeerr.ErrNetwork, err)
	}
}
