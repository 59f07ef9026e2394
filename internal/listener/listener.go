// Package listener receives slatepacks for a wallet from a relay in the
// background. Sent slates are countersigned and answered; Received slates
// matching a local send are finalized and posted.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/foreign"
	"github.com/mrz1836/mwcbridge/internal/metrics"
	"github.com/mrz1836/mwcbridge/internal/relay"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/slate"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Message outcomes reported to the metrics recorder.
const (
	OutcomeReceived  = "received"
	OutcomeFinalized = "finalized"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
	OutcomePanic     = "panic"
)

// Transactions is the part of the transaction service a listener drives.
type Transactions interface {
	Receive(ctx context.Context, sess *session.Session, slateJSON []byte) (*slate.Slate, error)
	Finalize(ctx context.Context, sess *session.Session, slateJSON []byte) (*slate.Slate, error)
	Receiver(sess *session.Session) foreign.Receiver
}

// Recorder receives listener metrics.
type Recorder interface {
	RecordListenerMessage(outcome string)
	ListenerStarted()
	ListenerStopped()
}

// Service starts listeners.
type Service struct {
	relay   relay.Relay
	txs     Transactions
	metrics Recorder
	logger  logrus.FieldLogger
}

// Config holds dependencies for the listener service.
type Config struct {
	Relay        relay.Relay
	Transactions Transactions
	Metrics      Recorder
	Logger       logrus.FieldLogger
}

// NewService creates a new listener service.
func NewService(cfg *Config) *Service {
	s := &Service{
		relay:   cfg.Relay,
		txs:     cfg.Transactions,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if s.metrics == nil {
		s.metrics = metrics.Global
	}
	if s.logger == nil {
		s.logger = config.NullLogger()
	}
	return s
}

// Handle controls one running listener.
type Handle struct {
	id      uuid.UUID
	address string
	sess    *session.Session
	sub     relay.Subscription
	stop    context.CancelFunc
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// ID returns the handle id.
func (h *Handle) ID() uuid.UUID { return h.id }

// Address returns the relay address the listener is subscribed to.
func (h *Handle) Address() string { return h.address }

// Done is closed once the listener goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports why the listener stopped on its own. It is nil while running
// and after Cancel.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel stops the listener and waits for it to exit. No session mutation
// happens after Cancel returns. It is safe to call more than once and from
// several goroutines.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.stop()
		_ = h.sub.Close()
	})
	<-h.done
}

// Start subscribes to the relay address at relayCfg.KeyIndex and handles
// its messages in a goroutine until the handle is cancelled or the session
// closes.
func (s *Service) Start(ctx context.Context, sess *session.Session, relayCfg config.RelayConfig) (*Handle, error) {
	if s.relay == nil {
		return nil, bridgeerr.WithSuggestion(
			bridgeerr.Kindf(bridgeerr.ErrConfigInvalid, "no relay configured"),
			"set relay.url in the config file")
	}
	address, err := sess.Address(relayCfg.KeyIndex, relayCfg.Domain)
	if err != nil {
		return nil, err
	}

	sub, err := s.relay.Subscribe(ctx, address)
	if err != nil {
		if errors.Is(err, relay.ErrAlreadySubscribed) {
			return nil, bridgeerr.WithDetails(bridgeerr.Kind(bridgeerr.ErrBusy, err), map[string]string{"address": address})
		}
		return nil, bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("subscribing to relay: %w", err))
	}

	runCtx, stop := context.WithCancel(context.Background())
	h := &Handle{
		address: address,
		sess:    sess,
		sub:     sub,
		stop:    stop,
		done:    make(chan struct{}),
	}
	h.id, err = sess.AttachListener(h)
	if err != nil {
		stop()
		_ = sub.Close()
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{"wallet": sess.Name(), "address": address, "listener": h.id})
	s.metrics.ListenerStarted()
	go func() {
		defer close(h.done)
		defer s.metrics.ListenerStopped()
		defer sess.DetachListener(h.id)

		err := s.run(runCtx, h, relayCfg.KeyIndex, log)
		if err != nil {
			h.mu.Lock()
			h.err = err
			h.mu.Unlock()
			log.WithError(err).Error("listener stopped")
			return
		}
		log.Debug("listener stopped")
	}()

	log.Info("listener started")
	return h, nil
}

// run consumes the subscription until it ends. A subscription that ends
// without a Cancel is an error.
func (s *Service) run(ctx context.Context, h *Handle, keyIndex uint32, log logrus.FieldLogger) error {
	msgs := h.sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := h.sub.Err(); err != nil {
					return bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("relay subscription: %w", err))
				}
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			outcome := s.safeHandle(ctx, h, keyIndex, msg, log)
			s.metrics.RecordListenerMessage(outcome)
		}
	}
}

// safeHandle keeps a panic in one message from stopping the loop.
func (s *Service) safeHandle(ctx context.Context, h *Handle, keyIndex uint32, msg relay.Message, log logrus.FieldLogger) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("from", msg.From).Errorf("panic handling relay message: %v", r)
			outcome = OutcomePanic
		}
	}()
	return s.handle(ctx, h, keyIndex, msg, log)
}
