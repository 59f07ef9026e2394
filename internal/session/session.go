// Package session holds open wallets. A Session owns the keychain, output
// store and transaction log of one wallet and serializes every mutation
// through its lock; the Registry opens, creates and deletes them.
package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/slatepack"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Canceler stops a background task bound to a session and waits for it.
type Canceler interface {
	Cancel()
}

// State is the mutable part of a session, reachable only under its lock.
type State struct {
	Keys    *keychain.Keychain
	Outputs *outputs.Store
	Log     *txlog.Log
}

// Session is an open wallet.
type Session struct {
	name    string
	cfg     *config.Config
	node    chain.Node
	log     logrus.FieldLogger
	onClose func()

	mu     sync.RWMutex
	closed bool
	state  State

	lmu       sync.Mutex
	closing   bool
	listeners map[uuid.UUID]Canceler
}

func newSession(name string, cfg *config.Config, node chain.Node, logger logrus.FieldLogger, st State) *Session {
	return &Session{
		name:      name,
		cfg:       cfg,
		node:      node,
		log:       logger.WithField("wallet", name),
		state:     st,
		listeners: make(map[uuid.UUID]Canceler),
	}
}

// Name returns the wallet name.
func (s *Session) Name() string { return s.name }

// Config returns the configuration the session was opened with.
func (s *Session) Config() *config.Config { return s.cfg }

// Node returns the chain node the session talks to.
func (s *Session) Node() chain.Node { return s.node }

// Logger returns the session logger.
func (s *Session) Logger() logrus.FieldLogger { return s.log }

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Read runs fn under the read lock.
func (s *Session) Read(fn func(st *State) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return bridgeerr.WithDetails(bridgeerr.ErrSessionClosed, map[string]string{"wallet": s.name})
	}
	return fn(&s.state)
}

// Write runs fn under the write lock as one transition of the output set:
// if fn fails the output set is rolled back, otherwise it is saved.
func (s *Session) Write(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return bridgeerr.WithDetails(bridgeerr.ErrSessionClosed, map[string]string{"wallet": s.name})
	}

	snapshot := s.state.Outputs.Snapshot()
	if err := fn(&s.state); err != nil {
		s.state.Outputs.Restore(snapshot)
		return err
	}
	if err := s.state.Outputs.Save(); err != nil {
		s.state.Outputs.Restore(snapshot)
		return bridgeerr.Wrap(err, "saving outputs")
	}
	return nil
}

// Policy builds the selection policy for a spend at tip.
func (s *Session) Policy(strategy outputs.Strategy, minConfirmations, tip uint64) outputs.Policy {
	if strategy == "" {
		strategy = outputs.Strategy(s.cfg.Wallet.SelectionStrategy)
	}
	return outputs.Policy{
		Strategy:         strategy,
		TieBreak:         outputs.TieBreak(s.cfg.Wallet.TieBreak),
		MinConfirmations: minConfirmations,
		CoinbaseMaturity: s.cfg.Wallet.CoinbaseMaturity,
		Tip:              tip,
	}
}

// Fee returns the fee rule with the configured base fee and one kernel.
func (s *Session) Fee() outputs.FeeFunc {
	base := s.cfg.Wallet.BaseFee
	return func(inputs, outs int) uint64 {
		return slate.Fee(base, inputs, outs, 1)
	}
}

// Tip asks the node for the chain head.
func (s *Session) Tip(ctx context.Context) (chain.Tip, error) {
	tip, err := s.node.Tip(ctx)
	if err != nil {
		return chain.Tip{}, networkError(err)
	}
	return tip, nil
}

// Address returns the relay address at index, with domain appended when set.
func (s *Session) Address(index uint32, domain string) (string, error) {
	var addr string
	err := s.Read(func(st *State) error {
		var err error
		addr, err = st.Keys.Address(index, domain)
		return err
	})
	return addr, err
}

// KeySource returns the slatepack key source for the address at index.
func (s *Session) KeySource(index uint32) slatepack.KeySource {
	return addressKey{s: s, index: index}
}

// SlatepackKey returns the key of the configured relay address index.
func (s *Session) SlatepackKey() (ed25519.PrivateKey, error) {
	return addressKey{s: s, index: s.cfg.Relay.KeyIndex}.SlatepackKey()
}

type addressKey struct {
	s     *Session
	index uint32
}

func (a addressKey) SlatepackKey() (ed25519.PrivateKey, error) {
	var key ed25519.PrivateKey
	err := a.s.Read(func(st *State) error {
		var err error
		key, err = st.Keys.AddressKey(a.index)
		return err
	})
	return key, err
}

// AttachListener registers a background task that Close must stop first.
func (s *Session) AttachListener(c Canceler) (uuid.UUID, error) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.closing || s.Closed() {
		return uuid.Nil, bridgeerr.WithDetails(bridgeerr.ErrSessionClosed, map[string]string{"wallet": s.name})
	}
	id := uuid.New()
	s.listeners[id] = c
	return id, nil
}

// DetachListener forgets a registered task.
func (s *Session) DetachListener(id uuid.UUID) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	delete(s.listeners, id)
}

// ActiveListeners returns the number of registered tasks.
func (s *Session) ActiveListeners() int {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	return len(s.listeners)
}

// Close cancels and joins every listener, then wipes key material and closes
// the stores. It is safe to call more than once.
func (s *Session) Close() error {
	s.lmu.Lock()
	s.closing = true
	running := make([]Canceler, 0, len(s.listeners))
	for _, c := range s.listeners {
		running = append(running, c)
	}
	s.lmu.Unlock()

	// Listeners take the session lock while handling a message, so they are
	// stopped before it is acquired.
	for _, c := range running {
		c.Cancel()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state.Keys.Wipe()
	err := s.state.Log.Close()
	s.state = State{}
	s.mu.Unlock()

	s.lmu.Lock()
	clear(s.listeners)
	s.lmu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
	s.log.Debug("session closed")
	return err
}

// networkError marks a node failure as a network error unless it already
// carries a kind.
func networkError(err error) error {
	var be *bridgeerr.BridgeError
	if errors.As(err, &be) {
		return err
	}
	return bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("chain node: %w", err))
}
