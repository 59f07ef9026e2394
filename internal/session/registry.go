package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/metrics"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	"github.com/mrz1836/mwcbridge/internal/wallet"
	"github.com/mrz1836/mwcbridge/internal/walletcrypto"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Registry tracks the open sessions of one configuration. A wallet name is
// open at most once per registry.
type Registry struct {
	cfg     *config.Config
	storage *wallet.FileStorage
	node    chain.Node
	log     logrus.FieldLogger

	mu   sync.Mutex
	open map[string]*Session
	busy map[string]bool
}

// NewRegistry returns a registry over the wallets directory of cfg.
func NewRegistry(cfg *config.Config, node chain.Node, logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Wallet.ScryptWorkFactor > 0 {
		walletcrypto.SetScryptWorkFactor(cfg.Wallet.ScryptWorkFactor)
	}
	return &Registry{
		cfg:     cfg,
		storage: wallet.NewFileStorage(cfg.WalletsDir()),
		node:    node,
		log:     logger,
		open:    make(map[string]*Session),
		busy:    make(map[string]bool),
	}
}

// Config returns the registry configuration.
func (r *Registry) Config() *config.Config { return r.cfg }

// Node returns the chain node sessions use.
func (r *Registry) Node() chain.Node { return r.node }

// Storage returns the wallet file storage.
func (r *Registry) Storage() *wallet.FileStorage { return r.storage }

// GenerateMnemonic returns a fresh recovery phrase of words words.
func (r *Registry) GenerateMnemonic(words int) (string, error) {
	return wallet.GenerateMnemonic(words)
}

// ListWallets returns the names of every wallet on disk.
func (r *Registry) ListWallets() ([]string, error) {
	return r.storage.List()
}

// OpenSessions returns the names of the open sessions, sorted.
func (r *Registry) OpenSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.open))
	for name := range r.open {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the open session for name.
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.open[name]
	return s, ok
}

// Init creates a wallet from mnemonic and opens it. It never overwrites an
// existing wallet.
func (r *Registry) Init(mnemonic string, password []byte, name string) (*Session, error) {
	s, err := r.create(mnemonic, password, name, false)
	metrics.Global.RecordWalletOp("init", err)
	return s, err
}

// Recover creates a wallet from mnemonic, opens it and scans the whole chain
// to rebuild its outputs. If the scan fails the wallet stays on disk and the
// scan can be repeated after opening it.
func (r *Registry) Recover(ctx context.Context, mnemonic string, password []byte, name string) (*Session, outputs.ScanResult, error) {
	s, err := r.create(mnemonic, password, name, true)
	if err != nil {
		metrics.Global.RecordWalletOp("recover", err)
		return nil, outputs.ScanResult{}, err
	}

	result, err := s.ScanOutputs(ctx, 1, 0)
	metrics.Global.RecordWalletOp("recover", err)
	if err != nil {
		_ = s.Close()
		return nil, outputs.ScanResult{}, bridgeerr.WithSuggestion(err, "the wallet was created; open it and run a scan once the node is reachable")
	}
	return s, result, nil
}

func (r *Registry) create(mnemonic string, password []byte, name string, recovered bool) (*Session, error) {
	if err := r.reserve(name); err != nil {
		return nil, err
	}
	defer r.release(name)

	seed, err := wallet.MnemonicToSeed(mnemonic, "")
	if err != nil {
		return nil, err
	}
	defer walletcrypto.ZeroBytes(seed)

	w, err := wallet.NewWallet(name, r.cfg.Chain)
	if err != nil {
		return nil, err
	}
	w.Recovered = recovered
	if err := r.storage.Save(w, seed, password); err != nil {
		return nil, err
	}

	s, err := r.start(name, seed)
	if err != nil {
		return nil, err
	}

	kind := EventCreated
	if recovered {
		kind = EventRecovered
	}
	if err := s.state.Log.Append(txlog.Event{Kind: kind, At: time.Now().UTC()}); err != nil {
		_ = s.Close()
		return nil, bridgeerr.Wrap(err, "writing transaction log")
	}
	s.log.Info("wallet created")
	return s, nil
}

// Open decrypts the wallet and opens a session on it.
func (r *Registry) Open(name string, password []byte) (*Session, error) {
	if err := r.reserve(name); err != nil {
		return nil, err
	}
	defer r.release(name)

	_, seed, err := r.storage.Load(name, password)
	if err != nil {
		metrics.Global.RecordWalletOp("open", err)
		return nil, err
	}
	defer seed.Destroy()

	s, err := r.start(name, seed.Bytes())
	metrics.Global.RecordWalletOp("open", err)
	if err != nil {
		return nil, err
	}
	s.log.Info("wallet opened")
	return s, nil
}

// Delete closes s and removes the wallet file, output store and transaction
// log. It refuses while a listener is running.
func (r *Registry) Delete(s *Session) error {
	if n := s.ActiveListeners(); n > 0 {
		return bridgeerr.WithSuggestion(
			bridgeerr.WithDetails(bridgeerr.ErrBusy, map[string]string{"wallet": s.Name(), "listeners": fmt.Sprint(n)}),
			"cancel the listener before deleting the wallet")
	}
	if err := s.Close(); err != nil {
		r.log.WithError(err).WithField("wallet", s.Name()).Warn("closing session before delete")
	}
	err := r.storage.Delete(s.Name())
	metrics.Global.RecordWalletOp("delete", err)
	if err != nil {
		return err
	}
	r.log.WithField("wallet", s.Name()).Info("wallet deleted")
	return nil
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := make([]*Session, 0, len(r.open))
	for _, s := range r.open {
		open = append(open, s)
	}
	r.mu.Unlock()

	for _, s := range open {
		_ = s.Close()
	}
}

// reserve claims name for an open or create in progress.
func (r *Registry) reserve(name string) error {
	if err := wallet.ValidateWalletName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[name]; ok || r.busy[name] {
		return bridgeerr.WithDetails(bridgeerr.ErrBusy, map[string]string{"wallet": name})
	}
	r.busy[name] = true
	return nil
}

func (r *Registry) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, name)
}

// start builds the session for a decrypted seed and registers it.
func (r *Registry) start(name string, seed []byte) (*Session, error) {
	keys, err := keychain.New(seed)
	if err != nil {
		return nil, bridgeerr.Wrap(err, "deriving keychain")
	}

	dir := r.storage.StateDir(name)
	store, err := outputs.Open(dir)
	if err != nil {
		keys.Wipe()
		return nil, bridgeerr.Wrap(err, "opening output store")
	}

	log, err := txlog.Open(filepath.Join(dir, txlog.FileName))
	if err != nil {
		keys.Wipe()
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, bridgeerr.WithDetails(bridgeerr.ErrBusy, map[string]string{"wallet": name, "reason": "open in another process"})
		}
		return nil, bridgeerr.Wrap(err, "opening transaction log")
	}

	s := newSession(name, r.cfg, r.node, r.log, State{Keys: keys, Outputs: store, Log: log})
	s.onClose = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.open[name] == s {
			delete(r.open, name)
		}
	}

	r.mu.Lock()
	r.open[name] = s
	r.mu.Unlock()
	return s, nil
}
