// Package sessiontest opens throwaway wallet sessions on an in-memory chain
// for tests.
package sessiontest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrz1836/mwcbridge/internal/chain/chaintest"
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/session"
)

// Recovery phrases of the two test wallets.
const (
	Mnemonic      = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	OtherMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"
)

// Password unlocks every test wallet.
var Password = []byte("test password")

// Confirmations is how many blocks Fund mines on top of new outputs.
const Confirmations = 10

// Config returns a configuration rooted in a temporary directory with a fast
// scrypt work factor, a base fee of 1 and one required confirmation.
func Config(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Home = t.TempDir()
	cfg.Wallet.ScryptWorkFactor = 10
	cfg.Wallet.BaseFee = 1
	cfg.Wallet.MinConfirmations = 1
	cfg.Wallet.CoinbaseMaturity = 3
	return cfg
}

// Open creates a wallet named name from mnemonic in its own registry and
// returns the open session. Everything is closed when the test ends.
func Open(t *testing.T, node *chaintest.Node, mnemonic, name string) *session.Session {
	t.Helper()
	r := session.NewRegistry(Config(t), node, config.NullLogger())
	t.Cleanup(r.CloseAll)
	s, err := r.Init(mnemonic, Password, name)
	require.NoError(t, err)
	return s
}

// Keys returns the session keychain.
func Keys(t *testing.T, s *session.Session) *keychain.Keychain {
	t.Helper()
	var keys *keychain.Keychain
	require.NoError(t, s.Read(func(st *session.State) error {
		keys = st.Keys
		return nil
	}))
	return keys
}

// Fund mints one confirmed output per value for s in the next block, mines
// Confirmations blocks and scans them into the session.
func Fund(t *testing.T, node *chaintest.Node, s *session.Session, values ...uint64) {
	t.Helper()
	ctx := context.Background()

	var next uint32
	require.NoError(t, s.Read(func(st *session.State) error {
		next = st.Outputs.NextIndex()
		return nil
	}))
	tip, err := node.Tip(ctx)
	require.NoError(t, err)

	keys := Keys(t, s)
	height := tip.Height + 1
	for i, v := range values {
		_, err := node.Fund(keys, next+uint32(i), v, height, false) //nolint:gosec // test indices are small
		require.NoError(t, err)
	}
	node.SetHeight(height + Confirmations - 1)

	_, err = s.ScanOutputs(ctx, 0, 0)
	require.NoError(t, err)
}
