package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/mwcbridge/internal/chain/chaintest"
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/output"
	"github.com/mrz1836/mwcbridge/internal/relay"
	"github.com/mrz1836/mwcbridge/internal/session/sessiontest"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const testDomain = "relay.test"

// harness runs command lines against an in-memory chain and relay. Every run
// builds a fresh CommandContext, so wallets are reopened from disk each time.
type harness struct {
	t      *testing.T
	cfg    *config.Config
	node   *chaintest.Node
	broker *relay.Broker
}

// newHarness sets MWCBRIDGE_PASSWORD, so tests using it cannot run in parallel.
func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv(config.EnvPassword, "correct horse battery")
	cfg := sessiontest.Config(t)
	cfg.Relay.Domain = testDomain
	broker := relay.NewBroker()
	t.Cleanup(broker.Close)
	return &harness{t: t, cfg: cfg, node: chaintest.New(), broker: broker}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	cc := NewCommandContext(h.cfg, config.NullLogger(), output.NewFormatter(output.FormatJSON, &out)).
		WithNode(h.node).
		WithRelay(h.broker).
		WithErr(&errOut)
	defer cc.Close()

	root := NewRootCmd(cc)
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// runJSON runs args, requires success and decodes the JSON result into v.
func (h *harness) runJSON(v any, stdin string, args ...string) {
	h.t.Helper()
	out, err := h.run(stdin, args...)
	require.NoError(h.t, err, out)
	require.NoError(h.t, json.Unmarshal([]byte(out), v), out)
}

// recoverFunded funds the test mnemonic on chain and recovers it as name.
func (h *harness) recoverFunded(name string, values ...uint64) {
	h.t.Helper()
	funder := sessiontest.Open(h.t, h.node, sessiontest.Mnemonic, "funder")
	sessiontest.Fund(h.t, h.node, funder, values...)

	var rec walletRecovered
	h.runJSON(&rec, sessiontest.Mnemonic+"\n", "wallet", "recover", name)
	require.Equal(h.t, len(values), rec.Scan.Found)
}

func (h *harness) address(wallet string) string {
	h.t.Helper()
	var res addressReport
	h.runJSON(&res, "", "address", "show", "--wallet", wallet)
	return res.Address
}

func TestWalletLifecycle(t *testing.T) {
	h := newHarness(t)

	var created walletCreated
	h.runJSON(&created, "", "wallet", "init", "main", "--words", "12")
	assert.Equal(t, "main", created.Name)
	assert.Len(t, strings.Fields(created.Mnemonic), 12)
	assert.True(t, strings.HasSuffix(created.Address, "@"+testDomain))

	var list map[string][]string
	h.runJSON(&list, "", "wallet", "list")
	assert.Equal(t, []string{"main"}, list["wallets"])

	_, err := h.run("", "wallet", "init", "main")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.ErrWalletExists.Code, bridgeerr.Code(err))

	_, err = h.run("", "wallet", "delete", "main")
	assert.Equal(t, bridgeerr.ErrInvalidInput.Code, bridgeerr.Code(err))

	_, err = h.run("", "wallet", "delete", "main", "--yes")
	require.NoError(t, err)
	h.runJSON(&list, "", "wallet", "list")
	assert.Empty(t, list["wallets"])

	_, err = h.run("", "balance", "--wallet", "main")
	assert.Equal(t, bridgeerr.ErrWalletNotFound.Code, bridgeerr.Code(err))
}

func TestWalletMnemonic(t *testing.T) {
	h := newHarness(t)

	var res map[string]string
	h.runJSON(&res, "", "wallet", "mnemonic")
	assert.Len(t, strings.Fields(res["mnemonic"]), 24)

	_, err := h.run("", "wallet", "mnemonic", "--words", "13")
	require.Error(t, err)
}

func TestWalletBackupAndRestore(t *testing.T) {
	h := newHarness(t)
	h.recoverFunded("main", 1000, 2000)

	var written backupReport
	h.runJSON(&written, "", "wallet", "backup", "main")
	assert.Equal(t, "main", written.Manifest.WalletName)
	assert.Equal(t, 2, written.Manifest.Outputs)

	var listed map[string][]backupReport
	h.runJSON(&listed, "", "wallet", "backups")
	require.Len(t, listed["backups"], 1)
	assert.Equal(t, written.Path, listed["backups"][0].Path)

	_, err := h.run("", "wallet", "restore-backup", written.Path)
	require.Error(t, err)
	assert.Equal(t, bridgeerr.ErrWalletExists.Code, bridgeerr.Code(err))

	var restored map[string]any
	h.runJSON(&restored, "", "wallet", "restore-backup", written.Path, "--name", "copy")
	assert.Equal(t, "copy", restored["wallet_name"])

	// The restored output store carries the balance without a chain scan.
	var bal struct {
		Spendable uint64 `json:"spendable"`
	}
	h.runJSON(&bal, "", "balance", "--wallet", "copy")
	assert.Equal(t, uint64(3000), bal.Spendable)
	assert.Equal(t, h.address("main"), h.address("copy"))

	_, err = h.run("", "wallet", "restore-backup", "missing.mwcbackup", "--name", "other")
	assert.Equal(t, bridgeerr.ErrNotFound.Code, bridgeerr.Code(err))
}

func TestRecoveryPhraseShares(t *testing.T) {
	h := newHarness(t)

	var split struct {
		Threshold int      `json:"threshold"`
		Shares    []string `json:"shares"`
	}
	h.runJSON(&split, sessiontest.Mnemonic+"\n", "wallet", "shares", "split", "--shares", "4", "--threshold", "3")
	require.Len(t, split.Shares, 4)
	assert.Equal(t, 3, split.Threshold)

	picked := split.Shares[1] + "\n" + split.Shares[3] + "\n" + split.Shares[0] + "\n\n"
	var combined map[string]string
	h.runJSON(&combined, picked, "wallet", "shares", "combine")
	assert.Equal(t, sessiontest.Mnemonic, combined["mnemonic"])

	_, err := h.run(split.Shares[0]+"\n", "wallet", "shares", "combine")
	assert.Equal(t, bridgeerr.ErrInvalidInput.Code, bridgeerr.Code(err))

	var fromPhrase, fromShares walletRecovered
	h.runJSON(&fromPhrase, sessiontest.Mnemonic+"\n", "wallet", "recover", "phrase")
	h.runJSON(&fromShares, picked, "wallet", "recover", "shared", "--from-shares")
	assert.Equal(t, fromPhrase.Address, fromShares.Address)
}

func TestRecoverBalanceAndFees(t *testing.T) {
	h := newHarness(t)
	h.recoverFunded("main", 1000, 2000)

	var bal struct {
		Total     uint64 `json:"total"`
		Spendable uint64 `json:"spendable"`
		TipHeight uint64 `json:"tip_height"`
	}
	h.runJSON(&bal, "", "balance", "--wallet", "main", "--refresh")
	assert.Equal(t, uint64(3000), bal.Spendable)
	assert.Equal(t, uint64(3000), bal.Total)

	var height map[string]uint64
	h.runJSON(&height, "", "height")
	assert.Equal(t, bal.TipHeight, height["height"])

	var fees struct {
		Amount  uint64 `json:"amount"`
		Options []struct {
			Strategy string `json:"strategy"`
			Inputs   int    `json:"inputs"`
		} `json:"options"`
	}
	h.runJSON(&fees, "", "fees", "--wallet", "main", "--amount", "0.0000005")
	assert.Equal(t, uint64(500), fees.Amount)
	require.Len(t, fees.Options, 2)
	assert.Equal(t, 1, fees.Options[0].Inputs)
	assert.Equal(t, 2, fees.Options[1].Inputs)

	_, err := h.run("", "fees", "--wallet", "main", "--amount", "abc")
	assert.Equal(t, bridgeerr.ErrInvalidAmount.Code, bridgeerr.Code(err))

	_, err = h.run("", "fees", "--wallet", "main", "--amount", "1")
	assert.Equal(t, bridgeerr.ErrInsufficientFunds.Code, bridgeerr.Code(err))
	assert.Equal(t, bridgeerr.ExitPermission, ExitCode(err))

	var scan struct {
		Found int `json:"found"`
		New   int `json:"new"`
	}
	h.runJSON(&scan, "", "scan", "--wallet", "main")
	assert.Equal(t, 2, scan.Found)
	assert.Zero(t, scan.New)
}

func TestSlatepackRoundTripBetweenWallets(t *testing.T) {
	h := newHarness(t)
	h.recoverFunded("alice", 1000, 2000)
	var created walletCreated
	h.runJSON(&created, "", "wallet", "init", "bob")

	var sent sendReport
	h.runJSON(&sent, "", "tx", "init", "--wallet", "alice", "--amount", "0.0000005", "--to", created.Address)
	assert.Equal(t, "sent", string(sent.State))
	require.NotEmpty(t, sent.Slatepack)

	// only bob can read it
	_, err := h.run(sent.Slatepack, "slatepack", "decode")
	assert.Equal(t, bridgeerr.ErrDecrypt.Code, bridgeerr.Code(err))

	var received sendReport
	h.runJSON(&received, sent.Slatepack, "tx", "receive", "--wallet", "bob")
	assert.Equal(t, sent.ID, received.ID)
	assert.Equal(t, "received", string(received.State))
	require.NotEmpty(t, received.Slatepack)

	var final sendReport
	h.runJSON(&final, received.Slatepack, "tx", "finalize", "--wallet", "alice")
	assert.Equal(t, "finalized", string(final.State))
	assert.True(t, final.Posted)
	assert.Len(t, h.node.Pushed(), 1)

	var recs []struct {
		SlateID   uuid.UUID `json:"slate_id"`
		Direction string    `json:"direction"`
		State     string    `json:"state"`
	}
	h.runJSON(&recs, "", "tx", "list", "--wallet", "alice")
	require.Len(t, recs, 1)
	assert.Equal(t, sent.ID, recs[0].SlateID)
	assert.Equal(t, "send", recs[0].Direction)
	assert.Equal(t, "finalized", recs[0].State)

	h.runJSON(&recs, "", "tx", "list", "--wallet", "bob")
	require.Len(t, recs, 1)
	assert.Equal(t, "receive", recs[0].Direction)

	// a finalized slate cannot be received twice
	_, err = h.run(sent.Slatepack, "tx", "receive", "--wallet", "bob")
	require.Error(t, err)
}

func TestTxInitCancelAndShow(t *testing.T) {
	h := newHarness(t)
	h.recoverFunded("main", 1000, 2000)

	var sent sendReport
	h.runJSON(&sent, "", "tx", "init", "--wallet", "main", "--amount", "0.0000005")

	var decoded decodedReport
	h.runJSON(&decoded, sent.Slatepack, "slatepack", "decode")
	assert.Equal(t, sent.ID.String(), decoded.ID)
	assert.False(t, decoded.Encrypted)
	assert.NotEmpty(t, decoded.Sender)

	var bal struct {
		Locked uint64 `json:"locked"`
	}
	h.runJSON(&bal, "", "balance", "--wallet", "main")
	assert.Equal(t, uint64(2000), bal.Locked)

	var cancelled sendReport
	h.runJSON(&cancelled, "", "tx", "cancel", sent.ID.String(), "--wallet", "main")
	assert.Equal(t, "cancelled", string(cancelled.State))

	h.runJSON(&bal, "", "balance", "--wallet", "main")
	assert.Zero(t, bal.Locked)

	var rec struct {
		State string `json:"state"`
	}
	h.runJSON(&rec, "", "tx", "show", sent.ID.String(), "--wallet", "main")
	assert.Equal(t, "cancelled", rec.State)

	_, err := h.run("", "tx", "show", uuid.NewString(), "--wallet", "main")
	assert.Equal(t, bridgeerr.ErrTransactionNotFound.Code, bridgeerr.Code(err))

	_, err = h.run("", "tx", "show", "not-a-uuid", "--wallet", "main")
	assert.Equal(t, bridgeerr.ErrInvalidInput.Code, bridgeerr.Code(err))

	_, err = h.run("", "tx", "cancel", sent.ID.String(), "--wallet", "main")
	require.Error(t, err)
}

func TestTxSendOverRelay(t *testing.T) {
	h := newHarness(t)
	h.recoverFunded("main", 1000, 2000)
	var bob walletCreated
	h.runJSON(&bob, "", "wallet", "init", "bob")
	to := bob.Address

	var sent sendReport
	h.runJSON(&sent, "", "tx", "send", "--wallet", "main", "--amount", "0.0000005", "--to", to)
	assert.Equal(t, "sent", string(sent.State))
	assert.Equal(t, 1, h.broker.Pending(to))

	_, err := h.run("", "tx", "send", "--wallet", "main", "--amount", "0.0000005", "--to", "nope")
	assert.Equal(t, bridgeerr.ErrInvalidAddress.Code, bridgeerr.Code(err))
}

func TestAddressCommands(t *testing.T) {
	h := newHarness(t)
	var created walletCreated
	h.runJSON(&created, "", "wallet", "init", "main")
	assert.Equal(t, created.Address, h.address("main"))

	var res addressReport
	h.runJSON(&res, "", "address", "show", "--wallet", "main", "--index", "3", "--domain", "")
	assert.Equal(t, uint32(3), res.Index)
	assert.NotContains(t, res.Address, "@")
	assert.NotEqual(t, strings.SplitN(created.Address, "@", 2)[0], res.Address)

	var valid struct {
		Valid  bool   `json:"valid"`
		Kind   string `json:"kind"`
		Domain string `json:"domain"`
	}
	h.runJSON(&valid, "", "address", "validate", created.Address)
	assert.True(t, valid.Valid)
	assert.Equal(t, "relay", valid.Kind)
	assert.Equal(t, testDomain, valid.Domain)

	_, err := h.run("", "address", "validate", "zz@")
	assert.Equal(t, bridgeerr.ErrInvalidAddress.Code, bridgeerr.Code(err))
}

func TestPromptNewPassword(t *testing.T) {
	orig := promptPasswordFn
	t.Cleanup(func() { promptPasswordFn = orig })
	unsetEnv(t, config.EnvPassword)

	tests := []struct {
		name    string
		answers []string
		wantErr bool
	}{
		{name: "match", answers: []string{"long enough", "long enough"}},
		{name: "too short", answers: []string{"short"}, wantErr: true},
		{name: "mismatch", answers: []string{"long enough", "different!"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			answers := tc.answers
			promptPasswordFn = func(io.Writer, string) ([]byte, error) {
				next := answers[0]
				answers = answers[1:]
				return []byte(next), nil
			}
			pw, err := promptNewPassword(io.Discard)
			if tc.wantErr {
				assert.Equal(t, bridgeerr.ErrInvalidInput.Code, bridgeerr.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.answers[0], string(pw))
		})
	}

	t.Setenv(config.EnvPassword, "from the environment")
	pw, err := readPassword(io.Discard, "unused: ")
	require.NoError(t, err)
	assert.Equal(t, "from the environment", string(pw))
}

// unsetEnv removes key for the rest of the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestPromptMnemonic(t *testing.T) {
	t.Parallel()
	phrase, err := promptMnemonic(io.Discard, strings.NewReader("  abandon   ability\tabout \n"))
	require.NoError(t, err)
	assert.Equal(t, "abandon ability about", phrase)

	_, err = promptMnemonic(io.Discard, strings.NewReader("\n"))
	assert.Equal(t, bridgeerr.ErrInvalidMnemonic.Code, bridgeerr.Code(err))
}

func TestExecute(t *testing.T) {
	home := t.TempDir()
	t.Setenv(config.EnvHome, "")

	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), []string{"--home", home, "-o", "json", "version"}, &stdout, &stderr)
	require.NoError(t, err)
	var info versionReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &info))
	assert.NotEmpty(t, info.GoVersion)

	stdout.Reset()
	err = Execute(context.Background(), []string{"--home", home, "-o", "json", "tx", "show", "junk", "--wallet", "x"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Equal(t, bridgeerr.ExitCode(bridgeerr.ErrInvalidInput), ExitCode(err))

	var doc output.ErrorOutput
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &doc))
	assert.Equal(t, bridgeerr.ErrInvalidInput.Code, doc.Error.Code)
	assert.Empty(t, stdout.String())
}
