package transaction

import (
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/mwcbridge/internal/chain"
	"github.com/mrz1836/mwcbridge/internal/chain/chaintest"
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/foreign"
	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/relay"
	"github.com/mrz1836/mwcbridge/internal/session"
	"github.com/mrz1836/mwcbridge/internal/session/sessiontest"
	"github.com/mrz1836/mwcbridge/internal/slate"
	"github.com/mrz1836/mwcbridge/internal/slatepack"
	"github.com/mrz1836/mwcbridge/internal/txlog"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

type transitions struct {
	mu     sync.Mutex
	states []string
}

func (r *transitions) RecordTransition(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *transitions) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

type harness struct {
	node     *chaintest.Node
	svc      *Service
	metrics  *transitions
	sender   *session.Session
	receiver *session.Session
}

func newHarness(t *testing.T, funds ...uint64) *harness {
	t.Helper()
	h := &harness{node: chaintest.New(), metrics: &transitions{}}
	h.svc = NewService(&Config{Metrics: h.metrics, Logger: config.NullLogger()})
	h.sender = sessiontest.Open(t, h.node, sessiontest.Mnemonic, "sender")
	h.receiver = sessiontest.Open(t, h.node, sessiontest.OtherMnemonic, "receiver")
	if len(funds) > 0 {
		sessiontest.Fund(t, h.node, h.sender, funds...)
	}
	return h
}

func initRequest(amount uint64) InitRequest {
	return InitRequest{Amount: amount, MinConfirmations: 1, Message: "coffee"}
}

// sent runs Init and MarkSent on the sender and returns the wire slate.
func (h *harness) sent(t *testing.T, amount uint64) []byte {
	t.Helper()
	ctx := context.Background()
	sl, err := h.svc.Init(ctx, h.sender, initRequest(amount))
	require.NoError(t, err)
	sl, err = h.svc.MarkSent(ctx, h.sender, sl.ID)
	require.NoError(t, err)
	data, err := sl.Marshal()
	require.NoError(t, err)
	return data
}

// received runs the sender and receiver halves and returns the response slate.
func (h *harness) received(t *testing.T, amount uint64) *slate.Slate {
	t.Helper()
	sl, err := h.svc.Receive(context.Background(), h.receiver, h.sent(t, amount))
	require.NoError(t, err)
	return sl
}

func record(t *testing.T, s *session.Session, sl *slate.Slate) txlog.Record {
	t.Helper()
	var rec txlog.Record
	require.NoError(t, s.Read(func(st *session.State) error {
		var err error
		rec, err = st.Log.Get(sl.ID)
		return err
	}))
	return rec
}

func storeOutputs(t *testing.T, s *session.Session) []outputs.Output {
	t.Helper()
	var outs []outputs.Output
	require.NoError(t, s.Read(func(st *session.State) error {
		outs = st.Outputs.All()
		return nil
	}))
	return outs
}

func marshal(t *testing.T, sl *slate.Slate) []byte {
	t.Helper()
	data, err := sl.Marshal()
	require.NoError(t, err)
	return data
}

func TestInit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)

	sl, err := h.svc.Init(context.Background(), h.sender, initRequest(500))
	require.NoError(t, err)

	assert.Equal(t, slate.StateInitiated, sl.State)
	assert.Equal(t, uint32(1), sl.Round)
	assert.Equal(t, uint64(500), sl.Amount)
	assert.Equal(t, slate.Fee(1, 1, 2, 1), sl.Fee)
	require.Len(t, sl.Inputs, 1)
	require.Len(t, sl.Outputs, 1)
	require.Len(t, sl.Participants, 1)
	assert.Equal(t, "coffee", sl.Message())
	assert.Nil(t, sl.Participants[0].PartialSig)

	outs := storeOutputs(t, h.sender)
	require.Len(t, outs, 2)
	byStatus := map[outputs.Status]outputs.Output{}
	for _, o := range outs {
		byStatus[o.Status] = o
		assert.Equal(t, sl.ID, o.SlateID)
	}
	assert.Equal(t, uint64(1_000), byStatus[outputs.StatusLocked].Value)
	assert.Equal(t, uint64(1_000-500-sl.Fee), byStatus[outputs.StatusUnconfirmed].Value)

	rec := record(t, h.sender, sl)
	assert.Equal(t, txlog.DirectionSend, rec.Direction)
	assert.Equal(t, slate.StateInitiated, rec.State)
	assert.Equal(t, []string{string(slate.StateInitiated)}, h.metrics.seen())
}

func TestInit_SecondInitFailsWhileOutputLocked(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()

	_, err := h.svc.Init(ctx, h.sender, initRequest(500))
	require.NoError(t, err)

	_, err = h.svc.Init(ctx, h.sender, initRequest(500))
	require.ErrorIs(t, err, bridgeerr.ErrInsufficientFunds)
	assert.Equal(t, bridgeerr.ExitPermission, bridgeerr.ExitCode(err))
}

func TestInit_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()

	tests := []struct {
		name string
		req  InitRequest
		want error
	}{
		{"zero amount", InitRequest{Amount: 0}, bridgeerr.ErrInvalidAmount},
		{"more than balance", initRequest(5_000), bridgeerr.ErrInsufficientFunds},
		{"amount plus fee exceeds balance", initRequest(1_000), bridgeerr.ErrInsufficientFunds},
		{"amount plus fee overflows", initRequest(math.MaxUint64), bridgeerr.ErrInsufficientFunds},
		{"unknown strategy", InitRequest{Amount: 10, Strategy: "largest"}, bridgeerr.ErrInvalidInput},
		{"not enough confirmations", InitRequest{Amount: 10, MinConfirmations: 50}, bridgeerr.ErrInsufficientFunds},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Init(ctx, h.sender, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	// nothing was locked by the failures
	for _, o := range storeOutputs(t, h.sender) {
		assert.Equal(t, outputs.StatusUnspent, o.Status)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()

	response := h.received(t, 500)
	assert.Equal(t, slate.StateReceived, response.State)
	assert.Equal(t, uint32(3), response.Round)
	assert.Equal(t, 1, response.SignatureCount())
	assert.Len(t, response.Outputs, 2)

	final, err := h.svc.Finalize(ctx, h.sender, marshal(t, response))
	require.NoError(t, err)
	assert.Equal(t, []string{"initiated", "sent", "received", "finalized"}, h.metrics.seen())
	assert.Equal(t, slate.StateFinalized, final.State)
	assert.Equal(t, uint32(4), final.Round)
	assert.Equal(t, 2, final.SignatureCount())
	require.NotNil(t, final.Kernel)

	pushed := h.node.Pushed()
	require.Len(t, pushed, 1)
	tx := pushed[0]
	outs := make([]keychain.Point, 0, len(tx.Outputs))
	for _, o := range tx.Outputs {
		outs = append(outs, o.Commit)
	}
	require.NoError(t, keychain.VerifyBalance(outs, tx.Inputs, tx.Kernel.Fee, tx.Offset, tx.Kernel.Excess))
	require.NoError(t, keychain.VerifyPartial(keychain.KernelMessage{
		NonceSum:   tx.Kernel.NonceSum,
		ExcessSum:  tx.Kernel.Excess,
		Fee:        tx.Kernel.Fee,
		LockHeight: tx.Kernel.LockHeight,
	}, tx.Kernel.Signature, tx.Kernel.NonceSum, tx.Kernel.Excess))

	rec := record(t, h.sender, final)
	assert.Equal(t, slate.StateFinalized, rec.State)
	assert.True(t, rec.Posted)

	// once mined both wallets see the new outputs
	h.node.Mine(sessiontest.Confirmations)
	_, err = h.sender.Refresh(ctx)
	require.NoError(t, err)
	_, err = h.receiver.Refresh(ctx)
	require.NoError(t, err)

	var senderUnspent, receiverUnspent uint64
	for _, o := range storeOutputs(t, h.sender) {
		if o.Status == outputs.StatusUnspent {
			senderUnspent += o.Value
		}
	}
	for _, o := range storeOutputs(t, h.receiver) {
		if o.Status == outputs.StatusUnspent {
			receiverUnspent += o.Value
		}
	}
	assert.Equal(t, 1_000-500-final.Fee, senderUnspent)
	assert.Equal(t, uint64(500), receiverUnspent)
}

func TestFinalize_RejectsUnbalancedSlate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		tamper func(t *testing.T, h *harness, sl *slate.Slate)
	}{
		{
			name: "inflated receiver output",
			tamper: func(t *testing.T, h *harness, sl *slate.Slate) {
				inflated, err := sessiontest.Keys(t, h.receiver).Commit(50_000, 0)
				require.NoError(t, err)
				sl.Outputs[1].Commit = inflated
			},
		},
		{
			name: "forged receiver signature",
			tamper: func(_ *testing.T, _ *harness, sl *slate.Slate) {
				forged := keychain.Scalar{31: 7}
				sl.Participants[1].PartialSig = &forged
			},
		},
		{
			name: "dropped receiver output",
			tamper: func(_ *testing.T, _ *harness, sl *slate.Slate) {
				sl.Outputs = sl.Outputs[:1]
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, 1_000)
			response := h.received(t, 500)
			tc.tamper(t, h, response)

			_, err := h.svc.Finalize(ctx, h.sender, marshal(t, response))
			require.ErrorIs(t, err, bridgeerr.ErrValidation)
			assert.Empty(t, h.node.Pushed())
			assert.Equal(t, slate.StateSent, record(t, h.sender, response).State)
		})
	}
}

func TestStateMonotonicity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()

	sentJSON := h.sent(t, 300)

	// a slate only moves forward one round at a time
	_, err := h.svc.Finalize(ctx, h.sender, sentJSON)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidSlate)

	response, err := h.svc.Receive(ctx, h.receiver, sentJSON)
	require.NoError(t, err)

	_, err = h.svc.Receive(ctx, h.receiver, sentJSON)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidSlate, "duplicate receive")

	_, err = h.svc.Receive(ctx, h.receiver, marshal(t, response))
	require.ErrorIs(t, err, bridgeerr.ErrInvalidSlate, "receive of a received slate")

	final, err := h.svc.Finalize(ctx, h.sender, marshal(t, response))
	require.NoError(t, err)

	_, err = h.svc.Finalize(ctx, h.sender, marshal(t, response))
	require.ErrorIs(t, err, bridgeerr.ErrInvalidState, "second finalize")

	_, err = h.svc.Cancel(ctx, h.sender, final.ID)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidState, "cancel after finalize")

	_, err = h.svc.Receive(ctx, h.sender, marshal(t, final))
	require.ErrorIs(t, err, bridgeerr.ErrInvalidSlate, "receive of a finalized slate")

	_, err = h.svc.MarkSent(ctx, h.receiver, final.ID)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidState, "mark sent on an incoming slate")
}

func TestCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()

	sl, err := h.svc.Init(ctx, h.sender, initRequest(500))
	require.NoError(t, err)

	cancelled, err := h.svc.Cancel(ctx, h.sender, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slate.StateCancelled, cancelled.State)
	assert.Equal(t, sl.Round, cancelled.Round)

	outs := storeOutputs(t, h.sender)
	require.Len(t, outs, 1)
	assert.Equal(t, outputs.StatusUnspent, outs[0].Status)

	_, err = h.svc.Cancel(ctx, h.sender, sl.ID)
	require.ErrorIs(t, err, bridgeerr.ErrInvalidState)

	_, err = h.svc.Cancel(ctx, h.sender, [16]byte{1})
	require.ErrorIs(t, err, bridgeerr.ErrTransactionNotFound)

	// the released output funds a new slate
	_, err = h.svc.Init(ctx, h.sender, initRequest(500))
	require.NoError(t, err)
}

func TestCancel_LateResponseIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()

	response := h.received(t, 500)
	_, err := h.svc.Cancel(ctx, h.sender, response.ID)
	require.NoError(t, err)

	_, err = h.svc.Finalize(ctx, h.sender, marshal(t, response))
	require.ErrorIs(t, err, bridgeerr.ErrInvalidState)
	assert.Empty(t, h.node.Pushed())
}

func TestCancelFinalizeRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for range 5 {
		h := newHarness(t, 1_000)
		response := h.received(t, 500)
		data := marshal(t, response)

		var wg sync.WaitGroup
		var cancelErr, finalizeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = h.svc.Cancel(ctx, h.sender, response.ID)
		}()
		go func() {
			defer wg.Done()
			_, finalizeErr = h.svc.Finalize(ctx, h.sender, data)
		}()
		wg.Wait()

		rec := record(t, h.sender, response)
		require.True(t, rec.State.Terminal())
		if cancelErr == nil {
			require.ErrorIs(t, finalizeErr, bridgeerr.ErrInvalidState)
			assert.Equal(t, slate.StateCancelled, rec.State)
			assert.Empty(t, h.node.Pushed())
		} else {
			require.NoError(t, finalizeErr)
			require.ErrorIs(t, cancelErr, bridgeerr.ErrInvalidState)
			assert.Equal(t, slate.StateFinalized, rec.State)
		}
	}
}

func TestPost(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()
	response := h.received(t, 500)

	h.node.Fail(chain.MethodPushTransaction, assert.AnError)
	final, err := h.svc.Finalize(ctx, h.sender, marshal(t, response))
	require.ErrorIs(t, err, bridgeerr.ErrNetwork)
	// the finalized slate comes back with the post failure
	require.NotNil(t, final)
	assert.Equal(t, response.ID, final.ID)
	assert.Equal(t, slate.StateFinalized, final.State)
	require.NotNil(t, final.Kernel)

	rec := record(t, h.sender, response)
	assert.Equal(t, slate.StateFinalized, rec.State)
	assert.False(t, rec.Posted)

	h.node.Fail(chain.MethodPushTransaction, nil)
	require.NoError(t, h.svc.Post(ctx, h.sender, response.ID))
	assert.True(t, record(t, h.sender, response).Posted)
	assert.Len(t, h.node.Pushed(), 1)

	// only finalized slates can be posted
	require.ErrorIs(t, h.svc.Post(ctx, h.receiver, response.ID), bridgeerr.ErrInvalidState)
}

func TestSendHTTP(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()

	srv := httptest.NewServer(foreign.NewHandler(h.svc.Receiver(h.receiver), config.NullLogger()))
	t.Cleanup(srv.Close)

	svc := NewService(&Config{Foreign: foreign.NewClient(5*time.Second, config.NullLogger()), Metrics: h.metrics})
	result, err := svc.SendHTTP(ctx, h.sender, SendHTTPRequest{InitRequest: initRequest(400), URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, result.Posted)
	assert.Equal(t, slate.StateFinalized, result.Slate.State)
	assert.Len(t, h.node.Pushed(), 1)

	rec := record(t, h.sender, result.Slate)
	assert.Equal(t, srv.URL, rec.Address)
	assert.Equal(t, slate.StateReceived, record(t, h.receiver, result.Slate).State)
}

func TestSendHTTP_TransportFailureCancels(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx := context.Background()

	srv := httptest.NewServer(foreign.NewHandler(h.svc.Receiver(h.receiver), config.NullLogger()))
	url := srv.URL
	srv.Close()

	svc := NewService(&Config{Foreign: foreign.NewClient(time.Second, config.NullLogger()), Metrics: h.metrics})
	_, err := svc.SendHTTP(ctx, h.sender, SendHTTPRequest{InitRequest: initRequest(400), URL: url})
	require.ErrorIs(t, err, bridgeerr.ErrNetwork)

	var recs []txlog.Record
	require.NoError(t, h.sender.Read(func(st *session.State) error {
		var err error
		recs, err = st.Log.List()
		return err
	}))
	require.Len(t, recs, 1)
	assert.Equal(t, slate.StateCancelled, recs[0].State)

	outs := storeOutputs(t, h.sender)
	require.Len(t, outs, 1)
	assert.Equal(t, outputs.StatusUnspent, outs[0].Status)
	assert.Empty(t, h.node.Pushed())
}

func TestSendHTTP_InvalidURL(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	svc := NewService(&Config{Foreign: foreign.NewClient(time.Second, nil)})

	_, err := svc.SendHTTP(context.Background(), h.sender, SendHTTPRequest{InitRequest: initRequest(400), URL: "ftp://nowhere"})
	require.ErrorIs(t, err, bridgeerr.ErrInvalidAddress)
	assert.Len(t, storeOutputs(t, h.sender), 1)
}

func TestCreate_PublishesEncryptedSlatepack(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := relay.NewBroker()
	t.Cleanup(broker.Close)
	svc := NewService(&Config{Relay: broker, Metrics: h.metrics})

	to, err := h.receiver.Address(0, "relay.test")
	require.NoError(t, err)
	sub, err := broker.Subscribe(ctx, to)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	result, err := svc.Create(ctx, h.sender, CreateRequest{
		Amount:        250,
		To:            to,
		KeyIndex:      0,
		Relay:         config.RelayConfig{Domain: "relay.test"},
		Confirmations: 1,
		Note:          "rent",
	})
	require.NoError(t, err)
	assert.Equal(t, slate.StateSent, result.Slate.State)

	var msg relay.Message
	select {
	case msg = <-sub.Messages():
	case <-ctx.Done():
		t.Fatal("no message delivered")
	}
	assert.Equal(t, result.Slatepack, msg.Body)
	from, err := h.sender.Address(0, "relay.test")
	require.NoError(t, err)
	assert.Equal(t, from, msg.From)

	_, err = slatepack.Decode(msg.Body, nil)
	require.ErrorIs(t, err, bridgeerr.ErrDecrypt)

	decoded, err := slatepack.Decode(msg.Body, h.receiver.KeySource(0))
	require.NoError(t, err)
	assert.True(t, decoded.Encrypted)
	assert.Equal(t, slatepack.PurposeSendInitial, decoded.Purpose)

	var wire slate.Slate
	require.NoError(t, json.Unmarshal(decoded.SlateJSON, &wire))
	assert.Equal(t, result.Slate.ID, wire.ID)
	assert.Equal(t, "rent", wire.Message())
	assert.Equal(t, to, record(t, h.sender, result.Slate).Address)
}

func TestCreate_PublishFailureCancels(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1_000)
	broker := relay.NewBroker()
	broker.Close()
	svc := NewService(&Config{Relay: broker})

	to, err := h.receiver.Address(0, "")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), h.sender, CreateRequest{Amount: 250, To: to, Confirmations: 1})
	require.ErrorIs(t, err, bridgeerr.ErrNetwork)

	outs := storeOutputs(t, h.sender)
	require.Len(t, outs, 1)
	assert.Equal(t, outputs.StatusUnspent, outs[0].Status)
}
