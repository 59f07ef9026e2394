package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNode = errors.New("node down")

func TestMetrics_RecordNodeRequest(t *testing.T) {
	t.Parallel()
	m := New()

	m.RecordNodeRequest("get_tip", 100*time.Millisecond, nil)
	m.RecordNodeRequest("get_tip", 50*time.Millisecond, errNode)
	m.RecordNodeRequest("push_transaction", time.Millisecond, nil)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.nodeRequests.WithLabelValues("get_tip", ResultOK)), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.nodeRequests.WithLabelValues("get_tip", ResultError)), 0.001)
	assert.Equal(t, 3, testutil.CollectAndCount(m.nodeRequests))
}

func TestMetrics_Transitions(t *testing.T) {
	t.Parallel()
	m := New()

	m.RecordTransition("sent")
	m.RecordTransition("sent")
	m.RecordTransition("finalized")

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.slateTransitions.WithLabelValues("sent")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.slateTransitions.WithLabelValues("finalized")), 0.001)
}

func TestMetrics_ListenerAndWallet(t *testing.T) {
	t.Parallel()
	m := New()

	m.ListenerStarted()
	m.ListenerStarted()
	m.ListenerStopped()
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.activeListeners), 0.001)

	m.RecordListenerMessage("received")
	m.RecordListenerMessage("dropped")
	assert.Equal(t, 2, testutil.CollectAndCount(m.listenerMessages))

	m.RecordWalletOp("open", nil)
	m.RecordWalletOp("open", errNode)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.walletOps.WithLabelValues("open", ResultError)), 0.001)
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()
	m := New()
	m.RecordTransition("initiated")

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL) //nolint:noctx // test request
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `mwcbridge_slate_transitions_total{state="initiated"} 1`)
}

func TestGlobalIsUsable(t *testing.T) {
	t.Parallel()
	require.NotNil(t, Global)
	require.NotNil(t, Global.Registry())
}
