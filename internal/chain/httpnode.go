package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/mwcbridge/internal/keychain"
	"github.com/mrz1836/mwcbridge/internal/metrics"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Node RPC methods.
const (
	MethodGetTip             = "get_tip"
	MethodOutputsByHeight    = "get_outputs_by_height"
	MethodOutputsByCommit    = "get_outputs"
	MethodPushTransaction    = "push_transaction"
	apiUser                  = "mwcmain"
	commitChunkSize          = 100
	maxParallelChunks        = 4
	maxResponseBytes         = 16 << 20
	breakerMinRequests       = 10
	breakerFailureRatio      = 0.6
	defaultNodeTimeout       = 30 * time.Second
	defaultRequestsPerSecond = 10
)

// ErrBreakerOpen indicates the node has been failing and requests are
// short-circuited until the breaker half-opens.
var ErrBreakerOpen = errors.New("node circuit breaker open")

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// HTTPNodeOptions configures an HTTPNode.
type HTTPNodeOptions struct {
	URL               string
	APISecret         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             RetryConfig
	HTTPClient        *http.Client
	Logger            logrus.FieldLogger
}

// HTTPNode talks to a node's foreign API over JSON-RPC.
type HTTPNode struct {
	url       string
	apiSecret string
	client    *http.Client
	limiter   *RateLimiter
	breaker   *gobreaker.CircuitBreaker
	retry     RetryConfig
	log       logrus.FieldLogger
	nextID    atomic.Uint64
}

var _ Node = (*HTTPNode)(nil)

// NewHTTPNode creates a node client.
func NewHTTPNode(opts HTTPNodeOptions) *HTTPNode {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultNodeTimeout
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &HTTPNode{
		url:       opts.URL,
		apiSecret: opts.APISecret,
		client:    opts.HTTPClient,
		limiter:   NewRateLimiter(opts.RequestsPerSecond, opts.Burst),
		breaker:   newBreaker(opts.URL),
		retry:     opts.Retry,
		log:       opts.Logger.WithField("node", opts.URL),
	}
}

// newBreaker trips once enough requests have been seen and most of them failed.
// Node-side rejections are answers, not outages, so they count as successes.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests > breakerMinRequests && ratio >= breakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			var rpcErr *RPCError
			return err == nil || errors.As(err, &rpcErr)
		},
	})
}

// Tip returns the current chain head.
func (n *HTTPNode) Tip(ctx context.Context) (Tip, error) {
	var tip Tip
	err := n.read(ctx, MethodGetTip, nil, &tip)
	return tip, err
}

// OutputsByHeight returns the unspent outputs created in heights [start, end).
func (n *HTTPNode) OutputsByHeight(ctx context.Context, start, end uint64) ([]Output, error) {
	if end <= start {
		return nil, nil
	}
	var outs []Output
	err := n.read(ctx, MethodOutputsByHeight, []any{start, end}, &outs)
	return outs, err
}

// OutputsByCommit looks commitments up in chunks, a few chunks at a time.
func (n *HTTPNode) OutputsByCommit(ctx context.Context, commits []keychain.Point) ([]Output, error) {
	if len(commits) == 0 {
		return nil, nil
	}

	chunks := make([][]keychain.Point, 0, (len(commits)+commitChunkSize-1)/commitChunkSize)
	for i := 0; i < len(commits); i += commitChunkSize {
		chunks = append(chunks, commits[i:min(i+commitChunkSize, len(commits))])
	}

	results := make([][]Output, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChunks)
	for i, chunk := range chunks {
		g.Go(func() error {
			return n.read(gctx, MethodOutputsByCommit, []any{chunk}, &results[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var outs []Output
	for _, r := range results {
		outs = append(outs, r...)
	}
	return outs, nil
}

// PushTransaction submits tx once. A failed push is reported, not repeated.
func (n *HTTPNode) PushTransaction(ctx context.Context, tx Transaction) error {
	start := time.Now()
	err := n.call(ctx, MethodPushTransaction, []any{tx}, nil)
	metrics.Global.RecordNodeRequest(MethodPushTransaction, time.Since(start), err)
	if err != nil {
		return nodeError(MethodPushTransaction, err)
	}
	n.log.WithField("inputs", len(tx.Inputs)).Info("transaction pushed")
	return nil
}

// read performs an idempotent call with retries.
func (n *HTTPNode) read(ctx context.Context, method string, params, result any) error {
	start := time.Now()
	_, err := RetryWithConfig(ctx, n.retry, func() (struct{}, error) {
		return struct{}{}, n.call(ctx, method, params, result)
	})
	metrics.Global.RecordNodeRequest(method, time.Since(start), err)
	if err != nil {
		return nodeError(method, err)
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs a single JSON-RPC round trip through the limiter and breaker.
func (n *HTTPNode) call(ctx context.Context, method string, params, result any) error {
	if err := n.limiter.Wait(ctx, method); err != nil {
		return err
	}
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: n.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	raw, err := n.breaker.Execute(func() (any, error) {
		return n.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw.([]byte), &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

func (n *HTTPNode) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiSecret != "" {
		req.SetBasicAuth(apiUser, n.apiSecret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, WrapRetryable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, WrapRetryable(fmt.Errorf("reading response: %w", err))
	}
	return data, nil
}

// nodeError surfaces a node failure as a network error, keeping auth failures.
func nodeError(method string, err error) error {
	if errors.Is(err, bridgeerr.ErrAuth) {
		return err
	}
	return bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("%s: %w", method, err))
}
