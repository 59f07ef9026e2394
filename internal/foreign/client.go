package foreign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/mrz1836/mwcbridge/internal/chain"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const (
	defaultTimeout   = 60 * time.Second
	maxResponseBytes = 4 << 20
)

// Client posts slates to recipient foreign APIs. Requests are never retried:
// a slate handed to a recipient may already have been countersigned.
type Client struct {
	http    *http.Client
	limiter *chain.RateLimiter
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
	nextID  atomic.Uint64
}

// NewClient returns a client with the given per-request timeout.
func NewClient(timeout time.Duration, logger logrus.FieldLogger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: chain.NewRateLimiter(2, 2),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "foreign",
			IsSuccessful: func(err error) bool {
				var re *rpcError
				return err == nil || errors.As(err, &re)
			},
		}),
		log: logger,
	}
}

// ReceiveTx sends slateJSON to the foreign API at endpoint and returns the
// recipient's countersigned slate JSON. Transport failures are ErrNetwork;
// rejections keep the recipient's error kind when it is one we know.
func (c *Client) ReceiveTx(ctx context.Context, endpoint string, slateJSON []byte) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, bridgeerr.Kindf(bridgeerr.ErrInvalidAddress, "foreign api url %q", endpoint)
	}
	if err := c.limiter.Wait(ctx, u.Host); err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrNetwork, err)
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  MethodReceiveTx,
		"params":  []json.RawMessage{slateJSON},
	})
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrInvalidSlate, err)
	}

	log := c.log.WithField("url", u.Redacted())
	start := time.Now()
	raw, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, endpoint, body)
	})
	if err != nil {
		log.WithError(err).Warn("foreign api request failed")
		var re *rpcError
		if errors.As(err, &re) {
			if kind, ok := kinds[re.Kind]; ok {
				return nil, bridgeerr.Kind(kind, re)
			}
		}
		return nil, bridgeerr.Kind(bridgeerr.ErrNetwork, err)
	}
	log.WithField("elapsed", time.Since(start)).Debug("foreign api answered")
	return raw.([]byte), nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("foreign api returned status %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if len(out.Result) == 0 || string(out.Result) == "null" {
		return nil, errors.New("empty result")
	}
	return out.Result, nil
}
