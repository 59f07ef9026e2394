package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mrz1836/mwcbridge/internal/chain"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Frame types exchanged with the relay server.
const (
	frameSubscribe = "subscribe"
	framePublish   = "publish"
	frameMessage   = "message"
	frameAck       = "ack"
	frameError     = "error"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 2 << 20
)

type frame struct {
	Type    string   `json:"type"`
	Address string   `json:"address,omitempty"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// WebsocketRelay is a relay client. Every subscription holds its own
// connection and redials it with backoff when it drops; publishes use a
// short-lived one.
type WebsocketRelay struct {
	url       string
	dialer    *websocket.Dialer
	log       logrus.FieldLogger
	reconnect chain.RetryConfig
}

var _ Relay = (*WebsocketRelay)(nil)

// NewWebsocketRelay returns a client for the relay at url (ws:// or wss://).
func NewWebsocketRelay(url string, logger logrus.FieldLogger) *WebsocketRelay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebsocketRelay{
		url:       url,
		dialer:    &websocket.Dialer{HandshakeTimeout: writeWait, Proxy: http.ProxyFromEnvironment},
		log:       logger.WithField("relay", url),
		reconnect: chain.RetryConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	}
}

// SetReconnect sets the backoff between attempts to restore a dropped
// subscription. MaxAttempts is ignored: a subscription retries until closed.
func (r *WebsocketRelay) SetReconnect(cfg chain.RetryConfig) {
	r.reconnect = cfg
}

// Subscribe connects and claims address. The subscription survives relay
// restarts and dropped connections; only Close ends it.
func (r *WebsocketRelay) Subscribe(ctx context.Context, address string) (Subscription, error) {
	if _, err := Mailbox(address); err != nil {
		return nil, err
	}

	conn, err := r.handshake(ctx, frame{Type: frameSubscribe, Address: address})
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &wsSub{
		relay:   r,
		address: address,
		conn:    conn,
		ctx:     subCtx,
		cancel:  cancel,
		ch:      make(chan Message, subscriberBuffer),
		done:    make(chan struct{}),
		log:     r.log.WithField("address", address),
	}
	go sub.readLoop(conn)
	go sub.pingLoop()
	return sub, nil
}

// Publish sends msg through the relay.
func (r *WebsocketRelay) Publish(ctx context.Context, msg Message) error {
	if _, err := Mailbox(msg.To); err != nil {
		return err
	}

	conn, err := r.handshake(ctx, frame{Type: framePublish, Message: &msg})
	if err != nil {
		return err
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return conn.Close()
}

// handshake dials, sends req and waits for the server's ack.
func (r *WebsocketRelay) handshake(ctx context.Context, req frame) (*websocket.Conn, error) {
	conn, resp, err := r.dialer.DialContext(ctx, r.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("dialing relay: %w", err))
	}
	conn.SetReadLimit(maxFrameSize)

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("sending %s: %w", req.Type, err))
	}

	var ack frame
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, bridgeerr.Kind(bridgeerr.ErrNetwork, fmt.Errorf("awaiting %s ack: %w", req.Type, err))
	}
	if ack.Type == frameError {
		_ = conn.Close()
		if ack.Error == ErrAlreadySubscribed.Error() {
			return nil, bridgeerr.Kind(bridgeerr.ErrBusy, ErrAlreadySubscribed)
		}
		return nil, bridgeerr.Kindf(bridgeerr.ErrNetwork, "relay refused %s: %s", req.Type, ack.Error)
	}
	if ack.Type != frameAck {
		_ = conn.Close()
		return nil, bridgeerr.Kindf(bridgeerr.ErrNetwork, "unexpected relay frame %q", ack.Type)
	}

	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

type wsSub struct {
	relay   *WebsocketRelay
	address string
	ctx     context.Context //nolint:containedctx // cancelled by Close to abort redials
	cancel  context.CancelFunc
	ch      chan Message
	done    chan struct{}
	log     logrus.FieldLogger
	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn // nil while reconnecting
	err    error
	closed bool
	once   sync.Once
}

func (s *wsSub) Messages() <-chan Message { return s.ch }

// Err returns the last connection error while the subscription is
// reconnecting, and nil once it is restored or closed.
func (s *wsSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSub) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = nil
		conn := s.conn
		s.mu.Unlock()

		s.cancel()
		close(s.done)
		if conn == nil {
			return
		}
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.writeMu.Unlock()
		// readLoop may have closed a failed connection already.
		if err = conn.Close(); errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (s *wsSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// readLoop delivers messages from conn and replaces the connection whenever
// it fails. Messages closes only after Close.
func (s *wsSub) readLoop(conn *websocket.Conn) {
	defer close(s.ch)

	for {
		err := s.consume(conn)
		if s.isClosed() {
			return
		}

		s.mu.Lock()
		s.conn = nil
		s.err = bridgeerr.Kind(bridgeerr.ErrNetwork, err)
		s.mu.Unlock()
		_ = conn.Close()
		s.log.WithError(err).Warn("relay subscription lost, reconnecting")

		var ok bool
		if conn, ok = s.redial(); !ok {
			return
		}
		s.log.Info("relay subscription restored")
	}
}

// consume reads frames from conn until it fails or the subscription closes.
func (s *wsSub) consume(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Type != frameMessage || f.Message == nil {
			s.log.WithField("frame", f.Type).Debug("ignoring relay frame")
			continue
		}
		select {
		case s.ch <- *f.Message:
		case <-s.done:
			return ErrClosed
		}
	}
}

// redial subscribes again with backoff until it succeeds or Close is called.
func (s *wsSub) redial() (*websocket.Conn, bool) {
	for attempt := 0; ; attempt++ {
		timer := time.NewTimer(s.relay.reconnect.Backoff(attempt))
		select {
		case <-s.done:
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		conn, err := s.relay.handshake(s.ctx, frame{Type: frameSubscribe, Address: s.address})
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.log.WithError(err).WithField("attempt", attempt+1).Debug("relay reconnect failed")
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return nil, false
		}
		s.conn = conn
		s.err = nil
		s.mu.Unlock()
		return conn, true
	}
}

func (s *wsSub) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				continue
			}
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.log.WithError(err).Debug("relay ping failed")
			}
		}
	}
}
