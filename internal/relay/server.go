package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server exposes a Broker to websocket clients.
type Server struct {
	broker   *Broker
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewServer returns an http.Handler serving broker.
func NewServer(broker *Broker, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("relay upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(maxFrameSize)

	var req frame
	_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch req.Type {
	case framePublish:
		if req.Message == nil {
			s.reply(conn, frame{Type: frameError, Error: "publish without message"})
			return
		}
		if err := s.broker.Publish(r.Context(), *req.Message); err != nil {
			s.reply(conn, frame{Type: frameError, Error: err.Error()})
			return
		}
		s.reply(conn, frame{Type: frameAck})
		s.drain(conn)

	case frameSubscribe:
		s.serveSubscription(r, conn, req.Address)

	default:
		s.reply(conn, frame{Type: frameError, Error: "unknown frame " + req.Type})
	}
}

func (s *Server) serveSubscription(r *http.Request, conn *websocket.Conn, address string) {
	sub, err := s.broker.Subscribe(r.Context(), address)
	if err != nil {
		s.reply(conn, frame{Type: frameError, Error: err.Error()})
		return
	}
	defer func() { _ = sub.Close() }()

	var writeMu sync.Mutex
	write := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(f)
	}
	if err := write(frame{Type: frameAck}); err != nil {
		return
	}

	// The client never sends after subscribing; reading only surfaces the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		s.drain(conn)
	}()

	log := s.log.WithField("address", address)
	for {
		select {
		case <-gone:
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := write(frame{Type: frameMessage, Message: &msg}); err != nil {
				log.WithError(err).Debug("relay delivery failed")
				return
			}
		}
	}
}

func (s *Server) reply(conn *websocket.Conn, f frame) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(f)
}

// drain reads until the peer goes away, answering pings.
func (s *Server) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// Serve runs the relay on addr until ctx is done, then closes the broker so
// connected subscribers see the relay go away.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: writeWait,
	}
	s.log.WithField("addr", addr).Info("relay listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		s.broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
