package foreign

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

const maxRequestBytes = 4 << 20

// Receiver countersigns an incoming sent slate.
type Receiver interface {
	ReceiveTx(ctx context.Context, slateJSON []byte) ([]byte, error)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, slateJSON []byte) ([]byte, error)

// ReceiveTx calls f.
func (f ReceiverFunc) ReceiveTx(ctx context.Context, slateJSON []byte) ([]byte, error) {
	return f(ctx, slateJSON)
}

// Handler serves the foreign API for one receiver.
type Handler struct {
	receiver Receiver
	log      logrus.FieldLogger
}

// NewHandler returns a handler answering receive_tx with r.
func NewHandler(r Receiver, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{receiver: r, log: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(w, rpcResponse{Error: &rpcError{Code: codeParse, Message: "parse error"}})
		return
	}
	resp := rpcResponse{ID: req.ID}

	switch {
	case req.Method != MethodReceiveTx:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	case len(req.Params) == 0:
		resp.Error = &rpcError{Code: codeInvalidParams, Message: "missing slate"}
	default:
		out, err := h.receiver.ReceiveTx(r.Context(), req.Params[0])
		if err != nil {
			h.log.WithError(err).Warn("receive_tx rejected")
			resp.Error = rejection(err)
		} else {
			resp.Result = out
		}
	}
	h.reply(w, resp)
}

func (h *Handler) reply(w http.ResponseWriter, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.WithError(err).Debug("writing foreign api response")
	}
}

func rejection(err error) *rpcError {
	var be *bridgeerr.BridgeError
	if errors.As(err, &be) {
		return &rpcError{Code: codeRejected, Message: err.Error(), Kind: be.Code}
	}
	return &rpcError{Code: codeRejected, Message: err.Error()}
}
