// Package foreign is the synchronous slate exchange: a client that posts a
// sent slate to a recipient's foreign API and an HTTP handler that answers
// receive_tx for a wallet session.
package foreign

import (
	"encoding/json"
	"fmt"

	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// MethodReceiveTx asks the recipient to countersign a slate.
const MethodReceiveTx = "receive_tx"

// JSON-RPC error codes.
const (
	codeParse          = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeRejected       = -32000
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("recipient rejected slate (%d): %s", e.Code, e.Message)
}

// kinds recognised when a recipient reports why it rejected a slate.
var kinds = map[string]*bridgeerr.BridgeError{
	bridgeerr.ErrInvalidSlate.Code:  bridgeerr.ErrInvalidSlate,
	bridgeerr.ErrInvalidState.Code:  bridgeerr.ErrInvalidState,
	bridgeerr.ErrValidation.Code:    bridgeerr.ErrValidation,
	bridgeerr.ErrBusy.Code:          bridgeerr.ErrBusy,
	bridgeerr.ErrSessionClosed.Code: bridgeerr.ErrSessionClosed,
}
