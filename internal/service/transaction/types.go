package transaction

import (
	"github.com/mrz1836/mwcbridge/internal/config"
	"github.com/mrz1836/mwcbridge/internal/outputs"
	"github.com/mrz1836/mwcbridge/internal/slate"
)

// InitRequest describes a new outgoing slate.
type InitRequest struct {
	Amount           uint64 // nanoMWC
	Strategy         outputs.Strategy
	MinConfirmations uint64
	Message          string
}

// CreateRequest describes a send delivered as an encrypted slatepack over
// the relay.
type CreateRequest struct {
	Amount        uint64 // nanoMWC
	To            string // relay address of the recipient
	KeyIndex      uint32 // sender address index signing the slatepack
	Relay         config.RelayConfig
	Confirmations uint64
	Note          string
}

// SendHTTPRequest describes a send to a recipient's foreign API.
type SendHTTPRequest struct {
	InitRequest

	URL string
}

// Result is the outcome of an operation that produced a slate.
type Result struct {
	Slate     *slate.Slate `json:"slate"`
	Slatepack string       `json:"slatepack,omitempty"`
	Posted    bool         `json:"posted"`
}
