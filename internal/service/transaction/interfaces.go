package transaction

import (
	"context"

	"github.com/mrz1836/mwcbridge/internal/relay"
)

// Publisher delivers slatepacks over the relay.
type Publisher interface {
	Publish(ctx context.Context, msg relay.Message) error
}

// ForeignClient posts a slate to a recipient's foreign API and returns the
// countersigned response.
type ForeignClient interface {
	ReceiveTx(ctx context.Context, endpoint string, slateJSON []byte) ([]byte, error)
}

// Recorder receives slate transition counts.
type Recorder interface {
	RecordTransition(state string)
}
