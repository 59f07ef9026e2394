// Package relay moves slatepacks between wallet addresses over a
// message-queuing relay. A websocket client talks to a remote relay; an
// in-memory broker serves tests and the bundled relay server.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/mwcbridge/internal/keychain"
)

var (
	// ErrClosed is returned by operations on a closed relay or subscription.
	ErrClosed = errors.New("relay closed")

	// ErrAlreadySubscribed is returned when an address already has a subscriber.
	ErrAlreadySubscribed = errors.New("address already has a subscriber")
)

// Message is a slatepack in flight between two addresses.
type Message struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Subscription delivers messages addressed to one address.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan Message

	// Err reports why Messages closed, or the connection error of a
	// subscription that is reconnecting. It is nil after Close.
	Err() error

	// Close ends the subscription. It is safe to call more than once.
	Close() error
}

// Relay is the transport a listener and createTx use.
type Relay interface {
	Subscribe(ctx context.Context, address string) (Subscription, error)
	Publish(ctx context.Context, msg Message) error
}

// Mailbox normalizes a relay or slatepack address to the key messages are
// routed by. The relay domain is not part of the key.
func Mailbox(address string) (string, error) {
	info, err := keychain.ParseAddress(address)
	if err != nil {
		return "", err
	}
	if info.Kind == keychain.KindHTTP {
		return "", fmt.Errorf("%w: http address cannot be reached over a relay", keychain.ErrInvalidAddress)
	}
	return info.PublicKeyHex(), nil
}
