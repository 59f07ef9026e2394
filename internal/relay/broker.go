package relay

import (
	"context"
	"sync"
)

// DefaultMailboxSize bounds how many undelivered messages an address keeps.
const DefaultMailboxSize = 100

const subscriberBuffer = 64

// Broker is an in-memory relay. Messages for an address without a subscriber
// wait in its mailbox and are delivered when one subscribes.
type Broker struct {
	mu          sync.Mutex
	subs        map[string]*brokerSub
	mailboxes   map[string][]Message
	mailboxSize int
	closed      bool
}

var _ Relay = (*Broker)(nil)

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs:        make(map[string]*brokerSub),
		mailboxes:   make(map[string][]Message),
		mailboxSize: DefaultMailboxSize,
	}
}

// Subscribe claims address. Only one subscriber per address is allowed.
func (b *Broker) Subscribe(ctx context.Context, address string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := Mailbox(address)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if _, taken := b.subs[key]; taken {
		b.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	sub := &brokerSub{
		broker: b,
		key:    key,
		ch:     make(chan Message, subscriberBuffer),
		done:   make(chan struct{}),
	}
	b.subs[key] = sub
	pending := b.mailboxes[key]
	delete(b.mailboxes, key)
	b.mu.Unlock()

	for i, msg := range pending {
		if err := sub.deliver(ctx, msg); err != nil {
			b.requeue(key, pending[i:])
			break
		}
	}
	return sub, nil
}

// Publish delivers msg to the subscriber of msg.To, or queues it.
func (b *Broker) Publish(ctx context.Context, msg Message) error {
	key, err := Mailbox(msg.To)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	sub, ok := b.subs[key]
	if !ok {
		b.enqueueLocked(key, msg)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := sub.deliver(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		b.requeue(key, []Message{msg})
	}
	return nil
}

// Pending returns how many messages wait in the mailbox of address.
func (b *Broker) Pending(address string) int {
	key, err := Mailbox(address)
	if err != nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mailboxes[key])
}

// Close ends every subscription and refuses further use.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*brokerSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.end(ErrClosed)
	}
}

func (b *Broker) requeue(key string, msgs []Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.enqueueLocked(key, m)
	}
}

// enqueueLocked appends to a mailbox, dropping the oldest message when full.
func (b *Broker) enqueueLocked(key string, msg Message) {
	box := append(b.mailboxes[key], msg)
	if len(box) > b.mailboxSize {
		box = box[len(box)-b.mailboxSize:]
	}
	b.mailboxes[key] = box
}

func (b *Broker) unsubscribe(s *brokerSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[s.key] == s {
		delete(b.subs, s.key)
	}
}

type brokerSub struct {
	broker *Broker
	key    string
	ch     chan Message
	done   chan struct{}

	mu    sync.Mutex
	ended bool
	err   error
	once  sync.Once
}

func (s *brokerSub) Messages() <-chan Message { return s.ch }

func (s *brokerSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *brokerSub) Close() error {
	s.end(nil)
	return nil
}

func (s *brokerSub) end(err error) {
	s.once.Do(func() {
		close(s.done)
		s.broker.unsubscribe(s)

		s.mu.Lock()
		s.ended = true
		s.err = err
		close(s.ch)
		s.mu.Unlock()
	})
}

// deliver hands msg to the subscriber, giving up when it ends or ctx is done.
func (s *brokerSub) deliver(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrClosed
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
