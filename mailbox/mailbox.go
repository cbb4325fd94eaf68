// Package mailbox provides a trivial in-memory sink for delivered messages,
// the default collaborator behind the server's MessageHandler seam.
package mailbox

import (
	"context"
	"sync"
	"time"
)

// Message is the minimal shape mailbox needs from a delivered message; the
// root package's Message type satisfies it. Kept narrow so this package
// has no import-cycle back to the root package.
type Message interface {
	MessageID() string
}

// Mailbox is a FIFO queue of delivered messages with both a snapshot read
// (List) and a blocking streaming read (Reader), grounded on the original
// implementation's SmtpMessageHandler (readMessages with a grace delay,
// messageReader for streaming consumption).
type Mailbox struct {
	mu       sync.Mutex
	messages []Message
	waiters  []chan Message
	closed   chan struct{}
}

// New returns an empty Mailbox.
func New() *Mailbox {
	return &Mailbox{closed: make(chan struct{})}
}

// Close wakes every blocked Reader consumer, closing their channels, and
// makes every future Reader call return an already-closed channel. The
// server calls this from its own Close so an embedder's messageReader loop
// sees end-of-stream on shutdown instead of blocking on a ctx the server
// never owns. Safe to call more than once.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
}

// Add appends a message and wakes any blocked Reader consumers. Called by
// the server's default MessageHandler once a transaction completes.
func (m *Mailbox) Add(msg Message) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		w <- msg
		close(w)
	}
}

// List returns a snapshot of everything received so far, oldest first.
func (m *Mailbox) List() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len reports how many messages are currently held.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Clear discards every held message.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Drain returns everything currently held, waiting up to 200ms first if the
// mailbox is empty, to give an in-flight delivery a chance to land — the
// same grace period the original implementation's readReceivedMessages
// applies by default.
func (m *Mailbox) Drain(ctx context.Context) []Message {
	if m.Len() > 0 {
		return m.List()
	}
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return m.List()
}

// Reader returns a channel that receives each message as it arrives,
// starting from calls made after Reader returns (not a replay of history).
// The channel closes when ctx is done or the Mailbox itself is Closed,
// whichever comes first.
func (m *Mailbox) Reader(ctx context.Context) <-chan Message {
	out := make(chan Message, 1)
	waiter := make(chan Message, 1)

	m.mu.Lock()
	select {
	case <-m.closed:
		m.mu.Unlock()
		close(out)
		return out
	default:
	}
	m.waiters = append(m.waiters, waiter)
	m.mu.Unlock()

	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-waiter:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-m.closed:
					return
				}
				waiter = make(chan Message, 1)
				m.mu.Lock()
				select {
				case <-m.closed:
					m.mu.Unlock()
					return
				default:
				}
				m.waiters = append(m.waiters, waiter)
				m.mu.Unlock()
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			}
		}
	}()

	return out
}
