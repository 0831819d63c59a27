package store

import "sync"

// Mailbox is a single-slot channel that always holds the newest value.
// Offer never blocks: an undelivered older value is replaced.
type Mailbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// NewMailbox returns an open mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// C returns the receive side.
func (m *Mailbox[T]) C() <-chan T { return m.ch }

// Offer publishes v, dropping a pending older value. It reports false once closed.
func (m *Mailbox[T]) Offer(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- v:
	default:
		select {
		case <-m.ch:
		default:
		}
		m.ch <- v
	}
	return true
}

// Close closes the channel. Safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Discard closes the mailbox and drops any value not yet received.
func (m *Mailbox[T]) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.ch:
	default:
	}
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}
