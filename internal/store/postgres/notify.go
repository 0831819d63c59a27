package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// session holds one LISTEN on channel and passes every payload to emit until
// the connection fails or ctx is done.
type session func(ctx context.Context, channel string, emit func(string)) error

// PoolNotifier shares a single LISTEN connection per channel between all
// listeners and reconnects with exponential backoff when it drops.
type PoolNotifier struct {
	log     *zap.Logger
	listen  session
	backoff func() backoff.BackOff

	mu   sync.Mutex
	subs map[string]map[chan string]struct{}
	stop map[string]context.CancelFunc
}

// NewPoolNotifier constructs a notifier over pool.
func NewPoolNotifier(pool *pgxpool.Pool, log *zap.Logger) *PoolNotifier {
	return newNotifier(poolSession(pool), log)
}

func newNotifier(listen session, log *zap.Logger) *PoolNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &PoolNotifier{
		log:    log,
		listen: listen,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
		subs: make(map[string]map[chan string]struct{}),
		stop: make(map[string]context.CancelFunc),
	}
}

// Listen returns payloads published on channel until ctx is done. After a
// reconnect every listener receives Resync, since notifications may have been
// missed. A listener that falls behind also gets Resync in place of the
// payloads it could not take.
func (n *PoolNotifier) Listen(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string, 16)

	n.mu.Lock()
	if n.subs[channel] == nil {
		n.subs[channel] = make(map[chan string]struct{})
		lctx, cancel := context.WithCancel(context.Background())
		n.stop[channel] = cancel
		go n.run(lctx, channel)
	}
	n.subs[channel][ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[channel], ch)
		close(ch)
		if len(n.subs[channel]) == 0 {
			n.stop[channel]()
			delete(n.subs, channel)
			delete(n.stop, channel)
		}
	}()
	return ch, nil
}

// Listeners returns the number of active listeners on channel.
func (n *PoolNotifier) Listeners(channel string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[channel])
}

func (n *PoolNotifier) broadcast(channel, payload string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[channel] {
		select {
		case ch <- payload:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- Resync
		}
	}
}

func (n *PoolNotifier) run(ctx context.Context, channel string) {
	b := n.backoff()
	emit := func(p string) {
		b.Reset()
		n.broadcast(channel, p)
	}
	for attempt := 0; ctx.Err() == nil; attempt++ {
		if attempt > 0 {
			n.broadcast(channel, Resync)
		}
		err := n.listen(ctx, channel, emit)
		if ctx.Err() != nil {
			return
		}
		wait := b.NextBackOff()
		n.log.Warn("postgres listen dropped", zap.String("channel", channel), zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func poolSession(pool *pgxpool.Pool) session {
	return func(ctx context.Context, channel string, emit func(string)) error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return err
		}
		for {
			note, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return err
			}
			emit(note.Payload)
		}
	}
}
