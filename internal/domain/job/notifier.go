package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrWaiterRequired indicates a notifier cannot be built without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until a job is announced or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context) error
}

// NotifierOptions configures a Notifier.
type NotifierOptions struct {
	Waiter Waiter
	// WaitWindow bounds one LISTEN round. Subscribers are woken after every round
	// so a missed notification costs at most one window.
	WaitWindow time.Duration
	// Backoff is the pause after a failed wait.
	Backoff time.Duration
	Logger  *slog.Logger
}

// Notifier fans one LISTEN connection out to every runner worker.
// The listener starts with the first subscriber and stops with the last.
type Notifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifier builds a Notifier.
func NewNotifier(opts NotifierOptions) (*Notifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	window := opts.WaitWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		waiter:     opts.Waiter,
		waitWindow: window,
		backoff:    backoff,
		logger:     logger.With("component", "job_notifier"),
		subs:       make(map[chan struct{}]struct{}),
	}, nil
}

// Subscribe returns a wake-up channel with a one-slot buffer and its unsubscribe func.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan struct{}, 1)
	n.subs[ch] = struct{}{}
	if n.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.done = make(chan struct{})
		go n.listen(ctx, n.done)
	}

	var once sync.Once
	return ch, func() { once.Do(func() { n.unsubscribe(ch) }) }
}

func (n *Notifier) unsubscribe(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[ch]; !ok {
		return
	}
	delete(n.subs, ch)
	close(ch)
	if len(n.subs) == 0 {
		n.stopLocked()
	}
}

// Stop ends the listener and closes every subscriber channel.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		delete(n.subs, ch)
		close(ch)
	}
	n.stopLocked()
}

func (n *Notifier) stopLocked() {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
		n.done = nil
	}
}

func (n *Notifier) listen(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		n.wake()

		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			n.logger.Warn("job notification wait failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(n.backoff):
			}
		}
	}
}

// wake signals every subscriber without blocking; a pending signal already covers the next reservation.
func (n *Notifier) wake() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
