package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 10 * time.Second
)

// Local is a timer based in-process queue. Pending messages are lost on exit.
type Local struct {
	mux         *Mux
	log         *zap.SugaredLogger
	workers     chan struct{}
	maxAttempts int
	retryDelay  time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	timers  map[*time.Timer]struct{}
	scopes  map[string]struct{}
	stopped bool
	wg      sync.WaitGroup
}

var _ Queue = (*Local)(nil)

type LocalOption func(*Local)

func WithMaxWorkers(n int) LocalOption {
	return func(l *Local) {
		if n > 0 {
			l.workers = make(chan struct{}, n)
		}
	}
}

// WithRetry sets how often a failing message is delivered and the delay between attempts.
func WithRetry(attempts int, delay time.Duration) LocalOption {
	return func(l *Local) {
		if attempts > 0 {
			l.maxAttempts = attempts
		}
		if delay > 0 {
			l.retryDelay = delay
		}
	}
}

func WithLogger(log *zap.SugaredLogger) LocalOption {
	return func(l *Local) {
		if log != nil {
			l.log = log
		}
	}
}

func NewLocal(mux *Mux, opts ...LocalOption) *Local {
	l := &Local{
		mux:         mux,
		log:         zap.S().Named("queue"),
		workers:     make(chan struct{}, 10),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		timers:      map[*time.Timer]struct{}{},
		scopes:      map[string]struct{}{},
	}
	for _, o := range opts {
		o(l)
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

func (l *Local) Start(ctx context.Context) error {
	return nil
}

func (l *Local) Enqueue(ctx context.Context, msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return errors.New("queue: stopped")
	}
	if msg.Scope != "" {
		key := msg.Handler + "/" + msg.Scope
		if _, pending := l.scopes[key]; pending {
			l.log.Debugw("message collapsed", "message", msg.String(), "scope", msg.Scope)
			return nil
		}
		l.scopes[key] = struct{}{}
	}
	l.scheduleLocked(msg, 1, time.Until(msg.NotBefore))
	return nil
}

func (l *Local) scheduleLocked(msg Message, attempt int, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	l.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer l.wg.Done()
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		l.deliver(msg, attempt)
	})
	l.timers[t] = struct{}{}
}

func (l *Local) deliver(msg Message, attempt int) {
	select {
	case l.workers <- struct{}{}:
	case <-l.ctx.Done():
		return
	}
	defer func() { <-l.workers }()

	if msg.Scope != "" {
		// a new message for the scope may be queued while this one runs
		l.mu.Lock()
		delete(l.scopes, msg.Handler+"/"+msg.Scope)
		l.mu.Unlock()
	}

	err := l.mux.Dispatch(l.ctx, msg)
	if err == nil {
		return
	}
	if attempt >= l.maxAttempts || errors.Is(err, ErrNoHandler) || l.ctx.Err() != nil {
		l.log.Errorw("message discarded", "message", msg.String(), "attempt", attempt, "error", err)
		return
	}
	l.log.Warnw("message failed, retrying", "message", msg.String(), "attempt", attempt, "error", err)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.scheduleLocked(msg, attempt+1, l.retryDelay)
	}
}

// Stop drops pending messages and waits for running handlers.
func (l *Local) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopped = true
	for t := range l.timers {
		if t.Stop() {
			l.wg.Done()
		}
		delete(l.timers, t)
	}
	l.mu.Unlock()
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
