package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Loop is the production Scheduler: one goroutine drains an unbounded
// task queue, so Post never blocks, even from inside a callback.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool
	workers   sync.WaitGroup

	logger *zap.Logger
}

// New creates a loop. Run must be called before posted callbacks execute.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger.Named("loop"),
	}
}

// Run processes callbacks until ctx is cancelled or Stop is called
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer l.logger.Debug("event loop stopped")

	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.done:
			return nil
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		}
	}
}

// Stop ends Run. Callbacks still queued are discarded.
func (l *Loop) Stop() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

// Wait blocks until every Go worker has returned
func (l *Loop) Wait() {
	l.workers.Wait()
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			select {
			case <-l.done:
				return
			default:
			}
			safeCall(l.logger, fn)
		}
	}
}

// Now returns wall-clock time
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post queues fn. After Stop it is dropped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
		l.logger.Debug("dropping callback posted after stop")
		return
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After schedules fn on the loop. The cancelled flag is checked on the
// loop, so a timer cancelled from a callback never runs.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.state.CompareAndSwap(timerPending, timerFired) {
				fn()
			}
		})
	})
	return t
}

// Go runs work on its own goroutine and posts done with the result
func (l *Loop) Go(work func() error, done func(error)) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		err := safeWork(l.logger, work)
		l.Post(func() { done(err) })
	}()
}

const (
	timerPending int32 = iota
	timerFired
	timerCancelled
)

type loopTimer struct {
	state atomic.Int32
	timer *time.Timer
}

func (t *loopTimer) Cancel() bool {
	if !t.state.CompareAndSwap(timerPending, timerCancelled) {
		return false
	}
	t.timer.Stop()
	return true
}
