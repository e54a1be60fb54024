package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type job struct {
	name string
	run  func(ctx context.Context) error
}

// jobQueue runs store writes for one room in submission order on a single
// goroutine. push never blocks, so it is safe under the room mutex.
type jobQueue struct {
	mu      sync.Mutex
	items   []job
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	timeout time.Duration
	log     *zap.Logger
}

func newJobQueue(timeout time.Duration, log *zap.Logger) *jobQueue {
	q := &jobQueue{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		timeout: timeout,
		log:     log,
	}
	go q.loop()
	return q
}

func (q *jobQueue) push(name string, fn func(ctx context.Context) error) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, job{name: name, run: fn})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// close lets queued jobs finish, then stops the goroutine.
func (q *jobQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// flush waits until every job pushed before the call has run.
func (q *jobQueue) flush(ctx context.Context) error {
	marker := make(chan struct{})
	if !q.push("flush", func(context.Context) error {
		close(marker)
		return nil
	}) {
		return q.wait(ctx)
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wait blocks until the queue is closed and drained.
func (q *jobQueue) wait(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *jobQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, j := range batch {
			q.exec(j)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

func (q *jobQueue) exec(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := j.run(ctx); err != nil {
		q.log.Warn("background store write failed", zap.String("job", j.name), zap.Error(err))
	}
}
