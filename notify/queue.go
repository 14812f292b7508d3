package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultQueueSize = 8
	DefaultTimeout   = 30 * time.Second
)

type dispatcher interface {
	Dispatch(ctx context.Context, s Sighting) Result
}

// Queue hands sightings to a single background worker so the caller never
// waits on the network. Deliveries may complete in any order relative to
// the caller's later work.
type Queue struct {
	d        dispatcher
	jobs     chan Sighting
	timeout  time.Duration
	logger   *zap.Logger
	onResult func(Sighting, Result)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type QueueOption func(*Queue)

// WithResultHook is called from the worker after every dispatch.
func WithResultHook(fn func(Sighting, Result)) QueueOption {
	return func(q *Queue) { q.onResult = fn }
}

func NewQueue(d dispatcher, size int, timeout time.Duration, logger *zap.Logger, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		d:       d,
		jobs:    make(chan Sighting, size),
		timeout: timeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.run()
	return q
}

// Submit enqueues s without blocking. It returns false when the queue is
// full or closed and the sighting was dropped.
func (q *Queue) Submit(s Sighting) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	select {
	case q.jobs <- s:
		return true
	default:
		q.logger.Warn("notification queue full, dropping sighting",
			zap.Stringer("event_id", s.EventID))
		return false
	}
}

// Close stops accepting work and waits for queued sightings to be sent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for s := range q.jobs {
		q.deliver(s)
	}
}

func (q *Queue) deliver(s Sighting) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	var res Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				res = Result{Channels: []ChannelResult{{Channel: "dispatcher", Configured: true, Err: fmt.Errorf("panic: %v", r)}}}
			}
		}()
		res = q.d.Dispatch(ctx, s)
	}()

	logger := q.logger.With(zap.Stringer("event_id", s.EventID))
	switch {
	case res.NotConfigured():
		logger.Debug("notifications not configured")
	case res.OK():
		if err := res.Err(); err != nil {
			logger.Warn("notification partially failed", zap.Error(err))
		} else {
			logger.Info("notification sent")
		}
	default:
		logger.Warn("notify failed", zap.Error(res.Err()))
	}

	if q.onResult != nil {
		q.onResult(s, res)
	}
}
