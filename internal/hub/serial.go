package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// serialQueue runs jobs one at a time in submission order on its own
// goroutine. Push never blocks, so the loop can hand work to it while the
// worker is itself waiting to post results back to the loop.
type serialQueue struct {
	mu     sync.Mutex
	jobs   []func(ctx context.Context)
	closed bool
	signal chan struct{}
	logger *zap.Logger
}

func newSerialQueue(logger *zap.Logger) *serialQueue {
	return &serialQueue{
		signal: make(chan struct{}, 1),
		logger: logger,
	}
}

func (q *serialQueue) Push(job func(ctx context.Context)) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *serialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *serialQueue) run(ctx context.Context) {
	defer q.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		}
		for {
			job := q.pop()
			if job == nil {
				break
			}
			q.exec(ctx, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (q *serialQueue) pop() func(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return job
}

func (q *serialQueue) exec(ctx context.Context, job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Panic in notification job", zap.Any("panic", r))
		}
	}()
	job(ctx)
}

func (q *serialQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.jobs = nil
}
