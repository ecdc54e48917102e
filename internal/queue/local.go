package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LocalDispatcher runs tasks on an in-process worker pool fed by a bounded
// buffer. Enqueue never blocks.
type LocalDispatcher struct {
	handlers   map[string]Handler
	handlersMu sync.RWMutex

	tasks   chan Task
	workers int
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	onError ErrorHook
	logger  *zap.Logger
}

func NewLocalDispatcher(workers, bufferSize int, onError ErrorHook, logger *zap.Logger) *LocalDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &LocalDispatcher{
		handlers: make(map[string]Handler),
		tasks:    make(chan Task, bufferSize),
		workers:  workers,
		closed:   make(chan struct{}),
		onError:  onError,
		logger:   logger.With(zap.String("component", "local_queue")),
	}
}

var _ Dispatcher = (*LocalDispatcher)(nil)

func (d *LocalDispatcher) Register(taskType string, h Handler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers[taskType] = h
}

func (d *LocalDispatcher) Enqueue(ctx context.Context, task Task) error {
	if task.Type == "" {
		return fmt.Errorf("queue: task type is required")
	}
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}

	select {
	case d.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Start launches the workers. They stop when ctx is cancelled or Close is called.
func (d *LocalDispatcher) Start(ctx context.Context) error {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	d.logger.Info("Local queue started", zap.Int("workers", d.workers))
	return nil
}

// Close stops accepting tasks, drains what is buffered and waits for workers.
func (d *LocalDispatcher) Close() error {
	d.once.Do(func() {
		close(d.closed)
	})
	d.wg.Wait()
	return nil
}

func (d *LocalDispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case task := <-d.tasks:
			d.run(ctx, task)
		case <-ctx.Done():
			return
		case <-d.closed:
			for {
				select {
				case task := <-d.tasks:
					d.run(context.Background(), task)
				default:
					return
				}
			}
		}
	}
}

func (d *LocalDispatcher) run(ctx context.Context, task Task) {
	d.handlersMu.RLock()
	h, ok := d.handlers[task.Type]
	d.handlersMu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownTask, task.Type)
	} else {
		err = d.safeHandle(ctx, h, task)
	}
	if err == nil {
		return
	}

	d.logger.Error("Task failed",
		zap.String("type", task.Type),
		zap.Error(err))
	if d.onError != nil {
		d.onError(task, err)
	}
}

func (d *LocalDispatcher) safeHandle(ctx context.Context, h Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	return h(ctx, task)
}
