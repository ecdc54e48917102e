package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqConfig configures the redis-backed dispatcher.
type AsynqConfig struct {
	RedisURL    string
	Queue       string
	Concurrency int
	MaxRetry    int
}

// AsynqDispatcher persists tasks in redis and processes them with an asynq
// server, so work survives a restart and failed tasks are retried.
type AsynqDispatcher struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	queue    string
	maxRetry int
	logger   *zap.Logger
}

func NewAsynqDispatcher(cfg AsynqConfig, onError ErrorHook, logger *zap.Logger) (*AsynqDispatcher, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("asynq: redis url is not set")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if cfg.Queue == "" {
		cfg.Queue = "realtime"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	log := logger.With(zap.String("component", "asynq_queue"))
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn("Task failed",
				zap.String("type", task.Type()),
				zap.Int("retried", retried),
				zap.Int("maxRetry", maxRetry),
				zap.Error(err))
			if onError != nil && retried >= maxRetry {
				onError(Task{Type: task.Type(), Payload: task.Payload()}, err)
			}
		}),
	})

	return &AsynqDispatcher{
		client:   asynq.NewClient(opt),
		server:   server,
		mux:      asynq.NewServeMux(),
		queue:    cfg.Queue,
		maxRetry: cfg.MaxRetry,
		logger:   log,
	}, nil
}

var _ Dispatcher = (*AsynqDispatcher)(nil)

func (d *AsynqDispatcher) Register(taskType string, h Handler) {
	d.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, Task{Type: t.Type(), Payload: t.Payload()})
	})
}

func (d *AsynqDispatcher) Enqueue(ctx context.Context, task Task) error {
	if task.Type == "" {
		return errors.New("asynq: task type is required")
	}
	opts := []asynq.Option{asynq.Queue(d.queue)}
	if d.maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(d.maxRetry))
	}
	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(task.Type, task.Payload), opts...)
	if err != nil {
		return err
	}
	d.logger.Debug("Task enqueued", zap.String("type", task.Type), zap.String("id", info.ID))
	return nil
}

// Start runs the asynq server in the background.
func (d *AsynqDispatcher) Start(ctx context.Context) error {
	return d.server.Start(d.mux)
}

func (d *AsynqDispatcher) Close() error {
	d.server.Shutdown()
	return d.client.Close()
}
