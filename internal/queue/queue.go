package queue

import (
	"context"
	"errors"
)

var (
	ErrQueueFull   = errors.New("queue: buffer full")
	ErrClosed      = errors.New("queue: dispatcher closed")
	ErrUnknownTask = errors.New("queue: no handler registered for task type")
)

// Task is a background job with a stable type name and opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. Handlers must be idempotent; a backend may
// retry a task whose handler returned an error.
type Handler func(ctx context.Context, task Task) error

// ErrorHook observes handler failures after the backend gave up or logged them.
type ErrorHook func(task Task, err error)

// Dispatcher runs fire-and-forget work off the caller's goroutine.
type Dispatcher interface {
	Register(taskType string, h Handler)
	Enqueue(ctx context.Context, task Task) error
	Start(ctx context.Context) error
	Close() error
}
