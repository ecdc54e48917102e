package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
	"realtime-service/internal/queue"
	"realtime-service/internal/repository"
)

// ErrPersistenceFailed wraps any failure to append a chat record or an
// analytics event. It never reaches users.
var ErrPersistenceFailed = errors.New("persistence failed")

const (
	TaskAppendMessage = "chat:append_message"
	TaskRecordEvent   = "analytics:record_event"
)

// Recorder hands chat records and analytics events to the background queue.
// Calls return immediately; delivery to connections never waits on storage.
type Recorder interface {
	RecordMessage(message *domain.ChatMessage)
	RecordEvent(event *domain.SessionEvent)
}

type recorder struct {
	dispatcher    queue.Dispatcher
	chatRepo      repository.ChatRepository
	analyticsRepo repository.AnalyticsRepository
	metrics       *metrics.Metrics
	timeout       time.Duration
	logger        *zap.Logger

	// Tasks waiting to be enqueued, oldest first. At most one forward
	// goroutine drains them, so the queue sees them in call order.
	mu       sync.Mutex
	pending  []queue.Task
	draining bool
}

// NewRecorder registers the persistence task handlers on dispatcher.
func NewRecorder(
	dispatcher queue.Dispatcher,
	chatRepo repository.ChatRepository,
	analyticsRepo repository.AnalyticsRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
) Recorder {
	r := &recorder{
		dispatcher:    dispatcher,
		chatRepo:      chatRepo,
		analyticsRepo: analyticsRepo,
		metrics:       m,
		timeout:       5 * time.Second,
		logger:        logger.With(zap.String("component", "recorder")),
	}
	dispatcher.Register(TaskAppendMessage, r.handleAppendMessage)
	dispatcher.Register(TaskRecordEvent, r.handleRecordEvent)
	return r
}

func (r *recorder) RecordMessage(message *domain.ChatMessage) {
	r.submit(TaskAppendMessage, message)
}

func (r *recorder) RecordEvent(event *domain.SessionEvent) {
	r.submit(TaskRecordEvent, event)
}

func (r *recorder) submit(taskType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.fail(taskType, fmt.Errorf("encode payload: %w", err))
		return
	}

	r.mu.Lock()
	r.pending = append(r.pending, queue.Task{Type: taskType, Payload: payload})
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	r.mu.Unlock()

	go r.forward()
}

// forward enqueues pending tasks one at a time until none are left.
func (r *recorder) forward() {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.draining = false
			r.mu.Unlock()
			return
		}
		task := r.pending[0]
		r.pending[0] = queue.Task{}
		r.pending = r.pending[1:]
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.dispatcher.Enqueue(ctx, task)
		cancel()
		if err != nil {
			r.fail(task.Type, fmt.Errorf("enqueue: %w", err))
		}
	}
}

func (r *recorder) fail(taskType string, err error) {
	r.logger.Warn("Dropping persistence task",
		zap.String("type", taskType),
		zap.Error(fmt.Errorf("%w: %v", ErrPersistenceFailed, err)))
	r.metrics.PersistenceFailed(taskType)
}

func (r *recorder) handleAppendMessage(ctx context.Context, task queue.Task) error {
	var message domain.ChatMessage
	if err := json.Unmarshal(task.Payload, &message); err != nil {
		return fmt.Errorf("%w: decode chat message: %v", ErrPersistenceFailed, err)
	}
	if err := r.chatRepo.AppendMessage(ctx, &message); err != nil {
		return fmt.Errorf("%w: append message to room %s: %v", ErrPersistenceFailed, message.RoomID, err)
	}
	return nil
}

func (r *recorder) handleRecordEvent(ctx context.Context, task queue.Task) error {
	var event domain.SessionEvent
	if err := json.Unmarshal(task.Payload, &event); err != nil {
		return fmt.Errorf("%w: decode session event: %v", ErrPersistenceFailed, err)
	}
	if err := r.analyticsRepo.RecordEvent(ctx, &event); err != nil {
		return fmt.Errorf("%w: record %s event: %v", ErrPersistenceFailed, event.SessionType, err)
	}
	return nil
}
