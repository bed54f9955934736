package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Dispatcher schedules background jobs. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, name JobName, payload any) error
}

// Handler processes one job payload. Returning an error nacks the message
// so the broker redelivers it.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry maps job names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[JobName]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[JobName]Handler)}
}

func (r *Registry) Register(name JobName, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Handle(ctx context.Context, env *JobEnvelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for job %s", env.Name)
	}
	return h(ctx, env.Payload)
}

// ===== QUEUE DISPATCHER =====

// QueueDispatcher publishes job envelopes to the jobs topic.
type QueueDispatcher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

func NewQueueDispatcher(publisher message.Publisher, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		publisher: publisher,
		topic:     JobsTopic,
		logger:    logger,
	}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, name JobName, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	env := JobEnvelope{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	msg := message.NewMessage(env.ID, data)
	msg.SetContext(ctx)

	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", name, err)
	}

	d.logger.Debug("job dispatched", "job", name, "message_id", env.ID)
	return nil
}

// ===== SYNC DISPATCHER =====

// SyncDispatcher runs jobs inline on the caller's goroutine. Used for
// seeding, tests and single-process deployments without a broker.
type SyncDispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

func NewSyncDispatcher(registry *Registry, logger *slog.Logger) *SyncDispatcher {
	return &SyncDispatcher{registry: registry, logger: logger}
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, name JobName, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	env := JobEnvelope{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := d.registry.Handle(ctx, &env); err != nil {
		return fmt.Errorf("sync job %s failed: %w", name, err)
	}
	return nil
}

// ===== WORKER =====

// RunWorker consumes the jobs topic until ctx is cancelled. Failed jobs are
// nacked for redelivery; malformed envelopes are acked and dropped.
func RunWorker(ctx context.Context, subscriber message.Subscriber, registry *Registry, logger *slog.Logger) error {
	messages, err := subscriber.Subscribe(ctx, JobsTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", JobsTopic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var env JobEnvelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				logger.Error("dropping malformed job envelope",
					"message_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}

			if err := registry.Handle(ctx, &env); err != nil {
				logger.Error("job failed, nacking for redelivery",
					"job", env.Name, "message_id", msg.UUID, "error", err)
				msg.Nack()
				continue
			}

			msg.Ack()
		}
	}
}

// ===== TEST DOUBLES =====

// DispatchedJob records one Dispatch call on a RecordingDispatcher.
type DispatchedJob struct {
	Name    JobName
	Payload json.RawMessage
}

// RecordingDispatcher captures dispatched jobs for assertions in tests.
type RecordingDispatcher struct {
	mu   sync.Mutex
	Jobs []DispatchedJob

	// FailWith, when set, is returned by every Dispatch call.
	FailWith error
}

func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{}
}

func (d *RecordingDispatcher) Dispatch(ctx context.Context, name JobName, payload any) error {
	if d.FailWith != nil {
		return d.FailWith
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Jobs = append(d.Jobs, DispatchedJob{Name: name, Payload: body})
	return nil
}

// JobsNamed returns the recorded jobs with the given name.
func (d *RecordingDispatcher) JobsNamed(name JobName) []DispatchedJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []DispatchedJob
	for _, j := range d.Jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}
