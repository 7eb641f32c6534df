// Package inproc is an in-memory stand-in for the NATS queue, used by the
// single-process CLI and by tests.
package inproc

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

const (
	queueSize       = 256
	eventBufferSize = 16
)

var ErrClosed = errors.New("inproc bus closed")

// Bus implements the ingest queue, the analysis queue and the progress bus.
// Queued ids are delivered to exactly one subscriber; progress events are
// fanned out to every subscriber of the job.
type Bus struct {
	ingest   chan string
	analysis chan string
	logger   *zap.Logger

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	watchers map[string]map[*watcher]struct{}
}

type watcher struct {
	events   chan domain.AnalysisEvent
	released bool
}

func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		ingest:   make(chan string, queueSize),
		analysis: make(chan string, queueSize),
		logger:   logger,
		done:     make(chan struct{}),
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

// Close stops every consumer loop. Subsequent publishes fail with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

func (b *Bus) PublishDocumentIngested(ctx context.Context, documentID string) error {
	return b.enqueue(ctx, b.ingest, documentID)
}

func (b *Bus) SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error {
	return b.consume(ctx, b.ingest, "document_id", handler)
}

func (b *Bus) PublishAnalysisJob(ctx context.Context, jobID string) error {
	return b.enqueue(ctx, b.analysis, jobID)
}

func (b *Bus) SubscribeAnalysisJobs(ctx context.Context, handler func(context.Context, string) error) error {
	return b.consume(ctx, b.analysis, "job_id", handler)
}

// PublishAnalysisEvent never blocks. A subscriber whose buffer is full misses
// progress events; a terminal event evicts the oldest buffered event instead,
// so every subscriber sees how the job ended.
func (b *Bus) PublishAnalysisEvent(_ context.Context, event domain.AnalysisEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for w := range b.watchers[event.JobID] {
		select {
		case w.events <- event:
			continue
		default:
		}
		dropped := event
		if event.Terminal() {
			select {
			case dropped = <-w.events:
			default:
			}
			// Senders hold b.mu, so the slot just freed stays free.
			select {
			case w.events <- event:
			default:
				dropped = event
			}
		}
		b.logger.Warn("analysis_event_dropped",
			zap.String("job_id", dropped.JobID),
			zap.String("status", string(dropped.Status)),
			zap.Int("progress", dropped.Progress),
		)
	}
	return nil
}

func (b *Bus) SubscribeAnalysisEvents(ctx context.Context, jobID string) (<-chan domain.AnalysisEvent, func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrClosed
	}
	w := &watcher{events: make(chan domain.AnalysisEvent, eventBufferSize)}
	if b.watchers[jobID] == nil {
		b.watchers[jobID] = make(map[*watcher]struct{})
	}
	b.watchers[jobID][w] = struct{}{}
	b.mu.Unlock()

	release := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if w.released {
			return
		}
		w.released = true
		delete(b.watchers[jobID], w)
		if len(b.watchers[jobID]) == 0 {
			delete(b.watchers, jobID)
		}
		close(w.events)
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		release()
	}()
	return w.events, release, nil
}

func (b *Bus) enqueue(ctx context.Context, queue chan string, id string) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case queue <- id:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) consume(ctx context.Context, queue chan string, idField string, handler func(context.Context, string) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case id := <-queue:
			if err := handler(ctx, id); err != nil {
				b.logger.Error("worker_handler_failed", zap.String(idField, id), zap.Error(err))
			}
		}
	}
}
