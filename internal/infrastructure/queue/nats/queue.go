// Package nats carries ingest events, analysis jobs and per-job progress
// events over NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/infrastructure/resilience"
)

const (
	workerGroup       = "workers"
	eventBufferSize   = 16
	drainFlushTimeout = 5 * time.Second
)

// Subjects names the subjects used by the queue.
type Subjects struct {
	Ingest   string
	Analysis string
	// ProgressPrefix is joined with a job id: "<prefix>.<jobID>".
	ProgressPrefix string
}

func DefaultSubjects() Subjects {
	return Subjects{
		Ingest:         "documents.ingest",
		Analysis:       "analysis.jobs",
		ProgressPrefix: "analysis.progress",
	}
}

type Queue struct {
	conn     *nats.Conn
	subjects Subjects
	executor *resilience.Executor
	logger   *zap.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *zap.Logger
}

func New(url string, subjects Subjects) (*Queue, error) {
	return NewWithOptions(url, subjects, Options{})
}

func NewWithOptions(url string, subjects Subjects, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSubjects()
	if subjects.Ingest == "" {
		subjects.Ingest = def.Ingest
	}
	if subjects.Analysis == "" {
		subjects.Analysis = def.Analysis
	}
	if subjects.ProgressPrefix == "" {
		subjects.ProgressPrefix = def.ProgressPrefix
	}

	conn, err := nats.Connect(
		url,
		nats.Name("bidmatch"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subjects: subjects,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocumentIngested(ctx context.Context, documentID string) error {
	return q.publish(ctx, q.subjects.Ingest, []byte(documentID), "nats publish ingest")
}

func (q *Queue) SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error {
	return q.consume(ctx, q.subjects.Ingest, "document_id", handler)
}

func (q *Queue) PublishAnalysisJob(ctx context.Context, jobID string) error {
	return q.publish(ctx, q.subjects.Analysis, []byte(jobID), "nats publish analysis job")
}

func (q *Queue) SubscribeAnalysisJobs(ctx context.Context, handler func(context.Context, string) error) error {
	return q.consume(ctx, q.subjects.Analysis, "job_id", handler)
}

func (q *Queue) PublishAnalysisEvent(ctx context.Context, event domain.AnalysisEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal analysis event: %w", err)
	}
	return q.publish(ctx, progressSubject(q.subjects.ProgressPrefix, event.JobID), data, "nats publish progress")
}

// SubscribeAnalysisEvents subscribes to one job's progress subject. The
// stream is released on ctx cancellation or by calling the returned func.
func (q *Queue) SubscribeAnalysisEvents(ctx context.Context, jobID string) (<-chan domain.AnalysisEvent, func(), error) {
	stream := newEventStream()
	sub, err := q.conn.Subscribe(progressSubject(q.subjects.ProgressPrefix, jobID), func(msg *nats.Msg) {
		var ev domain.AnalysisEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			q.logger.Warn("analysis_event_decode_failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		stream.send(ev)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscribe progress: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("nats flush: %w", err)
	}

	release := stream.releaser(func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			q.logger.Warn("nats_unsubscribe_failed", zap.String("job_id", jobID), zap.Error(err))
		}
	})
	go func() {
		select {
		case <-ctx.Done():
			release()
		case <-stream.done:
		}
	}()
	return stream.events, release, nil
}

func (q *Queue) publish(ctx context.Context, subject string, data []byte, operation string) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(operation, err)
	}
	return nil
}

// consume runs handler for every message in the worker queue group until ctx
// is done, then drains the subscription.
func (q *Queue) consume(ctx context.Context, subject, idField string, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(subject, workerGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			q.logger.Error("worker_handler_failed",
				zap.String("subject", subject),
				zap.String(idField, string(msg.Data)),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(drainFlushTimeout); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func progressSubject(prefix, jobID string) string {
	return prefix + "." + jobID
}

// eventStream hands events to one subscriber and closes the channel only
// after every in-flight send has returned.
type eventStream struct {
	events chan domain.AnalysisEvent
	done   chan struct{}

	mu       sync.Mutex
	released bool
	inflight sync.WaitGroup
}

func newEventStream() *eventStream {
	return &eventStream{
		events: make(chan domain.AnalysisEvent, eventBufferSize),
		done:   make(chan struct{}),
	}
}

func (s *eventStream) send(ev domain.AnalysisEvent) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *eventStream) releaser(unsubscribe func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.released = true
			s.mu.Unlock()
			close(s.done)
			unsubscribe()
			s.inflight.Wait()
			close(s.events)
		})
	}
}
