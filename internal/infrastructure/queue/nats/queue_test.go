package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

func TestWrapTemporaryForConnectionErrors(t *testing.T) {
	err := wrapTemporaryIfNeeded("nats publish ingest", nats.ErrConnectionClosed)
	if !errors.Is(err, domain.ErrTemporary) || !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("expected temporary wrap, got %v", err)
	}
	plain := errors.New("bad subject")
	if got := wrapTemporaryIfNeeded("nats publish ingest", plain); got != plain {
		t.Fatalf("expected permanent error unchanged, got %v", got)
	}
}

func TestClassifyCanceledIsNotRecorded(t *testing.T) {
	class := classifyNATSError(context.Canceled)
	if class.Retryable || class.RecordFailure {
		t.Fatalf("unexpected classification %+v", class)
	}
}

func TestProgressSubject(t *testing.T) {
	if got := progressSubject("analysis.progress", "job-7"); got != "analysis.progress.job-7" {
		t.Fatalf("progressSubject() = %q", got)
	}
}

func TestEventStreamReleaseClosesAfterInflightSend(t *testing.T) {
	s := newEventStream()
	unsubscribed := false
	release := s.releaser(func() { unsubscribed = true })

	for i := range eventBufferSize {
		s.send(domain.AnalysisEvent{JobID: "j", Progress: i})
	}
	blocked := make(chan struct{})
	go func() {
		s.send(domain.AnalysisEvent{JobID: "j", Progress: 99})
		close(blocked)
	}()

	time.Sleep(10 * time.Millisecond)
	release()
	release()
	<-blocked

	if !unsubscribed {
		t.Fatalf("expected unsubscribe on release")
	}
	count := 0
	for range s.events {
		count++
	}
	if count != eventBufferSize {
		t.Fatalf("expected %d buffered events, got %d", eventBufferSize, count)
	}
	s.send(domain.AnalysisEvent{JobID: "j"})
}
