package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

var (
	// Transient errors are retried and count against the breaker.
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	// Permanent errors fail fast but still count against the breaker.
	Permanent = ErrorClassification{RecordFailure: true}
	// Ignored errors neither retry nor trip the breaker.
	Ignored = ErrorClassification{}
)

// ClassifyCommon settles the cases every adapter treats alike. ok is false
// when the adapter has to decide from its own error types.
func ClassifyCommon(err error) (class ErrorClassification, ok bool) {
	switch {
	case err == nil:
		return Ignored, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Ignored, true
	case IsCircuitOpen(err):
		return Transient, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient, true
	}
	return ErrorClassification{}, false
}

// RetryableHTTPStatus reports provider statuses worth another attempt.
func RetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// WrapTemporary marks err as domain.ErrTemporary when another attempt later
// could succeed, so callers can map it to 503 or requeue.
func WrapTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if IsCircuitOpen(err) || classifier(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
