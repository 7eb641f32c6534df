package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

var errFlaky = errors.New("flaky")

func retryOnFlaky(err error) ErrorClassification {
	if errors.Is(err, errFlaky) {
		return Transient
	}
	return Ignored
}

func quickRetries(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
	}
}

type recordingObserver struct {
	retries []string
	states  []string
}

func (o *recordingObserver) ObserveRetry(op string) { o.retries = append(o.retries, op) }

func (o *recordingObserver) ObserveBreakerState(op, state string) {
	o.states = append(o.states, op+"="+state)
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	obs := &recordingObserver{}
	exec := NewExecutor(quickRetries(3), zaptest.NewLogger(t))
	exec.SetObserver(obs)

	calls := 0
	err := exec.Execute(context.Background(), " embed ", func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	}, retryOnFlaky)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"embed", "embed"}, obs.retries)
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	exec := NewExecutor(quickRetries(2), nil)
	calls := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return errFlaky
	}, retryOnFlaky)

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestExecuteDoesNotRetryNonRetryable(t *testing.T) {
	exec := NewExecutor(quickRetries(3), nil)
	bad := errors.New("bad request")
	calls := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return bad
	}, retryOnFlaky)

	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
}

func TestBreakerOpensAndReportsState(t *testing.T) {
	obs := &recordingObserver{}
	cfg := quickRetries(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	exec := NewExecutor(cfg, zaptest.NewLogger(t))
	exec.SetObserver(obs)

	for range 2 {
		err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
			return errFlaky
		}, retryOnFlaky)
		require.ErrorIs(t, err, errFlaky)
	}

	err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
		t.Fatal("open breaker must short-circuit")
		return nil
	}, retryOnFlaky)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, []string{"nats.publish=open"}, obs.states)
}

func TestIgnoredErrorsDoNotTripBreaker(t *testing.T) {
	cfg := quickRetries(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 1
	exec := NewExecutor(cfg, nil)
	notFound := errors.New("model not found")

	for range 5 {
		err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
			return notFound
		}, retryOnFlaky)
		require.ErrorIs(t, err, notFound)
	}
}

func TestDoReturnsValue(t *testing.T) {
	exec := NewExecutor(quickRetries(2), nil)
	calls := 0
	got, err := Do(context.Background(), exec, "embed", func(context.Context) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errFlaky
		}
		return []float32{1, 2}, nil
	}, retryOnFlaky)

	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	exec := NewExecutor(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Execute(ctx, "op", func(context.Context) error {
		t.Fatal("operation must not run on a canceled context")
		return nil
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProviderConfigNormalizes(t *testing.T) {
	cfg := ProviderConfig(0, true)
	assert.Equal(t, DefaultConfig().RetryMaxAttempts, cfg.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInitialBackoff)
	assert.GreaterOrEqual(t, cfg.RetryMaxBackoff, cfg.RetryInitialBackoff)

	odd := Config{RetryInitialBackoff: time.Second, RetryMaxBackoff: time.Millisecond, BreakerFailureRatio: 3}.normalize()
	assert.Equal(t, time.Second, odd.RetryMaxBackoff)
	assert.Equal(t, 0.5, odd.BreakerFailureRatio)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyCommon(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClassification
		ok   bool
	}{
		{nil, Ignored, true},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), Ignored, true},
		{gobreaker.ErrOpenState, Transient, true},
		{fmt.Errorf("dial: %w", timeoutErr{}), Transient, true},
		{errors.New("other"), ErrorClassification{}, false},
	}
	for _, tc := range cases {
		got, ok := ClassifyCommon(tc.err)
		assert.Equal(t, tc.ok, ok, "%v", tc.err)
		assert.Equal(t, tc.want, got, "%v", tc.err)
	}
}

func TestWrapTemporary(t *testing.T) {
	err := WrapTemporary("openai embed", errFlaky, retryOnFlaky)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))
	assert.ErrorIs(t, err, errFlaky)

	plain := errors.New("bad input")
	assert.Same(t, plain, WrapTemporary("openai embed", plain, retryOnFlaky))
	assert.NoError(t, WrapTemporary("op", nil, retryOnFlaky))
	assert.True(t, RetryableHTTPStatus(429))
	assert.False(t, RetryableHTTPStatus(404))
}
