package httpadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/bidmatch/internal/config"
)

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRateLimitRejectsBurstButSparesHealthz(t *testing.T) {
	_, handler := newTestRouter(t, config.Config{
		APIRateLimitRPS:   1,
		APIRateLimitBurst: 1,
	}, Services{Documents: docsFake{}})

	assert.Equal(t, http.StatusOK, serve(handler, "/v1/documents/doc-1").Code)

	limited := serve(handler, "/v1/documents/doc-1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(handler, "/healthz").Code)
}

func TestBackpressureShedsWhenSaturated(t *testing.T) {
	inside := make(chan struct{})
	release := make(chan struct{})
	rejected := 0
	slow := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(inside)
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(slow, 1, 20*time.Millisecond, func() { rejected++ })

	first := make(chan int, 1)
	go func() { first <- serve(handler, "/v1/search").Code }()
	<-inside

	shed := serve(handler, "/v1/search")
	require.Equal(t, http.StatusServiceUnavailable, shed.Code)
	assert.Equal(t, "1", shed.Header().Get("Retry-After"))
	assert.Equal(t, 1, rejected)

	var body errorResponse
	require.NoError(t, json.Unmarshal(shed.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "overloaded")

	close(release)
	select {
	case code := <-first:
		assert.Equal(t, http.StatusNoContent, code)
	case <-time.After(time.Second):
		t.Fatal("in-flight request never finished")
	}
}
