package embcache

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	batches [][]string
	err     error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.batches = append(e.batches, []string{text})
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

type mapStore struct {
	data   map[string][]byte
	getErr error
	setErr error
}

func newMapStore() *mapStore { return &mapStore{data: map[string][]byte{}} }

func (s *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
}

func TestEmbedCachesByContent(t *testing.T) {
	inner := &countingEmbedder{}
	counter := newCounter()
	c := New(inner, newMapStore(), "model", counter, nil)

	first, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, inner.batches, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("miss")))
}

func TestEmbedBatchSendsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c := New(inner, newMapStore(), "model", nil, nil)

	_, err := c.Embed(context.Background(), "bb")
	require.NoError(t, err)

	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "cccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 1}, vectors[1])
	assert.Equal(t, []float32{4, 1}, vectors[2])
	assert.Equal(t, []string{"a", "cccc"}, inner.batches[len(inner.batches)-1])
}

func TestStoreFailureFallsThrough(t *testing.T) {
	inner := &countingEmbedder{}
	s := newMapStore()
	s.getErr = errors.New("redis down")
	s.setErr = errors.New("redis down")
	c := New(inner, s, "model", nil, nil)

	vec, err := c.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)
}

func TestProviderErrorIsReturned(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("quota")}
	c := New(inner, newMapStore(), "model", nil, nil)

	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, inner.err)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	inner := &countingEmbedder{}
	s := newMapStore()
	c := New(inner, s, "model", nil, nil)
	s.data[c.cacheKey("abc")] = []byte{1, 2, 3}

	vec, err := c.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)
	assert.Len(t, inner.batches, 1)
}

func TestNamespaceSeparatesKeys(t *testing.T) {
	a := New(nil, nil, "m1", nil, nil)
	b := New(nil, nil, "m2", nil, nil)
	assert.NotEqual(t, a.cacheKey("x"), b.cacheKey("x"))
}
