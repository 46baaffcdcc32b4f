package router

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/provider"
)

func streaming(healthy bool, model string, deltas ...string) *fakeTransport {
	f := newFake(healthy, model)
	f.deltas = deltas
	return f
}

func TestInvokeStream_GrowingContent(t *testing.T) {
	f := newFixture(t, streaming(true, "a", "Photo", "synth", "esis"), newFake(true, "b"), nil, DefaultPolicy(), nil)

	s, err := f.router.InvokeStream(context.Background(), "explain", Options{})
	require.NoError(t, err)
	assert.Equal(t, provider.PrimaryCloud, s.Backend().ID)

	var seen []string
	for s.Next() {
		seen = append(seen, s.Current())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"Photo", "Photosynth", "Photosynthesis"}, seen)
	assert.False(t, s.Next(), "a finished stream produces nothing more")

	resp, ok := s.Response()
	require.True(t, ok)
	assert.Equal(t, "Photosynthesis", resp.Content)
	assert.Equal(t, provider.PrimaryCloud, resp.Backend)
}

func TestInvokeStream_FallbackBeforeFirstChunk(t *testing.T) {
	p1 := streaming(true, "a", "never")
	p1.failAfter = 0
	f := newFixture(t, p1, streaming(true, "b", "ok"), nil, DefaultPolicy(), nil)

	s, err := f.router.InvokeStream(context.Background(), "explain", Options{})
	require.NoError(t, err)
	assert.Equal(t, provider.SecondaryCloud, s.Backend().ID)
	assert.Equal(t, 1, p1.calls())
}

func TestInvokeStream_StreamOpenFailureFallsBack(t *testing.T) {
	p1 := newFake(true, "a")
	p1.streamErr = fmt.Errorf("dial tcp: refused")
	f := newFixture(t, p1, streaming(true, "b", "ok"), nil, DefaultPolicy(), nil)

	s, err := f.router.InvokeStream(context.Background(), "explain", Options{})
	require.NoError(t, err)
	assert.Equal(t, provider.SecondaryCloud, s.Backend().ID)
}

func TestInvokeStream_NoFallbackAfterFirstChunk(t *testing.T) {
	p1 := streaming(true, "a", "one", "two", "three")
	p1.failAfter = 2
	f := newFixture(t, p1, streaming(true, "b", "ok"), nil, DefaultPolicy(), nil)

	s, err := f.router.InvokeStream(context.Background(), "explain", Options{})
	require.NoError(t, err)

	var n int
	for s.Next() {
		n++
	}
	assert.Equal(t, 2, n)
	require.Error(t, s.Err())
	assert.Equal(t, "onetwo", s.Current())
	assert.Equal(t, 0, f.p2.calls())

	_, ok := s.Response()
	assert.False(t, ok)
}

func TestInvokeStream_AllFail(t *testing.T) {
	p1, p2 := newFake(true, "a"), newFake(true, "b")
	p1.streamErr, p2.streamErr = fmt.Errorf("down"), fmt.Errorf("down")
	f := newFixture(t, p1, p2, nil, DefaultPolicy(), nil)

	_, err := f.router.InvokeStream(context.Background(), "explain", Options{})
	assert.True(t, errors.Is(err, errors.ErrNoBackendAvailable))
}

func TestStream_CloseStopsEarly(t *testing.T) {
	f := newFixture(t, streaming(true, "a", "1", "2", "3"), newFake(true, "b"), nil, DefaultPolicy(), nil)

	s, err := f.router.InvokeStream(context.Background(), "count", Options{})
	require.NoError(t, err)
	require.True(t, s.Next())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
	assert.Equal(t, "1", s.Current())
}

func TestStream_ContextCancel(t *testing.T) {
	f := newFixture(t, streaming(true, "a", "1", "2", "3"), newFake(true, "b"), nil, DefaultPolicy(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := f.router.InvokeStream(ctx, "count", Options{})
	require.NoError(t, err)
	require.True(t, s.Next())

	cancel()
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestStream_All(t *testing.T) {
	f := newFixture(t, streaming(true, "a", "x", "y", "z"), newFake(true, "b"), nil, DefaultPolicy(), nil)

	s, err := f.router.InvokeStream(context.Background(), "letters", Options{})
	require.NoError(t, err)

	var got []string
	for content, err := range s.All() {
		require.NoError(t, err)
		got = append(got, content)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"x", "xy"}, got)
	assert.False(t, s.Next(), "breaking out of All closes the stream")
}

func TestInvokeStream_CachesAndReplays(t *testing.T) {
	cache := &mapCache{entries: map[string]*Response{}}
	f := newFixture(t, streaming(true, "a", "cached ", "answer"), newFake(true, "b"), nil, DefaultPolicy(), cache)

	s, err := f.router.InvokeStream(context.Background(), "q", Options{})
	require.NoError(t, err)
	for s.Next() {
	}
	require.NoError(t, s.Err())

	replay, err := f.router.InvokeStream(context.Background(), "q", Options{})
	require.NoError(t, err)
	require.True(t, replay.Next())
	assert.Equal(t, "cached answer", replay.Current())
	assert.False(t, replay.Next())

	resp, ok := replay.Response()
	require.True(t, ok)
	assert.True(t, resp.Cached)
	assert.Equal(t, 1, f.p1.calls())
}
