package router

import (
	"context"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/provider"
)

// Stream is a lazy, finite sequence of incrementally growing content. It
// cannot be restarted. A Stream is consumed by one goroutine; Close may be
// called from any goroutine.
type Stream struct {
	backend provider.Backend
	chunks  provider.ChunkStream
	cancel  context.CancelFunc
	started time.Time

	// primed holds the first delta, read during routing to confirm the backend works.
	primed    string
	hasPrimed bool

	content strings.Builder
	delta   string
	err     error
	done    bool
	latency time.Duration

	// fixed is the response a cache hit replays.
	fixed *Response

	closeOnce sync.Once
	closed    atomic.Bool
	onFinish  func(*Response)
}

// InvokeStream selects a backend with the same algorithm as Invoke and opens
// a streaming call. Fallback happens only before the first chunk is
// delivered; a failure after that ends the stream with an error.
func (r *Router) InvokeStream(ctx context.Context, prompt string, opts Options) (*Stream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.NewInvalidRequest("prompt is required")
	}
	if r.cache != nil && !opts.NoCache {
		if resp, ok := r.cache.Lookup(prompt, selector(opts)); ok {
			b, _, _ := r.reg.Lookup(resp.Backend)
			return &Stream{
				backend:   b,
				chunks:    staticChunks{},
				cancel:    func() {},
				started:   time.Now(),
				primed:    resp.Content,
				hasPrimed: resp.Content != "",
				fixed:     resp,
			}, nil
		}
	}

	policy := r.policy.with(opts)
	ctx = provider.WithRequestID(ctx, uuid.NewString())
	req := request(prompt, opts)

	var stream *Stream
	err := r.route(ctx, policy, opts.Backend, func(ctx context.Context, b provider.Backend, tr provider.Transport) error {
		streamCtx, cancel := context.WithCancel(ctx)
		// The request timeout only covers the wait for the first chunk.
		timer := time.AfterFunc(policy.RequestTimeout, cancel)

		start := time.Now()
		chunks, err := tr.Stream(streamCtx, req)
		if err != nil {
			timer.Stop()
			cancel()
			return err
		}
		s := &Stream{backend: b, chunks: chunks, cancel: cancel, started: start}
		if chunks.Next() {
			s.primed = chunks.Delta()
			s.hasPrimed = true
		} else if err := chunks.Err(); err != nil {
			timer.Stop()
			chunks.Close()
			cancel()
			return err
		}
		timer.Stop()
		stream = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.cache != nil && !opts.NoCache {
		sel := selector(opts)
		stream.onFinish = func(final *Response) { r.cache.Store(prompt, sel, final) }
	}
	return stream, nil
}

// Backend returns the backend serving the stream.
func (s *Stream) Backend() provider.Backend {
	return s.backend
}

// Next advances to the next chunk. It returns false once the stream is
// exhausted, closed, or failed; check Err afterwards.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	if s.closed.Load() {
		s.done = true
		return false
	}
	if s.hasPrimed {
		s.hasPrimed = false
		s.append(s.primed)
		return true
	}
	if s.chunks.Next() {
		s.append(s.chunks.Delta())
		return true
	}
	if !s.closed.Load() {
		s.err = s.chunks.Err()
	}
	s.finish()
	return false
}

func (s *Stream) append(delta string) {
	s.delta = delta
	s.content.WriteString(delta)
}

// Current returns all content received so far.
func (s *Stream) Current() string {
	return s.content.String()
}

// Delta returns the most recent chunk.
func (s *Stream) Delta() string {
	return s.delta
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Response returns the final response once the stream has ended without error.
func (s *Stream) Response() (*Response, bool) {
	if !s.done || s.err != nil {
		return nil, false
	}
	return s.response(), true
}

func (s *Stream) response() *Response {
	if s.fixed != nil {
		c := *s.fixed
		return &c
	}
	return newResponse(s.backend, s.content.String(), "", s.latency, nil)
}

func (s *Stream) finish() {
	s.done = true
	s.latency = time.Since(s.started)
	s.Close()
	if s.err == nil && s.onFinish != nil {
		final := s.response()
		s.onFinish(final)
	}
}

// Close stops the stream and releases the transport. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.chunks.Close()
	})
	return err
}

// All yields the growing content after every chunk. If the stream fails,
// the final pair carries the error. Breaking out of the loop closes the stream.
func (s *Stream) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Current(), nil) {
				return
			}
		}
		if s.err != nil {
			yield(s.Current(), s.err)
		}
	}
}

// staticChunks is an exhausted ChunkStream, used when content is already known.
type staticChunks struct{}

func (staticChunks) Next() bool    { return false }
func (staticChunks) Delta() string { return "" }
func (staticChunks) Err() error    { return nil }
func (staticChunks) Close() error  { return nil }
