package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/ollama/ollama/api"
)

// OllamaTransport talks to a local Ollama daemon.
type OllamaTransport struct {
	client *api.Client
	model  string
}

// NewOllamaTransport builds a transport for the daemon at endpoint.
func NewOllamaTransport(endpoint, model string, hc *http.Client) (*OllamaTransport, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama endpoint %q: %w", endpoint, err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OllamaTransport{client: api.NewClient(base, hc), model: model}, nil
}

func (t *OllamaTransport) request(req Request, stream bool) *api.GenerateRequest {
	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	return &api.GenerateRequest{
		Model:   t.model,
		Prompt:  req.Prompt,
		Stream:  &stream,
		Options: options,
	}
}

func (t *OllamaTransport) Generate(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := t.client.Generate(ctx, t.request(req, false), func(resp api.GenerateResponse) error {
		res = &Result{
			Content: resp.Response,
			Model:   resp.Model,
			Usage: &Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("ollama returned no response for %s", t.model)
	}
	if res.Model == "" {
		res.Model = t.model
	}
	return res, nil
}

// Stream adapts the client's callback API into a pull-based stream. The
// generating goroutine stops as soon as the stream is closed.
func (t *OllamaTransport) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &ollamaChunks{
		deltas: make(chan string),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(s.done)
		err := t.client.Generate(ctx, t.request(req, true), func(resp api.GenerateResponse) error {
			if resp.Response == "" {
				return nil
			}
			select {
			case s.deltas <- resp.Response:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return s, nil
}

// Probe lists local models, the same call the daemon's own CLI uses to check it is up.
func (t *OllamaTransport) Probe(ctx context.Context) error {
	_, err := t.client.List(ctx)
	return err
}

// Models returns the names of models pulled on the daemon.
func (t *OllamaTransport) Models(ctx context.Context) ([]string, error) {
	resp, err := t.client.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type ollamaChunks struct {
	deltas chan string
	done   chan struct{}
	cancel context.CancelFunc
	delta  string

	mu     sync.Mutex
	err    error
	closed bool
}

func (c *ollamaChunks) Next() bool {
	select {
	case d := <-c.deltas:
		c.delta = d
		return true
	case <-c.done:
		return false
	}
}

func (c *ollamaChunks) Delta() string { return c.delta }

func (c *ollamaChunks) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.err
}

func (c *ollamaChunks) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	<-c.done
	return nil
}
