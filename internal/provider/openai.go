package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAITransport talks to any OpenAI-compatible chat completions endpoint.
// The default primary backend points it at Gemini's compatibility API.
type OpenAITransport struct {
	client openai.Client
	model  string
}

// NewOpenAITransport builds a transport. Retries are left to the router's
// fallback, so the SDK's own retry loop is disabled.
func NewOpenAITransport(endpoint, apiKey, model string, hc *http.Client) *OpenAITransport {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}
	return &OpenAITransport{client: openai.NewClient(opts...), model: model}
}

func (t *OpenAITransport) params(req Request) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.Temperature != nil {
		p.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return p
}

func (t *OpenAITransport) Generate(ctx context.Context, req Request) (*Result, error) {
	completion, err := t.client.Chat.Completions.New(ctx, t.params(req))
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("empty completion from %s", t.model)
	}

	model := completion.Model
	if model == "" {
		model = t.model
	}
	return &Result{
		Content: completion.Choices[0].Message.Content,
		Model:   model,
		Usage: &Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

func (t *OpenAITransport) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	stream := t.client.Chat.Completions.NewStreaming(ctx, t.params(req))
	// Connection errors surface on the first Next; check early so the
	// router can still fall back before anything is delivered.
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, err
	}
	return &openAIChunks{stream: stream}, nil
}

func (t *OpenAITransport) Probe(ctx context.Context) error {
	_, err := t.client.Models.List(ctx)
	return err
}

type openAIChunks struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	delta  string
}

func (c *openAIChunks) Next() bool {
	for c.stream.Next() {
		chunk := c.stream.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		c.delta = chunk.Choices[0].Delta.Content
		return true
	}
	return false
}

func (c *openAIChunks) Delta() string { return c.delta }
func (c *openAIChunks) Err() error    { return c.stream.Err() }
func (c *openAIChunks) Close() error  { return c.stream.Close() }
