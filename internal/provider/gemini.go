package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// GeminiTransport calls the Generative Language REST API directly
// (models/{model}:generateContent). It serves the Gemma secondary backend,
// which the OpenAI-compatible surface does not expose.
type GeminiTransport struct {
	endpoint string
	apiKey   string
	model    string
	hc       *http.Client
}

// NewGeminiTransport builds a transport. endpoint is the API root, for
// example https://generativelanguage.googleapis.com/v1beta.
func NewGeminiTransport(endpoint, apiKey, model string, hc *http.Client) *GeminiTransport {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &GeminiTransport{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		hc:       hc,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// geminiError is the API's error envelope.
type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (t *GeminiTransport) url(method string, query url.Values) string {
	u := fmt.Sprintf("%s/models/%s", t.endpoint, url.PathEscape(t.model))
	if method != "" {
		u += ":" + method
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (t *GeminiTransport) do(ctx context.Context, httpMethod, target string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("x-goog-api-key", t.apiKey)
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr geminiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("gemini %s: %d %s", t.model, resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("gemini %s: unexpected status %d", t.model, resp.StatusCode)
	}
	return resp, nil
}

func (t *GeminiTransport) body(req Request) geminiRequest {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return body
}

func (t *GeminiTransport) Generate(ctx context.Context, req Request) (*Result, error) {
	resp, err := t.do(ctx, http.MethodPost, t.url("generateContent", nil), t.body(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("gemini %s returned no candidates", t.model)
	}

	res := &Result{Content: out.text(), Model: t.model}
	if out.ModelVersion != "" {
		res.Model = out.ModelVersion
	}
	if out.UsageMetadata != nil {
		res.Usage = &Usage{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      out.UsageMetadata.TotalTokenCount,
		}
	}
	return res, nil
}

// Stream uses streamGenerateContent with server-sent events.
func (t *GeminiTransport) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	target := t.url("streamGenerateContent", url.Values{"alt": {"sse"}})
	resp, err := t.do(ctx, http.MethodPost, target, t.body(req))
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &geminiChunks{body: resp.Body, scanner: scanner}, nil
}

// Probe fetches the model's metadata.
func (t *GeminiTransport) Probe(ctx context.Context) error {
	resp, err := t.do(ctx, http.MethodGet, t.url("", nil), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type geminiChunks struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	delta   string
	err     error
}

func (c *geminiChunks) Next() bool {
	if c.err != nil {
		return false
	}
	for c.scanner.Scan() {
		line := c.scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &chunk); err != nil {
			c.err = fmt.Errorf("decode gemini stream chunk: %w", err)
			return false
		}
		if text := chunk.text(); text != "" {
			c.delta = text
			return true
		}
	}
	c.err = c.scanner.Err()
	return false
}

func (c *geminiChunks) Delta() string { return c.delta }
func (c *geminiChunks) Err() error    { return c.err }
func (c *geminiChunks) Close() error  { return c.body.Close() }
