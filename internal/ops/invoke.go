package ops

import (
	"context"
	"strings"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/provider"
	"github.com/msvignesh01/eduflow/internal/render"
	"github.com/msvignesh01/eduflow/internal/router"
)

// Output formats for Invoke.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatSections = "sections"
)

// InvokeInput contains parameters for the Invoke operation.
type InvokeInput struct {
	Prompt      string
	Backend     string // optional: pin a backend id
	Force       bool
	NoFallback  bool
	NoCache     bool
	Temperature *float64
	MaxTokens   int
	Format      string // markdown (default), html or sections
}

// InvokeOutput contains the result of the Invoke operation.
type InvokeOutput struct {
	*router.Response
	HTML     string           `json:"html,omitempty"`
	Sections []render.Section `json:"sections,omitempty"`
}

func (in InvokeInput) options() (router.Options, error) {
	opts := router.Options{
		Backend:     provider.ID(strings.TrimSpace(in.Backend)),
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
		NoCache:     in.NoCache,
	}
	if in.Force {
		force := true
		opts.Force = &force
	}
	if in.NoFallback {
		fallback := false
		opts.Fallback = &fallback
	}
	if in.MaxTokens < 0 {
		return opts, errors.NewInvalidRequest("max_tokens must not be negative")
	}
	switch in.Format {
	case "", FormatMarkdown, FormatHTML, FormatSections:
	default:
		return opts, errors.NewInvalidRequest("format must be one of: markdown, html, sections")
	}
	return opts, nil
}

func format(resp *router.Response, f string) *InvokeOutput {
	out := &InvokeOutput{Response: resp}
	switch f {
	case FormatHTML:
		out.HTML = render.HTML(resp.Content)
	case FormatSections:
		out.Sections = render.Sections(resp.Content)
	}
	return out
}

// Invoke routes a prompt to the best available backend.
func Invoke(ctx context.Context, app *App, input InvokeInput) (*InvokeOutput, error) {
	opts, err := input.options()
	if err != nil {
		return nil, err
	}
	resp, err := app.Router.Invoke(ctx, input.Prompt, opts)
	if err != nil {
		return nil, err
	}
	return format(resp, input.Format), nil
}

// InvokeStream routes a prompt like Invoke but calls onDelta with every
// chunk as it arrives. The returned output carries the complete response.
func InvokeStream(ctx context.Context, app *App, input InvokeInput, onDelta func(delta string) error) (*InvokeOutput, error) {
	opts, err := input.options()
	if err != nil {
		return nil, err
	}
	stream, err := app.Router.InvokeStream(ctx, input.Prompt, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for stream.Next() {
		if onDelta == nil {
			continue
		}
		if err := onDelta(stream.Delta()); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.NewTransport(string(stream.Backend().ID), err)
	}
	resp, ok := stream.Response()
	if !ok {
		return nil, errors.NewInternal(context.Canceled)
	}
	return format(resp, input.Format), nil
}
