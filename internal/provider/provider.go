// Package provider describes the AI backends the router can call and the
// transports that speak each backend's wire protocol.
package provider

import (
	"context"
)

// ID identifies a backend.
type ID string

const (
	PrimaryCloud   ID = "primary-cloud"
	SecondaryCloud ID = "secondary-cloud"
	LocalDaemon    ID = "local-daemon"
)

// Tier is a backend's quality class. It drives the confidence estimate.
type Tier int

const (
	TierLocal Tier = iota
	TierSecondary
	TierPrimary
)

// BaseConfidence is the confidence assigned before latency adjustments.
func (t Tier) BaseConfidence() float64 {
	switch t {
	case TierPrimary:
		return 0.95
	case TierSecondary:
		return 0.90
	default:
		return 0.85
	}
}

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	default:
		return "local"
	}
}

// Backend is an immutable backend descriptor built once at startup.
type Backend struct {
	ID       ID     `json:"id"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
	// RequiresNetwork is false for backends reachable without internet access.
	RequiresNetwork bool `json:"requires_network"`
	// Priority orders routing candidates; higher goes first.
	Priority int  `json:"priority"`
	Tier     Tier `json:"tier"`
}

// Request is a single generation request. Temperature and MaxTokens are
// passed through to the backend without interpretation.
type Request struct {
	Prompt      string
	Temperature *float64
	MaxTokens   int
}

// Usage holds token counts when the backend reports them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a completed generation.
type Result struct {
	Content string
	Model   string
	Usage   *Usage
}

// Transport speaks one backend's protocol.
type Transport interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	Stream(ctx context.Context, req Request) (ChunkStream, error)
	// Probe is a cheap liveness check. A nil error means available.
	Probe(ctx context.Context) error
}

// ChunkStream yields content deltas in order.
type ChunkStream interface {
	// Next blocks until the next delta is ready. It returns false at the end
	// of the stream or on error.
	Next() bool
	Delta() string
	Err() error
	Close() error
}
