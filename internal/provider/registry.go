package provider

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/msvignesh01/eduflow/internal/config"
)

// Entry pairs a backend descriptor with its transport.
type Entry struct {
	Backend   Backend
	Transport Transport
}

// Registry is the immutable set of backends, ordered by descending priority.
type Registry struct {
	entries []Entry
}

// NewRegistry validates entries and orders them by priority. Ties keep ID order.
func NewRegistry(entries ...Entry) (*Registry, error) {
	seen := make(map[ID]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Backend.ID == "" {
			return nil, fmt.Errorf("backend id is required")
		}
		if e.Transport == nil {
			return nil, fmt.Errorf("backend %s has no transport", e.Backend.ID)
		}
		if seen[e.Backend.ID] {
			return nil, fmt.Errorf("duplicate backend %s", e.Backend.ID)
		}
		seen[e.Backend.ID] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Backend.Priority == out[j].Backend.Priority {
			return out[i].Backend.ID < out[j].Backend.ID
		}
		return out[i].Backend.Priority > out[j].Backend.Priority
	})
	return &Registry{entries: out}, nil
}

// Backends returns descriptors in routing order.
func (r *Registry) Backends() []Backend {
	out := make([]Backend, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Backend
	}
	return out
}

// Lookup returns the backend and transport registered under id.
func (r *Registry) Lookup(id ID) (Backend, Transport, bool) {
	for _, e := range r.entries {
		if e.Backend.ID == id {
			return e.Backend, e.Transport, true
		}
	}
	return Backend{}, nil, false
}

// Offline returns the highest-priority backend that needs no network.
func (r *Registry) Offline() (Backend, bool) {
	for _, e := range r.entries {
		if !e.Backend.RequiresNetwork {
			return e.Backend, true
		}
	}
	return Backend{}, false
}

// FromConfig builds the registry described by cfg. Disabled backends are left out.
func FromConfig(cfg *config.Config, hc *http.Client) (*Registry, error) {
	specs := []struct {
		id   ID
		tier Tier
		bc   config.BackendConfig
	}{
		{PrimaryCloud, TierPrimary, cfg.Primary},
		{SecondaryCloud, TierSecondary, cfg.Secondary},
		{LocalDaemon, TierLocal, cfg.Local},
	}

	var entries []Entry
	for _, s := range specs {
		if s.bc.Disabled {
			continue
		}
		transport, err := NewTransport(s.bc, hc)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", s.id, err)
		}
		entries = append(entries, Entry{
			Backend: Backend{
				ID:              s.id,
				Kind:            s.bc.Kind,
				Endpoint:        s.bc.Endpoint,
				Model:           s.bc.Model,
				RequiresNetwork: s.bc.Kind != config.KindOllama,
				Priority:        s.bc.Priority,
				Tier:            s.tier,
			},
			Transport: transport,
		})
	}
	return NewRegistry(entries...)
}

// NewTransport builds the transport for one backend's kind.
func NewTransport(bc config.BackendConfig, hc *http.Client) (Transport, error) {
	switch bc.Kind {
	case config.KindOpenAI:
		return NewOpenAITransport(bc.Endpoint, bc.APIKey, bc.Model, hc), nil
	case config.KindGemini:
		return NewGeminiTransport(bc.Endpoint, bc.APIKey, bc.Model, hc), nil
	case config.KindOllama:
		return NewOllamaTransport(bc.Endpoint, bc.Model, hc)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", bc.Kind)
	}
}
