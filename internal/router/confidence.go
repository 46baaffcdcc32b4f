package router

import (
	"time"

	"github.com/msvignesh01/eduflow/internal/provider"
)

const (
	fastLatency = 2 * time.Second
	slowLatency = 10 * time.Second
)

// Confidence estimates answer quality from the backend tier and how long the
// call took. It is advisory and deterministic.
func Confidence(tier provider.Tier, latency time.Duration) float64 {
	c := tier.BaseConfidence()
	switch {
	case latency < fastLatency:
		c += 0.05
	case latency > slowLatency:
		c -= 0.10
	}
	return min(max(c, 0.5), 1.0)
}
