package ops

import (
	"context"
	"slices"

	"github.com/msvignesh01/eduflow/internal/provider"
	"github.com/msvignesh01/eduflow/internal/router"
)

// HealthInput contains parameters for the Health operation.
type HealthInput struct {
	Refresh bool // probe every backend before reporting
}

// HealthOutput contains the result of the Health operation.
type HealthOutput struct {
	router.RouterStatus
	Warnings []string `json:"warnings,omitempty"`
}

// modelLister is implemented by transports that can list installed models.
type modelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// Health reports the router's view of every backend.
func Health(ctx context.Context, app *App, input HealthInput) (*HealthOutput, error) {
	if input.Refresh {
		app.Router.ForceHealthCheck(ctx)
	}
	out := &HealthOutput{RouterStatus: app.Router.Status()}

	// Only a refreshed report touches the network.
	if !input.Refresh {
		return out, nil
	}
	for _, b := range app.Registry.Backends() {
		if b.RequiresNetwork {
			continue
		}
		_, tr, _ := app.Registry.Lookup(b.ID)
		lister, ok := tr.(modelLister)
		if !ok {
			continue
		}
		models, err := lister.Models(ctx)
		if err != nil {
			continue
		}
		if !slices.Contains(models, b.Model) {
			out.Warnings = append(out.Warnings, missingModel(b))
		}
	}
	return out, nil
}

func missingModel(b provider.Backend) string {
	return "model " + b.Model + " is not installed on " + string(b.ID)
}
