package ops

import (
	"context"
	"time"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/mirror"
	"github.com/msvignesh01/eduflow/internal/syncq"
)

// SyncStatusOutput contains the result of the SyncStatus operation.
type SyncStatusOutput struct {
	syncq.Status
	Queue []syncq.Item `json:"queue"`
	// Mirror is nil when realtime mirroring is off.
	Mirror *mirror.Status `json:"mirror,omitempty"`
	// NextRuns holds scheduled job times; only a started App has them.
	NextRuns map[string]time.Time `json:"next_runs,omitempty"`
}

// SyncStatus reports the sync queue, the realtime mirror and the schedule.
func SyncStatus(app *App) *SyncStatusOutput {
	out := &SyncStatusOutput{
		Status: app.Queue.Status(),
		Queue:  app.Queue.Items(),
	}
	if app.Mirror != nil {
		st := app.Mirror.Status()
		out.Mirror = &st
	}
	if app.started {
		out.NextRuns = app.Scheduler.NextRuns()
	}
	return out
}

// SyncDrain delivers pending mutations now.
func SyncDrain(ctx context.Context, app *App) (*syncq.DrainResult, error) {
	res, err := app.Queue.Drain(ctx)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SyncClearOutput contains the result of the SyncClear operation.
type SyncClearOutput struct {
	Cleared int `json:"cleared"`
}

// SyncClear drops every queued mutation without delivering it.
func SyncClear(app *App) (*SyncClearOutput, error) {
	n, err := app.Queue.Clear()
	if err != nil {
		return nil, err
	}
	return &SyncClearOutput{Cleared: n}, nil
}

// SyncItemInput addresses one queued mutation, either by key or by
// collection and document id.
type SyncItemInput struct {
	Key        string
	Collection string
	DocID      string
}

func (in SyncItemInput) key() (string, error) {
	switch {
	case in.Key != "" && (in.Collection != "" || in.DocID != ""):
		return "", errors.NewInvalidRequest("specify either key or collection and doc id, not both")
	case in.Key != "":
		return in.Key, nil
	case in.Collection != "" && in.DocID != "":
		return syncq.Key(in.Collection, in.DocID), nil
	default:
		return "", errors.NewInvalidRequest("key or collection and doc id are required")
	}
}

// SyncItemOutput contains the result of SyncRequeue and SyncDiscard.
type SyncItemOutput struct {
	Key  string      `json:"key"`
	Item *syncq.Item `json:"item,omitempty"`
}

// SyncRequeue returns a dead-lettered or failing mutation to the pending
// state with its retry history reset.
func SyncRequeue(app *App, input SyncItemInput) (*SyncItemOutput, error) {
	key, err := input.key()
	if err != nil {
		return nil, err
	}
	if err := app.Queue.Requeue(key); err != nil {
		return nil, err
	}
	out := &SyncItemOutput{Key: key}
	if it, ok := app.Queue.Lookup(key); ok {
		out.Item = &it
	}
	return out, nil
}

// SyncDiscard drops one queued mutation.
func SyncDiscard(app *App, input SyncItemInput) (*SyncItemOutput, error) {
	key, err := input.key()
	if err != nil {
		return nil, err
	}
	if err := app.Queue.Discard(key); err != nil {
		return nil, err
	}
	return &SyncItemOutput{Key: key}, nil
}
