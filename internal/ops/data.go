package ops

import (
	"context"
	"strings"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/remote"
	"github.com/msvignesh01/eduflow/internal/syncq"
)

// DataSaveInput contains parameters for the DataSave operation.
type DataSaveInput struct {
	Collection string
	ID         string
	Data       remote.Document
	Action     string // create (default) or update
}

// DataOutput identifies the document a data operation touched.
type DataOutput struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	// Queued reports whether a mutation is waiting for delivery afterwards.
	Queued bool `json:"queued"`
}

func (a *App) dataOutput(collection, id string) *DataOutput {
	_, queued := a.Queue.Lookup(syncq.Key(collection, id))
	return &DataOutput{Collection: collection, ID: id, Queued: queued}
}

// DataSave writes a document locally and queues it for the remote store.
func DataSave(ctx context.Context, app *App, input DataSaveInput) (*DataOutput, error) {
	action := syncq.Action(strings.ToLower(strings.TrimSpace(input.Action)))
	switch action {
	case "", syncq.Create, syncq.Update:
	default:
		return nil, errors.NewInvalidRequest("action must be create or update")
	}
	if err := app.Data.Save(ctx, input.Collection, input.ID, input.Data, action); err != nil {
		return nil, err
	}
	return app.dataOutput(input.Collection, input.ID), nil
}

// DataRefInput addresses one document.
type DataRefInput struct {
	Collection string
	ID         string
}

// DataDelete removes a document locally and queues the remote delete.
func DataDelete(ctx context.Context, app *App, input DataRefInput) (*DataOutput, error) {
	if err := app.Data.Delete(ctx, input.Collection, input.ID); err != nil {
		return nil, err
	}
	return app.dataOutput(input.Collection, input.ID), nil
}

// DataGetOutput contains the result of the DataGet operation.
type DataGetOutput struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       remote.Document `json:"data"`
}

// DataGet reads a document, local copy first.
func DataGet(ctx context.Context, app *App, input DataRefInput) (*DataGetOutput, error) {
	doc, ok, err := app.Data.Get(ctx, input.Collection, input.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewNotFound(syncq.Key(input.Collection, input.ID))
	}
	return &DataGetOutput{Collection: input.Collection, ID: input.ID, Data: doc}, nil
}

// DataListOutput contains the result of the DataList operation.
type DataListOutput struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

// DataList returns the ids of a collection's local documents.
func DataList(app *App, collection string) (*DataListOutput, error) {
	ids, err := app.Data.List(collection)
	if err != nil {
		return nil, err
	}
	return &DataListOutput{Collection: collection, IDs: ids}, nil
}
