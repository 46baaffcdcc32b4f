package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/ops"
	"github.com/msvignesh01/eduflow/internal/remote"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *ops.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(app *ops.App) *Handlers {
	return &Handlers{app: app}
}

// Request types for each tool

// InvokeRequest represents the arguments for ai_invoke.
type InvokeRequest struct {
	Prompt      string   `json:"prompt"`
	Backend     string   `json:"backend,omitempty"`
	Force       bool     `json:"force,omitempty"`
	NoFallback  bool     `json:"no_fallback,omitempty"`
	NoCache     bool     `json:"no_cache,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Format      string   `json:"format,omitempty"`
}

// HealthRequest represents the arguments for ai_health.
type HealthRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

// KeyRequest represents the arguments for store_get and store_remove.
type KeyRequest struct {
	Key string `json:"key"`
}

// StoreSetRequest represents the arguments for store_set.
type StoreSetRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	Collection string `json:"collection,omitempty"`
	Pinned     bool   `json:"pinned,omitempty"`
}

// SyncItemRequest represents the arguments for sync_requeue and sync_discard.
type SyncItemRequest struct {
	Key        string `json:"key,omitempty"`
	Collection string `json:"collection,omitempty"`
	DocID      string `json:"doc_id,omitempty"`
}

// DataSaveRequest represents the arguments for data_save.
type DataSaveRequest struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       remote.Document `json:"data"`
	Action     string          `json:"action,omitempty"`
}

// DataRefRequest represents the arguments for data_delete and data_get.
type DataRefRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// DataListRequest represents the arguments for data_list.
type DataListRequest struct {
	Collection string `json:"collection"`
}

// ExportRequest represents the arguments for data_export.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
}

// ImportRequest represents the arguments for data_import.
type ImportRequest struct {
	Path string `json:"path"`
}

// Handler implementations

// HandleInvoke handles the ai_invoke tool call.
func (h *Handlers) HandleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InvokeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Invoke(ctx, h.app, ops.InvokeInput{
		Prompt:      input.Prompt,
		Backend:     input.Backend,
		Force:       input.Force,
		NoFallback:  input.NoFallback,
		NoCache:     input.NoCache,
		Temperature: input.Temperature,
		MaxTokens:   input.MaxTokens,
		Format:      input.Format,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHealth handles the ai_health tool call.
func (h *Handlers) HandleHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HealthRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Health(ctx, h.app, ops.HealthInput{Refresh: input.Refresh})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStoreGet handles the store_get tool call.
func (h *Handlers) HandleStoreGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[KeyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.StoreGet(h.app, ops.StoreGetInput{Key: input.Key})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStoreSet handles the store_set tool call.
func (h *Handlers) HandleStoreSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StoreSetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.StoreSet(h.app, ops.StoreSetInput{
		Key:        input.Key,
		Value:      json.RawMessage(input.Value),
		TTLSeconds: input.TTLSeconds,
		Collection: input.Collection,
		Pinned:     input.Pinned,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStoreRemove handles the store_remove tool call.
func (h *Handlers) HandleStoreRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[KeyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.StoreRemove(h.app, ops.StoreRemoveInput{Key: input.Key})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStoreStats handles the store_stats tool call.
func (h *Handlers) HandleStoreStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.StoreStats(h.app))
}

// HandleSyncStatus handles the sync_status tool call.
func (h *Handlers) HandleSyncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.SyncStatus(h.app))
}

// HandleSyncDrain handles the sync_drain tool call.
func (h *Handlers) HandleSyncDrain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.SyncDrain(ctx, h.app)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSyncRequeue handles the sync_requeue tool call.
func (h *Handlers) HandleSyncRequeue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SyncItemRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SyncRequeue(h.app, ops.SyncItemInput(input))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSyncDiscard handles the sync_discard tool call.
func (h *Handlers) HandleSyncDiscard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SyncItemRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SyncDiscard(h.app, ops.SyncItemInput(input))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDataSave handles the data_save tool call.
func (h *Handlers) HandleDataSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DataSaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DataSave(ctx, h.app, ops.DataSaveInput{
		Collection: input.Collection,
		ID:         input.ID,
		Data:       input.Data,
		Action:     input.Action,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDataDelete handles the data_delete tool call.
func (h *Handlers) HandleDataDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DataRefRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DataDelete(ctx, h.app, ops.DataRefInput(input))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDataGet handles the data_get tool call.
func (h *Handlers) HandleDataGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DataRefRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DataGet(ctx, h.app, ops.DataRefInput(input))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDataList handles the data_list tool call.
func (h *Handlers) HandleDataList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DataListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DataList(h.app, input.Collection)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDataExport handles the data_export tool call.
func (h *Handlers) HandleDataExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DataExport(h.app, ops.ExportInput(input))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDataImport handles the data_import tool call.
func (h *Handlers) HandleDataImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DataImport(ctx, h.app, ops.ImportInput(input))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed; they can carry file paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		// Keep any wrapping context in the message.
		msg := appErr.Message
		if err != error(appErr) {
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    appErr.Code,
			"message": msg,
			"status":  appErr.Status,
		}
		if appErr.Code != errors.ErrInternal && appErr.Details != nil {
			errorObj["details"] = appErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
