package mcp

import "github.com/mark3labs/mcp-go/mcp"

var invokeToolDef = mcp.NewTool("ai_invoke",
	mcp.WithDescription("Answer a prompt with the best available AI backend. Falls back through the remaining backends on failure and answers from the offline cache when possible."),
	mcp.WithString("prompt", mcp.Required(), mcp.Description("The prompt to answer")),
	mcp.WithString("backend", mcp.Description("Pin a backend: primary-cloud, secondary-cloud or local-daemon")),
	mcp.WithBoolean("force", mcp.Description("Try the backend even when its health check says it is down")),
	mcp.WithBoolean("no_fallback", mcp.Description("Stop after the first failed backend")),
	mcp.WithBoolean("no_cache", mcp.Description("Skip the response cache")),
	mcp.WithNumber("temperature", mcp.Description("Sampling temperature passed to the backend")),
	mcp.WithNumber("max_tokens", mcp.Description("Maximum tokens to generate"), mcp.Min(0)),
	mcp.WithString("format", mcp.Description("Response format"), mcp.Enum("markdown", "html", "sections")),
)

var healthToolDef = mcp.NewTool("ai_health",
	mcp.WithDescription("Report the last-known health of every AI backend, optionally probing them first."),
	mcp.WithBoolean("refresh", mcp.Description("Probe every backend before reporting")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var storeGetToolDef = mcp.NewTool("store_get",
	mcp.WithDescription("Read a value from the local store."),
	mcp.WithString("key", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var storeSetToolDef = mcp.NewTool("store_set",
	mcp.WithDescription("Write a JSON value to the local store."),
	mcp.WithString("key", mcp.Required()),
	mcp.WithString("value", mcp.Required(), mcp.Description("JSON-encoded value, e.g. {\"theme\":\"dark\"} or \"text\"")),
	mcp.WithNumber("ttl_seconds", mcp.Description("Lifetime in seconds; negative for no expiry, omitted for the default")),
	mcp.WithString("collection", mcp.Description("Collection tag reported in store stats")),
	mcp.WithBoolean("pinned", mcp.Description("Exempt the value from eviction")),
)

var storeRemoveToolDef = mcp.NewTool("store_remove",
	mcp.WithDescription("Remove a key from the local store."),
	mcp.WithString("key", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)

var storeStatsToolDef = mcp.NewTool("store_stats",
	mcp.WithDescription("Summarize local store usage: item counts, bytes, collections and upcoming expirations."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var syncStatusToolDef = mcp.NewTool("sync_status",
	mcp.WithDescription("Report the sync queue: pending mutations, recent errors, dead letters and realtime mirror state."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var syncDrainToolDef = mcp.NewTool("sync_drain",
	mcp.WithDescription("Deliver pending mutations to the remote store now."),
)

var syncRequeueToolDef = mcp.NewTool("sync_requeue",
	mcp.WithDescription("Return a failed or dead-lettered mutation to the queue with fresh retry state."),
	mcp.WithString("key", mcp.Description("Queue key, <collection>_<id>")),
	mcp.WithString("collection"),
	mcp.WithString("doc_id"),
)

var syncDiscardToolDef = mcp.NewTool("sync_discard",
	mcp.WithDescription("Drop a queued mutation without delivering it."),
	mcp.WithString("key", mcp.Description("Queue key, <collection>_<id>")),
	mcp.WithString("collection"),
	mcp.WithString("doc_id"),
	mcp.WithDestructiveHintAnnotation(true),
)

var dataSaveToolDef = mcp.NewTool("data_save",
	mcp.WithDescription("Save a document locally and queue it for the remote store."),
	mcp.WithString("collection", mcp.Required()),
	mcp.WithString("id", mcp.Required()),
	mcp.WithObject("data", mcp.Required(), mcp.Description("Document fields")),
	mcp.WithString("action", mcp.Enum("create", "update")),
)

var dataDeleteToolDef = mcp.NewTool("data_delete",
	mcp.WithDescription("Delete a document locally and queue the remote delete."),
	mcp.WithString("collection", mcp.Required()),
	mcp.WithString("id", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)

var dataGetToolDef = mcp.NewTool("data_get",
	mcp.WithDescription("Read a document, local copy first, then the remote store when online."),
	mcp.WithString("collection", mcp.Required()),
	mcp.WithString("id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var dataListToolDef = mcp.NewTool("data_list",
	mcp.WithDescription("List the ids of a collection's local documents."),
	mcp.WithString("collection", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var dataExportToolDef = mcp.NewTool("data_export",
	mcp.WithDescription("Export local documents to a JSON file in the exports directory."),
	mcp.WithString("path", mcp.Description("Target file; defaults to a timestamped file in the exports directory")),
	mcp.WithString("name", mcp.Description("File name stem for the default path")),
)

var dataImportToolDef = mcp.NewTool("data_import",
	mcp.WithDescription("Restore a data_export file and queue its documents for sync."),
	mcp.WithString("path", mcp.Required()),
)
