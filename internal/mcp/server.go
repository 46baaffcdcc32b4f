package mcp

import (
	"maps"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/msvignesh01/eduflow/internal/config"
	"github.com/msvignesh01/eduflow/internal/ops"
)

// ServerName is the implementation name reported during MCP initialization.
const ServerName = "eduflow"

// KnownTypes lists the tool groups that can be disabled as a whole.
var KnownTypes = []string{"ai", "store", "sync", "data"}

type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	// ai
	"ai_invoke": {invokeToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleInvoke }},
	"ai_health": {healthToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleHealth }},

	// store
	"store_get":    {storeGetToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleStoreGet }},
	"store_set":    {storeSetToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleStoreSet }},
	"store_remove": {storeRemoveToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleStoreRemove }},
	"store_stats":  {storeStatsToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleStoreStats }},

	// sync
	"sync_status":  {syncStatusToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncStatus }},
	"sync_drain":   {syncDrainToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncDrain }},
	"sync_requeue": {syncRequeueToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncRequeue }},
	"sync_discard": {syncDiscardToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncDiscard }},

	// data
	"data_save":   {dataSaveToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleDataSave }},
	"data_delete": {dataDeleteToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleDataDelete }},
	"data_get":    {dataGetToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleDataGet }},
	"data_list":   {dataListToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleDataList }},
	"data_export": {dataExportToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleDataExport }},
	"data_import": {dataImportToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleDataImport }},
}

// AllToolNames returns every registered tool name, sorted.
func AllToolNames() []string {
	return slices.Sorted(maps.Keys(toolRegistry))
}

// ValidateDisabledTools returns the names that match no registered tool.
func ValidateDisabledTools(names []string) []string {
	var unknown []string
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns the names that match no tool group.
func ValidateDisabledTypes(names []string) []string {
	var unknown []string
	for _, name := range names {
		if !slices.Contains(KnownTypes, name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool returns the group prefix of a tool name ("data_save" is "data").
func GetTypeForTool(toolName string) string {
	typ, _, ok := strings.Cut(toolName, "_")
	if !ok || typ == "" {
		return ""
	}
	return typ
}

// ExpandTypesToTools returns the sorted tool names belonging to the given groups.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}
	var tools []string
	for _, name := range AllToolNames() {
		if slices.Contains(types, GetTypeForTool(name)) {
			tools = append(tools, name)
		}
	}
	return tools
}

func disabledTools(cfg *config.Config) map[string]bool {
	disabled := make(map[string]bool)
	if cfg == nil {
		return disabled
	}
	for _, name := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[name] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}
	return disabled
}

// NewServer builds an MCP server exposing the app's operations. Tools named in
// DisabledTools, or in a group named in DisabledTypes, are not registered.
func NewServer(app *ops.App, version string) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version, server.WithToolCapabilities(true))

	h := NewHandlers(app)
	disabled := disabledTools(app.Config)
	for _, name := range AllToolNames() {
		if disabled[name] {
			continue
		}
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves MCP over stdio until stdin closes.
func Run(app *ops.App, version string) error {
	return server.ServeStdio(NewServer(app, version))
}
