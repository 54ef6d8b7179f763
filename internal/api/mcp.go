package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/prefd/internal/persistent"
)

// MCPHistory abstracts the change history for the MCP layer.
type MCPHistory interface {
	Recent(ctx context.Context, store string, limit int) ([]MCPChange, error)
}

// MCPChange is a history entry as the MCP layer reports it.
type MCPChange struct {
	Store  string `json:"store"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	Origin string `json:"origin"`
	At     string `json:"at"`
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Registry *persistent.Registry
	History  MCPHistory // optional; if nil, recent_changes returns an error
	Version  string
}

// NewMCPServer creates an MCP server exposing the registered stores as tools
// and one resource per store.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"prefd",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("prefd: read and change the user's persisted application preferences."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_stores",
			mcp.WithDescription("List the preference stores and their keys."),
		),
		mcpListStores(deps),
	)

	s.AddTool(
		mcp.NewTool("get_preference",
			mcp.WithDescription("Read one preference, or a whole store when key is omitted."),
			mcp.WithString("store", mcp.Description("Store name (e.g. settings)"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Key within the store")),
		),
		mcpGetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Change one preference. The value is JSON; bare text is stored as a string."),
			mcp.WithString("store", mcp.Description("Store name"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Key within the store"), mcp.Required()),
			mcp.WithString("value", mcp.Description("New value as JSON"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_changes",
			mcp.WithDescription("List recent preference changes, newest first."),
			mcp.WithString("store", mcp.Description("Only changes of this store")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of changes (default 10)")),
		),
		mcpRecentChanges(deps),
	)

	for _, name := range deps.Registry.Names() {
		s.AddResource(
			mcp.NewResource(
				storeURI(name),
				name,
				mcp.WithResourceDescription(fmt.Sprintf("Current contents of the %s store as JSON", name)),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceStore(deps, name),
		)
	}

	return s
}

func storeURI(name string) string {
	return "prefs://" + url.PathEscape(name)
}

func mcpListStores(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		type storeInfo struct {
			Name string   `json:"name"`
			Keys []string `json:"keys"`
		}
		stores := []storeInfo{}
		for _, name := range deps.Registry.Names() {
			d, _ := deps.Registry.Descriptor(name)
			info := storeInfo{Name: name, Keys: make([]string, len(d.Keys))}
			for i, k := range d.Keys {
				info.Keys[i] = k.Name
			}
			stores = append(stores, info)
		}
		b, err := json.Marshal(stores)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stores: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("store")
		if err != nil {
			return mcpError("store is required"), nil
		}
		s, ok := deps.Registry.Lookup(name)
		if !ok {
			return mcpError(fmt.Sprintf("unknown store %q", name)), nil
		}

		var v any = s.Data()
		if key := req.GetString("key", ""); key != "" {
			if _, ok := s.Data()[key]; !ok {
				return mcpError(fmt.Sprintf("%s has no key %q", name, key)), nil
			}
			v = s.Get(key)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal value: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("store")
		if err != nil {
			return mcpError("store is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		raw, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		s, ok := deps.Registry.Lookup(name)
		if !ok {
			return mcpError(fmt.Sprintf("unknown store %q", name)), nil
		}
		if err := s.Set(ctx, key, ParseValue(raw)); err != nil {
			if errors.Is(err, persistent.ErrRemoteCall) {
				return mcpError(fmt.Sprintf("set %s.%s applied locally but the primary did not confirm: %v", name, key, err)), nil
			}
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s.%s = %s", name, key, raw)), nil
	}
}

func mcpRecentChanges(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.History == nil {
			return mcpError("change history is not available"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		changes, err := deps.History.Recent(ctx, req.GetString("store", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("reading history failed: %v", err)), nil
		}
		if len(changes) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(changes)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal changes: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStore(deps MCPDeps, name string) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		s, ok := deps.Registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("store %s is not available", name)
		}
		b, err := json.Marshal(s.Data())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal store: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// ParseValue reads raw as JSON, falling back to the raw text as a string.
func ParseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
