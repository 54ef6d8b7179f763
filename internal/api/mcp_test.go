package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/prefd/internal/persistent"
)

// --- mocks ---

type mockMCPHistory struct {
	changes []MCPChange
	err     error
	store   string
	limit   int
}

func (m *mockMCPHistory) Recent(_ context.Context, store string, limit int) ([]MCPChange, error) {
	m.store, m.limit = store, limit
	return m.changes, m.err
}

type failingCaller struct{}

func (failingCaller) Update(context.Context, persistent.UpdateRequest) error {
	return errors.New("connection refused")
}

func (failingCaller) Snapshot(context.Context, string) (persistent.Props, error) {
	return nil, errors.New("connection refused")
}

// --- helpers ---

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	reg := persistent.NewRegistry(persistent.RolePrimary)
	reg.MustRegister(settingsDescriptor())
	if err := reg.Init(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return MCPDeps{Registry: reg, History: &mockMCPHistory{}}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_ListStores(t *testing.T) {
	deps := newTestMCPDeps(t)
	result, err := mcpListStores(deps)(context.Background(), makeCallToolRequest("list_stores", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var stores []struct {
		Name string   `json:"name"`
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &stores); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(stores) != 1 || stores[0].Name != "settings" || len(stores[0].Keys) != 2 {
		t.Fatalf("unexpected stores: %+v", stores)
	}
}

func TestMCPTool_GetPreference(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpGetPreference(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_preference", map[string]interface{}{
		"store": "settings",
		"key":   "theme",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != `"system"` {
		t.Fatalf("theme = %s, want \"system\"", got)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_preference", map[string]interface{}{
		"store": "settings",
	}))
	var all map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &all); err != nil {
		t.Fatalf("failed to parse store: %v", err)
	}
	if all["font_size"] != 13.0 {
		t.Fatalf("font_size = %v, want 13", all["font_size"])
	}
}

func TestMCPTool_GetPreference_Unknown(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpGetPreference(deps)

	for _, args := range []map[string]interface{}{
		{"store": "nope"},
		{"store": "settings", "key": "nope"},
		{},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("get_preference", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected error result, got %s", args, toolText(t, result))
		}
	}
}

func TestMCPTool_SetPreference(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpSetPreference(deps)

	result, err := handler(context.Background(), makeCallToolRequest("set_preference", map[string]interface{}{
		"store": "settings",
		"key":   "font_size",
		"value": "15",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "Set settings.font_size = 15" {
		t.Fatalf("unexpected response: %s", text)
	}

	s, _ := deps.Registry.Lookup("settings")
	if got := s.Get("font_size"); got != 15.0 {
		t.Fatalf("font_size = %v, want 15", got)
	}

	// Bare text is stored as a string.
	result, _ = handler(context.Background(), makeCallToolRequest("set_preference", map[string]interface{}{
		"store": "settings",
		"key":   "theme",
		"value": "dark",
	}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := s.Get("theme"); got != "dark" {
		t.Fatalf("theme = %v, want dark", got)
	}
}

func TestMCPTool_SetPreference_Rejected(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpSetPreference(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("set_preference", map[string]interface{}{
		"store": "settings",
		"key":   "font_size",
		"value": "large",
	}))
	if !result.IsError {
		t.Fatalf("expected error for wrong kind, got %s", toolText(t, result))
	}
}

func TestMCPTool_SetPreference_PrimaryDown(t *testing.T) {
	reg := persistent.NewRegistry(persistent.RoleSecondary, persistent.WithCaller(failingCaller{}))
	reg.MustRegister(settingsDescriptor())
	handler := mcpSetPreference(MCPDeps{Registry: reg})

	result, _ := handler(context.Background(), makeCallToolRequest("set_preference", map[string]interface{}{
		"store": "settings",
		"key":   "theme",
		"value": `"dark"`,
	}))
	if !result.IsError {
		t.Fatalf("expected error result, got %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "applied locally") {
		t.Fatalf("unexpected message: %s", toolText(t, result))
	}
}

func TestMCPTool_RecentChanges(t *testing.T) {
	deps := newTestMCPDeps(t)
	history := &mockMCPHistory{changes: []MCPChange{
		{Store: "settings", Key: "theme", Value: `"dark"`, Origin: "cli"},
	}}
	deps.History = history

	result, err := mcpRecentChanges(deps)(context.Background(), makeCallToolRequest("recent_changes", map[string]interface{}{
		"store": "settings",
		"limit": 500,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if history.store != "settings" || history.limit != 100 {
		t.Fatalf("history queried with store=%q limit=%d", history.store, history.limit)
	}

	var changes []MCPChange
	if err := json.Unmarshal([]byte(toolText(t, result)), &changes); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(changes) != 1 || changes[0].Origin != "cli" {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestMCPTool_RecentChanges_NoHistory(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.History = nil
	result, _ := mcpRecentChanges(deps)(context.Background(), makeCallToolRequest("recent_changes", nil))
	if !result.IsError {
		t.Fatal("expected error when history is unavailable")
	}
}

func TestMCPResource_Store(t *testing.T) {
	deps := newTestMCPDeps(t)
	s, _ := deps.Registry.Lookup("settings")
	if err := s.Set(context.Background(), "theme", "light"); err != nil {
		t.Fatal(err)
	}

	contents, err := mcpResourceStore(deps, "settings")(context.Background(), makeReadResourceRequest(storeURI("settings")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "prefs://settings" || !strings.Contains(tc.Text, `"theme":"light"`) {
		t.Fatalf("unexpected resource: %+v", tc)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{`"dark"`, "dark"},
		{"dark", "dark"},
		{"15", 15.0},
		{"true", true},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseValue(tt.raw); got != tt.want {
			t.Errorf("ParseValue(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
