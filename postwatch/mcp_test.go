package postwatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "postwatch-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_ListTools(t *testing.T) {
	svc, _ := setupTestService(t, newFake(SourceAPI, id100))
	session := mcpSession(t, svc)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"postwatch_track": true, "postwatch_untrack": true, "postwatch_poll": true,
		"postwatch_list": true, "postwatch_get": true, "postwatch_reset": true,
		"postwatch_set_sources": true,
	}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	if len(want) != 0 {
		t.Fatalf("missing tools: %v", want)
	}
}

func TestMCP_TrackPollList(t *testing.T) {
	// WHAT: The MCP tools drive the same service operations as HTTP.
	// WHY: Agents manage the watch list through MCP.
	api := newFake(SourceAPI, id100)
	svc, n := setupTestService(t, api)
	session := mcpSession(t, svc)

	text, isErr := mcpCall(t, session, "postwatch_track", map[string]any{"handle": "nasa"})
	if isErr {
		t.Fatalf("track: %s", text)
	}
	var out PollOutcome
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	if out.Outcome != BaselineSet || out.PostID != id100 {
		t.Fatalf("track outcome: %+v", out)
	}

	api.set(id120)
	text, isErr = mcpCall(t, session, "postwatch_poll", map[string]any{"handle": "nasa"})
	if isErr {
		t.Fatalf("poll: %s", text)
	}
	json.Unmarshal([]byte(text), &out)
	if out.Outcome != NewPost || n.count() != 1 {
		t.Fatalf("poll outcome: %+v, notifications %d", out, n.count())
	}

	text, _ = mcpCall(t, session, "postwatch_list", map[string]any{})
	var accounts []Account
	if err := json.Unmarshal([]byte(text), &accounts); err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0].LastPostID != id120 {
		t.Fatalf("list: %+v", accounts)
	}

	text, isErr = mcpCall(t, session, "postwatch_track", map[string]any{"handle": "nasa"})
	if !isErr || !strings.Contains(text, "already tracked") {
		t.Fatalf("duplicate track: err=%v %s", isErr, text)
	}
}

func TestMCP_SetSourcesAndReset(t *testing.T) {
	api := newFake(SourceAPI, id100)
	svc, _ := setupTestService(t, api, newFake(SourceMirror, id100))
	session := mcpSession(t, svc)
	if _, isErr := mcpCall(t, session, "postwatch_track", map[string]any{"handle": "nasa"}); isErr {
		t.Fatal("track failed")
	}

	text, isErr := mcpCall(t, session, "postwatch_set_sources", map[string]any{"handle": "nasa", "sources": []string{"mirror"}})
	if isErr {
		t.Fatalf("set sources: %s", text)
	}
	var a Account
	json.Unmarshal([]byte(text), &a)
	if len(a.PreferredSources) != 1 || a.PreferredSources[0] != SourceMirror {
		t.Fatalf("preferred: %v", a.PreferredSources)
	}

	text, isErr = mcpCall(t, session, "postwatch_set_sources", map[string]any{"handle": "nasa", "use_global": true})
	if isErr {
		t.Fatalf("use global: %s", text)
	}
	a = Account{}
	json.Unmarshal([]byte(text), &a)
	if a.PreferredSources != nil {
		t.Fatalf("preferred after use_global: %v", a.PreferredSources)
	}

	if _, isErr := mcpCall(t, session, "postwatch_set_sources", map[string]any{"handle": "nasa", "sources": []string{"nope"}}); !isErr {
		t.Fatal("unknown source accepted")
	}

	if text, isErr := mcpCall(t, session, "postwatch_reset", map[string]any{"handle": "nasa"}); isErr {
		t.Fatalf("reset: %s", text)
	}
	text, _ = mcpCall(t, session, "postwatch_get", map[string]any{"handle": "nasa"})
	a = Account{}
	json.Unmarshal([]byte(text), &a)
	if !a.FirstObservation {
		t.Fatalf("reset not applied: %+v", a)
	}

	if text, isErr := mcpCall(t, session, "postwatch_untrack", map[string]any{"handle": "nasa"}); isErr {
		t.Fatalf("untrack: %s", text)
	}
	if _, isErr := mcpCall(t, session, "postwatch_get", map[string]any{"handle": "nasa"}); !isErr {
		t.Fatal("get after untrack should fail")
	}
}
