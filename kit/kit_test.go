package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order: got %v, want %v", order, want)
	}
}

func TestLogging_WarnsOnError(t *testing.T) {
	// WHAT: Failed calls are logged at warn with the tool name.
	// WHY: MCP tool failures are otherwise only visible to the client.
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	errFail := errors.New("boom")

	ep := Logging(logger)(func(context.Context, any) (any, error) { return nil, errFail })
	ctx := WithTool(WithTransport(context.Background(), "mcp"), "postwatch_poll")
	if _, err := ep(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, "postwatch_poll") {
		t.Fatalf("log output missing warn/tool: %s", out)
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want http", v)
	}
	if v := GetRequestID(ctx); v != "" {
		t.Fatalf("request_id default: got %q", v)
	}
	if v := GetTool(ctx); v != "" {
		t.Fatalf("tool default: got %q", v)
	}
}

func TestContext_Set(t *testing.T) {
	ctx := WithRequestID(WithTransport(context.Background(), "cli"), "req_abc")
	if v := GetTransport(ctx); v != "cli" {
		t.Fatalf("transport: got %q", v)
	}
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
}

func TestDecodeJSON(t *testing.T) {
	type req struct {
		Handle string `json:"handle"`
	}
	decode := DecodeJSON[req]()

	res, err := decode(&mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Arguments: []byte(`{"handle":"jack"}`)}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Request.(*req).Handle; got != "jack" {
		t.Errorf("handle = %q", got)
	}

	// WHAT: a call without arguments decodes to the zero value.
	res, err = decode(&mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}})
	if err != nil {
		t.Fatalf("empty args: %v", err)
	}
	if res.Request.(*req).Handle != "" {
		t.Error("expected zero value")
	}

	if _, err := decode(&mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Arguments: []byte(`[1]`)}}); err == nil {
		t.Error("expected error for non-object arguments")
	}
}
