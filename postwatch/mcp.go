package postwatch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/postwatch/kit"
)

// RegisterMCP registers all postwatch tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerTrack(srv)
	svc.registerUntrack(srv)
	svc.registerPoll(srv)
	svc.registerList(srv)
	svc.registerGet(srv)
	svc.registerReset(srv)
	svc.registerSetSources(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var handleProp = map[string]any{"type": "string", "description": "Account handle, with or without @"}

type handleReq struct {
	Handle string `json:"handle"`
}

var decodeHandle = kit.DecodeJSON[handleReq]()

func (svc *Service) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode kit.MCPDecoder) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(svc.logger)(endpoint), decode)
}

// --- Accounts ---

func (svc *Service) registerTrack(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "postwatch_track",
		Description: "Start tracking an account. Its current latest post becomes the baseline; no notification is sent.",
		InputSchema: inputSchema(map[string]any{"handle": handleProp}, []string{"handle"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*handleReq)
		return svc.TrackAccount(ctx, p.Handle)
	}

	svc.register(srv, tool, endpoint, decodeHandle)
}

func (svc *Service) registerUntrack(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "postwatch_untrack",
		Description: "Stop tracking an account and forget its cached source state",
		InputSchema: inputSchema(map[string]any{"handle": handleProp}, []string{"handle"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*handleReq)
		if err := svc.UntrackAccount(ctx, p.Handle); err != nil {
			return nil, err
		}
		return map[string]string{"status": "deleted", "handle": p.Handle}, nil
	}

	svc.register(srv, tool, endpoint, decodeHandle)
}

func (svc *Service) registerPoll(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "postwatch_poll",
		Description: "Poll a tracked account now and return the reconciliation outcome",
		InputSchema: inputSchema(map[string]any{"handle": handleProp}, []string{"handle"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*handleReq)
		return svc.PollAccount(ctx, p.Handle)
	}

	svc.register(srv, tool, endpoint, decodeHandle)
}

func (svc *Service) registerList(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "postwatch_list",
		Description: "List tracked accounts with their last post, health and priority",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		accounts, err := svc.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		if accounts == nil {
			accounts = []*Account{}
		}
		return accounts, nil
	}

	svc.register(srv, tool, endpoint, kit.NoArgs)
}

func (svc *Service) registerGet(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "postwatch_get",
		Description: "Get one tracked account",
		InputSchema: inputSchema(map[string]any{"handle": handleProp}, []string{"handle"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*handleReq)
		return svc.GetAccount(ctx, p.Handle)
	}

	svc.register(srv, tool, endpoint, decodeHandle)
}

func (svc *Service) registerReset(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "postwatch_reset",
		Description: "Reset an account to first observation: the next poll re-baselines without notifying",
		InputSchema: inputSchema(map[string]any{"handle": handleProp}, []string{"handle"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*handleReq)
		if err := svc.ResetAccount(ctx, p.Handle); err != nil {
			return nil, err
		}
		return map[string]string{"status": "reset", "handle": p.Handle}, nil
	}

	svc.register(srv, tool, endpoint, decodeHandle)
}

func (svc *Service) registerSetSources(srv *mcp.Server) {
	type req struct {
		Handle  string   `json:"handle"`
		Sources []string `json:"sources"`
		Global  bool     `json:"use_global"`
	}

	tool := &mcp.Tool{
		Name:        "postwatch_set_sources",
		Description: "Override the source order for an account. An empty list disables polling; use_global restores the global order.",
		InputSchema: inputSchema(map[string]any{
			"handle": handleProp,
			"sources": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string", "enum": KnownSources},
				"description": "Ordered source names",
			},
			"use_global": map[string]any{"type": "boolean", "description": "Restore the global source order"},
		}, []string{"handle"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		sources := p.Sources
		if p.Global {
			sources = nil
		} else if sources == nil {
			sources = []string{}
		}
		if err := svc.SetPreferredSources(ctx, p.Handle, sources); err != nil {
			return nil, err
		}
		return svc.GetAccount(ctx, p.Handle)
	}

	svc.register(srv, tool, endpoint, kit.DecodeJSON[req]())
}
