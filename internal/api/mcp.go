package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/branchline/internal/controller"
	"github.com/kalambet/branchline/internal/timeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Timeline Timeline
}

// NewMCPServer creates an MCP server exposing the timeline debug tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"branchline",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("branchline: inspect and refresh the branch timeline layout."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("timeline_state",
			mcp.WithDescription("Return the current timeline snapshot: positioned feeds, connectors, metrics and viewport."),
		),
		mcpTimelineState(deps),
	)

	s.AddTool(
		mcp.NewTool("visible_feeds",
			mcp.WithDescription("List the feeds inside the current viewport window, optionally after scrolling."),
			mcp.WithNumber("scroll_top", mcp.Description("Scroll to this offset before listing")),
		),
		mcpVisibleFeeds(deps),
	)

	s.AddTool(
		mcp.NewTool("refresh_layout",
			mcp.WithDescription("Drop cached layout results and recalculate immediately."),
		),
		mcpRefreshLayout(deps),
	)

	s.AddTool(
		mcp.NewTool("invalidate_feed",
			mcp.WithDescription("Drop every cached result derived from one feed."),
			mcp.WithString("feed_id", mcp.Description("Feed id"), mcp.Required()),
		),
		mcpInvalidateFeed(deps),
	)

	s.AddTool(
		mcp.NewTool("cache_stats",
			mcp.WithDescription("Return layout cache counters."),
		),
		mcpCacheStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"timeline://performance",
			"Timeline Performance",
			mcp.WithResourceDescription("Calculation, cache and dispatch timings as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePerformance(deps),
	)

	return s
}

func mcpTimelineState(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Timeline.Snapshot()), nil
	}
}

func mcpVisibleFeeds(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var visible []timeline.PositionedFeed
		if _, ok := req.GetArguments()["scroll_top"]; ok {
			top := req.GetFloat("scroll_top", 0)
			if top < 0 {
				return mcpError("scroll_top must not be negative"), nil
			}
			visible = deps.Timeline.ScrollNow(top)
		} else {
			visible = deps.Timeline.Snapshot().VisibleFeeds
		}

		type visibleFeed struct {
			ID    string  `json:"id"`
			Phase string  `json:"phase"`
			X     float64 `json:"x"`
			Y     float64 `json:"y"`
		}
		out := make([]visibleFeed, len(visible))
		for i, f := range visible {
			out[i] = visibleFeed{ID: f.ID, Phase: f.Phase, X: f.X, Y: f.Y}
		}
		return mcpJSON(out), nil
	}
}

func mcpRefreshLayout(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		err := deps.Timeline.ForceRecalculate(ctx)
		if errors.Is(err, controller.ErrNoInput) {
			return mcpError("no timeline data loaded"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("recalculation failed: %v", err)), nil
		}
		m := deps.Timeline.Snapshot().Metrics
		return mcpText(fmt.Sprintf("Recalculated %d nodes in %s (%d adjusted, %d stacked)",
			m.TotalNodes, m.CalculationTime, m.AdjustedNodes, m.StackedNodes)), nil
	}
}

func mcpInvalidateFeed(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("feed_id")
		if err != nil || id == "" {
			return mcpError("feed_id is required"), nil
		}
		n := deps.Timeline.InvalidateFeed(id)
		return mcpText(fmt.Sprintf("Invalidated %d cache entries for %s", n, id)), nil
	}
}

func mcpCacheStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Timeline.CacheStats()), nil
	}
}

func mcpResourcePerformance(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Timeline.PerformanceStats())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal performance: %w", err)
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

// mcpJSON marshals v into a text result.
func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
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
