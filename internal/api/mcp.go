package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jswell/mindq/internal/queue"
	"github.com/jswell/mindq/internal/storage"
)

// NewMCPServer creates an MCP server exposing mindq's capture/process/approve
// flow as tools, so an MCP-capable client can drive the pipeline directly.
func NewMCPServer(deps AppDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"mindq",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mindq — thought capture and AI-assisted organization with human approval."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("capture_thought",
			mcp.WithDescription("Capture a free-form thought into the inbox for later processing."),
			mcp.WithString("text", mcp.Description("The thought text"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
		),
		mcpCaptureThought(deps),
	)

	s.AddTool(
		mcp.NewTool("process_thought",
			mcp.WithDescription("Run the AI classifier over a captured thought and queue the proposed actions for approval."),
			mcp.WithString("thought_id", mcp.Description("ID of the thought to process"), mcp.Required()),
		),
		mcpProcessThought(deps),
	)

	s.AddTool(
		mcp.NewTool("approve_queue_item",
			mcp.WithDescription("Approve and execute a subset of a queue item's proposed actions."),
			mcp.WithString("queue_item_id", mcp.Description("ID of the queue item"), mcp.Required()),
			mcp.WithArray("action_ids", mcp.Description("IDs of the actions to approve; unlisted actions are skipped")),
		),
		mcpApproveQueueItem(deps),
	)

	s.AddTool(
		mcp.NewTool("revert_queue_item",
			mcp.WithDescription("Undo a completed queue item: delete created entities and restore the thought."),
			mcp.WithString("queue_item_id", mcp.Description("ID of the completed queue item"), mcp.Required()),
		),
		mcpRevertQueueItem(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"mindq://queue/pending",
			"Pending Queue Items",
			mcp.WithResourceDescription("Queue items awaiting user approval"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePendingQueue(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"mindq://thoughts/recent",
			"Recent Thoughts",
			mcp.WithResourceDescription("Last 10 captured thoughts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentThoughts(deps),
	)

	return s
}

func mcpCaptureThought(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		tags := req.GetStringSlice("tags", nil)

		now := time.Now().UTC()
		thought := storage.Thought{
			ID:        uuid.New().String(),
			Text:      text,
			Tags:      tags,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := deps.Store.CreateThought(thought); err != nil {
			return mcpError(fmt.Sprintf("failed to save thought: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Captured thought %s", thought.ID)), nil
	}
}

func mcpProcessThought(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		thoughtID, err := req.RequireString("thought_id")
		if err != nil {
			return mcpError("thought_id is required"), nil
		}

		queueItemID, err := deps.Processor.ProcessThought(ctx, thoughtID)
		if err != nil {
			return mcpError(fmt.Sprintf("processing failed: %v", err)), nil
		}

		item, err := deps.Queue.Get(queueItemID)
		if err != nil {
			return mcpError(fmt.Sprintf("processed but failed to load queue item: %v", err)), nil
		}

		b, err := json.Marshal(item)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal queue item: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpApproveQueueItem(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := req.RequireString("queue_item_id")
		if err != nil {
			return mcpError("queue_item_id is required"), nil
		}

		actionIDs := req.GetStringSlice("action_ids", nil)

		summary, err := deps.Approval.ApproveAndExecute(ctx, itemID, actionIDs)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError("queue item not found"), nil
			}
			return mcpError(fmt.Sprintf("approval failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Executed %d action(s), %d failed", summary.Executed, summary.Failed)), nil
	}
}

func mcpRevertQueueItem(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := req.RequireString("queue_item_id")
		if err != nil {
			return mcpError("queue_item_id is required"), nil
		}

		if err := deps.Reverter.Revert(ctx, itemID); err != nil {
			return mcpError(fmt.Sprintf("revert failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Reverted queue item %s", itemID)), nil
	}
}

func mcpResourcePendingQueue(deps AppDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Queue.List(50, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list queue: %w", err)
		}

		pending := make([]queue.Item, 0, len(items))
		for _, it := range items {
			if it.Status == queue.StatusAwaitingApproval {
				pending = append(pending, it)
			}
		}

		b, err := json.Marshal(pending)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queue items: %w", err)
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

func mcpResourceRecentThoughts(deps AppDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		thoughts, err := deps.Store.ListThoughts(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list thoughts: %w", err)
		}

		type thoughtSummary struct {
			ID        string   `json:"id"`
			CreatedAt string   `json:"created_at"`
			Text      string   `json:"text"`
			Tags      []string `json:"tags,omitempty"`
		}

		summaries := make([]thoughtSummary, len(thoughts))
		for i, t := range thoughts {
			text := t.Text
			if utf8.RuneCountInString(text) > 200 {
				runes := []rune(text)
				text = string(runes[:200]) + "..."
			}
			summaries[i] = thoughtSummary{
				ID:        t.ID,
				CreatedAt: t.CreatedAt.Format(time.RFC3339),
				Text:      text,
				Tags:      t.Tags,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal thoughts: %w", err)
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
