package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalenko/taskpilot/internal/state"
	"github.com/kalenko/taskpilot/internal/task"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  state.Store
	Runner PassRunner // optional; if nil, run_pass returns an error
}

// NewMCPServer creates an MCP server with all taskpilot tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"taskpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("taskpilot — email task assistant: inspect clarification conversations and outstanding-task reminders, run processing passes, and classify task lists."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List open clarification conversations awaiting user replies."),
			mcp.WithString("user_email", mcp.Description("Only return conversations for this sender")),
		),
		mcpListConversations(deps),
	)

	s.AddTool(
		mcp.NewTool("list_outstanding_tasks",
			mcp.WithDescription("List persisted tasks still tracked for completion reminders."),
			mcp.WithString("user_email", mcp.Description("Only return tasks for this sender")),
		),
		mcpListOutstanding(deps),
	)

	s.AddTool(
		mcp.NewTool("run_pass",
			mcp.WithDescription("Run one full processing pass: reminder scans followed by every unread message."),
		),
		mcpRunPass(deps),
	)

	s.AddTool(
		mcp.NewTool("classify_tasks",
			mcp.WithDescription("Split a list of task records into ready and context-needed groups using the vagueness heuristics."),
			mcp.WithString("tasks", mcp.Description("JSON array of task record objects"), mcp.Required()),
		),
		mcpClassifyTasks(deps),
	)

	return s
}

func mcpListConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := req.GetString("user_email", "")

		st := deps.Store.Load()
		views := make([]ConversationView, 0, len(st.PendingConversations))
		for _, c := range st.PendingConversations {
			if filter != "" && c.UserEmail != filter {
				continue
			}
			views = append(views, ConversationView{
				ID:                 c.ID,
				UserEmail:          c.UserEmail,
				ReadyTasks:         len(c.ReadyTasks),
				ContextNeededTasks: len(c.ContextNeededTasks),
				CreatedAt:          c.CreatedAt,
				LastReminderSent:   c.LastReminderSent,
				ReminderCount:      c.ReminderCount,
			})
		}

		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conversations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListOutstanding(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := req.GetString("user_email", "")

		st := deps.Store.Load()
		views := make([]OutstandingView, 0, len(st.OutstandingTasks))
		for _, t := range st.OutstandingTasks {
			if filter != "" && t.UserEmail != filter {
				continue
			}
			views = append(views, OutstandingView{
				ID:               t.ID,
				UserEmail:        t.UserEmail,
				Title:            t.TaskData.DisplayTitle(),
				Status:           string(t.Status),
				CreatedAt:        t.CreatedAt,
				LastReminderSent: t.LastReminderSent,
				ReminderCount:    t.ReminderCount,
			})
		}

		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRunPass(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Runner == nil {
			return mcpError("pass execution not available: no orchestrator configured"), nil
		}

		report, err := deps.Runner.RunPass(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("pass failed: %v", err)), nil
		}

		b, err := json.Marshal(passReportView(report))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClassifyTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasksJSON, err := req.RequireString("tasks")
		if err != nil {
			return mcpError("tasks is required"), nil
		}

		var records []task.Record
		if err := json.Unmarshal([]byte(tasksJSON), &records); err != nil {
			return mcpError(fmt.Sprintf("invalid tasks JSON: %v", err)), nil
		}

		ready, needsContext := task.Classify(records)
		if ready == nil {
			ready = []task.Record{}
		}
		if needsContext == nil {
			needsContext = []task.Record{}
		}

		b, err := json.Marshal(map[string]any{
			"ready":         ready,
			"needs_context": needsContext,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
