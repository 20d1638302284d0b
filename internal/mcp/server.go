package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vibemcp/vibemcp/internal/auth"
	"github.com/vibemcp/vibemcp/internal/errors"
	"github.com/vibemcp/vibemcp/internal/index"
	"github.com/vibemcp/vibemcp/internal/webhook"
	"github.com/vibemcp/vibemcp/internal/write"
	"github.com/vibemcp/vibemcp/pkg/version"
)

// Server is the MCP façade over the vibemcp engines. It bridges AI
// clients with the workspace index, the write engine, and webhook
// administration.
type Server struct {
	mcp     *mcp.Server
	indexer *index.Indexer
	writer  *write.Engine
	hooks   *webhook.Engine
	gate    *auth.Gate
	logger  *slog.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(ix *index.Indexer, writer *write.Engine, hooks *webhook.Engine, gate *auth.Gate, logger *slog.Logger) (*Server, error) {
	if ix == nil {
		return nil, errors.New(errors.KindFatalInit, "indexer is required")
	}
	if writer == nil {
		return nil, errors.New(errors.KindFatalInit, "write engine is required")
	}
	if hooks == nil {
		return nil, errors.New(errors.KindFatalInit, "webhook engine is required")
	}
	if gate == nil {
		return nil, errors.New(errors.KindFatalInit, "auth gate is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		indexer: ix,
		writer:  writer,
		hooks:   hooks,
		gate:    gate,
		logger:  logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "vibemcp",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Full-text search across all projects. Ranks by relevance, document type, recency, heading importance, and task status. Matches are highlighted with >>> and <<< in snippets.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "read_doc",
		Description: "Read a complete document from a project folder, including parsed frontmatter metadata.",
	}, s.mcpReadDocHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks from one project or across all projects, optionally filtered by status (pending/in-progress/done/blocked).",
	}, s.mcpListTasksHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_plan",
		Description: "Read the execution plan for a project (default: plans/execution-plan.md).",
	}, s.mcpGetPlanHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "init_project",
		Description: "Initialize a new project with the standard folder skeleton and a seeded status.md.",
	}, s.mcpInitProjectHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_task",
		Description: "Create a numbered task file in a project's tasks folder. Task numbers are assigned sequentially.",
	}, s.mcpCreateTaskHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "log_session",
		Description: "Create or append to today's session log in a project's sessions folder.",
	}, s.mcpLogSessionHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_task_status",
		Description: "Update the Status line of a task file. Valid statuses: pending, in-progress, done, blocked.",
	}, s.mcpUpdateTaskStatusHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_doc",
		Description: "Create a new markdown document in a project folder. Fails if the target already exists.",
	}, s.mcpCreateDocHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_plan",
		Description: "Create or overwrite a plan file in a project's plans folder.",
	}, s.mcpCreatePlanHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Rebuild the full-text index from the workspace markdown files.",
	}, s.mcpReindexHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "register_webhook",
		Description: "Register a webhook subscription for workspace events. Deliveries are signed with HMAC-SHA256 of the payload under the shared secret.",
	}, s.mcpRegisterWebhookHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "unregister_webhook",
		Description: "Remove a webhook subscription by id. Its delivery history is removed with it.",
	}, s.mcpUnregisterWebhookHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_webhooks",
		Description: "List webhook subscriptions, optionally filtered to a project. Secrets are never returned.",
	}, s.mcpListWebhooksHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 14))
}

// Run serves MCP over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// Handler returns the streamable HTTP handler with bearer-token
// authentication applied.
func (s *Server) Handler() http.Handler {
	h := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return s.mcp },
		nil,
	)
	return s.withAuth(h)
}
