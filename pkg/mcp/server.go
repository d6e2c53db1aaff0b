package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/regygeorge/nx-workflow/internal/definition"
	"github.com/regygeorge/nx-workflow/internal/engine"
)

// Deps holds the dependencies for creating a Server.
type Deps struct {
	Engine  *engine.Engine
	Loader  *definition.Loader
	Version string
	Logger  *slog.Logger
}

// Server wraps an MCP server with nxflow tool handlers.
type Server struct {
	engine    *engine.Engine
	loader    *definition.Loader
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every nxflow tool registered.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		engine: deps.Engine,
		loader: deps.Loader,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"nxflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("nxflow runs BPMN-style processes with user tasks, service tasks and gateways. "+
			"Use nxflow.deploy to register a YAML or JSON process document, nxflow.start to launch an instance, "+
			"nxflow.tasks and nxflow.claim to pick up user tasks, nxflow.complete to finish them, "+
			"nxflow.status to inspect an instance and nxflow.diagram to draw a process."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: deployTool(), Handler: s.handleDeploy},
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: completeTool(), Handler: s.handleComplete},
		{Tool: claimTool(), Handler: s.handleClaim},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: tasksTool(), Handler: s.handleTasks},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func deployTool() mcp.Tool {
	return mcp.NewTool("nxflow.deploy",
		mcp.WithDescription("Deploy a process definition"),
		mcp.WithString("document", mcp.Description("Process document as YAML or JSON text")),
		mcp.WithObject("definition", mcp.Description("Process document as an object; used when document is empty")),
	)
}

func startTool() mcp.Tool {
	return mcp.NewTool("nxflow.start",
		mcp.WithDescription("Start a process instance"),
		mcp.WithString("process_id", mcp.Required(), mcp.Description("ID of the deployed process")),
		mcp.WithString("business_key", mcp.Description("Caller-defined key for the instance")),
		mcp.WithObject("variables", mcp.Description("Initial process variables")),
	)
}

func completeTool() mcp.Tool {
	return mcp.NewTool("nxflow.complete",
		mcp.WithDescription("Complete a user task and advance its instance"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the open task")),
		mcp.WithObject("variables", mcp.Description("Variables merged into the instance before it moves on")),
	)
}

func claimTool() mcp.Tool {
	return mcp.NewTool("nxflow.claim",
		mcp.WithDescription("Claim or release a user task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("user", mcp.Description("User claiming the task (required unless release is true)")),
		mcp.WithArray("groups", mcp.WithStringItems(), mcp.Description("Groups the user belongs to")),
		mcp.WithBoolean("release", mcp.Description("Return an assigned task to the pool")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("nxflow.status",
		mcp.WithDescription("Get the state of a process instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance")),
		mcp.WithBoolean("history", mcp.Description("Include the per-node activity history")),
	)
}

func tasksTool() mcp.Tool {
	return mcp.NewTool("nxflow.tasks",
		mcp.WithDescription("List user tasks"),
		mcp.WithString("instance_id", mcp.Description("Only tasks of this instance")),
		mcp.WithString("assignee", mcp.Description("Only tasks assigned to this user")),
		mcp.WithString("state", mcp.Enum("OPEN", "ASSIGNED", "COMPLETED"), mcp.Description("Task state (default: OPEN)")),
		mcp.WithString("claimable_by", mcp.Description("Only open tasks this user may claim; other filters are ignored")),
		mcp.WithArray("groups", mcp.WithStringItems(), mcp.Description("Groups of the claimable_by user")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks (default: 100)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("nxflow.diagram",
		mcp.WithDescription("Render a process diagram. Returns ASCII art, Mermaid flowchart syntax, an outline, SVG, or a base64-encoded PNG image"),
		mcp.WithString("process_id", mcp.Required(), mcp.Description("ID of the deployed process")),
		mcp.WithString("instance_id", mcp.Description("Overlay the state of this instance")),
		mcp.WithString("format",
			mcp.Enum("ascii", "mermaid", "outline", "svg", "png"),
			mcp.Description("Output format (default: ascii)"),
		),
	)
}
