package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/credlogic/internal/decision"
	"github.com/rendis/credlogic/internal/diagram"
	"github.com/rendis/credlogic/internal/expressions"
	"github.com/rendis/credlogic/internal/store"
	"github.com/rendis/credlogic/internal/validation"
	"github.com/rendis/credlogic/pkg/schema"
)

// ServerDeps holds the dependencies for creating a Server.
// Store and Decider may be nil; the tools that need them then report an error.
type ServerDeps struct {
	Store     store.Store
	Decider   *decision.Decider
	Validator *validation.ConditionValidator
	Engines   *expressions.Registry
	Logger    *slog.Logger
	Version   string
}

// Server wraps an MCP server with the condition tool handlers.
type Server struct {
	store     store.Store
	decider   *decision.Decider
	validator *validation.ConditionValidator
	engines   *expressions.Registry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all 7 tools registered. A missing validator
// or engine registry is created with defaults.
func NewServer(deps ServerDeps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	validator := deps.Validator
	if validator == nil {
		v, err := validation.NewConditionValidator()
		if err != nil {
			return nil, err
		}
		validator = v
	}
	engines := deps.Engines
	if engines == nil {
		r, err := expressions.NewRegistry()
		if err != nil {
			return nil, err
		}
		engines = r
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		store:     deps.Store,
		decider:   deps.Decider,
		validator: validator,
		engines:   engines,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"credlogic",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("credlogic compiles and evaluates the conditions that route accreditation workflows. "+
			"Use cond.compile to turn a visual rule list or expert expression into the canonical tree, cond.validate to check a condition before saving, "+
			"cond.evaluate to test a tree against a context, cond.render to preview it as text, CEL or Expr, cond.save to persist a node, "+
			"cond.decide to take a decision at a saved node, and cond.query to list nodes, evaluations and statistics."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s, nil
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
		{Tool: compileTool(), Handler: s.handleCompile},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: evaluateTool(), Handler: s.handleEvaluate},
		{Tool: renderTool(), Handler: s.handleRender},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: decideTool(), Handler: s.handleDecide},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

const (
	configDescription     = `Condition document: {"mode":"visual","rules":[{"id","field","operator","value","connector"}]} or {"mode":"expert","expression":"<JSON text>"}`
	expressionDescription = `Canonical expression tree, e.g. {"===":[{"var":"status"},"active"]}`
)

func compileTool() mcp.Tool {
	return mcp.NewTool("cond.compile",
		mcp.WithDescription("Compile a condition document into its canonical expression tree"),
		mcp.WithObject("config", mcp.Required(), mcp.Description(configDescription)),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("cond.validate",
		mcp.WithDescription("Validate a condition document and report errors and warnings by JSON pointer"),
		mcp.WithObject("config", mcp.Required(), mcp.Description(configDescription)),
	)
}

func evaluateTool() mcp.Tool {
	return mcp.NewTool("cond.evaluate",
		mcp.WithDescription("Evaluate a condition against an execution context without recording it"),
		mcp.WithObject("expression", mcp.Description(expressionDescription)),
		mcp.WithObject("config", mcp.Description(configDescription+" (used when expression is absent)")),
		mcp.WithObject("context", mcp.Description("Execution context the expression's fields resolve against")),
		mcp.WithBoolean("trace", mcp.Description("Include the comparisons visited, in order")),
	)
}

func renderTool() mcp.Tool {
	return mcp.NewTool("cond.render",
		mcp.WithDescription("Render a condition as readable text, CEL or Expr source, or draw it as a Mermaid, ASCII or SVG diagram"),
		mcp.WithObject("expression", mcp.Description(expressionDescription)),
		mcp.WithObject("config", mcp.Description(configDescription+" (used when expression is absent)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum(
				string(expressions.FormatText), string(expressions.FormatCEL), string(expressions.FormatExpr),
				string(diagram.FormatMermaid), string(diagram.FormatASCII), string(diagram.FormatSVG),
			),
			mcp.Description("Output format"),
		),
		mcp.WithObject("context", mcp.Description("When set, the rendered CEL or Expr source is also run against it; diagrams mark each node with its result")),
		mcp.WithString("title", mcp.Description("Diagram title")),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("cond.save",
		mcp.WithDescription("Validate, compile and persist a condition node"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow the node belongs to")),
		mcp.WithObject("config", mcp.Required(), mcp.Description(configDescription)),
		mcp.WithString("node_id", mcp.Description("Node ID (generated when absent; an existing ID is replaced)")),
		mcp.WithString("name", mcp.Description("Display name")),
		mcp.WithObject("context_map", mcp.Description("Context field name to jq expression over the run data")),
		mcp.WithObject("context_schema", mcp.Description("JSON Schema the assembled context must satisfy")),
		mcp.WithString("error_policy",
			mcp.Enum(string(schema.PolicyNegative), string(schema.PolicyFail)),
			mcp.Description("What happens when evaluation fails (default: negative)"),
		),
	)
}

func decideTool() mcp.Tool {
	return mcp.NewTool("cond.decide",
		mcp.WithDescription("Take a decision at a saved condition node and record it"),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("ID of the condition node")),
		mcp.WithString("run_id", mcp.Description("Workflow run the decision belongs to")),
		mcp.WithObject("data", mcp.Description("Run data; mapped through the node's context_map when it has one")),
		mcp.WithBoolean("dry_run", mcp.Description("Evaluate without recording")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("cond.query",
		mcp.WithDescription("Query condition nodes, evaluations, or node statistics"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("node", "nodes", "evaluations", "stats"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (node_id, workflow_id, mode, run_id, branch, only_errors, since, limit, offset)")),
	)
}
