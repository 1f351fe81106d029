package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/celesledger/internal/assistant"
	"github.com/kalambet/celesledger/internal/ledger"
)

// RecordExtractor turns a free-text message into a consumption record.
type RecordExtractor interface {
	Extract(ctx context.Context, message string, now time.Time) (ledger.Record, error)
}

// QuerySynthesizer turns a natural-language question into a SELECT statement.
type QuerySynthesizer interface {
	Synthesize(ctx context.Context, question, schemaDescription string, now time.Time) (string, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Extractor     RecordExtractor
	Synthesizer   QuerySynthesizer
	Ledger        assistant.LedgerStore
	Memory        assistant.MemoryStore
	Clock         assistant.Clock
	DefaultUserID string
}

// NewMCPServer exposes the ledger and memory stores as MCP tools so other
// agents can record and query consumption alongside the chat surface.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"celesledger",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("celesledger — personal consumption ledger with semantic memory."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("record_entry",
			mcp.WithDescription("Extract a consumption record from a natural-language message and store it in the ledger."),
			mcp.WithString("message", mcp.Description("The message describing the expense"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User whose memory namespace receives the record")),
		),
		mcpRecordEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("query_ledger",
			mcp.WithDescription("Answer a question over stored consumption records by running a read-only query."),
			mcp.WithString("question", mcp.Description("Natural-language question about past spending"), mcp.Required()),
		),
		mcpQueryLedger(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_memories",
			mcp.WithDescription("Semantically search stored consumption memories."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User whose memories to search")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpRecallMemories(deps),
	)

	return s
}

func mcpRecordEntry(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		userID := req.GetString("user_id", deps.DefaultUserID)

		rec, err := deps.Extractor.Extract(ctx, message, deps.Clock.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}
		rec.OriginalMessage = &message

		if err := deps.Ledger.InsertRecord(ctx, rec); err != nil {
			return mcpError(fmt.Sprintf("ledger store: %v", err)), nil
		}

		payload, err := assistant.MarshalRecord(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding record: %v", err)), nil
		}
		if err := deps.Memory.Put(ctx, userID, uuid.NewString(), payload); err != nil {
			return mcpError(fmt.Sprintf("memory store (ledger row already written): %v", err)), nil
		}

		return mcpText("Stored: " + rec.Summary()), nil
	}
}

func mcpQueryLedger(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		query, err := deps.Synthesizer.Synthesize(ctx, question, ledger.SchemaDescription, deps.Clock.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("query synthesis failed: %v", err)), nil
		}
		rs, err := deps.Ledger.Query(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		if rs.Empty() {
			return mcpText("(no result)"), nil
		}
		return mcpText(rs.String()), nil
	}
}

func mcpRecallMemories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		userID := req.GetString("user_id", deps.DefaultUserID)
		limit := req.GetInt("limit", 3)
		if limit <= 0 {
			limit = 3
		}
		if limit > 50 {
			limit = 50
		}

		entries, err := deps.Memory.Search(ctx, userID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}

		type memoryResult struct {
			Key       string  `json:"key"`
			Payload   string  `json:"payload"`
			Score     float32 `json:"score"`
			CreatedAt string  `json:"created_at"`
		}
		results := make([]memoryResult, len(entries))
		for i, e := range entries {
			results[i] = memoryResult{
				Key:       e.Key,
				Payload:   e.Payload,
				Score:     e.Score,
				CreatedAt: e.CreatedAt.Format(time.RFC3339),
			}
		}
		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
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
