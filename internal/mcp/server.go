// Package mcp exposes the advisory computations as Model Context Protocol
// tools for assistant clients.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"finadvisor/backend/internal/auth"
	"finadvisor/backend/internal/services"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Server struct {
	mcpServer *server.MCPServer
	advisory  *services.AdvisoryService
}

func NewServer(advisory *services.AdvisoryService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Financial Advisor",
			version,
			server.WithToolCapabilities(true),
		),
		advisory: advisory,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"analyze_profile",
			mcp.WithDescription("Compute the caller's financial snapshot: savings rate, emergency fund, insurance, debt, tax and retirement"),
		),
		s.handleAnalyzeProfile,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"compare_tax_regimes",
			mcp.WithDescription("Compare Indian income tax under the old and new regimes"),
			mcp.WithNumber("annual_income", mcp.Required(), mcp.Description("Gross annual income in rupees")),
			mcp.WithNumber("deductions", mcp.Description("Old-regime deductions (80C, 80D, HRA...) in rupees")),
		),
		s.handleCompareTaxRegimes,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"profile_gaps",
			mcp.WithDescription("List the profile details the advisor still needs from the caller"),
		),
		s.handleProfileGaps,
	)
}

func callerID(ctx context.Context) (string, *mcp.CallToolResult) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return "", mcp.NewToolResultError("Not authenticated")
	}
	return id.UserID, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleAnalyzeProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, denied := callerID(ctx)
	if denied != nil {
		return denied, nil
	}

	res, err := s.advisory.AnalyzeProfile(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze profile: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleCompareTaxRegimes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	income, ok := args["annual_income"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: annual_income"), nil
	}
	var deductions *float64
	if d, ok := args["deductions"].(float64); ok {
		deductions = &d
	}

	cmp, err := s.advisory.CompareTaxRegimes(income, deductions)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compare regimes: %v", err)), nil
	}
	return jsonResult(cmp)
}

func (s *Server) handleProfileGaps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, denied := callerID(ctx)
	if denied != nil {
		return denied, nil
	}

	gaps, err := s.advisory.ProfileGaps(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate profile: %v", err)), nil
	}
	return jsonResult(gaps)
}

// Handler serves the SSE transport under /mcp. The caller's identity,
// already on the request context, is carried into tool calls.
func Handler(mcpServer *server.MCPServer) http.Handler {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id, ok := auth.IdentityFrom(r.Context()); ok {
				return auth.WithIdentity(ctx, id)
			}
			return ctx
		}),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.Handle("/mcp/sse", sseServer)
	mux.Handle("/mcp/message", sseServer)
	return mux
}
