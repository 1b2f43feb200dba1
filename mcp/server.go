// Package mcp exposes the agent pipeline as MCP tools so AI clients can
// drive reviews and payouts over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"taskagent-backend/core/bounty"
	"taskagent-backend/services"
)

// MCPServer wraps the mcp-go server with the pipeline service.
type MCPServer struct {
	mcpServer *server.MCPServer
	svc       *services.ReviewService
}

// NewMCPServer creates the MCP server and registers all tools.
func NewMCPServer(svc *services.ReviewService) *MCPServer {
	mcpServer := server.NewMCPServer(
		"Task Agent MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{mcpServer: mcpServer, svc: svc}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying server for transport setup.
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MCPServer) registerTools() {
	s.registerReviewSubmissionTool()
	s.registerDispatchPaymentTool()
	s.registerGetTaskTool()
	s.registerListReviewsTool()
	s.registerAgentStatusTool()
}

func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Read one task record from the on-chain ledger"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("On-chain task id")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := toUint64(request.GetArguments()["task_id"])
		if taskID == 0 {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		task, err := s.svc.Task(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read task: %v", err)), nil
		}
		return jsonResult(task)
	})
}

func (s *MCPServer) registerReviewSubmissionTool() {
	tool := mcp.NewTool("review_submission",
		mcp.WithDescription("Run the full submission pipeline: fetch the artifact, review it, settle on acceptance and optionally pay out"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("On-chain task id")),
		mcp.WithString("task_description", mcp.Required(), mcp.Description("The task requirements the submission is judged against")),
		mcp.WithString("cid", mcp.Description("Content-addressed reference of the submitted artifact")),
		mcp.WithString("file_name", mcp.Description("Submitted file name, used to pick the text extractor")),
		mcp.WithString("content", mcp.Description("Inline submission text, skips the artifact fetch")),
		mcp.WithString("pay_to_address", mcp.Description("Optional payout recipient, only paid on an accepted verdict")),
		mcp.WithString("payout_amount", mcp.Description("Payout amount in decimal ETH")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		taskID := toUint64(args["task_id"])
		if taskID == 0 {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		resp, err := s.svc.ReviewSubmission(ctx, services.ReviewRequest{
			TaskID:          taskID,
			TaskDescription: toString(args["task_description"]),
			Submission: bounty.Submission{
				TaskID:     taskID,
				CID:        toString(args["cid"]),
				FileName:   toString(args["file_name"]),
				RawContent: toString(args["content"]),
			},
			PayoutRecipient: toString(args["pay_to_address"]),
			PayoutAmount:    toString(args["payout_amount"]),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Review failed: %v", err)), nil
		}
		return jsonResult(resp)
	})
}

func (s *MCPServer) registerDispatchPaymentTool() {
	tool := mcp.NewTool("dispatch_payment",
		mcp.WithDescription("Send a one-off payment from the agent wallet, independent of any review"),
		mcp.WithNumber("task_id", mcp.Description("Task id the payment relates to")),
		mcp.WithString("recipient", mcp.Required(), mcp.Description("Recipient address")),
		mcp.WithString("amount", mcp.Required(), mcp.Description("Amount in decimal ETH")),
		mcp.WithString("idempotency_key", mcp.Description("Dedupe key; defaults to task and recipient")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recipient, err := request.RequireString("recipient")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		amount, err := request.RequireString("amount")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()

		record, err := s.svc.DispatchPayment(ctx, toUint64(args["task_id"]), recipient, amount, toString(args["idempotency_key"]))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Payment failed: %v", err)), nil
		}
		return jsonResult(record)
	})
}

func (s *MCPServer) registerListReviewsTool() {
	tool := mcp.NewTool("list_reviews",
		mcp.WithDescription("List stored review records, newest first"),
		mcp.WithNumber("task_id", mcp.Description("Filter by task id")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, err := s.svc.Reviews(ctx, toUint64(request.GetArguments()["task_id"]))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list reviews: %v", err)), nil
		}
		return jsonResult(map[string]any{
			"reviews":     records,
			"total_count": len(records),
		})
	})
}

func (s *MCPServer) registerAgentStatusTool() {
	tool := mcp.NewTool("agent_status",
		mcp.WithDescription("Report whether the reviewing agent is ready and whether payments are enabled"),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(s.svc.AgentStatus(ctx))
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toUint64(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case string:
		var out uint64
		fmt.Sscanf(t, "%d", &out)
		return out
	default:
		return 0
	}
}
