package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/analytics"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/review"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// TextInput is shared by the scanning tools.
type TextInput struct {
	Text         string `json:"text"`
	ContextLabel string `json:"context_label,omitempty"`
}

type ScanTextOutput struct {
	Result models.ScanResult `json:"result"`
}

type EvaluateSafetyOutput struct {
	Verdict    policy.SafetyVerdict `json:"verdict"`
	AutoAction models.AutoAction    `json:"auto_action"`
}

// ClientActionInput names one rate limit entry.
type ClientActionInput struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id"`
}

type RateLimitStatusOutput struct {
	Status ratelimit.EntryStatus `json:"status"`
}

type UnblockClientOutput struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type ListReviewQueueInput struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListReviewQueueOutput struct {
	Reports []models.QueuedReport `json:"reports"`
}

type RecentDecisionsInput struct {
	Action  string `json:"action,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type RecentDecisionsOutput struct {
	Decisions []analytics.DecisionEvent `json:"decisions"`
}

// decisionReader is the part of the ClickHouse analytics the tools need.
type decisionReader interface {
	RecentDecisions(ctx context.Context, action, outcome string, limit int) ([]analytics.DecisionEvent, error)
}

// ModerationTools exposes the gatekeeper to moderators through MCP.
type ModerationTools struct {
	policy    *policy.Policy
	limiter   *ratelimit.Limiter
	reviews   review.Queue
	decisions decisionReader
	logger    *zap.Logger
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// ScanText runs the threat scanner over arbitrary text.
func (t *ModerationTools) ScanText(ctx context.Context, req *mcp.CallToolRequest, input TextInput) (*mcp.CallToolResult, ScanTextOutput, error) {
	if input.Text == "" {
		return nil, ScanTextOutput{}, errors.New("text is required")
	}
	res, err := t.policy.SafeScan(input.Text, input.ContextLabel)
	if err != nil {
		return nil, ScanTextOutput{}, err
	}
	return nil, ScanTextOutput{Result: res}, nil
}

// EvaluateSafety answers whether text could be published as is.
func (t *ModerationTools) EvaluateSafety(ctx context.Context, req *mcp.CallToolRequest, input TextInput) (*mcp.CallToolResult, EvaluateSafetyOutput, error) {
	res, err := t.policy.SafeScan(input.Text, input.ContextLabel)
	if err != nil {
		return nil, EvaluateSafetyOutput{Verdict: policy.ScanFailureVerdict()}, nil
	}
	return nil, EvaluateSafetyOutput{
		Verdict:    policy.VerdictFor(res),
		AutoAction: policy.AutoActionFor(res.RiskLevel),
	}, nil
}

// RateLimitStatus reports one entry without counting an attempt.
func (t *ModerationTools) RateLimitStatus(ctx context.Context, req *mcp.CallToolRequest, input ClientActionInput) (*mcp.CallToolResult, RateLimitStatusOutput, error) {
	if input.ClientID == "" {
		return nil, RateLimitStatusOutput{}, errors.New("client_id is required")
	}
	st, err := t.limiter.Status(ctx, input.Action, input.ClientID)
	if err != nil {
		return nil, RateLimitStatusOutput{}, fmt.Errorf("rate limit status: %w", err)
	}
	return nil, RateLimitStatusOutput{Status: st}, nil
}

// UnblockClient clears the entry so the client starts fresh.
func (t *ModerationTools) UnblockClient(ctx context.Context, req *mcp.CallToolRequest, input ClientActionInput) (*mcp.CallToolResult, UnblockClientOutput, error) {
	if input.ClientID == "" {
		return nil, UnblockClientOutput{}, errors.New("client_id is required")
	}
	if err := t.limiter.Unblock(ctx, input.Action, input.ClientID); err != nil {
		return nil, UnblockClientOutput{}, fmt.Errorf("unblock: %w", err)
	}
	t.logger.Info("client unblocked via MCP",
		zap.String("action", input.Action),
		zap.String("client_id", input.ClientID))
	return nil, UnblockClientOutput{
		Action:   input.Action,
		ClientID: input.ClientID,
		Message:  fmt.Sprintf("cleared %s limits for %s", input.Action, input.ClientID),
	}, nil
}

// ListReviewQueue returns queued reports, newest first.
func (t *ModerationTools) ListReviewQueue(ctx context.Context, req *mcp.CallToolRequest, input ListReviewQueueInput) (*mcp.CallToolResult, ListReviewQueueOutput, error) {
	status := models.ReviewStatus(input.Status)
	if status != "" && !review.ValidStatus(status) {
		return nil, ListReviewQueueOutput{}, fmt.Errorf("unknown status %q", input.Status)
	}
	reports, err := t.reviews.List(ctx, status, clampLimit(input.Limit))
	if err != nil {
		return nil, ListReviewQueueOutput{}, fmt.Errorf("list reports: %w", err)
	}
	if reports == nil {
		reports = []models.QueuedReport{}
	}
	return nil, ListReviewQueueOutput{Reports: reports}, nil
}

// RecentDecisions reads the latest gate decisions from analytics.
func (t *ModerationTools) RecentDecisions(ctx context.Context, req *mcp.CallToolRequest, input RecentDecisionsInput) (*mcp.CallToolResult, RecentDecisionsOutput, error) {
	if t.decisions == nil {
		return nil, RecentDecisionsOutput{}, analytics.ErrUnavailable
	}
	events, err := t.decisions.RecentDecisions(ctx, input.Action, input.Outcome, clampLimit(input.Limit))
	if err != nil {
		return nil, RecentDecisionsOutput{}, fmt.Errorf("recent decisions: %w", err)
	}
	if events == nil {
		events = []analytics.DecisionEvent{}
	}
	return nil, RecentDecisionsOutput{Decisions: events}, nil
}

func textSchema(what string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": what,
			},
			"context_label": map[string]interface{}{
				"type":        "string",
				"description": "Where the text appears, e.g. " + scanner.LabelEventDescription + " or " + scanner.LabelUserComment + " (optional)",
			},
		},
		"required": []string{"text"},
	}
}

func clientActionSchema(actions []string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        actions,
				"description": "Protected action",
			},
			"client_id": map[string]interface{}{
				"type":        "string",
				"description": "Client id such as user_123 or ip_203.0.113.7",
			},
		},
		"required": []string{"action", "client_id"},
	}
}

// newMCPServer registers every moderation tool.
func newMCPServer(t *ModerationTools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "gatekeeper",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_text",
		Description: "Scan text for weapons, violence, illegal activity, hate speech and misinformation",
		InputSchema: textSchema("Text to scan"),
	}, t.ScanText)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "evaluate_safety",
		Description: "Decide whether text may be published and which automatic action applies",
		InputSchema: textSchema("Text to evaluate"),
	}, t.EvaluateSafety)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ratelimit_status",
		Description: "Show attempts, block state and reset time for one client and action",
		InputSchema: clientActionSchema(t.limiter.Actions()),
	}, t.RateLimitStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "unblock_client",
		Description: "Clear the rate limit entry of one client for one action",
		InputSchema: clientActionSchema(t.limiter.Actions()),
	}, t.UnblockClient)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_review_queue",
		Description: "List threat reports waiting for or past moderation",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"pending", "approved", "removed"},
					"description": "Filter by review status (optional)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"maximum":     maxListLimit,
					"description": "Maximum reports to return (optional, defaults to 20)",
				},
			},
		},
	}, t.ListReviewQueue)

	if t.decisions != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "recent_decisions",
			Description: "Show the latest gate decisions recorded in analytics",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"action": map[string]interface{}{
						"type":        "string",
						"description": "Filter by protected action (optional)",
					},
					"outcome": map[string]interface{}{
						"type":        "string",
						"description": "Filter by outcome such as rejected or rate_limited (optional)",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"maximum":     maxListLimit,
						"description": "Maximum decisions to return (optional, defaults to 20)",
					},
				},
			},
		}, t.RecentDecisions)
	}

	return server
}
