package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rotewell/rote/internal/deck"
	"github.com/rotewell/rote/internal/scheduler"
	"github.com/rotewell/rote/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Deck  *deck.Manager
	Store *storage.Store
}

// NewMCPServer creates an MCP server with all rote tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"rote",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rote — local spaced-repetition deck for medical board review."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("due_cards",
			mcp.WithDescription("List flashcards currently due for review, most overdue first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of cards (default 10)")),
			mcp.WithString("system", mcp.Description("Restrict to one organ system")),
		),
		mcpDueCards(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_review",
			mcp.WithDescription("Record a review outcome for a card and reschedule it."),
			mcp.WithString("card_id", mcp.Description("ID of the reviewed card"), mcp.Required()),
			mcp.WithString("outcome", mcp.Description("One of: again, hard, good, easy"), mcp.Required()),
		),
		mcpSubmitReview(deps),
	)

	s.AddTool(
		mcp.NewTool("topic_performance",
			mcp.WithDescription("Report retention per topic, weakest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of topics (default all)")),
		),
		mcpTopicPerformance(deps),
	)

	s.AddTool(
		mcp.NewTool("deck_stats",
			mcp.WithDescription("Aggregate counts for the deck: total cards, due cards, topics."),
		),
		mcpDeckStats(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"deck://summary",
			"Deck Summary",
			mcp.WithResourceDescription("Deck statistics and recent study sessions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummary(deps),
	)

	return s
}

func mcpDueCards(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		system := req.GetString("system", "")

		cards := deps.Deck.DueCards(time.Now())

		type dueCard struct {
			ID       string `json:"id"`
			Front    string `json:"front"`
			System   string `json:"system"`
			Topic    string `json:"topic"`
			Phase    string `json:"phase"`
			DueSince string `json:"due_since"`
			Reps     int    `json:"reps"`
		}

		var results []dueCard
		for _, c := range cards {
			if system != "" && c.Metadata.System != system {
				continue
			}
			results = append(results, dueCard{
				ID:       c.ID,
				Front:    clipText(c.Content.Front, 200),
				System:   c.Metadata.System,
				Topic:    c.Metadata.Topic,
				Phase:    string(c.SR.Phase),
				DueSince: c.SR.NextReview.Format(time.RFC3339),
				Reps:     c.SR.Reps,
			})
			if len(results) == limit {
				break
			}
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal cards: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitReview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cardID, err := req.RequireString("card_id")
		if err != nil {
			return mcpError("card_id is required"), nil
		}
		outcomeStr, err := req.RequireString("outcome")
		if err != nil {
			return mcpError("outcome is required"), nil
		}

		outcome, ok := scheduler.ParseOutcome(outcomeStr)
		if !ok {
			return mcpError(fmt.Sprintf("unknown outcome %q; use again, hard, good, or easy", outcomeStr)), nil
		}

		card, err := deps.Deck.SubmitReview(cardID, outcome, time.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record review: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Recorded %s for card %s; next review %s (interval %d days)",
			outcome, card.ID, card.SR.NextReview.Format("2006-01-02"), card.SR.Interval)), nil
	}
}

func mcpTopicPerformance(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		perf := deps.Deck.TopicPerformance()

		limit := req.GetInt("limit", 0)
		if limit > 0 && len(perf) > limit {
			perf = perf[:limit]
		}
		if len(perf) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(perf)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal performance: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeckStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(collectStats(deps.Deck, time.Now()))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSummary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Store.RecentSessionSummaries(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent sessions: %w", err)
		}
		if sessions == nil {
			sessions = []deck.SessionSummary{}
		}

		summary := struct {
			Stats    DeckStats               `json:"stats"`
			Sessions []deck.SessionSummary   `json:"recentSessions"`
			Weakest  []deck.TopicPerformance `json:"weakestTopics"`
		}{
			Stats:    collectStats(deps.Deck, time.Now()),
			Sessions: sessions,
		}
		perf := deps.Deck.TopicPerformance()
		if len(perf) > 5 {
			perf = perf[:5]
		}
		if perf == nil {
			perf = []deck.TopicPerformance{}
		}
		summary.Weakest = perf

		b, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal summary: %w", err)
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

func clipText(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
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
