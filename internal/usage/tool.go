package usage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/daedalus/internal/tools"
)

type summaryArgs struct {
	Period  string `json:"period" jsonschema:"Time period to summarize: today, week, month or all."`
	GroupBy string `json:"group_by,omitempty" jsonschema:"Optional breakdown: model or trigger."`
}

// Tool returns the usage_summary tool, which reports token usage from
// the ledger.
func (s *Store) Tool() (*tools.Tool, error) {
	params, err := jsonschema.For[summaryArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("usage_summary schema: %w", err)
	}
	params.Properties["period"].Enum = []any{"today", "week", "month", "all"}
	params.Properties["group_by"].Enum = []any{"model", "trigger"}

	return &tools.Tool{
		Name:        "usage_summary",
		Description: "Report your own token usage. Returns totals for a period with an optional breakdown by model or trigger.",
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			period, _ := args["period"].(string)
			groupBy, _ := args["group_by"].(string)
			return s.report(ctx, period, groupBy)
		},
	}, nil
}

func (s *Store) report(ctx context.Context, period, groupBy string) (string, error) {
	since := periodStart(period, s.now())
	sum, err := s.Summary(ctx, since)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage (%s):\n", period)
	fmt.Fprintf(&sb, "  Turns: %d\n", sum.Turns)
	fmt.Fprintf(&sb, "  Prompt tokens: %s\n", formatTokenCount(sum.PromptTokens))
	fmt.Fprintf(&sb, "  Completion tokens: %s\n", formatTokenCount(sum.CompletionTokens))

	var grouped map[string]*Summary
	switch groupBy {
	case "":
		return sb.String(), nil
	case "model":
		grouped, err = s.SummaryByModel(ctx, since)
	case "trigger":
		grouped, err = s.SummaryByTrigger(ctx, since)
	default:
		return "", fmt.Errorf("unknown group_by %q", groupBy)
	}
	if err != nil {
		return "", err
	}

	if len(grouped) > 0 {
		fmt.Fprintf(&sb, "\nBy %s:\n", groupBy)
		for _, key := range slices.Sorted(maps.Keys(grouped)) {
			g := grouped[key]
			fmt.Fprintf(&sb, "  %s: %d turns, %s in / %s out\n",
				key, g.Turns, formatTokenCount(g.PromptTokens), formatTokenCount(g.CompletionTokens))
		}
	}
	return sb.String(), nil
}

// periodStart converts a period name to the start of its range.
// Unknown names cover the whole ledger.
func periodStart(period string, now time.Time) time.Time {
	switch period {
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "week":
		return now.AddDate(0, 0, -7)
	case "month":
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}

// formatTokenCount formats a token count compactly, e.g. "1.23M",
// "456.0K" or "789".
func formatTokenCount(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000.0)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000.0)
	}
	return fmt.Sprintf("%d", n)
}
