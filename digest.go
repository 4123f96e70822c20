package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const digestLookbackDays = 7

const digestSystemPrompt = `You summarize AI ticket-evaluation quality for a non-technical stakeholder.
You receive a daily breakdown table with good/bad/ugly counts per ticket type.
Write a short plain-text digest (at most 5 sentences): overall quality level,
notable day-over-day changes, and any ticket type that needs attention.
No markdown, no preamble.`

// BuildQualityDigest asks the LLM for a short narrative over the last week's
// daily breakdown. Returns "" when there is no data to summarize.
func BuildQualityDigest(ctx context.Context, cfg Config, db *sql.DB) (string, error) {
	to := time.Now().In(cfg.Location).Format("2006-01-02")
	from := time.Now().In(cfg.Location).AddDate(0, 0, -digestLookbackDays).Format("2006-01-02")
	rows, err := GetDailyBreakdown(db, from, to)
	if err != nil {
		return "", fmt.Errorf("loading breakdown: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("date\tticket_type\ttotal\tgood\tbad\tugly\tavg_score\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%s\t%s\t%d\t%d\t%d\t%d\t%.2f\n",
			r.Date, r.TicketType, r.Total, r.Good, r.Bad, r.Ugly, r.AvgScore)
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.LLMModel),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: digestSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("digest response size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}
