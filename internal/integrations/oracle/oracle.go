// Package oracle is the proposal-analysis oracle backed by the Anthropic
// API: given a proposal's text it predicts whether the proposal will pass
// and with what confidence. Callers treat failures as a neutral verdict;
// nothing here is fatal.
package oracle

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"voteagent/internal/domain"
)

const defaultModel = "claude-sonnet-4-5-20250929"

const maxProposalChars = 12000

const systemPrompt = `You analyze decentralized-governance proposals.
Given a proposal's title and description, predict whether the community vote will pass.

Respond with JSON only (no markdown):
{"confidence_score": 0-100, "predicted_outcome": "pass" or "fail", "reasoning": "one or two sentences"}`

type Client struct {
	client anthropic.Client
	model  string
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Analyze asks the model for a pass/fail prediction on the proposal text.
func (c *Client) Analyze(ctx context.Context, proposalID, content string) (domain.ProposalAnalysis, error) {
	content = strings.TrimSpace(content)
	if len(content) > maxProposalChars {
		content = content[:maxProposalChars] + "\n...(truncated)"
	}

	log.Printf("oracle analyze proposal=%s model=%s chars=%d", proposalID, c.model, len(content))
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(content)),
		},
	})
	if err != nil {
		return domain.ProposalAnalysis{}, fmt.Errorf("anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			analysis, err := parseAnalysisResponse(block.Text)
			if err != nil {
				return domain.ProposalAnalysis{}, err
			}
			log.Printf("oracle verdict proposal=%s outcome=%s confidence=%d tokens_in=%d tokens_out=%d",
				proposalID, analysis.PredictedOutcome, analysis.ConfidenceScore,
				message.Usage.InputTokens, message.Usage.OutputTokens)
			return analysis, nil
		}
	}
	return domain.ProposalAnalysis{}, fmt.Errorf("no text content in Anthropic response")
}

// parseAnalysisResponse tolerates markdown fences and missing fields; an
// unrecognized outcome degrades to "unknown" and confidence is clamped to
// 0-100.
func parseAnalysisResponse(responseText string) (domain.ProposalAnalysis, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	if !gjson.Valid(responseText) {
		return domain.ProposalAnalysis{}, fmt.Errorf("parsing oracle response: invalid JSON (response: %s)", responseText)
	}

	parsed := gjson.Parse(responseText)
	confidence := int(parsed.Get("confidence_score").Int())
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	outcome := strings.ToLower(strings.TrimSpace(parsed.Get("predicted_outcome").String()))
	switch outcome {
	case domain.OutcomePass, domain.OutcomeFail:
	default:
		outcome = domain.OutcomeUnknown
	}

	return domain.ProposalAnalysis{
		ConfidenceScore:  confidence,
		PredictedOutcome: outcome,
		Reasoning:        strings.TrimSpace(parsed.Get("reasoning").String()),
	}, nil
}
