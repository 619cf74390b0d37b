// Package llm is the external review-model boundary: it turns a
// retrieved ReviewContext plus the PR diff into a structured
// {summary, comments[], verdict} bundle. Provider selection is
// bring-your-own-key: whichever API key is present in the environment
// wins, and a no-op model keeps --dry-run smoke checks and tests
// running without a live key.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
)

// Verdict is the review-level recommendation the model returns.
type Verdict string

const (
	VerdictApprove        Verdict = "approve"
	VerdictRequestChanges  Verdict = "request_changes"
	VerdictComment         Verdict = "comment"
)

// Comment is one inline comment as the model emitted it, before
// validation against the diff or precision filtering.
type Comment struct {
	Path       string   `json:"path"`
	Line       int      `json:"line"`
	Body       string   `json:"body"`
	Severity   string   `json:"severity"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Response is the structured bundle a ReviewModel returns.
type Response struct {
	Summary  string    `json:"summary"`
	Comments []Comment `json:"comments"`
	Verdict  Verdict   `json:"verdict"`
}

// ContextSymbol is the minimal per-symbol view the prompt needs; callers
// build this from symbolgraph.Symbol so this package stays independent of
// the graph's internal representation.
type ContextSymbol struct {
	Path      string
	Name      string
	Signature string
}

// PromptContext is everything BuildPrompt needs beyond the diff text
// itself, assembled by the retriever and review runner.
type PromptContext struct {
	ChangedSymbols    []ContextSymbol
	Callers           []ContextSymbol
	Callees           []ContextSymbol
	SemanticNeighbors []ContextSymbol
	BlastRadius       BlastRadiusView
	PriorExamples     []string
	RejectedExamples  []string
}

// BlastRadiusView is the prompt-facing projection of symbolgraph.BlastRadius.
type BlastRadiusView struct {
	DirectCallerCount     int
	TransitiveCallerCount int
	AffectedFileCount     int
	RiskScore             int
}

// ReviewModel is the boundary the review runner depends on (C12).
type ReviewModel interface {
	Provider() Provider
	GenerateReview(ctx context.Context, pc PromptContext, diffText string) (Response, error)
}

// Provider names the active review-model backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderNone      Provider = "none"
)

// NewReviewModel selects a backend based on configured API keys: OpenAI
// first, then Anthropic, then a logged no-op.
func NewReviewModel(openAIModel string) ReviewModel {
	logger := slog.Default().With("component", "llm")

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if openAIModel == "" {
			openAIModel = openai.GPT4oMini
		}
		logger.Info("openai review model initialized", "model", openAIModel)
		return &openAIReviewModel{client: openai.NewClient(key), model: openAIModel, logger: logger}
	}

	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		logger.Info("anthropic review model initialized")
		client := anthropic.NewClient()
		return &anthropicReviewModel{client: &client, logger: logger}
	}

	logger.Warn("no review-model api key configured, falling back to no-op model")
	return &noopReviewModel{logger: logger}
}

const systemPrompt = `You are an AI code reviewer. You are given the symbols changed in a pull request, their callers and callees in the surrounding codebase, a blast-radius summary, optionally prior accepted/rejected review comments for this repository, and the PR's diff. Respond with a single JSON object: {"summary": string, "verdict": "approve"|"request_changes"|"comment", "comments": [{"path": string, "line": number, "body": string, "severity": "info"|"warning"|"error", "confidence": number between 0 and 1}]}. "line" must be the new-file line number of an added ("+") line shown in the diff. Only comment where you have concrete, actionable feedback.`

// BuildPrompt renders pc and diffText into the user-turn prompt shared by
// every provider, so the JSON contract stays identical regardless of
// which model answers it.
func BuildPrompt(pc PromptContext, diffText string) string {
	var b strings.Builder
	b.WriteString("## Changed symbols\n")
	for _, s := range pc.ChangedSymbols {
		fmt.Fprintf(&b, "- %s (%s): %s\n", s.Name, s.Path, s.Signature)
	}
	if len(pc.Callers) > 0 {
		b.WriteString("\n## Callers\n")
		for _, s := range pc.Callers {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.Path)
		}
	}
	if len(pc.Callees) > 0 {
		b.WriteString("\n## Callees\n")
		for _, s := range pc.Callees {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.Path)
		}
	}
	if len(pc.SemanticNeighbors) > 0 {
		b.WriteString("\n## Semantically related symbols\n")
		for _, s := range pc.SemanticNeighbors {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.Path)
		}
	}
	fmt.Fprintf(&b, "\n## Blast radius\ndirect callers: %d, transitive callers: %d, affected files: %d, risk score: %d\n",
		pc.BlastRadius.DirectCallerCount, pc.BlastRadius.TransitiveCallerCount, pc.BlastRadius.AffectedFileCount, pc.BlastRadius.RiskScore)

	if len(pc.PriorExamples) > 0 {
		b.WriteString("\n## Prior accepted comments in this repo\n")
		for _, e := range pc.PriorExamples {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if len(pc.RejectedExamples) > 0 {
		b.WriteString("\n## Prior rejected comments in this repo (avoid this style/substance)\n")
		for _, e := range pc.RejectedExamples {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	b.WriteString("\n## Diff\n")
	b.WriteString(diffText)
	return b.String()
}

func parseResponse(raw string) (Response, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Response{}, fmt.Errorf("llm: parse model response: %w", err)
	}
	if resp.Verdict == "" {
		resp.Verdict = VerdictComment
	}
	return resp, nil
}

type openAIReviewModel struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func (m *openAIReviewModel) Provider() Provider { return ProviderOpenAI }

func (m *openAIReviewModel) GenerateReview(ctx context.Context, pc PromptContext, diffText string) (Response, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          m.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(pc, diffText)},
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: openai generate review: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: openai returned no choices")
	}
	return parseResponse(resp.Choices[0].Message.Content)
}

type anthropicReviewModel struct {
	client *anthropic.Client
	logger *slog.Logger
}

func (m *anthropicReviewModel) Provider() Provider { return ProviderAnthropic }

func (m *anthropicReviewModel) GenerateReview(ctx context.Context, pc PromptContext, diffText string) (Response, error) {
	msg, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5SonnetLatest,
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(pc, diffText))),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: anthropic generate review: %w", err)
	}
	if len(msg.Content) == 0 {
		return Response{}, fmt.Errorf("llm: anthropic returned no content blocks")
	}
	return parseResponse(msg.Content[0].Text)
}

// noopReviewModel is returned when no provider key is configured. It
// always produces a zero-comment "comment" verdict, matching the
// teacher's disabled-Phase-2 client logged at Warn.
type noopReviewModel struct {
	logger *slog.Logger
}

func (m *noopReviewModel) Provider() Provider { return ProviderNone }

func (m *noopReviewModel) GenerateReview(ctx context.Context, pc PromptContext, diffText string) (Response, error) {
	m.logger.Warn("review model disabled (no api key), returning empty review")
	return Response{Summary: "No review model configured.", Verdict: VerdictComment}, nil
}
