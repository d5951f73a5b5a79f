package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o-mini"

// maxDiffChars bounds how much of the diff is sent for review.
const maxDiffChars = 8000

const systemPrompt = `You are the guardian reviewing a proposed self-modification to a running
code organism. Judge whether the change is safe to apply autonomously.
Respond with a single JSON object and nothing else:
{"approved": bool, "risk": "low"|"medium"|"high", "confidence": number in [0,1],
"reasoning": string, "issues": [string]}`

// Logger interface for the model reviewer.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ModelReviewer asks a chat model to judge proposals.
type ModelReviewer struct {
	client *openai.Client
	model  string
	logger Logger
}

// ModelOption configures a ModelReviewer.
type ModelOption func(*ModelReviewer)

// WithModelLogger sets the reviewer's logger.
func WithModelLogger(logger Logger) ModelOption {
	return func(m *ModelReviewer) { m.logger = logger }
}

// NewModelReviewer creates a reviewer backed by the given client. An empty
// model name selects DefaultModel.
func NewModelReviewer(client *openai.Client, model string, opts ...ModelOption) *ModelReviewer {
	if model == "" {
		model = DefaultModel
	}
	m := &ModelReviewer{client: client, model: model}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Review sends the proposal to the model and parses its verdict. A transport
// failure or an unparseable reply is an error: the pipeline treats it as a
// failed phase rather than inventing a verdict.
func (m *ModelReviewer) Review(ctx context.Context, p *proposal.Proposal, sandbox *proposal.SandboxResult) (*proposal.ReviewVerdict, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildReviewPrompt(p, sandbox)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("model review: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model review: empty response")
	}

	verdict, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("model review: %w", err)
	}
	if m.logger != nil {
		m.logger.Debug("model_review_verdict", "proposal_id", p.ID,
			"approved", verdict.Approved, "risk", string(verdict.Risk), "confidence", verdict.Confidence)
	}
	return verdict, nil
}

// buildReviewPrompt assembles the user message. The diff is truncated so a
// runaway proposal cannot blow the context window.
func buildReviewPrompt(p *proposal.Proposal, sandbox *proposal.SandboxResult) string {
	diffText := p.Diff
	if len(diffText) > maxDiffChars {
		diffText = diffText[:maxDiffChars] + "\n... (truncated)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", p.Goal)
	fmt.Fprintf(&b, "Target artifacts: %s\n", strings.Join(p.TargetArtifacts, ", "))
	if sandbox != nil {
		fmt.Fprintf(&b, "Sandbox: %s\n", sandbox.Summary())
		for _, e := range sandbox.FirstErrors(3) {
			fmt.Fprintf(&b, "  sandbox error: %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\nDiff:\n%s\n", diffText)
	return b.String()
}

// parseVerdict decodes the model's JSON reply, tolerating markdown fences.
func parseVerdict(content string) (*proposal.ReviewVerdict, error) {
	raw := stripFences(content)

	var payload struct {
		Approved   bool     `json:"approved"`
		Risk       string   `json:"risk"`
		Confidence float64  `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
		Issues     []string `json:"issues"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unparseable verdict: %w", err)
	}

	risk := proposal.RiskLevel(strings.ToLower(payload.Risk))
	switch risk {
	case proposal.RiskLow, proposal.RiskMedium, proposal.RiskHigh:
	default:
		// Unknown rating reads as medium, never as low.
		risk = proposal.RiskMedium
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &proposal.ReviewVerdict{
		Approved:   payload.Approved,
		Risk:       risk,
		Confidence: confidence,
		Reasoning:  payload.Reasoning,
		Issues:     payload.Issues,
	}, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
