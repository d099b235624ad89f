// Package clarifier implements the natural-language oracle behind envoy's
// conversations: deciding what to ask, folding answers and corrections into
// drafts, and producing the final structured task spec.
package clarifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/envoy/internal/anthropic"
	"github.com/MikeSquared-Agency/envoy/internal/conversation"
	"github.com/MikeSquared-Agency/envoy/internal/prefs"
)

type Clarifier struct {
	llm    *anthropic.Client
	logger *slog.Logger
}

func New(llm *anthropic.Client, logger *slog.Logger) *Clarifier {
	return &Clarifier{llm: llm, logger: logger}
}

// Analyze decides whether clarifying questions are needed for a draft.
func (c *Clarifier) Analyze(ctx context.Context, dc DraftContext) (*Analysis, error) {
	prompt := fmt.Sprintf(analyzeUserPrompt,
		dc.Text,
		formatFields(dc.Extracted),
		strings.Join(dc.KnownNames, ", "),
	)

	raw, err := c.llm.Complete(ctx, analyzeSystemPrompt, []anthropic.Message{
		{Role: "user", Content: prompt},
	}, 1024)
	if err != nil {
		return nil, fmt.Errorf("oracle analyze: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal(stripFences(raw), &analysis); err != nil {
		c.logger.Error("failed to parse analyze response", "error", err, "raw", raw)
		return nil, fmt.Errorf("%w: analyze: %v", ErrMalformedResponse, err)
	}

	c.logger.Info("analysis complete",
		"should_ask", analysis.ShouldAsk,
		"questions", len(analysis.Questions),
	)
	return &analysis, nil
}

// ApplyAnswer folds a free-text answer into the conversation's extracted
// fields and returns the updated field map.
func (c *Clarifier) ApplyAnswer(ctx context.Context, conv *conversation.Conversation, q conversation.Question, answer string) (map[string]string, error) {
	prompt := fmt.Sprintf(answerUserPrompt,
		conv.OriginalMessage,
		q.Text,
		q.Field,
		answer,
		formatFields(conv.Extracted),
	)

	raw, err := c.llm.Complete(ctx, answerSystemPrompt, []anthropic.Message{
		{Role: "user", Content: prompt},
	}, 1024)
	if err != nil {
		return nil, fmt.Errorf("oracle apply answer: %w", err)
	}

	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(stripFences(raw), &resp); err != nil {
		c.logger.Error("failed to parse answer response", "error", err, "raw", raw)
		return nil, fmt.Errorf("%w: apply answer: %v", ErrMalformedResponse, err)
	}
	return resp.Fields, nil
}

// GenerateSpec produces the structured draft and its preview text.
func (c *Clarifier) GenerateSpec(ctx context.Context, conv *conversation.Conversation, p *prefs.Preferences) (string, *conversation.TaskSpec, error) {
	prompt := fmt.Sprintf(generateUserPrompt,
		conv.OriginalMessage,
		formatFields(conv.Extracted),
		formatFields(p.Defaults),
	)

	raw, err := c.llm.Complete(ctx, generateSystemPrompt, []anthropic.Message{
		{Role: "user", Content: prompt},
	}, 2048)
	if err != nil {
		return "", nil, fmt.Errorf("oracle generate: %w", err)
	}

	var spec conversation.TaskSpec
	if err := json.Unmarshal(stripFences(raw), &spec); err != nil {
		c.logger.Error("failed to parse generated spec", "error", err, "raw", raw)
		return "", nil, fmt.Errorf("%w: generate: %v", ErrMalformedResponse, err)
	}
	if spec.Priority == "" {
		spec.Priority = p.Default("priority")
	}
	if spec.EstimatedEffort == "" {
		spec.EstimatedEffort = p.Default("estimated_effort")
	}

	c.logger.Info("spec generated", "conversation_id", conv.ID, "title", spec.Title)
	return RenderPreview(&spec), &spec, nil
}

// ApplyCorrection extracts a field patch from a free-text correction. The
// returned spec contains only the fields the correction addressed; callers
// merge it additively over the current draft.
func (c *Clarifier) ApplyCorrection(ctx context.Context, current *conversation.TaskSpec, correction string) (*conversation.TaskSpec, error) {
	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal current spec: %w", err)
	}

	prompt := fmt.Sprintf(correctionUserPrompt, string(currentJSON), correction)

	raw, err := c.llm.Complete(ctx, correctionSystemPrompt, []anthropic.Message{
		{Role: "user", Content: prompt},
	}, 1024)
	if err != nil {
		return nil, fmt.Errorf("oracle correction: %w", err)
	}

	var patch conversation.TaskSpec
	if err := json.Unmarshal(stripFences(raw), &patch); err != nil {
		c.logger.Error("failed to parse correction patch", "error", err, "raw", raw)
		return nil, fmt.Errorf("%w: correction: %v", ErrMalformedResponse, err)
	}
	return &patch, nil
}

// RenderPreview formats a spec as the preview text shown to the requester.
func RenderPreview(s *conversation.TaskSpec) string {
	var b strings.Builder
	b.WriteString("*" + s.Title + "*\n")
	if s.Assignee != "" {
		b.WriteString("Assignee: " + s.Assignee + "\n")
	}
	b.WriteString("Priority: " + s.Priority + "\n")
	if s.Deadline != "" {
		b.WriteString("Deadline: " + s.Deadline + "\n")
	}
	if s.EstimatedEffort != "" {
		b.WriteString("Effort: " + s.EstimatedEffort + "\n")
	}
	if s.Description != "" {
		b.WriteString(s.Description + "\n")
	}
	for _, ac := range s.AcceptanceCriteria {
		b.WriteString("- " + ac + "\n")
	}
	if len(s.Tags) > 0 {
		b.WriteString("Tags: " + strings.Join(s.Tags, ", ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatFields renders a field map as stable "key: value" lines.
func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + ": " + fields[k] + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// stripFences removes a markdown code fence wrapper if the model added one.
func stripFences(raw string) []byte {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return []byte(strings.TrimSpace(s))
}
