// Package correction interprets a requester's rejection or edit of a
// previewed draft as a patch request. The oracle does the actual field
// extraction; the lexical classifier here is advisory and the merge is
// always additive: a correction can only touch fields it explicitly
// addresses.
package correction

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

// Intent is the lexical shape of a correction, used for logging and prefix
// stripping only. The oracle's patch is authoritative either way.
type Intent string

const (
	IntentReplace  Intent = "replace"
	IntentAdditive Intent = "additive"
	IntentUnknown  Intent = "unknown"
)

var (
	replacePrefixes  = []string{"no ", "no,", "edit ", "change ", "make it ", "set "}
	additivePrefixes = []string{"add ", "also ", "and ", "include "}
)

// Classify inspects the reply's lexical shape.
func Classify(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range replacePrefixes {
		if strings.HasPrefix(lower, p) {
			return IntentReplace
		}
	}
	for _, p := range additivePrefixes {
		if strings.HasPrefix(lower, p) {
			return IntentAdditive
		}
	}
	return IntentUnknown
}

// StripLead removes a leading rejection token ("no", "no,") so the oracle
// sees the substance of the correction. Other prefixes carry meaning
// ("add", "change") and are kept.
func StripLead(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, p := range []string{"no, ", "no. ", "no "} {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(trimmed[len(p):])
		}
	}
	return trimmed
}

// Oracle is the slice of the clarifier the engine depends on.
type Oracle interface {
	ApplyCorrection(ctx context.Context, current *conversation.TaskSpec, correction string) (*conversation.TaskSpec, error)
}

type Engine struct {
	oracle Oracle
	logger *slog.Logger
}

func New(oracle Oracle, logger *slog.Logger) *Engine {
	return &Engine{oracle: oracle, logger: logger}
}

// Apply folds a free-text correction into the current draft and returns the
// patched spec. The returned bool reports whether a structured patch was
// obtained; when the oracle fails or returns garbage the raw correction text
// is appended to the description instead, so user intent is never dropped.
func (e *Engine) Apply(ctx context.Context, current *conversation.TaskSpec, text string) (*conversation.TaskSpec, bool) {
	intent := Classify(text)
	substance := StripLead(text)
	e.logger.Info("applying correction", "intent", string(intent), "text", substance)

	patch, err := e.oracle.ApplyCorrection(ctx, current, substance)
	if err != nil || patch == nil {
		if err != nil {
			e.logger.Warn("correction extraction failed, degrading to description append", "error", err)
		}
		return AppendToDescription(current, text), false
	}

	if emptyPatch(patch) {
		// The oracle recognised nothing; keep the text anyway.
		return AppendToDescription(current, text), false
	}
	return conversation.MergeSpec(current, patch), true
}

// AppendToDescription preserves a correction the oracle could not structure
// by appending it to the draft's free-text description.
func AppendToDescription(current *conversation.TaskSpec, text string) *conversation.TaskSpec {
	out := conversation.MergeSpec(current, nil)
	text = strings.TrimSpace(text)
	if out.Description == "" {
		out.Description = text
	} else {
		out.Description = out.Description + "\n" + text
	}
	return out
}

func emptyPatch(p *conversation.TaskSpec) bool {
	return p.Title == "" && p.Assignee == "" && p.Priority == "" && p.Deadline == "" &&
		p.Description == "" && p.EstimatedEffort == "" &&
		len(p.AcceptanceCriteria) == 0 && len(p.Tags) == 0
}
