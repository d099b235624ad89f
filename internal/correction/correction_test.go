package correction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOracle struct {
	patch *conversation.TaskSpec
	err   error
	seen  string
}

func (f *fakeOracle) ApplyCorrection(ctx context.Context, current *conversation.TaskSpec, correction string) (*conversation.TaskSpec, error) {
	f.seen = correction
	return f.patch, f.err
}

func baseSpec() *conversation.TaskSpec {
	return &conversation.TaskSpec{
		Title:       "Fix login bug",
		Assignee:    "John",
		Priority:    "medium",
		Deadline:    "2026-09-05",
		Description: "Users cannot log in with SSO",
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Intent
	}{
		{"no, assign it to Sarah", IntentReplace},
		{"change the deadline to Friday", IntentReplace},
		{"make it high priority", IntentReplace},
		{"add a tag for auth", IntentAdditive},
		{"also include the mobile flow", IntentAdditive},
		{"hmm what about the backend", IntentUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.text); got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}

func TestStripLead(t *testing.T) {
	if got := StripLead("no, assign it to Sarah"); got != "assign it to Sarah" {
		t.Errorf("unexpected strip: %q", got)
	}
	if got := StripLead("add a tag"); got != "add a tag" {
		t.Errorf("meaningful prefixes must be kept: %q", got)
	}
}

func TestApplyAdditiveMerge(t *testing.T) {
	oracle := &fakeOracle{patch: &conversation.TaskSpec{Priority: "high"}}
	e := New(oracle, discardLogger())

	before := baseSpec()
	merged, structured := e.Apply(context.Background(), before, "make it high priority")
	if !structured {
		t.Fatal("expected structured patch")
	}
	if merged.Priority != "high" {
		t.Errorf("expected priority high, got %q", merged.Priority)
	}
	// Fields the correction did not address stay byte-identical.
	if merged.Title != before.Title || merged.Assignee != before.Assignee ||
		merged.Deadline != before.Deadline || merged.Description != before.Description {
		t.Errorf("correction must not disturb other fields: %+v", merged)
	}
}

func TestApplyStripsRejectionLead(t *testing.T) {
	oracle := &fakeOracle{patch: &conversation.TaskSpec{Assignee: "Sarah"}}
	e := New(oracle, discardLogger())

	e.Apply(context.Background(), baseSpec(), "no, assign it to Sarah")
	if oracle.seen != "assign it to Sarah" {
		t.Errorf("oracle must see the stripped correction, got %q", oracle.seen)
	}
}

func TestApplyOracleFailureDegrades(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("oracle down")}
	e := New(oracle, discardLogger())

	merged, structured := e.Apply(context.Background(), baseSpec(), "the deadline should be flexible")
	if structured {
		t.Fatal("expected degraded result")
	}
	if !strings.Contains(merged.Description, "the deadline should be flexible") {
		t.Errorf("raw correction must be preserved in description: %q", merged.Description)
	}
	if !strings.Contains(merged.Description, "Users cannot log in") {
		t.Errorf("existing description must be kept: %q", merged.Description)
	}
	if merged.Title != "Fix login bug" {
		t.Error("other fields must be untouched on degrade")
	}
}

func TestApplyEmptyPatchDegrades(t *testing.T) {
	oracle := &fakeOracle{patch: &conversation.TaskSpec{}}
	e := New(oracle, discardLogger())

	merged, structured := e.Apply(context.Background(), baseSpec(), "hmm")
	if structured {
		t.Fatal("empty patch must degrade")
	}
	if !strings.Contains(merged.Description, "hmm") {
		t.Errorf("text must be preserved: %q", merged.Description)
	}
}

func TestAppendToDescriptionEmpty(t *testing.T) {
	out := AppendToDescription(&conversation.TaskSpec{Title: "t"}, "  extra context  ")
	if out.Description != "extra context" {
		t.Errorf("unexpected description: %q", out.Description)
	}
}
