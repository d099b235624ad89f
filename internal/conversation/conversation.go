package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the lifecycle position of a conversation. Every dispatch site
// switches exhaustively over these values; unknown stages are a bug.
type Stage string

const (
	StageInitial        Stage = "initial"
	StageAnalyzing      Stage = "analyzing"
	StageClarifying     Stage = "clarifying"
	StageAwaitingAnswer Stage = "awaiting_answer"
	StageGenerating     Stage = "generating"
	StagePreview        Stage = "preview"
	StageConfirmed      Stage = "confirmed"
	StageCompleted      Stage = "completed"
	StageAbandoned      Stage = "abandoned"
	StageError          Stage = "error"
)

// Terminal reports whether the conversation can no longer advance.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageAbandoned, StageError:
		return true
	}
	return false
}

// Active is the inverse of Terminal for valid stages.
func (s Stage) Active() bool {
	return s.Valid() && !s.Terminal()
}

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	switch s {
	case StageInitial, StageAnalyzing, StageClarifying, StageAwaitingAnswer,
		StageGenerating, StagePreview, StageConfirmed, StageCompleted,
		StageAbandoned, StageError:
		return true
	}
	return false
}

// Question is one clarifying question put to the requester.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Field   string   `json:"field,omitempty"`
	Answer  *string  `json:"answer,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
}

// Resolved reports whether the question no longer blocks generation.
func (q Question) Resolved() bool {
	return q.Answer != nil || q.Skipped
}

// TaskSpec is the structured task draft. An empty string or nil slice means
// the field has not been set; merge logic relies on that.
type TaskSpec struct {
	Title              string   `json:"title"`
	Assignee           string   `json:"assignee"`
	Priority           string   `json:"priority"`
	Deadline           string   `json:"deadline"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	EstimatedEffort    string   `json:"estimated_effort"`
	Tags               []string `json:"tags,omitempty"`
}

// Conversation is one in-flight negotiation toward zero-or-more tasks.
type Conversation struct {
	ID              uuid.UUID         `json:"id"`
	UserID          string            `json:"user_id"`
	ChannelID       string            `json:"channel_id"`
	Stage           Stage             `json:"stage"`
	OriginalMessage string            `json:"original_message"`
	Extracted       map[string]string `json:"extracted,omitempty"`
	Questions       []Question        `json:"questions,omitempty"`
	Spec            *TaskSpec         `json:"spec,omitempty"`
	TaskID          uuid.UUID         `json:"task_id,omitempty"`
	ReminderSent    bool              `json:"reminder_sent,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastActivity    time.Time         `json:"last_activity"`
	CompletedAt     time.Time         `json:"completed_at,omitempty"`
}

// New creates a conversation in the initial stage.
func New(userID, channelID, text string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:              uuid.New(),
		UserID:          userID,
		ChannelID:       channelID,
		Stage:           StageInitial,
		OriginalMessage: text,
		Extracted:       make(map[string]string),
		CreatedAt:       now,
		LastActivity:    now,
	}
}

// Touch advances last_activity. Saves must never move it backwards.
func (c *Conversation) Touch(now time.Time) {
	if now.After(c.LastActivity) {
		c.LastActivity = now
	}
}

// FirstUnresolved returns the earliest question that still needs an answer.
// Answers always resolve questions in FIFO order regardless of content.
func (c *Conversation) FirstUnresolved() (*Question, bool) {
	for i := range c.Questions {
		if !c.Questions[i].Resolved() {
			return &c.Questions[i], true
		}
	}
	return nil, false
}

// AllResolved reports whether no question blocks generation.
func (c *Conversation) AllResolved() bool {
	_, pending := c.FirstUnresolved()
	return !pending
}

// SkipRemaining marks every unresolved question skipped, for explicit
// skip-all / done-now commands.
func (c *Conversation) SkipRemaining() {
	for i := range c.Questions {
		if !c.Questions[i].Resolved() {
			c.Questions[i].Skipped = true
		}
	}
}

// SetExtracted records a field value without silently discarding a prior
// one: earlier values are kept under a suffixed key so the trail survives.
func (c *Conversation) SetExtracted(field, value string) {
	if value == "" {
		return
	}
	if c.Extracted == nil {
		c.Extracted = make(map[string]string)
	}
	if prev, ok := c.Extracted[field]; ok && prev != value {
		c.Extracted[field+"_prev"] = prev
	}
	c.Extracted[field] = value
}

// MergeSpec applies patch on top of base additively: any field the patch
// leaves empty or nil retains the base value. Neither argument is mutated.
// A nil patch returns a copy of base.
func MergeSpec(base, patch *TaskSpec) *TaskSpec {
	if base == nil {
		base = &TaskSpec{}
	}
	merged := *base
	merged.AcceptanceCriteria = append([]string(nil), base.AcceptanceCriteria...)
	merged.Tags = append([]string(nil), base.Tags...)
	if patch == nil {
		return &merged
	}
	if patch.Title != "" {
		merged.Title = patch.Title
	}
	if patch.Assignee != "" {
		merged.Assignee = patch.Assignee
	}
	if patch.Priority != "" {
		merged.Priority = patch.Priority
	}
	if patch.Deadline != "" {
		merged.Deadline = patch.Deadline
	}
	if patch.Description != "" {
		merged.Description = patch.Description
	}
	if patch.EstimatedEffort != "" {
		merged.EstimatedEffort = patch.EstimatedEffort
	}
	if len(patch.AcceptanceCriteria) > 0 {
		merged.AcceptanceCriteria = append([]string(nil), patch.AcceptanceCriteria...)
	}
	if len(patch.Tags) > 0 {
		merged.Tags = append([]string(nil), patch.Tags...)
	}
	return &merged
}
