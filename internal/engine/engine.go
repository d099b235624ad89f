// Package engine is envoy's orchestration core: it owns one conversation's
// lifecycle from raw message to confirmed task, dispatching on the
// conversation stage and serializing all turns per user key.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/envoy/internal/clarifier"
	"github.com/MikeSquared-Agency/envoy/internal/confidence"
	"github.com/MikeSquared-Agency/envoy/internal/conversation"
	"github.com/MikeSquared-Agency/envoy/internal/correction"
	"github.com/MikeSquared-Agency/envoy/internal/prefs"
	"github.com/MikeSquared-Agency/envoy/internal/session"
)

const (
	maxQuestions        = 3
	maxBatchQuestions   = 2 // per sub-task
	apologyReply        = "Sorry, I hit a snag processing that. Your progress is saved, please try again."
	noActiveReply       = "There's no task in progress. Describe the work you want done and I'll draft it."
	previewInstructions = "Reply *yes* to create the task, *no* to cancel, or describe any changes."
)

// Oracle is the clarifier capability the engine consumes.
type Oracle interface {
	Analyze(ctx context.Context, dc clarifier.DraftContext) (*clarifier.Analysis, error)
	ApplyAnswer(ctx context.Context, conv *conversation.Conversation, q conversation.Question, answer string) (map[string]string, error)
	GenerateSpec(ctx context.Context, conv *conversation.Conversation, p *prefs.Preferences) (string, *conversation.TaskSpec, error)
	ApplyCorrection(ctx context.Context, current *conversation.TaskSpec, correctionText string) (*conversation.TaskSpec, error)
}

// Materializer turns a confirmed conversation into a task record. Must be
// idempotent per conversation id.
type Materializer interface {
	CreateTask(ctx context.Context, conv *conversation.Conversation) (uuid.UUID, error)
}

// Notification is a side effect for the caller to execute: deliver text to
// a user other than the requester. The engine never talks to a chat
// platform itself.
type Notification struct {
	UserID string
	Text   string
}

// CreatedTask records a task materialized during a turn, for callers that
// mirror announcements onto chat surfaces.
type CreatedTask struct {
	Spec      *conversation.TaskSpec
	Requester string
	Origin    string // the original request text
}

// Reply is the outcome of one turn.
type Reply struct {
	Text    string
	Notify  []Notification
	Created []CreatedTask
}

type Engine struct {
	store        session.Store
	oracle       Oracle
	materializer Materializer
	prefs        *prefs.Preferences
	corrections  *correction.Engine
	locks        *session.UserLocks
	logger       *slog.Logger
}

func New(store session.Store, oracle Oracle, materializer Materializer, p *prefs.Preferences, logger *slog.Logger) *Engine {
	return &Engine{
		store:        store,
		oracle:       oracle,
		materializer: materializer,
		prefs:        p,
		corrections:  correction.New(oracle, logger),
		locks:        session.NewUserLocks(),
		logger:       logger,
	}
}

// HandleMessage processes one inbound chat message, serialized per user.
func (e *Engine) HandleMessage(ctx context.Context, userID, channelID, text string) (Reply, error) {
	e.locks.Lock(userID)
	defer e.locks.Unlock(userID)
	return e.handleLocked(ctx, userID, channelID, text)
}

func (e *Engine) handleLocked(ctx context.Context, userID, channelID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{Text: noActiveReply}, nil
	}

	if isCancel(text) {
		return e.cancelEverything(ctx, userID)
	}

	// An open batch session claims every reply for its user.
	b, err := e.store.GetBatch(ctx, userID)
	if err != nil {
		e.logger.Error("batch lookup failed", "user", userID, "error", err)
		return Reply{Text: apologyReply}, err
	}
	if b != nil {
		return e.handleBatchReply(ctx, b, text)
	}

	if isStartCommand(text) {
		reply, _, err := e.Start(ctx, userID, channelID, text)
		return reply, err
	}

	conv, err := e.store.GetActive(ctx, userID)
	if errors.Is(err, session.ErrNoActive) {
		reply, _, err := e.Start(ctx, userID, channelID, text)
		return reply, err
	}
	if err != nil {
		e.logger.Error("active lookup failed", "user", userID, "error", err)
		return Reply{Text: apologyReply}, err
	}
	return e.advanceConversation(ctx, conv, text)
}

// Start begins a new conversation from raw text, superseding any active one
// for the user: at most one conversation per user is ever non-terminal.
func (e *Engine) Start(ctx context.Context, userID, channelID, text string) (Reply, *conversation.Conversation, error) {
	if err := e.store.ClearActive(ctx, userID); err != nil {
		e.logger.Error("failed to supersede prior conversation", "user", userID, "error", err)
		return Reply{Text: apologyReply}, nil, err
	}
	if err := e.store.DeleteBatch(ctx, userID); err != nil {
		e.logger.Warn("failed to clear prior batch", "user", userID, "error", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{Text: noActiveReply}, nil, nil
	}

	if segments := splitSegments(text); len(segments) >= 2 {
		reply, err := e.startBatch(ctx, userID, channelID, segments)
		return reply, nil, err
	}

	conv := conversation.New(userID, channelID, text)
	e.prefill(conv, text)
	conv.Stage = conversation.StageAnalyzing
	if err := e.store.Create(ctx, conv); err != nil {
		e.logger.Error("failed to create conversation", "user", userID, "error", err)
		return Reply{Text: apologyReply}, nil, err
	}

	reply, err := e.analyzeAndProceed(ctx, conv)
	return reply, conv, err
}

// Advance resumes what the user already has in progress with new text,
// serialized per user like HandleMessage. An open batch session claims the
// reply. When nothing is in progress the returned conversation is nil and
// the reply is guidance, not an error; unlike HandleMessage, Advance never
// starts a new conversation.
func (e *Engine) Advance(ctx context.Context, userID, text string) (Reply, *conversation.Conversation, error) {
	e.locks.Lock(userID)
	defer e.locks.Unlock(userID)

	b, err := e.store.GetBatch(ctx, userID)
	if err != nil {
		e.logger.Error("batch lookup failed", "user", userID, "error", err)
		return Reply{Text: apologyReply}, nil, err
	}
	if b != nil {
		reply, err := e.handleBatchReply(ctx, b, strings.TrimSpace(text))
		return reply, nil, err
	}

	conv, err := e.store.GetActive(ctx, userID)
	if errors.Is(err, session.ErrNoActive) {
		return Reply{Text: noActiveReply}, nil, nil
	}
	if err != nil {
		return Reply{Text: apologyReply}, nil, err
	}
	reply, err := e.advanceConversation(ctx, conv, strings.TrimSpace(text))
	return reply, conv, err
}

// prefill seeds extracted fields from preference trigger phrases before the
// oracle sees the draft.
func (e *Engine) prefill(conv *conversation.Conversation, text string) {
	for field, value := range e.prefs.MatchTriggers(text) {
		conv.SetExtracted(field, value)
	}
}

// analyzeAndProceed runs the oracle's analysis on a fresh conversation and
// either asks the first clarifying question or generates the preview.
func (e *Engine) analyzeAndProceed(ctx context.Context, conv *conversation.Conversation) (Reply, error) {
	analysis, err := e.oracle.Analyze(ctx, clarifier.DraftContext{
		Text:       conv.OriginalMessage,
		Extracted:  conv.Extracted,
		KnownNames: e.prefs.KnownNames(),
	})
	if err != nil {
		e.logger.Warn("oracle analysis failed, using local fallback", "conversation_id", conv.ID, "error", err)
		analysis = e.fallbackAnalysis(conv)
	}

	if analysis.ShouldAsk && len(analysis.Questions) > 0 {
		conv.Stage = conversation.StageClarifying
		for i, q := range analysis.Questions {
			if i >= maxQuestions {
				break
			}
			conv.Questions = append(conv.Questions, conversation.Question{
				Text:    q.Text,
				Options: q.Options,
				Field:   q.Field,
			})
		}
		conv.Stage = conversation.StageAwaitingAnswer
		conv.Touch(time.Now().UTC())
		if err := e.store.Save(ctx, conv); err != nil {
			return Reply{Text: apologyReply}, err
		}
		q, _ := conv.FirstUnresolved()
		return Reply{Text: renderQuestion(q)}, nil
	}

	return e.generatePreview(ctx, conv)
}

// fallbackAnalysis is the oracle-down path: heuristic confidence over what
// little is extracted. It always asks rather than guessing.
func (e *Engine) fallbackAnalysis(conv *conversation.Conversation) *clarifier.Analysis {
	analysis := &clarifier.Analysis{Confidence: map[string]float64{}}

	_, known := e.prefs.ResolveMember(conv.Extracted["assignee"])
	assigneeScore := confidence.Assignee(conv.Extracted["assignee"], known)
	titleScore := confidence.Title(conv.Extracted["title"])
	analysis.Confidence["assignee"] = assigneeScore
	analysis.Confidence["title"] = titleScore
	analysis.Confidence["priority"] = confidence.Priority(conv.Extracted["priority"])
	analysis.Confidence["deadline"] = confidence.Deadline(conv.Extracted["deadline"])
	analysis.Confidence["overall"] = confidence.Combine(
		titleScore, assigneeScore,
		analysis.Confidence["priority"], analysis.Confidence["deadline"],
	)

	if confidence.NeedsQuestion(titleScore) {
		analysis.Questions = append(analysis.Questions, clarifier.ProposedQuestion{
			Text:  "What should the task be called?",
			Field: "title",
		})
	}
	if confidence.NeedsQuestion(assigneeScore) {
		analysis.Questions = append(analysis.Questions, clarifier.ProposedQuestion{
			Text:    "Who should this be assigned to?",
			Options: e.prefs.KnownNames(),
			Field:   "assignee",
		})
	}
	analysis.ShouldAsk = len(analysis.Questions) > 0
	return analysis
}

// generatePreview runs spec generation and moves the conversation to
// PREVIEW. On failure the stage is left untouched so the user can retry
// without losing progress.
func (e *Engine) generatePreview(ctx context.Context, conv *conversation.Conversation) (Reply, error) {
	before := conv.Stage
	conv.Stage = conversation.StageGenerating

	preview, spec, err := e.oracle.GenerateSpec(ctx, conv, e.prefs)
	if err != nil {
		e.logger.Error("spec generation failed", "conversation_id", conv.ID, "error", err)
		conv.Stage = before
		conv.SetExtracted("last_error", "generation failed")
		conv.Touch(time.Now().UTC())
		if saveErr := e.store.Save(ctx, conv); saveErr != nil {
			e.logger.Error("failed to persist pre-fault state", "conversation_id", conv.ID, "error", saveErr)
		}
		return Reply{Text: apologyReply}, nil
	}

	conv.Spec = spec
	conv.Stage = conversation.StagePreview
	conv.Touch(time.Now().UTC())
	if err := e.store.Save(ctx, conv); err != nil {
		return Reply{Text: apologyReply}, err
	}
	return Reply{Text: preview + "\n\n" + previewInstructions}, nil
}

// defaultSpec synthesizes a draft locally, with no oracle involved. Used
// when generation must not fail: forced finalization and batch fallbacks.
func (e *Engine) defaultSpec(conv *conversation.Conversation) *conversation.TaskSpec {
	title := conv.Extracted["title"]
	if title == "" {
		title = truncate(conv.OriginalMessage, 80)
	}
	priority := conv.Extracted["priority"]
	if priority == "" {
		priority = e.prefs.Default("priority")
	}
	return &conversation.TaskSpec{
		Title:           title,
		Assignee:        conv.Extracted["assignee"],
		Priority:        priority,
		Deadline:        conv.Extracted["deadline"],
		Description:     conv.OriginalMessage,
		EstimatedEffort: e.prefs.Default("estimated_effort"),
	}
}

// advanceConversation dispatches one turn on the conversation's stage.
func (e *Engine) advanceConversation(ctx context.Context, conv *conversation.Conversation, text string) (Reply, error) {
	switch conv.Stage {
	case conversation.StageAwaitingAnswer:
		return e.handleAnswer(ctx, conv, text)

	case conversation.StagePreview:
		return e.handlePreviewReply(ctx, conv, text)

	case conversation.StageConfirmed:
		// A confirmation that never finished materializing: retry.
		return e.confirm(ctx, conv)

	case conversation.StageInitial, conversation.StageAnalyzing, conversation.StageClarifying, conversation.StageGenerating:
		// Mid-transition stage persisted by a crash. Fail closed: resume
		// from what is known rather than trusting a half-built draft.
		if _, pending := conv.FirstUnresolved(); pending {
			conv.Stage = conversation.StageAwaitingAnswer
			return e.handleAnswer(ctx, conv, text)
		}
		return e.generatePreview(ctx, conv)

	case conversation.StageCompleted, conversation.StageAbandoned, conversation.StageError:
		// Terminal conversations are never returned by GetActive; reaching
		// here means the caller bypassed it.
		return Reply{Text: noActiveReply}, nil

	default:
		e.logger.Error("conversation in unknown stage", "conversation_id", conv.ID, "stage", string(conv.Stage))
		return Reply{Text: apologyReply}, fmt.Errorf("unknown stage %q", conv.Stage)
	}
}

// handleAnswer resolves the earliest unresolved question with the reply,
// strictly FIFO, then either asks the next question or generates.
func (e *Engine) handleAnswer(ctx context.Context, conv *conversation.Conversation, text string) (Reply, error) {
	if isSkip(text) {
		conv.SkipRemaining()
		return e.generatePreview(ctx, conv)
	}

	q, ok := conv.FirstUnresolved()
	if !ok {
		return e.generatePreview(ctx, conv)
	}

	fields, err := e.oracle.ApplyAnswer(ctx, conv, *q, text)
	if err != nil {
		// Never discard the answer: bind it to the question's field raw.
		e.logger.Warn("answer extraction failed, storing raw", "conversation_id", conv.ID, "error", err)
		if q.Field != "" {
			conv.SetExtracted(q.Field, text)
		}
	} else {
		for field, value := range fields {
			conv.SetExtracted(field, value)
		}
	}
	answer := text
	q.Answer = &answer
	conv.Touch(time.Now().UTC())

	if next, pending := conv.FirstUnresolved(); pending {
		if err := e.store.Save(ctx, conv); err != nil {
			return Reply{Text: apologyReply}, err
		}
		return Reply{Text: renderQuestion(next)}, nil
	}
	return e.generatePreview(ctx, conv)
}

// handlePreviewReply dispatches a reply to a previewed draft: confirm,
// cancel, or treat as a correction.
func (e *Engine) handlePreviewReply(ctx context.Context, conv *conversation.Conversation, text string) (Reply, error) {
	switch {
	case isYes(text):
		conv.Stage = conversation.StageConfirmed
		conv.Touch(time.Now().UTC())
		if err := e.store.Save(ctx, conv); err != nil {
			return Reply{Text: apologyReply}, err
		}
		return e.confirm(ctx, conv)

	case isNo(text):
		return e.abandon(ctx, conv, "Okay, no task created.")

	default:
		if conv.Spec == nil {
			// Fail closed: a preview without a spec restarts generation.
			return e.generatePreview(ctx, conv)
		}
		patched, structured := e.corrections.Apply(ctx, conv.Spec, text)
		conv.Spec = patched
		conv.Touch(time.Now().UTC())
		if err := e.store.Save(ctx, conv); err != nil {
			return Reply{Text: apologyReply}, err
		}
		lead := "Updated draft:\n"
		if !structured {
			lead = "I couldn't map that to a specific field, so I kept it in the description.\n"
		}
		return Reply{Text: lead + clarifier.RenderPreview(conv.Spec) + "\n\n" + previewInstructions}, nil
	}
}

// confirm materializes a confirmed conversation, idempotently.
func (e *Engine) confirm(ctx context.Context, conv *conversation.Conversation) (Reply, error) {
	if conv.Spec == nil {
		return e.generatePreview(ctx, conv)
	}

	if conv.TaskID == uuid.Nil {
		taskID, err := e.materializer.CreateTask(ctx, conv)
		if err != nil {
			// Stay CONFIRMED so a retried "yes" can finish the job.
			e.logger.Error("materialization failed", "conversation_id", conv.ID, "error", err)
			if saveErr := e.store.Save(ctx, conv); saveErr != nil {
				e.logger.Error("failed to persist confirmed state", "conversation_id", conv.ID, "error", saveErr)
			}
			return Reply{Text: apologyReply}, nil
		}
		conv.TaskID = taskID
	}

	now := time.Now().UTC()
	conv.Stage = conversation.StageCompleted
	conv.CompletedAt = now
	conv.Touch(now)
	if err := e.store.Save(ctx, conv); err != nil {
		return Reply{Text: apologyReply}, err
	}

	reply := Reply{Text: fmt.Sprintf("Task created: %s", conv.Spec.Title)}
	reply.Notify = e.assigneeNotification(conv)
	reply.Created = []CreatedTask{{
		Spec:      conv.Spec,
		Requester: conv.UserID,
		Origin:    conv.OriginalMessage,
	}}
	return reply, nil
}

// assigneeNotification builds the side effect informing the assignee, when
// the directory can resolve them to a deliverable id.
func (e *Engine) assigneeNotification(conv *conversation.Conversation) []Notification {
	if conv.Spec == nil || conv.Spec.Assignee == "" {
		return nil
	}
	member, ok := e.prefs.ResolveMember(conv.Spec.Assignee)
	if !ok || member.SlackID == "" {
		return nil
	}
	return []Notification{{
		UserID: member.SlackID,
		Text:   fmt.Sprintf("New task for you: %s (priority %s)", conv.Spec.Title, conv.Spec.Priority),
	}}
}

func (e *Engine) abandon(ctx context.Context, conv *conversation.Conversation, replyText string) (Reply, error) {
	conv.Stage = conversation.StageAbandoned
	conv.Touch(time.Now().UTC())
	if err := e.store.Save(ctx, conv); err != nil {
		return Reply{Text: apologyReply}, err
	}
	return Reply{Text: replyText}, nil
}

// cancelEverything handles an explicit cancel: batch first, then the
// active conversation.
func (e *Engine) cancelEverything(ctx context.Context, userID string) (Reply, error) {
	b, err := e.store.GetBatch(ctx, userID)
	if err == nil && b != nil {
		if err := e.store.DeleteBatch(ctx, userID); err != nil {
			return Reply{Text: apologyReply}, err
		}
		return Reply{Text: fmt.Sprintf("Cancelled %d pending tasks.", len(b.Items))}, nil
	}

	conv, err := e.store.GetActive(ctx, userID)
	if errors.Is(err, session.ErrNoActive) {
		return Reply{Text: "Nothing to cancel."}, nil
	}
	if err != nil {
		return Reply{Text: apologyReply}, err
	}
	return e.abandon(ctx, conv, "Okay, cancelled.")
}

func renderQuestion(q *conversation.Question) string {
	if len(q.Options) == 0 {
		return q.Text
	}
	return q.Text + " (" + strings.Join(q.Options, " / ") + ")"
}

// truncate shortens s to at most n runes, never splitting a multi-byte
// sequence, and appends an ellipsis when anything was cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
