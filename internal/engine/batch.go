package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/envoy/internal/batch"
	"github.com/MikeSquared-Agency/envoy/internal/clarifier"
	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

const batchConfirmInstructions = "Reply *yes* or *no* for all, or per item: `1 yes 2 no 3 edit`."

// startBatch creates one sub-conversation per detected segment, analyzes
// each, and either asks a consolidated question list or presents a combined
// preview. Sub-conversations live inside the batch payload until they reach
// a terminal outcome; only then are they written to the conversation store,
// preserving the one-active-conversation invariant.
func (e *Engine) startBatch(ctx context.Context, userID, channelID string, segments []string) (Reply, error) {
	convs := make([]*conversation.Conversation, 0, len(segments))
	for _, seg := range segments {
		conv := conversation.New(userID, channelID, seg)
		e.prefill(conv, seg)

		analysis, err := e.oracle.Analyze(ctx, clarifier.DraftContext{
			Text:       seg,
			Extracted:  conv.Extracted,
			KnownNames: e.prefs.KnownNames(),
		})
		if err != nil {
			e.logger.Warn("batch segment analysis failed, using local fallback", "error", err)
			analysis = e.fallbackAnalysis(conv)
		}
		if analysis.ShouldAsk {
			for i, q := range analysis.Questions {
				if i >= maxBatchQuestions {
					break
				}
				conv.Questions = append(conv.Questions, conversation.Question{
					Text:    q.Text,
					Options: q.Options,
					Field:   q.Field,
				})
			}
		}
		conv.Stage = conversation.StageClarifying
		convs = append(convs, conv)
	}

	b := batch.NewSession(userID, channelID, convs)

	if len(b.GlobalQuestions()) > 0 {
		b.AwaitingAnswers = true
		for i := range b.Items {
			b.Items[i].Conv.Stage = conversation.StageAwaitingAnswer
		}
		if err := e.store.SaveBatch(ctx, b); err != nil {
			return Reply{Text: apologyReply}, err
		}
		return Reply{Text: renderBatchQuestions(b)}, nil
	}

	return e.batchToConfirm(ctx, b)
}

// batchToConfirm generates a draft for every item and presents the combined
// preview. Generation never hard-fails here: when the oracle cannot produce
// a spec for an item, a default spec is synthesized from what was extracted.
func (e *Engine) batchToConfirm(ctx context.Context, b *batch.Session) (Reply, error) {
	for i := range b.Items {
		item := &b.Items[i]
		if item.Conv.Spec != nil {
			continue
		}
		item.Conv.Stage = conversation.StageGenerating
		_, spec, err := e.oracle.GenerateSpec(ctx, item.Conv, e.prefs)
		if err != nil {
			e.logger.Warn("batch item generation failed, synthesizing defaults",
				"index", item.Index, "error", err)
			spec = e.defaultSpec(item.Conv)
		}
		item.Conv.Spec = spec
		item.Conv.Stage = conversation.StagePreview
	}

	b.AwaitingAnswers = false
	b.AwaitingConfirm = true
	b.LastActivity = time.Now().UTC()
	if err := e.store.SaveBatch(ctx, b); err != nil {
		return Reply{Text: apologyReply}, err
	}
	return Reply{Text: renderBatchPreview(b)}, nil
}

// handleBatchReply routes a message to the open batch session.
func (e *Engine) handleBatchReply(ctx context.Context, b *batch.Session, text string) (Reply, error) {
	b.LastActivity = time.Now().UTC()

	switch {
	case b.AwaitingAnswers:
		return e.handleBatchAnswers(ctx, b, text)
	case b.AwaitingConfirm:
		return e.handleBatchConfirm(ctx, b, text)
	default:
		// A batch in neither phase is corrupt; drop it rather than trap
		// the user.
		e.logger.Error("batch session in no phase, discarding", "user", b.UserID)
		if err := e.store.DeleteBatch(ctx, b.UserID); err != nil {
			return Reply{Text: apologyReply}, err
		}
		return Reply{Text: noActiveReply}, nil
	}
}

func (e *Engine) handleBatchAnswers(ctx context.Context, b *batch.Session, text string) (Reply, error) {
	if isSkip(text) {
		for i := range b.Items {
			b.Items[i].Conv.SkipRemaining()
		}
		return e.batchToConfirm(ctx, b)
	}

	gqs := b.GlobalQuestions()
	answers := batch.ParseAnswers(text, len(gqs))
	if len(answers) == 0 {
		if err := e.store.SaveBatch(ctx, b); err != nil {
			return Reply{Text: apologyReply}, err
		}
		return Reply{Text: "I couldn't match that to the questions.\n" + renderBatchQuestions(b)}, nil
	}

	for n, answerText := range answers {
		gq := gqs[n-1]
		item, ok := b.Item(gq.ItemIndex)
		if !ok {
			continue
		}
		q := &item.Conv.Questions[gq.QPos]
		fields, err := e.oracle.ApplyAnswer(ctx, item.Conv, *q, answerText)
		if err != nil {
			e.logger.Warn("batch answer extraction failed, storing raw", "error", err)
			if q.Field != "" {
				item.Conv.SetExtracted(q.Field, answerText)
			}
		} else {
			for field, value := range fields {
				item.Conv.SetExtracted(field, value)
			}
		}
		answer := answerText
		q.Answer = &answer
	}

	for i := range b.Items {
		if !b.Items[i].Conv.AllResolved() {
			if err := e.store.SaveBatch(ctx, b); err != nil {
				return Reply{Text: apologyReply}, err
			}
			return Reply{Text: "Thanks. Still need:\n" + renderBatchQuestions(b)}, nil
		}
	}
	return e.batchToConfirm(ctx, b)
}

var leadingIndex = regexp.MustCompile(`^(\d+)[\s:.\-]+(.+)$`)

func (e *Engine) handleBatchConfirm(ctx context.Context, b *batch.Session, text string) (Reply, error) {
	maxIndex := 0
	for _, item := range b.Items {
		if item.Index > maxIndex {
			maxIndex = item.Index
		}
	}

	c := batch.ParseConfirmations(text, maxIndex)
	if c.All != nil {
		for _, item := range b.Items {
			c.PerItem[item.Index] = *c.All
		}
	}

	if !c.Recognized {
		return e.handleBatchCorrection(ctx, b, text)
	}

	var created, cancelled, failed, editing []int
	var notifications []Notification
	var createdTasks []CreatedTask
	var remove []int

	// Materialization follows original index order, not directive order.
	for i := range b.Items {
		item := &b.Items[i]
		d, addressed := c.PerItem[item.Index]
		if !addressed {
			continue
		}
		switch d {
		case batch.DirectiveYes:
			if err := e.materializeBatchItem(ctx, item); err != nil {
				// Partial failure: report, keep for retry.
				e.logger.Error("batch item materialization failed", "index", item.Index, "error", err)
				failed = append(failed, item.Index)
				continue
			}
			created = append(created, item.Index)
			notifications = append(notifications, e.assigneeNotification(item.Conv)...)
			createdTasks = append(createdTasks, CreatedTask{
				Spec:      item.Conv.Spec,
				Requester: b.UserID,
				Origin:    item.Conv.OriginalMessage,
			})
			remove = append(remove, item.Index)

		case batch.DirectiveNo:
			item.Conv.Stage = conversation.StageAbandoned
			item.Conv.Touch(time.Now().UTC())
			if err := e.store.Create(ctx, item.Conv); err != nil {
				e.logger.Warn("failed to record cancelled batch item", "error", err)
			}
			cancelled = append(cancelled, item.Index)
			remove = append(remove, item.Index)

		case batch.DirectiveEdit:
			if edit := c.EditText[item.Index]; edit != "" {
				patched, _ := e.corrections.Apply(ctx, item.Conv.Spec, edit)
				item.Conv.Spec = patched
			}
			editing = append(editing, item.Index)
		}
	}

	for _, idx := range remove {
		b.Remove(idx)
	}

	reply := renderBatchOutcome(created, cancelled, failed, editing, c.Unmatched)

	if b.Empty() {
		if err := e.store.DeleteBatch(ctx, b.UserID); err != nil {
			return Reply{Text: apologyReply}, err
		}
		return Reply{Text: reply, Notify: notifications, Created: createdTasks}, nil
	}

	b.Renumber()
	if err := e.store.SaveBatch(ctx, b); err != nil {
		return Reply{Text: apologyReply}, err
	}
	reply += "\n\nRemaining:\n" + renderBatchPreview(b)
	return Reply{Text: reply, Notify: notifications, Created: createdTasks}, nil
}

// handleBatchCorrection treats a non-directive reply as a free-text change:
// either "<n> <change>" or, with a single item left, the change itself.
func (e *Engine) handleBatchCorrection(ctx context.Context, b *batch.Session, text string) (Reply, error) {
	var item *batch.Item
	change := text

	if m := leadingIndex.FindStringSubmatch(text); m != nil {
		if it, ok := b.Item(atoiSafe(m[1])); ok {
			item = it
			change = m[2]
		}
	}
	if item == nil && len(b.Items) == 1 {
		item = &b.Items[0]
	}
	if item == nil {
		if err := e.store.SaveBatch(ctx, b); err != nil {
			return Reply{Text: apologyReply}, err
		}
		return Reply{Text: batchConfirmInstructions}, nil
	}

	patched, _ := e.corrections.Apply(ctx, item.Conv.Spec, change)
	item.Conv.Spec = patched
	if err := e.store.SaveBatch(ctx, b); err != nil {
		return Reply{Text: apologyReply}, err
	}
	return Reply{Text: fmt.Sprintf("Updated task %d.\n\n%s", item.Index, renderBatchPreview(b))}, nil
}

// materializeBatchItem confirms and materializes one sub-conversation,
// writing its terminal record to the conversation store.
func (e *Engine) materializeBatchItem(ctx context.Context, item *batch.Item) error {
	conv := item.Conv
	if conv.Spec == nil {
		conv.Spec = e.defaultSpec(conv)
	}
	conv.Stage = conversation.StageConfirmed

	if conv.TaskID == uuid.Nil {
		taskID, err := e.materializer.CreateTask(ctx, conv)
		if err != nil {
			return err
		}
		conv.TaskID = taskID
	}

	now := time.Now().UTC()
	conv.Stage = conversation.StageCompleted
	conv.CompletedAt = now
	conv.Touch(now)
	if err := e.store.Create(ctx, conv); err != nil {
		// The task exists; a missing terminal record is only a bookkeeping gap.
		e.logger.Warn("failed to record completed batch item", "conversation_id", conv.ID, "error", err)
	}
	return nil
}

func renderBatchQuestions(b *batch.Session) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("I found %d tasks. A few questions first. Answer like `1 John 2 high`, or one answer per line:\n", len(b.Items)))
	for _, gq := range b.GlobalQuestions() {
		item, _ := b.Item(gq.ItemIndex)
		title := truncate(item.Conv.OriginalMessage, 48)
		sb.WriteString(fmt.Sprintf("%d. [%s] %s", gq.Number, title, gq.Text))
		if len(gq.Options) > 0 {
			sb.WriteString(" (" + strings.Join(gq.Options, " / ") + ")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Or reply *skip* to use defaults.")
	return sb.String()
}

func renderBatchPreview(b *batch.Session) string {
	var sb strings.Builder
	for _, item := range b.Items {
		sb.WriteString(fmt.Sprintf("%d. ", item.Index))
		if item.Conv.Spec != nil {
			sb.WriteString(clarifier.RenderPreview(item.Conv.Spec))
		} else {
			sb.WriteString(item.Conv.OriginalMessage)
		}
		sb.WriteString("\n\n")
	}
	sb.WriteString(batchConfirmInstructions)
	return sb.String()
}

func renderBatchOutcome(created, cancelled, failed, editing, unmatched []int) string {
	var parts []string
	if len(created) > 0 {
		parts = append(parts, fmt.Sprintf("Created: %s", joinInts(created)))
	}
	if len(cancelled) > 0 {
		parts = append(parts, fmt.Sprintf("Cancelled: %s", joinInts(cancelled)))
	}
	if len(failed) > 0 {
		parts = append(parts, fmt.Sprintf("Failed (kept for retry): %s", joinInts(failed)))
	}
	if len(editing) > 0 {
		parts = append(parts, fmt.Sprintf("Awaiting changes: %s", joinInts(editing)))
	}
	if len(unmatched) > 0 {
		parts = append(parts, fmt.Sprintf("Didn't understand the instruction for: %s (still pending)", joinInts(unmatched)))
	}
	if len(parts) == 0 {
		return batchConfirmInstructions
	}
	return strings.Join(parts, "\n")
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
