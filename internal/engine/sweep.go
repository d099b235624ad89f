package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

// SweepOutcome is what one watchdog pass did to one conversation.
type SweepOutcome string

const (
	SweepSkipped   SweepOutcome = "skipped"   // user lock busy, try next pass
	SweepNone      SweepOutcome = "none"      // conversation advanced in the meantime
	SweepReminded  SweepOutcome = "reminded"  // idle nudge sent, once per conversation
	SweepFinalized SweepOutcome = "finalized" // draft forced through to a task
)

// TrySweep applies timeout policy to one user's active conversation. It
// competes with live message handling through the same per-user lock, but
// never waits: a busy user is active by definition and is skipped.
//
// Past remindAfter the requester gets a single nudge. Past finalizeAfter the
// draft is forced through: unanswered questions are skipped, a spec is
// generated (or synthesized locally when the oracle fails), and the task is
// materialized exactly as an explicit confirmation would.
func (e *Engine) TrySweep(ctx context.Context, userID string, now time.Time, remindAfter, finalizeAfter time.Duration) (SweepOutcome, []Notification, error) {
	if !e.locks.TryLock(userID) {
		return SweepSkipped, nil, nil
	}
	defer e.locks.Unlock(userID)

	// Re-read under the lock: the scan snapshot may be stale.
	conv, err := e.store.GetActive(ctx, userID)
	if err != nil {
		return SweepNone, nil, nil
	}
	idle := now.Sub(conv.LastActivity)

	if idle >= finalizeAfter {
		notes, err := e.forceFinalize(ctx, conv)
		if err != nil {
			return SweepNone, nil, err
		}
		return SweepFinalized, notes, nil
	}

	if idle >= remindAfter && !conv.ReminderSent {
		conv.ReminderSent = true
		if err := e.store.Save(ctx, conv); err != nil {
			return SweepNone, nil, err
		}
		note := Notification{
			UserID: userID,
			Text:   "Still there? Your task draft is waiting. Reply to continue, *skip* for defaults, or *cancel* to drop it.",
		}
		return SweepReminded, []Notification{note}, nil
	}

	return SweepNone, nil, nil
}

// forceFinalize pushes an abandoned draft through to a task. Materialization
// reuses the idempotent confirm path, so a conversation can never produce
// two tasks however often it is swept.
func (e *Engine) forceFinalize(ctx context.Context, conv *conversation.Conversation) ([]Notification, error) {
	conv.SkipRemaining()

	if conv.Spec == nil {
		_, spec, err := e.oracle.GenerateSpec(ctx, conv, e.prefs)
		if err != nil {
			e.logger.Warn("finalize generation failed, synthesizing defaults",
				"conversation_id", conv.ID, "error", err)
			spec = e.defaultSpec(conv)
		}
		conv.Spec = spec
	}

	if conv.TaskID == uuid.Nil {
		taskID, err := e.materializer.CreateTask(ctx, conv)
		if err != nil {
			return nil, fmt.Errorf("finalize %s: %w", conv.ID, err)
		}
		conv.TaskID = taskID
	}

	now := time.Now().UTC()
	conv.Stage = conversation.StageCompleted
	conv.CompletedAt = now
	conv.Touch(now)
	if err := e.store.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("finalize %s: %w", conv.ID, err)
	}

	notes := []Notification{{
		UserID: conv.UserID,
		Text:   fmt.Sprintf("You went quiet, so I created the task with what we had: %s", conv.Spec.Title),
	}}
	notes = append(notes, e.assigneeNotification(conv)...)
	return notes, nil
}
