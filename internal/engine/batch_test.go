package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/envoy/internal/clarifier"
	"github.com/MikeSquared-Agency/envoy/internal/conversation"
)

func TestMultiTaskMessageSplitsIntoBatch(t *testing.T) {
	ctx := context.Background()
	mat := &fakeMaterializer{}
	eng, store := newTestEngine(&fakeOracle{}, mat)

	reply, err := eng.HandleMessage(ctx, "u1", "c1", "Fix bug for John, also update docs for Sarah")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(reply.Text, "1.") || !strings.Contains(reply.Text, "2.") {
		t.Fatalf("combined preview missing numbered items: %q", reply.Text)
	}

	b, err := store.GetBatch(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b == nil {
		t.Fatal("no batch session after multi-task message")
	}
	if len(b.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(b.Items))
	}
	if !b.AwaitingConfirm {
		t.Error("batch should await confirmation when nothing needs asking")
	}
	// Sub-conversations must never be live in the conversation store.
	if _, err := store.GetActive(ctx, "u1"); err == nil {
		t.Error("batch items leaked into the active conversation slot")
	}
}

func TestBatchPerItemConfirmAndCancel(t *testing.T) {
	ctx := context.Background()
	mat := &fakeMaterializer{}
	eng, store := newTestEngine(&fakeOracle{}, mat)

	if _, err := eng.HandleMessage(ctx, "u1", "c1", "Fix bug for John, also update docs for Sarah"); err != nil {
		t.Fatalf("start batch: %v", err)
	}

	reply, err := eng.HandleMessage(ctx, "u1", "c1", "1 yes 2 no")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(reply.Text, "Created: 1") {
		t.Errorf("reply = %q, want created report for item 1", reply.Text)
	}
	if !strings.Contains(reply.Text, "Cancelled: 2") {
		t.Errorf("reply = %q, want cancelled report for item 2", reply.Text)
	}
	if len(mat.created) != 1 {
		t.Errorf("tasks created = %d, want 1", len(mat.created))
	}
	if len(reply.Created) != 1 || reply.Created[0].Requester != "u1" {
		t.Errorf("expected one created task record, got %+v", reply.Created)
	}

	b, err := store.GetBatch(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b != nil {
		t.Error("batch should be destroyed once every item is terminal")
	}
}

func TestAdvanceRoutesOpenBatch(t *testing.T) {
	ctx := context.Background()
	mat := &fakeMaterializer{}
	eng, store := newTestEngine(&fakeOracle{}, mat)

	if _, err := eng.HandleMessage(ctx, "u1", "c1", "Fix bug for John, also update docs for Sarah"); err != nil {
		t.Fatalf("start batch: %v", err)
	}

	reply, conv, err := eng.Advance(ctx, "u1", "yes")
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if conv != nil {
		t.Errorf("batch turns return no single conversation, got %+v", conv)
	}
	if !strings.Contains(reply.Text, "Created: 1, 2") {
		t.Errorf("reply = %q, want both items created", reply.Text)
	}
	if len(mat.created) != 2 {
		t.Errorf("tasks created = %d, want 2", len(mat.created))
	}
	if b, _ := store.GetBatch(ctx, "u1"); b != nil {
		t.Error("batch should be destroyed once every item is terminal")
	}
}

func TestBatchBroadcastYesCreatesAll(t *testing.T) {
	ctx := context.Background()
	mat := &fakeMaterializer{}
	eng, store := newTestEngine(&fakeOracle{}, mat)

	if _, err := eng.HandleMessage(ctx, "u1", "c1", "Fix bug for John, also update docs for Sarah"); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	if _, err := eng.HandleMessage(ctx, "u1", "c1", "yes"); err != nil {
		t.Fatalf("broadcast confirm: %v", err)
	}
	if len(mat.created) != 2 {
		t.Errorf("tasks created = %d, want 2", len(mat.created))
	}
	if b, _ := store.GetBatch(ctx, "u1"); b != nil {
		t.Error("batch should be gone after broadcast yes")
	}
}

func TestBatchUnaddressedItemsStayPending(t *testing.T) {
	ctx := context.Background()
	mat := &fakeMaterializer{}
	eng, store := newTestEngine(&fakeOracle{}, mat)

	if _, err := eng.HandleMessage(ctx, "u1", "c1", "Fix bug for John, also update docs for Sarah"); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	reply, err := eng.HandleMessage(ctx, "u1", "c1", "1 yes")
	if err != nil {
		t.Fatalf("partial confirm: %v", err)
	}
	if !strings.Contains(reply.Text, "Remaining") {
		t.Errorf("reply = %q, want remaining items re-presented", reply.Text)
	}

	b, err := store.GetBatch(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b == nil {
		t.Fatal("batch with a pending item must survive")
	}
	if len(b.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(b.Items))
	}
	// Remaining item renumbered from 1.
	if b.Items[0].Index != 1 {
		t.Errorf("remaining item index = %d, want 1", b.Items[0].Index)
	}
}

func TestBatchConsolidatedQuestionsThenConfirm(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{
		analyzeFn: func(dc clarifier.DraftContext) (*clarifier.Analysis, error) {
			return &clarifier.Analysis{
				ShouldAsk: true,
				Questions: []clarifier.ProposedQuestion{{Text: "Who should do this?", Field: "assignee"}},
			}, nil
		},
	}
	mat := &fakeMaterializer{}
	eng, store := newTestEngine(oracle, mat)

	reply, err := eng.HandleMessage(ctx, "u1", "c1", "Fix the build, also clean the backlog")
	if err != nil {
		t.Fatalf("start batch: %v", err)
	}
	if !strings.Contains(reply.Text, "1.") || !strings.Contains(reply.Text, "2.") {
		t.Fatalf("consolidated question list missing numbers: %q", reply.Text)
	}

	b, _ := store.GetBatch(ctx, "u1")
	if b == nil || !b.AwaitingAnswers {
		t.Fatal("batch should await answers")
	}

	reply, err = eng.HandleMessage(ctx, "u1", "c1", "1 John 2 Sarah")
	if err != nil {
		t.Fatalf("answers: %v", err)
	}

	b, _ = store.GetBatch(ctx, "u1")
	if b == nil || !b.AwaitingConfirm {
		t.Fatal("batch should move to confirmation once all answers arrive")
	}
	if got := b.Items[0].Conv.Extracted["assignee"]; got != "John" {
		t.Errorf("item 1 assignee = %q, want John", got)
	}
	if got := b.Items[1].Conv.Extracted["assignee"]; got != "Sarah" {
		t.Errorf("item 2 assignee = %q, want Sarah", got)
	}
	if !strings.Contains(reply.Text, "yes") {
		t.Errorf("confirmation instructions missing: %q", reply.Text)
	}
}

func TestBatchInlineEditAppliesCorrection(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{
		correctFn: func(current *conversation.TaskSpec, text string) (*conversation.TaskSpec, error) {
			return &conversation.TaskSpec{Priority: "high"}, nil
		},
	}
	mat := &fakeMaterializer{}
	eng, store := newTestEngine(oracle, mat)

	if _, err := eng.HandleMessage(ctx, "u1", "c1", "Fix bug for John, also update docs for Sarah"); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	if _, err := eng.HandleMessage(ctx, "u1", "c1", "1 yes 2 edit make it high priority"); err != nil {
		t.Fatalf("confirm with edit: %v", err)
	}

	b, err := store.GetBatch(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b == nil || len(b.Items) != 1 {
		t.Fatal("edited item should remain in the batch")
	}
	if b.Items[0].Conv.Spec.Priority != "high" {
		t.Errorf("priority = %q, want high", b.Items[0].Conv.Spec.Priority)
	}
	if len(mat.created) != 1 {
		t.Errorf("tasks created = %d, want 1", len(mat.created))
	}
}

func TestCancelDestroysBatch(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(&fakeOracle{}, &fakeMaterializer{})

	if _, err := eng.HandleMessage(ctx, "u1", "c1", "Fix bug for John, also update docs for Sarah"); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	reply, err := eng.HandleMessage(ctx, "u1", "c1", "cancel")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(reply.Text, "2") {
		t.Errorf("reply = %q, want count of cancelled tasks", reply.Text)
	}
	if b, _ := store.GetBatch(ctx, "u1"); b != nil {
		t.Error("batch survived cancel")
	}
}
